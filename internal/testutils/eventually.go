package test

import (
	"testing"
	"time"
)

// Defaults for require.Eventually calls in tests.
const (
	WaitDuration = 2 * time.Second
	WaitTick     = 10 * time.Millisecond
)

/*
Receive reads "n" values from "ch", the test fails when they do not arrive
within WaitDuration or the channel is closed before that.
*/
func Receive[T any](t testing.TB, ch <-chan T, n int) []T {
	t.Helper()
	timeout := time.After(WaitDuration)
	res := make([]T, 0, n)
	for len(res) < n {
		select {
		case v, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after receiving %d of %d values", len(res), n)
			}
			res = append(res, v)
		case <-timeout:
			t.Fatalf("received %d of %d values in %s", len(res), n, WaitDuration)
		}
	}
	return res
}

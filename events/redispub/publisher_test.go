package redispub

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/transferout/events"
	test "github.com/alphabill-org/transferout/internal/testutils"
	testlogr "github.com/alphabill-org/transferout/internal/testutils/logger"
)

func TestNew(t *testing.T) {
	t.Run("address not set", func(t *testing.T) {
		p, err := New(context.Background(), Config{})
		require.EqualError(t, err, "redis address is not set")
		require.Nil(t, p)
	})

	t.Run("server not available", func(t *testing.T) {
		srv := miniredis.RunT(t)
		addr := srv.Addr()
		srv.Close()
		p, err := New(context.Background(), Config{Addr: addr})
		require.ErrorContains(t, err, "connecting to redis")
		require.Nil(t, p)
	})

	t.Run("default channel", func(t *testing.T) {
		srv := miniredis.RunT(t)
		p, err := New(context.Background(), Config{Addr: srv.Addr()})
		require.NoError(t, err)
		require.Equal(t, defaultChannel, p.channel)
		require.NoError(t, p.Close())
	})
}

func TestPublisher_PublishSubscribe(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := New(ctx, Config{Addr: srv.Addr(), Channel: "egm.events"})
	require.NoError(t, err)
	defer p.Close()

	var mu sync.Mutex
	var received []events.Event
	require.NoError(t, p.Subscribe(ctx, testlogr.New(t), func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	}))

	traceID := uuid.New()
	sent := []events.Event{
		events.TransferOutStartedEvent{TransactionID: uuid.New(), PendingCashable: 5000},
		events.TransferOutCompletedEvent{Cashable: 5000, TraceID: traceID},
	}
	for _, e := range sent {
		require.NoError(t, p.Publish(ctx, e))
	}
	// garbage is skipped by subscriber
	srv.Publish("egm.events", "garbage")
	require.NoError(t, p.Publish(ctx, events.TransferOutFailedEvent{Cashable: 1, TraceID: traceID}))
	sent = append(sent, events.TransferOutFailedEvent{Cashable: 1, TraceID: traceID})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == len(sent)
	}, test.WaitDuration, test.WaitTick)
	mu.Lock()
	require.Equal(t, sent, received)
	mu.Unlock()
}

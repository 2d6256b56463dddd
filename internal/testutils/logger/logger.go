package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alphabill-org/transferout/logger"
)

/*
New returns logger for test t on debug level.
*/
func New(t testing.TB) *slog.Logger {
	return NewLvl(t, slog.LevelDebug)
}

/*
NewLvl returns logger for test t on level "level".

Output is written using t.Log so it is shown only when the test fails (or
verbose mode is on). Set environment variable TO_TEST_LOG_NO_COLORS=true
to disable colors.
*/
func NewLvl(t testing.TB, level slog.Level) *slog.Logger {
	cfg := &logger.LogConfiguration{
		Level:      level.String(),
		Format:     "console",
		TimeFormat: "15:04:05.0000",
		NoColor:    noColors(),
		Writer:     newTestWriter(t),
	}
	log, err := logger.New(cfg)
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	return log
}

/*
NOP returns logger which discards all output.
*/
func NOP() *slog.Logger {
	log, err := logger.New(&logger.LogConfiguration{OutputPath: "discard"})
	if err != nil {
		panic(err)
	}
	return log
}

/*
LoggerBuilder returns logger factory which ignores the configuration and
builds test logger for t.
*/
func LoggerBuilder(t testing.TB) func(*logger.LogConfiguration) (*slog.Logger, error) {
	return func(*logger.LogConfiguration) (*slog.Logger, error) {
		return New(t), nil
	}
}

func noColors() bool {
	v, err := strconv.ParseBool(os.Getenv("TO_TEST_LOG_NO_COLORS"))
	return err == nil && v
}

/*
testWriter forwards log lines to t.Log. Background goroutines may log after
the test has finished which would cause panic so writes are discarded once
the test is done.
*/
type testWriter struct {
	t    testing.TB
	done atomic.Bool
	mu   sync.Mutex
}

func newTestWriter(t testing.TB) io.Writer {
	w := &testWriter{t: t}
	t.Cleanup(func() { w.done.Store(true) })
	return w
}

func (w *testWriter) Write(p []byte) (int, error) {
	if w.done.Load() {
		return len(p), nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.t.Helper()
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

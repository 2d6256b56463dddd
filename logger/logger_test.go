package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func Test_logLevel(t *testing.T) {
	var testCases = []struct {
		cfg   LogConfiguration
		level slog.Level
	}{
		{cfg: LogConfiguration{}, level: slog.LevelInfo},
		{cfg: LogConfiguration{Level: "unknown"}, level: slog.LevelInfo},
		{cfg: LogConfiguration{Level: "debug"}, level: slog.LevelDebug},
		{cfg: LogConfiguration{Level: "DEBUG"}, level: slog.LevelDebug},
		{cfg: LogConfiguration{Level: "Warn"}, level: slog.LevelWarn},
		{cfg: LogConfiguration{Level: "warning"}, level: slog.LevelWarn},
		{cfg: LogConfiguration{Level: "error"}, level: slog.LevelError},
		{cfg: LogConfiguration{Level: "trace"}, level: LevelTrace},
		{cfg: LogConfiguration{Level: "none"}, level: levelNone},
		{cfg: LogConfiguration{Level: "info+1"}, level: slog.LevelInfo + 1},
		{cfg: LogConfiguration{Level: "debug-2"}, level: slog.LevelDebug - 2},
		// output to nowhere disables logging
		{cfg: LogConfiguration{Level: "debug", OutputPath: "discard"}, level: levelNone},
		{cfg: LogConfiguration{Level: "debug", OutputPath: os.DevNull}, level: levelNone},
		// writer overrides output path
		{cfg: LogConfiguration{Level: "debug", OutputPath: "discard", Writer: &bytes.Buffer{}}, level: slog.LevelDebug},
	}

	for _, tc := range testCases {
		if lvl := tc.cfg.logLevel(); lvl != tc.level {
			t.Errorf("expected %s for %#v, got %s", tc.level, tc.cfg, lvl)
		}
	}
}

func Test_New(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		log, err := New(nil)
		require.NoError(t, err)
		require.NotNil(t, log)
	})

	t.Run("unknown format", func(t *testing.T) {
		log, err := New(&LogConfiguration{Format: "xml"})
		require.EqualError(t, err, `unknown log format "xml"`)
		require.Nil(t, log)
	})

	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log, err := New(&LogConfiguration{Format: "json", Level: "trace", Writer: buf})
		require.NoError(t, err)
		log.Log(context.Background(), LevelTrace, "tracing", Provider("sas"))

		m := map[string]any{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
		require.Equal(t, "TRACE", m[slog.LevelKey])
		require.Equal(t, "tracing", m[slog.MessageKey])
		require.Equal(t, "sas", m[ProviderKey])
	})

	t.Run("ecs", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log, err := New(&LogConfiguration{Format: "ecs", Writer: buf})
		require.NoError(t, err)
		id := uuid.New()
		log.Info("transfer started", TxID(id), Error(fmt.Errorf("oops")))

		m := map[string]any{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
		require.Equal(t, "transfer started", m["message"])
		require.Equal(t, map[string]any{"id": id.String()}, m["transaction"])
		require.Equal(t, map[string]any{"message": "oops"}, m["error"])
		require.Contains(t, m, "log")
	})

	t.Run("text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log, err := New(&LogConfiguration{Format: "text", TimeFormat: "none", Writer: buf})
		require.NoError(t, err)
		log.Debug("not logged")
		log.Info("hello", Data(struct{ A int }{A: 1}))
		require.NotContains(t, buf.String(), "not logged")
		require.NotContains(t, buf.String(), "time=")
		require.Contains(t, buf.String(), `msg=hello`)
		require.Contains(t, buf.String(), `data="{\"A\":1}"`)
	})

	t.Run("console", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log, err := New(&LogConfiguration{Format: "console", Level: "debug", Writer: buf})
		require.NoError(t, err)
		log.Warn("provider failed", Error(fmt.Errorf("timeout")), Provider("sas"))
		out := buf.String()
		require.Contains(t, out, "WRN")
		require.Contains(t, out, "provider failed")
		require.Contains(t, out, "timeout")
		require.Contains(t, out, "provider=sas")
		require.Contains(t, out, "logger/logger_test.go")
	})

	t.Run("log file", func(t *testing.T) {
		fn := filepath.Join(t.TempDir(), "logs", "out.log")
		log, err := New(&LogConfiguration{Format: "json", OutputPath: fn})
		require.NoError(t, err)
		log.Info("to file")
		b, err := os.ReadFile(fn)
		require.NoError(t, err)
		require.Contains(t, string(b), "to file")
	})
}

func Test_consoleFormatCallerLastTwoDirs(t *testing.T) {
	require.Equal(t, "", consoleFormatCallerLastTwoDirs(nil))
	require.Equal(t, "", consoleFormatCallerLastTwoDirs(""))
	require.Equal(t, filepath.Join("transfer", "coordinator.go:42"), consoleFormatCallerLastTwoDirs(filepath.Join("/src", "transfer", "coordinator.go:42")))
}

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/transferout/logger"
)

func Test_ecsOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := logger.New(&logger.LogConfiguration{Writer: buf, Level: "debug", Format: "ecs"})
	require.NoError(t, err)

	type voucher struct {
		Number string
	}
	txID := uuid.New()
	log.Info("voucher printed",
		logger.Error(errors.New("printer paper low")),
		logger.TxID(txID),
		logger.Provider("voucher"),
		logger.Data(&voucher{Number: "0042"}),
	)

	var rec struct {
		Message     string `json:"message"`
		Transaction struct {
			ID string `json:"id"`
		} `json:"transaction"`
		Labels map[string]string `json:"labels"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
		Data map[string]voucher `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec), buf.String())
	require.Equal(t, "voucher printed", rec.Message)
	require.Equal(t, txID.String(), rec.Transaction.ID)
	require.Equal(t, map[string]string{"provider": "voucher"}, rec.Labels)
	require.Equal(t, "printer paper low", rec.Error.Message)
	require.Equal(t, map[string]voucher{"logger_voucher": {Number: "0042"}}, rec.Data)
}

func Test_NOP(t *testing.T) {
	log := NOP()
	require.False(t, log.Enabled(context.Background(), slog.LevelError))
	log.Error("nobody sees this")
}

func Test_LoggerBuilder(t *testing.T) {
	build := LoggerBuilder(t)
	// configuration is ignored
	log, err := build(&logger.LogConfiguration{Format: "unknown"})
	require.NoError(t, err)
	require.True(t, log.Enabled(context.Background(), slog.LevelDebug))
}

func Test_writer_after_test_end(t *testing.T) {
	var w *testWriter
	t.Run("inner", func(t *testing.T) {
		w = newTestWriter(t).(*testWriter)
		n, err := w.Write([]byte("hello\n"))
		require.NoError(t, err)
		require.Equal(t, 6, n)
	})
	// must not panic even though the inner test has completed
	n, err := w.Write([]byte("late message"))
	require.NoError(t, err)
	require.Equal(t, 12, n)
}

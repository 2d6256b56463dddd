package logger

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func Test_chain(t *testing.T) {
	add := func(n int64) attrFormatter {
		return func(groups []string, a slog.Attr) slog.Attr { return slog.Int64(a.Key, a.Value.Int64()*10+n) }
	}

	require.Nil(t, chain())
	require.Nil(t, chain(nil, nil))

	var testCases = []struct {
		fmts []attrFormatter
		exp  int64
	}{
		{fmts: []attrFormatter{add(1)}, exp: 1},
		{fmts: []attrFormatter{nil, add(2), nil}, exp: 2},
		{fmts: []attrFormatter{add(1), add(2)}, exp: 12},
		{fmts: []attrFormatter{add(1), nil, add(2), add(3), add(4)}, exp: 1234},
		// same formatter twice is applied twice
		{fmts: []attrFormatter{add(5), add(5)}, exp: 55},
	}
	for _, tc := range testCases {
		f := chain(tc.fmts...)
		require.NotNil(t, f)
		require.Equal(t, tc.exp, f(nil, slog.Int64("n", 0)).Value.Int64())
	}
}

func Test_formatTimeAttr(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	require.Nil(t, formatTimeAttr(""))

	t.Run("none", func(t *testing.T) {
		f := formatTimeAttr("none")
		require.Equal(t, slog.Attr{}, f(nil, slog.Time(slog.TimeKey, now)))
		require.True(t, f(nil, slog.Time("created", now)).Equal(slog.Time("created", now)))
	})

	t.Run("layout", func(t *testing.T) {
		f := formatTimeAttr("15:04:05.0000")
		require.Equal(t, "07:08:09.1234", f(nil, slog.Time(slog.TimeKey, now)).Value.String())
		// zero time and other keys are not altered
		require.Equal(t, slog.Time(slog.TimeKey, time.Time{}), f(nil, slog.Time(slog.TimeKey, time.Time{})))
		require.True(t, f(nil, slog.Time("created", now)).Equal(slog.Time("created", now)))
		// time key with wrong kind of value
		require.Panics(t, func() { f(nil, slog.Int(slog.TimeKey, 42)) })
	})
}

func Test_formatDataAttrAsJSON(t *testing.T) {
	type event struct {
		Topic string `json:"topic"`
		Total int64  `json:"total"`
	}
	a := formatDataAttrAsJSON(nil, Data(&event{Topic: "TransferOutCompleted", Total: 100000}))
	require.Equal(t, DataKey, a.Key)
	require.Equal(t, `{"topic":"TransferOutCompleted","total":100000}`, a.Value.String())

	// only data attribute of kind Any is converted
	require.Equal(t, int64(5), formatDataAttrAsJSON(nil, slog.Int64(DataKey, 5)).Value.Int64())
	require.Equal(t, "x", formatDataAttrAsJSON(nil, slog.Any("other", "x")).Value.String())
}

func Test_formatAttrECS(t *testing.T) {
	id := uuid.New()
	group := func(a slog.Attr) (string, string, string) {
		t.Helper()
		require.Equal(t, slog.KindGroup, a.Value.Kind())
		g := a.Value.Group()
		require.Len(t, g, 1)
		return a.Key, g[0].Key, g[0].Value.String()
	}

	var testCases = []struct {
		attr     slog.Attr
		set, key string
		value    string
	}{
		{attr: TraceID(id), set: "trace", key: "id", value: id.String()},
		{attr: TxID(id), set: "transaction", key: "id", value: id.String()},
		{attr: Provider("handpay"), set: "labels", key: ProviderKey, value: "handpay"},
		{attr: Error(errors.New("device offline")), set: "error", key: "message", value: "device offline"},
		{attr: Data("voucher printed"), set: DataKey, key: "String", value: "voucher printed"},
	}
	for _, tc := range testCases {
		set, key, value := group(formatAttrECS(nil, tc.attr))
		require.Equal(t, tc.set, set)
		require.Equal(t, tc.key, key)
		require.Equal(t, tc.value, value)
	}

	a := formatAttrECS(nil, slog.String(slog.MessageKey, "transfer completed"))
	require.True(t, a.Equal(slog.String("message", "transfer completed")), a)

	src := &slog.Source{Function: "github.com/alphabill-org/transferout/transfer.(*Coordinator).run", File: "coordinator.go", Line: 10}
	a = formatAttrECS(nil, slog.Any(slog.SourceKey, src))
	require.Equal(t, "log", a.Key)
	origin := a.Value.Group()[0]
	require.Equal(t, "origin", origin.Key)
	require.True(t, origin.Value.Group()[0].Equal(slog.String("function", "(*Coordinator).run")))
	file := origin.Value.Group()[1]
	require.Equal(t, "file", file.Key)
	require.True(t, file.Value.Group()[0].Equal(slog.String("name", "coordinator.go")))
	require.Equal(t, int64(10), file.Value.Group()[1].Value.Int64())

	// unknown keys are passed through
	require.True(t, formatAttrECS(nil, slog.Int("attempt", 2)).Equal(slog.Int("attempt", 2)))
}

func Test_dataName(t *testing.T) {
	type transferEvent struct{ total int64 }
	var clv customLogValuer = 4

	var testCases = []struct {
		value slog.Value
		name  string
	}{
		{value: slog.BoolValue(true), name: "Bool"},
		{value: slog.IntValue(32), name: "Int64"},
		{value: slog.Uint64Value(90), name: "Uint64"},
		{value: slog.StringValue("foobar"), name: "String"},
		{value: slog.DurationValue(time.Second), name: "Duration"},
		{value: slog.AnyValue("hi"), name: "String"},
		{value: slog.AnyValue(transferEvent{42}), name: "logger_transferEvent"},
		{value: slog.AnyValue(&transferEvent{42}), name: "logger_transferEvent"},
		{value: slog.AnyValue(struct{ n int }{666}), name: "struct { n int }"},
		{value: slog.AnyValue(customLogValuer(2)), name: "logger_customLogValuer"},
		{value: slog.AnyValue(&clv), name: "logger_customLogValuer"},
		{value: slog.GroupValue(slog.Any("key", "value")), name: "Group"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.name, dataName(tc.value), "value %#v", tc.value.Any())
	}
}

func Test_shortFuncName(t *testing.T) {
	require.Equal(t, "newBaseCmd.func1", shortFuncName("github.com/alphabill-org/transferout/cli/transferout/cmd.newBaseCmd.func1"))
	require.Equal(t, "(*Coordinator).run", shortFuncName("github.com/alphabill-org/transferout/transfer.(*Coordinator).run"))
	require.Equal(t, "main", shortFuncName("main"))
}

type customLogValuer int

func (clv customLogValuer) LogValue() slog.Value {
	return slog.IntValue(int(clv))
}

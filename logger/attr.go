package logger

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/google/uuid"
)

/*
Keys of the attributes shared by the packages of the transfer engine. Use the
constructor functions below instead of the keys directly.
*/
const (
	ErrorKey    = "err"
	DataKey     = "data"
	TxIDKey     = "tx_id"
	TraceIDKey  = "trace_id"
	ProviderKey = "provider"
)

/*
Error attaches error to the message:

	if err := store.Put(ts); err != nil {
		log.Error("persisting transaction state", logger.Error(err))
	}
*/
func Error(err error) slog.Attr {
	return slog.Any(ErrorKey, err)
}

/*
Data attaches structured payload (ie event or transaction state) to the message.
Avoid slog.GroupValue and anonymous types, the ECS format namespaces the value
by its type name.
*/
func Data(d any) slog.Attr {
	return slog.Any(DataKey, d)
}

/*
TxID is the id of the transfer transaction. Coordinator creates sub-logger
per transaction with log.With(logger.TxID(id)).
*/
func TxID(id uuid.UUID) slog.Attr {
	return slog.String(TxIDKey, id.String())
}

// TraceID is the caller assigned correlation id of the request.
func TraceID(id uuid.UUID) slog.Attr {
	return slog.String(TraceIDKey, id.String())
}

func Provider(id string) slog.Attr {
	return slog.String(ProviderKey, id)
}

type attrFormatter func(groups []string, a slog.Attr) slog.Attr

/*
chain returns formatter which applies non-nil formatters in order, nil when
there is nothing to apply.
*/
func chain(fmts ...attrFormatter) attrFormatter {
	var list []attrFormatter
	for _, f := range fmts {
		if f != nil {
			list = append(list, f)
		}
	}
	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		for _, f := range list {
			a = f(groups, a)
		}
		return a
	}
}

/*
formatTimeAttr returns formatter for the "time" attribute: "none" drops it,
empty format keeps handler default, anything else is Go time layout.
*/
func formatTimeAttr(layout string) attrFormatter {
	switch layout {
	case "":
		return nil
	case "none":
		return func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		}
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key != slog.TimeKey {
			return a
		}
		if t := a.Value.Time(); !t.IsZero() {
			a.Value = slog.StringValue(t.Format(layout))
		}
		return a
	}
}

// formatDataAttrAsJSON makes structured payload readable in text output.
func formatDataAttrAsJSON(groups []string, a slog.Attr) slog.Attr {
	if a.Key != DataKey || a.Value.Kind() != slog.KindAny {
		return a
	}
	if b, err := json.Marshal(a.Value.Any()); err == nil {
		a.Value = slog.StringValue(string(b))
	}
	return a
}

/*
ecsIDFields maps id attributes to ECS field sets, the value ends up under
"<set>.id". Provider is not ECS field and goes under "labels".
*/
var ecsIDFields = map[string]string{
	TraceIDKey: "trace",
	TxIDKey:    "transaction",
}

/*
formatAttrECS renames well known attributes to Elastic Common Schema fields.
*/
func formatAttrECS(groups []string, a slog.Attr) slog.Attr {
	if set, ok := ecsIDFields[a.Key]; ok {
		return slog.Group(set, slog.String("id", a.Value.String()))
	}

	switch a.Key {
	case slog.MessageKey:
		return slog.String("message", a.Value.String())
	case slog.SourceKey:
		src, ok := a.Value.Any().(*slog.Source)
		if !ok {
			return a
		}
		return slog.Group("log", slog.Group("origin",
			slog.String("function", shortFuncName(src.Function)),
			slog.Group("file", slog.String("name", src.File), slog.Int("line", src.Line)),
		))
	case ErrorKey:
		return slog.Group("error", slog.Any("message", a.Value.Any()))
	case DataKey:
		// the same field with different value types would conflict in the index
		return slog.Group(DataKey, slog.Any(dataName(a.Value), a.Value))
	case ProviderKey:
		return slog.Group("labels", slog.String(ProviderKey, a.Value.String()))
	}
	return a
}

/*
dataName returns type name of the value usable as ECS field name, ie
"types_TransactionState" for *types.TransactionState.
*/
func dataName(v slog.Value) string {
	if k := v.Kind(); k != slog.KindAny && k != slog.KindLogValuer {
		return k.String()
	}
	name := reflect.TypeOf(v.Any()).String()
	return strings.ReplaceAll(strings.TrimLeft(name, "*"), ".", "_")
}

/*
shortFuncName strips import path and package name from the function name,
"github.com/alphabill-org/transferout/transfer.(*Coordinator).run" becomes
"(*Coordinator).run".
*/
func shortFuncName(fn string) string {
	_, fn = filepath.Split(fn)
	if _, name, ok := strings.Cut(fn, "."); ok {
		return name
	}
	return fn
}

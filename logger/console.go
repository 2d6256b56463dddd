package logger

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

/*
newConsoleHandler returns handler which outputs human friendly (colored) log.
Records are encoded as JSON by slog and then reformatted by zerolog's console writer.
*/
func newConsoleHandler(out io.Writer, timeFormat string, noColor bool, opt *slog.HandlerOptions) slog.Handler {
	if timeFormat == "" {
		timeFormat = "15:04:05.0000"
	}
	cw := zerolog.ConsoleWriter{
		Out:          out,
		NoColor:      noColor,
		TimeFormat:   timeFormat,
		FormatCaller: consoleFormatCallerLastTwoDirs,
	}
	if timeFormat == "none" {
		cw.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	opt.ReplaceAttr = chain(formatAttrConsole, formatDataAttrAsJSON)
	return slog.NewJSONHandler(cw, opt)
}

/*
formatAttrConsole renames well known attributes to the names zerolog's
console writer expects.
*/
func formatAttrConsole(groups []string, a slog.Attr) slog.Attr {
	if len(groups) != 0 {
		return a
	}
	switch a.Key {
	case slog.MessageKey:
		a.Key = zerolog.MessageFieldName
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			return slog.String(zerolog.LevelFieldName, zerologLevel(lvl).String())
		}
	case slog.TimeKey:
		if t := a.Value.Time(); !t.IsZero() {
			return slog.String(zerolog.TimestampFieldName, t.Format(time.RFC3339Nano))
		}
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok {
			return slog.String(zerolog.CallerFieldName, fmt.Sprintf("%s:%d", src.File, src.Line))
		}
	case ErrorKey:
		a.Key = zerolog.ErrorFieldName
	}
	return a
}

func zerologLevel(lvl slog.Level) zerolog.Level {
	switch {
	case lvl <= LevelTrace:
		return zerolog.TraceLevel
	case lvl < slog.LevelInfo:
		return zerolog.DebugLevel
	case lvl < slog.LevelWarn:
		return zerolog.InfoLevel
	case lvl < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

/*
consoleFormatCallerLastTwoDirs keeps the file name and its parent directory
of the caller, ie "transfer/coordinator.go:42".
*/
func consoleFormatCallerLastTwoDirs(i any) string {
	s, ok := i.(string)
	if !ok || s == "" {
		return ""
	}
	dir, file := filepath.Split(s)
	return filepath.Join(filepath.Base(strings.TrimSuffix(dir, string(filepath.Separator))), file)
}

package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	// levelNone is used to disable logging
	levelNone slog.Level = slog.LevelError + 100
)

/*
LogConfiguration describes the logger, it is loaded from the logger config
file (YAML) and can be overridden by command line flags.
*/
type LogConfiguration struct {
	// one of TRACE, DEBUG, INFO, WARN, ERROR, NONE. Offsets like "info+1" are supported.
	Level string `yaml:"defaultLevel"`
	// one of text, json, console, ecs
	Format string `yaml:"format"`
	// file name or one of the special values: stdout, stderr, discard
	OutputPath string `yaml:"outputPath"`
	// Go time format string or "none"
	TimeFormat string `yaml:"timeFormat"`
	// Writer overrides OutputPath when set.
	Writer io.Writer `yaml:"-"`
	// NoColor disables colors in console format.
	NoColor bool `yaml:"noColor"`
}

/*
New creates logger based on the configuration. When "cfg" is nil default
configuration (text to stderr, INFO level) is used.
*/
func New(cfg *LogConfiguration) (*slog.Logger, error) {
	if cfg == nil {
		cfg = &LogConfiguration{}
	}
	h, err := cfg.Handler()
	if err != nil {
		return nil, err
	}
	return slog.New(h), nil
}

/*
Handler returns slog handler described by the configuration.
*/
func (cfg *LogConfiguration) Handler() (slog.Handler, error) {
	out, err := cfg.writer()
	if err != nil {
		return nil, fmt.Errorf("creating log writer: %w", err)
	}

	opt := &slog.HandlerOptions{
		AddSource: true,
		Level:     cfg.logLevel(),
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		opt.ReplaceAttr = chain(formatTimeAttr(cfg.TimeFormat), formatLevelAttr)
		return slog.NewJSONHandler(out, opt), nil
	case "ecs":
		opt.ReplaceAttr = chain(formatAttrECS, formatLevelAttr)
		return slog.NewJSONHandler(out, opt), nil
	case "console":
		return newConsoleHandler(out, cfg.TimeFormat, cfg.NoColor || !isTerminal(cfg.OutputPath, cfg.Writer), opt), nil
	case "text", "":
		opt.ReplaceAttr = chain(formatTimeAttr(cfg.TimeFormat), formatDataAttrAsJSON, formatLevelAttr)
		return slog.NewTextHandler(out, opt), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

func (cfg *LogConfiguration) writer() (io.Writer, error) {
	if cfg.Writer != nil {
		return cfg.Writer, nil
	}
	switch strings.ToLower(cfg.OutputPath) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "discard", os.DevNull:
		return io.Discard, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0700); err != nil {
			return nil, fmt.Errorf("creating directory for log file: %w", err)
		}
		f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		return f, nil
	}
}

func (cfg *LogConfiguration) logLevel() slog.Level {
	if cfg.Writer == nil {
		switch strings.ToLower(cfg.OutputPath) {
		case "discard", os.DevNull:
			return levelNone
		}
	}

	name := strings.ToUpper(cfg.Level)
	offset := 0
	if idx := strings.IndexAny(name, "+-"); idx > 0 {
		if v, err := strconv.Atoi(name[idx:]); err == nil {
			offset = v
		}
		name = name[:idx]
	}

	var lvl slog.Level
	switch name {
	case "NONE":
		return levelNone
	case "TRACE":
		lvl = LevelTrace
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return lvl + slog.Level(offset)
}

/*
formatLevelAttr replaces "DEBUG-4" with "TRACE".
*/
func formatLevelAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

func isTerminal(outputPath string, w io.Writer) bool {
	if w != nil {
		return false
	}
	switch strings.ToLower(outputPath) {
	case "", "stderr", "stdout":
		return true
	}
	return false
}

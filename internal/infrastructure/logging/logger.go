package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/layerflow/layerflow-core/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "layerflow"

// Logger is the process logger. Children made with With or Component share
// the parent's level, so SetLevel on any of them affects all.
//
// All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds the logger described by cfg. Output is "stdout" (default),
// "stderr" or "discard".
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewWithWriter(outputFor(cfg.Output), cfg, version)
}

// NewWithWriter builds a logger writing to w. Format and level still come
// from cfg.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler).With("service", serviceName, "version", version),
		level:  level,
	}
}

// Default is the logger used before configuration is loaded: JSON on stdout
// at info.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

// Discard returns a logger that drops every entry.
func Discard() *Logger {
	return New(config.LoggingConfig{Output: "discard"}, "")
}

// With returns a child logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// Component returns a child logger tagged with the subsystem that writes
// through it, e.g. "session", "bus" or "api".
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// SetLevel changes the minimum level of this logger and every logger
// derived from the same root. Unknown names select info.
func (l *Logger) SetLevel(name string) {
	l.level.Set(ParseLevel(name))
}

// Level reports the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// ParseLevel reads a level name in any case. It accepts the slog names with
// offsets ("debug", "INFO+2") plus "warning"; anything else is info.
func ParseLevel(name string) slog.Level {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func outputFor(name string) io.Writer {
	switch strings.ToLower(name) {
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	default:
		return os.Stdout
	}
}

// Package logging provides the structured logger every other package logs
// through. The teacher module logs with bare stdlib log.Printf; this module
// upgrades that to charmbracelet/log (already present in the teacher's
// dependency graph as a transitive pull from its TUI stack) so log lines
// carry level and key/value attributes instead of being free-form text.
package logging

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger wraps a charmbracelet/log logger with the small, level-named API
// the rest of this module calls through.
type Logger struct {
	inner *charmlog.Logger
}

// Config controls a Logger's output format and minimum level.
type Config struct {
	Level      string // debug, info, warn, error
	ReportTime bool
	Output     io.Writer
}

// DefaultConfig returns the logging defaults: info level, timestamps on,
// writing to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", ReportTime: true, Output: os.Stderr}
}

var defaultLogger = New(DefaultConfig())

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: cfg.ReportTime,
		Level:           parseLevel(cfg.Level),
	})
	return &Logger{inner: l}
}

func parseLevel(s string) charmlog.Level {
	lvl, err := charmlog.ParseLevel(s)
	if err != nil {
		return charmlog.InfoLevel
	}
	return lvl
}

// SetDefault replaces the package-level default logger used by the
// top-level Debug/Info/Warn/Error funcs.
func SetDefault(l *Logger) { defaultLogger = l }

// Default returns the package-level default logger.
func Default() *Logger { return defaultLogger }

// With returns a child logger that prefixes every log line with the given
// key/value pairs.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{inner: l.inner.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.inner.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }

func Debug(msg string, kv ...any) { defaultLogger.Debug(msg, kv...) }
func Info(msg string, kv ...any)  { defaultLogger.Info(msg, kv...) }
func Warn(msg string, kv ...any)  { defaultLogger.Warn(msg, kv...) }
func Error(msg string, kv ...any) { defaultLogger.Error(msg, kv...) }

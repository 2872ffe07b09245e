// Package simlog provides the launcher's logger: slog with a compact,
// CLI-friendly handler shared by the commands and the serve API.
package simlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with convenience methods
type Logger struct {
	*slog.Logger
}

// levelBadges prefix each line so levels read at a glance in a terminal.
var levelBadges = map[slog.Level]string{
	slog.LevelDebug: "🔍 ",
	slog.LevelInfo:  "ℹ️  ",
	slog.LevelWarn:  "⚠️  ",
	slog.LevelError: "❌ ",
}

// cliHandler renders one line per record: badge, message, then attrs as
// comma-separated key=value pairs. Attrs attached via With carry over to
// every record; group names qualify attr keys with a dot.
type cliHandler struct {
	level  slog.Level
	output io.Writer
	attrs  []slog.Attr
	groups []string
}

func (h *cliHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *cliHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	if badge, ok := levelBadges[r.Level]; ok {
		b.WriteString(badge)
	}
	b.WriteString(r.Message)

	n := 0
	write := func(key string, v slog.Value) {
		if n == 0 {
			b.WriteString(" ")
		} else {
			b.WriteString(", ")
		}
		n++
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(v.String())
	}
	for _, a := range h.attrs {
		write(a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(h.qualify(a.Key), a.Value)
		return true
	})

	b.WriteString("\n")
	_, err := io.WriteString(h.output, b.String())
	return err
}

func (h *cliHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	nh := h.clone()
	for _, a := range attrs {
		a.Key = h.qualify(a.Key)
		nh.attrs = append(nh.attrs, a)
	}
	return nh
}

func (h *cliHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *cliHandler) clone() *cliHandler {
	return &cliHandler{
		level:  h.level,
		output: h.output,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		groups: append([]string(nil), h.groups...),
	}
}

// qualify prefixes key with the open group path.
func (h *cliHandler) qualify(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

// NewLogger creates a new logger with the specified level and output
func NewLogger(level slog.Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}

	return &Logger{
		Logger: slog.New(&cliHandler{level: level, output: output}),
	}
}

// NewDefault creates a logger with INFO level
func NewDefault() *Logger {
	return NewLogger(slog.LevelInfo, os.Stderr)
}

// NewQuiet creates a logger with WARN level (suppresses info/debug)
func NewQuiet() *Logger {
	return NewLogger(slog.LevelWarn, os.Stderr)
}

// NewVerbose creates a logger with DEBUG level
func NewVerbose() *Logger {
	return NewLogger(slog.LevelDebug, os.Stderr)
}

// Fatal logs at ERROR level and exits with code 1
func (l *Logger) Fatal(msg string, args ...any) {
	l.Error(msg, args...)
	os.Exit(1)
}

// Fatalf formats and logs at ERROR level, then exits with code 1
func (l *Logger) Fatalf(format string, args ...any) {
	l.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

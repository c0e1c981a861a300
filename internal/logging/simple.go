package logging

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// Level is the minimum severity a StdLogger will emit.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func parseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// StdLogger is a stdlib-log-backed Logger that writes one line per call as
// `[LEVEL] component: message key=value key=value ...`, sorted so field
// order is stable across calls (useful for diffing test output).
type StdLogger struct {
	level     Level
	component string
	out       *log.Logger
}

// NewStdLogger builds a StdLogger writing to os.Stderr at the given level
// ("DEBUG", "INFO", "WARN", "ERROR"; unrecognized values default to INFO).
func NewStdLogger(level string) *StdLogger {
	return &StdLogger{
		level: parseLevel(level),
		out:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

// WithComponent returns a logger that prefixes every line with component.
func (l *StdLogger) WithComponent(component string) Logger {
	return &StdLogger{level: l.level, component: component, out: l.out}
}

func (l *StdLogger) Info(msg string, fields map[string]interface{})  { l.log(InfoLevel, msg, fields) }
func (l *StdLogger) Error(msg string, fields map[string]interface{}) { l.log(ErrorLevel, msg, fields) }
func (l *StdLogger) Warn(msg string, fields map[string]interface{})  { l.log(WarnLevel, msg, fields) }
func (l *StdLogger) Debug(msg string, fields map[string]interface{}) { l.log(DebugLevel, msg, fields) }

func (l *StdLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(InfoLevel, msg, withRequestID(ctx, fields))
}

func (l *StdLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ErrorLevel, msg, withRequestID(ctx, fields))
}

func (l *StdLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(WarnLevel, msg, withRequestID(ctx, fields))
}

func (l *StdLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(DebugLevel, msg, withRequestID(ctx, fields))
}

func withRequestID(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	id, ok := requestIDFromContext(ctx)
	if !ok {
		return fields
	}
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["request_id"] = id
	return out
}

func (l *StdLogger) log(level Level, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(levelName(level))
	b.WriteString("] ")
	if l.component != "" {
		b.WriteString(l.component)
		b.WriteString(": ")
	}
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}

	l.out.Println(b.String())
}

func levelName(l Level) string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

var _ ComponentAwareLogger = (*StdLogger)(nil)

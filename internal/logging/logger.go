// Package logging provides the structured, context-aware logger used across
// the proxy. The interface mirrors the component-aware logging contract the
// rest of the codebase is written against so any backend (stdlib log, a
// JSON encoder, a no-op test double) can be swapped in behind it.
package logging

import "context"

// Logger is the logging contract every component depends on instead of a
// concrete implementation. Fields are passed as a map so call sites can
// attach structured context without building format strings.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a package bind its own component label while
// sharing the base logger's output destination and level.
//
// Component naming convention:
//   - "store"       - durable store
//   - "cache"       - origin cache
//   - "machine"     - delivery state machine
//   - "ingest"      - ingest entry point
//   - "management"  - management API
//   - "retryqueue"  - retry scheduler
//   - "alert"       - alerting sink
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// correlationKey is the context key requestIDFromContext looks for. A
// request ID stored with WithRequestID is added as a request_id field by
// StdLogger's *WithContext methods.
type correlationKey struct{}

// WithRequestID returns a context carrying requestID for log correlation.
func WithRequestID(ctx context.Context, requestID int64) context.Context {
	return context.WithValue(ctx, correlationKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(correlationKey{}).(int64)
	return v, ok
}

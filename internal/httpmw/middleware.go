// Package httpmw holds the small middleware chain shared by the ingest
// and management HTTP surfaces: panic recovery then request logging,
// grounded on core/middleware.go's RecoveryMiddleware/LoggingMiddleware
// and the wrapping order core/agent.go's Start method assembles
// (recovery innermost, logging outside it).
package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/soldrproxy/soldr/internal/logging"
)

// responseWriter wraps http.ResponseWriter to capture the status code for
// logging, mirroring core/middleware.go's responseWriter.
type responseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.status = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.status = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// Recovery recovers panics in the wrapped handler, logs them with a stack
// trace, and returns 500 instead of crashing the server.
func Recovery(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("http handler panic recovered", map[string]interface{}{
						"panic":      err,
						"error_type": fmt.Sprintf("%T", err),
						"path":       r.URL.Path,
						"method":     r.Method,
						"stack":      string(debug.Stack()),
					})
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Logging logs method/path/status/duration for every request that errors
// or takes over a second, same heuristic as core/middleware.go's
// LoggingMiddleware in non-development mode.
func Logging(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			if wrapped.status >= 400 || duration > time.Second {
				logger.Info("http request", map[string]interface{}{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      wrapped.status,
					"duration_ms": duration.Milliseconds(),
					"remote_addr": r.RemoteAddr,
				})
			}
		})
	}
}

// Chain applies middleware in the order given, first entry outermost.
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

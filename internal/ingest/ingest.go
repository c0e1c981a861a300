// Package ingest implements the public entry point of spec.md §4.6: any
// method, any path, body capped at 1,000,000 bytes, always 204 on accept,
// with the delivery drive kicked off asynchronously so the client never
// waits on (or sees failures from) upstream delivery.
package ingest

import (
	"context"
	"io"
	"net/http"

	"github.com/soldrproxy/soldr/internal/domain"
	"github.com/soldrproxy/soldr/internal/errs"
	"github.com/soldrproxy/soldr/internal/httpmw"
	"github.com/soldrproxy/soldr/internal/logging"
	"github.com/soldrproxy/soldr/internal/machine"
)

// maxBodyBytes is spec.md §4.6's hard cap; the 1,000,001st byte rejects
// the request rather than silently truncating it.
const maxBodyBytes = 1_000_000

// Handler accepts inbound webhook deliveries and starts a drive per
// request. It implements http.Handler directly so it can sit behind
// httpmw's recovery/logging chain without extra wiring.
type Handler struct {
	services *machine.Services
	logger   logging.Logger
}

// New returns a Handler driving accepted requests through svc.
func New(svc *machine.Services, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &Handler{services: svc, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		h.logger.Warn("failed to read request body", map[string]interface{}{"error": err.Error()})
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodyBytes {
		h.logger.Warn("request body too large", map[string]interface{}{"size": len(body)})
		http.Error(w, errs.ErrBodyTooLarge.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	headers := headersFromRequest(r)

	// The request is persisted before the 204 is written, so an accepted
	// request is already in the store when the client sees the response.
	id, err := h.services.Store.InsertRequest(r.Context(), r.Method, r.URL.RequestURI(), headers, body)
	if err != nil {
		h.logger.Error("failed to persist request", map[string]interface{}{"error": err.Error()})
		http.Error(w, "failed to persist request", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)

	// The drive runs to completion independent of this HTTP request's
	// lifetime (spec.md §5: "no request-level cancellation"), so it uses
	// context.Background rather than r.Context().
	go machine.Drive(context.Background(), h.services, machine.Created{RequestID: id})
}

// Wrapped returns the handler behind the standard recovery/logging chain.
func (h *Handler) Wrapped() http.Handler {
	return httpmw.Chain(h, httpmw.Logging(h.logger), httpmw.Recovery(h.logger))
}

func headersFromRequest(r *http.Request) []domain.Header {
	var out []domain.Header
	if r.Host != "" {
		out = append(out, domain.Header{Name: "Host", Value: r.Host})
	}
	for name, values := range r.Header {
		for _, v := range values {
			out = append(out, domain.Header{Name: name, Value: v})
		}
	}
	return out
}

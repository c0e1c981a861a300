// Package management implements the management HTTP surface of spec.md
// §6 / SPEC_FULL.md §4.7: CRUD over origins, filtered/sorted/ranged
// listing of requests and attempts, enqueue-now, and fork-on-edit — all
// behind HTTP Basic auth with a shared secret. JSON handler shape
// (decode -> validate -> structured error body with explicit status)
// grounded on examples/currency-tool/handlers.go and
// examples/geocoding-tool/handlers.go.
package management

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/soldrproxy/soldr/internal/cache"
	"github.com/soldrproxy/soldr/internal/domain"
	"github.com/soldrproxy/soldr/internal/httpmw"
	"github.com/soldrproxy/soldr/internal/logging"
	"github.com/soldrproxy/soldr/internal/store"
)

// minSecretLength is spec.md §6's management-secret floor.
const minSecretLength = 32

// maxRangeSpan is spec.md §8's boundary: end-start must not exceed 50.
const maxRangeSpan = 50

// maxRangeStart is spec.md §8's boundary on the range's start offset.
const maxRangeStart = 1000

// Server is the management HTTP surface.
type Server struct {
	store  store.Store
	cache  *cache.OriginCache
	secret string
	logger logging.Logger
}

// New returns a Server. secret is the shared Basic-auth username and must
// already have passed config.Validate()'s length check.
func New(s store.Store, c *cache.OriginCache, secret string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &Server{store: s, cache: c, secret: secret, logger: logger}
}

// Handler builds the routed, authenticated, recovery/logging-wrapped
// http.Handler for this server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /origins", s.handleListOrigins)
	mux.HandleFunc("POST /origins", s.handleCreateOrigin)
	mux.HandleFunc("GET /origins/{id}", s.handleGetOrigin)
	mux.HandleFunc("PUT /origins/{id}", s.handleUpdateOrigin)
	mux.HandleFunc("DELETE /origins/{id}", s.handleDeleteOrigin)
	mux.HandleFunc("GET /requests", s.handleListRequests)
	mux.HandleFunc("GET /attempts", s.handleListAttempts)
	mux.HandleFunc("POST /requests/{id}/enqueue", s.handleEnqueue)
	mux.HandleFunc("POST /requests/{id}/edit", s.handleEdit)

	authenticated := s.withBasicAuth(mux)
	return httpmw.Chain(authenticated, httpmw.Logging(s.logger), httpmw.Recovery(s.logger))
}

// withBasicAuth implements spec.md §6: HTTP Basic, username must equal
// the shared secret, password ignored. Failure returns 401 with a
// WWW-Authenticate challenge.
func (s *Server) withBasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, _, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(username), []byte(s.secret)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="soldr management"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// originJSON is the wire representation of domain.Origin.
type originJSON struct {
	ID             int64  `json:"id,omitempty"`
	Domain         string `json:"domain"`
	OriginURI      string `json:"origin_uri"`
	TimeoutMS      int64  `json:"timeout_ms"`
	AlertThreshold int64  `json:"alert_threshold,omitempty"`
	AlertEmail     string `json:"alert_email,omitempty"`
	SMTPHost       string `json:"smtp_host,omitempty"`
	SMTPPort       int    `json:"smtp_port,omitempty"`
	SMTPUsername   string `json:"smtp_username,omitempty"`
	SMTPPassword   string `json:"smtp_password,omitempty"`
	SMTPTLS        bool   `json:"smtp_tls,omitempty"`
	CreatedAt      int64  `json:"created_at,omitempty"`
	UpdatedAt      int64  `json:"updated_at,omitempty"`
}

func toOriginJSON(o domain.Origin) originJSON {
	return originJSON{
		ID: o.ID, Domain: o.Domain, OriginURI: o.OriginURI, TimeoutMS: o.TimeoutMS,
		AlertThreshold: o.AlertThreshold, AlertEmail: o.AlertEmail,
		SMTPHost: o.SMTPHost, SMTPPort: o.SMTPPort, SMTPUsername: o.SMTPUsername,
		SMTPPassword: o.SMTPPassword, SMTPTLS: o.SMTPTLS,
		CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
}

func fromOriginJSON(j originJSON) domain.Origin {
	return domain.Origin{
		ID: j.ID, Domain: j.Domain, OriginURI: j.OriginURI, TimeoutMS: j.TimeoutMS,
		AlertThreshold: j.AlertThreshold, AlertEmail: j.AlertEmail,
		SMTPHost: j.SMTPHost, SMTPPort: j.SMTPPort, SMTPUsername: j.SMTPUsername,
		SMTPPassword: j.SMTPPassword, SMTPTLS: j.SMTPTLS,
	}
}

// refreshCache re-lists origins and refreshes the cache, per spec.md §4.2:
// "The management component calls refresh after any origins mutation by
// first re-listing the origins table."
func (s *Server) refreshCache(r *http.Request) {
	origins, err := s.store.ListOrigins(r.Context())
	if err != nil {
		s.logger.Error("failed to re-list origins for cache refresh", map[string]interface{}{"error": err.Error()})
		return
	}
	s.cache.Refresh(origins)
}

func (s *Server) handleListOrigins(w http.ResponseWriter, r *http.Request) {
	origins, err := s.store.ListOrigins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	out := make([]originJSON, len(origins))
	for i, o := range origins {
		out[i] = toOriginJSON(o)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateOrigin(w http.ResponseWriter, r *http.Request) {
	var j originJSON
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if j.Domain == "" || j.OriginURI == "" || j.TimeoutMS <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "domain, origin_uri and a positive timeout_ms are required")
		return
	}

	id, err := s.store.InsertOrigin(r.Context(), fromOriginJSON(j))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	s.refreshCache(r)

	o, err := s.store.GetOrigin(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toOriginJSON(o))
}

func (s *Server) handleGetOrigin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be an integer")
		return
	}
	o, err := s.store.GetOrigin(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "origin not found")
		return
	}
	writeJSON(w, http.StatusOK, toOriginJSON(o))
}

func (s *Server) handleUpdateOrigin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be an integer")
		return
	}
	var j originJSON
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	j.ID = id

	if err := s.store.UpdateOrigin(r.Context(), fromOriginJSON(j)); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	s.refreshCache(r)

	o, err := s.store.GetOrigin(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toOriginJSON(o))
}

func (s *Server) handleDeleteOrigin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be an integer")
		return
	}
	if err := s.store.DeleteOrigin(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	s.refreshCache(r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be an integer")
		return
	}
	if err := s.store.AddRequestToQueue(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be an integer")
		return
	}
	forkID, err := s.store.ForkRequest(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	forked, err := s.store.GetRequest(r.Context(), forkID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toRequestJSON(forked))
}

// requestJSON is the wire representation of domain.Request.
type requestJSON struct {
	ID            int64           `json:"id"`
	Method        string          `json:"method"`
	URI           string          `json:"uri"`
	Headers       []domain.Header `json:"headers"`
	Body          string          `json:"body,omitempty"`
	State         string          `json:"state"`
	CreatedAt     int64           `json:"created_at"`
	RetryMSAt     int64           `json:"retry_ms_at,omitempty"`
	FromRequestID int64           `json:"from_request_id,omitempty"`
}

func toRequestJSON(r domain.Request) requestJSON {
	return requestJSON{
		ID: r.ID, Method: r.Method, URI: r.URI, Headers: r.Headers, Body: string(r.Body),
		State: string(r.State), CreatedAt: r.CreatedAt, RetryMSAt: r.RetryMSAt, FromRequestID: r.FromRequestID,
	}
}

// attemptJSON is the wire representation of domain.Attempt.
type attemptJSON struct {
	ID             int64  `json:"id"`
	RequestID      int64  `json:"request_id"`
	ResponseStatus int    `json:"response_status"`
	ResponseBody   string `json:"response_body,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

func toAttemptJSON(a domain.Attempt) attemptJSON {
	return attemptJSON{
		ID: a.ID, RequestID: a.RequestID, ResponseStatus: a.ResponseStatus,
		ResponseBody: string(a.ResponseBody), CreatedAt: a.CreatedAt,
	}
}

// rangeParams is the parsed, validated (start, end) query pair spec.md §8
// bounds: end-start must not exceed maxRangeSpan, start must not exceed
// maxRangeStart.
type rangeParams struct {
	start, end int
}

func parseRange(r *http.Request) (rangeParams, error) {
	start, end := 0, maxRangeSpan
	if v := r.URL.Query().Get("start"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return rangeParams{}, fmt.Errorf("start must be a non-negative integer")
		}
		start = n
		end = start + maxRangeSpan
	}
	if v := r.URL.Query().Get("end"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < start {
			return rangeParams{}, fmt.Errorf("end must be an integer >= start")
		}
		end = n
	}
	if start > maxRangeStart {
		return rangeParams{}, fmt.Errorf("start must not exceed %d", maxRangeStart)
	}
	if end-start > maxRangeSpan {
		return rangeParams{}, fmt.Errorf("end-start must not exceed %d", maxRangeSpan)
	}
	return rangeParams{start: start, end: end}, nil
}

// setContentRange writes the Content-Range header spec.md §8 requires,
// describing the slice actually returned out of the full matching total.
func setContentRange(w http.ResponseWriter, rp rangeParams, returned, total int) {
	last := rp.start - 1
	if returned > 0 {
		last = rp.start + returned - 1
	}
	w.Header().Set("Content-Range", fmt.Sprintf("%d-%d/%d", rp.start, last, total))
}

func parseSort(r *http.Request) (string, store.SortOrder) {
	sort := r.URL.Query().Get("sort")
	order := store.Ascending
	if strings.EqualFold(r.URL.Query().Get("order"), "desc") {
		order = store.Descending
	}
	return sort, order
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	rp, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sort, order := parseSort(r)

	// rp.end is inclusive; the store's End is exclusive.
	filter := store.RequestFilter{Start: rp.start, End: rp.end + 1, Sort: sort, Order: order}
	if ids := r.URL.Query()["id"]; len(ids) > 0 {
		for _, raw := range ids {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "id must be an integer")
				return
			}
			filter.IDs = append(filter.IDs, id)
		}
	}
	for _, raw := range r.URL.Query()["state"] {
		filter.States = append(filter.States, domain.RequestState(raw))
	}

	requests, total, err := s.store.ListRequests(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	out := make([]requestJSON, len(requests))
	for i, req := range requests {
		out[i] = toRequestJSON(req)
	}
	setContentRange(w, rp, len(out), total)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	rp, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sort, order := parseSort(r)

	// rp.end is inclusive; the store's End is exclusive.
	filter := store.AttemptFilter{Start: rp.start, End: rp.end + 1, Sort: sort, Order: order}
	if raw := r.URL.Query().Get("request_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "request_id must be an integer")
			return
		}
		filter.RequestID = id
	}

	attempts, total, err := s.store.ListAttempts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	out := make([]attemptJSON, len(attempts))
	for i, a := range attempts {
		out[i] = toAttemptJSON(a)
	}
	setContentRange(w, rp, len(out), total)
	writeJSON(w, http.StatusOK, out)
}

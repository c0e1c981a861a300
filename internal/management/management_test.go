package management

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soldrproxy/soldr/internal/cache"
	"github.com/soldrproxy/soldr/internal/clock"
	"github.com/soldrproxy/soldr/internal/domain"
	"github.com/soldrproxy/soldr/internal/logging"
	"github.com/soldrproxy/soldr/internal/store"
)

const testSecret = "12345678901234567890123456789012"

func newTestServer(t *testing.T) (*Server, *store.MemoryStore, *cache.OriginCache) {
	t.Helper()
	s := store.NewMemory(clock.Real{})
	c := cache.New()
	return New(s, c, testSecret, logging.Noop{}), s, c
}

func authed(req *http.Request) *http.Request {
	req.SetBasicAuth(testSecret, "ignored")
	return req
}

func TestServer_RejectsMissingAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/origins", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestServer_RejectsWrongUsername(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/origins", nil)
	req.SetBasicAuth("not-the-secret", "ignored")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_PasswordIsIgnored(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/origins", nil)
	req.SetBasicAuth(testSecret, "anything-at-all")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_CreateGetUpdateDeleteOrigin(t *testing.T) {
	srv, _, c := newTestServer(t)

	body, _ := json.Marshal(originJSON{Domain: "a.test", OriginURI: "http://upstream.test", TimeoutMS: 5000})
	req := authed(httptest.NewRequest(http.MethodPost, "/origins", bytes.NewReader(body)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created originJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotZero(t, created.ID)

	_, ok := c.Get("a.test")
	assert.True(t, ok, "cache should be refreshed after create")

	getReq := authed(httptest.NewRequest(http.MethodGet, "/origins/"+itoa(created.ID), nil))
	getRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)

	updated := created
	updated.TimeoutMS = 9000
	updBody, _ := json.Marshal(updated)
	updReq := authed(httptest.NewRequest(http.MethodPut, "/origins/"+itoa(created.ID), bytes.NewReader(updBody)))
	updRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(updRec, updReq)
	require.Equal(t, http.StatusOK, updRec.Code)

	var afterUpdate originJSON
	require.NoError(t, json.Unmarshal(updRec.Body.Bytes(), &afterUpdate))
	assert.Equal(t, int64(9000), afterUpdate.TimeoutMS)

	delReq := authed(httptest.NewRequest(http.MethodDelete, "/origins/"+itoa(created.ID), nil))
	delRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(delRec, delReq)
	assert.Equal(t, http.StatusNoContent, delRec.Code)

	_, ok = c.Get("a.test")
	assert.False(t, ok, "cache should be refreshed after delete")
}

func TestServer_CreateOriginRejectsMissingFields(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, _ := json.Marshal(originJSON{Domain: "a.test"})
	req := authed(httptest.NewRequest(http.MethodPost, "/origins", bytes.NewReader(body)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListRequestsAppliesRangeAndContentRange(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.InsertRequest(ctx, "GET", "/", nil, nil)
		require.NoError(t, err)
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/requests?start=0&end=4", nil))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []requestJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 5)
	assert.Equal(t, "0-4/10", rec.Header().Get("Content-Range"))
}

func TestServer_ListRequestsRejectsOversizedRange(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := authed(httptest.NewRequest(http.MethodGet, "/requests?start=0&end=51", nil))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListRequestsRejectsStartBeyondCeiling(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := authed(httptest.NewRequest(http.MethodGet, "/requests?start=1001", nil))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_EnqueueMarksRequestForRetryQueue(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()

	id, err := s.InsertRequest(ctx, "GET", "/", nil, nil)
	require.NoError(t, err)

	req := authed(httptest.NewRequest(http.MethodPost, "/requests/"+itoa(id)+"/enqueue", nil))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	due, err := s.ListFailedRequests(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)
}

func TestServer_EditForksRequest(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()

	id, err := s.InsertRequest(ctx, "GET", "/x", nil, []byte("body"))
	require.NoError(t, err)

	req := authed(httptest.NewRequest(http.MethodPost, "/requests/"+itoa(id)+"/edit", nil))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var forked requestJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &forked))
	assert.Equal(t, id, forked.FromRequestID)
	assert.Equal(t, string(domain.StateCreated), forked.State)
}

func TestServer_ListAttemptsFiltersByRequestID(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()

	id, err := s.InsertRequest(ctx, "GET", "/", nil, nil)
	require.NoError(t, err)
	other, err := s.InsertRequest(ctx, "GET", "/", nil, nil)
	require.NoError(t, err)
	_, err = s.InsertAttempt(ctx, id, 200, []byte("ok"))
	require.NoError(t, err)
	_, err = s.InsertAttempt(ctx, other, 500, []byte("bad"))
	require.NoError(t, err)

	req := authed(httptest.NewRequest(http.MethodGet, "/attempts?request_id="+itoa(id), nil))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []attemptJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, id, out[0].RequestID)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

package machine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soldrproxy/soldr/internal/cache"
	"github.com/soldrproxy/soldr/internal/clock"
	"github.com/soldrproxy/soldr/internal/domain"
	"github.com/soldrproxy/soldr/internal/logging"
	"github.com/soldrproxy/soldr/internal/store"
	"github.com/soldrproxy/soldr/internal/upstream"
)

type countingAlertSink struct {
	count atomic.Int32
}

func (c *countingAlertSink) Alert(context.Context, domain.Origin, domain.Request, int64) {
	c.count.Add(1)
}

func newTestServices(t *testing.T, alertSink *countingAlertSink) (*Services, *store.MemoryStore, *cache.OriginCache) {
	t.Helper()
	s := store.NewMemory(clock.Real{})
	c := cache.New()
	svc := &Services{
		Store:    s,
		Cache:    c,
		Alert:    alertSink,
		Upstream: upstream.New(),
		Logger:   logging.Noop{},
		Clock:    clock.Real{},
	}
	return svc, s, c
}

func TestScenario1_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("Hello, World!"))
	}))
	defer srv.Close()

	sink := &countingAlertSink{}
	svc, s, c := newTestServices(t, sink)
	c.Refresh([]domain.Origin{{Domain: "example.wh.soldr.dev", OriginURI: srv.URL, TimeoutMS: 100}})

	ctx := context.Background()
	start := Received{
		Method:  "POST",
		URI:     "/",
		Headers: []domain.Header{{Name: "Host", Value: "example.wh.soldr.dev"}},
	}
	Drive(ctx, svc, start)

	reqs, total, err := s.ListRequests(ctx, store.RequestFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.StateCompleted, reqs[0].State)

	attempts, err := s.ListAttemptsByRequest(ctx, reqs[0].ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, 200, attempts[0].ResponseStatus)
	assert.Equal(t, "Hello, World!", string(attempts[0].ResponseBody))
}

func TestScenario2_OriginMiss(t *testing.T) {
	sink := &countingAlertSink{}
	svc, s, _ := newTestServices(t, sink)

	ctx := context.Background()
	start := Received{
		Method:  "POST",
		URI:     "/",
		Headers: []domain.Header{{Name: "Host", Value: "unconfigured.wh.soldr.dev"}},
	}
	Drive(ctx, svc, start)

	reqs, total, err := s.ListRequests(ctx, store.RequestFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.StateSkipped, reqs[0].State)

	attempts, err := s.ListAttemptsByRequest(ctx, reqs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestScenario3_FailureThenRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte("unexpected error"))
	}))
	defer srv.Close()

	sink := &countingAlertSink{}
	svc, s, c := newTestServices(t, sink)
	c.Refresh([]domain.Origin{{Domain: "example.wh.soldr.dev", OriginURI: srv.URL, TimeoutMS: 100}})

	ctx := context.Background()
	Drive(ctx, svc, Received{
		Method:  "POST",
		URI:     "/",
		Headers: []domain.Header{{Name: "Host", Value: "example.wh.soldr.dev"}},
	})

	reqs, _, err := s.ListRequests(ctx, store.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.StateFailed, reqs[0].State)

	attempts, err := s.ListAttemptsByRequest(ctx, reqs[0].ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, 500, attempts[0].ResponseStatus)

	require.NoError(t, s.AddRequestToQueue(ctx, reqs[0].ID))
	Drive(ctx, svc, Enqueued{RequestID: reqs[0].ID})

	attempts, err = s.ListAttemptsByRequest(ctx, reqs[0].ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestScenario4_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(6 * time.Millisecond)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	sink := &countingAlertSink{}
	svc, s, c := newTestServices(t, sink)
	c.Refresh([]domain.Origin{{Domain: "slow.wh.soldr.dev", OriginURI: srv.URL, TimeoutMS: 5}})

	ctx := context.Background()
	Drive(ctx, svc, Received{
		Method:  "GET",
		URI:     "/",
		Headers: []domain.Header{{Name: "Host", Value: "slow.wh.soldr.dev"}},
	})

	reqs, _, err := s.ListRequests(ctx, store.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.StateTimeout, reqs[0].State)

	attempts, err := s.ListAttemptsByRequest(ctx, reqs[0].ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, 504, attempts[0].ResponseStatus)
	assert.Equal(t, "Timeout", string(attempts[0].ResponseBody))
}

func TestScenario5_BackoffBound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	frozen := clock.NewFrozen(base)

	sink := &countingAlertSink{}
	s := store.NewMemory(frozen)
	c := cache.New()
	c.Refresh([]domain.Origin{{Domain: "flaky.wh.soldr.dev", OriginURI: srv.URL, TimeoutMS: 100}})
	svc := &Services{Store: s, Cache: c, Alert: sink, Upstream: upstream.New(), Logger: logging.Noop{}, Clock: frozen}

	ctx := context.Background()
	Drive(ctx, svc, Received{Method: "POST", URI: "/", Headers: []domain.Header{{Name: "Host", Value: "flaky.wh.soldr.dev"}}})

	reqs, _, err := s.ListRequests(ctx, store.RequestFilter{})
	require.NoError(t, err)
	id := reqs[0].ID

	require.NoError(t, s.AddRequestToQueue(ctx, id))
	Drive(ctx, svc, Enqueued{RequestID: id})

	r, err := s.GetRequest(ctx, id)
	require.NoError(t, err)
	delta := r.RetryMSAt - frozen.Now().UnixMilli()
	assert.Less(t, delta, int64(3400))
}

func TestScenario6_ThresholdAlert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	sink := &countingAlertSink{}
	svc, s, c := newTestServices(t, sink)
	c.Refresh([]domain.Origin{{Domain: "thresh.wh.soldr.dev", OriginURI: srv.URL, TimeoutMS: 100, AlertThreshold: 1}})

	ctx := context.Background()
	Drive(ctx, svc, Received{Method: "POST", URI: "/", Headers: []domain.Header{{Name: "Host", Value: "thresh.wh.soldr.dev"}}})

	reqs, _, err := s.ListRequests(ctx, store.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.StateFailed, reqs[0].State)
	assert.Equal(t, int32(1), sink.count.Load())

	attempts, err := s.ListAttemptsByRequest(ctx, reqs[0].ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestDrive_IdempotentOnCompleted(t *testing.T) {
	sink := &countingAlertSink{}
	svc, s, _ := newTestServices(t, sink)

	ctx := context.Background()
	id, err := s.InsertRequest(ctx, "GET", "/", nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateRequestState(ctx, id, domain.StateCompleted))
	_, err = s.InsertAttempt(ctx, id, 200, []byte("ok"))
	require.NoError(t, err)

	Drive(ctx, svc, Completed{RequestID: id})

	attempts, err := s.ListAttemptsByRequest(ctx, id)
	require.NoError(t, err)
	assert.Len(t, attempts, 1, "re-driving a Completed request must not add attempts")
}

func TestDrive_PanicRecoversToPanicState(t *testing.T) {
	sink := &countingAlertSink{}
	svc, s, c := newTestServices(t, sink)
	c.Refresh([]domain.Origin{{Domain: "a.test", OriginURI: "http://127.0.0.1:1", TimeoutMS: 50}})

	ctx := context.Background()
	id, err := s.InsertRequest(ctx, "GET", "/", []domain.Header{{Name: "Host", Value: "a.test"}}, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		Drive(ctx, svc, panickyState{RequestID: id})
	})

	r, err := s.GetRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePanic, r.State)
}

// panickyState is a test-only State that always panics, to exercise
// Drive's recovery path independent of any real transport failure.
type panickyState struct {
	RequestID int64
}

func (p panickyState) step(context.Context, *Services) (State, error) {
	panic("boom")
}

func (p panickyState) panicState() Panic {
	return Panic{RequestID: p.RequestID}
}

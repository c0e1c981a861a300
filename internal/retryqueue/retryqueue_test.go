package retryqueue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soldrproxy/soldr/internal/alert"
	"github.com/soldrproxy/soldr/internal/cache"
	"github.com/soldrproxy/soldr/internal/clock"
	"github.com/soldrproxy/soldr/internal/domain"
	"github.com/soldrproxy/soldr/internal/logging"
	"github.com/soldrproxy/soldr/internal/machine"
	"github.com/soldrproxy/soldr/internal/store"
	"github.com/soldrproxy/soldr/internal/upstream"
)

func TestQueue_TickDrivesDueRequests(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := store.NewMemory(clock.Real{})
	c := cache.New()
	c.Refresh([]domain.Origin{{Domain: "a.test", OriginURI: srv.URL, TimeoutMS: 1000}})
	svc := &machine.Services{
		Store: s, Cache: c, Alert: alert.Noop{}, Upstream: upstream.New(), Logger: logging.Noop{}, Clock: clock.Real{},
	}

	ctx := context.Background()
	id, err := s.InsertRequest(ctx, "GET", "/", []domain.Header{{Name: "Host", Value: "a.test"}}, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddRequestToQueue(ctx, id))

	q := New(svc, logging.Noop{})
	q.tick(ctx)

	assert.Equal(t, 1, hits)
	r, err := s.GetRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, r.State)
}

func TestQueue_TickCapsAtFivePerTick(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	s := store.NewMemory(clock.Real{})
	c := cache.New()
	c.Refresh([]domain.Origin{{Domain: "a.test", OriginURI: srv.URL, TimeoutMS: 1000}})
	svc := &machine.Services{
		Store: s, Cache: c, Alert: alert.Noop{}, Upstream: upstream.New(), Logger: logging.Noop{}, Clock: clock.Real{},
	}

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		id, err := s.InsertRequest(ctx, "GET", "/", []domain.Header{{Name: "Host", Value: "a.test"}}, nil)
		require.NoError(t, err)
		require.NoError(t, s.AddRequestToQueue(ctx, id))
	}

	due, err := s.ListFailedRequests(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(due), 5)

	New(svc, logging.Noop{}).tick(ctx)
	assert.Equal(t, int32(5), hits.Load())
}

func TestQueue_StartStop(t *testing.T) {
	s := store.NewMemory(clock.Real{})
	c := cache.New()
	svc := &machine.Services{
		Store: s, Cache: c, Alert: alert.Noop{}, Upstream: upstream.New(), Logger: logging.Noop{}, Clock: clock.Real{},
	}
	q := New(svc, logging.Noop{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Start(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not stop after context cancellation")
	}
}

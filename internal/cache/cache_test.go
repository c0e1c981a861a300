package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soldrproxy/soldr/internal/domain"
)

func TestOriginCache_GetMissBeforeRefresh(t *testing.T) {
	c := New()
	_, ok := c.Get("example.wh.soldr.dev")
	assert.False(t, ok)
}

func TestOriginCache_RefreshThenGet(t *testing.T) {
	c := New()
	c.Refresh([]domain.Origin{
		{ID: 1, Domain: "example.wh.soldr.dev", OriginURI: "http://127.0.0.1:9000"},
	})

	o, ok := c.Get("example.wh.soldr.dev")
	assert.True(t, ok)
	assert.Equal(t, int64(1), o.ID)
	assert.Equal(t, 1, c.Len())
}

func TestOriginCache_MatchIsCaseSensitive(t *testing.T) {
	c := New()
	c.Refresh([]domain.Origin{{ID: 1, Domain: "Example.com"}})

	_, ok := c.Get("example.com")
	assert.False(t, ok, "domain matching must be case-sensitive per spec")
}

func TestOriginCache_RefreshReplacesEntireMap(t *testing.T) {
	c := New()
	c.Refresh([]domain.Origin{{ID: 1, Domain: "a.test"}})
	c.Refresh([]domain.Origin{{ID: 2, Domain: "b.test"}})

	_, ok := c.Get("a.test")
	assert.False(t, ok, "stale entries must not survive a refresh")
	o, ok := c.Get("b.test")
	assert.True(t, ok)
	assert.Equal(t, int64(2), o.ID)
}

func TestOriginCache_ConcurrentReadsDuringRefresh(t *testing.T) {
	c := New()
	c.Refresh([]domain.Origin{{ID: 1, Domain: "a.test"}})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get("a.test")
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Refresh([]domain.Origin{{ID: 2, Domain: "b.test"}})
	}()
	wg.Wait()
}

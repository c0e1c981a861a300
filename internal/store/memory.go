package store

import (
	"context"
	"sort"
	"sync"

	"github.com/soldrproxy/soldr/internal/backoff"
	"github.com/soldrproxy/soldr/internal/clock"
	"github.com/soldrproxy/soldr/internal/domain"
	"github.com/soldrproxy/soldr/internal/errs"
)

// MemoryStore is an in-memory Store fake, used by the state machine's fast
// property tests (spec.md §9 Design Note) and by package tests elsewhere
// that only need Store semantics, not real persistence.
type MemoryStore struct {
	mu sync.Mutex

	clock clock.Clock

	nextRequestID int64
	requests      map[int64]domain.Request

	nextAttemptID int64
	attempts      map[int64]domain.Attempt

	nextOriginID int64
	origins      map[int64]domain.Origin
}

// NewMemory returns an empty MemoryStore. A nil clock defaults to Real.
func NewMemory(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryStore{
		clock:    c,
		requests: make(map[int64]domain.Request),
		attempts: make(map[int64]domain.Attempt),
		origins:  make(map[int64]domain.Origin),
	}
}

func (m *MemoryStore) InsertRequest(_ context.Context, method, uri string, headers []domain.Header, body []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRequestID++
	id := m.nextRequestID
	headersCopy := append([]domain.Header(nil), headers...)
	bodyCopy := append([]byte(nil), body...)

	m.requests[id] = domain.Request{
		ID:        id,
		Method:    method,
		URI:       uri,
		Headers:   headersCopy,
		Body:      bodyCopy,
		State:     domain.StateCreated,
		CreatedAt: m.clock.Now().Unix(),
	}
	return id, nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id int64) (domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return domain.Request{}, errs.Wrap("store.get_request", "", errs.ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) UpdateRequestState(_ context.Context, id int64, state domain.RequestState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return errs.Wrap("store.update_request_state", "", errs.ErrNotFound)
	}
	r.State = state
	m.requests[id] = r
	return nil
}

func (m *MemoryStore) RetryRequest(_ context.Context, id int64, state domain.RequestState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return errs.Wrap("store.retry_request", "", errs.ErrNotFound)
	}

	count := m.attemptCountLocked(id)
	if count >= maxAttemptsBeforeDeadLetter {
		return nil
	}

	delayMS := backoff.Delay(int(count), nil)
	nowMS := m.clock.Now().UnixMilli()

	r.State = state
	r.RetryMSAt = nowMS + delayMS
	m.requests[id] = r
	return nil
}

func (m *MemoryStore) AttemptsReachedThreshold(_ context.Context, id int64, threshold int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attemptCountLocked(id) >= threshold, nil
}

func (m *MemoryStore) attemptCountLocked(requestID int64) int64 {
	var count int64
	for _, a := range m.attempts {
		if a.RequestID == requestID {
			count++
		}
	}
	return count
}

func (m *MemoryStore) ListFailedRequests(_ context.Context) ([]domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowMS := m.clock.Now().UnixMilli()
	var out []domain.Request
	for _, r := range m.requests {
		switch r.State {
		case domain.StateCreated, domain.StateFailed, domain.StatePanic, domain.StateTimeout:
			if r.RetryMSAt <= nowMS {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetryMSAt < out[j].RetryMSAt })
	if len(out) > 5 {
		out = out[:5]
	}
	return out, nil
}

func (m *MemoryStore) AddRequestToQueue(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return errs.Wrap("store.add_request_to_queue", "", errs.ErrNotFound)
	}
	r.State = domain.StateCreated
	r.RetryMSAt = m.clock.Now().UnixMilli()
	m.requests[id] = r
	return nil
}

func (m *MemoryStore) PurgeCompletedRequests(_ context.Context, days int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().AddDate(0, 0, -days).Unix()
	var purged int64
	for id, r := range m.requests {
		if r.State == domain.StateCompleted && r.CreatedAt < cutoff {
			delete(m.requests, id)
			purged++
		}
	}
	return purged, nil
}

func (m *MemoryStore) ListRequests(_ context.Context, filter RequestFilter) ([]domain.Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idSet := make(map[int64]bool, len(filter.IDs))
	for _, id := range filter.IDs {
		idSet[id] = true
	}
	stateSet := make(map[domain.RequestState]bool, len(filter.States))
	for _, s := range filter.States {
		stateSet[s] = true
	}

	var matched []domain.Request
	for _, r := range m.requests {
		if len(idSet) > 0 && !idSet[r.ID] {
			continue
		}
		if len(stateSet) > 0 && !stateSet[r.State] {
			continue
		}
		matched = append(matched, r)
	}

	sortRequests(matched, filter.Sort, filter.Order)

	total := len(matched)
	start, end := clampRange(filter.Start, filter.End, total)
	return matched[start:end], total, nil
}

func sortRequests(reqs []domain.Request, field string, order SortOrder) {
	less := func(i, j int) bool {
		switch field {
		case "created_at":
			return reqs[i].CreatedAt < reqs[j].CreatedAt
		case "state":
			return reqs[i].State < reqs[j].State
		case "retry_ms_at":
			return reqs[i].RetryMSAt < reqs[j].RetryMSAt
		default:
			return reqs[i].ID < reqs[j].ID
		}
	}
	sort.Slice(reqs, func(i, j int) bool {
		if order == Descending {
			return less(j, i)
		}
		return less(i, j)
	})
}

func clampRange(start, end, total int) (int, int) {
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	if end <= start {
		end = start + 50
	}
	if end > total {
		end = total
	}
	return start, end
}

func (m *MemoryStore) ForkRequest(_ context.Context, fromID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, ok := m.requests[fromID]
	if !ok {
		return 0, errs.Wrap("store.fork_request", "", errs.ErrNotFound)
	}

	m.nextRequestID++
	id := m.nextRequestID
	now := m.clock.Now()
	m.requests[id] = domain.Request{
		ID:            id,
		Method:        from.Method,
		URI:           from.URI,
		Headers:       append([]domain.Header(nil), from.Headers...),
		Body:          append([]byte(nil), from.Body...),
		State:         domain.StateCreated,
		CreatedAt:     now.Unix(),
		RetryMSAt:     now.UnixMilli(),
		FromRequestID: fromID,
	}
	return id, nil
}

func (m *MemoryStore) InsertAttempt(_ context.Context, requestID int64, status int, body []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAttemptID++
	id := m.nextAttemptID
	m.attempts[id] = domain.Attempt{
		ID:             id,
		RequestID:      requestID,
		ResponseStatus: status,
		ResponseBody:   append([]byte(nil), body...),
		CreatedAt:      m.clock.Now().Unix(),
	}
	return id, nil
}

func (m *MemoryStore) AttemptCount(_ context.Context, requestID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attemptCountLocked(requestID), nil
}

func (m *MemoryStore) ListAttemptsByRequest(_ context.Context, requestID int64) ([]domain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Attempt
	for _, a := range m.attempts {
		if a.RequestID == requestID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListAttempts(_ context.Context, filter AttemptFilter) ([]domain.Attempt, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []domain.Attempt
	for _, a := range m.attempts {
		if filter.RequestID != 0 && a.RequestID != filter.RequestID {
			continue
		}
		matched = append(matched, a)
	}

	sort.Slice(matched, func(i, j int) bool {
		less := matched[i].ID < matched[j].ID
		if filter.Sort == "response_status" {
			less = matched[i].ResponseStatus < matched[j].ResponseStatus
		}
		if filter.Order == Descending {
			return !less
		}
		return less
	})

	total := len(matched)
	start, end := clampRange(filter.Start, filter.End, total)
	return matched[start:end], total, nil
}

func (m *MemoryStore) InsertOrigin(_ context.Context, o domain.Origin) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextOriginID++
	id := m.nextOriginID
	now := m.clock.Now().Unix()
	o.ID = id
	o.CreatedAt = now
	o.UpdatedAt = now
	m.origins[id] = o
	return id, nil
}

func (m *MemoryStore) UpdateOrigin(_ context.Context, o domain.Origin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.origins[o.ID]
	if !ok {
		return errs.Wrap("store.update_origin", "", errs.ErrNotFound)
	}
	o.CreatedAt = existing.CreatedAt
	o.UpdatedAt = m.clock.Now().Unix()
	m.origins[o.ID] = o
	return nil
}

func (m *MemoryStore) DeleteOrigin(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.origins, id)
	return nil
}

func (m *MemoryStore) GetOrigin(_ context.Context, id int64) (domain.Origin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.origins[id]
	if !ok {
		return domain.Origin{}, errs.Wrap("store.get_origin", "", errs.ErrNotFound)
	}
	return o, nil
}

func (m *MemoryStore) ListOrigins(_ context.Context) ([]domain.Origin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Origin, 0, len(m.origins))
	for _, o := range m.origins {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)

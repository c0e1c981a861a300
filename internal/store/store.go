// Package store implements the durable store of spec.md §4.1 over
// database/sql, and the in-memory fake the delivery state machine's fast
// property tests run against (spec.md §9 Design Note: "A test double
// implements it in memory for fast property tests").
package store

import (
	"context"

	"github.com/soldrproxy/soldr/internal/domain"
)

// SortOrder is the direction a List* query's ORDER BY applies.
type SortOrder string

const (
	Ascending  SortOrder = "ASC"
	Descending SortOrder = "DESC"
)

// RequestFilter narrows ListRequests per the management contract of
// spec.md §6: optional id/state sets, a bounded range, and a whitelisted
// sort field.
type RequestFilter struct {
	IDs    []int64
	States []domain.RequestState
	Start  int
	End    int
	Sort   string
	Order  SortOrder
}

// AttemptFilter narrows ListAttempts, optionally scoped to one request.
type AttemptFilter struct {
	RequestID int64 // 0 means unscoped
	Start     int
	End       int
	Sort      string
	Order     SortOrder
}

// Store is the storage interface the state machine and retry queue depend
// on, enumerating spec.md §4.1's operations. The production implementation
// is *SQLiteStore; tests run against *MemoryStore.
type Store interface {
	// Requests

	InsertRequest(ctx context.Context, method, uri string, headers []domain.Header, body []byte) (int64, error)
	GetRequest(ctx context.Context, id int64) (domain.Request, error)
	UpdateRequestState(ctx context.Context, id int64, state domain.RequestState) error
	RetryRequest(ctx context.Context, id int64, state domain.RequestState) error
	AttemptsReachedThreshold(ctx context.Context, id int64, threshold int64) (bool, error)
	ListFailedRequests(ctx context.Context) ([]domain.Request, error)
	AddRequestToQueue(ctx context.Context, id int64) error
	PurgeCompletedRequests(ctx context.Context, days int) (int64, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]domain.Request, int, error)
	ForkRequest(ctx context.Context, fromID int64) (int64, error)

	// Attempts

	InsertAttempt(ctx context.Context, requestID int64, status int, body []byte) (int64, error)
	AttemptCount(ctx context.Context, requestID int64) (int64, error)
	ListAttemptsByRequest(ctx context.Context, requestID int64) ([]domain.Attempt, error)
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]domain.Attempt, int, error)

	// Origins

	InsertOrigin(ctx context.Context, o domain.Origin) (int64, error)
	UpdateOrigin(ctx context.Context, o domain.Origin) error
	DeleteOrigin(ctx context.Context, id int64) error
	GetOrigin(ctx context.Context, id int64) (domain.Origin, error)
	ListOrigins(ctx context.Context) ([]domain.Origin, error)
}

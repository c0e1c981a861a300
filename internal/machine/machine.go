// Package machine implements the delivery state machine of spec.md §4.3:
// a Go sum type driving one request from receipt to a terminal or
// retry-eligible resting state. Each variant is a struct, each transition
// its step method, and Drive loops calling step until it returns nil —
// the shape spec.md §9's design note asks for, mirrored here instead of
// any control-flow framework the teacher happens to use elsewhere.
package machine

import (
	"context"

	"github.com/soldrproxy/soldr/internal/alert"
	"github.com/soldrproxy/soldr/internal/cache"
	"github.com/soldrproxy/soldr/internal/clock"
	"github.com/soldrproxy/soldr/internal/logging"
	"github.com/soldrproxy/soldr/internal/store"
	"github.com/soldrproxy/soldr/internal/upstream"
)

// Services bundles everything a State's step method needs. One Services
// value is built at bootstrap and shared by every drive, concurrently.
type Services struct {
	Store    store.Store
	Cache    *cache.OriginCache
	Alert    alert.Sink
	Upstream *upstream.Client
	Logger   logging.Logger
	Clock    clock.Clock
}

// State is one node of the delivery state machine. step performs this
// state's side effect and returns the next state, or nil if the drive is
// done (terminal outcome, or retry-eligible rest point reached).
type State interface {
	step(ctx context.Context, svc *Services) (State, error)
}

package machine

import (
	"context"

	"github.com/soldrproxy/soldr/internal/domain"
	"github.com/soldrproxy/soldr/internal/upstream"
)

// Received is the in-memory entry point: an inbound HTTP request that has
// not yet touched the store (spec.md §4.3). A drive started here persists
// the request and then delivers it. Ingest persists the request itself
// before responding and starts its drive from Created instead.
type Received struct {
	Method  string
	URI     string
	Headers []domain.Header
	Body    []byte
}

func (s Received) step(ctx context.Context, svc *Services) (State, error) {
	id, err := svc.Store.InsertRequest(ctx, s.Method, s.URI, s.Headers, s.Body)
	if err != nil {
		return nil, err
	}
	return Created{RequestID: id}, nil
}

// Created is the first persisted state: a row exists, state=Created, no
// further action needed before moving on.
type Created struct {
	RequestID int64
}

func (s Created) step(context.Context, *Services) (State, error) {
	return Enqueued{RequestID: s.RequestID}, nil
}

func (s Created) panicState() Panic { return Panic{RequestID: s.RequestID} }

// Enqueued persists state=Enqueued, then moves to origin resolution. Every
// retry-queue re-drive re-enters the machine exactly here (spec.md §4.5).
type Enqueued struct {
	RequestID int64
}

func (s Enqueued) step(ctx context.Context, svc *Services) (State, error) {
	if err := svc.Store.UpdateRequestState(ctx, s.RequestID, domain.StateEnqueued); err != nil {
		return nil, err
	}
	return UnmappedOrigin{RequestID: s.RequestID}, nil
}

func (s Enqueued) panicState() Panic { return Panic{RequestID: s.RequestID} }

// UnmappedOrigin resolves the request's Host authority against the origin
// cache. A hit moves to Active; a miss is terminal at Skipped.
type UnmappedOrigin struct {
	RequestID int64
}

func (s UnmappedOrigin) step(ctx context.Context, svc *Services) (State, error) {
	req, err := svc.Store.GetRequest(ctx, s.RequestID)
	if err != nil {
		return nil, err
	}

	authority, ok := resolveAuthority(req)
	if !ok {
		return Skipped{RequestID: s.RequestID}, nil
	}

	origin, ok := svc.Cache.Get(authority)
	if !ok {
		return Skipped{RequestID: s.RequestID}, nil
	}

	return Active{RequestID: s.RequestID, Origin: origin}, nil
}

func (s UnmappedOrigin) panicState() Panic { return Panic{RequestID: s.RequestID} }

// Active sends the request upstream and records the outcome as an
// Attempt. Exactly one of Completed/Timeout/Failed/Panic follows.
type Active struct {
	RequestID int64
	Origin    domain.Origin
}

func (s Active) step(ctx context.Context, svc *Services) (State, error) {
	req, err := svc.Store.GetRequest(ctx, s.RequestID)
	if err != nil {
		return nil, err
	}

	status, body, sendErr := svc.Upstream.Send(ctx, s.Origin, req)
	if sendErr != nil {
		// Transport failure: no response was observed, so spec.md §4.3
		// writes no attempts row for this path.
		return Panic{RequestID: s.RequestID, Origin: s.Origin}, nil
	}

	if _, err := svc.Store.InsertAttempt(ctx, s.RequestID, status, body); err != nil {
		return nil, err
	}

	switch {
	case status >= 200 && status < 300:
		return Completed{RequestID: s.RequestID}, nil
	case status == upstream.TimeoutStatus:
		return Timeout{RequestID: s.RequestID, Origin: s.Origin}, nil
	default:
		return Failed{RequestID: s.RequestID, Origin: s.Origin}, nil
	}
}

func (s Active) panicState() Panic { return Panic{RequestID: s.RequestID, Origin: s.Origin} }

// Completed is terminal: state=Completed is persisted and the drive ends.
// Driving an already-Completed request is idempotent — no Attempt is
// written here, only the (already-true) state update.
type Completed struct {
	RequestID int64
}

func (s Completed) step(ctx context.Context, svc *Services) (State, error) {
	if err := svc.Store.UpdateRequestState(ctx, s.RequestID, domain.StateCompleted); err != nil {
		svc.Logger.Error("failed to persist completed state", map[string]interface{}{
			"request_id": s.RequestID, "error": err.Error(),
		})
	}
	return nil, nil
}

// Failed is a retry-eligible resting state. retry_request reschedules it
// (subject to the 20-attempt ceiling); an alert fires if the origin's
// threshold has been reached.
type Failed struct {
	RequestID int64
	Origin    domain.Origin
}

func (s Failed) step(ctx context.Context, svc *Services) (State, error) {
	return restAndMaybeAlert(ctx, svc, s.RequestID, s.Origin, domain.StateFailed, false)
}

// Timeout behaves exactly like Failed but for a synthesized 504.
type Timeout struct {
	RequestID int64
	Origin    domain.Origin
}

func (s Timeout) step(ctx context.Context, svc *Services) (State, error) {
	return restAndMaybeAlert(ctx, svc, s.RequestID, s.Origin, domain.StateTimeout, false)
}

// Panic is reached when no HTTP response was observed at all (transport
// failure, or a recovered runtime panic mid-drive). It alerts
// unconditionally, per spec.md §4.3's "Panic | ... | unconditional alert".
type Panic struct {
	RequestID int64
	Origin    domain.Origin
}

func (s Panic) step(ctx context.Context, svc *Services) (State, error) {
	return restAndMaybeAlert(ctx, svc, s.RequestID, s.Origin, domain.StatePanic, true)
}

// restAndMaybeAlert implements the shared shape of Failed/Timeout/Panic:
// retry_request, then an alert that's either threshold-gated or
// unconditional. All three are terminal for this drive (the retry queue
// re-enters at Enqueued later).
func restAndMaybeAlert(ctx context.Context, svc *Services, requestID int64, origin domain.Origin, state domain.RequestState, unconditionalAlert bool) (State, error) {
	if err := svc.Store.RetryRequest(ctx, requestID, state); err != nil {
		svc.Logger.Error("failed to schedule retry", map[string]interface{}{
			"request_id": requestID, "state": state, "error": err.Error(),
		})
		return nil, nil
	}

	shouldAlert := unconditionalAlert
	if !shouldAlert && origin.AlertThreshold > 0 {
		reached, err := svc.Store.AttemptsReachedThreshold(ctx, requestID, origin.AlertThreshold)
		if err != nil {
			svc.Logger.Error("failed to check alert threshold", map[string]interface{}{
				"request_id": requestID, "error": err.Error(),
			})
		} else {
			shouldAlert = reached
		}
	}

	if shouldAlert {
		req, err := svc.Store.GetRequest(ctx, requestID)
		if err != nil {
			svc.Logger.Error("failed to load request for alert", map[string]interface{}{
				"request_id": requestID, "error": err.Error(),
			})
			return nil, nil
		}
		count, err := svc.Store.AttemptCount(ctx, requestID)
		if err != nil {
			count = 0
		}
		svc.Alert.Alert(ctx, origin, req, count)
	}

	return nil, nil
}

// Skipped is terminal: no origin matched the request's authority.
type Skipped struct {
	RequestID int64
}

func (s Skipped) step(ctx context.Context, svc *Services) (State, error) {
	if err := svc.Store.UpdateRequestState(ctx, s.RequestID, domain.StateSkipped); err != nil {
		svc.Logger.Error("failed to persist skipped state", map[string]interface{}{
			"request_id": s.RequestID, "error": err.Error(),
		})
	}
	return nil, nil
}

var (
	_ State = Received{}
	_ State = Created{}
	_ State = Enqueued{}
	_ State = UnmappedOrigin{}
	_ State = Active{}
	_ State = Completed{}
	_ State = Failed{}
	_ State = Timeout{}
	_ State = Panic{}
	_ State = Skipped{}
)

// Package alert implements the alerting sink of spec.md §4.4: a
// fire-and-forget SMTP notification sent when a request crosses an
// origin's configured alert threshold. Shaped after
// other_examples/…-btouchard-ackify-ce__…email-worker.go's Sender
// abstraction and retryable/permanent split, simplified because spec.md
// explicitly makes alert delivery best-effort with no retry queue of its
// own.
package alert

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/soldrproxy/soldr/internal/domain"
)

// Sink sends an alert that a request has failed repeatedly against o.
// Implementations never return an error to the caller: spec.md §4.4
// requires alert delivery to be fire-and-forget, logging failures rather
// than propagating them into the delivery state machine.
type Sink interface {
	Alert(ctx context.Context, o domain.Origin, req domain.Request, attemptCount int64)
}

// Noop is the Sink used when no alerting transport is configured.
type Noop struct{}

func (Noop) Alert(context.Context, domain.Origin, domain.Request, int64) {}

var _ Sink = Noop{}
var _ Sink = (*SMTPSink)(nil)

// sanityCheck reports whether o carries every field SMTPSink needs to
// compose and send a message (spec.md §3: "if any required field is
// missing, alerting is a no-op that logs").
func sanityCheck(o domain.Origin) bool {
	return o.AlertingConfigured()
}

func subject(o domain.Origin, req domain.Request, attemptCount int64) string {
	return fmt.Sprintf("soldr: %d delivery failures for %s", attemptCount, o.Domain)
}

func body(o domain.Origin, req domain.Request, attemptCount int64, correlationID string) string {
	return fmt.Sprintf(
		"request #%d (%s %s) has failed %d times against origin %q (%s).\ncorrelation_id: %s\n",
		req.ID, req.Method, req.URI, attemptCount, o.Domain, o.OriginURI, correlationID,
	)
}

// newCorrelationID returns an identifier for tying an alert to the log
// lines a reader would search for around it.
func newCorrelationID() string {
	return uuid.NewString()
}

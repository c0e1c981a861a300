package alert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soldrproxy/soldr/internal/domain"
)

func TestSanityCheck_MissingFieldsNoop(t *testing.T) {
	assert.False(t, sanityCheck(domain.Origin{Domain: "a.test"}))
	assert.False(t, sanityCheck(domain.Origin{Domain: "a.test", AlertEmail: "ops@a.test"}))
	assert.True(t, sanityCheck(domain.Origin{
		Domain: "a.test", AlertEmail: "ops@a.test", SMTPHost: "smtp.a.test", SMTPPort: 587,
	}))
}

func TestSMTPSink_MissingConfigIsNoop(t *testing.T) {
	sink := NewSMTPSink(nil)
	// Must not attempt to dial anything, and must not panic.
	sink.Alert(context.Background(), domain.Origin{Domain: "unconfigured.test"}, domain.Request{ID: 1}, 3)
}

func TestNoopSink_DoesNothing(t *testing.T) {
	var s Sink = Noop{}
	s.Alert(context.Background(), domain.Origin{}, domain.Request{}, 0)
}

func TestSubjectAndBody_IncludeOriginAndCounts(t *testing.T) {
	o := domain.Origin{Domain: "a.test", OriginURI: "http://127.0.0.1"}
	req := domain.Request{ID: 42, Method: "POST", URI: "/hook"}

	subj := subject(o, req, 5)
	assert.Contains(t, subj, "a.test")
	assert.Contains(t, subj, "5")

	b := body(o, req, 5, "corr-1")
	assert.Contains(t, b, "42")
	assert.Contains(t, b, "corr-1")
	assert.Contains(t, b, "a.test")
}

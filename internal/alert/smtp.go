package alert

import (
	"context"

	gomail "github.com/go-mail/mail/v2"

	"github.com/soldrproxy/soldr/internal/domain"
	"github.com/soldrproxy/soldr/internal/logging"
)

// fromAddress is the envelope sender used for every alert. Origins don't
// configure one individually; spec.md §3 only lists recipient-side SMTP
// fields.
const fromAddress = "alerts@soldr.local"

// SMTPSink sends alert emails over SMTP, opening a fresh connection per
// alert. One SMTPSink instance is shared across all origins; per-origin
// SMTP settings are read from domain.Origin on every call.
type SMTPSink struct {
	logger logging.Logger
}

// NewSMTPSink returns a Sink that delivers over SMTP. A nil logger
// defaults to a no-op.
func NewSMTPSink(logger logging.Logger) *SMTPSink {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &SMTPSink{logger: logger}
}

// Alert composes and sends the alert email. Per spec.md §4.4 this never
// blocks the caller on delivery outcome beyond the SMTP round trip itself,
// and any failure is logged, never returned.
func (s *SMTPSink) Alert(ctx context.Context, o domain.Origin, req domain.Request, attemptCount int64) {
	if !sanityCheck(o) {
		s.logger.Debug("alert skipped: origin missing required smtp/email fields", map[string]interface{}{
			"origin_domain": o.Domain,
		})
		return
	}

	correlationID := newCorrelationID()

	m := gomail.NewMessage()
	m.SetHeader("From", fromAddress)
	m.SetHeader("To", o.AlertEmail)
	m.SetHeader("Subject", subject(o, req, attemptCount))
	m.SetBody("text/plain", body(o, req, attemptCount, correlationID))

	dialer := gomail.NewDialer(o.SMTPHost, o.SMTPPort, o.SMTPUsername, o.SMTPPassword)
	dialer.SSL = o.SMTPTLS

	if err := dialer.DialAndSend(m); err != nil {
		s.logger.WarnWithContext(ctx, "alert delivery failed", map[string]interface{}{
			"origin_domain":  o.Domain,
			"request_id":     req.ID,
			"attempt_count":  attemptCount,
			"correlation_id": correlationID,
			"error":          err.Error(),
		})
		return
	}

	s.logger.InfoWithContext(ctx, "alert delivered", map[string]interface{}{
		"origin_domain":  o.Domain,
		"request_id":     req.ID,
		"correlation_id": correlationID,
	})
}

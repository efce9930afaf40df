// Package notify delivers out-of-band incident notifications: alert email to
// the account owner and signed webhooks to an operator endpoint.
package notify

import (
	"context"
	"log/slog"

	"github.com/securewatch/securewatch/internal/incidents"
)

// Kind selects the email variant.
type Kind int

const (
	// KindThreat reports a blocked or high-risk login.
	KindThreat Kind = iota
	// KindSafeLogin confirms an allowed login.
	KindSafeLogin
)

func (k Kind) String() string {
	if k == KindSafeLogin {
		return "safe_login"
	}
	return "threat"
}

// Mailer sends incident email to a single recipient.
type Mailer interface {
	SendIncident(ctx context.Context, to string, rec *incidents.Record, kind Kind) error
}

// LogNotifier is the Mailer used when no SMTP relay is configured. It records
// what would have been sent.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only mailer.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendIncident logs the notification and never fails.
func (n *LogNotifier) SendIncident(_ context.Context, to string, rec *incidents.Record, kind Kind) error {
	n.logger.Info("incident notification (smtp not configured)",
		"to", to,
		"kind", kind.String(),
		"incident_id", rec.ID,
		"user_id", rec.Identity,
		"reason", rec.Reason,
		"risk_score", rec.Risk,
	)
	return nil
}

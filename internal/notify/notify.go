// Package notify delivers lead notifications to lawyers and clients.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/jurismatch/backend/internal/models"
)

// NewLeadNotice tells a lawyer that a lead entered their tier.
type NewLeadNotice struct {
	LeadID      uuid.UUID
	LawyerID    uuid.UUID
	LawyerName  string
	LawyerEmail string
	Tier        models.Plan
	Score       int
	Cycle       int
	City        string
	State       string
	Urgency     models.Urgency
}

// LeadAcceptedNotice tells a client that a lawyer took their lead.
type LeadAcceptedNotice struct {
	LeadID          uuid.UUID
	MatchID         uuid.UUID
	ConversationRef uuid.UUID
	LawyerName      string
	ClientName      string
	ClientEmail     string
}

type Notifier interface {
	NewLeadAvailable(ctx context.Context, n NewLeadNotice) error
	LeadAccepted(ctx context.Context, n LeadAcceptedNotice) error
}

// LogNotifier only logs. It is used when SMTP is not configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NewLeadAvailable(_ context.Context, msg NewLeadNotice) error {
	n.logger.Info("new lead available",
		"lead_id", msg.LeadID, "lawyer_id", msg.LawyerID, "tier", msg.Tier, "score", msg.Score, "cycle", msg.Cycle)
	return nil
}

func (n *LogNotifier) LeadAccepted(_ context.Context, msg LeadAcceptedNotice) error {
	n.logger.Info("lead accepted notice",
		"lead_id", msg.LeadID, "match_id", msg.MatchID, "conversation_ref", msg.ConversationRef)
	return nil
}

// Capture reports a delivery failure to Sentry. Without a configured client
// it does nothing.
func Capture(err error, kind string, fields map[string]any) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("notification", kind)
		for k, v := range fields {
			scope.SetExtra(k, fmt.Sprint(v))
		}
		sentry.CaptureException(err)
	})
}

// Package payments turns Stripe checkout webhooks into credit purchases.
package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jurismatch/backend/internal/db"
	"github.com/jurismatch/backend/internal/ledger"
	"github.com/jurismatch/backend/internal/models"
)

const ProviderStripe = "stripe"

// txAttempts bounds retries when concurrent redeliveries of one event
// conflict on the serializable top-up transaction.
const txAttempts = 3

type EventStore interface {
	// RecordPaymentEvent returns false when the event was already recorded.
	RecordPaymentEvent(ctx context.Context, tx pgx.Tx, e *models.PaymentEvent) (bool, error)
}

type Crediter interface {
	Add(ctx context.Context, tx pgx.Tx, p ledger.AddParams) (*models.CreditTransaction, error)
}

// Result is the webhook acknowledgement body.
type Result struct {
	EventID   string     `json:"eventId"`
	Handled   bool       `json:"handled"`
	Duplicate bool       `json:"duplicate,omitempty"`
	LawyerID  *uuid.UUID `json:"lawyerId,omitempty"`
	Credits   int        `json:"credits,omitempty"`
	Balance   int        `json:"balance,omitempty"`
}

type Service struct {
	verifier *Verifier
	events   EventStore
	ledger   Crediter
	db       db.TxBeginner
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(verifier *Verifier, events EventStore, credits Crediter, beginner db.TxBeginner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{verifier: verifier, events: events, ledger: credits, db: beginner, logger: logger, now: time.Now}
}

// HandleWebhook verifies and applies one Stripe event. Each event credits at
// most once; redeliveries are acknowledged as duplicates.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Result, error) {
	event, err := s.verifier.Verify(payload, signature)
	if err != nil {
		s.logger.Warn("stripe webhook rejected", "error", err)
		return nil, err
	}
	res := &Result{EventID: event.ID}

	if event.Type != EventCheckoutCompleted {
		s.logger.Debug("stripe event ignored", "event_id", event.ID, "event_type", event.Type)
		return res, nil
	}
	purchase, paid, err := ParseCheckout(event)
	if err != nil {
		s.logger.Error("stripe checkout rejected", "event_id", event.ID, "error", err)
		return nil, err
	}
	if !paid {
		return res, nil
	}

	err = db.WithRetry(ctx, s.db, db.Serializable, txAttempts, func(tx pgx.Tx) error {
		*res = Result{EventID: event.ID}
		fresh, err := s.events.RecordPaymentEvent(ctx, tx, &models.PaymentEvent{
			ID:        uuid.New(),
			Provider:  ProviderStripe,
			EventID:   event.ID,
			EventType: string(event.Type),
			CreatedAt: s.now(),
		})
		if err != nil {
			return fmt.Errorf("record payment event: %w", err)
		}
		if !fresh {
			res.Duplicate = true
			return nil
		}
		ref := purchase.SessionID
		entry, err := s.ledger.Add(ctx, tx, ledger.AddParams{
			LawyerID:    purchase.LawyerID,
			Amount:      purchase.Package.Total(),
			Type:        models.TransactionPurchase,
			Description: fmt.Sprintf("Purchase: %s package", purchase.Package.Name),
			ExternalRef: &ref,
		})
		if err != nil {
			return fmt.Errorf("credit purchase: %w", err)
		}
		res.Handled = true
		res.LawyerID = &purchase.LawyerID
		res.Credits = entry.Amount
		res.Balance = entry.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Duplicate {
		s.logger.Info("stripe event already processed", "event_id", event.ID)
	} else {
		s.logger.Info("credits purchased",
			"event_id", event.ID, "lawyer_id", purchase.LawyerID, "package", purchase.Package.ID, "credits", res.Credits)
	}
	return res, nil
}

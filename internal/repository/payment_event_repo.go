package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/jurismatch/backend/internal/models"
)

type PaymentEventRepo struct{}

func NewPaymentEventRepo() *PaymentEventRepo {
	return &PaymentEventRepo{}
}

// RecordPaymentEvent inserts the event and reports false when the provider
// already delivered it.
func (r *PaymentEventRepo) RecordPaymentEvent(ctx context.Context, tx pgx.Tx, e *models.PaymentEvent) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO payment_events (id, provider, event_id, event_type) VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, e.ID, e.Provider, e.EventID, e.EventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jurismatch/backend/internal/models"
)

// NotificationRepo stores the "already notified" markers that keep the tier
// sweep idempotent.
type NotificationRepo struct{}

func NewNotificationRepo() *NotificationRepo {
	return &NotificationRepo{}
}

func (r *NotificationRepo) MarkTierNotified(ctx context.Context, tx pgx.Tx, leadID uuid.UUID, cycle int, tier models.Plan) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO lead_tier_notifications (lead_id, cycle, tier) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, leadID, cycle, tier)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *NotificationRepo) MarkLawyerNotified(ctx context.Context, tx pgx.Tx, leadID uuid.UUID, cycle int, lawyerID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO lead_lawyer_notifications (lead_id, cycle, lawyer_id) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, leadID, cycle, lawyerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jurismatch/backend/internal/models"
)

// LeadRepo reads and writes leads and their clients. It is stateless; every
// call runs on the caller's transaction.
type LeadRepo struct{}

func NewLeadRepo() *LeadRepo {
	return &LeadRepo{}
}

const leadColumns = `id, client_id, practice_area_id, city, state, description, urgency, language, status,
	matched_lawyer_id, matched_at, match_score, distribution_cycle, distribution_started_at, created_at, updated_at`

func scanLead(row pgx.Row) (*models.Lead, error) {
	var l models.Lead
	err := row.Scan(&l.ID, &l.ClientID, &l.PracticeAreaID, &l.City, &l.State, &l.Description, &l.Urgency, &l.Language, &l.Status,
		&l.MatchedLawyerID, &l.MatchedAt, &l.MatchScore, &l.DistributionCycle, &l.DistributionStartedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectLeads(rows pgx.Rows) ([]models.Lead, error) {
	defer rows.Close()
	var list []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *l)
	}
	return list, rows.Err()
}

func (r *LeadRepo) GetLead(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Lead, error) {
	return scanLead(tx.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
}

func (r *LeadRepo) GetLeadForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Lead, error) {
	return scanLead(tx.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 FOR UPDATE`, id))
}

func (r *LeadRepo) UpdateLead(ctx context.Context, tx pgx.Tx, l *models.Lead) error {
	_, err := tx.Exec(ctx, `
		UPDATE leads SET status = $2, matched_lawyer_id = $3, matched_at = $4, match_score = $5,
			distribution_cycle = $6, distribution_started_at = $7, updated_at = now()
		WHERE id = $1
	`, l.ID, l.Status, l.MatchedLawyerID, l.MatchedAt, l.MatchScore, l.DistributionCycle, l.DistributionStartedAt)
	return err
}

func (r *LeadRepo) ListOpenLeads(ctx context.Context, tx pgx.Tx, since time.Time, limit int) ([]models.Lead, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE status <> 'CONVERTED' AND distribution_started_at >= $1
		ORDER BY distribution_started_at
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	return collectLeads(rows)
}

func (r *LeadRepo) ListOpenLeadsByPracticeAreas(ctx context.Context, tx pgx.Tx, areaIDs []uuid.UUID) ([]models.Lead, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE status <> 'CONVERTED' AND practice_area_id = ANY($1)
		ORDER BY created_at
	`, areaIDs)
	if err != nil {
		return nil, err
	}
	return collectLeads(rows)
}

func (r *LeadRepo) ClientExists(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *LeadRepo) GetClient(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Client, error) {
	var c models.Client
	err := tx.QueryRow(ctx,
		`SELECT id, name, email, created_at FROM clients WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

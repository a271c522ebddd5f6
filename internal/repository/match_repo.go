package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jurismatch/backend/internal/models"
)

// MatchRepo persists lead matches and their append-only status history.
type MatchRepo struct{}

func NewMatchRepo() *MatchRepo {
	return &MatchRepo{}
}

const matchColumns = `id, lead_id, lawyer_id, status, tier, match_score, conversation_ref, cycle,
	matched_at, responded_at, converted_at, updated_at`

func scanMatch(row pgx.Row) (*models.LeadMatch, error) {
	var m models.LeadMatch
	err := row.Scan(&m.ID, &m.LeadID, &m.LawyerID, &m.Status, &m.Tier, &m.MatchScore, &m.ConversationRef, &m.Cycle,
		&m.MatchedAt, &m.RespondedAt, &m.ConvertedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMatches(rows pgx.Rows) ([]models.LeadMatch, error) {
	defer rows.Close()
	var list []models.LeadMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

func (r *MatchRepo) InsertMatch(ctx context.Context, tx pgx.Tx, m *models.LeadMatch) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO lead_matches (id, lead_id, lawyer_id, status, tier, match_score, conversation_ref, cycle, matched_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.ID, m.LeadID, m.LawyerID, m.Status, m.Tier, m.MatchScore, m.ConversationRef, m.Cycle, m.MatchedAt, m.UpdatedAt)
	return err
}

func (r *MatchRepo) UpdateMatch(ctx context.Context, tx pgx.Tx, m *models.LeadMatch) error {
	_, err := tx.Exec(ctx, `
		UPDATE lead_matches SET status = $2, responded_at = $3, converted_at = $4, updated_at = $5
		WHERE id = $1
	`, m.ID, m.Status, m.RespondedAt, m.ConvertedAt, m.UpdatedAt)
	return err
}

func (r *MatchRepo) GetMatch(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.LeadMatch, error) {
	return scanMatch(tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM lead_matches WHERE id = $1`, id))
}

func (r *MatchRepo) GetMatchForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.LeadMatch, error) {
	return scanMatch(tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM lead_matches WHERE id = $1 FOR UPDATE`, id))
}

func (r *MatchRepo) LatestMatchForUpdate(ctx context.Context, tx pgx.Tx, leadID uuid.UUID) (*models.LeadMatch, error) {
	return scanMatch(tx.QueryRow(ctx, `
		SELECT `+matchColumns+` FROM lead_matches WHERE lead_id = $1
		ORDER BY matched_at DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`, leadID))
}

func (r *MatchRepo) ListMatchesByLead(ctx context.Context, tx pgx.Tx, leadID uuid.UUID) ([]models.LeadMatch, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+matchColumns+` FROM lead_matches WHERE lead_id = $1 ORDER BY matched_at, id
	`, leadID)
	if err != nil {
		return nil, err
	}
	return collectMatches(rows)
}

func (r *MatchRepo) ListStaleActiveMatches(ctx context.Context, tx pgx.Tx, matchedBefore time.Time, limit int) ([]models.LeadMatch, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+matchColumns+` FROM lead_matches
		WHERE status = 'ACTIVE' AND matched_at < $1
		ORDER BY matched_at
		LIMIT $2
	`, matchedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectMatches(rows)
}

func (r *MatchRepo) AppendStatusChange(ctx context.Context, tx pgx.Tx, c *models.StatusChange) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO lead_match_status_history (id, match_id, from_status, to_status, changed_at, changed_by, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.MatchID, c.From, c.To, c.At, c.By, c.Reason)
	return err
}

func (r *MatchRepo) ListStatusChanges(ctx context.Context, tx pgx.Tx, leadID uuid.UUID) ([]models.StatusChange, error) {
	rows, err := tx.Query(ctx, `
		SELECT h.id, h.match_id, h.from_status, h.to_status, h.changed_at, h.changed_by, h.reason
		FROM lead_match_status_history h
		JOIN lead_matches m ON m.id = h.match_id
		WHERE m.lead_id = $1
		ORDER BY h.seq
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.StatusChange
	for rows.Next() {
		var c models.StatusChange
		if err := rows.Scan(&c.ID, &c.MatchID, &c.From, &c.To, &c.At, &c.By, &c.Reason); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

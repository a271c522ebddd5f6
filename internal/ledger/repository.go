package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jurismatch/backend/internal/models"
)

// Repository is the Postgres Store. It holds no state; every call runs on
// the caller's transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

var _ Store = (*Repository)(nil)

func (r *Repository) EnsureBalance(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO credit_balances (lawyer_id, credits, last_updated)
		VALUES ($1, 0, now())
		ON CONFLICT (lawyer_id) DO NOTHING
	`, lawyerID)
	return err
}

func (r *Repository) GetBalanceForUpdate(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID) (*models.CreditBalance, error) {
	var b models.CreditBalance
	err := tx.QueryRow(ctx, `
		SELECT lawyer_id, credits, last_updated FROM credit_balances WHERE lawyer_id = $1 FOR UPDATE
	`, lawyerID).Scan(&b.LawyerID, &b.Credits, &b.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// DebitCredits relies on the conditional UPDATE rather than the earlier
// read, so a balance can never go below zero even without the row lock.
func (r *Repository) DebitCredits(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID, amount int) (int, error) {
	var newBalance int
	err := tx.QueryRow(ctx, `
		UPDATE credit_balances
		SET credits = credits - $1, last_updated = now()
		WHERE lawyer_id = $2 AND credits >= $1
		RETURNING credits
	`, amount, lawyerID).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientCredits
	}
	return newBalance, err
}

func (r *Repository) CreditCredits(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID, amount int) (int, error) {
	var newBalance int
	err := tx.QueryRow(ctx, `
		UPDATE credit_balances
		SET credits = credits + $1, last_updated = now()
		WHERE lawyer_id = $2
		RETURNING credits
	`, amount, lawyerID).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrBalanceNotFound
	}
	return newBalance, err
}

func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, lawyer_id, type, amount, balance, description, external_ref, lead_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, t.ID, t.LawyerID, t.Type, t.Amount, t.Balance, t.Description, t.ExternalRef, t.LeadID).Scan(&t.CreatedAt)
}

func (r *Repository) HasUsage(ctx context.Context, tx pgx.Tx, lawyerID, leadID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM credit_usages WHERE lawyer_id = $1 AND lead_id = $2)
	`, lawyerID, leadID).Scan(&exists)
	return exists, err
}

func (r *Repository) InsertUsage(ctx context.Context, tx pgx.Tx, u *models.CreditUsage) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_usages (id, lawyer_id, lead_id, transaction_id, credits)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, u.ID, u.LawyerID, u.LeadID, u.TransactionID, u.Credits).Scan(&u.CreatedAt)
}

func (r *Repository) ListTransactions(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, lawyer_id, type, amount, balance, description, external_ref, lead_id, created_at
		FROM credit_transactions WHERE lawyer_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, lawyerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.LawyerID, &t.Type, &t.Amount, &t.Balance, &t.Description, &t.ExternalRef, &t.LeadID, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (r *Repository) SumByType(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID, since time.Time) (map[models.TransactionType]int, error) {
	rows, err := tx.Query(ctx, `
		SELECT type, COALESCE(SUM(amount), 0)
		FROM credit_transactions
		WHERE lawyer_id = $1 AND created_at >= $2
		GROUP BY type
	`, lawyerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[models.TransactionType]int)
	for rows.Next() {
		var typ models.TransactionType
		var sum int
		if err := rows.Scan(&typ, &sum); err != nil {
			return nil, err
		}
		sums[typ] = sum
	}
	return sums, rows.Err()
}

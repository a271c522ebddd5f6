package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jurismatch/backend/internal/db"
	"github.com/jurismatch/backend/internal/models"
)

// Store is the persistence the ledger needs. Every method runs inside the
// caller's transaction.
type Store interface {
	EnsureBalance(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID) error
	GetBalanceForUpdate(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID) (*models.CreditBalance, error)
	// DebitCredits decrements only when credits >= amount and returns
	// ErrInsufficientCredits otherwise.
	DebitCredits(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID, amount int) (newBalance int, err error)
	CreditCredits(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID, amount int) (newBalance int, err error)
	InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error
	HasUsage(ctx context.Context, tx pgx.Tx, lawyerID, leadID uuid.UUID) (bool, error)
	InsertUsage(ctx context.Context, tx pgx.Tx, u *models.CreditUsage) error
	ListTransactions(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID, limit int) ([]models.CreditTransaction, error)
	// SumByType totals signed amounts per type for rows created at or after since.
	SumByType(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID, since time.Time) (map[models.TransactionType]int, error)
}

// Service is the only component that mutates a lawyer's credits. Each
// mutation appends exactly one CreditTransaction whose Balance equals the
// new credits value.
type Service struct {
	store  Store
	db     db.TxBeginner
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, beginner db.TxBeginner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, db: beginner, logger: logger, now: time.Now}
}

// WithClock replaces the clock used for month boundaries and timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AddParams describes a credit increment.
type AddParams struct {
	LawyerID    uuid.UUID
	Amount      int
	Type        models.TransactionType
	Description string
	ExternalRef *string
	LeadID      *uuid.UUID
}

// Add increments the lawyer's balance inside tx. Only PURCHASE, BONUS and
// REFUND are accepted.
func (s *Service) Add(ctx context.Context, tx pgx.Tx, p AddParams) (*models.CreditTransaction, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !p.Type.Incoming() {
		return nil, ErrInvalidType
	}
	if err := s.store.EnsureBalance(ctx, tx, p.LawyerID); err != nil {
		return nil, fmt.Errorf("ensure balance: %w", err)
	}
	if _, err := s.store.GetBalanceForUpdate(ctx, tx, p.LawyerID); err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	newBalance, err := s.store.CreditCredits(ctx, tx, p.LawyerID, p.Amount)
	if err != nil {
		return nil, fmt.Errorf("credit balance: %w", err)
	}
	entry := &models.CreditTransaction{
		ID:          uuid.New(),
		LawyerID:    p.LawyerID,
		Type:        p.Type,
		Amount:      p.Amount,
		Balance:     newBalance,
		Description: p.Description,
		ExternalRef: p.ExternalRef,
		LeadID:      p.LeadID,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertTransaction(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return entry, nil
}

// Consume debits amount for (lawyerID, leadID) exactly once. The balance
// row is locked first, then the usage fence is checked, then the balance.
// A concurrent duplicate that slips past the fence check is rejected by the
// unique constraint on the usage row and reported as ErrAlreadyConsumed.
func (s *Service) Consume(ctx context.Context, tx pgx.Tx, lawyerID, leadID uuid.UUID, amount int) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	bal, err := s.store.GetBalanceForUpdate(ctx, tx, lawyerID)
	if errors.Is(err, ErrBalanceNotFound) {
		return nil, insufficient(0, amount, err)
	}
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	used, err := s.store.HasUsage(ctx, tx, lawyerID, leadID)
	if err != nil {
		return nil, fmt.Errorf("check usage: %w", err)
	}
	if used {
		return nil, ErrAlreadyConsumed
	}

	if bal.Credits < amount {
		return nil, insufficient(bal.Credits, amount, nil)
	}
	newBalance, err := s.store.DebitCredits(ctx, tx, lawyerID, amount)
	if errors.Is(err, ErrInsufficientCredits) {
		return nil, insufficient(bal.Credits, amount, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("debit balance: %w", err)
	}

	lead := leadID
	entry := &models.CreditTransaction{
		ID:          uuid.New(),
		LawyerID:    lawyerID,
		Type:        models.TransactionConsume,
		Amount:      -amount,
		Balance:     newBalance,
		Description: "Lead accepted",
		LeadID:      &lead,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertTransaction(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	usage := &models.CreditUsage{
		ID:            uuid.New(),
		LawyerID:      lawyerID,
		LeadID:        leadID,
		TransactionID: entry.ID,
		Credits:       amount,
		CreatedAt:     entry.CreatedAt,
	}
	if err := s.store.InsertUsage(ctx, tx, usage); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, ErrAlreadyConsumed
		}
		return nil, fmt.Errorf("insert usage: %w", err)
	}
	return entry, nil
}

// Refund gives credits back for a lead, e.g. when support voids a match.
func (s *Service) Refund(ctx context.Context, tx pgx.Tx, lawyerID, leadID uuid.UUID, amount int, reason string) (*models.CreditTransaction, error) {
	if reason == "" {
		reason = "Refund"
	}
	return s.Add(ctx, tx, AddParams{
		LawyerID:    lawyerID,
		Amount:      amount,
		Type:        models.TransactionRefund,
		Description: reason,
		LeadID:      &leadID,
	})
}

// Expire removes up to amount credits, never more than the lawyer holds.
// It returns nil when there was nothing to expire.
func (s *Service) Expire(ctx context.Context, tx pgx.Tx, lawyerID uuid.UUID, amount int, reason string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.store.EnsureBalance(ctx, tx, lawyerID); err != nil {
		return nil, fmt.Errorf("ensure balance: %w", err)
	}
	bal, err := s.store.GetBalanceForUpdate(ctx, tx, lawyerID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	n := min(amount, bal.Credits)
	if n == 0 {
		return nil, nil
	}
	newBalance, err := s.store.DebitCredits(ctx, tx, lawyerID, n)
	if err != nil {
		return nil, fmt.Errorf("debit balance: %w", err)
	}
	if reason == "" {
		reason = "Credits expired"
	}
	entry := &models.CreditTransaction{
		ID:          uuid.New(),
		LawyerID:    lawyerID,
		Type:        models.TransactionExpire,
		Amount:      -n,
		Balance:     newBalance,
		Description: reason,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertTransaction(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return entry, nil
}

// AddCredits runs Add in its own serializable transaction.
func (s *Service) AddCredits(ctx context.Context, p AddParams) (*models.CreditTransaction, error) {
	var entry *models.CreditTransaction
	err := db.WithTx(ctx, s.db, db.Serializable, func(tx pgx.Tx) error {
		var err error
		entry, err = s.Add(ctx, tx, p)
		return err
	})
	return entry, err
}

// ExpireCredits runs Expire in its own serializable transaction.
func (s *Service) ExpireCredits(ctx context.Context, lawyerID uuid.UUID, amount int, reason string) (*models.CreditTransaction, error) {
	var entry *models.CreditTransaction
	err := db.WithTx(ctx, s.db, db.Serializable, func(tx pgx.Tx) error {
		var err error
		entry, err = s.Expire(ctx, tx, lawyerID, amount, reason)
		return err
	})
	return entry, err
}

// Balance returns the lawyer's balance, creating a zero row on first access.
func (s *Service) Balance(ctx context.Context, lawyerID uuid.UUID) (*models.CreditBalance, error) {
	var bal *models.CreditBalance
	err := db.WithTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := s.store.EnsureBalance(ctx, tx, lawyerID); err != nil {
			return fmt.Errorf("ensure balance: %w", err)
		}
		var err error
		bal, err = s.store.GetBalanceForUpdate(ctx, tx, lawyerID)
		return err
	})
	return bal, err
}

// History returns the newest transactions first.
func (s *Service) History(ctx context.Context, lawyerID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var list []models.CreditTransaction
	err := db.WithTx(ctx, s.db, db.ReadOnly, func(tx pgx.Tx) error {
		var err error
		list, err = s.store.ListTransactions(ctx, tx, lawyerID, limit)
		return err
	})
	return list, err
}

// Stats aggregates lifetime and current-month totals from the ledger.
func (s *Service) Stats(ctx context.Context, lawyerID uuid.UUID) (*models.CreditStats, error) {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var lifetime, month map[models.TransactionType]int
	err := db.WithTx(ctx, s.db, db.ReadOnly, func(tx pgx.Tx) error {
		var err error
		if lifetime, err = s.store.SumByType(ctx, tx, lawyerID, time.Time{}); err != nil {
			return fmt.Errorf("sum lifetime: %w", err)
		}
		if month, err = s.store.SumByType(ctx, tx, lawyerID, monthStart); err != nil {
			return fmt.Errorf("sum month: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats := &models.CreditStats{
		Lifetime:     totals(lifetime),
		CurrentMonth: totals(month),
	}
	for _, v := range lifetime {
		stats.Balance += v
	}
	return stats, nil
}

func totals(sums map[models.TransactionType]int) models.CreditTotals {
	return models.CreditTotals{
		Purchased: sums[models.TransactionPurchase],
		Bonus:     sums[models.TransactionBonus],
		Refunded:  sums[models.TransactionRefund],
		Consumed:  -sums[models.TransactionConsume],
		Expired:   -sums[models.TransactionExpire],
	}
}

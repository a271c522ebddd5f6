package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jurismatch/backend/internal/apperr"
	"github.com/jurismatch/backend/internal/db"
	"github.com/jurismatch/backend/internal/ledger"
	"github.com/jurismatch/backend/internal/models"
)

// AcceptResult is returned to a lawyer who successfully accepted a lead.
type AcceptResult struct {
	MatchID         uuid.UUID
	ConversationRef uuid.UUID
	CreditsConsumed int
	Balance         int
	Score           int
	Tier            models.Plan
}

// AcceptorConfig bounds one accept call.
type AcceptorConfig struct {
	CreditCost  int
	Timeout     time.Duration
	MaxAttempts int
}

// Acceptor runs the accept use case: eligibility, debit and match creation
// commit together or not at all.
type Acceptor struct {
	db          db.TxBeginner
	lawyers     LawyerStore
	leads       LeadStore
	matches     MatchStore
	credits     CreditConsumer
	distributor *Distributor
	machine     *MatchMachine
	queue       NotificationQueue
	cfg         AcceptorConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewAcceptor(
	beginner db.TxBeginner,
	lawyers LawyerStore,
	leads LeadStore,
	matches MatchStore,
	credits CreditConsumer,
	distributor *Distributor,
	machine *MatchMachine,
	queue NotificationQueue,
	cfg AcceptorConfig,
	logger *slog.Logger,
) *Acceptor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CreditCost <= 0 {
		cfg.CreditCost = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Acceptor{
		db:          beginner,
		lawyers:     lawyers,
		leads:       leads,
		matches:     matches,
		credits:     credits,
		distributor: distributor,
		machine:     machine,
		queue:       queue,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the acceptor's clock.
func (a *Acceptor) WithClock(now func() time.Time) *Acceptor {
	a.now = now
	return a
}

// Accept lets lawyerID claim leadID. A retried call for a lead the lawyer
// already holds returns ALREADY_CONSUMED and charges nothing.
func (a *Acceptor) Accept(ctx context.Context, lawyerID, leadID uuid.UUID) (*AcceptResult, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	var res *AcceptResult
	err := runSerializable(ctx, a.db, a.cfg.MaxAttempts, func(tx pgx.Tx) error {
		var err error
		res, err = a.accept(ctx, tx, lawyerID, leadID)
		return err
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("lead accepted",
		"lead_id", leadID, "lawyer_id", lawyerID, "match_id", res.MatchID, "score", res.Score, "tier", res.Tier)

	if a.queue != nil {
		n := LeadAccepted{LeadID: leadID, LawyerID: lawyerID, MatchID: res.MatchID, ConversationRef: res.ConversationRef}
		if err := a.queue.EnqueueLeadAccepted(context.WithoutCancel(ctx), n); err != nil {
			a.logger.Error("enqueue lead accepted notification failed", "lead_id", leadID, "lawyer_id", lawyerID, "error", err)
		}
	}
	return res, nil
}

func (a *Acceptor) accept(ctx context.Context, tx pgx.Tx, lawyerID, leadID uuid.UUID) (*AcceptResult, error) {
	lawyer, err := a.lawyers.GetLawyer(ctx, tx, lawyerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("lawyer")
	}
	if err != nil {
		return nil, fmt.Errorf("get lawyer: %w", err)
	}

	lead, err := a.leads.GetLeadForUpdate(ctx, tx, leadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("lead")
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}

	if lead.ClientID == nil {
		return nil, apperr.Validation("lead has no client")
	}
	ok, err := a.leads.ClientExists(ctx, tx, *lead.ClientID)
	if err != nil {
		return nil, fmt.Errorf("check client: %w", err)
	}
	if !ok {
		return nil, apperr.Validation("lead has no client")
	}

	matches, err := a.matches.ListMatchesByLead(ctx, tx, lead.ID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	for _, m := range matches {
		if m.LawyerID == lawyer.ID {
			return nil, ledger.ErrAlreadyConsumed
		}
	}

	if !lead.Status.Open() {
		return nil, apperr.Forbidden("lead is closed")
	}
	tp, err := a.distributor.Plan(ctx, tx, lead, a.now())
	if err != nil {
		return nil, err
	}
	tier, cand, eligible := tp.Actionable(lawyer.ID)
	if !eligible {
		return nil, apperr.Forbidden("lead is not available to this lawyer yet")
	}

	entry, err := a.credits.Consume(ctx, tx, lawyer.ID, lead.ID, a.cfg.CreditCost)
	if err != nil {
		return nil, err
	}

	match, err := a.machine.Create(ctx, tx, lead, lawyer.ID, tier.Plan, cand.Score, lawyer.ID.String())
	if err != nil {
		return nil, err
	}

	return &AcceptResult{
		MatchID:         match.ID,
		ConversationRef: match.ConversationRef,
		CreditsConsumed: -entry.Amount,
		Balance:         entry.Balance,
		Score:           match.MatchScore,
		Tier:            tier.Plan,
	}, nil
}

package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/jurismatch/backend/internal/db"
	"github.com/jurismatch/backend/internal/models"
	"github.com/jurismatch/backend/internal/notify"
	"github.com/jurismatch/backend/internal/services"
)

// Directory resolves the people a notification is addressed to.
type Directory interface {
	GetLead(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Lead, error)
	GetLawyer(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Lawyer, error)
	GetClient(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Client, error)
}

// ---------------------------------------------------------------------------
// Tier sweep
// ---------------------------------------------------------------------------

type Sweeper interface {
	Sweep(ctx context.Context) (services.SweepReport, error)
}

type TierSweepWorker struct {
	river.WorkerDefaults[TierSweepArgs]
	sweeper Sweeper
}

func NewTierSweepWorker(s Sweeper) *TierSweepWorker {
	return &TierSweepWorker{sweeper: s}
}

func (w *TierSweepWorker) Work(ctx context.Context, _ *river.Job[TierSweepArgs]) error {
	if _, err := w.sweeper.Sweep(ctx); err != nil {
		return fmt.Errorf("tier sweep: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Match expiry
// ---------------------------------------------------------------------------

type Expirer interface {
	ExpireStale(ctx context.Context, ttl time.Duration, limit int) (int, error)
}

type ExpireMatchesWorker struct {
	river.WorkerDefaults[ExpireMatchesArgs]
	expirer Expirer
	ttl     time.Duration
	logger  *slog.Logger
}

func NewExpireMatchesWorker(e Expirer, ttl time.Duration, logger *slog.Logger) *ExpireMatchesWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpireMatchesWorker{expirer: e, ttl: ttl, logger: logger}
}

func (w *ExpireMatchesWorker) Work(ctx context.Context, _ *river.Job[ExpireMatchesArgs]) error {
	n, err := w.expirer.ExpireStale(ctx, w.ttl, 500)
	if err != nil {
		return fmt.Errorf("expire matches: %w", err)
	}
	if n > 0 {
		w.logger.Info("stale matches expired", "count", n, "ttl", w.ttl.String())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

// Notification workers retry through River. The last failed attempt is
// logged, reported to Sentry and swallowed: a lost e-mail never fails the
// business operation that produced it.

type NotifyLawyerWorker struct {
	river.WorkerDefaults[NotifyLawyerArgs]
	db       db.TxBeginner
	dir      Directory
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewNotifyLawyerWorker(beginner db.TxBeginner, dir Directory, n notify.Notifier, logger *slog.Logger) *NotifyLawyerWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyLawyerWorker{db: beginner, dir: dir, notifier: n, logger: logger}
}

func (w *NotifyLawyerWorker) Work(ctx context.Context, job *river.Job[NotifyLawyerArgs]) error {
	args := job.Args
	var lead *models.Lead
	var lawyer *models.Lawyer
	err := db.WithTx(ctx, w.db, db.ReadOnly, func(tx pgx.Tx) error {
		var err error
		if lead, err = w.dir.GetLead(ctx, tx, args.LeadID); err != nil {
			return fmt.Errorf("get lead: %w", err)
		}
		if lawyer, err = w.dir.GetLawyer(ctx, tx, args.LawyerID); err != nil {
			return fmt.Errorf("get lawyer: %w", err)
		}
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		w.logger.Warn("notification target vanished", "lead_id", args.LeadID, "lawyer_id", args.LawyerID)
		return nil
	}
	if err == nil {
		err = w.notifier.NewLeadAvailable(ctx, notify.NewLeadNotice{
			LeadID:      lead.ID,
			LawyerID:    lawyer.ID,
			LawyerName:  lawyer.Name,
			LawyerEmail: lawyer.Email,
			Tier:        args.Tier,
			Score:       args.Score,
			Cycle:       args.Cycle,
			City:        lead.City,
			State:       lead.State,
			Urgency:     lead.Urgency,
		})
	}
	return settle(w.logger, err, job.Attempt, job.MaxAttempts, "lead_available", map[string]any{
		"lead_id": args.LeadID, "lawyer_id": args.LawyerID, "tier": args.Tier, "cycle": args.Cycle,
	})
}

type LeadAcceptedWorker struct {
	river.WorkerDefaults[LeadAcceptedArgs]
	db       db.TxBeginner
	dir      Directory
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewLeadAcceptedWorker(beginner db.TxBeginner, dir Directory, n notify.Notifier, logger *slog.Logger) *LeadAcceptedWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeadAcceptedWorker{db: beginner, dir: dir, notifier: n, logger: logger}
}

func (w *LeadAcceptedWorker) Work(ctx context.Context, job *river.Job[LeadAcceptedArgs]) error {
	args := job.Args
	var client *models.Client
	var lawyer *models.Lawyer
	err := db.WithTx(ctx, w.db, db.ReadOnly, func(tx pgx.Tx) error {
		lead, err := w.dir.GetLead(ctx, tx, args.LeadID)
		if err != nil {
			return fmt.Errorf("get lead: %w", err)
		}
		if lead.ClientID == nil {
			return pgx.ErrNoRows
		}
		if client, err = w.dir.GetClient(ctx, tx, *lead.ClientID); err != nil {
			return fmt.Errorf("get client: %w", err)
		}
		if lawyer, err = w.dir.GetLawyer(ctx, tx, args.LawyerID); err != nil {
			return fmt.Errorf("get lawyer: %w", err)
		}
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		w.logger.Warn("notification target vanished", "lead_id", args.LeadID, "lawyer_id", args.LawyerID)
		return nil
	}
	if err == nil {
		err = w.notifier.LeadAccepted(ctx, notify.LeadAcceptedNotice{
			LeadID:          args.LeadID,
			MatchID:         args.MatchID,
			ConversationRef: args.ConversationRef,
			LawyerName:      lawyer.Name,
			ClientName:      client.Name,
			ClientEmail:     client.Email,
		})
	}
	return settle(w.logger, err, job.Attempt, job.MaxAttempts, "lead_accepted", map[string]any{
		"lead_id": args.LeadID, "lawyer_id": args.LawyerID, "match_id": args.MatchID,
	})
}

func settle(logger *slog.Logger, err error, attempt, maxAttempts int, kind string, fields map[string]any) error {
	if err == nil {
		return nil
	}
	if attempt < maxAttempts {
		return err
	}
	attrs := []any{"kind", kind, "attempt", attempt, "error", err}
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	logger.Error("notification dropped", attrs...)
	notify.Capture(err, kind, fields)
	return nil
}

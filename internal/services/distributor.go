package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/jurismatch/backend/internal/apperr"
	"github.com/jurismatch/backend/internal/db"
	"github.com/jurismatch/backend/internal/models"
)

// DistributorConfig is the tier release policy.
type DistributorConfig struct {
	Caps         map[models.Plan]int
	PremiumDelay time.Duration
	FreeDelay    time.Duration
	// SweepLookback bounds how old a distribution cycle the sweep revisits.
	SweepLookback    time.Duration
	SweepBatch       int
	SweepConcurrency int
}

func DefaultDistributorConfig() DistributorConfig {
	return DistributorConfig{
		Caps: map[models.Plan]int{
			models.PlanFeatured: 3,
			models.PlanPremium:  5,
			models.PlanFree:     10,
		},
		PremiumDelay:     2 * time.Hour,
		FreeDelay:        24 * time.Hour,
		SweepLookback:    7 * 24 * time.Hour,
		SweepBatch:       500,
		SweepConcurrency: 4,
	}
}

// Tier is one plan bracket of a lead's candidate list.
type Tier struct {
	Plan       models.Plan `json:"plan"`
	ReleaseAt  time.Time   `json:"releaseAt"`
	Open       bool        `json:"open"`
	Candidates []Candidate `json:"candidates"`
}

// TierPlan is the full distribution picture of a lead at one instant.
type TierPlan struct {
	LeadID uuid.UUID `json:"leadId"`
	Cycle  int       `json:"cycle"`
	Tiers  []Tier    `json:"tiers"`
}

// Actionable returns the open tier and candidate entry for lawyerID.
func (p *TierPlan) Actionable(lawyerID uuid.UUID) (*Tier, *Candidate, bool) {
	for i := range p.Tiers {
		t := &p.Tiers[i]
		if !t.Open {
			continue
		}
		for j := range t.Candidates {
			if t.Candidates[j].Lawyer.ID == lawyerID {
				return t, &t.Candidates[j], true
			}
		}
	}
	return nil, nil, false
}

// Distributor decides which tier of lawyers may act on a lead. Visibility is
// computed on every read; only notification fan-out is persisted.
type Distributor struct {
	scorer  *Scorer
	leads   LeadStore
	lawyers LawyerStore
	matches MatchStore
	markers MarkerStore
	queue   NotificationQueue
	db      db.TxBeginner
	cfg     DistributorConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewDistributor(
	scorer *Scorer,
	leads LeadStore,
	lawyers LawyerStore,
	matches MatchStore,
	markers MarkerStore,
	queue NotificationQueue,
	beginner db.TxBeginner,
	cfg DistributorConfig,
	logger *slog.Logger,
) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 1
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 500
	}
	return &Distributor{
		scorer:  scorer,
		leads:   leads,
		lawyers: lawyers,
		matches: matches,
		markers: markers,
		queue:   queue,
		db:      beginner,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the distributor's clock.
func (d *Distributor) WithClock(now func() time.Time) *Distributor {
	d.now = now
	return d
}

// ReleaseAt is when the given tier becomes visible in the lead's current cycle.
func (d *Distributor) ReleaseAt(lead *models.Lead, plan models.Plan) time.Time {
	start := lead.DistributionStartedAt
	switch plan {
	case models.PlanPremium:
		return start.Add(d.cfg.PremiumDelay)
	case models.PlanFree:
		return start.Add(d.cfg.FreeDelay)
	}
	return start
}

// Visible evaluates the release predicate for every tier. A lower tier opens
// once its delay elapsed and no higher-tier lawyer produced an ACTIVE or
// CONVERTED match before that release time. A converted lead shows nothing.
func (d *Distributor) Visible(lead *models.Lead, matches []models.LeadMatch, now time.Time) map[models.Plan]bool {
	out := make(map[models.Plan]bool, len(models.Plans))
	if !lead.Status.Open() {
		return out
	}
	for _, plan := range models.Plans {
		release := d.ReleaseAt(lead, plan)
		if now.Before(release) {
			continue
		}
		out[plan] = !higherTierResponded(plan, matches, release)
	}
	return out
}

func higherTierResponded(plan models.Plan, matches []models.LeadMatch, before time.Time) bool {
	for _, m := range matches {
		if m.Tier.Rank() <= plan.Rank() {
			continue
		}
		if m.Status != models.MatchStatusActive && m.Status != models.MatchStatusConverted {
			continue
		}
		if m.MatchedAt.Before(before) {
			return true
		}
	}
	return false
}

// Plan ranks the lead's candidates into capped tiers. Lawyers whose match
// on the lead already ended are dropped; they can never claim it again.
func (d *Distributor) Plan(ctx context.Context, tx pgx.Tx, lead *models.Lead, now time.Time) (*TierPlan, error) {
	lawyers, err := d.lawyers.ListLawyersByPracticeArea(ctx, tx, lead.PracticeAreaID)
	if err != nil {
		return nil, fmt.Errorf("list lawyers: %w", err)
	}
	matches, err := d.matches.ListMatchesByLead(ctx, tx, lead.ID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return d.plan(lead, lawyers, matches, now), nil
}

func (d *Distributor) plan(lead *models.Lead, lawyers []models.Lawyer, matches []models.LeadMatch, now time.Time) *TierPlan {
	ended := make(map[uuid.UUID]bool)
	for _, m := range matches {
		if m.Status.Ended() {
			ended[m.LawyerID] = true
		}
	}
	pool := lawyers[:0:0]
	for _, l := range lawyers {
		if !ended[l.ID] {
			pool = append(pool, l)
		}
	}

	ranked := d.scorer.Rank(lead, pool)
	visible := d.Visible(lead, matches, now)

	p := &TierPlan{LeadID: lead.ID, Cycle: lead.DistributionCycle}
	for _, plan := range models.Plans {
		t := Tier{Plan: plan, ReleaseAt: d.ReleaseAt(lead, plan), Open: visible[plan]}
		limit := d.cfg.Caps[plan]
		for _, c := range ranked {
			if len(t.Candidates) >= limit {
				break
			}
			if c.Lawyer.Plan == plan {
				t.Candidates = append(t.Candidates, c)
			}
		}
		p.Tiers = append(p.Tiers, t)
	}
	return p
}

// QueueItem is a lead a lawyer can accept right now.
type QueueItem struct {
	Lead           models.Lead `json:"lead"`
	Score          int         `json:"score"`
	Tier           models.Plan `json:"tier"`
	AvailableSince time.Time   `json:"availableSince"`
}

// Queue lists the open leads the lawyer may currently accept, best score first.
func (d *Distributor) Queue(ctx context.Context, lawyerID uuid.UUID) ([]QueueItem, error) {
	now := d.now()
	var items []QueueItem
	err := db.WithTx(ctx, d.db, db.ReadOnly, func(tx pgx.Tx) error {
		lawyer, err := d.lawyers.GetLawyer(ctx, tx, lawyerID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("lawyer")
		}
		if err != nil {
			return fmt.Errorf("get lawyer: %w", err)
		}
		if len(lawyer.PracticeAreaIDs) == 0 {
			return nil
		}
		leads, err := d.leads.ListOpenLeadsByPracticeAreas(ctx, tx, lawyer.PracticeAreaIDs)
		if err != nil {
			return fmt.Errorf("list leads: %w", err)
		}
		for i := range leads {
			lead := &leads[i]
			tp, err := d.Plan(ctx, tx, lead, now)
			if err != nil {
				return err
			}
			if held, err := d.holdsMatch(ctx, tx, lead.ID, lawyerID); err != nil {
				return err
			} else if held {
				continue
			}
			tier, cand, ok := tp.Actionable(lawyerID)
			if !ok {
				continue
			}
			items = append(items, QueueItem{Lead: *lead, Score: cand.Score, Tier: tier.Plan, AvailableSince: tier.ReleaseAt})
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Lead.CreatedAt.Before(items[j].Lead.CreatedAt)
	})
	return items, nil
}

func (d *Distributor) holdsMatch(ctx context.Context, tx pgx.Tx, leadID, lawyerID uuid.UUID) (bool, error) {
	matches, err := d.matches.ListMatchesByLead(ctx, tx, leadID)
	if err != nil {
		return false, fmt.Errorf("list matches: %w", err)
	}
	for _, m := range matches {
		if m.LawyerID == lawyerID {
			return true, nil
		}
	}
	return false, nil
}

// DistributeLead notifies every lawyer in each newly opened tier of the lead
// exactly once per cycle. Markers and notification jobs commit together.
// It returns how many lawyers were queued for notification.
func (d *Distributor) DistributeLead(ctx context.Context, leadID uuid.UUID) (int, error) {
	now := d.now()
	notified := 0
	err := db.WithTx(ctx, d.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		notified = 0
		lead, err := d.leads.GetLeadForUpdate(ctx, tx, leadID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("lead")
		}
		if err != nil {
			return fmt.Errorf("get lead: %w", err)
		}
		if !lead.Status.Open() {
			return nil
		}
		tp, err := d.Plan(ctx, tx, lead, now)
		if err != nil {
			return err
		}
		matches, err := d.matches.ListMatchesByLead(ctx, tx, lead.ID)
		if err != nil {
			return fmt.Errorf("list matches: %w", err)
		}
		claimed := make(map[uuid.UUID]bool, len(matches))
		for _, m := range matches {
			claimed[m.LawyerID] = true
		}

		for _, tier := range tp.Tiers {
			if !tier.Open {
				continue
			}
			fresh, err := d.markers.MarkTierNotified(ctx, tx, lead.ID, lead.DistributionCycle, tier.Plan)
			if err != nil {
				return fmt.Errorf("mark tier %s: %w", tier.Plan, err)
			}
			if !fresh {
				continue
			}
			for _, c := range tier.Candidates {
				if claimed[c.Lawyer.ID] {
					continue
				}
				first, err := d.markers.MarkLawyerNotified(ctx, tx, lead.ID, lead.DistributionCycle, c.Lawyer.ID)
				if err != nil {
					return fmt.Errorf("mark lawyer: %w", err)
				}
				if !first {
					continue
				}
				if err := d.queue.EnqueueLeadAvailable(ctx, tx, LeadAvailable{
					LeadID:   lead.ID,
					LawyerID: c.Lawyer.ID,
					Tier:     tier.Plan,
					Score:    c.Score,
					Cycle:    lead.DistributionCycle,
				}); err != nil {
					return fmt.Errorf("enqueue notification: %w", err)
				}
				notified++
			}
			d.logger.Info("tier released",
				"lead_id", lead.ID, "tier", tier.Plan, "cycle", lead.DistributionCycle, "candidates", len(tier.Candidates))
		}
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	return notified, nil
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Leads    int `json:"leads"`
	Notified int `json:"notified"`
	Failed   int `json:"failed"`
}

// Sweep distributes every open lead whose cycle started within the lookback
// window. A failing lead is logged and skipped; it never stops the others.
func (d *Distributor) Sweep(ctx context.Context) (SweepReport, error) {
	since := d.now().Add(-d.cfg.SweepLookback)
	var leads []models.Lead
	err := db.WithTx(ctx, d.db, db.ReadOnly, func(tx pgx.Tx) error {
		var err error
		leads, err = d.leads.ListOpenLeads(ctx, tx, since, d.cfg.SweepBatch)
		return err
	})
	if err != nil {
		return SweepReport{}, fmt.Errorf("list open leads: %w", err)
	}

	var notified, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.SweepConcurrency)
	for _, lead := range leads {
		g.Go(func() error {
			n, err := d.DistributeLead(gctx, lead.ID)
			if err != nil {
				failed.Add(1)
				d.logger.Error("distribute lead failed", "lead_id", lead.ID, "error", err)
				return nil
			}
			notified.Add(int64(n))
			return nil
		})
	}
	// Per-lead failures are counted above, never returned.
	g.Wait()

	report := SweepReport{Leads: len(leads), Notified: int(notified.Load()), Failed: int(failed.Load())}
	if report.Notified > 0 || report.Failed > 0 {
		d.logger.Info("tier sweep finished", "leads", report.Leads, "notified", report.Notified, "failed", report.Failed)
	}
	return report, nil
}

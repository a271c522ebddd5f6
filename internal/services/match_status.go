package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jurismatch/backend/internal/apperr"
	"github.com/jurismatch/backend/internal/db"
	"github.com/jurismatch/backend/internal/models"
)

// ActorSystem marks transitions made by background jobs.
const ActorSystem = "system"

// ValidTransitionTargets is what an admin may move a match into.
func ValidTransitionTargets() []string {
	out := make([]string, 0, len(models.TerminalMatchStatuses))
	for _, s := range models.TerminalMatchStatuses {
		out = append(out, string(s))
	}
	return out
}

// MatchMachine owns the LeadMatch lifecycle: ACTIVE, then exactly one of
// CONVERTED, DECLINED or EXPIRED. It also keeps the parent lead's status and
// leading-match fields in step with its matches.
type MatchMachine struct {
	leads    LeadStore
	matches  MatchStore
	db       db.TxBeginner
	attempts int
	logger   *slog.Logger
	now      func() time.Time
}

func NewMatchMachine(leads LeadStore, matches MatchStore, beginner db.TxBeginner, attempts int, logger *slog.Logger) *MatchMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchMachine{leads: leads, matches: matches, db: beginner, attempts: attempts, logger: logger, now: time.Now}
}

// WithClock replaces the machine's clock.
func (m *MatchMachine) WithClock(now func() time.Time) *MatchMachine {
	m.now = now
	return m
}

// Create records an ACTIVE match inside tx. It must only be called after the
// lawyer's credits were consumed in the same transaction.
func (m *MatchMachine) Create(ctx context.Context, tx pgx.Tx, lead *models.Lead, lawyerID uuid.UUID, tier models.Plan, score int, actor string) (*models.LeadMatch, error) {
	now := m.now()
	match := &models.LeadMatch{
		ID:              uuid.New(),
		LeadID:          lead.ID,
		LawyerID:        lawyerID,
		Status:          models.MatchStatusActive,
		Tier:            tier,
		MatchScore:      clamp(score, 0, 100),
		ConversationRef: uuid.New(),
		Cycle:           lead.DistributionCycle,
		MatchedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.matches.InsertMatch(ctx, tx, match); err != nil {
		return nil, fmt.Errorf("insert match: %w", err)
	}
	change := models.StatusChange{
		ID:      uuid.New(),
		MatchID: match.ID,
		To:      models.MatchStatusActive,
		At:      now,
		By:      actor,
		Reason:  "lead accepted",
	}
	if err := m.matches.AppendStatusChange(ctx, tx, &change); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}
	match.StatusHistory = []models.StatusChange{change}

	switch lead.Status {
	case models.LeadStatusNew, models.LeadStatusAnalyzing, models.LeadStatusAnalyzed:
		lead.Status = models.LeadStatusMatched
	}
	if lead.MatchedLawyerID == nil {
		lead.Pin(match)
	}
	lead.UpdatedAt = now
	if err := m.leads.UpdateLead(ctx, tx, lead); err != nil {
		return nil, fmt.Errorf("update lead: %w", err)
	}
	return match, nil
}

// Transition moves a match into a terminal status in its own transaction.
func (m *MatchMachine) Transition(ctx context.Context, matchID uuid.UUID, to models.MatchStatus, reason, actor string) (*models.LeadMatch, error) {
	if err := validateTarget(to); err != nil {
		return nil, err
	}
	var out *models.LeadMatch
	err := runSerializable(ctx, m.db, m.attempts, func(tx pgx.Tx) error {
		current, err := m.matches.GetMatch(ctx, tx, matchID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("match")
		}
		if err != nil {
			return fmt.Errorf("get match: %w", err)
		}
		lead, err := m.lockLead(ctx, tx, current.LeadID)
		if err != nil {
			return err
		}
		match, err := m.matches.GetMatchForUpdate(ctx, tx, matchID)
		if err != nil {
			return fmt.Errorf("lock match: %w", err)
		}
		out, err = m.apply(ctx, tx, lead, match, to, reason, actor)
		return err
	})
	return out, err
}

// TransitionLatest transitions the lead's most recent match.
func (m *MatchMachine) TransitionLatest(ctx context.Context, leadID uuid.UUID, to models.MatchStatus, reason, actor string) (*models.LeadMatch, error) {
	if err := validateTarget(to); err != nil {
		return nil, err
	}
	var out *models.LeadMatch
	err := runSerializable(ctx, m.db, m.attempts, func(tx pgx.Tx) error {
		lead, err := m.lockLead(ctx, tx, leadID)
		if err != nil {
			return err
		}
		match, err := m.matches.LatestMatchForUpdate(ctx, tx, leadID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("match")
		}
		if err != nil {
			return fmt.Errorf("lock latest match: %w", err)
		}
		out, err = m.apply(ctx, tx, lead, match, to, reason, actor)
		return err
	})
	return out, err
}

func validateTarget(to models.MatchStatus) error {
	if to.Terminal() {
		return nil
	}
	return apperr.Validation(fmt.Sprintf("invalid status %q", to)).
		WithDetail("validStatuses", ValidTransitionTargets())
}

func (m *MatchMachine) lockLead(ctx context.Context, tx pgx.Tx, leadID uuid.UUID) (*models.Lead, error) {
	lead, err := m.leads.GetLeadForUpdate(ctx, tx, leadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("lead")
	}
	if err != nil {
		return nil, fmt.Errorf("lock lead: %w", err)
	}
	return lead, nil
}

func (m *MatchMachine) apply(ctx context.Context, tx pgx.Tx, lead *models.Lead, match *models.LeadMatch, to models.MatchStatus, reason, actor string) (*models.LeadMatch, error) {
	if match.Status == to {
		return m.withHistory(ctx, tx, match)
	}
	if match.Status.Terminal() {
		return nil, apperr.New(apperr.CodeInvalidTransition,
			fmt.Sprintf("match is %s and cannot move to %s", match.Status, to)).
			WithDetail("currentStatus", string(match.Status))
	}

	now := m.now()
	change := models.StatusChange{
		ID:      uuid.New(),
		MatchID: match.ID,
		From:    match.Status,
		To:      to,
		At:      now,
		By:      actor,
		Reason:  reason,
	}
	match.Status = to
	match.UpdatedAt = now

	switch to {
	case models.MatchStatusConverted:
		if match.ConvertedAt == nil {
			match.ConvertedAt = &now
		}
	default:
		if match.RespondedAt == nil {
			match.RespondedAt = &now
		}
	}

	if err := m.matches.UpdateMatch(ctx, tx, match); err != nil {
		return nil, fmt.Errorf("update match: %w", err)
	}
	if err := m.matches.AppendStatusChange(ctx, tx, &change); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}

	if to == models.MatchStatusConverted {
		lead.Status = models.LeadStatusConverted
		lead.Pin(match)
	} else if err := m.settleLead(ctx, tx, lead, match); err != nil {
		return nil, err
	}
	lead.UpdatedAt = now
	if err := m.leads.UpdateLead(ctx, tx, lead); err != nil {
		return nil, fmt.Errorf("update lead: %w", err)
	}

	m.logger.Info("match transitioned",
		"match_id", match.ID, "lead_id", lead.ID, "from", change.From, "to", to, "by", actor)
	return m.withHistory(ctx, tx, match)
}

// settleLead reacts to a match ending without conversion. When every match
// on the lead has ended the lead goes back to NEW and a new distribution
// cycle starts. Otherwise, if the ended match was the pinned one, the pin
// moves to the earliest remaining ACTIVE match.
func (m *MatchMachine) settleLead(ctx context.Context, tx pgx.Tx, lead *models.Lead, ended *models.LeadMatch) error {
	all, err := m.matches.ListMatchesByLead(ctx, tx, lead.ID)
	if err != nil {
		return fmt.Errorf("list matches: %w", err)
	}
	var earliestActive *models.LeadMatch
	allEnded := true
	for i := range all {
		mm := &all[i]
		if mm.ID == ended.ID {
			mm = ended
		}
		if !mm.Status.Ended() {
			allEnded = false
		}
		if mm.Status == models.MatchStatusActive && (earliestActive == nil || mm.MatchedAt.Before(earliestActive.MatchedAt)) {
			earliestActive = mm
		}
	}

	if allEnded {
		lead.Status = models.LeadStatusNew
		lead.ClearPin()
		lead.DistributionCycle++
		lead.DistributionStartedAt = m.now()
		m.logger.Info("lead returned to distribution", "lead_id", lead.ID, "cycle", lead.DistributionCycle)
		return nil
	}
	if lead.Status == models.LeadStatusConverted {
		return nil
	}
	if lead.MatchedLawyerID != nil && *lead.MatchedLawyerID == ended.LawyerID {
		if earliestActive != nil {
			lead.Pin(earliestActive)
		} else {
			lead.ClearPin()
		}
	}
	return nil
}

func (m *MatchMachine) withHistory(ctx context.Context, tx pgx.Tx, match *models.LeadMatch) (*models.LeadMatch, error) {
	changes, err := m.matches.ListStatusChanges(ctx, tx, match.LeadID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	match.StatusHistory = match.StatusHistory[:0]
	for _, c := range changes {
		if c.MatchID == match.ID {
			match.StatusHistory = append(match.StatusHistory, c)
		}
	}
	return match, nil
}

// MatchStats aggregates a lead's matches.
type MatchStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Converted int `json:"converted"`
	Declined  int `json:"declined"`
	Expired   int `json:"expired"`
	// ConversionRate is the converted share of all matches, in percent.
	ConversionRate float64 `json:"conversionRate"`
}

// MatchOverview is the admin view of a lead's matches.
type MatchOverview struct {
	Lead    models.Lead        `json:"lead"`
	Matches []models.LeadMatch `json:"matches"`
	Stats   MatchStats         `json:"stats"`
}

// Overview returns every match of the lead with its history and stats.
func (m *MatchMachine) Overview(ctx context.Context, leadID uuid.UUID) (*MatchOverview, error) {
	var out *MatchOverview
	err := db.WithTx(ctx, m.db, db.ReadOnly, func(tx pgx.Tx) error {
		lead, err := m.leads.GetLead(ctx, tx, leadID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("lead")
		}
		if err != nil {
			return fmt.Errorf("get lead: %w", err)
		}
		matches, err := m.matches.ListMatchesByLead(ctx, tx, leadID)
		if err != nil {
			return fmt.Errorf("list matches: %w", err)
		}
		changes, err := m.matches.ListStatusChanges(ctx, tx, leadID)
		if err != nil {
			return fmt.Errorf("list history: %w", err)
		}
		byMatch := make(map[uuid.UUID][]models.StatusChange, len(matches))
		for _, c := range changes {
			byMatch[c.MatchID] = append(byMatch[c.MatchID], c)
		}
		for i := range matches {
			matches[i].StatusHistory = byMatch[matches[i].ID]
			if matches[i].StatusHistory == nil {
				matches[i].StatusHistory = []models.StatusChange{}
			}
		}
		if matches == nil {
			matches = []models.LeadMatch{}
		}
		out = &MatchOverview{Lead: *lead, Matches: matches, Stats: computeStats(matches)}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func computeStats(matches []models.LeadMatch) MatchStats {
	s := MatchStats{Total: len(matches)}
	for _, m := range matches {
		switch m.Status {
		case models.MatchStatusActive:
			s.Active++
		case models.MatchStatusConverted:
			s.Converted++
		case models.MatchStatusDeclined:
			s.Declined++
		case models.MatchStatusExpired:
			s.Expired++
		}
	}
	if s.Total > 0 {
		s.ConversionRate = math.Round(float64(s.Converted)/float64(s.Total)*10000) / 100
	}
	return s
}

// ExpireStale moves ACTIVE matches older than ttl to EXPIRED. Each match is
// expired in its own transaction; failures are logged and skipped.
func (m *MatchMachine) ExpireStale(ctx context.Context, ttl time.Duration, limit int) (int, error) {
	cutoff := m.now().Add(-ttl)
	var stale []models.LeadMatch
	err := db.WithTx(ctx, m.db, db.ReadOnly, func(tx pgx.Tx) error {
		var err error
		stale, err = m.matches.ListStaleActiveMatches(ctx, tx, cutoff, limit)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list stale matches: %w", err)
	}
	expired := 0
	reason := fmt.Sprintf("no response within %s", ttl)
	for _, s := range stale {
		if _, err := m.Transition(ctx, s.ID, models.MatchStatusExpired, reason, ActorSystem); err != nil {
			m.logger.Error("expire match failed", "match_id", s.ID, "lead_id", s.LeadID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jurismatch/backend/internal/models"
)

// Lookups return pgx.ErrNoRows when the row does not exist.

type LeadStore interface {
	GetLead(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Lead, error)
	GetLeadForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Lead, error)
	UpdateLead(ctx context.Context, tx pgx.Tx, l *models.Lead) error
	// ListOpenLeads returns non-converted leads whose current distribution
	// cycle started at or after since, oldest first.
	ListOpenLeads(ctx context.Context, tx pgx.Tx, since time.Time, limit int) ([]models.Lead, error)
	ListOpenLeadsByPracticeAreas(ctx context.Context, tx pgx.Tx, areaIDs []uuid.UUID) ([]models.Lead, error)
	ClientExists(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
}

type LawyerStore interface {
	GetLawyer(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Lawyer, error)
	ListLawyersByPracticeArea(ctx context.Context, tx pgx.Tx, areaID uuid.UUID) ([]models.Lawyer, error)
}

type MatchStore interface {
	InsertMatch(ctx context.Context, tx pgx.Tx, m *models.LeadMatch) error
	UpdateMatch(ctx context.Context, tx pgx.Tx, m *models.LeadMatch) error
	GetMatch(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.LeadMatch, error)
	GetMatchForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.LeadMatch, error)
	LatestMatchForUpdate(ctx context.Context, tx pgx.Tx, leadID uuid.UUID) (*models.LeadMatch, error)
	// ListMatchesByLead returns matches oldest first.
	ListMatchesByLead(ctx context.Context, tx pgx.Tx, leadID uuid.UUID) ([]models.LeadMatch, error)
	ListStaleActiveMatches(ctx context.Context, tx pgx.Tx, matchedBefore time.Time, limit int) ([]models.LeadMatch, error)
	AppendStatusChange(ctx context.Context, tx pgx.Tx, c *models.StatusChange) error
	// ListStatusChanges returns every history row for the lead's matches in
	// insertion order.
	ListStatusChanges(ctx context.Context, tx pgx.Tx, leadID uuid.UUID) ([]models.StatusChange, error)
}

// MarkerStore records which tiers and lawyers were already notified for a
// lead's distribution cycle. Mark methods report false when the marker
// already existed.
type MarkerStore interface {
	MarkTierNotified(ctx context.Context, tx pgx.Tx, leadID uuid.UUID, cycle int, tier models.Plan) (bool, error)
	MarkLawyerNotified(ctx context.Context, tx pgx.Tx, leadID uuid.UUID, cycle int, lawyerID uuid.UUID) (bool, error)
}

// CreditConsumer is the ledger operation acceptance needs.
type CreditConsumer interface {
	Consume(ctx context.Context, tx pgx.Tx, lawyerID, leadID uuid.UUID, amount int) (*models.CreditTransaction, error)
}

// LeadAvailable asks the notification collaborator to tell one lawyer about
// a lead that entered their tier.
type LeadAvailable struct {
	LeadID   uuid.UUID
	LawyerID uuid.UUID
	Tier     models.Plan
	Score    int
	Cycle    int
}

// LeadAccepted tells the client side that a lawyer took the lead.
type LeadAccepted struct {
	LeadID          uuid.UUID
	LawyerID        uuid.UUID
	MatchID         uuid.UUID
	ConversationRef uuid.UUID
}

// NotificationQueue hands notifications to the background workers.
// EnqueueLeadAvailable joins tx so the job exists only if the marker commits.
type NotificationQueue interface {
	EnqueueLeadAvailable(ctx context.Context, tx pgx.Tx, n LeadAvailable) error
	EnqueueLeadAccepted(ctx context.Context, n LeadAccepted) error
}

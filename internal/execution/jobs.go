package execution

import (
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/jurismatch/backend/internal/models"
)

const (
	QueueNotifications = "notifications"
	notifyMaxAttempts  = 5
)

// TierSweepArgs runs the periodic tier release sweep.
type TierSweepArgs struct{}

func (TierSweepArgs) Kind() string { return "tier_sweep" }

// ExpireMatchesArgs expires ACTIVE matches nobody acted on.
type ExpireMatchesArgs struct{}

func (ExpireMatchesArgs) Kind() string { return "expire_matches" }

// NotifyLawyerArgs tells one lawyer that a lead entered their tier.
type NotifyLawyerArgs struct {
	LeadID   uuid.UUID   `json:"lead_id"`
	LawyerID uuid.UUID   `json:"lawyer_id"`
	Tier     models.Plan `json:"tier"`
	Score    int         `json:"score"`
	Cycle    int         `json:"cycle"`
}

func (NotifyLawyerArgs) Kind() string { return "notify_lead_available" }

func (NotifyLawyerArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueNotifications, MaxAttempts: notifyMaxAttempts}
}

// LeadAcceptedArgs tells the client that a lawyer accepted the lead.
type LeadAcceptedArgs struct {
	LeadID          uuid.UUID `json:"lead_id"`
	LawyerID        uuid.UUID `json:"lawyer_id"`
	MatchID         uuid.UUID `json:"match_id"`
	ConversationRef uuid.UUID `json:"conversation_ref"`
}

func (LeadAcceptedArgs) Kind() string { return "notify_lead_accepted" }

func (LeadAcceptedArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueNotifications, MaxAttempts: notifyMaxAttempts}
}

// PeriodicJobs schedules the sweep and the match expiry.
func PeriodicJobs(sweepEvery, expireEvery time.Duration) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(sweepEvery),
			func() (river.JobArgs, *river.InsertOpts) { return TierSweepArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(expireEvery),
			func() (river.JobArgs, *river.InsertOpts) { return ExpireMatchesArgs{}, nil },
			nil,
		),
	}
}

// Queues is the River queue layout.
func Queues() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: 4},
		QueueNotifications: {MaxWorkers: 10},
	}
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan is a lawyer's subscription plan. It doubles as the lawyer's
// distribution tier.
type Plan string

const (
	PlanFree     Plan = "FREE"
	PlanPremium  Plan = "PREMIUM"
	PlanFeatured Plan = "FEATURED"
)

// Plans lists every plan from highest to lowest priority.
var Plans = []Plan{PlanFeatured, PlanPremium, PlanFree}

// Rank orders plans: FEATURED > PREMIUM > FREE. Unknown plans rank below FREE.
func (p Plan) Rank() int {
	switch p {
	case PlanFeatured:
		return 3
	case PlanPremium:
		return 2
	case PlanFree:
		return 1
	}
	return 0
}

func (p Plan) Valid() bool { return p.Rank() > 0 }

type Lawyer struct {
	ID              uuid.UUID   `json:"id"`
	Name            string      `json:"name"`
	Email           string      `json:"email"`
	PracticeAreaIDs []uuid.UUID `json:"practiceAreaIds"`
	City            string      `json:"city"`
	State           string      `json:"state"`
	Plan            Plan        `json:"plan"`
	Verified        bool        `json:"verified"`
	// Rating is the average client rating on a 0-5 scale.
	Rating float64 `json:"rating"`
	// ResponseTimeMinutes is a rolling average; nil when the lawyer has no history.
	ResponseTimeMinutes *int      `json:"responseTimeMinutes,omitempty"`
	YearsExperience     int       `json:"yearsExperience"`
	Languages           []string  `json:"languages"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Practices reports whether the lawyer lists the given practice area.
func (l *Lawyer) Practices(areaID uuid.UUID) bool {
	for _, id := range l.PracticeAreaIDs {
		if id == areaID {
			return true
		}
	}
	return false
}

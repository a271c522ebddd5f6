package models

import (
	"time"

	"github.com/google/uuid"
)

// LeadStatus is the lifecycle status of a client's case.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "NEW"
	LeadStatusAnalyzing LeadStatus = "ANALYZING"
	LeadStatusAnalyzed  LeadStatus = "ANALYZED"
	LeadStatusMatched   LeadStatus = "MATCHED"
	LeadStatusContacted LeadStatus = "CONTACTED"
	LeadStatusConverted LeadStatus = "CONVERTED"
)

// Open reports whether the lead can still be distributed and accepted.
func (s LeadStatus) Open() bool {
	switch s {
	case LeadStatusNew, LeadStatusAnalyzing, LeadStatusAnalyzed, LeadStatusMatched, LeadStatusContacted:
		return true
	}
	return false
}

// Urgency levels a client can flag on a lead.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// Pressing reports whether the urgency earns the plan-scaled urgency bonus.
func (u Urgency) Pressing() bool {
	return u == UrgencyHigh || u == UrgencyCritical
}

// Lead is a client-submitted legal case awaiting lawyer matching.
// MatchedLawyerID, MatchedAt and MatchScore mirror the currently leading match.
type Lead struct {
	ID             uuid.UUID  `json:"id"`
	ClientID       *uuid.UUID `json:"clientId,omitempty"`
	PracticeAreaID uuid.UUID  `json:"practiceAreaId"`
	City           string     `json:"city"`
	State          string     `json:"state"`
	Description    string     `json:"description"`
	Urgency        Urgency    `json:"urgency"`
	Language       string     `json:"language"`
	Status         LeadStatus `json:"status"`

	MatchedLawyerID *uuid.UUID `json:"matchedLawyerId,omitempty"`
	MatchedAt       *time.Time `json:"matchedAt,omitempty"`
	MatchScore      *int       `json:"matchScore,omitempty"`

	// DistributionCycle increments every time the lead is reset to NEW after
	// all of its matches ended without conversion.
	DistributionCycle     int       `json:"distributionCycle"`
	DistributionStartedAt time.Time `json:"distributionStartedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ClearPin removes the denormalized leading-match fields.
func (l *Lead) ClearPin() {
	l.MatchedLawyerID = nil
	l.MatchedAt = nil
	l.MatchScore = nil
}

// Pin points the denormalized leading-match fields at m.
func (l *Lead) Pin(m *LeadMatch) {
	lawyerID := m.LawyerID
	at := m.MatchedAt
	score := m.MatchScore
	l.MatchedLawyerID = &lawyerID
	l.MatchedAt = &at
	l.MatchScore = &score
}

// Client is the owner of a lead. Only its existence matters to distribution.
type Client struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

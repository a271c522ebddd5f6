package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchStatus is the lifecycle status of a LeadMatch.
type MatchStatus string

const (
	MatchStatusActive    MatchStatus = "ACTIVE"
	MatchStatusConverted MatchStatus = "CONVERTED"
	MatchStatusDeclined  MatchStatus = "DECLINED"
	MatchStatusExpired   MatchStatus = "EXPIRED"
)

// TerminalMatchStatuses are the statuses an admin may move a match into.
var TerminalMatchStatuses = []MatchStatus{MatchStatusConverted, MatchStatusDeclined, MatchStatusExpired}

func (s MatchStatus) Terminal() bool {
	return s == MatchStatusConverted || s == MatchStatusDeclined || s == MatchStatusExpired
}

// Ended reports whether the match left the lead without converting it.
func (s MatchStatus) Ended() bool {
	return s == MatchStatusDeclined || s == MatchStatusExpired
}

// LeadMatch is one lawyer's accepted claim on a lead.
type LeadMatch struct {
	ID       uuid.UUID   `json:"id"`
	LeadID   uuid.UUID   `json:"caseId"`
	LawyerID uuid.UUID   `json:"lawyerId"`
	Status   MatchStatus `json:"status"`
	// Tier is the distribution tier the lawyer accepted through.
	Tier            Plan       `json:"tier"`
	MatchScore      int        `json:"matchScore"`
	ConversationRef uuid.UUID  `json:"conversationRef"`
	Cycle           int        `json:"cycle"`
	MatchedAt       time.Time  `json:"matchedAt"`
	RespondedAt     *time.Time `json:"respondedAt,omitempty"`
	ConvertedAt     *time.Time `json:"convertedAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`

	StatusHistory []StatusChange `json:"statusHistory"`
}

// StatusChange is one append-only audit record of a match transition.
// From is empty for the creation record.
type StatusChange struct {
	ID      uuid.UUID   `json:"id"`
	MatchID uuid.UUID   `json:"matchId"`
	From    MatchStatus `json:"from,omitempty"`
	To      MatchStatus `json:"to"`
	At      time.Time   `json:"at"`
	By      string      `json:"by"`
	Reason  string      `json:"reason,omitempty"`
}

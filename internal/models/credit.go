package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType is the business reason for a credit ledger row.
type TransactionType string

const (
	TransactionPurchase TransactionType = "PURCHASE"
	TransactionConsume  TransactionType = "CONSUME"
	TransactionRefund   TransactionType = "REFUND"
	TransactionBonus    TransactionType = "BONUS"
	TransactionExpire   TransactionType = "EXPIRE"
)

// Incoming reports whether the type adds credits to a balance.
func (t TransactionType) Incoming() bool {
	return t == TransactionPurchase || t == TransactionRefund || t == TransactionBonus
}

// CreditBalance is the per-lawyer credit counter. Credits is never negative.
type CreditBalance struct {
	LawyerID    uuid.UUID `json:"lawyerId"`
	Credits     int       `json:"credits"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// CreditTransaction is an append-only ledger row. Amount is signed and
// Balance is the lawyer's credits right after the row was applied.
type CreditTransaction struct {
	ID          uuid.UUID       `json:"id"`
	LawyerID    uuid.UUID       `json:"lawyerId"`
	Type        TransactionType `json:"type"`
	Amount      int             `json:"amount"`
	Balance     int             `json:"balance"`
	Description string          `json:"description"`
	ExternalRef *string         `json:"externalRef,omitempty"`
	LeadID      *uuid.UUID      `json:"leadId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// CreditUsage fences consumption: one row per (lawyer, lead), ever.
type CreditUsage struct {
	ID            uuid.UUID `json:"id"`
	LawyerID      uuid.UUID `json:"lawyerId"`
	LeadID        uuid.UUID `json:"leadId"`
	TransactionID uuid.UUID `json:"transactionId"`
	Credits       int       `json:"credits"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CreditStats aggregates the ledger for display. Consumed and Expired are
// reported as positive magnitudes.
type CreditStats struct {
	Lifetime     CreditTotals `json:"lifetime"`
	CurrentMonth CreditTotals `json:"currentMonth"`
	Balance      int          `json:"balance"`
}

type CreditTotals struct {
	Purchased int `json:"purchased"`
	Bonus     int `json:"bonus"`
	Consumed  int `json:"consumed"`
	Refunded  int `json:"refunded"`
	Expired   int `json:"expired"`
}

// PaymentEvent records a processed payment-provider webhook event.
type PaymentEvent struct {
	ID        uuid.UUID `json:"id"`
	Provider  string    `json:"provider"`
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	CreatedAt time.Time `json:"createdAt"`
}

package ledger

import (
	"github.com/jurismatch/backend/internal/apperr"
)

var (
	// ErrBalanceNotFound is returned by Store.GetBalanceForUpdate when the
	// lawyer has never had a balance row.
	ErrBalanceNotFound = apperr.NotFound("credit balance")

	ErrInsufficientCredits = apperr.New(apperr.CodeInsufficientCredits, "insufficient credits")
	ErrAlreadyConsumed     = apperr.New(apperr.CodeAlreadyConsumed, "credits already consumed for this lead")
	ErrInvalidAmount       = apperr.Validation("amount must be a positive integer")
	ErrInvalidType         = apperr.Validation("transaction type not allowed for this operation")
)

// insufficient reports the lawyer's current balance so callers can prompt a
// top-up of the right size.
func insufficient(current, required int, cause error) error {
	e := ErrInsufficientCredits.
		WithDetail("currentBalance", current).
		WithDetail("required", required)
	e.Err = cause
	return e
}

// CurrentBalance extracts the balance carried by an insufficient-credits error.
func CurrentBalance(err error) (int, bool) {
	e, ok := apperr.As(err)
	if !ok || e.Code != apperr.CodeInsufficientCredits {
		return 0, false
	}
	n, ok := e.Details["currentBalance"].(int)
	return n, ok
}

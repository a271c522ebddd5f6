package handlers

import (
	"io"
	"net/http"

	"github.com/jurismatch/backend/internal/apperr"
)

const maxWebhookBody = 64 << 10

// StripeWebhook handles POST /api/v1/payments/stripe/webhook.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, r, apperr.Validation("unreadable body"))
		return
	}
	res, err := h.Payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

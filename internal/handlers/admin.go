package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/jurismatch/backend/internal/ledger"
	"github.com/jurismatch/backend/internal/middleware"
	"github.com/jurismatch/backend/internal/models"
)

// Status values are checked by the match machine, which lists the valid
// targets in its error.
type transitionRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

type adminCreditsRequest struct {
	Type        string     `json:"type" validate:"required,oneof=BONUS REFUND EXPIRE"`
	Amount      int        `json:"amount" validate:"gt=0"`
	Description string     `json:"description" validate:"required,max=500"`
	LeadID      *uuid.UUID `json:"leadId"`
}

// LeadMatches handles GET /api/v1/admin/leads/{id}/matches.
func (h *Handler) LeadMatches(w http.ResponseWriter, r *http.Request) {
	leadID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ov, err := h.Matches.Overview(r.Context(), leadID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// TransitionMatch handles PUT /api/v1/admin/leads/{id}/matches. It moves the
// lead's latest match into a terminal status.
func (h *Handler) TransitionMatch(w http.ResponseWriter, r *http.Request) {
	leadID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req transitionRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, _ := middleware.IdentityFromCtx(r.Context())
	match, err := h.Matches.TransitionLatest(r.Context(), leadID, models.MatchStatus(req.Status), req.Reason, id.UserID.String())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

// DistributeLead handles POST /api/v1/admin/leads/{id}/distribute.
func (h *Handler) DistributeLead(w http.ResponseWriter, r *http.Request) {
	leadID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.Distributor.DistributeLead(r.Context(), leadID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leadId": leadID, "notified": n})
}

// AdjustCredits handles POST /api/v1/admin/lawyers/{id}/credits.
func (h *Handler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	lawyerID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req adminCreditsRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var entry *models.CreditTransaction
	if models.TransactionType(req.Type) == models.TransactionExpire {
		entry, err = h.Ledger.ExpireCredits(r.Context(), lawyerID, req.Amount, req.Description)
	} else {
		entry, err = h.Ledger.AddCredits(r.Context(), ledger.AddParams{
			LawyerID:    lawyerID,
			Amount:      req.Amount,
			Type:        models.TransactionType(req.Type),
			Description: req.Description,
			LeadID:      req.LeadID,
		})
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entry == nil {
		// nothing left to expire
		writeJSON(w, http.StatusOK, map[string]any{"lawyerId": lawyerID, "expired": 0})
		return
	}
	h.Logger.Info("admin credit adjustment",
		"lawyer_id", lawyerID, "type", entry.Type, "amount", entry.Amount, "balance", entry.Balance)
	writeJSON(w, http.StatusCreated, entry)
}

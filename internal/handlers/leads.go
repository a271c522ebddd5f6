package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/jurismatch/backend/internal/apperr"
	"github.com/jurismatch/backend/internal/middleware"
	"github.com/jurismatch/backend/internal/models"
	"github.com/jurismatch/backend/internal/services"
)

type acceptCredits struct {
	Consumed int `json:"consumed"`
	Balance  int `json:"balance"`
}

type acceptResponse struct {
	MatchID         uuid.UUID     `json:"matchId"`
	ConversationRef uuid.UUID     `json:"conversationRef"`
	Credits         acceptCredits `json:"credits"`
	Score           int           `json:"score"`
	Tier            models.Plan   `json:"tier"`
}

func newAcceptResponse(res *services.AcceptResult) acceptResponse {
	return acceptResponse{
		MatchID:         res.MatchID,
		ConversationRef: res.ConversationRef,
		Credits:         acceptCredits{Consumed: res.CreditsConsumed, Balance: res.Balance},
		Score:           res.Score,
		Tier:            res.Tier,
	}
}

// AcceptLead handles POST /api/v1/leads/{id}/accept.
func (h *Handler) AcceptLead(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		h.writeError(w, r, apperr.Unauthorized("unauthorized"))
		return
	}
	leadID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Acceptor.Accept(r.Context(), id.UserID, leadID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAcceptResponse(res))
}

// LeadQueue handles GET /api/v1/leads/queue.
func (h *Handler) LeadQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		h.writeError(w, r, apperr.Unauthorized("unauthorized"))
		return
	}
	items, err := h.Distributor.Queue(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": items, "count": len(items)})
}

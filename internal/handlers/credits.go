package handlers

import (
	"net/http"
	"strconv"

	"github.com/jurismatch/backend/internal/apperr"
	"github.com/jurismatch/backend/internal/middleware"
	"github.com/jurismatch/backend/internal/payments"
)

// Balance handles GET /api/v1/credits/balance.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		h.writeError(w, r, apperr.Unauthorized("unauthorized"))
		return
	}
	bal, err := h.Ledger.Balance(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// Transactions handles GET /api/v1/credits/transactions?limit=N.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		h.writeError(w, r, apperr.Unauthorized("unauthorized"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, r, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}
	list, err := h.Ledger.History(r.Context(), id.UserID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": list})
}

// Stats handles GET /api/v1/credits/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		h.writeError(w, r, apperr.Unauthorized("unauthorized"))
		return
	}
	stats, err := h.Ledger.Stats(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Packages handles GET /api/v1/credits/packages.
func (h *Handler) Packages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": payments.Packages()})
}

// Package handlers exposes the engine over JSON HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jurismatch/backend/internal/apperr"
	"github.com/jurismatch/backend/internal/ledger"
	"github.com/jurismatch/backend/internal/models"
	"github.com/jurismatch/backend/internal/payments"
	"github.com/jurismatch/backend/internal/services"
)

// LeadAcceptor claims a lead for a lawyer.
type LeadAcceptor interface {
	Accept(ctx context.Context, lawyerID, leadID uuid.UUID) (*services.AcceptResult, error)
}

// LeadDistributor lists and releases leads.
type LeadDistributor interface {
	Queue(ctx context.Context, lawyerID uuid.UUID) ([]services.QueueItem, error)
	DistributeLead(ctx context.Context, leadID uuid.UUID) (int, error)
}

// MatchAdmin is the admin view of a lead's matches.
type MatchAdmin interface {
	Overview(ctx context.Context, leadID uuid.UUID) (*services.MatchOverview, error)
	TransitionLatest(ctx context.Context, leadID uuid.UUID, to models.MatchStatus, reason, actor string) (*models.LeadMatch, error)
}

// CreditLedger is the subset of the ledger used over HTTP.
type CreditLedger interface {
	Balance(ctx context.Context, lawyerID uuid.UUID) (*models.CreditBalance, error)
	History(ctx context.Context, lawyerID uuid.UUID, limit int) ([]models.CreditTransaction, error)
	Stats(ctx context.Context, lawyerID uuid.UUID) (*models.CreditStats, error)
	AddCredits(ctx context.Context, p ledger.AddParams) (*models.CreditTransaction, error)
	ExpireCredits(ctx context.Context, lawyerID uuid.UUID, amount int, reason string) (*models.CreditTransaction, error)
}

// WebhookProcessor applies payment provider events.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*payments.Result, error)
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves /api/v1 endpoints.
type Handler struct {
	Acceptor    LeadAcceptor
	Distributor LeadDistributor
	Matches     MatchAdmin
	Ledger      CreditLedger
	Payments    WebhookProcessor
	DB          Pinger
	Logger      *slog.Logger
}

var validate = validator.New()

// validateStruct flattens validator errors into one message.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, field+" must be one of "+fe.Param())
		case "gt":
			msgs = append(msgs, field+" must be greater than "+fe.Param())
		case "max":
			msgs = append(msgs, field+" must be at most "+fe.Param()+" characters")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return apperr.Validation(strings.Join(msgs, ", "))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("invalid JSON body")
	}
	return validateStruct(dst)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid " + name)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {error, code, ...details}. Errors without a code
// are logged and hidden behind a generic 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Code == apperr.CodeInternal {
		h.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "internal error",
			"code":  apperr.CodeInternal,
		})
		return
	}
	body := make(map[string]any, len(e.Details)+2)
	for k, v := range e.Details {
		body[k] = v
	}
	body["error"] = e.Message
	body["code"] = e.Code
	writeJSON(w, e.Code.HTTPStatus(), body)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.Ping(r.Context()); err != nil {
		h.Logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

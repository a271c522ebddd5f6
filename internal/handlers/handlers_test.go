package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jurismatch/backend/internal/apperr"
	"github.com/jurismatch/backend/internal/auth"
	"github.com/jurismatch/backend/internal/handlers"
	"github.com/jurismatch/backend/internal/ledger"
	"github.com/jurismatch/backend/internal/models"
	"github.com/jurismatch/backend/internal/payments"
	"github.com/jurismatch/backend/internal/router"
	"github.com/jurismatch/backend/internal/services"
	"github.com/jurismatch/backend/internal/testutil"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubWebhook struct {
	res *payments.Result
	err error
	sig string
}

func (s *stubWebhook) HandleWebhook(_ context.Context, _ []byte, sig string) (*payments.Result, error) {
	s.sig = sig
	return s.res, s.err
}

// ---------------------------------------------------------------------------
// Server wired to the in-memory store
// ---------------------------------------------------------------------------

type server struct {
	t       *testing.T
	store   *testutil.Store
	ledger  *ledger.Service
	tokens  *auth.Service
	webhook *stubWebhook
	pinger  *stubPinger
	http    http.Handler
	area    uuid.UUID
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := testutil.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	scorer := services.NewScorer(services.DefaultWeights())
	led := ledger.NewService(store, store, logger)
	dist := services.NewDistributor(scorer, store, store, store, store, store, store,
		services.DefaultDistributorConfig(), logger)
	machine := services.NewMatchMachine(store, store, store, 3, logger)
	acceptor := services.NewAcceptor(store, store, store, store, led, dist, machine, store,
		services.AcceptorConfig{CreditCost: 1, MaxAttempts: 3, Timeout: 5 * time.Second}, logger)

	s := &server{
		t:       t,
		store:   store,
		ledger:  led,
		tokens:  auth.NewService("test-secret"),
		webhook: &stubWebhook{},
		pinger:  &stubPinger{},
		area:    uuid.New(),
	}
	h := &handlers.Handler{
		Acceptor:    acceptor,
		Distributor: dist,
		Matches:     machine,
		Ledger:      led,
		Payments:    s.webhook,
		DB:          s.pinger,
		Logger:      logger,
	}
	s.http = router.New(h, s.tokens)
	return s
}

func (s *server) lawyer(plan models.Plan) models.Lawyer {
	resp := 30
	now := time.Now()
	l := models.Lawyer{
		ID:                  uuid.New(),
		Name:                "Dra. Ana Souza",
		Email:               "ana@example.com",
		PracticeAreaIDs:     []uuid.UUID{s.area},
		City:                "São Paulo",
		State:               "SP",
		Plan:                plan,
		Verified:            true,
		Rating:              4.8,
		ResponseTimeMinutes: &resp,
		YearsExperience:     10,
		Languages:           []string{"pt"},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.store.AddLawyer(l)
	return l
}

func (s *server) lead() models.Lead {
	now := time.Now()
	client := models.Client{ID: uuid.New(), Name: "Carlos", Email: "carlos@example.com", CreatedAt: now}
	s.store.AddClient(client)
	l := models.Lead{
		ID:                    uuid.New(),
		ClientID:              &client.ID,
		PracticeAreaID:        s.area,
		City:                  "São Paulo",
		State:                 "SP",
		Description:           "Rescisão indireta",
		Urgency:               models.UrgencyHigh,
		Language:              "pt",
		Status:                models.LeadStatusNew,
		DistributionStartedAt: now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	s.store.AddLead(l)
	return l
}

func (s *server) fund(lawyerID uuid.UUID, n int) {
	s.t.Helper()
	_, err := s.ledger.AddCredits(context.Background(), ledger.AddParams{
		LawyerID: lawyerID, Amount: n, Type: models.TransactionPurchase, Description: "seed",
	})
	require.NoError(s.t, err)
}

func (s *server) token(id uuid.UUID, role string) string {
	s.t.Helper()
	tok, err := s.tokens.IssueToken(id, role)
	require.NoError(s.t, err)
	return tok
}

// do sends a request and decodes the JSON response body into a map.
func (s *server) do(method, path, token string, body any) (int, map[string]any) {
	s.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.http.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

// ---------------------------------------------------------------------------
// Lawyer routes
// ---------------------------------------------------------------------------

func TestAcceptLead(t *testing.T) {
	s := newServer(t)
	lawyer := s.lawyer(models.PlanFeatured)
	s.fund(lawyer.ID, 2)
	lead := s.lead()
	tok := s.token(lawyer.ID, auth.RoleLawyer)
	path := "/api/v1/leads/" + lead.ID.String() + "/accept"

	code, body := s.do(http.MethodPost, path, tok, nil)
	require.Equal(t, http.StatusOK, code, body)
	credits, ok := body["credits"].(map[string]any)
	require.True(t, ok, "credits object missing: %v", body)
	require.EqualValues(t, 1, credits["consumed"])
	require.EqualValues(t, 1, credits["balance"])
	require.NotContains(t, body, "balance")
	require.Equal(t, string(models.PlanFeatured), body["tier"])
	require.NotEmpty(t, body["matchId"])
	require.NotEmpty(t, body["conversationRef"])

	// Retrying is a conflict and charges nothing.
	code, body = s.do(http.MethodPost, path, tok, nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, string(apperr.CodeAlreadyConsumed), body["code"])
	require.Equal(t, 1, s.store.Credits(lawyer.ID))
}

func TestAcceptLead_InsufficientCredits(t *testing.T) {
	s := newServer(t)
	lawyer := s.lawyer(models.PlanFeatured)
	lead := s.lead()

	code, body := s.do(http.MethodPost, "/api/v1/leads/"+lead.ID.String()+"/accept", s.token(lawyer.ID, auth.RoleLawyer), nil)
	require.Equal(t, http.StatusPaymentRequired, code)
	require.Equal(t, string(apperr.CodeInsufficientCredits), body["code"])
	require.EqualValues(t, 0, body["currentBalance"])
	require.EqualValues(t, 1, body["required"])
	require.Empty(t, s.store.MatchesFor(lead.ID))
}

func TestAcceptLead_BadRequests(t *testing.T) {
	s := newServer(t)
	lawyer := s.lawyer(models.PlanFeatured)
	tok := s.token(lawyer.ID, auth.RoleLawyer)

	code, body := s.do(http.MethodPost, "/api/v1/leads/not-a-uuid/accept", tok, nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, string(apperr.CodeValidation), body["code"])

	code, _ = s.do(http.MethodPost, "/api/v1/leads/"+uuid.NewString()+"/accept", tok, nil)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, "/api/v1/leads/"+uuid.NewString()+"/accept", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(http.MethodPost, "/api/v1/leads/"+uuid.NewString()+"/accept", s.token(uuid.New(), auth.RoleAdmin), nil)
	require.Equal(t, http.StatusForbidden, code)
}

func TestLeadQueue(t *testing.T) {
	s := newServer(t)
	featured := s.lawyer(models.PlanFeatured)
	free := s.lawyer(models.PlanFree)
	lead := s.lead()

	code, body := s.do(http.MethodGet, "/api/v1/leads/queue", s.token(featured.ID, auth.RoleLawyer), nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["count"])
	items := body["leads"].([]any)
	item := items[0].(map[string]any)
	require.Equal(t, lead.ID.String(), item["lead"].(map[string]any)["id"])

	// FREE opens 24h after distribution starts.
	code, body = s.do(http.MethodGet, "/api/v1/leads/queue", s.token(free.ID, auth.RoleLawyer), nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 0, body["count"])
}

func TestCreditsEndpoints(t *testing.T) {
	s := newServer(t)
	lawyer := s.lawyer(models.PlanPremium)
	s.fund(lawyer.ID, 10)
	s.fund(lawyer.ID, 5)
	tok := s.token(lawyer.ID, auth.RoleLawyer)

	code, body := s.do(http.MethodGet, "/api/v1/credits/balance", tok, nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 15, body["credits"])

	code, body = s.do(http.MethodGet, "/api/v1/credits/transactions?limit=1", tok, nil)
	require.Equal(t, http.StatusOK, code)
	txns := body["transactions"].([]any)
	require.Len(t, txns, 1)
	require.EqualValues(t, 5, txns[0].(map[string]any)["amount"])

	code, _ = s.do(http.MethodGet, "/api/v1/credits/transactions?limit=abc", tok, nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(http.MethodGet, "/api/v1/credits/stats", tok, nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 15, body["balance"])
	require.EqualValues(t, 15, body["lifetime"].(map[string]any)["purchased"])
}

func TestPackages_Public(t *testing.T) {
	s := newServer(t)
	code, body := s.do(http.MethodGet, "/api/v1/credits/packages", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["packages"], len(payments.Packages()))
}

// ---------------------------------------------------------------------------
// Admin routes
// ---------------------------------------------------------------------------

func TestAdminTransitionAndOverview(t *testing.T) {
	s := newServer(t)
	lawyer := s.lawyer(models.PlanFeatured)
	s.fund(lawyer.ID, 1)
	lead := s.lead()
	code, _ := s.do(http.MethodPost, "/api/v1/leads/"+lead.ID.String()+"/accept", s.token(lawyer.ID, auth.RoleLawyer), nil)
	require.Equal(t, http.StatusOK, code)

	adminID := uuid.New()
	admin := s.token(adminID, auth.RoleAdmin)
	path := "/api/v1/admin/leads/" + lead.ID.String() + "/matches"

	for _, status := range []string{"ACTIVE", "BOGUS"} {
		code, body := s.do(http.MethodPut, path, admin, map[string]string{"status": status})
		require.Equal(t, http.StatusBadRequest, code, status)
		require.Equal(t, string(apperr.CodeValidation), body["code"])
		require.ElementsMatch(t, []any{"CONVERTED", "DECLINED", "EXPIRED"}, body["validStatuses"], status)
	}
	code, body := s.do(http.MethodPut, path, admin, map[string]string{"reason": "no status"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, string(apperr.CodeValidation), body["code"])
	require.Len(t, s.store.History(s.store.MatchesFor(lead.ID)[0].ID), 1)

	code, body = s.do(http.MethodPut, path, admin, map[string]string{"status": "CONVERTED", "reason": "signed"})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, string(models.MatchStatusConverted), body["status"])
	history := body["statusHistory"].([]any)
	last := history[len(history)-1].(map[string]any)
	require.Equal(t, adminID.String(), last["by"])

	code, body = s.do(http.MethodGet, path, admin, nil)
	require.Equal(t, http.StatusOK, code)
	stats := body["stats"].(map[string]any)
	require.EqualValues(t, 1, stats["converted"])
	require.EqualValues(t, 100, stats["conversionRate"])
	require.Equal(t, string(models.LeadStatusConverted), body["lead"].(map[string]any)["status"])

	code, _ = s.do(http.MethodGet, path, s.token(lawyer.ID, auth.RoleLawyer), nil)
	require.Equal(t, http.StatusForbidden, code)
}

func TestAdminDistribute(t *testing.T) {
	s := newServer(t)
	s.lawyer(models.PlanFeatured)
	s.lawyer(models.PlanFeatured)
	lead := s.lead()
	admin := s.token(uuid.New(), auth.RoleAdmin)

	code, body := s.do(http.MethodPost, "/api/v1/admin/leads/"+lead.ID.String()+"/distribute", admin, nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, body["notified"])
	require.Len(t, s.store.Available(), 2)

	code, body = s.do(http.MethodPost, "/api/v1/admin/leads/"+lead.ID.String()+"/distribute", admin, nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 0, body["notified"])
}

func TestAdminCredits(t *testing.T) {
	s := newServer(t)
	lawyer := s.lawyer(models.PlanFree)
	admin := s.token(uuid.New(), auth.RoleAdmin)
	path := "/api/v1/admin/lawyers/" + lawyer.ID.String() + "/credits"

	code, body := s.do(http.MethodPost, path, admin, map[string]any{"type": "EXPIRE", "amount": 3, "description": "yearly expiry"})
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 0, body["expired"])

	code, body = s.do(http.MethodPost, path, admin, map[string]any{"type": "BONUS", "amount": 5, "description": "welcome"})
	require.Equal(t, http.StatusCreated, code, body)
	require.EqualValues(t, 5, body["balance"])

	code, body = s.do(http.MethodPost, path, admin, map[string]any{"type": "EXPIRE", "amount": 8, "description": "yearly expiry"})
	require.Equal(t, http.StatusCreated, code, body)
	require.EqualValues(t, -5, body["amount"])
	require.Equal(t, 0, s.store.Credits(lawyer.ID))

	for name, req := range map[string]map[string]any{
		"purchase not allowed": {"type": "PURCHASE", "amount": 5, "description": "x"},
		"zero amount":          {"type": "BONUS", "amount": 0, "description": "x"},
		"missing description":  {"type": "BONUS", "amount": 1},
		"unknown field":        {"type": "BONUS", "amount": 1, "description": "x", "extra": true},
	} {
		t.Run(name, func(t *testing.T) {
			code, body := s.do(http.MethodPost, path, admin, req)
			require.Equal(t, http.StatusBadRequest, code, body)
		})
	}
}

// ---------------------------------------------------------------------------
// Webhook and health
// ---------------------------------------------------------------------------

func TestStripeWebhook(t *testing.T) {
	s := newServer(t)
	lawyerID := uuid.New()
	s.webhook.res = &payments.Result{EventID: "evt_1", Handled: true, LawyerID: &lawyerID, Credits: 55, Balance: 55}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stripe/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	s.http.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "t=1,v1=abc", s.webhook.sig)
	require.Contains(t, rec.Body.String(), `"credits":55`)

	s.webhook.err = apperr.Validation("invalid stripe signature")
	code, body := s.do(http.MethodPost, "/api/v1/payments/stripe/webhook", "", map[string]string{})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid stripe signature", body["error"])
}

func TestInternalErrorsAreHidden(t *testing.T) {
	s := newServer(t)
	s.webhook.err = errors.New("pq: connection reset")

	code, body := s.do(http.MethodPost, "/api/v1/payments/stripe/webhook", "", map[string]string{})
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "internal error", body["error"])
	require.Equal(t, string(apperr.CodeInternal), body["code"])
}

func TestHealthz(t *testing.T) {
	s := newServer(t)
	code, body := s.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])

	s.pinger.err = errors.New("down")
	code, _ = s.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, code)
}

package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jurismatch/backend/internal/ledger"
	"github.com/jurismatch/backend/internal/models"
	"github.com/jurismatch/backend/internal/services"
	"github.com/jurismatch/backend/internal/testutil"
)

// ---------------------------------------------------------------------------
// Shared fixture: every service wired to one in-memory store and one clock.
// ---------------------------------------------------------------------------

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type env struct {
	store    *testutil.Store
	clock    *clock
	scorer   *services.Scorer
	ledger   *ledger.Service
	dist     *services.Distributor
	machine  *services.MatchMachine
	acceptor *services.Acceptor
	area     uuid.UUID
}

func newEnv(t *testing.T) *env {
	return newEnvWith(t, services.AcceptorConfig{CreditCost: 1, MaxAttempts: 3})
}

func newEnvWith(t *testing.T, acfg services.AcceptorConfig) *env {
	t.Helper()
	c := &clock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	store := testutil.NewStore()
	store.Now = c.Now

	scorer := services.NewScorer(services.DefaultWeights())
	led := ledger.NewService(store, store, nil).WithClock(c.Now)
	dist := services.NewDistributor(scorer, store, store, store, store, store, store,
		services.DefaultDistributorConfig(), nil).WithClock(c.Now)
	machine := services.NewMatchMachine(store, store, store, 3, nil).WithClock(c.Now)
	acceptor := services.NewAcceptor(store, store, store, store, led, dist, machine, store, acfg, nil).WithClock(c.Now)

	return &env{
		store:    store,
		clock:    c,
		scorer:   scorer,
		ledger:   led,
		dist:     dist,
		machine:  machine,
		acceptor: acceptor,
		area:     uuid.New(),
	}
}

type lawyerOpt func(*models.Lawyer)

func inState(state, city string) lawyerOpt {
	return func(l *models.Lawyer) { l.State, l.City = state, city }
}

func rated(r float64) lawyerOpt {
	return func(l *models.Lawyer) { l.Rating = r }
}

// lawyer seeds a verified, experienced lawyer in the fixture's practice area.
func (e *env) lawyer(plan models.Plan, opts ...lawyerOpt) models.Lawyer {
	resp := 45
	l := models.Lawyer{
		ID:                  uuid.New(),
		Name:                "Lawyer " + string(plan),
		Email:               uuid.NewString() + "@example.com",
		PracticeAreaIDs:     []uuid.UUID{e.area},
		City:                "São Paulo",
		State:               "SP",
		Plan:                plan,
		Verified:            true,
		Rating:              4.5,
		ResponseTimeMinutes: &resp,
		YearsExperience:     8,
		Languages:           []string{"pt"},
		CreatedAt:           e.clock.Now(),
		UpdatedAt:           e.clock.Now(),
	}
	for _, opt := range opts {
		opt(&l)
	}
	e.store.AddLawyer(l)
	return l
}

// lead seeds a NEW lead with a client, distributed from the current instant.
func (e *env) lead() models.Lead {
	client := models.Client{ID: uuid.New(), Name: "Client", Email: "client@example.com", CreatedAt: e.clock.Now()}
	e.store.AddClient(client)
	l := models.Lead{
		ID:                    uuid.New(),
		ClientID:              &client.ID,
		PracticeAreaID:        e.area,
		City:                  "São Paulo",
		State:                 "SP",
		Description:           "Labor dispute",
		Urgency:               models.UrgencyMedium,
		Language:              "pt",
		Status:                models.LeadStatusNew,
		DistributionStartedAt: e.clock.Now(),
		CreatedAt:             e.clock.Now(),
		UpdatedAt:             e.clock.Now(),
	}
	e.store.AddLead(l)
	return l
}

func (e *env) fund(t *testing.T, lawyerID uuid.UUID, n int) {
	t.Helper()
	if _, err := e.ledger.AddCredits(context.Background(), ledger.AddParams{
		LawyerID: lawyerID, Amount: n, Type: models.TransactionPurchase, Description: "fixture",
	}); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

// accept fails the test on error.
func (e *env) accept(t *testing.T, lawyerID, leadID uuid.UUID) *services.AcceptResult {
	t.Helper()
	res, err := e.acceptor.Accept(context.Background(), lawyerID, leadID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return res
}

// Package testutil provides an in-memory implementation of every store the
// engine uses, with real transaction semantics: one transaction at a time,
// rollback restores the snapshot taken at begin, and unique keys fail with
// the same Postgres error codes the pgx repositories surface.
package testutil

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jurismatch/backend/internal/db"
	"github.com/jurismatch/backend/internal/ledger"
	"github.com/jurismatch/backend/internal/models"
	"github.com/jurismatch/backend/internal/services"
)

type usageKey struct{ lawyer, lead uuid.UUID }

type tierKey struct {
	lead  uuid.UUID
	cycle int
	tier  models.Plan
}

type lawyerKey struct {
	lead   uuid.UUID
	cycle  int
	lawyer uuid.UUID
}

type paymentKey struct{ provider, eventID string }

type state struct {
	clients     map[uuid.UUID]models.Client
	lawyers     map[uuid.UUID]models.Lawyer
	leads       map[uuid.UUID]models.Lead
	matches     map[uuid.UUID]models.LeadMatch
	matchSeq    map[uuid.UUID]int
	history     []models.StatusChange
	balances    map[uuid.UUID]models.CreditBalance
	txns        []models.CreditTransaction
	usages      map[usageKey]models.CreditUsage
	tierMarks   map[tierKey]bool
	lawyerMarks map[lawyerKey]bool
	payments    map[paymentKey]models.PaymentEvent
	available   []services.LeadAvailable
}

func newState() state {
	return state{
		clients:     map[uuid.UUID]models.Client{},
		lawyers:     map[uuid.UUID]models.Lawyer{},
		leads:       map[uuid.UUID]models.Lead{},
		matches:     map[uuid.UUID]models.LeadMatch{},
		matchSeq:    map[uuid.UUID]int{},
		balances:    map[uuid.UUID]models.CreditBalance{},
		usages:      map[usageKey]models.CreditUsage{},
		tierMarks:   map[tierKey]bool{},
		lawyerMarks: map[lawyerKey]bool{},
		payments:    map[paymentKey]models.PaymentEvent{},
	}
}

func (s state) clone() state {
	return state{
		clients:     maps(s.clients),
		lawyers:     maps(s.lawyers),
		leads:       maps(s.leads),
		matches:     maps(s.matches),
		matchSeq:    maps(s.matchSeq),
		history:     slices.Clone(s.history),
		balances:    maps(s.balances),
		txns:        slices.Clone(s.txns),
		usages:      maps(s.usages),
		tierMarks:   maps(s.tierMarks),
		lawyerMarks: maps(s.lawyerMarks),
		payments:    maps(s.payments),
		available:   slices.Clone(s.available),
	}
}

func maps[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store is safe for concurrent use. Transactions are serialized.
type Store struct {
	mu  sync.Mutex
	st  state
	sem chan struct{}

	failCommits int
	failEnqueue error
	accepted    []services.LeadAccepted
	begins      int
	seq         int

	// Now stamps rows the database would timestamp itself.
	Now func() time.Time
}

func NewStore() *Store {
	return &Store{st: newState(), sem: make(chan struct{}, 1), Now: time.Now}
}

// BeginTx blocks until no other transaction is open or ctx is done.
func (s *Store) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	s.begins++
	snap := s.st.clone()
	s.mu.Unlock()
	return &Tx{store: s, snapshot: snap}, nil
}

// FailNextCommits makes the next n commits fail with a serialization failure.
func (s *Store) FailNextCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

// FailEnqueueAccepted makes EnqueueLeadAccepted return err.
func (s *Store) FailEnqueueAccepted(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failEnqueue = err
}

// Begins reports how many transactions were started.
func (s *Store) Begins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins
}

// Tx satisfies pgx.Tx. Stores ignore the handle; only Commit and Rollback
// carry meaning.
type Tx struct {
	store    *Store
	snapshot state
	done     bool
}

var _ pgx.Tx = (*Tx)(nil)

func (t *Tx) finish(restore bool) {
	t.done = true
	if restore {
		t.store.mu.Lock()
		t.store.st = t.snapshot
		t.store.mu.Unlock()
	}
	<-t.store.sem
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	if err := ctx.Err(); err != nil {
		t.finish(true)
		return err
	}
	t.store.mu.Lock()
	fail := t.store.failCommits > 0
	if fail {
		t.store.failCommits--
	}
	t.store.mu.Unlock()
	if fail {
		t.finish(true)
		return db.SerializationFailure()
	}
	t.finish(false)
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.finish(true)
	return nil
}

var errNoSQL = errors.New("testutil: SQL is not supported by the in-memory store")

func (t *Tx) Begin(context.Context) (pgx.Tx, error) { return nil, errNoSQL }
func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), errNoSQL
}
func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, errNoSQL }
func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errNoSQL
}
func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errNoSQL
}
func (t *Tx) Conn() *pgx.Conn { return nil }

// ---------------------------------------------------------------------------
// Seeding and inspection
// ---------------------------------------------------------------------------

func (s *Store) AddClient(c models.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.clients[c.ID] = c
}

func (s *Store) AddLawyer(l models.Lawyer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.lawyers[l.ID] = l
}

func (s *Store) AddLead(l models.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.leads[l.ID] = l
}

func (s *Store) Lead(id uuid.UUID) models.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.leads[id]
}

// Credits returns the balance row value, or -1 when no row exists.
func (s *Store) Credits(lawyerID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.balances[lawyerID]
	if !ok {
		return -1
	}
	return b.Credits
}

// Transactions returns the lawyer's ledger rows oldest first.
func (s *Store) Transactions(lawyerID uuid.UUID) []models.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CreditTransaction
	for _, t := range s.st.txns {
		if t.LawyerID == lawyerID {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) UsageCount(lawyerID, leadID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.usages[usageKey{lawyerID, leadID}]; ok {
		return 1
	}
	return 0
}

func (s *Store) MatchesFor(leadID uuid.UUID) []models.LeadMatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchesByLead(leadID)
}

func (s *Store) History(matchID uuid.UUID) []models.StatusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StatusChange
	for _, c := range s.st.history {
		if c.MatchID == matchID {
			out = append(out, c)
		}
	}
	return out
}

// Available returns committed lead-available notification jobs.
func (s *Store) Available() []services.LeadAvailable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.available)
}

func (s *Store) Accepted() []services.LeadAccepted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.accepted)
}

func (s *Store) PaymentEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.payments)
}

// ---------------------------------------------------------------------------
// services.LeadStore
// ---------------------------------------------------------------------------

func (s *Store) GetLead(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.leads[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &l, nil
}

func (s *Store) GetLeadForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Lead, error) {
	return s.GetLead(ctx, tx, id)
}

func (s *Store) UpdateLead(_ context.Context, _ pgx.Tx, l *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.leads[l.ID]; !ok {
		return pgx.ErrNoRows
	}
	s.st.leads[l.ID] = *l
	return nil
}

func (s *Store) ListOpenLeads(_ context.Context, _ pgx.Tx, since time.Time, limit int) ([]models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Lead
	for _, l := range s.st.leads {
		if l.Status != models.LeadStatusConverted && !l.DistributionStartedAt.Before(since) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistributionStartedAt.Before(out[j].DistributionStartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListOpenLeadsByPracticeAreas(_ context.Context, _ pgx.Tx, areaIDs []uuid.UUID) ([]models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Lead
	for _, l := range s.st.leads {
		if l.Status != models.LeadStatusConverted && slices.Contains(areaIDs, l.PracticeAreaID) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ClientExists(_ context.Context, _ pgx.Tx, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.clients[id]
	return ok, nil
}

func (s *Store) GetClient(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.clients[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &c, nil
}

// ---------------------------------------------------------------------------
// services.LawyerStore
// ---------------------------------------------------------------------------

func (s *Store) GetLawyer(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Lawyer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.lawyers[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &l, nil
}

func (s *Store) ListLawyersByPracticeArea(_ context.Context, _ pgx.Tx, areaID uuid.UUID) ([]models.Lawyer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Lawyer
	for _, l := range s.st.lawyers {
		if l.Practices(areaID) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// ---------------------------------------------------------------------------
// services.MatchStore
// ---------------------------------------------------------------------------

func (s *Store) matchesByLead(leadID uuid.UUID) []models.LeadMatch {
	var out []models.LeadMatch
	for _, m := range s.st.matches {
		if m.LeadID == leadID {
			m.StatusHistory = nil
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MatchedAt.Equal(out[j].MatchedAt) {
			return out[i].MatchedAt.Before(out[j].MatchedAt)
		}
		return s.st.matchSeq[out[i].ID] < s.st.matchSeq[out[j].ID]
	})
	return out
}

func (s *Store) InsertMatch(_ context.Context, _ pgx.Tx, m *models.LeadMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.matches {
		if existing.LeadID == m.LeadID && existing.LawyerID == m.LawyerID {
			return db.UniqueViolation("lead_matches_lead_id_lawyer_id_key")
		}
	}
	cp := *m
	cp.StatusHistory = nil
	s.st.matches[m.ID] = cp
	s.seq++
	s.st.matchSeq[m.ID] = s.seq
	return nil
}

func (s *Store) UpdateMatch(_ context.Context, _ pgx.Tx, m *models.LeadMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.matches[m.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *m
	cp.StatusHistory = nil
	s.st.matches[m.ID] = cp
	return nil
}

func (s *Store) GetMatch(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.LeadMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.matches[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &m, nil
}

func (s *Store) GetMatchForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.LeadMatch, error) {
	return s.GetMatch(ctx, tx, id)
}

func (s *Store) LatestMatchForUpdate(_ context.Context, _ pgx.Tx, leadID uuid.UUID) (*models.LeadMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.matchesByLead(leadID)
	if len(list) == 0 {
		return nil, pgx.ErrNoRows
	}
	m := list[len(list)-1]
	return &m, nil
}

func (s *Store) ListMatchesByLead(_ context.Context, _ pgx.Tx, leadID uuid.UUID) ([]models.LeadMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchesByLead(leadID), nil
}

func (s *Store) ListStaleActiveMatches(_ context.Context, _ pgx.Tx, before time.Time, limit int) ([]models.LeadMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LeadMatch
	for _, m := range s.st.matches {
		if m.Status == models.MatchStatusActive && m.MatchedAt.Before(before) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchedAt.Before(out[j].MatchedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendStatusChange(_ context.Context, _ pgx.Tx, c *models.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.history = append(s.st.history, *c)
	return nil
}

func (s *Store) ListStatusChanges(_ context.Context, _ pgx.Tx, leadID uuid.UUID) ([]models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StatusChange
	for _, c := range s.st.history {
		if m, ok := s.st.matches[c.MatchID]; ok && m.LeadID == leadID {
			out = append(out, c)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// services.MarkerStore and services.NotificationQueue
// ---------------------------------------------------------------------------

func (s *Store) MarkTierNotified(_ context.Context, _ pgx.Tx, leadID uuid.UUID, cycle int, tier models.Plan) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tierKey{leadID, cycle, tier}
	if s.st.tierMarks[k] {
		return false, nil
	}
	s.st.tierMarks[k] = true
	return true, nil
}

func (s *Store) MarkLawyerNotified(_ context.Context, _ pgx.Tx, leadID uuid.UUID, cycle int, lawyerID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := lawyerKey{leadID, cycle, lawyerID}
	if s.st.lawyerMarks[k] {
		return false, nil
	}
	s.st.lawyerMarks[k] = true
	return true, nil
}

// EnqueueLeadAvailable records the job in transactional state, so a rolled
// back transaction leaves no job behind.
func (s *Store) EnqueueLeadAvailable(_ context.Context, _ pgx.Tx, n services.LeadAvailable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.available = append(s.st.available, n)
	return nil
}

func (s *Store) EnqueueLeadAccepted(_ context.Context, n services.LeadAccepted) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEnqueue != nil {
		return s.failEnqueue
	}
	s.accepted = append(s.accepted, n)
	return nil
}

// ---------------------------------------------------------------------------
// ledger.Store
// ---------------------------------------------------------------------------

var _ ledger.Store = (*Store)(nil)

func (s *Store) EnsureBalance(_ context.Context, _ pgx.Tx, lawyerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.balances[lawyerID]; !ok {
		s.st.balances[lawyerID] = models.CreditBalance{LawyerID: lawyerID, LastUpdated: s.Now()}
	}
	return nil
}

func (s *Store) GetBalanceForUpdate(_ context.Context, _ pgx.Tx, lawyerID uuid.UUID) (*models.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.balances[lawyerID]
	if !ok {
		return nil, ledger.ErrBalanceNotFound
	}
	return &b, nil
}

func (s *Store) DebitCredits(_ context.Context, _ pgx.Tx, lawyerID uuid.UUID, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.balances[lawyerID]
	if !ok || b.Credits < amount {
		return 0, ledger.ErrInsufficientCredits
	}
	b.Credits -= amount
	b.LastUpdated = s.Now()
	s.st.balances[lawyerID] = b
	return b.Credits, nil
}

func (s *Store) CreditCredits(_ context.Context, _ pgx.Tx, lawyerID uuid.UUID, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.balances[lawyerID]
	if !ok {
		return 0, ledger.ErrBalanceNotFound
	}
	b.Credits += amount
	b.LastUpdated = s.Now()
	s.st.balances[lawyerID] = b
	return b.Credits, nil
}

func (s *Store) InsertTransaction(_ context.Context, _ pgx.Tx, t *models.CreditTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.txns = append(s.st.txns, *t)
	return nil
}

func (s *Store) HasUsage(_ context.Context, _ pgx.Tx, lawyerID, leadID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.usages[usageKey{lawyerID, leadID}]
	return ok, nil
}

func (s *Store) InsertUsage(_ context.Context, _ pgx.Tx, u *models.CreditUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := usageKey{u.LawyerID, u.LeadID}
	if _, ok := s.st.usages[k]; ok {
		return db.UniqueViolation("credit_usages_lawyer_lead_key")
	}
	s.st.usages[k] = *u
	return nil
}

func (s *Store) ListTransactions(_ context.Context, _ pgx.Tx, lawyerID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CreditTransaction
	for i := len(s.st.txns) - 1; i >= 0; i-- {
		if s.st.txns[i].LawyerID == lawyerID {
			out = append(out, s.st.txns[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) SumByType(_ context.Context, _ pgx.Tx, lawyerID uuid.UUID, since time.Time) (map[models.TransactionType]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := map[models.TransactionType]int{}
	for _, t := range s.st.txns {
		if t.LawyerID == lawyerID && !t.CreatedAt.Before(since) {
			sums[t.Type] += t.Amount
		}
	}
	return sums, nil
}

// ---------------------------------------------------------------------------
// payments.EventStore
// ---------------------------------------------------------------------------

func (s *Store) RecordPaymentEvent(_ context.Context, _ pgx.Tx, e *models.PaymentEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := paymentKey{e.Provider, e.EventID}
	if _, ok := s.st.payments[k]; ok {
		return false, nil
	}
	s.st.payments[k] = *e
	return true, nil
}

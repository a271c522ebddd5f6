package execution

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/jurismatch/backend/internal/services"
)

// Inserter is the subset of *river.Client[pgx.Tx] the dispatcher uses.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
	InsertTx(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

var errNotBound = errors.New("river client not bound to dispatcher")

// Dispatcher turns service notifications into River jobs. It is created
// before the River client (the workers need the services that need the
// dispatcher) and bound to it afterwards.
type Dispatcher struct {
	mu       sync.RWMutex
	inserter Inserter
}

var _ services.NotificationQueue = (*Dispatcher)(nil)

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Bind sets the client used to insert jobs.
func (d *Dispatcher) Bind(in Inserter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inserter = in
}

func (d *Dispatcher) client() (Inserter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.inserter == nil {
		return nil, errNotBound
	}
	return d.inserter, nil
}

// EnqueueLeadAvailable inserts the job in tx, next to the notified marker.
func (d *Dispatcher) EnqueueLeadAvailable(ctx context.Context, tx pgx.Tx, n services.LeadAvailable) error {
	in, err := d.client()
	if err != nil {
		return err
	}
	_, err = in.InsertTx(ctx, tx, NotifyLawyerArgs{
		LeadID:   n.LeadID,
		LawyerID: n.LawyerID,
		Tier:     n.Tier,
		Score:    n.Score,
		Cycle:    n.Cycle,
	}, nil)
	return err
}

func (d *Dispatcher) EnqueueLeadAccepted(ctx context.Context, n services.LeadAccepted) error {
	in, err := d.client()
	if err != nil {
		return err
	}
	_, err = in.Insert(ctx, LeadAcceptedArgs{
		LeadID:          n.LeadID,
		LawyerID:        n.LawyerID,
		MatchID:         n.MatchID,
		ConversationRef: n.ConversationRef,
	}, nil)
	return err
}

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/idem"
	"github.com/intent-solutions-io/durable/lock"
)

// Coordination is the subset of Store serving ephemeral coordination
// state: run locks and idempotency records. The redis backend implements
// exactly this.
type Coordination interface {
	lock.Store
	idem.Store

	Ping(ctx context.Context) error
	Close() error
}

// WithCoordination overlays coordination operations onto a durable base
// store: jobs, runs, and checkpoints stay on base, locks and idempotency
// records go to coord. This is how a postgres- or mongo-backed deployment
// moves its high-churn lease traffic to redis.
func WithCoordination(base Store, coord Coordination) Store {
	return &overlay{Store: base, coord: coord}
}

var _ Store = (*overlay)(nil)

type overlay struct {
	Store
	coord Coordination
}

func (o *overlay) AcquireLock(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*lock.Lock, error) {
	return o.coord.AcquireLock(ctx, runID, holderID, ttl)
}

func (o *overlay) ReleaseLock(ctx context.Context, runID id.RunID, holderID id.WorkerID) error {
	return o.coord.ReleaseLock(ctx, runID, holderID)
}

func (o *overlay) RenewLock(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*lock.Lock, error) {
	return o.coord.RenewLock(ctx, runID, holderID, ttl)
}

func (o *overlay) GetLock(ctx context.Context, runID id.RunID) (*lock.Lock, error) {
	return o.coord.GetLock(ctx, runID)
}

func (o *overlay) CreateRecord(ctx context.Context, rec *idem.Record) error {
	return o.coord.CreateRecord(ctx, rec)
}

func (o *overlay) GetRecord(ctx context.Context, key idem.Key, scope string) (*idem.Record, error) {
	return o.coord.GetRecord(ctx, key, scope)
}

func (o *overlay) CompleteRecord(ctx context.Context, key idem.Key, scope string, ownerID id.WorkerID, result json.RawMessage) error {
	return o.coord.CompleteRecord(ctx, key, scope, ownerID, result)
}

func (o *overlay) DeleteRecord(ctx context.Context, key idem.Key, scope string) error {
	return o.coord.DeleteRecord(ctx, key, scope)
}

func (o *overlay) TakeOverRecord(ctx context.Context, rec *idem.Record, staleBefore time.Time) error {
	return o.coord.TakeOverRecord(ctx, rec, staleBefore)
}

func (o *overlay) Ping(ctx context.Context) error {
	if err := o.Store.Ping(ctx); err != nil {
		return err
	}
	return o.coord.Ping(ctx)
}

func (o *overlay) Close() error {
	baseErr := o.Store.Close()
	if err := o.coord.Close(); err != nil && baseErr == nil {
		return err
	}
	return baseErr
}

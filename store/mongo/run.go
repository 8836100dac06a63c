package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/run"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	_, err := s.db.Collection(colRuns).InsertOne(ctx, toRunModel(r))
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrRunAlreadyExists
		}
		return fmt.Errorf("durable/mongo: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	var m runModel
	err := s.db.Collection(colRuns).FindOne(ctx, bson.M{"_id": runID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, durable.ErrRunNotFound
		}
		return nil, fmt.Errorf("durable/mongo: get run: %w", err)
	}
	return fromRunModel(&m)
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	m := toRunModel(r)
	m.UpdatedAt = now()
	res, err := s.db.Collection(colRuns).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("durable/mongo: update run: %w", err)
	}
	if res.MatchedCount == 0 {
		return durable.ErrRunNotFound
	}
	return nil
}

// CancelRun transitions a running run to cancelled. The status guard lives
// in the filter so a concurrent completion wins cleanly.
func (s *Store) CancelRun(ctx context.Context, runID id.RunID) error {
	t := now()
	res, err := s.db.Collection(colRuns).UpdateOne(ctx,
		bson.M{
			"_id":    runID.String(),
			"status": string(run.StatusRunning),
		},
		bson.M{"$set": bson.M{
			"status":       string(run.StatusCancelled),
			"completed_at": t,
			"updated_at":   t,
		}},
	)
	if err != nil {
		return fmt.Errorf("durable/mongo: cancel run: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	if _, getErr := s.GetRun(ctx, runID); getErr != nil {
		return getErr
	}
	return durable.ErrInvalidState
}

// SaveCheckpoint overwrites the run's single checkpoint document. The $inc
// on version happens server-side in the same atomic update as the field
// overwrite, so versions are strictly increasing under concurrent writers.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *run.Checkpoint) error {
	artifacts := make(map[string][]byte, len(cp.Artifacts))
	for k, v := range cp.Artifacts {
		artifacts[k] = v
	}

	update := bson.M{
		"$set": bson.M{
			"tenant_id":          cp.TenantID,
			"current_step_index": cp.CurrentStepIndex,
			"current_step_name":  cp.CurrentStepName,
			"status":             string(cp.Status),
			"completed_steps":    cp.CompletedSteps,
			"failed_step_id":     cp.FailedStepID,
			"artifacts":          artifacts,
			"reason":             string(cp.Reason),
			"checkpointed_at":    cp.CheckpointedAt,
		},
		"$inc": bson.M{"version": 1},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var m checkpointModel
	err := s.db.Collection(colCheckpoints).
		FindOneAndUpdate(ctx, bson.M{"_id": cp.RunID.String()}, update, opts).
		Decode(&m)
	if err != nil {
		return fmt.Errorf("durable/mongo: save checkpoint: %w", err)
	}

	cp.Version = m.Version
	return nil
}

// GetCheckpoint returns the latest checkpoint for a run.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID) (*run.Checkpoint, error) {
	var m checkpointModel
	err := s.db.Collection(colCheckpoints).FindOne(ctx, bson.M{"_id": runID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, durable.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("durable/mongo: get checkpoint: %w", err)
	}
	return fromCheckpointModel(&m)
}

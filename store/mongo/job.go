package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/job"
)

// activeStatuses are the statuses under which a worker lease exists.
var activeStatuses = []string{string(job.StatusClaimed), string(job.StatusRunning)}

// CreateJob persists a new job in pending state.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.Collection(colJobs).InsertOne(ctx, toJobModel(j))
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrJobAlreadyExists
		}
		return fmt.Errorf("durable/mongo: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, durable.ErrJobNotFound
		}
		return nil, fmt.Errorf("durable/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// staleLease matches documents whose worker lease has lapsed: heartbeat
// older than cutoff, or a claim that never heartbeated and is older than
// cutoff.
func staleLease(cutoff time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"last_heartbeat": bson.M{"$lt": cutoff}},
		bson.M{"last_heartbeat": nil, "claimed_at": bson.M{"$lt": cutoff}},
	}}
}

// ClaimJob atomically claims the job with a single conditional
// FindOneAndUpdate: pending jobs match unconditionally, claimed/running
// jobs match only when the lease is stale. Exactly one concurrent caller
// can satisfy the filter.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, staleThreshold time.Duration) (*job.Job, error) {
	t := now()
	cutoff := t.Add(-staleThreshold)

	filter := bson.M{
		"_id": jobID.String(),
		"$or": bson.A{
			bson.M{"status": string(job.StatusPending)},
			bson.M{"status": bson.M{"$in": activeStatuses}, "$and": bson.A{staleLease(cutoff)}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":         string(job.StatusClaimed),
			"claimed_by":     workerID.String(),
			"claimed_at":     t,
			"last_heartbeat": t,
			"started_at":     nil,
			"updated_at":     t,
		},
		"$inc": bson.M{"attempts": 1},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err == nil {
		return fromJobModel(&m)
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("durable/mongo: claim job: %w", err)
	}

	// The claim lost. Classify why.
	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status.Terminal() {
		return nil, durable.ErrJobTerminal
	}
	// Another worker holds a live lease. Not an error.
	return nil, nil
}

// StartJob transitions claimed→running for the claim owner.
func (s *Store) StartJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	t := now()
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{
			"_id":        jobID.String(),
			"status":     string(job.StatusClaimed),
			"claimed_by": workerID.String(),
		},
		bson.M{"$set": bson.M{
			"status":         string(job.StatusRunning),
			"started_at":     t,
			"last_heartbeat": t,
			"updated_at":     t,
		}},
	)
	if err != nil {
		return fmt.Errorf("durable/mongo: start job: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return getErr
	}
	if current.Status != job.StatusClaimed {
		return durable.ErrInvalidState
	}
	return durable.ErrNotClaimOwner
}

// Heartbeat refreshes the lease for the claim owner.
func (s *Store) Heartbeat(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	t := now()
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{
			"_id":        jobID.String(),
			"status":     bson.M{"$in": activeStatuses},
			"claimed_by": workerID.String(),
		},
		bson.M{"$set": bson.M{
			"last_heartbeat": t,
			"updated_at":     t,
		}},
	)
	if err != nil {
		return fmt.Errorf("durable/mongo: heartbeat: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return getErr
	}
	if current.Status.Terminal() {
		return durable.ErrJobTerminal
	}
	return durable.ErrNotClaimOwner
}

// CompleteJob transitions the job to completed for the claim owner.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, result json.RawMessage) error {
	t := now()
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{
			"_id":        jobID.String(),
			"status":     bson.M{"$in": activeStatuses},
			"claimed_by": workerID.String(),
		},
		bson.M{"$set": bson.M{
			"status":       string(job.StatusCompleted),
			"result":       []byte(result),
			"completed_at": t,
			"error":        "",
			"updated_at":   t,
		}},
	)
	if err != nil {
		return fmt.Errorf("durable/mongo: complete job: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return getErr
	}
	if current.Status.Terminal() {
		return durable.ErrJobTerminal
	}
	return durable.ErrNotClaimOwner
}

// FailJob records a failed attempt. The retry-budget branch lives in the
// filter, so the pending-vs-failed decision is taken on the server against
// current state, never against a stale read.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string) error {
	t := now()
	owned := bson.M{
		"_id":        jobID.String(),
		"status":     bson.M{"$in": activeStatuses},
		"claimed_by": workerID.String(),
	}

	// Budget remains: back to pending with the claim cleared.
	retryFilter := bson.M{"$expr": bson.M{"$lt": bson.A{"$attempts", "$max_retries"}}}
	for k, v := range owned {
		retryFilter[k] = v
	}
	res, err := s.db.Collection(colJobs).UpdateOne(ctx, retryFilter,
		bson.M{"$set": bson.M{
			"status":         string(job.StatusPending),
			"error":          errMsg,
			"claimed_by":     "",
			"claimed_at":     nil,
			"started_at":     nil,
			"last_heartbeat": nil,
			"updated_at":     t,
		}},
	)
	if err != nil {
		return fmt.Errorf("durable/mongo: fail job: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// Budget exhausted: terminal failure.
	exhaustedFilter := bson.M{"$expr": bson.M{"$gte": bson.A{"$attempts", "$max_retries"}}}
	for k, v := range owned {
		exhaustedFilter[k] = v
	}
	res, err = s.db.Collection(colJobs).UpdateOne(ctx, exhaustedFilter,
		bson.M{"$set": bson.M{
			"status":       string(job.StatusFailed),
			"error":        errMsg,
			"completed_at": t,
			"updated_at":   t,
		}},
	)
	if err != nil {
		return fmt.Errorf("durable/mongo: fail job terminal: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return getErr
	}
	if current.Status.Terminal() {
		return durable.ErrJobTerminal
	}
	return durable.ErrNotClaimOwner
}

// DeadLetterJob quarantines a poison message, bypassing retry accounting.
func (s *Store) DeadLetterJob(ctx context.Context, jobID id.JobID, reason string) error {
	t := now()
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{
			"_id": jobID.String(),
			"status": bson.M{"$in": []string{
				string(job.StatusPending), string(job.StatusClaimed), string(job.StatusRunning),
			}},
		},
		bson.M{"$set": bson.M{
			"status":         string(job.StatusDeadLetter),
			"error":          reason,
			"completed_at":   t,
			"claimed_by":     "",
			"claimed_at":     nil,
			"started_at":     nil,
			"last_heartbeat": nil,
			"updated_at":     t,
		}},
	)
	if err != nil {
		return fmt.Errorf("durable/mongo: dead-letter job: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return getErr
	}
	return durable.ErrJobTerminal
}

// ListStaleJobs returns claimed/running jobs with lapsed heartbeats,
// oldest heartbeat first.
func (s *Store) ListStaleJobs(ctx context.Context, threshold time.Duration, limit int) ([]*job.Job, error) {
	cutoff := now().Add(-threshold)

	filter := bson.M{"status": bson.M{"$in": activeStatuses}}
	for k, v := range staleLease(cutoff) {
		filter[k] = v
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "last_heartbeat", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	return s.findJobs(ctx, filter, findOpts, "list stale jobs")
}

// ListPendingJobs returns a tenant's pending jobs, highest priority first,
// then FIFO within a priority.
func (s *Store) ListPendingJobs(ctx context.Context, tenantID string, limit int) ([]*job.Job, error) {
	filter := bson.M{
		"tenant_id": tenantID,
		"status":    string(job.StatusPending),
	}
	findOpts := options.Find().SetSort(bson.D{
		{Key: "priority", Value: -1},
		{Key: "created_at", Value: 1},
	})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	return s.findJobs(ctx, filter, findOpts, "list pending jobs")
}

// ListJobsByRun returns all jobs belonging to a run, oldest first.
func (s *Store) ListJobsByRun(ctx context.Context, runID id.RunID) ([]*job.Job, error) {
	filter := bson.M{"run_id": runID.String()}
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return s.findJobs(ctx, filter, findOpts, "list jobs by run")
}

// GetJobByMessageID correlates a queue delivery to its durable record.
func (s *Store) GetJobByMessageID(ctx context.Context, messageID id.MessageID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"message_id": messageID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, durable.ErrJobNotFound
		}
		return nil, fmt.Errorf("durable/mongo: get job by message id: %w", err)
	}
	return fromJobModel(&m)
}

// ListDeadLetterJobs returns a tenant's quarantined jobs, newest first.
func (s *Store) ListDeadLetterJobs(ctx context.Context, tenantID string, limit int) ([]*job.Job, error) {
	filter := bson.M{
		"tenant_id": tenantID,
		"status":    string(job.StatusDeadLetter),
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	return s.findJobs(ctx, filter, findOpts, "list dead letter jobs")
}

// ReplayDeadLetterJob returns a quarantined job to pending with a fresh
// attempt budget.
func (s *Store) ReplayDeadLetterJob(ctx context.Context, jobID id.JobID) error {
	t := now()
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{
			"_id":    jobID.String(),
			"status": string(job.StatusDeadLetter),
		},
		bson.M{"$set": bson.M{
			"status":         string(job.StatusPending),
			"attempts":       0,
			"error":          "",
			"result":         nil,
			"completed_at":   nil,
			"claimed_by":     "",
			"claimed_at":     nil,
			"started_at":     nil,
			"last_heartbeat": nil,
			"updated_at":     t,
		}},
	)
	if err != nil {
		return fmt.Errorf("durable/mongo: replay dead letter job: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return getErr
	}
	return durable.ErrInvalidState
}

// CleanupOldJobs purges terminal jobs older than the retention window,
// bounded by limit per sweep.
func (s *Store) CleanupOldJobs(ctx context.Context, retention time.Duration, limit int) (int64, error) {
	cutoff := now().Add(-retention)
	terminal := []string{
		string(job.StatusCompleted), string(job.StatusFailed), string(job.StatusDeadLetter),
	}

	filter := bson.M{
		"status":     bson.M{"$in": terminal},
		"updated_at": bson.M{"$lt": cutoff},
	}

	findOpts := options.Find().SetProjection(bson.M{"_id": 1})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return 0, fmt.Errorf("durable/mongo: cleanup scan: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return 0, fmt.Errorf("durable/mongo: cleanup decode: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return 0, fmt.Errorf("durable/mongo: cleanup cursor: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := s.db.Collection(colJobs).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("durable/mongo: cleanup delete: %w", err)
	}
	return res.DeletedCount, nil
}

// findJobs runs a Find and decodes the results.
func (s *Store) findJobs(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder, op string) ([]*job.Job, error) {
	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("durable/mongo: %s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("durable/mongo: %s decode: %w", op, err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("durable/mongo: %s convert: %w", op, convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

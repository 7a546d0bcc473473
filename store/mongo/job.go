package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// claimSort is the claim order: priority desc, ReadyAt asc, ID asc.
var claimSort = bson.D{
	{Key: "priority", Value: -1},
	{Key: "ready_at", Value: 1},
	{Key: "_id", Value: 1},
}

// EnqueueJob persists a new job in its initial state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.jobs().InsertOne(ctx, toJobModel(j))
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return jobq.ErrJobAlreadyExists
		}
		return s.wrap("enqueue job", err)
	}
	return nil
}

// ClaimJob atomically moves the head of the queue's waiting set to active
// with a single FindOneAndUpdate.
func (s *Store) ClaimJob(ctx context.Context, queue string, claim job.Claim) (*job.Job, error) {
	t := claim.Now.UTC()
	filter := bson.M{"state": string(job.StateWaiting), "queue": queue}
	update := bson.M{"$set": bson.M{
		"state":        string(job.StateActive),
		"lock_token":   claim.Token,
		"worker_id":    claim.WorkerID.String(),
		"processed_at": t,
		"heartbeat_at": t,
		"updated_at":   t,
	}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(claimSort)

	j, err := s.findOneAndUpdate(ctx, filter, update, opts)
	if err != nil {
		return nil, s.wrap("claim job", err)
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, jobq.ErrJobNotFound
		}
		return nil, s.wrap("get job", err)
	}
	return fromJobModel(&m)
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.jobs().DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return s.wrap("delete job", err)
	}
	if res.DeletedCount == 0 {
		return jobq.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in state in claim order.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{"state": string(state)}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}

	findOpts := options.Find().SetSort(claimSort)
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.jobs().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, s.wrap("list jobs", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, s.wrap("list jobs decode", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	count, err := s.jobs().CountDocuments(ctx, filter)
	if err != nil {
		return 0, s.wrap("count jobs", err)
	}
	return count, nil
}

// HeartbeatJob extends the lock of an owned active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, token string, now time.Time) error {
	return s.updateOwned(ctx, "heartbeat job", jobID, token, bson.M{
		"heartbeat_at": now.UTC(),
	})
}

// UpdateProgress records progress of an owned active job.
func (s *Store) UpdateProgress(ctx context.Context, jobID id.JobID, token string, progress float64) error {
	return s.updateOwned(ctx, "update progress", jobID, token, bson.M{
		"progress":   progress,
		"updated_at": time.Now().UTC(),
	})
}

// FinishJob writes the outcome in j if token still owns the job.
func (s *Store) FinishJob(ctx context.Context, j *job.Job, token string) error {
	if !j.State.IsOutcome() {
		return jobq.ErrInvalidState
	}
	set := bson.M{
		"state":          string(j.State),
		"attempts_made":  j.AttemptsMade,
		"ready_at":       j.ReadyAt,
		"progress":       j.Progress,
		"failure_reason": j.FailureReason,
		"updated_at":     j.UpdatedAt,
		"lock_token":     "",
	}
	unset := bson.M{}
	if j.Result != nil {
		set["result"] = j.Result
	} else {
		unset["result"] = ""
	}
	if j.FinishedAt != nil {
		set["finished_at"] = *j.FinishedAt
	} else {
		unset["finished_at"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := s.jobs().UpdateOne(ctx, ownedFilter(j.ID, token), update)
	if err != nil {
		return s.wrap("finish job", err)
	}
	if res.MatchedCount == 0 {
		return s.lostOrMissing(ctx, j.ID)
	}
	return nil
}

// PromoteJobs moves stalled jobs and due delayed jobs to waiting, one
// atomic document update at a time.
func (s *Store) PromoteJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	now = now.UTC()
	filter := bson.M{"$or": bson.A{
		bson.M{"state": string(job.StateStalled)},
		bson.M{"state": string(job.StateDelayed), "ready_at": bson.M{"$lte": now}},
	}}
	update := bson.M{"$set": bson.M{"state": string(job.StateWaiting), "updated_at": now}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "ready_at", Value: 1}})

	var out []*job.Job
	for limit <= 0 || len(out) < limit {
		j, err := s.findOneAndUpdate(ctx, filter, update, opts)
		if err != nil {
			return out, s.wrap("promote jobs", err)
		}
		if j == nil {
			break
		}
		out = append(out, j)
	}
	return out, nil
}

// ReapStalled moves active jobs with a heartbeat older than cutoff to
// stalled, or to failed once their stall count passes maxStalled. The
// pipeline update evaluates the new count in the same write.
func (s *Store) ReapStalled(ctx context.Context, cutoff time.Time, maxStalled int, now time.Time) ([]*job.Job, error) {
	now = now.UTC()
	filter := bson.M{
		"state":        string(job.StateActive),
		"heartbeat_at": bson.M{"$lt": cutoff.UTC()},
	}
	exceeded := bson.M{"$gt": bson.A{"$stalled_count", maxStalled}}
	update := mongod.Pipeline{
		{{Key: "$set", Value: bson.M{
			"stalled_count": bson.M{"$add": bson.A{"$stalled_count", 1}},
			"lock_token":    "",
			"updated_at":    now,
		}}},
		{{Key: "$set", Value: bson.M{
			"state":          bson.M{"$cond": bson.A{exceeded, string(job.StateFailed), string(job.StateStalled)}},
			"failure_reason": bson.M{"$cond": bson.A{exceeded, job.StalledReason, "$failure_reason"}},
			"finished_at":    bson.M{"$cond": bson.A{exceeded, now, "$finished_at"}},
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var out []*job.Job
	for {
		j, err := s.findOneAndUpdate(ctx, filter, update, opts)
		if err != nil {
			return out, s.wrap("reap stalled", err)
		}
		if j == nil {
			return out, nil
		}
		out = append(out, j)
	}
}

// RetryJob moves a failed job back to waiting.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	now = now.UTC()
	filter := bson.M{"_id": jobID.String(), "state": string(job.StateFailed)}
	update := mongod.Pipeline{
		{{Key: "$set", Value: bson.M{
			"state":          string(job.StateWaiting),
			"attempts_made":  0,
			"stalled_count":  0,
			"failure_reason": "",
			"progress":       0.0,
			"lock_token":     "",
			"ready_at":       bson.M{"$max": bson.A{"$ready_at", now}},
			"updated_at":     now,
		}}},
		{{Key: "$unset", Value: bson.A{"result", "finished_at"}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	j, err := s.findOneAndUpdate(ctx, filter, update, opts)
	if err != nil {
		return nil, s.wrap("retry job", err)
	}
	if j == nil {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return nil, getErr
		}
		return nil, jobq.ErrInvalidState
	}
	return j, nil
}

// EvictJobs deletes finished jobs whose FinishedAt is before olderThan.
func (s *Store) EvictJobs(ctx context.Context, state job.State, olderThan time.Time) (int64, error) {
	if !state.IsFinished() {
		return 0, jobq.ErrInvalidState
	}
	res, err := s.jobs().DeleteMany(ctx, bson.M{
		"state":       string(state),
		"finished_at": bson.M{"$lt": olderThan.UTC()},
	})
	if err != nil {
		return 0, s.wrap("evict jobs", err)
	}
	return res.DeletedCount, nil
}

// TrimJobs keeps the newest keep jobs in a finished state.
func (s *Store) TrimJobs(ctx context.Context, state job.State, keep int) (int64, error) {
	if !state.IsFinished() {
		return 0, jobq.ErrInvalidState
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "finished_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(keep)).
		SetProjection(bson.M{"_id": 1})

	cursor, err := s.jobs().Find(ctx, bson.M{"state": string(state)}, findOpts)
	if err != nil {
		return 0, s.wrap("trim jobs", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return 0, s.wrap("trim jobs decode", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	ids := make(bson.A, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}

	res, err := s.jobs().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}, "state": string(state)})
	if err != nil {
		return 0, s.wrap("trim jobs", err)
	}
	return res.DeletedCount, nil
}

// ── helpers ──────────────────────────────────────────────────────

func ownedFilter(jobID id.JobID, token string) bson.M {
	return bson.M{"_id": jobID.String(), "state": string(job.StateActive), "lock_token": token}
}

func (s *Store) updateOwned(ctx context.Context, op string, jobID id.JobID, token string, set bson.M) error {
	res, err := s.jobs().UpdateOne(ctx, ownedFilter(jobID, token), bson.M{"$set": set})
	if err != nil {
		return s.wrap(op, err)
	}
	if res.MatchedCount == 0 {
		return s.lostOrMissing(ctx, jobID)
	}
	return nil
}

// lostOrMissing resolves an owner-conditional update that matched nothing.
func (s *Store) lostOrMissing(ctx context.Context, jobID id.JobID) error {
	n, err := s.jobs().CountDocuments(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return s.wrap("check job", err)
	}
	if n == 0 {
		return jobq.ErrJobNotFound
	}
	return jobq.ErrLockLost
}

// findOneAndUpdate returns (nil, nil) when no document matches.
func (s *Store) findOneAndUpdate(ctx context.Context, filter, update any, opts *options.FindOneAndUpdateOptionsBuilder) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if isNoDocuments(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j, err := fromJobModel(&m)
	if err != nil {
		return nil, fmt.Errorf("jobq/mongo: decode job: %w", err)
	}
	return j, nil
}

package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/id"
	"github.com/flowable/jobservice/job"
)

// acquireSort keeps list results deterministic: missing due dates sort
// ascending-first in MongoDB, matching "immediately eligible ahead of
// everything".
var acquireSort = bson.D{
	{Key: "due_date", Value: 1},
	{Key: "create_time", Value: 1},
	{Key: "_id", Value: 1},
}

// InsertJob persists a new record of j.Kind.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) error {
	col := s.db.Collection(collectionFor(j.Kind))
	_, err := col.InsertOne(ctx, toJobModel(j))
	if err != nil {
		if isDuplicateKey(err) {
			if j.Kind == job.KindExternalWorker && j.CorrelationID != "" {
				if exists, checkErr := s.jobExists(ctx, j.Kind, j.ID); checkErr == nil && !exists {
					return jobservice.ErrDuplicateCorrelation
				}
			}
			return jobservice.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobservice/mongo: insert job: %w", err)
	}
	return nil
}

// GetJob retrieves one record by kind and id.
func (s *Store) GetJob(ctx context.Context, kind job.Kind, jobID id.ID) (*job.Job, error) {
	col := s.db.Collection(collectionFor(kind))
	var m jobModel
	err := col.FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, jobservice.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobservice/mongo: get job: %w", err)
	}
	return fromJobModel(&m, kind)
}

// UpdateJob persists changes to an existing record. The replace filter
// carries the expected revision, so a concurrent writer surfaces
// jobservice.ErrConcurrentUpdate instead of silently losing the race.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.Revision = j.NextRevision()

	col := s.db.Collection(collectionFor(j.Kind))
	res, err := col.ReplaceOne(ctx, bson.M{"_id": m.ID, "revision": j.Revision}, m)
	if err != nil {
		return fmt.Errorf("jobservice/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		exists, checkErr := s.jobExists(ctx, j.Kind, j.ID)
		if checkErr != nil {
			return checkErr
		}
		if exists {
			return jobservice.ErrConcurrentUpdate
		}
		return jobservice.ErrJobNotFound
	}
	j.Revision = m.Revision
	return nil
}

// DeleteJob removes one record by kind and id.
func (s *Store) DeleteJob(ctx context.Context, kind job.Kind, jobID id.ID) error {
	col := s.db.Collection(collectionFor(kind))
	res, err := col.DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("jobservice/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return jobservice.ErrJobNotFound
	}
	return nil
}

// JobsToExecute returns due, unlocked records of the kind.
func (s *Store) JobsToExecute(ctx context.Context, kind job.Kind, page job.Page) ([]*job.Job, error) {
	t := now()
	filter := bson.M{
		"$and": []bson.M{
			dueFilter(t),
			{"lock_expiration_time": nil},
		},
	}
	return s.findJobs(ctx, kind, filter, page, "jobs to execute")
}

// ExpiredJobs returns records whose lease has elapsed.
func (s *Store) ExpiredJobs(ctx context.Context, kind job.Kind, page job.Page) ([]*job.Job, error) {
	filter := bson.M{
		"lock_expiration_time": bson.M{"$ne": nil, "$lt": now()},
	}
	return s.findJobs(ctx, kind, filter, page, "expired jobs")
}

// ResetExpiredJob unconditionally clears the lease on one record.
func (s *Store) ResetExpiredJob(ctx context.Context, kind job.Kind, jobID id.ID) error {
	col := s.db.Collection(collectionFor(kind))
	res, err := col.UpdateOne(ctx,
		bson.M{"_id": jobID.String()},
		bson.M{
			"$unset": bson.M{"lock_owner": "", "lock_expiration_time": ""},
			"$inc":   bson.M{"revision": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("jobservice/mongo: reset expired job: %w", err)
	}
	if res.MatchedCount == 0 {
		return jobservice.ErrJobNotFound
	}
	return nil
}

// AcquireJobs atomically claims a batch per opts. Each iteration claims one
// record with FindOneAndUpdate, whose filter re-checks the lease, so two
// concurrent passes claim disjoint sets.
func (s *Store) AcquireJobs(ctx context.Context, kind job.Kind, opts job.AcquireOptions) ([]*job.Job, error) {
	t := now()
	col := s.db.Collection(collectionFor(kind))

	conditions := []bson.M{
		dueFilter(t),
		{"$or": []bson.M{
			{"lock_expiration_time": nil},
			{"lock_expiration_time": bson.M{"$lt": t}},
		}},
	}
	if opts.Topic != "" {
		conditions = append(conditions, bson.M{"topic": opts.Topic})
	}
	if opts.TenantID != "" {
		conditions = append(conditions, bson.M{"tenant_id": opts.TenantID})
	}
	if opts.WithoutTenant {
		conditions = append(conditions, bson.M{"tenant_id": nil})
	}
	filter := bson.M{"$and": conditions}

	update := bson.M{
		"$set": bson.M{
			"lock_owner":           opts.Owner,
			"lock_expiration_time": t.Add(opts.LockDuration),
		},
		"$inc": bson.M{"revision": 1},
	}

	findOpts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(acquireSort)

	var jobs []*job.Job
	for opts.Limit <= 0 || len(jobs) < opts.Limit {
		var m jobModel
		err := col.FindOneAndUpdate(ctx, filter, update, findOpts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, fmt.Errorf("jobservice/mongo: acquire jobs: %w", err)
		}

		j, convErr := fromJobModel(&m, kind)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}

	return jobs, nil
}

// JobsByExecutionID returns records bound to a process execution.
func (s *Store) JobsByExecutionID(ctx context.Context, kind job.Kind, executionID string) ([]*job.Job, error) {
	return s.findJobs(ctx, kind, bson.M{"execution_id": executionID}, job.Page{}, "jobs by execution")
}

// JobsByScopeAndSubScope returns records bound to a scope/sub-scope pair.
func (s *Store) JobsByScopeAndSubScope(ctx context.Context, kind job.Kind, scopeID, subScopeID string) ([]*job.Job, error) {
	filter := bson.M{"scope_id": scopeID, "sub_scope_id": subScopeID}
	return s.findJobs(ctx, kind, filter, job.Page{}, "jobs by scope")
}

// JobsByQuery returns records matching the criteria.
func (s *Store) JobsByQuery(ctx context.Context, kind job.Kind, q job.Query, page job.Page) ([]*job.Job, error) {
	filter, err := criteriaFilter(q)
	if err != nil {
		return nil, err
	}
	return s.findJobs(ctx, kind, filter, page, "jobs by query")
}

// CountJobsByQuery counts records matching the criteria.
func (s *Store) CountJobsByQuery(ctx context.Context, kind job.Kind, q job.Query) (int64, error) {
	filter, err := criteriaFilter(q)
	if err != nil {
		return 0, err
	}

	count, err := s.db.Collection(collectionFor(kind)).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("jobservice/mongo: count jobs: %w", err)
	}
	return count, nil
}

// criteriaFilter translates a job.Query into a MongoDB filter. WithException
// and TenantIDLike have no translation here and fail closed.
func criteriaFilter(q job.Query) (bson.M, error) {
	if q.WithException {
		return nil, fmt.Errorf("jobservice/mongo: with-exception predicate: %w", jobservice.ErrUnsupportedOperation)
	}
	if q.TenantIDLike != "" {
		return nil, fmt.Errorf("jobservice/mongo: tenant-like predicate: %w", jobservice.ErrUnsupportedOperation)
	}

	filter := bson.M{}
	eq := func(field, value string) {
		if value != "" {
			filter[field] = value
		}
	}

	eq("_id", q.ID)
	eq("correlation_id", q.CorrelationID)
	eq("handler_type", q.HandlerType)
	if len(q.HandlerTypes) > 0 {
		filter["handler_type"] = bson.M{"$in": q.HandlerTypes}
	}
	eq("execution_id", q.ExecutionID)
	eq("process_instance_id", q.ProcessInstanceID)
	eq("process_definition_id", q.ProcessDefinitionID)
	eq("scope_id", q.ScopeID)
	eq("sub_scope_id", q.SubScopeID)
	eq("scope_type", q.ScopeType)
	eq("scope_definition_id", q.ScopeDefinitionID)
	eq("element_id", q.ElementID)

	if q.DueBefore != nil || q.DueAfter != nil {
		due := bson.M{}
		if q.DueBefore != nil {
			due["$lt"] = *q.DueBefore
		}
		if q.DueAfter != nil {
			due["$gt"] = *q.DueAfter
		}
		filter["due_date"] = due
	}

	eq("exception_message", q.ExceptionMessage)
	eq("lock_owner", q.LockOwner)
	if q.OnlyLocked {
		filter["lock_expiration_time"] = bson.M{"$ne": nil}
	}
	if q.OnlyUnlocked {
		filter["lock_expiration_time"] = nil
	}

	eq("topic", q.Topic)
	eq("tenant_id", q.TenantID)
	if q.WithoutTenantID {
		filter["tenant_id"] = nil
	}
	if q.WithoutScopeID {
		filter["scope_id"] = nil
	}

	return filter, nil
}

// dueFilter matches records eligible for execution at t. A missing due
// date means immediately eligible.
func dueFilter(t time.Time) bson.M {
	return bson.M{"$or": []bson.M{
		{"due_date": nil},
		{"due_date": bson.M{"$lte": t}},
	}}
}

// findJobs runs one filtered, sorted, paged find over a kind's collection.
func (s *Store) findJobs(ctx context.Context, kind job.Kind, filter bson.M, page job.Page, op string) ([]*job.Job, error) {
	findOpts := options.Find().SetSort(acquireSort)
	if page.Limit > 0 {
		findOpts.SetLimit(int64(page.Limit))
	}
	if page.Offset > 0 {
		findOpts.SetSkip(int64(page.Offset))
	}

	cursor, err := s.db.Collection(collectionFor(kind)).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("jobservice/mongo: %s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("jobservice/mongo: %s decode: %w", op, err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i], kind)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// jobExists reports whether a record with the id exists in the kind's
// collection.
func (s *Store) jobExists(ctx context.Context, kind job.Kind, jobID id.ID) (bool, error) {
	count, err := s.db.Collection(collectionFor(kind)).CountDocuments(ctx,
		bson.M{"_id": jobID.String()},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("jobservice/mongo: check job exists: %w", err)
	}
	return count > 0, nil
}

package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/id"
	"github.com/flowable/jobservice/job"
)

// tableFor maps a job kind to its table.
func tableFor(kind job.Kind) string {
	switch kind {
	case job.KindTimer:
		return "flw_timer_jobs"
	case job.KindSuspended:
		return "flw_suspended_jobs"
	case job.KindDeadLetter:
		return "flw_deadletter_jobs"
	case job.KindHistory:
		return "flw_history_jobs"
	case job.KindExternalWorker:
		return "flw_external_worker_jobs"
	default:
		return "flw_ready_jobs"
	}
}

// jobColumns is the canonical column list, in scan order.
const jobColumns = `
	id, revision, handler_type, handler_configuration, custom_values_ref_id,
	execution_id, process_instance_id, process_definition_id,
	scope_id, sub_scope_id, scope_type, scope_definition_id,
	element_id, element_name,
	create_time, due_date, repeat_expr, end_date, max_iterations,
	retries, exclusive, tenant_id,
	exception_message, exception_stacktrace_ref_id,
	lock_owner, lock_expiration_time,
	correlation_id, topic`

// acquireOrder keeps list results deterministic: oldest due date first,
// null due dates (immediately eligible) ahead of everything.
const acquireOrder = `ORDER BY due_date ASC NULLS FIRST, create_time ASC, id ASC`

// InsertJob persists a new record of j.Kind.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22,
			$23, $24,
			$25, $26,
			$27, $28
		)`, tableFor(j.Kind), jobColumns),
		j.ID, j.Revision, j.HandlerType, j.HandlerConfiguration, refID(j.CustomValuesRef),
		j.ExecutionID, j.ProcessInstanceID, j.ProcessDefinitionID,
		j.ScopeID, j.SubScopeID, j.ScopeType, j.ScopeDefinitionID,
		j.ElementID, j.ElementName,
		j.CreateTime, j.DueDate, j.Repeat, j.EndDate, j.MaxIterations,
		j.Retries, j.Exclusive, j.TenantID,
		j.ExceptionMessage, refID(j.ExceptionStacktraceRef),
		j.LockOwner, j.LockExpirationTime,
		j.CorrelationID, j.Topic,
	)
	if err != nil {
		if constraint := duplicateConstraint(err); constraint != "" {
			if strings.Contains(constraint, "correlation") {
				return jobservice.ErrDuplicateCorrelation
			}
			return jobservice.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobservice/postgres: insert job: %w", err)
	}
	return nil
}

// GetJob retrieves one record by kind and id.
func (s *Store) GetJob(ctx context.Context, kind job.Kind, jobID id.ID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = $1`, jobColumns, tableFor(kind)),
		jobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobservice.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobservice/postgres: get job: %w", err)
	}
	j.Kind = kind
	return j, nil
}

// UpdateJob persists changes to an existing record. The write only applies
// when the stored revision matches j.Revision; a mismatch surfaces
// jobservice.ErrConcurrentUpdate.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET
			revision = revision + 1,
			handler_type = $3, handler_configuration = $4, custom_values_ref_id = $5,
			execution_id = $6, process_instance_id = $7, process_definition_id = $8,
			scope_id = $9, sub_scope_id = $10, scope_type = $11, scope_definition_id = $12,
			element_id = $13, element_name = $14,
			due_date = $15, repeat_expr = $16, end_date = $17, max_iterations = $18,
			retries = $19, exclusive = $20, tenant_id = $21,
			exception_message = $22, exception_stacktrace_ref_id = $23,
			lock_owner = $24, lock_expiration_time = $25,
			correlation_id = $26, topic = $27
		WHERE id = $1 AND revision = $2`, tableFor(j.Kind)),
		j.ID, j.Revision,
		j.HandlerType, j.HandlerConfiguration, refID(j.CustomValuesRef),
		j.ExecutionID, j.ProcessInstanceID, j.ProcessDefinitionID,
		j.ScopeID, j.SubScopeID, j.ScopeType, j.ScopeDefinitionID,
		j.ElementID, j.ElementName,
		j.DueDate, j.Repeat, j.EndDate, j.MaxIterations,
		j.Retries, j.Exclusive, j.TenantID,
		j.ExceptionMessage, refID(j.ExceptionStacktraceRef),
		j.LockOwner, j.LockExpirationTime,
		j.CorrelationID, j.Topic,
	)
	if err != nil {
		return fmt.Errorf("jobservice/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a stale revision from a missing row.
		var exists bool
		checkErr := s.pool.QueryRow(ctx, fmt.Sprintf(
			`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, tableFor(j.Kind)),
			j.ID,
		).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("jobservice/postgres: update job: %w", checkErr)
		}
		if exists {
			return jobservice.ErrConcurrentUpdate
		}
		return jobservice.ErrJobNotFound
	}
	j.Revision = j.NextRevision()
	return nil
}

// DeleteJob removes one record by kind and id.
func (s *Store) DeleteJob(ctx context.Context, kind job.Kind, jobID id.ID) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id = $1`, tableFor(kind)),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("jobservice/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobservice.ErrJobNotFound
	}
	return nil
}

// JobsToExecute returns due, unlocked records of the kind.
func (s *Store) JobsToExecute(ctx context.Context, kind job.Kind, page job.Page) ([]*job.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE (due_date IS NULL OR due_date <= $1)
		  AND lock_expiration_time IS NULL
		%s`, jobColumns, tableFor(kind), acquireOrder)
	query += pageClause(page)

	rows, err := s.pool.Query(ctx, query, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("jobservice/postgres: jobs to execute: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows, kind)
}

// ExpiredJobs returns records whose lease has elapsed.
func (s *Store) ExpiredJobs(ctx context.Context, kind job.Kind, page job.Page) ([]*job.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE lock_expiration_time IS NOT NULL
		  AND lock_expiration_time < $1
		ORDER BY lock_expiration_time ASC, id ASC`, jobColumns, tableFor(kind))
	query += pageClause(page)

	rows, err := s.pool.Query(ctx, query, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("jobservice/postgres: expired jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows, kind)
}

// ResetExpiredJob unconditionally clears the lease on one record.
func (s *Store) ResetExpiredJob(ctx context.Context, kind job.Kind, jobID id.ID) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET
			lock_owner = '',
			lock_expiration_time = NULL,
			revision = revision + 1
		WHERE id = $1`, tableFor(kind)),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("jobservice/postgres: reset expired job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobservice.ErrJobNotFound
	}
	return nil
}

// AcquireJobs atomically claims a batch per opts. FOR UPDATE SKIP LOCKED
// inside the subselect makes concurrent acquisition passes claim disjoint
// sets without blocking each other.
func (s *Store) AcquireJobs(ctx context.Context, kind job.Kind, opts job.AcquireOptions) ([]*job.Job, error) {
	now := time.Now().UTC()
	args := []any{opts.Owner, now.Add(opts.LockDuration), now}
	argIdx := 4

	var filters string
	if opts.Topic != "" {
		filters += fmt.Sprintf(" AND topic = $%d", argIdx)
		args = append(args, opts.Topic)
		argIdx++
	}
	if opts.TenantID != "" {
		filters += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, opts.TenantID)
		argIdx++
	}
	if opts.WithoutTenant {
		filters += " AND tenant_id = ''"
	}

	var limit string
	if opts.Limit > 0 {
		limit = fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		WITH acquired AS (
			UPDATE %[1]s
			SET lock_owner = $1, lock_expiration_time = $2, revision = revision + 1
			WHERE id IN (
				SELECT id FROM %[1]s
				WHERE (due_date IS NULL OR due_date <= $3)
				  AND (lock_expiration_time IS NULL OR lock_expiration_time < $3)%[2]s
				%[3]s
				FOR UPDATE SKIP LOCKED%[4]s
			)
			RETURNING %[5]s
		)
		SELECT %[5]s FROM acquired %[3]s`,
		tableFor(kind), filters, acquireOrder, limit, jobColumns),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("jobservice/postgres: acquire jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows, kind)
}

// JobsByExecutionID returns records bound to a process execution.
func (s *Store) JobsByExecutionID(ctx context.Context, kind job.Kind, executionID string) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE execution_id = $1
		%s`, jobColumns, tableFor(kind), acquireOrder),
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("jobservice/postgres: jobs by execution: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows, kind)
}

// JobsByScopeAndSubScope returns records bound to a scope/sub-scope pair.
func (s *Store) JobsByScopeAndSubScope(ctx context.Context, kind job.Kind, scopeID, subScopeID string) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE scope_id = $1 AND sub_scope_id = $2
		%s`, jobColumns, tableFor(kind), acquireOrder),
		scopeID, subScopeID,
	)
	if err != nil {
		return nil, fmt.Errorf("jobservice/postgres: jobs by scope: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows, kind)
}

// JobsByQuery returns records matching the criteria.
func (s *Store) JobsByQuery(ctx context.Context, kind job.Kind, q job.Query, page job.Page) ([]*job.Job, error) {
	where, args := criteriaClauses(q)
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s %s`,
		jobColumns, tableFor(kind), where, acquireOrder)
	query += pageClause(page)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobservice/postgres: jobs by query: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows, kind)
}

// CountJobsByQuery counts records matching the criteria.
func (s *Store) CountJobsByQuery(ctx context.Context, kind job.Kind, q job.Query) (int64, error) {
	where, args := criteriaClauses(q)

	var count int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE %s`, tableFor(kind), where),
		args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("jobservice/postgres: count jobs: %w", err)
	}
	return count, nil
}

// criteriaClauses translates a job.Query into a WHERE expression and its
// arguments. Every predicate the criteria struct defines maps to SQL here.
func criteriaClauses(q job.Query) (string, []any) {
	clauses := []string{"1=1"}
	var args []any

	next := func() int { return len(args) + 1 }
	eq := func(column, value string) {
		if value != "" {
			clauses = append(clauses, fmt.Sprintf("%s = $%d", column, next()))
			args = append(args, value)
		}
	}

	eq("id", q.ID)
	eq("correlation_id", q.CorrelationID)
	eq("handler_type", q.HandlerType)
	if len(q.HandlerTypes) > 0 {
		clauses = append(clauses, fmt.Sprintf("handler_type = ANY($%d)", next()))
		args = append(args, q.HandlerTypes)
	}
	eq("execution_id", q.ExecutionID)
	eq("process_instance_id", q.ProcessInstanceID)
	eq("process_definition_id", q.ProcessDefinitionID)
	eq("scope_id", q.ScopeID)
	eq("sub_scope_id", q.SubScopeID)
	eq("scope_type", q.ScopeType)
	eq("scope_definition_id", q.ScopeDefinitionID)
	eq("element_id", q.ElementID)

	if q.DueBefore != nil {
		clauses = append(clauses, fmt.Sprintf("due_date < $%d", next()))
		args = append(args, *q.DueBefore)
	}
	if q.DueAfter != nil {
		clauses = append(clauses, fmt.Sprintf("due_date > $%d", next()))
		args = append(args, *q.DueAfter)
	}

	if q.WithException {
		clauses = append(clauses,
			"(exception_message <> '' OR exception_stacktrace_ref_id IS NOT NULL)")
	}
	eq("exception_message", q.ExceptionMessage)

	eq("lock_owner", q.LockOwner)
	if q.OnlyLocked {
		clauses = append(clauses, "lock_expiration_time IS NOT NULL")
	}
	if q.OnlyUnlocked {
		clauses = append(clauses, "lock_expiration_time IS NULL")
	}

	eq("topic", q.Topic)

	eq("tenant_id", q.TenantID)
	if q.TenantIDLike != "" {
		clauses = append(clauses, fmt.Sprintf("tenant_id LIKE $%d", next()))
		args = append(args, q.TenantIDLike)
	}
	if q.WithoutTenantID {
		clauses = append(clauses, "tenant_id = ''")
	}
	if q.WithoutScopeID {
		clauses = append(clauses, "scope_id = ''")
	}

	return strings.Join(clauses, " AND "), args
}

// pageClause renders LIMIT/OFFSET as literals; callers only pass
// program-controlled integers here.
func pageClause(page job.Page) string {
	var clause string
	if page.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", page.Limit)
	}
	if page.Offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", page.Offset)
	}
	return clause
}

// scanJob scans a single job row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j             job.Job
		customRefID   id.ID
		stackRefID    id.ID
		dueDate       *time.Time
		endDate       *time.Time
		lockExpiresAt *time.Time
	)
	err := row.Scan(
		&j.ID, &j.Revision, &j.HandlerType, &j.HandlerConfiguration, &customRefID,
		&j.ExecutionID, &j.ProcessInstanceID, &j.ProcessDefinitionID,
		&j.ScopeID, &j.SubScopeID, &j.ScopeType, &j.ScopeDefinitionID,
		&j.ElementID, &j.ElementName,
		&j.CreateTime, &dueDate, &j.Repeat, &endDate, &j.MaxIterations,
		&j.Retries, &j.Exclusive, &j.TenantID,
		&j.ExceptionMessage, &stackRefID,
		&j.LockOwner, &lockExpiresAt,
		&j.CorrelationID, &j.Topic,
	)
	if err != nil {
		return nil, err
	}

	j.DueDate = dueDate
	j.EndDate = endDate
	j.LockExpirationTime = lockExpiresAt
	if !customRefID.IsNil() {
		j.CustomValuesRef = bytearray.NewRefWithID(customRefID)
	}
	if !stackRefID.IsNil() {
		j.ExceptionStacktraceRef = bytearray.NewRefWithID(stackRefID)
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows, stamping the kind the
// table cannot express.
func collectJobs(rows pgx.Rows, kind job.Kind) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobservice/postgres: scan job row: %w", err)
		}
		j.Kind = kind
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobservice/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

// refID extracts the persistable id of a byte-array reference; a nil or
// unallocated reference stores NULL.
func refID(r *bytearray.Ref) id.ID {
	if r == nil {
		return id.Nil
	}
	return r.ID()
}

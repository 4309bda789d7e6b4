package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/data/pgxutil"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

// promoteRetryingSQL moves RETRYING jobs whose backoff elapsed back to PENDING so the claim query can see them.
const promoteRetryingSQL = `
  UPDATE jobs
  SET status = 'PENDING', updated_at = $2, version = version + 1
  WHERE id IN (
    SELECT id FROM jobs
    WHERE status = 'RETRYING' AND scheduled_at <= $2 AND type = ANY($1)
    FOR UPDATE SKIP LOCKED
  )`

// claimNextSQL atomically reserves the highest priority, oldest eligible job.
const claimNextSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE type = ANY($1) AND status = 'PENDING' AND scheduled_at <= $2
    ORDER BY priority DESC, created_at ASC, id ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'PROCESSING',
    started_at = COALESCE(j.started_at, $2),
    lease_expires_at = $3,
    updated_at = $2,
    version = j.version + 1
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + qualifiedJobColumns

const qualifiedJobColumns = `j.id, j.type, j.priority, j.status, j.subject_id, j.group_id, j.input, j.output, j.failure,
  j.attempt, j.max_attempts, j.last_error, j.scheduled_at, j.lease_expires_at, j.started_at, j.completed_at,
  j.duration_ms, j.version, j.created_at, j.updated_at`

const insertJobSQL = `
  INSERT INTO jobs (` + jobColumns + `)
  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`

// Create inserts job and notifies the workers of its queue.
func (r *JobRepo) Create(ctx context.Context, job *model.Job) error {
	if job == nil {
		return ErrJobRequired
	}
	return pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			return r.insertJobInTx(ctx, tx, job)
		},
	})
}

func (r *JobRepo) insertJobInTx(ctx context.Context, tx pgx.Tx, job *model.Job) error {
	args, err := insertJobArgs(job)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, insertJobSQL, args...); err != nil {
		return fmt.Errorf("insert job: %w", apperrors.MapDBError(err))
	}

	route, err := r.router.Route(job.Type)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, NotifyChannel(string(route.Queue)), job.ID); err != nil {
		return fmt.Errorf("send job notification: %w", err)
	}
	return nil
}

func insertJobArgs(job *model.Job) ([]any, error) {
	failure, err := marshalFailure(job.Failure)
	if err != nil {
		return nil, err
	}
	input := job.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return []any{
		job.ID,
		string(job.Type),
		job.Priority.Weight(),
		string(job.Status),
		job.SubjectID,
		job.GroupID,
		[]byte(input),
		nullableJSON(job.Output),
		failure,
		job.Attempt,
		job.MaxAttempts,
		job.LastError,
		job.ScheduledAt.UTC(),
		utcPtr(job.LeaseExpiresAt),
		utcPtr(job.StartedAt),
		utcPtr(job.CompletedAt),
		job.DurationMs,
		job.Version,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	}, nil
}

// Update writes the mutable fields of job if the stored version still equals expectedVersion.
func (r *JobRepo) Update(ctx context.Context, job *model.Job, expectedVersion int64) error {
	if job == nil {
		return ErrJobRequired
	}
	failure, err := marshalFailure(job.Failure)
	if err != nil {
		return err
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = $3,
		    output = $4,
		    failure = $5,
		    attempt = $6,
		    last_error = $7,
		    scheduled_at = $8,
		    lease_expires_at = $9,
		    started_at = $10,
		    completed_at = $11,
		    duration_ms = $12,
		    updated_at = $13,
		    version = version + 1
		WHERE id = $1 AND version = $2
	`,
		job.ID,
		expectedVersion,
		string(job.Status),
		nullableJSON(job.Output),
		failure,
		job.Attempt,
		job.LastError,
		job.ScheduledAt.UTC(),
		utcPtr(job.LeaseExpiresAt),
		utcPtr(job.StartedAt),
		utcPtr(job.CompletedAt),
		job.DurationMs,
		job.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return r.missingOrStale(ctx, job.ID)
	}
	job.Version = expectedVersion + 1
	return nil
}

func (r *JobRepo) missingOrStale(ctx context.Context, id string) error {
	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("re-check job after update: %w", err)
	}
	if !exists {
		return model.ErrJobNotFound
	}
	return apperrors.ErrConcurrencyConflict
}

// ClaimNext promotes due retries and reserves the next job of the given types.
func (r *JobRepo) ClaimNext(ctx context.Context, params core.ClaimParams) (*model.Job, error) {
	if len(params.Types) == 0 {
		return nil, model.ErrNoJobsAvailable
	}
	types := make([]string, 0, len(params.Types))
	for _, t := range params.Types {
		types = append(types, string(t))
	}
	now := params.Now.UTC()
	leaseExpiresAt := now.Add(params.Lease)

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, promoteRetryingSQL, types, now); err != nil {
				return fmt.Errorf("promote retrying jobs: %w", err)
			}

			rows, err := tx.Query(ctx, claimNextSQL, types, now, leaseExpiresAt)
			if err != nil {
				return fmt.Errorf("claim job: %w", err)
			}
			defer rows.Close()

			j, err := collectJobFromRows(rows)
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if err != nil {
				return fmt.Errorf("claim job: %w", err)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// Heartbeat extends the lease of a PROCESSING job still on attempt.
// The version bump makes a concurrent lease sweep lose its CAS.
func (r *JobRepo) Heartbeat(ctx context.Context, id string, attempt int, leaseExpiresAt time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = $2,
		    updated_at = now(),
		    version = version + 1
		WHERE id = $1 AND status = 'PROCESSING' AND attempt = $3
	`, id, leaseExpiresAt.UTC(), attempt)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// WaitForNotification blocks until a job is inserted for queue q or ctx ends.
func (r *JobRepo) WaitForNotification(ctx context.Context, q model.QueueName) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.logger.DebugContext(ctx, "close listen conn", "error", cerr)
		}
	}()

	channel := NotifyChannel(string(q))
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			r.logger.DebugContext(ctx, "unlisten failed", "channel", channel, "error", execErr)
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return job, nil
}

// collectJobs drains rows into a slice.
func collectJobs(rows pgx.Rows) ([]*model.Job, error) {
	var out []*model.Job
	for rows.Next() {
		job, err := scanJobFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	jobType, status                        string
	priority                               int
	input, output, failure                 []byte
	subjectID, groupID, lastError          sql.NullString
	leaseExpiresAt, startedAt, completedAt sql.NullTime
	durationMs                             sql.NullInt64
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&d.jobType,
		&d.priority,
		&d.status,
		&d.subjectID,
		&d.groupID,
		&d.input,
		&d.output,
		&d.failure,
		&job.Attempt,
		&job.MaxAttempts,
		&d.lastError,
		&job.ScheduledAt,
		&d.leaseExpiresAt,
		&d.startedAt,
		&d.completedAt,
		&d.durationMs,
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	job.Type = model.JobType(d.jobType)
	job.Status = model.JobStatus(d.status)
	job.Priority = model.PriorityFromWeight(d.priority)
	job.Input = cloneJSON(d.input)
	if len(d.output) > 0 {
		job.Output = append(json.RawMessage(nil), d.output...)
	}
	if len(d.failure) > 0 {
		var f model.JobFailure
		if err := json.Unmarshal(d.failure, &f); err != nil {
			return fmt.Errorf("decode job failure: %w", err)
		}
		job.Failure = &f
	}
	job.SubjectID = cloneNullableString(d.subjectID)
	job.GroupID = cloneNullableString(d.groupID)
	job.LastError = cloneNullableString(d.lastError)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	if d.durationMs.Valid {
		ms := d.durationMs.Int64
		job.DurationMs = &ms
	}
	job.ScheduledAt = job.ScheduledAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return nil
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func marshalFailure(f *model.JobFailure) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal job failure: %w", err)
	}
	return b, nil
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

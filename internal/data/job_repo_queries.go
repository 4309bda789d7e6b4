package data

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sa32552/regtech-engine/internal/data/pgxutil"
	"github.com/sa32552/regtech-engine/internal/domain/model"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// ListByGroup returns every member of a group in creation order.
func (r *JobRepo) ListByGroup(ctx context.Context, groupID string) ([]*model.Job, error) {
	return r.queryJobs(ctx, "list jobs by group", `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE group_id = $1
		ORDER BY created_at ASC, id ASC
	`, groupID)
}

// ListBySubject returns a subject's jobs ordered by completion time, optionally filtered by status.
func (r *JobRepo) ListBySubject(
	ctx context.Context,
	subjectID string,
	statuses ...model.JobStatus,
) ([]*model.Job, error) {
	if len(statuses) == 0 {
		return r.queryJobs(ctx, "list jobs by subject", `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE subject_id = $1
			ORDER BY completed_at ASC NULLS LAST, id ASC
		`, subjectID)
	}

	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	return r.queryJobs(ctx, "list jobs by subject", `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE subject_id = $1 AND status = ANY($2)
		ORDER BY completed_at ASC NULLS LAST, id ASC
	`, subjectID, names)
}

// ListExpiredLeases returns PROCESSING jobs whose lease lapsed before now.
func (r *JobRepo) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*model.Job, error) {
	return r.queryJobs(ctx, "list expired leases", `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'PROCESSING'
		  AND lease_expires_at IS NOT NULL
		  AND lease_expires_at < $1
		ORDER BY lease_expires_at ASC
		LIMIT $2
	`, now.UTC(), clampLimit(limit))
}

func (r *JobRepo) queryJobs(ctx context.Context, op, query string, args ...any) ([]*model.Job, error) {
	var result []*model.Job
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		defer rows.Close()

		vals, err := collectJobs(rows)
		if err != nil {
			return fmt.Errorf("%s: collect: %w", op, err)
		}
		result = vals
		return nil
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// Stats returns per-status job counts.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'PENDING')    AS pending,
    count(*) FILTER (WHERE status = 'PROCESSING') AS processing,
    count(*) FILTER (WHERE status = 'RETRYING')   AS retrying,
    count(*) FILTER (WHERE status = 'COMPLETED')  AS completed,
    count(*) FILTER (WHERE status = 'FAILED')     AS failed,
    count(*) FILTER (WHERE status = 'CANCELLED')  AS cancelled
  FROM jobs
  `).Scan(
		&s.Pending,
		&s.Processing,
		&s.Retrying,
		&s.Completed,
		&s.Failed,
		&s.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	s.ComputeSuccessRate()
	return &s, nil
}

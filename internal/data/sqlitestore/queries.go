package sqlitestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// ListByGroup returns the group's members in creation order.
func (s *Store) ListByGroup(ctx context.Context, groupID string) ([]*model.Job, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE group_id = ? ORDER BY created_at, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group jobs: %w", err)
	}
	return scanJobs(rows)
}

// ListBySubject returns a subject's jobs ordered by completion time, unfinished jobs last.
func (s *Store) ListBySubject(ctx context.Context, subjectID string, statuses ...model.JobStatus) ([]*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE subject_id = ?`
	args := []any{subjectID}
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(marks, ",") + `)`
	}
	query += ` ORDER BY completed_at IS NULL, completed_at, id`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subject jobs: %w", err)
	}
	return scanJobs(rows)
}

// ListExpiredLeases returns PROCESSING jobs whose lease lapsed before now.
func (s *Store) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'PROCESSING' AND lease_expires_at < ?
		ORDER BY lease_expires_at
		LIMIT ?`, millis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}
	return scanJobs(rows)
}

// Stats counts jobs per status.
func (s *Store) Stats(ctx context.Context) (*model.JobStats, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var st model.JobStats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		switch model.JobStatus(status) {
		case model.JobStatusPending:
			st.Pending = n
		case model.JobStatusProcessing:
			st.Processing = n
		case model.JobStatusRetrying:
			st.Retrying = n
		case model.JobStatusCompleted:
			st.Completed = n
		case model.JobStatusFailed:
			st.Failed = n
		case model.JobStatusCancelled:
			st.Cancelled = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job stats: %w", err)
	}
	st.ComputeSuccessRate()
	return &st, nil
}

// DeleteOldJobs removes up to BatchSize terminal jobs of params.Status completed before params.Before.
func (s *Store) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("refusing to delete non-terminal jobs: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive")
	}
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM jobs WHERE id IN (
		  SELECT id FROM jobs
		  WHERE status = ? AND COALESCE(completed_at, updated_at) < ?
		  ORDER BY completed_at
		  LIMIT ?
		)`, string(params.Status), millis(params.Before), params.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteEmptyGroups removes finalized groups that no longer have members.
func (s *Store) DeleteEmptyGroups(ctx context.Context, finalizedBefore time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive")
	}
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM job_groups WHERE id IN (
		  SELECT g.id FROM job_groups g
		  WHERE g.finalized_at IS NOT NULL AND g.finalized_at < ?
		    AND NOT EXISTS (SELECT 1 FROM jobs j WHERE j.group_id = g.id)
		  LIMIT ?
		)`, millis(finalizedBefore), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete empty groups: %w", err)
	}
	return res.RowsAffected()
}

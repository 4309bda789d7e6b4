package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations.
// Two-arg pg_try_advisory_xact_lock(major, minor); major 1000 is reserved for the reaper.
const (
	advisoryLockReaperMajor        = 1000
	advisoryLockReaperDelete       = 2 // DeleteOldJobs
	advisoryLockReaperDeleteGroups = 3 // DeleteEmptyGroups
)

// withReaperLock runs fn in a transaction holding the given reaper advisory lock.
// When another reaper holds the lock fn is skipped and zero is returned.
func (r *JobRepo) withReaperLock(ctx context.Context, minor int, fn func(tx *sql.Tx) (int64, error)) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}
			n, err := fn(tx)
			if err != nil {
				return err
			}
			rowsAffected = n
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOldJobs deletes terminal jobs with the given status that completed before params.Before.
// Processes up to BatchSize jobs per call to prevent long locks and I/O spikes.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("refusing to delete non-terminal jobs: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	return r.withReaperLock(ctx, advisoryLockReaperDelete, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = $1
				  AND (completed_at < $2 OR (completed_at IS NULL AND updated_at < $2))
				ORDER BY COALESCE(completed_at, updated_at)
				LIMIT $3
			)
		`, string(params.Status), params.Before.UTC(), params.BatchSize)
		if err != nil {
			return 0, fmt.Errorf("delete old jobs: %w", err)
		}
		return rowsAffected(res)
	})
}

// DeleteEmptyGroups removes finalized groups that no longer have member jobs.
func (r *JobRepo) DeleteEmptyGroups(ctx context.Context, finalizedBefore time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	return r.withReaperLock(ctx, advisoryLockReaperDeleteGroups, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM job_groups
			WHERE id IN (
				SELECT g.id FROM job_groups g
				WHERE g.finalized_at IS NOT NULL
				  AND g.finalized_at < $1
				  AND NOT EXISTS (SELECT 1 FROM jobs j WHERE j.group_id = g.id)
				ORDER BY g.finalized_at
				LIMIT $2
			)
		`, finalizedBefore.UTC(), batchSize)
		if err != nil {
			return 0, fmt.Errorf("delete empty groups: %w", err)
		}
		return rowsAffected(res)
	})
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

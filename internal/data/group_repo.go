package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sa32552/regtech-engine/internal/data/pgxutil"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

const groupColumns = `id, subject_id, trigger, degraded, created_at, finalized_at`

// CreateGroup inserts the group record and all of its member jobs in one transaction.
// Workers are notified only once the transaction commits.
func (r *JobRepo) CreateGroup(ctx context.Context, group *model.Group, jobs []*model.Job) error {
	if group == nil {
		return ErrGroupRequired
	}
	for _, j := range jobs {
		if j == nil {
			return ErrJobRequired
		}
	}

	return pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `
				INSERT INTO job_groups (`+groupColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, group.ID, group.SubjectID, string(group.Trigger), group.Degraded,
				group.CreatedAt.UTC(), utcPtr(group.FinalizedAt)); err != nil {
				return fmt.Errorf("insert group: %w", apperrors.MapDBError(err))
			}
			for _, j := range jobs {
				if err := r.insertJobInTx(ctx, tx, j); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// GetGroup retrieves a group by its ID.
func (r *JobRepo) GetGroup(ctx context.Context, id string) (*model.Group, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM job_groups WHERE id = $1`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// FinalizeGroup stamps finalized_at once. Concurrent callers race on the conditional update
// and exactly one of them observes true.
func (r *JobRepo) FinalizeGroup(ctx context.Context, id string, degraded bool, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE job_groups
		SET finalized_at = $3, degraded = $2
		WHERE id = $1 AND finalized_at IS NULL
	`, id, degraded, at.UTC())
	if err != nil {
		return false, fmt.Errorf("finalize group: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM job_groups WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("re-check group: %w", err)
	}
	if !exists {
		return false, model.ErrGroupNotFound
	}
	return false, nil
}

// ListOpenGroups returns unfinalized groups created before the cutoff, oldest first.
func (r *JobRepo) ListOpenGroups(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Group, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+groupColumns+`
		FROM job_groups
		WHERE finalized_at IS NULL AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore.UTC(), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list open groups: %w", err)
	}
	defer rows.Close()

	var out []*model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGroup(scanner jobRowScanner) (*model.Group, error) {
	var (
		g           model.Group
		trigger     string
		subjectID   sql.NullString
		finalizedAt sql.NullTime
	)
	if err := scanner.Scan(&g.ID, &subjectID, &trigger, &g.Degraded, &g.CreatedAt, &finalizedAt); err != nil {
		return nil, err
	}
	g.Trigger = model.Trigger(trigger)
	g.SubjectID = cloneNullableString(subjectID)
	g.FinalizedAt = cloneNullableTime(finalizedAt)
	g.CreatedAt = g.CreatedAt.UTC()
	return &g, nil
}

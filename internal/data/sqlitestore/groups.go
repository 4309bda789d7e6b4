package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sa32552/regtech-engine/internal/domain/model"
)

const groupColumns = `id, subject_id, trigger, degraded, created_at, finalized_at`

// CreateGroup stores the group and its members in one transaction.
func (s *Store) CreateGroup(ctx context.Context, group *model.Group, jobs []*model.Job) error {
	if group == nil {
		return errors.New("group is required")
	}
	var queues []model.QueueName
	for _, j := range jobs {
		route, err := s.router.Route(j.Type)
		if err != nil {
			return err
		}
		queues = append(queues, route.Queue)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO job_groups (`+groupColumns+`) VALUES (?,?,?,?,?,?)`,
		group.ID, group.SubjectID, string(group.Trigger), group.Degraded, millis(group.CreatedAt),
		millisPtr(group.FinalizedAt)); err != nil {
		return fmt.Errorf("insert group: %w", mapError(err))
	}
	for _, j := range jobs {
		args, err := insertArgs(j)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertJobSQL, args...); err != nil {
			return fmt.Errorf("insert group job: %w", mapError(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create group: %w", err)
	}
	for _, q := range queues {
		s.signals.Signal(q)
	}
	return nil
}

// GetGroup returns the group record.
func (s *Store) GetGroup(ctx context.Context, id string) (*model.Group, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM job_groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// FinalizeGroup stamps finalized_at once. Only the caller whose update lands observes true.
func (s *Store) FinalizeGroup(ctx context.Context, id string, degraded bool, at time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE job_groups SET finalized_at = ?, degraded = ?
		WHERE id = ? AND finalized_at IS NULL`, millis(at), degraded, id)
	if err != nil {
		return false, fmt.Errorf("finalize group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finalize rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetGroup(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListOpenGroups returns unfinalized groups created before the cutoff, oldest first.
func (s *Store) ListOpenGroups(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Group, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+groupColumns+` FROM job_groups
		WHERE finalized_at IS NULL AND created_at < ?
		ORDER BY created_at
		LIMIT ?`, millis(createdBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("list open groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func scanGroup(row rowScanner) (*model.Group, error) {
	var (
		g           model.Group
		subjectID   sql.NullString
		trigger     string
		createdAt   int64
		finalizedAt sql.NullInt64
	)
	if err := row.Scan(&g.ID, &subjectID, &trigger, &g.Degraded, &createdAt, &finalizedAt); err != nil {
		return nil, err
	}
	g.SubjectID = nullString(subjectID)
	g.Trigger = model.Trigger(trigger)
	g.CreatedAt = fromMillis(createdAt)
	g.FinalizedAt = fromNullMillis(finalizedAt)
	return &g, nil
}

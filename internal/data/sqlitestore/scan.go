package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/sa32552/regtech-engine/internal/domain/model"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

const jobColumns = `id, type, priority, status, subject_id, group_id, input, output, failure, attempt, max_attempts,
  last_error, scheduled_at, lease_expires_at, started_at, completed_at, duration_ms, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// Timestamps are stored as UTC unix milliseconds.
func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := millis(*t)
	return &v
}

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullableText(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func encodeFailure(f *model.JobFailure) (*string, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal failure: %w", err)
	}
	s := string(b)
	return &s, nil
}

func insertArgs(j *model.Job) ([]any, error) {
	failure, err := encodeFailure(j.Failure)
	if err != nil {
		return nil, err
	}
	input := string(j.Input)
	if input == "" {
		input = "{}"
	}
	return []any{
		j.ID, string(j.Type), j.Priority.Weight(), string(j.Status), j.SubjectID, j.GroupID,
		input, nullableText(j.Output), failure, j.Attempt, j.MaxAttempts, j.LastError,
		millis(j.ScheduledAt), millisPtr(j.LeaseExpiresAt), millisPtr(j.StartedAt), millisPtr(j.CompletedAt),
		j.DurationMs, j.Version, millis(j.CreatedAt), millis(j.UpdatedAt),
	}, nil
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j                                   model.Job
		jobType, status, input              string
		priority                            int
		subjectID, groupID, output, failure sql.NullString
		lastError                           sql.NullString
		scheduledAt, createdAt, updatedAt   int64
		leaseExpiresAt, startedAt           sql.NullInt64
		completedAt, durationMs             sql.NullInt64
	)
	if err := row.Scan(
		&j.ID, &jobType, &priority, &status, &subjectID, &groupID, &input, &output, &failure,
		&j.Attempt, &j.MaxAttempts, &lastError, &scheduledAt, &leaseExpiresAt, &startedAt, &completedAt,
		&durationMs, &j.Version, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	j.Type = model.JobType(jobType)
	j.Status = model.JobStatus(status)
	j.Priority = model.PriorityFromWeight(priority)
	j.SubjectID = nullString(subjectID)
	j.GroupID = nullString(groupID)
	j.LastError = nullString(lastError)
	j.Input = json.RawMessage(input)
	if output.Valid {
		j.Output = json.RawMessage(output.String)
	}
	if failure.Valid {
		var f model.JobFailure
		if err := json.Unmarshal([]byte(failure.String), &f); err != nil {
			return nil, fmt.Errorf("decode failure: %w", err)
		}
		j.Failure = &f
	}
	j.ScheduledAt = fromMillis(scheduledAt)
	j.LeaseExpiresAt = fromNullMillis(leaseExpiresAt)
	j.StartedAt = fromNullMillis(startedAt)
	j.CompletedAt = fromNullMillis(completedAt)
	if durationMs.Valid {
		d := durationMs.Int64
		j.DurationMs = &d
	}
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*model.Job, error) {
	defer func() { _ = rows.Close() }()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// mapError translates SQLite constraint failures into application errors.
func mapError(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
		return apperrors.Wrap(err, apperrors.ErrCodeConflict, "record already exists")
	case sqlite3.ErrConstraintForeignKey:
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "referenced record does not exist")
	case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "constraint violation")
	default:
		return err
	}
}

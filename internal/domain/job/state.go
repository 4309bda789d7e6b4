// Package job holds the job state machine and the policies the dispatcher applies around it.
package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sa32552/regtech-engine/internal/domain/model"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

// ErrInvalidTransition is returned when a status change is not allowed by the state machine.
var ErrInvalidTransition = errors.New("invalid job state transition")

var transitions = map[model.JobStatus][]model.JobStatus{
	model.JobStatusPending:    {model.JobStatusProcessing, model.JobStatusCancelled},
	model.JobStatusProcessing: {model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusRetrying, model.JobStatusCancelled},
	model.JobStatusRetrying:   {model.JobStatusPending, model.JobStatusCancelled},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to model.JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func move(j *model.Job, to model.JobStatus) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return nil
}

// Claim moves a pending job to PROCESSING and grants it a lease.
func Claim(j *model.Job, now time.Time, lease time.Duration) error {
	if err := move(j, model.JobStatusProcessing); err != nil {
		return err
	}
	if j.StartedAt == nil {
		started := now
		j.StartedAt = &started
	}
	expires := now.Add(lease)
	j.LeaseExpiresAt = &expires
	j.UpdatedAt = now
	return nil
}

// Promote returns a RETRYING job to PENDING once its backoff elapsed.
func Promote(j *model.Job, now time.Time) error {
	if j.Status == model.JobStatusRetrying && j.ScheduledAt.After(now) {
		return fmt.Errorf("%w: backoff has not elapsed", ErrInvalidTransition)
	}
	if err := move(j, model.JobStatusPending); err != nil {
		return err
	}
	j.UpdatedAt = now
	return nil
}

// Complete records a successful result.
func Complete(j *model.Job, output json.RawMessage, now time.Time) error {
	if err := move(j, model.JobStatusCompleted); err != nil {
		return err
	}
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	j.Output = output
	j.Failure = nil
	finish(j, now)
	return nil
}

// Cancel moves any non-terminal job to CANCELLED. Late results for the job are rejected afterwards.
func Cancel(j *model.Job, now time.Time) error {
	if err := move(j, model.JobStatusCancelled); err != nil {
		return err
	}
	finish(j, now)
	return nil
}

// Outcome describes what Fail decided for a job.
type Outcome struct {
	Status model.JobStatus
	Kind   apperrors.Kind
	Delay  time.Duration
}

// Retrying reports whether the job will run again.
func (o Outcome) Retrying() bool { return o.Status == model.JobStatusRetrying }

// Fail records a failed execution. The attempt counter always advances; retryable failures
// with attempts left move to RETRYING with a backoff, everything else ends in FAILED.
func Fail(j *model.Job, cause error, now time.Time, backoff BackoffPolicy) (Outcome, error) {
	if j.Status != model.JobStatusProcessing {
		return Outcome{}, fmt.Errorf("%w: cannot fail job in status %s", ErrInvalidTransition, j.Status)
	}
	if j.Attempt >= j.MaxAttempts {
		return Outcome{}, fmt.Errorf("%w: attempt %d already reached max %d", ErrInvalidTransition, j.Attempt, j.MaxAttempts)
	}

	kind := apperrors.KindOf(cause)
	if kind == "" {
		kind = apperrors.KindTransient
	}
	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}

	j.Attempt++
	j.LastError = &msg
	j.LeaseExpiresAt = nil

	if kind.IsRetryable() && j.Attempt < j.MaxAttempts {
		delay := backoff.Delay(j.Attempt)
		j.Status = model.JobStatusRetrying
		j.ScheduledAt = now.Add(delay)
		j.UpdatedAt = now
		return Outcome{Status: model.JobStatusRetrying, Kind: kind, Delay: delay}, nil
	}

	j.Status = model.JobStatusFailed
	j.Output = nil
	j.Failure = &model.JobFailure{Kind: string(kind), Message: msg}
	finish(j, now)
	return Outcome{Status: model.JobStatusFailed, Kind: kind}, nil
}

func finish(j *model.Job, now time.Time) {
	completed := now
	j.CompletedAt = &completed
	var d int64
	if j.StartedAt != nil && now.After(*j.StartedAt) {
		d = now.Sub(*j.StartedAt).Milliseconds()
	}
	j.DurationMs = &d
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
}

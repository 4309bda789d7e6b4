// Package model defines the core data types and structures used throughout the regtech job engine.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the type of compliance job to be executed.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

const (
	// JobTypeIdentityVerification verifies a subject's identity data.
	JobTypeIdentityVerification JobType = "IDENTITY_VERIFICATION"
	// JobTypeDocumentOCR extracts structured data from an uploaded document.
	JobTypeDocumentOCR JobType = "DOCUMENT_OCR"
	// JobTypeDocumentVerification checks a document for authenticity and consistency.
	JobTypeDocumentVerification JobType = "DOCUMENT_VERIFICATION"
	// JobTypeScreening screens a subject against sanctions and watchlists.
	JobTypeScreening JobType = "SCREENING"
	// JobTypeRiskScoring snapshots the subject's aggregated risk assessment.
	JobTypeRiskScoring JobType = "RISK_SCORING"
	// JobTypeRulesExecution evaluates compliance rules against subject facts.
	JobTypeRulesExecution JobType = "RULES_EXECUTION"
	// JobTypeAlertGeneration raises a compliance alert.
	JobTypeAlertGeneration JobType = "ALERT_GENERATION"
	// JobTypeReviewReminder fires a periodic KYC review reminder.
	JobTypeReviewReminder JobType = "REVIEW_REMINDER"
	// JobTypeDocumentExpiryCheck checks whether a document is expired or expiring soon.
	JobTypeDocumentExpiryCheck JobType = "DOCUMENT_EXPIRY_CHECK"

	// JobStatusPending indicates a job is waiting to be processed.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusProcessing indicates a job is claimed by a worker.
	JobStatusProcessing JobStatus = "PROCESSING"
	// JobStatusRetrying indicates a job failed and waits for its backoff to elapse.
	JobStatusRetrying JobStatus = "RETRYING"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed indicates a job exhausted its attempts or failed permanently.
	JobStatusFailed JobStatus = "FAILED"
	// JobStatusCancelled indicates a job was cancelled explicitly.
	JobStatusCancelled JobStatus = "CANCELLED"
)

// DefaultMaxAttempts is applied when a create request leaves MaxAttempts unset.
const DefaultMaxAttempts = 3

// AllJobTypes lists every job type the engine knows about.
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeIdentityVerification,
		JobTypeDocumentOCR,
		JobTypeDocumentVerification,
		JobTypeScreening,
		JobTypeRiskScoring,
		JobTypeRulesExecution,
		JobTypeAlertGeneration,
		JobTypeReviewReminder,
		JobTypeDocumentExpiryCheck,
	}
}

// AllJobStatuses lists every job status in state machine order.
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusProcessing,
		JobStatusRetrying,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env and flag parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToUpper(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	for _, known := range AllJobTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToUpper(strings.TrimSpace(string(text))))
	if v.Valid() {
		*s = v
		return nil
	}
	return fmt.Errorf("invalid JobStatus: %q", string(text))
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	for _, known := range AllJobStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ErrNoJobsAvailable is returned when no jobs are available for claiming.
var ErrNoJobsAvailable = errors.New("no jobs available")

// JobFailure is the structured error recorded on a job that failed terminally.
type JobFailure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job represents a job in the system with all its metadata and status information.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Type           JobType         `json:"type"                       db:"type"`
	Priority       Priority        `json:"priority"                   db:"priority"`
	Status         JobStatus       `json:"status"                     db:"status"`
	SubjectID      *string         `json:"subject_id,omitempty"       db:"subject_id"`
	GroupID        *string         `json:"group_id,omitempty"         db:"group_id"`
	Input          json.RawMessage `json:"input"                      db:"input"`
	Output         json.RawMessage `json:"output,omitempty"           db:"output"`
	Failure        *JobFailure     `json:"failure,omitempty"          db:"failure"`
	Attempt        int             `json:"attempt"                    db:"attempt"`
	MaxAttempts    int             `json:"max_attempts"               db:"max_attempts"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	DurationMs     *int64          `json:"duration_ms,omitempty"      db:"duration_ms"`
	Version        int64           `json:"version"                    db:"version"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// Subject returns the subject id or an empty string.
func (j *Job) Subject() string {
	if j == nil || j.SubjectID == nil {
		return ""
	}
	return *j.SubjectID
}

// Group returns the parent group id or an empty string.
func (j *Job) Group() string {
	if j == nil || j.GroupID == nil {
		return ""
	}
	return *j.GroupID
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.SubjectID = cloneString(j.SubjectID)
	cp.GroupID = cloneString(j.GroupID)
	cp.LastError = cloneString(j.LastError)
	cp.Input = cloneRaw(j.Input)
	cp.Output = cloneRaw(j.Output)
	if j.Failure != nil {
		f := *j.Failure
		cp.Failure = &f
	}
	cp.LeaseExpiresAt = cloneTime(j.LeaseExpiresAt)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	if j.DurationMs != nil {
		d := *j.DurationMs
		cp.DurationMs = &d
	}
	return &cp
}

// CreateJobRequest represents a request to create a new job.
type CreateJobRequest struct {
	Type        JobType         `json:"type"`
	Priority    Priority        `json:"priority,omitempty"`
	SubjectID   *string         `json:"subject_id,omitempty"`
	GroupID     *string         `json:"group_id,omitempty"`
	Input       json.RawMessage `json:"input"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return errors.New("invalid job priority")
	}
	if len(r.Input) > 0 && !json.Valid(r.Input) {
		return errors.New("input must be valid JSON")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	if r.SubjectID != nil && strings.TrimSpace(*r.SubjectID) == "" {
		return errors.New("subject id must not be blank")
	}
	return nil
}

// JobStats represents statistics about jobs in different states.
type JobStats struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Processing  int     `json:"processing"`
	Retrying    int     `json:"retrying"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	SuccessRate float64 `json:"success_rate"`
}

// ComputeSuccessRate fills Total and SuccessRate from the per-status counts.
func (s *JobStats) ComputeSuccessRate() {
	s.Total = s.Pending + s.Processing + s.Retrying + s.Completed + s.Failed + s.Cancelled
	if s.Total == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = float64(s.Completed) / float64(s.Total) * 100
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

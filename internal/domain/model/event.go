package model

import "time"

// EventType names a lifecycle notification emitted by the engine.
type EventType string

const (
	EventJobCompleted   EventType = "job.completed"
	EventJobRetrying    EventType = "job.retrying"
	EventJobFailed      EventType = "job.failed"
	EventJobCancelled   EventType = "job.cancelled"
	EventGroupCompleted EventType = "group.completed"
	EventAlertRaised    EventType = "alert.raised"
)

// Event is a fire-and-forget notification handed to the configured sinks.
type Event struct {
	Type       EventType      `json:"type"`
	JobID      string         `json:"job_id,omitempty"`
	JobType    JobType        `json:"job_type,omitempty"`
	GroupID    string         `json:"group_id,omitempty"`
	SubjectID  string         `json:"subject_id,omitempty"`
	Status     string         `json:"status,omitempty"`
	Severity   Severity       `json:"severity,omitempty"`
	Message    string         `json:"message,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

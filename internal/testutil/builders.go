// Package testutil provides testing utilities and helpers for the regtech job engine.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Type:        model.JobTypeScreening,
			Input:       json.RawMessage(`{"name": "Jane Doe"}`),
			MaxAttempts: model.DefaultMaxAttempts,
		},
	}
}

// WithType sets the job type.
func (b *JobRequestBuilder) WithType(jobType model.JobType) *JobRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithPriority sets the job priority.
func (b *JobRequestBuilder) WithPriority(priority model.Priority) *JobRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithInputString sets the job input from a string.
func (b *JobRequestBuilder) WithInputString(input string) *JobRequestBuilder {
	b.req.Input = json.RawMessage(input)
	return b
}

// WithSubject sets the subject id.
func (b *JobRequestBuilder) WithSubject(subjectID string) *JobRequestBuilder {
	b.req.SubjectID = &subjectID
	return b
}

// WithScheduledAt sets the scheduled time.
func (b *JobRequestBuilder) WithScheduledAt(scheduledAt time.Time) *JobRequestBuilder {
	b.req.ScheduledAt = &scheduledAt
	return b
}

// WithMaxAttempts sets the attempt budget.
func (b *JobRequestBuilder) WithMaxAttempts(n int) *JobRequestBuilder {
	b.req.MaxAttempts = n
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// JobBuilder builds fully populated jobs for handing straight to a store.
type JobBuilder struct {
	job *model.Job
}

// NewJob returns a PENDING NORMAL screening job created at now.
func NewJob(now time.Time) *JobBuilder {
	return &JobBuilder{job: &model.Job{
		ID:          uuid.NewString(),
		Type:        model.JobTypeScreening,
		Priority:    model.PriorityNormal,
		Status:      model.JobStatusPending,
		Input:       json.RawMessage(`{}`),
		MaxAttempts: model.DefaultMaxAttempts,
		ScheduledAt: now,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
}

// WithType sets the job type.
func (b *JobBuilder) WithType(t model.JobType) *JobBuilder {
	b.job.Type = t
	return b
}

// WithPriority sets the job priority.
func (b *JobBuilder) WithPriority(p model.Priority) *JobBuilder {
	b.job.Priority = p
	return b
}

// WithStatus sets the job status.
func (b *JobBuilder) WithStatus(s model.JobStatus) *JobBuilder {
	b.job.Status = s
	return b
}

// WithSubject sets the subject id.
func (b *JobBuilder) WithSubject(subjectID string) *JobBuilder {
	b.job.SubjectID = &subjectID
	return b
}

// WithGroup sets the parent group id.
func (b *JobBuilder) WithGroup(groupID string) *JobBuilder {
	b.job.GroupID = &groupID
	return b
}

// WithInput sets the raw input.
func (b *JobBuilder) WithInput(input string) *JobBuilder {
	b.job.Input = json.RawMessage(input)
	return b
}

// WithOutput sets the raw output.
func (b *JobBuilder) WithOutput(output string) *JobBuilder {
	b.job.Output = json.RawMessage(output)
	return b
}

// CreatedAt overrides the creation and schedule time.
func (b *JobBuilder) CreatedAt(t time.Time) *JobBuilder {
	b.job.CreatedAt = t
	b.job.ScheduledAt = t
	b.job.UpdatedAt = t
	return b
}

// ScheduledAt overrides only the schedule time.
func (b *JobBuilder) ScheduledAt(t time.Time) *JobBuilder {
	b.job.ScheduledAt = t
	return b
}

// CompletedAt marks the job COMPLETED at t.
func (b *JobBuilder) CompletedAt(t time.Time) *JobBuilder {
	b.job.Status = model.JobStatusCompleted
	b.job.CompletedAt = &t
	return b
}

// Build returns the job.
func (b *JobBuilder) Build() *model.Job {
	return b.job
}

// NewGroup returns an open group record.
func NewGroup(subjectID string, trigger model.Trigger, now time.Time) *model.Group {
	return &model.Group{
		ID:        uuid.NewString(),
		SubjectID: &subjectID,
		Trigger:   trigger,
		CreatedAt: now,
	}
}

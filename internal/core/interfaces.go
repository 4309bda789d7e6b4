package core

import (
	"context"
	"time"

	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Services depend on these interfaces; internal/data and its sub-packages implement them.

// ClaimParams selects the next job a worker may run.
type ClaimParams struct {
	Types []model.JobType
	Now   time.Time
	Lease time.Duration
}

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	Create(ctx context.Context, job *model.Job) error
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// Update persists job if its stored version still equals expectedVersion and bumps
	// job.Version on success. A stale version returns errors.ErrConcurrencyConflict.
	Update(ctx context.Context, job *model.Job, expectedVersion int64) error
	// ClaimNext promotes due RETRYING jobs and atomically moves the highest priority eligible
	// PENDING job to PROCESSING. Returns model.ErrNoJobsAvailable when nothing is claimable.
	ClaimNext(ctx context.Context, params ClaimParams) (*model.Job, error)
	// Heartbeat extends the lease of a PROCESSING job still on the given attempt.
	// False means the job is no longer owned by that execution.
	Heartbeat(ctx context.Context, id string, attempt int, leaseExpiresAt time.Time) (bool, error)
	ListByGroup(ctx context.Context, groupID string) ([]*model.Job, error)
	ListBySubject(ctx context.Context, subjectID string, statuses ...model.JobStatus) ([]*model.Job, error)
	ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*model.Job, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// GroupRepository defines the interface for orchestration group records.
type GroupRepository interface {
	// CreateGroup stores the group and all of its member jobs atomically.
	CreateGroup(ctx context.Context, group *model.Group, jobs []*model.Job) error
	GetGroup(ctx context.Context, id string) (*model.Group, error)
	// FinalizeGroup marks the group complete if it is not already. Exactly one caller observes true.
	FinalizeGroup(ctx context.Context, id string, degraded bool, at time.Time) (bool, error)
	ListOpenGroups(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Group, error)
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	Before    time.Time
	BatchSize int
}

// ReaperRepository defines the interface for retention operations.
type ReaperRepository interface {
	// DeleteOldJobs deletes terminal jobs with the given status completed before params.Before.
	// Processes up to BatchSize jobs per call to keep locks short.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
	// DeleteEmptyGroups removes finalized groups whose members were all deleted.
	DeleteEmptyGroups(ctx context.Context, finalizedBefore time.Time, batchSize int) (int64, error)
}

// JobStore is the full persistence contract a backend must satisfy.
type JobStore interface {
	JobRepository
	GroupRepository
	ReaperRepository
}

// RuleRepository serves compliance rule definitions.
type RuleRepository interface {
	// ListRules returns the requested rules in request order, or every active rule when ids is empty.
	// Unknown ids return model.ErrRuleNotFound.
	ListRules(ctx context.Context, ids []string) ([]*model.Rule, error)
	UpsertRule(ctx context.Context, rule *model.Rule) error
}

// EventSink receives fire-and-forget lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, event model.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event model.Event)

// Publish calls f.
func (f EventSinkFunc) Publish(ctx context.Context, event model.Event) { f(ctx, event) }

// RiskAssessor computes a subject's current risk assessment.
type RiskAssessor interface {
	ComputeRiskAssessment(ctx context.Context, subjectID string) (*model.RiskAssessment, error)
}

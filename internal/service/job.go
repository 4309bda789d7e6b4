package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sa32552/regtech-engine/internal/core"
	domainjob "github.com/sa32552/regtech-engine/internal/domain/job"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/queue"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
	"github.com/sa32552/regtech-engine/internal/observability/metrics"
	"github.com/sa32552/regtech-engine/internal/observability/statsd"
)

// DefaultMaxAttempts applies when neither the request nor the options set one.
const DefaultMaxAttempts = 3

// maxConflictRetries bounds the re-read/re-apply loop around optimistic updates.
const maxConflictRetries = 8

// ErrJobNotOwned is returned when a worker reports a result for a job it no longer holds:
// the job was cancelled, or its lease expired and the execution was counted as failed.
var ErrJobNotOwned = errors.New("job is no longer owned by this execution")

// TerminalObserver is told about every job that reached a terminal status.
type TerminalObserver interface {
	JobTerminal(ctx context.Context, job *model.Job)
}

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo               core.JobRepository        // Required: job repository
	Router             *queue.Router             // Optional: defaults to the production routing table
	Clock              core.Clock                // Optional: defaults to the system clock
	Logger             *slog.Logger              // Optional: structured logger
	Events             core.EventSink            // Optional: lifecycle event sink
	Metrics            statsd.Sink               // Optional: statsd lifecycle metrics
	Backoff            domainjob.BackoffPolicy   // Optional: defaults to DefaultBackoff
	DefaultMaxAttempts int                       // Optional: defaults to DefaultMaxAttempts
	DefaultLease       time.Duration             // Required unless LeasePolicy is set
	MaxLease           time.Duration             // Optional: lease ceiling
	LeasePolicy        *domainjob.LeasePolicy    // Optional: override default lease policy
	Notifier           domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions    domainjob.NotifierOptions // Optional: configure default notifier behaviour
	NewID              func() string             // Optional: id generator, defaults to UUID v4
}

// JobService owns every job state transition after creation.
//
// This service manages:
// - job creation with routing defaults
// - claims, heartbeats and lease policy
// - completion, failure with retry/backoff and cancellation
// - queue wakeups for idle workers
// - lifecycle events and terminal notifications to the orchestrator.
type JobService struct {
	repo        core.JobRepository
	router      *queue.Router
	clock       core.Clock
	logger      *slog.Logger
	events      core.EventSink
	metrics     statsd.Sink
	backoff     domainjob.BackoffPolicy
	maxAttempts int
	leasePolicy *domainjob.LeasePolicy
	notifier    domainjob.Notifier
	newID       func() string
	observer    TerminalObserver
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	leasePolicy := opts.LeasePolicy
	if leasePolicy == nil {
		if opts.DefaultLease <= 0 {
			return nil, errors.New("DefaultLease must be positive")
		}
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease, opts.MaxLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	}

	router := opts.Router
	if router == nil {
		router = queue.MustDefaultRouter()
	}
	if err := router.Validate(); err != nil {
		return nil, fmt.Errorf("validate router: %w", err)
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			if w, ok := opts.Repo.(domainjob.Waiter); ok {
				options.Waiter = w
			}
		}
		notifier = domainjob.NewNotifier(options)
	}

	clock := opts.Clock
	if clock == nil {
		clock = core.SystemClock{}
	}
	backoff := opts.Backoff
	if backoff.Base <= 0 {
		backoff = domainjob.DefaultBackoff()
	}
	maxAttempts := opts.DefaultMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "job_service")
	logger.Debug("JobService initialized",
		"default_lease", leasePolicy.Default(),
		"max_attempts", maxAttempts,
		"backoff_base", backoff.Base,
	)

	return &JobService{
		repo:        opts.Repo,
		router:      router,
		clock:       clock,
		logger:      logger,
		events:      opts.Events,
		metrics:     opts.Metrics,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		newID:       newID,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// SetTerminalObserver registers the component notified when jobs reach a terminal status.
// It must be called before workers start.
func (s *JobService) SetTerminalObserver(o TerminalObserver) {
	s.observer = o
}

// Router returns the routing table the service creates jobs with.
func (s *JobService) Router() *queue.Router { return s.router }

// Clock returns the service clock.
func (s *JobService) Clock() core.Clock { return s.clock }

// LeasePolicy returns the lease policy used for claims and heartbeats.
func (s *JobService) LeasePolicy() *domainjob.LeasePolicy { return s.leasePolicy }

// NewJob builds a PENDING job from req without persisting it.
func (s *JobService) NewJob(req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	route, err := s.router.Route(req.Type)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	now := s.clock.Now()
	priority := req.Priority
	if priority == "" {
		priority = route.DefaultPriority
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	scheduledAt := now
	if req.ScheduledAt != nil && !req.ScheduledAt.IsZero() {
		scheduledAt = req.ScheduledAt.UTC()
	}
	input := req.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	return &model.Job{
		ID:          s.newID(),
		Type:        req.Type,
		Priority:    priority,
		Status:      model.JobStatusPending,
		SubjectID:   req.SubjectID,
		GroupID:     req.GroupID,
		Input:       input,
		MaxAttempts: maxAttempts,
		ScheduledAt: scheduledAt,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CreateJob persists a standalone job and wakes its queue.
func (s *JobService) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	job, err := s.NewJob(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.Notify(s.router.QueueFor(job.Type))

	s.logger.DebugContext(ctx, "job created",
		"id", job.ID,
		"type", job.Type,
		"priority", job.Priority,
		"scheduled_at", job.ScheduledAt,
	)
	return job, nil
}

// GetJob returns a job by its ID.
func (s *JobService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// CancelJob moves a non-terminal job to CANCELLED. A PROCESSING job is cancelled in the
// store immediately; its worker observes the loss of ownership on the next heartbeat.
func (s *JobService) CancelJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.mutate(ctx, id, func(cur *model.Job) error {
		if cur.Status.Terminal() {
			return apperrors.Conflictf("job %s is already %s", id, cur.Status)
		}
		return domainjob.Cancel(cur, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "job cancelled", "id", id, "type", job.Type)
	s.emitLifecycle(job, "cancel", metrics.ResultSuccess, nil)
	s.publish(ctx, jobEvent(model.EventJobCancelled, job, s.clock.Now()))
	s.terminal(ctx, job)
	return job, nil
}

// Claim claims the next eligible job of queue for lease. Returns model.ErrNoJobsAvailable
// when the queue is idle.
func (s *JobService) Claim(ctx context.Context, q model.QueueName, lease time.Duration) (*model.Job, error) {
	types := s.router.TypesFor(q)
	if len(types) == 0 {
		return nil, apperrors.Validation(fmt.Sprintf("unknown queue %q", q))
	}
	decision := s.leasePolicy.Resolve(lease)
	if decision.Clamped() {
		s.logger.DebugContext(ctx, "clamped lease duration",
			"requested_duration", decision.Requested,
			"duration", decision.Duration,
			"queue", q)
	}

	job, err := s.repo.ClaimNext(ctx, core.ClaimParams{
		Types: types,
		Now:   s.clock.Now(),
		Lease: decision.Duration,
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("claim next job on %s: %w", q, err)
	}

	s.logger.DebugContext(ctx, "job claimed",
		"id", job.ID,
		"type", job.Type,
		"attempt", job.Attempt,
		"lease", decision.Duration,
	)
	return job, nil
}

// Heartbeat extends the lease of a job this execution claimed. False means the job is no
// longer owned: it was cancelled, finished, or expired and claimed again by another worker.
func (s *JobService) Heartbeat(ctx context.Context, claimed *model.Job, extend time.Duration) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)
	updated, err := s.repo.Heartbeat(ctx, claimed.ID, claimed.Attempt, s.clock.Now().Add(decision.Duration))
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", claimed.ID, err)
	}
	if updated {
		s.logger.DebugContext(ctx, "job heartbeat updated", "id", claimed.ID, "extend", decision.Duration)
	}
	return updated, nil
}

// Complete records output for a job this execution claimed.
func (s *JobService) Complete(ctx context.Context, claimed *model.Job, output json.RawMessage) (*model.Job, error) {
	job, err := s.mutate(ctx, claimed.ID, func(cur *model.Job) error {
		if !owns(cur, claimed) {
			return ErrJobNotOwned
		}
		return domainjob.Complete(cur, output, s.clock.Now())
	})
	if err != nil {
		s.emitLifecycle(claimed, "complete", metrics.ResultError, err)
		return nil, err
	}

	s.logger.DebugContext(ctx, "job completed", "id", job.ID, "type", job.Type, "duration_ms", derefInt64(job.DurationMs))
	s.emitLifecycle(job, "complete", metrics.ResultSuccess, nil)
	s.publish(ctx, jobEvent(model.EventJobCompleted, job, s.clock.Now()))
	s.terminal(ctx, job)
	return job, nil
}

// Fail records a failed execution of a job this execution claimed and applies the retry policy.
func (s *JobService) Fail(ctx context.Context, claimed *model.Job, cause error) (*model.Job, domainjob.Outcome, error) {
	return s.fail(ctx, claimed, cause, func(cur *model.Job) bool { return owns(cur, claimed) })
}

// ExpireLease counts a PROCESSING job whose lease ran out as a failed execution.
// It returns false when the job was renewed, finished or already expired by someone else.
func (s *JobService) ExpireLease(ctx context.Context, stale *model.Job) (*model.Job, domainjob.Outcome, bool, error) {
	now := s.clock.Now()
	cause := &apperrors.JobError{Kind: apperrors.KindLeaseExpired, Message: "worker lease expired"}
	job, outcome, err := s.fail(ctx, stale, cause, func(cur *model.Job) bool {
		return owns(cur, stale) && cur.LeaseExpiresAt != nil && !cur.LeaseExpiresAt.After(now)
	})
	if errors.Is(err, ErrJobNotOwned) {
		return nil, domainjob.Outcome{}, false, nil
	}
	if err != nil {
		return nil, domainjob.Outcome{}, false, err
	}
	return job, outcome, true, nil
}

func (s *JobService) fail(
	ctx context.Context,
	claimed *model.Job,
	cause error,
	holds func(cur *model.Job) bool,
) (*model.Job, domainjob.Outcome, error) {
	var outcome domainjob.Outcome
	job, err := s.mutate(ctx, claimed.ID, func(cur *model.Job) error {
		if !holds(cur) {
			return ErrJobNotOwned
		}
		var ferr error
		outcome, ferr = domainjob.Fail(cur, cause, s.clock.Now(), s.backoff)
		return ferr
	})
	if err != nil {
		return nil, domainjob.Outcome{}, err
	}

	now := s.clock.Now()
	if outcome.Retrying() {
		s.logger.InfoContext(ctx, "job scheduled for retry",
			"id", job.ID,
			"type", job.Type,
			"attempt", job.Attempt,
			"max_attempts", job.MaxAttempts,
			"delay", outcome.Delay,
			"kind", outcome.Kind,
		)
		s.emitLifecycle(job, "retry", metrics.ResultError, cause)
		ev := jobEvent(model.EventJobRetrying, job, now)
		ev.Attributes = map[string]any{"delay_ms": outcome.Delay.Milliseconds(), "kind": string(outcome.Kind)}
		s.publish(ctx, ev)
		return job, outcome, nil
	}

	s.logger.WarnContext(ctx, "job failed",
		"id", job.ID,
		"type", job.Type,
		"attempt", job.Attempt,
		"kind", outcome.Kind,
		"error", cause,
	)
	s.emitLifecycle(job, "fail", metrics.ResultError, cause)
	ev := jobEvent(model.EventJobFailed, job, now)
	ev.Severity = model.SeverityCritical
	ev.Attributes = map[string]any{"kind": string(outcome.Kind), "attempt": job.Attempt}
	s.publish(ctx, ev)
	s.terminal(ctx, job)
	return job, outcome, nil
}

// Stats returns per-status job counts and the success rate.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	stats.ComputeSuccessRate()
	return stats, nil
}

// ListJobs returns a subject's jobs newest first, optionally narrowed to statuses.
func (s *JobService) ListJobs(ctx context.Context, subjectID string, statuses ...model.JobStatus) ([]*model.Job, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, apperrors.ValidationField("subjectId", "subject id is required")
	}
	for _, st := range statuses {
		if !st.Valid() {
			return nil, apperrors.ValidationField("status", fmt.Sprintf("unknown job status %q", st))
		}
	}
	jobs, err := s.repo.ListBySubject(ctx, subjectID, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list jobs for subject %s: %w", subjectID, err)
	}
	sort.SliceStable(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		return jobs[a].ID > jobs[b].ID
	})
	return jobs, nil
}

// ListExpiredLeases returns PROCESSING jobs whose lease ended before now.
func (s *JobService) ListExpiredLeases(ctx context.Context, limit int) ([]*model.Job, error) {
	jobs, err := s.repo.ListExpiredLeases(ctx, s.clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}
	return jobs, nil
}

// Subscribe creates a wakeup subscription for queue.
// Returns an unsubscribe function and a channel that receives notifications.
func (s *JobService) Subscribe(q model.QueueName) (func(), <-chan struct{}) {
	return s.notifier.Subscribe(q)
}

// Notify wakes idle workers of queue.
func (s *JobService) Notify(q model.QueueName) {
	if q != "" {
		s.notifier.Notify(q)
	}
}

// Close stops all notifier listeners.
func (s *JobService) Close() {
	s.notifier.StopAll()
}

// mutate re-reads the job and re-applies fn until the optimistic update wins.
func (s *JobService) mutate(ctx context.Context, id string, fn func(cur *model.Job) error) (*model.Job, error) {
	for attempt := 0; ; attempt++ {
		cur, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		expected := cur.Version
		if err := fn(cur); err != nil {
			return nil, err
		}
		err = s.repo.Update(ctx, cur, expected)
		if err == nil {
			return cur, nil
		}
		if !apperrors.IsConcurrencyConflict(err) || attempt >= maxConflictRetries {
			return nil, fmt.Errorf("update job %s: %w", id, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

func (s *JobService) terminal(ctx context.Context, job *model.Job) {
	if s.observer != nil && job.Status.Terminal() {
		s.observer.JobTerminal(ctx, job)
	}
}

func (s *JobService) publish(ctx context.Context, ev model.Event) {
	if s.events != nil {
		s.events.Publish(ctx, ev)
	}
}

func (s *JobService) emitLifecycle(job *model.Job, transition, result string, err error) {
	var d time.Duration
	if job.DurationMs != nil {
		d = time.Duration(*job.DurationMs) * time.Millisecond
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Queue:      string(s.router.QueueFor(job.Type)),
		Transition: transition,
		Result:     result,
		Duration:   d,
		Err:        err,
	})
}

// owns reports whether cur is still the execution that claimed was handed. A lease expiry
// advances the attempt counter, so a re-claimed job never matches an older claim.
func owns(cur, claimed *model.Job) bool {
	return cur.Status == model.JobStatusProcessing && cur.Attempt == claimed.Attempt
}

func jobEvent(t model.EventType, job *model.Job, now time.Time) model.Event {
	ev := model.Event{
		Type:       t,
		JobID:      job.ID,
		JobType:    job.Type,
		GroupID:    job.Group(),
		SubjectID:  job.Subject(),
		Status:     string(job.Status),
		OccurredAt: now,
	}
	if job.Failure != nil {
		ev.Message = job.Failure.Message
	} else if job.LastError != nil && t == model.EventJobRetrying {
		ev.Message = *job.LastError
	}
	return ev
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

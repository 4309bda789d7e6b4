package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sa32552/regtech-engine/config"
	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	obserrors "github.com/sa32552/regtech-engine/internal/observability/errors"
	"github.com/sa32552/regtech-engine/internal/observability/metrics"
	"github.com/sa32552/regtech-engine/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo         core.ReaperRepository // Required: retention repository
	Jobs         *JobService           // Required: lease expiry goes through the job state machine
	Orchestrator *Orchestrator         // Optional: enables the open group sweep
	Config       config.ReaperConfig   // Required: reaper configuration
	Logger       *slog.Logger          // Optional: structured logger
	Metrics      statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ReaperService provides the engine's periodic maintenance.
//
// This service manages:
// - Counting PROCESSING jobs with lapsed leases as failed executions.
// - Re-checking fan-in for open groups whose terminal notification was lost.
// - Deleting old terminal jobs and the empty groups they leave behind.
type ReaperService struct {
	repo    core.ReaperRepository
	jobs    *JobService
	orch    *Orchestrator
	clock   core.Clock
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	cfg := opts.Config
	cfg.Sanitize()

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", cfg.Interval,
			"group_grace", cfg.GroupGrace,
			"completed_max_age", cfg.CompletedMaxAge,
			"failed_max_age", cfg.FailedMaxAge,
			"cancelled_max_age", cfg.CancelledMaxAge,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		jobs:    opts.Jobs,
		orch:    opts.Orchestrator,
		clock:   opts.Jobs.Clock(),
		config:  cfg,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Jitter keeps replicas that start together from sweeping in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter sleeps for a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
			}
		}
	}
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	operation string
}

type cleanupStepOutcome struct {
	operation    string
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

// RunOnce performs one maintenance pass. Every step runs even when an earlier one fails.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()
	steps := []cleanupStep{
		{fn: s.expireLeases, label: "expire lapsed leases", operation: "expire_leases"},
		{fn: s.sweepGroups, label: "sweep open groups", operation: "sweep_groups"},
		{fn: s.deleteOld(model.JobStatusCompleted, s.config.CompletedMaxAge), label: "delete old completed jobs", operation: "delete_completed"},
		{fn: s.deleteOld(model.JobStatusFailed, s.config.FailedMaxAge), label: "delete old failed jobs", operation: "delete_failed"},
		{fn: s.deleteOld(model.JobStatusCancelled, s.config.CancelledMaxAge), label: "delete old cancelled jobs", operation: "delete_cancelled"},
		{fn: s.deleteEmptyGroups, label: "delete empty groups", operation: "delete_groups"},
	}

	var (
		errs               []error
		allContextCanceled = true
		outcomes           = make([]cleanupStepOutcome, 0, len(steps))
	)
	for _, step := range steps {
		outcome := s.executeCleanupStep(ctx, step)
		outcomes = append(outcomes, outcome)
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	s.emitCleanupMetrics(outcomes, time.Since(start))

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}
	return nil
}

func (s *ReaperService) executeCleanupStep(ctx context.Context, step cleanupStep) cleanupStepOutcome {
	count, err := step.fn(ctx)
	outcome := cleanupStepOutcome{
		operation: step.operation,
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", step.label, err)
	}
	return outcome
}

// expireLeases fails PROCESSING jobs whose worker stopped heartbeating, in batches.
// A batch where nothing could be expired ends the pass.
func (s *ReaperService) expireLeases(ctx context.Context) (int64, error) {
	var total int64
	for {
		stale, err := s.jobs.ListExpiredLeases(ctx, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		var expired int64
		for _, j := range stale {
			_, outcome, ok, err := s.jobs.ExpireLease(ctx, j)
			if err != nil {
				return total, fmt.Errorf("job %s: %w", j.ID, err)
			}
			if !ok {
				continue
			}
			expired++
			if s.logger != nil {
				s.logger.WarnContext(ctx, "job lease expired",
					"id", j.ID,
					"type", j.Type,
					"attempt", j.Attempt+1,
					"status", outcome.Status,
				)
			}
		}
		total += expired
		if expired == 0 || len(stale) < s.config.BatchSize {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

// sweepGroups finalizes open groups older than the grace period whose members are all terminal.
func (s *ReaperService) sweepGroups(ctx context.Context) (int64, error) {
	if s.orch == nil {
		return 0, nil
	}
	n, err := s.orch.SweepGroups(ctx, s.clock.Now().Add(-s.config.GroupGrace), s.config.BatchSize)
	if n > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "finalized stranded groups", "count", n, "grace", s.config.GroupGrace)
	}
	return n, err
}

// deleteOld deletes jobs in status older than maxAge. It loops until a batch comes back empty.
func (s *ReaperService) deleteOld(status model.JobStatus, maxAge time.Duration) cleanupFunc {
	return func(ctx context.Context) (int64, error) {
		before := s.clock.Now().Add(-maxAge)
		var totalCount int64
		for {
			count, err := s.repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
				Status:    status,
				Before:    before,
				BatchSize: s.config.BatchSize,
			})
			if err != nil {
				return totalCount, err
			}
			totalCount += count
			if count == 0 {
				break
			}
			if ctx.Err() != nil {
				return totalCount, ctx.Err()
			}
		}

		if totalCount > 0 && s.logger != nil {
			s.logger.InfoContext(ctx, "deleted old jobs",
				"status", status,
				"count", totalCount,
				"max_age", maxAge,
			)
		}
		return totalCount, nil
	}
}

// deleteEmptyGroups removes finalized groups that no longer have members.
func (s *ReaperService) deleteEmptyGroups(ctx context.Context) (int64, error) {
	var totalCount int64
	for {
		count, err := s.repo.DeleteEmptyGroups(ctx, s.clock.Now().Add(-s.config.GroupGrace), s.config.BatchSize)
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		if count == 0 {
			return totalCount, nil
		}
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}
}

func (s *ReaperService) emitCleanupMetrics(outcomes []cleanupStepOutcome, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var (
		totalCount int64
		firstErr   error
	)
	for _, o := range outcomes {
		totalCount += o.count
		if firstErr == nil && o.metricErr != nil {
			firstErr = o.metricErr
		}
	}

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}

	for _, o := range outcomes {
		s.emitCleanupOperationMetric(o.operation, o.count, o.metricErr)
	}

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(s.clock.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("reaper.items_processed", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}

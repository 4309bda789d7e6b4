// Package dispatcher runs the per-queue worker pools that claim jobs, execute their
// processors under a heartbeated lease, and record the outcome.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sa32552/regtech-engine/config"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/processors"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
	"github.com/sa32552/regtech-engine/internal/observability/metrics"
	"github.com/sa32552/regtech-engine/internal/service"
)

// resultWriteTimeout bounds the store write that records an outcome after shutdown began.
const resultWriteTimeout = 10 * time.Second

// ProcessorSource resolves the processor for a job type.
type ProcessorSource interface {
	Get(t model.JobType) (processors.Processor, error)
}

// Options configures a Dispatcher.
type Options struct {
	Jobs       *service.JobService     // Required: claims, heartbeats and outcomes
	Processors ProcessorSource         // Required: job type to processor table
	Config     config.DispatcherConfig // Worker counts, timeouts, lease and poll bounds
	Queues     []model.QueueName       // Optional: defaults to every routed queue
	Logger     *slog.Logger            // Optional: structured logger
	Metrics    *metrics.Engine         // Optional: Prometheus collectors
}

// Dispatcher owns the worker pools of every queue it serves.
type Dispatcher struct {
	jobs    *service.JobService
	procs   ProcessorSource
	cfg     config.DispatcherConfig
	queues  []model.QueueName
	logger  *slog.Logger
	metrics *metrics.Engine
}

// New validates opts and constructs a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if opts.Processors == nil {
		return nil, errors.New("processor source is required")
	}
	cfg := opts.Config
	cfg.Sanitize()

	queues := opts.Queues
	if len(queues) == 0 {
		queues = opts.Jobs.Router().Queues()
	}
	for _, q := range queues {
		if len(opts.Jobs.Router().TypesFor(q)) == 0 {
			return nil, fmt.Errorf("queue %q has no job types", q)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		jobs:    opts.Jobs,
		procs:   opts.Processors,
		cfg:     cfg,
		queues:  queues,
		logger:  logger.With("component", "dispatcher"),
		metrics: opts.Metrics,
	}, nil
}

// Run starts Concurrency(q) workers per queue and blocks until ctx is cancelled.
// Returns nil on graceful shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range d.queues {
		workers := d.cfg.Concurrency(q)
		d.logger.InfoContext(ctx, "starting queue workers", "queue", q, "workers", workers, "lease", d.cfg.JobLease)

		for i := range workers {
			unsub, notify := d.jobs.Subscribe(q)
			g.Go(func() error {
				defer unsub()
				return d.workerLoop(ctx, q, i, notify)
			})
		}
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) workerLoop(ctx context.Context, q model.QueueName, worker int, notify <-chan struct{}) error {
	logger := d.logger.With("queue", q, "worker", worker)
	delay := d.cfg.PollMin

	for ctx.Err() == nil {
		processed, err := d.RunOnce(ctx, q)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			logger.ErrorContext(ctx, "claim failed", "error", err)
		case processed:
			delay = d.cfg.PollMin
			continue
		}

		if !d.wait(ctx, notify, delay) {
			notify = nil
		}
		if delay *= 2; delay > d.cfg.PollMax {
			delay = d.cfg.PollMax
		}
	}
	return nil
}

// wait blocks until a wakeup, the poll delay, or shutdown. It returns false once the
// wakeup channel has been closed so the caller can stop selecting on it.
func (d *Dispatcher) wait(ctx context.Context, notify <-chan struct{}, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case _, ok := <-notify:
		return ok
	}
	return true
}

// RunOnce claims and executes at most one job of q. It reports whether a job was processed.
func (d *Dispatcher) RunOnce(ctx context.Context, q model.QueueName) (bool, error) {
	job, err := d.jobs.Claim(ctx, q, d.cfg.JobLease)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			d.metrics.ObserveClaim(string(q), "empty")
			return false, nil
		}
		d.metrics.ObserveClaim(string(q), metrics.ResultError)
		return false, err
	}
	d.metrics.ObserveClaim(string(q), "claimed")

	d.metrics.TrackInFlight(string(q), 1)
	defer d.metrics.TrackInFlight(string(q), -1)
	d.execute(ctx, job)
	return true, nil
}

func (d *Dispatcher) execute(ctx context.Context, job *model.Job) {
	start := time.Now()
	logger := d.logger.With("job_id", job.ID, "type", job.Type, "attempt", job.Attempt)

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
	defer cancel()

	var lost atomic.Bool
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.heartbeat(runCtx, job, stop, cancel, &lost)
	}()

	out, err := d.process(runCtx, job)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	close(stop)
	<-done

	// Outcome writes must land even when shutdown already cancelled ctx.
	writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(ctx), resultWriteTimeout)
	defer writeCancel()

	if lost.Load() {
		logger.InfoContext(ctx, "job ownership lost during execution, discarding result")
		d.metrics.ObserveOutcome(string(job.Type), "discarded", time.Since(start))
		return
	}

	switch {
	case err == nil:
		d.complete(writeCtx, logger, job, out, start)
	case apperrors.IsCapabilityUnavailable(err):
		logger.WarnContext(ctx, "capability unavailable, completing degraded", "error", err)
		degraded, _ := json.Marshal(model.DegradedResult{Degraded: true, Reason: err.Error()})
		d.complete(writeCtx, logger, job, degraded, start)
	case timedOut && ctx.Err() == nil:
		d.fail(writeCtx, logger, job, &apperrors.JobError{
			Kind:    apperrors.KindTimeout,
			Message: fmt.Sprintf("processor exceeded %s", d.cfg.JobTimeout),
			Cause:   err,
		}, start)
	case ctx.Err() != nil:
		d.fail(writeCtx, logger, job, apperrors.Transient("worker shutting down", err), start)
	default:
		d.fail(writeCtx, logger, job, err, start)
	}
}

// process runs the job's processor. A panic is reported as a failed execution.
func (d *Dispatcher) process(ctx context.Context, job *model.Job) (out json.RawMessage, err error) {
	proc, err := d.procs.Get(job.Type)
	if err != nil {
		return nil, apperrors.ValidationErrorf("%v", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return proc.Process(ctx, job)
}

// heartbeat extends the lease until stop closes. A rejected heartbeat means the job was
// cancelled or expired; the processor context is cancelled so it stops early.
func (d *Dispatcher) heartbeat(
	ctx context.Context,
	job *model.Job,
	stop <-chan struct{},
	cancel context.CancelFunc,
	lost *atomic.Bool,
) {
	lease := d.jobs.LeasePolicy().Resolve(d.cfg.JobLease)
	ticker := time.NewTicker(lease.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := d.jobs.Heartbeat(ctx, job, lease.Duration)
			if err != nil {
				d.logger.WarnContext(ctx, "heartbeat failed", "job_id", job.ID, "error", err)
				continue
			}
			if !ok {
				lost.Store(true)
				cancel()
				return
			}
		}
	}
}

func (d *Dispatcher) complete(ctx context.Context, logger *slog.Logger, job *model.Job, out json.RawMessage, start time.Time) {
	if _, err := d.jobs.Complete(ctx, job, out); err != nil {
		d.recordWriteError(ctx, logger, job, "complete", err, start)
		return
	}
	d.metrics.ObserveOutcome(string(job.Type), string(model.JobStatusCompleted), time.Since(start))
}

func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, job *model.Job, cause error, start time.Time) {
	_, outcome, err := d.jobs.Fail(ctx, job, cause)
	if err != nil {
		d.recordWriteError(ctx, logger, job, "fail", err, start)
		return
	}
	d.metrics.ObserveOutcome(string(job.Type), string(outcome.Status), time.Since(start))
}

func (d *Dispatcher) recordWriteError(
	ctx context.Context,
	logger *slog.Logger,
	job *model.Job,
	op string,
	err error,
	start time.Time,
) {
	if errors.Is(err, service.ErrJobNotOwned) {
		logger.InfoContext(ctx, "late result rejected", "op", op)
		d.metrics.ObserveOutcome(string(job.Type), "discarded", time.Since(start))
		return
	}
	logger.ErrorContext(ctx, "record job outcome failed", "op", op, "error", err)
	d.metrics.ObserveOutcome(string(job.Type), metrics.ResultError, time.Since(start))
}

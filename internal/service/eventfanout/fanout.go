// Package eventfanout delivers engine lifecycle events to every registered notify.Sink.
package eventfanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/observability/notify"
)

// DefaultSinkTimeout bounds a single sink delivery.
const DefaultSinkTimeout = 5 * time.Second

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
// An empty Events list subscribes the sink to every event type.
type SinkRegistration struct {
	Name   string
	Sink   notify.Sink
	Events []model.EventType
}

func (r SinkRegistration) wants(t model.EventType) bool {
	if len(r.Events) == 0 {
		return true
	}
	for _, e := range r.Events {
		if e == t {
			return true
		}
	}
	return false
}

// Options configures the fan-out service.
type Options struct {
	Logger      *slog.Logger
	Sinks       []SinkRegistration
	SinkTimeout time.Duration
}

// Service dispatches events to all registered sinks without blocking the caller.
type Service struct {
	logger  *slog.Logger
	sinks   []SinkRegistration
	timeout time.Duration
	wg      sync.WaitGroup
}

var _ core.EventSink = (*Service)(nil)

// NewService constructs a fan-out service. Nil sinks are skipped.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.SinkTimeout
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		if entry.Name == "" {
			entry.Name = "sink"
		}
		sinks = append(sinks, entry)
	}

	return &Service{
		logger:  logger.With("component", "event_fanout"),
		sinks:   sinks,
		timeout: timeout,
	}
}

// Publish hands event to every interested sink on its own goroutine. Delivery outlives
// the caller's context but not the per-sink timeout.
func (s *Service) Publish(ctx context.Context, event model.Event) {
	if s == nil || len(s.sinks) == 0 {
		return
	}
	if event.Severity == "" && (event.Type == model.EventJobFailed || event.Type == model.EventAlertRaised) {
		event.Severity = model.SeverityCritical
	}

	base := context.WithoutCancel(ctx)
	for _, entry := range s.sinks {
		if !entry.wants(event.Type) {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sendCtx, cancel := context.WithTimeout(base, s.timeout)
			defer cancel()
			if err := entry.Sink.Send(sendCtx, event); err != nil {
				s.logger.ErrorContext(sendCtx, "event delivery failed",
					"sink", entry.Name,
					"event", event.Type,
					"job_id", event.JobID,
					"group_id", event.GroupID,
					"error", err,
				)
			}
		}()
	}
}

// Wait blocks until every in-flight delivery returned.
func (s *Service) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}

// Close waits for in-flight deliveries or until ctx ends.
func (s *Service) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enabled reports whether the service has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}

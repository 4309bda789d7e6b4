package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeDispatcher runs the per-queue worker pools.
	ServiceModeDispatcher ServiceMode = "dispatcher"
	// ServiceModeReaper runs lease, group and retention maintenance.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeMetrics serves /metrics and /healthz.
	ServiceModeMetrics ServiceMode = "metrics"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeDispatcher, ServiceModeReaper, ServiceModeMetrics}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeDispatcher, ServiceModeReaper, ServiceModeMetrics:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: dispatcher, reaper, metrics)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DispatcherConfig contains worker pool configuration.
type DispatcherConfig struct {
	// Per-queue worker counts.
	IdentityConcurrency  int `env:"DISPATCHER_IDENTITY_CONCURRENCY"  envDefault:"5"`
	ScreeningConcurrency int `env:"DISPATCHER_SCREENING_CONCURRENCY" envDefault:"5"`
	DocumentConcurrency  int `env:"DISPATCHER_DOCUMENT_CONCURRENCY"  envDefault:"5"`
	RulesConcurrency     int `env:"DISPATCHER_RULES_CONCURRENCY"     envDefault:"5"`

	// JobTimeout bounds a single processor execution.
	JobTimeout time.Duration `env:"DISPATCHER_JOB_TIMEOUT" envDefault:"2m"`

	// JobLease is the lease granted on claim and renewed by heartbeats.
	JobLease time.Duration `env:"DISPATCHER_JOB_LEASE" envDefault:"30s"`
	// MaxLease caps any requested lease.
	MaxLease time.Duration `env:"DISPATCHER_MAX_LEASE" envDefault:"10m"`

	// Idle poll backoff bounds.
	PollMin time.Duration `env:"DISPATCHER_POLL_MIN" envDefault:"250ms"`
	PollMax time.Duration `env:"DISPATCHER_POLL_MAX" envDefault:"10s"`
}

// Concurrency returns the worker count for queue.
func (d *DispatcherConfig) Concurrency(queue model.QueueName) int {
	switch queue {
	case model.QueueIdentity:
		return d.IdentityConcurrency
	case model.QueueScreening:
		return d.ScreeningConcurrency
	case model.QueueDocument:
		return d.DocumentConcurrency
	case model.QueueRules:
		return d.RulesConcurrency
	default:
		return 1
	}
}

// Sanitize applies guardrails to dispatcher configuration values.
func (d *DispatcherConfig) Sanitize() {
	for _, c := range []*int{&d.IdentityConcurrency, &d.ScreeningConcurrency, &d.DocumentConcurrency, &d.RulesConcurrency} {
		if *c < 1 {
			*c = 1
		}
	}
	if d.JobTimeout <= 0 {
		d.JobTimeout = 2 * time.Minute
	}
	if d.JobLease < time.Second {
		d.JobLease = time.Second
	}
	if d.MaxLease < d.JobLease {
		d.MaxLease = d.JobLease
	}
	if d.PollMin <= 0 {
		d.PollMin = 250 * time.Millisecond
	}
	if d.PollMax < d.PollMin {
		d.PollMax = d.PollMin
	}
}

// RetryConfig contains the engine-owned retry policy.
type RetryConfig struct {
	BaseDelay   time.Duration `env:"RETRY_BASE_DELAY"   envDefault:"2s"`
	MaxDelay    time.Duration `env:"RETRY_MAX_DELAY"    envDefault:"5m"`
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
}

// Sanitize applies guardrails to retry configuration values.
func (r *RetryConfig) Sanitize() {
	if r.BaseDelay <= 0 {
		r.BaseDelay = 2 * time.Second
	}
	if r.MaxDelay < r.BaseDelay {
		r.MaxDelay = r.BaseDelay
	}
	if r.MaxAttempts < 1 {
		r.MaxAttempts = 1
	}
}

// RiskConfig contains risk aggregation settings.
type RiskConfig struct {
	// AlertThreshold is the score at or above which an alert job is enqueued.
	AlertThreshold int `env:"RISK_ALERT_THRESHOLD" envDefault:"60"`
	// AlertDedupeTTL is the window in which at most one alert per subject is raised.
	AlertDedupeTTL time.Duration `env:"RISK_ALERT_DEDUPE_TTL" envDefault:"1h"`
	// CacheTTL is how long an assessment snapshot is served from cache. Zero disables caching.
	CacheTTL time.Duration `env:"RISK_CACHE_TTL" envDefault:"0s"`
}

// Sanitize applies guardrails to risk configuration values.
func (r *RiskConfig) Sanitize() {
	if r.AlertThreshold < 0 {
		r.AlertThreshold = 0
	}
	if r.AlertThreshold > 100 {
		r.AlertThreshold = 100
	}
	if r.AlertDedupeTTL < 0 {
		r.AlertDedupeTTL = 0
	}
	if r.CacheTTL < 0 {
		r.CacheTTL = 0
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// GroupGrace is how old an open group must be before the sweeper re-checks its fan-in.
	GroupGrace time.Duration `env:"REAPER_GROUP_GRACE" envDefault:"5m"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"720h"` // 30 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"720h"` // 30 days

	// CancelledMaxAge is the maximum age for cancelled jobs before deletion.
	CancelledMaxAge time.Duration `env:"REAPER_CANCELLED_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.GroupGrace < time.Minute {
		r.GroupGrace = time.Minute
	}
	if r.CompletedMaxAge < time.Hour {
		r.CompletedMaxAge = time.Hour
	}
	if r.FailedMaxAge < time.Hour {
		r.FailedMaxAge = time.Hour
	}
	if r.CancelledMaxAge < time.Hour {
		r.CancelledMaxAge = time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

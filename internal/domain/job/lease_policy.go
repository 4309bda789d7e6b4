package job

import (
	"errors"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// MinLease is the shortest lease a worker can hold on a claimed job.
const MinLease = time.Second

// LeaseSource identifies how a lease duration was resolved.
type LeaseSource string

const (
	// LeaseSourceExplicit indicates the caller supplied a usable duration.
	LeaseSourceExplicit LeaseSource = "explicit"
	// LeaseSourceDefault indicates the default duration was used.
	LeaseSourceDefault LeaseSource = "default"
	// LeaseSourceClamped indicates the request was raised to MinLease or lowered to the ceiling.
	LeaseSourceClamped LeaseSource = "clamped"
)

// LeasePolicy normalises lease durations for job claims and heartbeats.
type LeasePolicy struct {
	defaultLease time.Duration
	maxLease     time.Duration
}

// NewLeasePolicy constructs a LeasePolicy. A zero maxLease disables the ceiling.
func NewLeasePolicy(defaultLease, maxLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	if maxLease > 0 && maxLease < defaultLease {
		maxLease = defaultLease
	}
	return &LeasePolicy{defaultLease: defaultLease, maxLease: maxLease}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// LeaseDecision captures the outcome of resolving a lease request.
type LeaseDecision struct {
	Duration  time.Duration
	Source    LeaseSource
	Requested time.Duration
}

// UsedDefault reports whether the policy fell back to the default lease.
func (d LeaseDecision) UsedDefault() bool { return d.Source == LeaseSourceDefault }

// Clamped reports whether the requested value was adjusted to fit the policy bounds.
func (d LeaseDecision) Clamped() bool { return d.Source == LeaseSourceClamped }

// HeartbeatInterval is how often a worker should extend this lease.
func (d LeaseDecision) HeartbeatInterval() time.Duration {
	interval := d.Duration / 2
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	return interval
}

// Resolve normalises the requested duration. Zero selects the default, values below
// MinLease are raised to it and values above the ceiling are lowered.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	decision := LeaseDecision{Requested: request}
	if p == nil {
		decision.Duration = MinLease
		decision.Source = LeaseSourceClamped
		return decision
	}

	switch {
	case request == 0:
		decision.Duration = p.defaultLease
		decision.Source = LeaseSourceDefault
	case request < MinLease:
		decision.Duration = MinLease
		decision.Source = LeaseSourceClamped
	case p.maxLease > 0 && request > p.maxLease:
		decision.Duration = p.maxLease
		decision.Source = LeaseSourceClamped
	default:
		decision.Duration = request
		decision.Source = LeaseSourceExplicit
	}
	return decision
}

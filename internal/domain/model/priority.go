package model

import (
	"fmt"
	"strings"
)

// Priority is the ordinal urgency of a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Weight maps the priority to the numeric weight used for dispatch ordering.
// Unknown priorities weigh the same as NORMAL.
func (p Priority) Weight() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 5
	case PriorityHigh:
		return 10
	case PriorityCritical:
		return 20
	default:
		return 5
	}
}

// Valid returns true if the priority is one of the known values.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh || p == PriorityCritical
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	v := Priority(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid Priority: %q", string(text))
	}
	*p = v
	return nil
}

// PriorityFromWeight is the inverse of Weight for stored rows.
func PriorityFromWeight(w int) Priority {
	switch {
	case w >= 20:
		return PriorityCritical
	case w >= 10:
		return PriorityHigh
	case w >= 5:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

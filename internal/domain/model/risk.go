package model

import (
	"fmt"
	"strings"
)

// Severity grades alerts, screening matches, rule violations and risk levels.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; unknown values rank zero.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid returns true for the four known severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// UnmarshalText implements encoding.TextUnmarshaler and normalises case.
func (s *Severity) UnmarshalText(text []byte) error {
	v := Severity(strings.ToUpper(strings.TrimSpace(string(text))))
	if v == "" {
		*s = ""
		return nil
	}
	if !v.Valid() {
		return fmt.Errorf("invalid Severity: %q", string(text))
	}
	*s = v
	return nil
}

// RiskLevel is the banded view of a risk score.
type RiskLevel = Severity

// RiskFactor is one contribution to a risk assessment.
type RiskFactor struct {
	SourceJobID string   `json:"source_job_id"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Impact      int      `json:"impact"`
}

// RiskAssessment is the aggregated risk view of a subject. It is derived, never stored as truth.
type RiskAssessment struct {
	SubjectID           string       `json:"subject_id"`
	Score               int          `json:"score"`
	Level               RiskLevel    `json:"level"`
	BaseSeverity        Severity     `json:"base_severity,omitempty"`
	ContributingFactors []RiskFactor `json:"contributing_factors"`
	JobCount            int          `json:"job_count"`
}

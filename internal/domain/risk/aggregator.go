// Package risk turns completed job outputs into a subject's risk assessment.
package risk

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sa32552/regtech-engine/internal/domain/model"
)

const (
	// ExpiredDocumentImpact is added for every expired document.
	ExpiredDocumentImpact = 10
	maxScore              = 100
)

// BaseScore maps the worst alert or screening severity to the starting score.
func BaseScore(s model.Severity) int {
	switch s {
	case model.SeverityLow:
		return 25
	case model.SeverityMedium:
		return 50
	case model.SeverityHigh:
		return 75
	case model.SeverityCritical:
		return 90
	default:
		return 0
	}
}

// LevelFor bands a score into a risk level.
func LevelFor(score int) model.RiskLevel {
	switch {
	case score >= 80:
		return model.SeverityCritical
	case score >= 60:
		return model.SeverityHigh
	case score >= 40:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// evidence accumulates the base severity and factors while walking jobs.
type evidence struct {
	worst   model.Severity
	factors []model.RiskFactor
}

func (e *evidence) severity(s model.Severity) {
	if s.Rank() > e.worst.Rank() {
		e.worst = s
	}
}

func (e *evidence) factor(jobID, description string, sev model.Severity, impact int) {
	if impact < 0 {
		impact = 0
	}
	e.factors = append(e.factors, model.RiskFactor{
		SourceJobID: jobID,
		Description: description,
		Severity:    sev,
		Impact:      impact,
	})
}

// Aggregate computes the assessment for subjectID from its completed jobs.
// Non-completed, degraded and malformed outputs contribute nothing. The result
// depends only on the job set, never on input order.
func Aggregate(subjectID string, jobs []*model.Job) model.RiskAssessment {
	ordered := make([]*model.Job, 0, len(jobs))
	for _, j := range jobs {
		if j != nil && j.Status == model.JobStatusCompleted && len(j.Output) > 0 {
			ordered = append(ordered, j)
		}
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		ta, tb := completedAt(ordered[a]), completedAt(ordered[b])
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return ordered[a].ID < ordered[b].ID
	})

	ev := &evidence{}
	for _, j := range ordered {
		if isDegraded(j.Output) {
			continue
		}
		collect(ev, j)
	}

	score := BaseScore(ev.worst)
	for _, f := range ev.factors {
		score += f.Impact
	}
	if score > maxScore {
		score = maxScore
	}

	factors := ev.factors
	if factors == nil {
		factors = []model.RiskFactor{}
	}
	return model.RiskAssessment{
		SubjectID:           subjectID,
		Score:               score,
		Level:               LevelFor(score),
		BaseSeverity:        ev.worst,
		ContributingFactors: factors,
		JobCount:            len(ordered),
	}
}

func collect(ev *evidence, j *model.Job) {
	switch j.Type {
	case model.JobTypeScreening:
		var res model.ScreeningResult
		if json.Unmarshal(j.Output, &res) != nil {
			return
		}
		for _, m := range res.Matches {
			ev.severity(m.Severity)
			ev.factor(j.ID, fmt.Sprintf("Screening match %s on %s", m.Name, m.List), m.Severity, m.Impact)
		}
		for _, ind := range res.RiskIndicators {
			ev.factor(j.ID, ind.Description, ind.Severity, ind.Impact)
		}
	case model.JobTypeAlertGeneration:
		var res model.AlertResult
		if json.Unmarshal(j.Output, &res) != nil {
			return
		}
		// Threshold alerts are derived from earlier assessments and must not feed back into them.
		if res.AlertType != model.AlertTypeRiskThreshold {
			ev.severity(res.Severity)
		}
	case model.JobTypeRulesExecution:
		var res model.RulesExecutionResult
		if json.Unmarshal(j.Output, &res) != nil {
			return
		}
		for _, r := range res.Results {
			if r.Passed {
				continue
			}
			ev.factor(j.ID, r.RuleName+": "+r.Message, r.Severity, r.Impact)
		}
	case model.JobTypeIdentityVerification:
		var res model.IdentityResult
		if json.Unmarshal(j.Output, &res) != nil || res.RiskImpact <= 0 {
			return
		}
		ev.factor(j.ID, "Identity verification failed", model.SeverityHigh, res.RiskImpact)
	case model.JobTypeDocumentVerification:
		var res model.DocumentVerificationResult
		if json.Unmarshal(j.Output, &res) != nil || res.RiskImpact <= 0 {
			return
		}
		sev := res.RiskLevel
		if !sev.Valid() {
			sev = model.SeverityHigh
		}
		ev.factor(j.ID, "Document "+res.DocumentID+" failed verification", sev, res.RiskImpact)
	case model.JobTypeDocumentExpiryCheck:
		var res model.ExpiryCheckResult
		if json.Unmarshal(j.Output, &res) != nil || !res.IsExpired {
			return
		}
		ev.factor(j.ID, "Document "+res.DocumentID+" has expired", model.SeverityMedium, ExpiredDocumentImpact)
	default:
		// RISK_SCORING snapshots and reminders are derived data, not evidence.
	}
}

func completedAt(j *model.Job) time.Time {
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	return time.Time{}
}

func isDegraded(out json.RawMessage) bool {
	var d model.DegradedResult
	return json.Unmarshal(out, &d) == nil && d.Degraded
}

package risk

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sa32552/regtech-engine/internal/domain/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func completed(t *testing.T, id string, typ model.JobType, at time.Time, out any) *model.Job {
	t.Helper()
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	return &model.Job{
		ID:          id,
		Type:        typ,
		Status:      model.JobStatusCompleted,
		Output:      raw,
		CompletedAt: &at,
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score int
		want  model.RiskLevel
	}{
		{0, model.SeverityLow},
		{39, model.SeverityLow},
		{40, model.SeverityMedium},
		{59, model.SeverityMedium},
		{60, model.SeverityHigh},
		{79, model.SeverityHigh},
		{80, model.SeverityCritical},
		{100, model.SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.score), "score %d", tt.score)
	}
}

func TestAggregate(t *testing.T) {
	t.Run("critical match plus failed rule clamps at 100", func(t *testing.T) {
		jobs := []*model.Job{
			completed(t, "s1", model.JobTypeScreening, t0, model.ScreeningResult{
				Matches: []model.ScreeningMatch{{Name: "John Doe", List: "OFAC", Severity: model.SeverityCritical, Score: 0.97}},
			}),
			completed(t, "r1", model.JobTypeRulesExecution, t0.Add(time.Second), model.RulesExecutionResult{
				Results: []model.RuleResult{
					{RuleID: "RULE_001", RuleName: "High-risk jurisdiction", Passed: false, Severity: model.SeverityHigh, Impact: 15, Message: "jurisdiction flagged"},
					{RuleID: "RULE_002", RuleName: "PEP", Passed: true, Severity: model.SeverityHigh, Impact: 0},
				},
			}),
		}

		got := Aggregate("client-1", jobs)
		assert.Equal(t, 100, got.Score)
		assert.Equal(t, model.SeverityCritical, got.Level)
		assert.Equal(t, model.SeverityCritical, got.BaseSeverity)
		require.Len(t, got.ContributingFactors, 2)
		assert.Equal(t, "s1", got.ContributingFactors[0].SourceJobID)
		assert.Equal(t, "r1", got.ContributingFactors[1].SourceJobID)
		assert.Equal(t, 15, got.ContributingFactors[1].Impact)
		assert.Equal(t, 2, got.JobCount)
	})

	t.Run("expired document only", func(t *testing.T) {
		jobs := []*model.Job{
			completed(t, "e1", model.JobTypeDocumentExpiryCheck, t0, model.ExpiryCheckResult{DocumentID: "doc-9", IsExpired: true}),
		}
		got := Aggregate("client-2", jobs)
		assert.Equal(t, 10, got.Score)
		assert.Equal(t, model.SeverityLow, got.Level)
		require.Len(t, got.ContributingFactors, 1)
		assert.Equal(t, model.SeverityMedium, got.ContributingFactors[0].Severity)
	})

	t.Run("no evidence", func(t *testing.T) {
		got := Aggregate("client-3", nil)
		assert.Equal(t, 0, got.Score)
		assert.Equal(t, model.SeverityLow, got.Level)
		assert.NotNil(t, got.ContributingFactors)
		assert.Empty(t, got.ContributingFactors)
	})

	t.Run("verification failures add their impact", func(t *testing.T) {
		jobs := []*model.Job{
			completed(t, "i1", model.JobTypeIdentityVerification, t0, model.IdentityResult{Verified: false, RiskImpact: 20}),
			completed(t, "d1", model.JobTypeDocumentVerification, t0, model.DocumentVerificationResult{
				DocumentID: "doc-1", OverallVerification: model.VerificationFailed, RiskLevel: model.SeverityHigh, RiskImpact: 20,
			}),
			completed(t, "a1", model.JobTypeAlertGeneration, t0, model.AlertResult{AlertType: "SUSPICIOUS_ACTIVITY", Severity: model.SeverityMedium}),
		}
		got := Aggregate("client-4", jobs)
		assert.Equal(t, 90, got.Score)
		assert.Equal(t, model.SeverityMedium, got.BaseSeverity)
		assert.Equal(t, model.SeverityCritical, got.Level)
	})

	t.Run("threshold alerts do not raise the base", func(t *testing.T) {
		jobs := []*model.Job{
			completed(t, "a1", model.JobTypeAlertGeneration, t0, model.AlertResult{AlertType: model.AlertTypeRiskThreshold, Severity: model.SeverityHigh}),
		}
		got := Aggregate("client-5", jobs)
		assert.Equal(t, 0, got.Score)
	})

	t.Run("ignores degraded, unfinished and derived jobs", func(t *testing.T) {
		failed := completed(t, "f1", model.JobTypeScreening, t0, model.ScreeningResult{
			Matches: []model.ScreeningMatch{{Name: "x", Severity: model.SeverityCritical}},
		})
		failed.Status = model.JobStatusFailed
		jobs := []*model.Job{
			failed,
			completed(t, "g1", model.JobTypeScreening, t0, model.DegradedResult{Degraded: true, Reason: "screening check not configured"}),
			completed(t, "k1", model.JobTypeRiskScoring, t0, model.RiskScoringResult{RiskScore: 95, RiskLevel: model.SeverityCritical}),
			completed(t, "m1", model.JobTypeReviewReminder, t0, model.ReminderResult{ReminderSent: true}),
		}
		got := Aggregate("client-6", jobs)
		assert.Equal(t, 0, got.Score)
		assert.Empty(t, got.ContributingFactors)
	})
}

func TestAggregate_OrderIndependent(t *testing.T) {
	jobs := []*model.Job{
		completed(t, "b", model.JobTypeRulesExecution, t0, model.RulesExecutionResult{
			Results: []model.RuleResult{{RuleName: "r", Severity: model.SeverityLow, Impact: 5}},
		}),
		completed(t, "a", model.JobTypeScreening, t0, model.ScreeningResult{
			RiskIndicators: []model.RiskIndicator{{Description: "adverse media", Severity: model.SeverityMedium, Impact: 7}},
		}),
		completed(t, "c", model.JobTypeDocumentExpiryCheck, t0.Add(-time.Hour), model.ExpiryCheckResult{IsExpired: true}),
	}
	reversed := []*model.Job{jobs[2], jobs[1], jobs[0]}

	first := Aggregate("client-7", jobs)
	second := Aggregate("client-7", reversed)
	assert.Equal(t, first, second)
	require.Len(t, first.ContributingFactors, 3)
	assert.Equal(t, "c", first.ContributingFactors[0].SourceJobID)
	assert.Equal(t, "a", first.ContributingFactors[1].SourceJobID)
	assert.Equal(t, "b", first.ContributingFactors[2].SourceJobID)
	assert.Equal(t, 22, first.Score)
}

//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType_UnmarshalText(t *testing.T) {
	var jt JobType
	require.NoError(t, jt.UnmarshalText([]byte(" screening ")))
	assert.Equal(t, JobTypeScreening, jt)

	require.Error(t, jt.UnmarshalText([]byte("credit_check")))
	assert.Equal(t, JobTypeScreening, jt, "failed unmarshal leaves the value untouched")
}

func TestJobStatus_Terminal(t *testing.T) {
	terminal := map[JobStatus]bool{
		JobStatusPending:    false,
		JobStatusProcessing: false,
		JobStatusRetrying:   false,
		JobStatusCompleted:  true,
		JobStatusFailed:     true,
		JobStatusCancelled:  true,
	}
	for _, s := range AllJobStatuses() {
		want, ok := terminal[s]
		require.True(t, ok, "status %s missing from table", s)
		assert.Equal(t, want, s.Terminal(), s)
	}
}

func TestPriority_WeightRoundTrip(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical} {
		assert.Equal(t, p, PriorityFromWeight(p.Weight()))
	}
	assert.Equal(t, PriorityNormal.Weight(), Priority("urgent").Weight())

	var p Priority
	require.NoError(t, json.Unmarshal([]byte(`"high"`), &p))
	assert.Equal(t, PriorityHigh, p)
	require.Error(t, json.Unmarshal([]byte(`"urgent"`), &p))
}

func TestSeverity_UnmarshalText(t *testing.T) {
	var s Severity
	require.NoError(t, s.UnmarshalText([]byte("medium")))
	assert.Equal(t, SeverityMedium, s)
	require.NoError(t, s.UnmarshalText([]byte("")))
	assert.Equal(t, Severity(""), s)
	require.Error(t, s.UnmarshalText([]byte("extreme")))
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
}

func TestJob_CloneDoesNotAlias(t *testing.T) {
	subject := "client-1"
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := &Job{
		ID:             "job-1",
		SubjectID:      &subject,
		Input:          json.RawMessage(`{"a":1}`),
		Failure:        &JobFailure{Kind: "validation", Message: "bad"},
		LeaseExpiresAt: &now,
	}

	cp := orig.Clone()
	*cp.SubjectID = "client-2"
	cp.Input[2] = 'b'
	cp.Failure.Kind = "transient"
	*cp.LeaseExpiresAt = now.Add(time.Hour)

	assert.Equal(t, "client-1", orig.Subject())
	assert.JSONEq(t, `{"a":1}`, string(orig.Input))
	assert.Equal(t, "validation", orig.Failure.Kind)
	assert.True(t, orig.LeaseExpiresAt.Equal(now))

	var nilJob *Job
	assert.Nil(t, nilJob.Clone())
	assert.Empty(t, nilJob.Subject())
	assert.Empty(t, nilJob.Group())
}

func TestCreateJobRequest_Validate(t *testing.T) {
	blank := "  "
	tests := []struct {
		name    string
		req     CreateJobRequest
		wantErr string
	}{
		{"valid", CreateJobRequest{Type: JobTypeScreening, Input: json.RawMessage(`{}`)}, ""},
		{"unknown type", CreateJobRequest{Type: "CREDIT_CHECK"}, "invalid job type"},
		{"bad priority", CreateJobRequest{Type: JobTypeScreening, Priority: "URGENT"}, "invalid job priority"},
		{"bad json", CreateJobRequest{Type: JobTypeScreening, Input: json.RawMessage(`{`)}, "valid JSON"},
		{"negative attempts", CreateJobRequest{Type: JobTypeScreening, MaxAttempts: -1}, "max attempts"},
		{"blank subject", CreateJobRequest{Type: JobTypeScreening, SubjectID: &blank}, "subject id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJobStats_ComputeSuccessRate(t *testing.T) {
	s := JobStats{Completed: 3, Failed: 1}
	s.ComputeSuccessRate()
	assert.Equal(t, 4, s.Total)
	assert.InDelta(t, 75.0, s.SuccessRate, 0.001)

	empty := JobStats{}
	empty.ComputeSuccessRate()
	assert.Zero(t, empty.SuccessRate)
}

func TestTrigger_Aggregates(t *testing.T) {
	assert.True(t, TriggerKYC.Aggregates())
	assert.True(t, TriggerDocumentExpiry.Aggregates())
	assert.False(t, TriggerAlert.Aggregates())
	assert.False(t, TriggerRiskScoring.Aggregates())
	assert.False(t, TriggerReviewReminder.Aggregates())
}

func TestRule_Validate(t *testing.T) {
	valid := Rule{
		ID:              "PEP_CHECK",
		Name:            "PEP",
		Type:            RuleTypePEPCheck,
		Severity:        SeverityHigh,
		RiskScoreImpact: 30,
		Violation:       Predicate{Kind: PredicateIn, Field: "pepStatus", Values: []string{"true"}},
	}
	require.NoError(t, valid.Validate())
	assert.True(t, valid.Active())

	bad := valid
	bad.RiskScoreImpact = 101
	require.Error(t, bad.Validate())

	bad = valid
	bad.Violation = Predicate{Kind: PredicateJMESPath}
	require.Error(t, bad.Validate())

	bad = valid
	bad.Status = RuleStatusInactive
	assert.False(t, bad.Active())
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sa32552/regtech-engine/config"
	"github.com/sa32552/regtech-engine/internal/domain/model"
)

func newTestCommandContext(t *testing.T) (*commandContext, *bytes.Buffer) {
	t.Helper()
	cfg := config.AppConfig{
		Store: config.StoreConfig{Driver: config.StoreDriverMemory},
		Dispatcher: config.DispatcherConfig{
			JobLease:   5 * time.Second,
			JobTimeout: 5 * time.Second,
			PollMin:    10 * time.Millisecond,
			PollMax:    50 * time.Millisecond,
		},
		Retry:  config.RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 3},
		Risk:   config.RiskConfig{AlertThreshold: 60, AlertDedupeTTL: time.Hour},
		Reaper: config.ReaperConfig{Interval: time.Minute},
	}
	cfg.Sanitize()
	out := &bytes.Buffer{}
	return &commandContext{
		Ctx:    context.Background(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: cfg,
		Out:    out,
	}, out
}

func TestPrintUsageListsCommandsSorted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printUsage(&buf))

	out := buf.String()
	for name := range commands() {
		assert.Contains(t, out, name)
	}
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("cancel")), bytes.Index(buf.Bytes(), []byte("start-kyc")))
}

func TestParseKYCFlags(t *testing.T) {
	t.Run("full name derived from parts", func(t *testing.T) {
		opts, err := parseKYCFlags([]string{"-subject", "client-1", "-first", "Ada", "-last", "Lovelace"})
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", opts.name)

		req := opts.request()
		assert.Equal(t, "client-1", req.Identity.ClientID)
		assert.Equal(t, "Ada Lovelace", req.Screening.Name)
	})

	t.Run("subject required", func(t *testing.T) {
		_, err := parseKYCFlags([]string{"-name", "Ada"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--subject")
	})

	t.Run("name required", func(t *testing.T) {
		_, err := parseKYCFlags([]string{"-subject", "client-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--name")
	})
}

func TestParseRulesFlags(t *testing.T) {
	subject, in, err := parseRulesFlags([]string{
		"-subject", "client-2",
		"-rules", "AML_HIGH_VALUE_TRANSACTION, ,PEP_CHECK",
		"-facts", `{"transactionAmount": 25000}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "client-2", subject)
	assert.Equal(t, []string{"AML_HIGH_VALUE_TRANSACTION", "PEP_CHECK"}, in.RuleIDs)
	assert.InDelta(t, 25000.0, in.Facts["transactionAmount"], 0.001)

	_, _, err = parseRulesFlags([]string{"-subject", "client-2", "-facts", "{"})
	require.Error(t, err)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{"date only", "2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"rfc3339 offset", "2026-03-01T10:00:00+02:00", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), false},
		{"empty", " ", time.Time{}, true},
		{"garbage", "next tuesday", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDate("date", tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	s := &model.JobStats{Pending: 1, Completed: 3}
	s.ComputeSuccessRate()
	require.NoError(t, printStats(&buf, s))

	out := buf.String()
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "total")
	assert.Regexp(t, `total\s+4`, out)
}

func TestPrintGroup(t *testing.T) {
	subject := "client-9"
	var buf bytes.Buffer
	require.NoError(t, printGroup(&buf, &model.GroupStatus{
		GroupID:   "grp-1",
		SubjectID: &subject,
		Trigger:   model.TriggerKYC,
		Terminal:  2,
		Complete:  true,
		Degraded:  true,
		Members: []model.GroupMember{
			{JobID: "job-a", Type: model.JobTypeIdentityVerification, Status: model.JobStatusCompleted},
			{JobID: "job-b", Type: model.JobTypeScreening, Status: model.JobStatusCompleted},
		},
	}))

	out := buf.String()
	assert.Contains(t, out, "subject=client-9")
	assert.Contains(t, out, "complete (degraded)")
	assert.Contains(t, out, "job-b")
}

func TestRunStartKYCPrintsTriggerResult(t *testing.T) {
	cmdCtx, out := newTestCommandContext(t)

	err := runStartKYC(cmdCtx, []string{"-subject", "client-1", "-name", "Ada Lovelace"})
	require.NoError(t, err)

	var res model.TriggerResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.NotEmpty(t, res.GroupID)
	assert.Len(t, res.JobIDs, 2)
}

func TestRunStatsOnEmptyStore(t *testing.T) {
	cmdCtx, out := newTestCommandContext(t)

	require.NoError(t, runStats(cmdCtx, []string{"-json"}))

	var stats model.JobStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.Equal(t, 0, stats.Total)
}

func TestRedisCommandsRequireRedis(t *testing.T) {
	cmdCtx, _ := newTestCommandContext(t)

	err := runListAlertGates(cmdCtx, nil)
	require.ErrorIs(t, err, errRedisNotConfigured)

	err = runClearAlertGate(cmdCtx, []string{"-subject", "client-1"})
	require.ErrorIs(t, err, errRedisNotConfigured)
}

func TestMigrateRejectsNonPostgresStore(t *testing.T) {
	cmdCtx, _ := newTestCommandContext(t)
	err := runMigrations(cmdCtx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestParseStatuses(t *testing.T) {
	got, err := parseStatuses("completed, FAILED")
	require.NoError(t, err)
	assert.Equal(t, []model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed}, got)

	got, err = parseStatuses("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = parseStatuses("COMPLETED,DONE")
	require.Error(t, err)
}

func TestPrintJobs(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	group := "grp-1"
	var buf bytes.Buffer
	require.NoError(t, printJobs(&buf, []*model.Job{
		{ID: "job-b", Type: model.JobTypeScreening, Status: model.JobStatusRetrying, Attempt: 1, MaxAttempts: 3, CreatedAt: created.Add(time.Minute), GroupID: &group},
		{ID: "job-a", Type: model.JobTypeAlertGeneration, Status: model.JobStatusCompleted, MaxAttempts: 3, CreatedAt: created},
	}))

	out := buf.String()
	assert.Regexp(t, `job-b\s+SCREENING\s+RETRYING\s+1/3\s+2026-03-01T09:01:00Z\s+grp-1`, out)
	assert.Regexp(t, `job-a\s+ALERT_GENERATION\s+COMPLETED\s+0/3\s+2026-03-01T09:00:00Z\s+-`, out)

	buf.Reset()
	require.NoError(t, printJobs(&buf, nil))
	assert.Equal(t, "No jobs\n", buf.String())
}

func TestRunJobs(t *testing.T) {
	cmdCtx, out := newTestCommandContext(t)

	require.Error(t, runJobs(cmdCtx, nil), "subject is required")
	require.Error(t, runJobs(cmdCtx, []string{"-subject", "client-1", "-status", "DONE"}))

	require.NoError(t, runJobs(cmdCtx, []string{"-subject", "client-1", "-status", "pending,completed"}))
	assert.Equal(t, "No jobs\n", out.String())
}

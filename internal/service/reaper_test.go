package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sa32552/regtech-engine/config"
	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/processors"
	"github.com/sa32552/regtech-engine/internal/observability/statsd"
	"github.com/sa32552/regtech-engine/internal/testutil"
)

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:        time.Minute,
		GroupGrace:      5 * time.Minute,
		CompletedMaxAge: 720 * time.Hour,
		FailedMaxAge:    720 * time.Hour,
		CancelledMaxAge: 168 * time.Hour,
		BatchSize:       100,
	}
}

// failingReaperRepo fails DeleteOldJobs for one status and delegates everything else.
type failingReaperRepo struct {
	core.ReaperRepository
	status model.JobStatus
	err    error
}

func (r *failingReaperRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if params.Status == r.status {
		return 0, r.err
	}
	return r.ReaperRepository.DeleteOldJobs(ctx, params)
}

func newTestReaper(t *testing.T, h *harness, repo core.ReaperRepository, sink statsd.Sink) *ReaperService {
	t.Helper()
	if repo == nil {
		repo = h.store
	}
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:         repo,
		Jobs:         h.jobs,
		Orchestrator: h.orch,
		Config:       testReaperConfig(),
		Logger:       slog.Default(),
		Metrics:      sink,
	})
	require.NoError(t, err)
	return svc
}

func TestNewReaperService_RequiresDependencies(t *testing.T) {
	_, err := NewReaperService(ReaperServiceOptions{})
	require.Error(t, err)

	h := newHarness(t)
	_, err = NewReaperService(ReaperServiceOptions{Repo: h.store})
	require.Error(t, err)
}

func TestReaperService_ExpiresLapsedLeases(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := &statsd.Recorder{}
	reaper := newTestReaper(t, h, nil, rec)

	res, err := h.orch.StartScreening(ctx, "client-l", processors.ScreeningInput{Name: "Jane Doe"})
	require.NoError(t, err)
	h.claim(t, model.QueueScreening)

	require.NoError(t, reaper.RunOnce(ctx))
	j, err := h.jobs.GetJob(ctx, res.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, j.Status, "live lease must survive")

	h.clock.Advance(31 * time.Second)
	require.NoError(t, reaper.RunOnce(ctx))

	j, err = h.jobs.GetJob(ctx, res.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRetrying, j.Status)
	assert.Equal(t, 1, j.Attempt)
	require.NotNil(t, j.LastError)
	assert.Contains(t, *j.LastError, "lease expired")

	var expired float64
	for _, p := range rec.Points() {
		if p.Name == "reaper.items_processed" && p.Tags["operation"] == "expire_leases" {
			expired += p.Value
		}
	}
	assert.InDelta(t, 1, expired, 0)
}

func TestReaperService_FinalLeaseExpiryFinalizesGroup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	reaper := newTestReaper(t, h, nil, nil)

	res, err := h.orch.StartScreening(ctx, "client-f", processors.ScreeningInput{Name: "Jane Doe"})
	require.NoError(t, err)

	for _, id := range res.JobIDs {
		j, err := h.jobs.GetJob(ctx, id)
		require.NoError(t, err)
		j.MaxAttempts = 1
		require.NoError(t, h.store.Update(ctx, j, j.Version))
	}
	h.claim(t, model.QueueScreening)

	h.clock.Advance(time.Minute)
	require.NoError(t, reaper.RunOnce(ctx))

	st, err := h.orch.GetGroupStatus(ctx, res.GroupID)
	require.NoError(t, err)
	assert.True(t, st.Complete)
	assert.True(t, st.Degraded)
	assert.Len(t, h.events.ofType(model.EventGroupCompleted), 1)
}

func TestReaperService_Retention(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := &statsd.Recorder{}
	reaper := newTestReaper(t, h, nil, rec)

	res, err := h.orch.StartScreening(ctx, "client-o", processors.ScreeningInput{Name: "Jane Doe"})
	require.NoError(t, err)
	h.complete(t, h.claim(t, model.QueueScreening), cleanScreening())

	cancelled, err := h.jobs.CreateJob(ctx, testutil.NewJobRequest().WithType(model.JobTypeRulesExecution).Build())
	require.NoError(t, err)
	_, err = h.jobs.CancelJob(ctx, cancelled.ID)
	require.NoError(t, err)

	h.clock.Advance(200 * time.Hour)
	require.NoError(t, reaper.RunOnce(ctx))

	_, err = h.jobs.GetJob(ctx, cancelled.ID)
	require.Error(t, err, "cancelled jobs age out after a week")
	_, err = h.jobs.GetJob(ctx, res.JobIDs[0])
	require.NoError(t, err, "completed jobs are kept for 30 days")

	h.clock.Advance(600 * time.Hour)
	require.NoError(t, reaper.RunOnce(ctx))

	_, err = h.jobs.GetJob(ctx, res.JobIDs[0])
	require.Error(t, err)
	_, err = h.store.GetGroup(ctx, res.GroupID)
	require.ErrorIs(t, err, model.ErrGroupNotFound)

	assert.InDelta(t, 2, rec.Sum("reaper.cleanup"), 0)
	// cancelled job, then completed job and its emptied group
	assert.InDelta(t, 3, rec.Sum("reaper.items_processed"), 0)
}

func TestReaperService_StepErrorsDoNotStopThePass(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := &statsd.Recorder{}
	boom := errors.New("disk full")
	reaper := newTestReaper(t, h, &failingReaperRepo{ReaperRepository: h.store, status: model.JobStatusCompleted, err: boom}, rec)

	cancelled, err := h.jobs.CreateJob(ctx, testutil.NewJobRequest().WithType(model.JobTypeRulesExecution).Build())
	require.NoError(t, err)
	_, err = h.jobs.CancelJob(ctx, cancelled.ID)
	require.NoError(t, err)
	h.clock.Advance(200 * time.Hour)

	err = reaper.RunOnce(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "delete old completed jobs")

	_, err = h.jobs.GetJob(ctx, cancelled.ID)
	require.Error(t, err, "later steps still run")

	var sawError bool
	for _, p := range rec.Points() {
		if p.Name == "reaper.cleanup" && p.Tags["result"] == "error" {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestReaperService_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	reaper := newTestReaper(t, h, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, reaper.Run(ctx))
}

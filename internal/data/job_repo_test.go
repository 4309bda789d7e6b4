package data

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/rules"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
	"github.com/sa32552/regtech-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *JobRepo {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupAutoDB(t)
	return NewJobRepo(db, RepoConfig{})
}

func TestJobRepo_ClaimOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	a := testutil.NewJob(base).WithPriority(model.PriorityNormal).Build()
	b := testutil.NewJob(base.Add(time.Second)).WithPriority(model.PriorityCritical).Build()
	c := testutil.NewJob(base.Add(2 * time.Second)).WithPriority(model.PriorityHigh).Build()
	for _, j := range []*model.Job{a, b, c} {
		require.NoError(t, repo.Create(ctx, j))
	}

	params := core.ClaimParams{
		Types: []model.JobType{model.JobTypeScreening},
		Now:   base.Add(time.Minute),
		Lease: time.Minute,
	}
	var got []string
	for range 3 {
		j, err := repo.ClaimNext(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, j.Status)
		require.NotNil(t, j.LeaseExpiresAt)
		got = append(got, j.ID)
	}
	assert.Equal(t, []string{b.ID, c.ID, a.ID}, got)

	_, err := repo.ClaimNext(ctx, params)
	assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
}

func TestJobRepo_ClaimExclusive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const jobs = 20
	for range jobs {
		require.NoError(t, repo.Create(ctx, testutil.NewJob(now.Add(-time.Minute)).Build()))
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
	)
	worker := func() error {
		for {
			j, err := repo.ClaimNext(ctx, core.ClaimParams{
				Types: []model.JobType{model.JobTypeScreening},
				Now:   now,
				Lease: time.Minute,
			})
			if errors.Is(err, model.ErrNoJobsAvailable) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			claimed[j.ID]++
			mu.Unlock()
		}
	}
	workers := make([]func() error, 8)
	for i := range workers {
		workers[i] = worker
	}
	runner := testutil.NewConcurrentTestRunner(t)
	runner.AssertNoErrors(runner.RunConcurrent(workers...))

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestJobRepo_RetryingPromotedWhenDue(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	j := testutil.NewJob(now).WithStatus(model.JobStatusRetrying).ScheduledAt(now.Add(time.Minute)).Build()
	j.Attempt = 1
	require.NoError(t, repo.Create(ctx, j))

	params := core.ClaimParams{Types: []model.JobType{j.Type}, Now: now.Add(30 * time.Second), Lease: time.Minute}
	_, err := repo.ClaimNext(ctx, params)
	require.ErrorIs(t, err, model.ErrNoJobsAvailable)

	params.Now = now.Add(2 * time.Minute)
	claimed, err := repo.ClaimNext(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, j.ID, claimed.ID)
	assert.Equal(t, 1, claimed.Attempt)
}

func TestJobRepo_UpdateVersionCheck(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := testutil.NewJob(now).WithSubject("client-1").WithInput(`{"name":"A"}`).Build()
	require.NoError(t, repo.Create(ctx, j))

	stored, err := repo.GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "client-1", stored.Subject())
	assert.JSONEq(t, `{"name":"A"}`, string(stored.Input))

	stored.Status = model.JobStatusCancelled
	stored.CompletedAt = &now
	stored.Failure = &model.JobFailure{Kind: "cancelled", Message: "by operator"}
	require.NoError(t, repo.Update(ctx, stored, stored.Version))
	assert.Equal(t, int64(2), stored.Version)

	err = repo.Update(ctx, stored, 1)
	require.ErrorIs(t, err, apperrors.ErrConcurrencyConflict)

	reloaded, err := repo.GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, reloaded.Status)
	require.NotNil(t, reloaded.Failure)
	assert.Equal(t, "by operator", reloaded.Failure.Message)

	missing := testutil.NewJob(now).Build()
	assert.ErrorIs(t, repo.Update(ctx, missing, 1), model.ErrJobNotFound)
}

func TestJobRepo_Heartbeat(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := testutil.NewJob(now.Add(-time.Second)).Build()
	require.NoError(t, repo.Create(ctx, j))

	ok, err := repo.Heartbeat(ctx, j.ID, 0, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "pending jobs hold no lease")

	claimed, err := repo.ClaimNext(ctx, core.ClaimParams{Types: []model.JobType{j.Type}, Now: now, Lease: time.Minute})
	require.NoError(t, err)

	ok, err = repo.Heartbeat(ctx, j.ID, claimed.Attempt+1, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "another attempt does not own the lease")

	ok, err = repo.Heartbeat(ctx, j.ID, claimed.Attempt, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	err = repo.Update(ctx, claimed, claimed.Version)
	assert.ErrorIs(t, err, apperrors.ErrConcurrencyConflict, "heartbeat bumps the version")
}

func TestJobRepo_Groups(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	g := testutil.NewGroup("client-7", model.TriggerKYC, now)
	members := []*model.Job{
		testutil.NewJob(now).WithType(model.JobTypeIdentityVerification).WithSubject("client-7").WithGroup(g.ID).Build(),
		testutil.NewJob(now).WithType(model.JobTypeScreening).WithSubject("client-7").WithGroup(g.ID).Build(),
	}
	require.NoError(t, repo.CreateGroup(ctx, g, members))

	listed, err := repo.ListByGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	open, err := repo.ListOpenGroups(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, model.TriggerKYC, open[0].Trigger)

	var (
		mu   sync.Mutex
		wins int
	)
	finalizers := make([]func() error, 5)
	for i := range finalizers {
		finalizers[i] = func() error {
			won, ferr := repo.FinalizeGroup(ctx, g.ID, true, now)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
			return ferr
		}
	}
	runner := testutil.NewConcurrentTestRunner(t)
	runner.AssertNoErrors(runner.RunConcurrent(finalizers...))
	assert.Equal(t, 1, wins)

	stored, err := repo.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, stored.Finalized())
	assert.True(t, stored.Degraded)

	_, err = repo.FinalizeGroup(ctx, "00000000-0000-0000-0000-000000000000", false, now)
	assert.ErrorIs(t, err, model.ErrGroupNotFound)

	bad := testutil.NewGroup("client-8", model.TriggerKYC, now)
	dup := []*model.Job{members[0]}
	require.Error(t, repo.CreateGroup(ctx, bad, dup))
	_, err = repo.GetGroup(ctx, bad.ID)
	assert.ErrorIs(t, err, model.ErrGroupNotFound, "failed group creation leaves nothing behind")
}

func TestJobRepo_ListBySubjectAndStats(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	done := testutil.NewJob(now).WithSubject("s-1").WithOutput(`{"ok":true}`).CompletedAt(now).Build()
	pending := testutil.NewJob(now).WithSubject("s-1").Build()
	other := testutil.NewJob(now).WithSubject("s-2").Build()
	for _, j := range []*model.Job{done, pending, other} {
		require.NoError(t, repo.Create(ctx, j))
	}

	all, err := repo.ListBySubject(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completed, err := repo.ListBySubject(ctx, "s-1", model.JobStatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID, completed[0].ID)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Completed)
	assert.InDelta(t, 33.33, stats.SuccessRate, 0.01)
}

func TestJobRepo_Retention(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	g := testutil.NewGroup("s-1", model.TriggerScreening, old)
	j := testutil.NewJob(old).WithGroup(g.ID).CompletedAt(old).Build()
	require.NoError(t, repo.CreateGroup(ctx, g, []*model.Job{j}))
	_, err := repo.FinalizeGroup(ctx, g.ID, false, old)
	require.NoError(t, err)

	_, err = repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{Status: model.JobStatusPending, Before: now, BatchSize: 10})
	require.Error(t, err)

	n, err := repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{Status: model.JobStatusCompleted, Before: now.Add(-24 * time.Hour), BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteEmptyGroups(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRuleRepo_SeedAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupAutoDB(t)
	repo := NewRuleRepo(db, nil)
	ctx := context.Background()

	require.NoError(t, repo.SeedDefaults(ctx))

	got, err := repo.ListRules(ctx, []string{rules.RuleBusinessActivity, rules.RuleHighRiskJurisdiction})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rules.RuleBusinessActivity, got[0].ID)
	assert.Equal(t, model.PredicateAnyIn, got[1].Violation.Kind)

	_, err = repo.ListRules(ctx, []string{"RULE_404"})
	require.ErrorIs(t, err, model.ErrRuleNotFound)

	active, err := repo.ListRules(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, active, len(rules.DefaultCatalog()))
}

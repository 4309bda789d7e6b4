package dispatcher

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sa32552/regtech-engine/config"
	"github.com/sa32552/regtech-engine/internal/data/memstore"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/processors"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
	"github.com/sa32552/regtech-engine/internal/observability/metrics"
	"github.com/sa32552/regtech-engine/internal/service"
	"github.com/sa32552/regtech-engine/internal/testutil"
)

type fixture struct {
	jobs    *service.JobService
	reg     *processors.Registry
	metrics *metrics.Engine
	disp    *Dispatcher
}

func newFixture(t *testing.T, cfg config.DispatcherConfig) *fixture {
	t.Helper()
	store := memstore.New(memstore.Options{})
	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:         store,
		DefaultLease: time.Second,
		MaxLease:     time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(jobs.Close)

	reg := processors.NewRegistry(processors.Deps{})
	engine := metrics.NewEngine(prometheus.NewRegistry())
	disp, err := New(Options{Jobs: jobs, Processors: reg, Config: cfg, Metrics: engine})
	require.NoError(t, err)
	return &fixture{jobs: jobs, reg: reg, metrics: engine, disp: disp}
}

func defaultConfig() config.DispatcherConfig {
	return config.DispatcherConfig{
		IdentityConcurrency:  1,
		ScreeningConcurrency: 2,
		DocumentConcurrency:  1,
		RulesConcurrency:     1,
		JobTimeout:           5 * time.Second,
		JobLease:             time.Second,
		MaxLease:             time.Minute,
		PollMin:              10 * time.Millisecond,
		PollMax:              50 * time.Millisecond,
	}
}

func (f *fixture) enqueue(t *testing.T, jobType model.JobType) *model.Job {
	t.Helper()
	j, err := f.jobs.CreateJob(context.Background(), testutil.NewJobRequest().WithType(jobType).WithSubject("client-1").Build())
	require.NoError(t, err)
	return j
}

func (f *fixture) get(t *testing.T, id string) *model.Job {
	t.Helper()
	j, err := f.jobs.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	f := newFixture(t, defaultConfig())
	_, err = New(Options{Jobs: f.jobs})
	require.Error(t, err)

	_, err = New(Options{Jobs: f.jobs, Processors: f.reg, Queues: []model.QueueName{"nope"}})
	require.Error(t, err)
}

func TestRunOnce_Outcomes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		proc       processors.Func
		wantStatus model.JobStatus
		check      func(t *testing.T, j *model.Job)
	}{
		{
			name: "success stores output",
			proc: func(context.Context, *model.Job) (json.RawMessage, error) {
				return json.RawMessage(`{"ok":true}`), nil
			},
			wantStatus: model.JobStatusCompleted,
			check: func(t *testing.T, j *model.Job) {
				assert.JSONEq(t, `{"ok":true}`, string(j.Output))
			},
		},
		{
			name: "missing capability completes degraded",
			proc: func(context.Context, *model.Job) (json.RawMessage, error) {
				return nil, apperrors.CapabilityUnavailable("screening")
			},
			wantStatus: model.JobStatusCompleted,
			check: func(t *testing.T, j *model.Job) {
				var d model.DegradedResult
				require.NoError(t, json.Unmarshal(j.Output, &d))
				assert.True(t, d.Degraded)
				assert.Contains(t, d.Reason, "screening")
			},
		},
		{
			name: "transient error retries",
			proc: func(context.Context, *model.Job) (json.RawMessage, error) {
				return nil, apperrors.Transient("provider 503", nil)
			},
			wantStatus: model.JobStatusRetrying,
			check: func(t *testing.T, j *model.Job) {
				assert.Equal(t, 1, j.Attempt)
			},
		},
		{
			name: "validation error fails",
			proc: func(context.Context, *model.Job) (json.RawMessage, error) {
				return nil, apperrors.ValidationErrorf("name is required")
			},
			wantStatus: model.JobStatusFailed,
			check: func(t *testing.T, j *model.Job) {
				require.NotNil(t, j.Failure)
				assert.Equal(t, string(apperrors.KindValidation), j.Failure.Kind)
			},
		},
		{
			name: "panic is a failed execution",
			proc: func(context.Context, *model.Job) (json.RawMessage, error) {
				panic("nil map")
			},
			wantStatus: model.JobStatusRetrying,
			check: func(t *testing.T, j *model.Job) {
				require.NotNil(t, j.LastError)
				assert.Contains(t, *j.LastError, "processor panic")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultConfig())
			f.reg.Register(model.JobTypeScreening, tt.proc)
			created := f.enqueue(t, model.JobTypeScreening)

			processed, err := f.disp.RunOnce(ctx, model.QueueScreening)
			require.NoError(t, err)
			require.True(t, processed)

			j := f.get(t, created.ID)
			assert.Equal(t, tt.wantStatus, j.Status)
			tt.check(t, j)
		})
	}
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	f := newFixture(t, defaultConfig())
	processed, err := f.disp.RunOnce(context.Background(), model.QueueRules)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.InDelta(t, 1, promtestutil.ToFloat64(f.metrics.Claims.WithLabelValues("rules", "empty")), 0)
}

func TestRunOnce_TimeoutIsRetryable(t *testing.T) {
	cfg := defaultConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg)
	f.reg.Register(model.JobTypeRulesExecution, processors.Func(func(ctx context.Context, _ *model.Job) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	created := f.enqueue(t, model.JobTypeRulesExecution)

	_, err := f.disp.RunOnce(context.Background(), model.QueueRules)
	require.NoError(t, err)

	j := f.get(t, created.ID)
	assert.Equal(t, model.JobStatusRetrying, j.Status)
	require.NotNil(t, j.LastError)
	assert.Contains(t, *j.LastError, string(apperrors.KindTimeout))
}

func TestRunOnce_CancelledJobStopsProcessor(t *testing.T) {
	f := newFixture(t, defaultConfig())
	var sawCancel atomic.Bool
	started := make(chan string, 1)
	f.reg.Register(model.JobTypeDocumentOCR, processors.Func(func(ctx context.Context, j *model.Job) (json.RawMessage, error) {
		started <- j.ID
		select {
		case <-ctx.Done():
			sawCancel.Store(true)
			return nil, ctx.Err()
		case <-time.After(4 * time.Second):
			return json.RawMessage(`{"late":true}`), nil
		}
	}))
	created := f.enqueue(t, model.JobTypeDocumentOCR)

	go func() {
		id := <-started
		_, _ = f.jobs.CancelJob(context.Background(), id)
	}()

	_, err := f.disp.RunOnce(context.Background(), model.QueueDocument)
	require.NoError(t, err)

	assert.True(t, sawCancel.Load(), "heartbeat must cancel the processor")
	j := f.get(t, created.ID)
	assert.Equal(t, model.JobStatusCancelled, j.Status)
	assert.Empty(t, j.Output)
}

func TestRun_DrainsQueuesUntilCancelled(t *testing.T) {
	f := newFixture(t, defaultConfig())
	var calls atomic.Int32
	ok := processors.Func(func(context.Context, *model.Job) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`{}`), nil
	})
	f.reg.Register(model.JobTypeScreening, ok)
	f.reg.Register(model.JobTypeRulesExecution, ok)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.disp.Run(ctx) }()

	ids := make([]string, 0, 6)
	for range 3 {
		ids = append(ids, f.enqueue(t, model.JobTypeScreening).ID, f.enqueue(t, model.JobTypeRulesExecution).ID)
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			j, err := f.jobs.GetJob(context.Background(), id)
			if err != nil || j.Status != model.JobStatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Equal(t, int32(6), calls.Load())
}

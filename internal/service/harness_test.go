package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sa32552/regtech-engine/internal/core"
	domainjob "github.com/sa32552/regtech-engine/internal/domain/job"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/data/memstore"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// eventRecorder is a concurrency-safe core.EventSink.
type eventRecorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *eventRecorder) Publish(_ context.Context, ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) ofType(t model.EventType) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// noopNotifier keeps tests free of listener goroutines.
type noopNotifier struct{}

func (noopNotifier) Subscribe(model.QueueName) (func(), <-chan struct{}) {
	return func() {}, make(chan struct{})
}
func (noopNotifier) Notify(model.QueueName) {}
func (noopNotifier) StopAll()               {}

type harness struct {
	clock  *core.ManualClock
	store  *memstore.Store
	jobs   *JobService
	orch   *Orchestrator
	events *eventRecorder
}

func newHarness(t *testing.T, mutate ...func(*OrchestratorOptions)) *harness {
	t.Helper()
	clock := core.NewManualClock(testStart)
	store := memstore.New(memstore.Options{})
	events := &eventRecorder{}

	jobs, err := NewJobService(JobServiceOptions{
		Repo:         store,
		Clock:        clock,
		Events:       events,
		DefaultLease: 30 * time.Second,
		MaxLease:     5 * time.Minute,
		Backoff:      domainjob.BackoffPolicy{Base: time.Second, Max: time.Minute},
		Notifier:     noopNotifier{},
	})
	require.NoError(t, err)

	opts := OrchestratorOptions{Store: store, Jobs: jobs, Events: events}
	for _, m := range mutate {
		m(&opts)
	}
	orch, err := NewOrchestrator(opts)
	require.NoError(t, err)
	jobs.SetTerminalObserver(orch)

	return &harness{clock: clock, store: store, jobs: jobs, orch: orch, events: events}
}

// claim claims the next job on q and fails the test when the queue is idle.
func (h *harness) claim(t *testing.T, q model.QueueName) *model.Job {
	t.Helper()
	j, err := h.jobs.Claim(context.Background(), q, 0)
	require.NoError(t, err)
	return j
}

func (h *harness) complete(t *testing.T, j *model.Job, out any) *model.Job {
	t.Helper()
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	done, err := h.jobs.Complete(context.Background(), j, raw)
	require.NoError(t, err)
	return done
}

func criticalScreening() model.ScreeningResult {
	return model.ScreeningResult{
		ScreeningDate:     testStart,
		WatchlistsChecked: []string{"OFAC"},
		Matches: []model.ScreeningMatch{
			{Name: "Jane Roe", List: "OFAC", Severity: model.SeverityCritical, Score: 0.97},
		},
		RiskIndicators: []model.RiskIndicator{},
		OverallRisk:    model.SeverityCritical,
	}
}

func cleanScreening() model.ScreeningResult {
	return model.ScreeningResult{
		ScreeningDate:     testStart,
		WatchlistsChecked: []string{"OFAC"},
		Matches:           []model.ScreeningMatch{},
		RiskIndicators:    []model.RiskIndicator{},
		OverallRisk:       model.SeverityLow,
	}
}

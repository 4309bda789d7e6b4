package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sa32552/regtech-engine/config"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/processors"
	"github.com/sa32552/regtech-engine/internal/service"
)

func testConfig(services string) *config.AppConfig {
	cfg := &config.AppConfig{
		Services: services,
		Store:    config.StoreConfig{Driver: config.StoreDriverMemory},
		Dispatcher: config.DispatcherConfig{
			JobLease:   5 * time.Second,
			JobTimeout: 5 * time.Second,
			PollMin:    10 * time.Millisecond,
			PollMax:    50 * time.Millisecond,
		},
		Retry:  config.RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 3},
		Risk:   config.RiskConfig{AlertThreshold: 60, AlertDedupeTTL: time.Hour},
		Reaper: config.ReaperConfig{Interval: time.Minute},
		Observability: config.ObservabilityConfig{
			Events: config.EventsConfig{LogEnabled: true},
		},
	}
	cfg.Sanitize()
	return cfg
}

func newTestRuntime(t *testing.T, services string) *Runtime {
	t.Helper()
	cfg := testConfig(services)
	st, err := OpenStorage(context.Background(), cfg, nil)
	require.NoError(t, err)

	rt, err := NewRuntime(RuntimeDeps{Config: cfg, Storage: st})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, rt.Close(context.Background()))
		assert.NoError(t, st.Close())
	})
	return rt
}

func TestNewRuntime_RequiresDependencies(t *testing.T) {
	_, err := NewRuntime(RuntimeDeps{})
	require.Error(t, err)

	_, err = NewRuntime(RuntimeDeps{Config: testConfig("dispatcher")})
	require.Error(t, err)
}

func TestRuntime_UnconfiguredChecksCompleteDegraded(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, "dispatcher")
	assert.Nil(t, rt.Cache)
	assert.True(t, rt.Events.Enabled())

	res, err := rt.Orchestrator.StartKYC(ctx, "client-1", service.KYCRequest{
		Identity:  processors.IdentityInput{FirstName: "Jane", LastName: "Doe"},
		Screening: processors.ScreeningInput{Name: "Jane Doe"},
	})
	require.NoError(t, err)

	for _, q := range []model.QueueName{model.QueueIdentity, model.QueueScreening} {
		processed, err := rt.Dispatcher.RunOnce(ctx, q)
		require.NoError(t, err)
		require.True(t, processed, "queue %s", q)
	}

	status, err := rt.Orchestrator.GetGroupStatus(ctx, res.GroupID)
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.True(t, status.Degraded)

	stats, err := rt.Jobs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
}

func TestRuntime_RunStopsWhenContextEnds(t *testing.T) {
	rt := newTestRuntime(t, "dispatcher,reaper")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- rt.RunServicesWithShutdown(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestGetEnabledServices(t *testing.T) {
	assert.Equal(t, []string{"dispatcher", "metrics"}, GetEnabledServices(&config.AppConfig{Services: "metrics,dispatcher"}))
	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "bogus"}))
	assert.Empty(t, GetEnabledServices(nil))

	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: ""}))
	require.NoError(t, ValidateServiceConfig(&config.AppConfig{Services: "reaper"}))
}

package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service",
			input:    "dispatcher",
			expected: map[ServiceMode]bool{ServiceModeDispatcher: true},
		},
		{
			name:  "all services with spaces",
			input: " dispatcher , reaper , metrics ",
			expected: map[ServiceMode]bool{
				ServiceModeDispatcher: true,
				ServiceModeReaper:     true,
				ServiceModeMetrics:    true,
			},
		},
		{
			name:     "duplicate services",
			input:    "reaper,reaper",
			expected: map[ServiceMode]bool{ServiceModeReaper: true},
		},
		{name: "empty string", input: "", expectError: true},
		{name: "only spaces and commas", input: " , , ", expectError: true},
		{name: "invalid service name", input: "dispatcher,http", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	cfg := AppConfig{Services: "dispatcher,metrics"}
	assert.True(t, cfg.IsDispatcherEnabled())
	assert.False(t, cfg.IsReaperEnabled())
	assert.True(t, cfg.IsMetricsServerEnabled())

	invalid := AppConfig{Services: "bogus"}
	assert.False(t, invalid.IsDispatcherEnabled())
	assert.False(t, invalid.IsReaperEnabled())
}

func TestValidServiceModes(t *testing.T) {
	for _, mode := range ValidServiceModes() {
		_, err := ParseServices(string(mode))
		assert.NoError(t, err, mode)
	}
}

func TestAppConfig_ParseEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("DISPATCHER_RULES_CONCURRENCY", "9")
	t.Setenv("RETRY_BASE_DELAY", "3s")
	t.Setenv("RISK_ALERT_THRESHOLD", "70")
	t.Setenv("CHECKS_OAUTH_SCOPES", "checks.read,checks.run")
	t.Setenv("OBSERVABILITY_NOTIFY_SLACK_WEBHOOK_URL", "https://hooks.example/x")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, StoreDriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 9, cfg.Dispatcher.Concurrency(model.QueueRules))
	assert.Equal(t, 5, cfg.Dispatcher.Concurrency(model.QueueIdentity))
	assert.Equal(t, 3*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.Retry.MaxDelay)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 70, cfg.Risk.AlertThreshold)
	assert.Equal(t, []string{"checks.read", "checks.run"}, cfg.Checks.Scopes)
	assert.Equal(t, "https://hooks.example/x", cfg.Observability.Notifications.Slack.WebhookURL)
	assert.Equal(t, "dispatcher,reaper,metrics", cfg.Services)
	assert.Equal(t, "regtech", cfg.Postgres.Name)
}

func TestDispatcherConfig_Sanitize(t *testing.T) {
	d := DispatcherConfig{JobLease: time.Millisecond, MaxLease: 0, PollMin: 0, PollMax: 0}
	d.Sanitize()

	assert.Equal(t, 1, d.IdentityConcurrency)
	assert.Equal(t, time.Second, d.JobLease)
	assert.Equal(t, time.Second, d.MaxLease)
	assert.Equal(t, 250*time.Millisecond, d.PollMin)
	assert.Equal(t, d.PollMin, d.PollMax)
	assert.Equal(t, 2*time.Minute, d.JobTimeout)
}

func TestStoreConfig_Sanitize(t *testing.T) {
	tests := []struct {
		in   StoreDriver
		want StoreDriver
	}{
		{"memory", StoreDriverMemory},
		{" Postgres ", StoreDriverPostgres},
		{"mysql", StoreDriverPostgres},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			s := StoreConfig{Driver: tt.in}
			s.Sanitize()
			assert.Equal(t, tt.want, s.Driver)
			assert.Equal(t, "regtech.db", s.SQLitePath)
		})
	}
}

func TestRiskAndReaperConfig_Sanitize(t *testing.T) {
	r := RiskConfig{AlertThreshold: 250, AlertDedupeTTL: -time.Second}
	r.Sanitize()
	assert.Equal(t, 100, r.AlertThreshold)
	assert.Zero(t, r.AlertDedupeTTL)

	rp := ReaperConfig{BatchSize: 50000}
	rp.Sanitize()
	assert.Equal(t, 10000, rp.BatchSize)
	assert.Equal(t, 10*time.Second, rp.Interval)
	assert.Equal(t, time.Minute, rp.GroupGrace)
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	c := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "   "}
	c.Sanitize()
	assert.False(t, c.IsEnabled())
	assert.Equal(t, ":9090", c.Addr)
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	t.Run("disabled master switch disables sinks", func(t *testing.T) {
		c := ObservabilityNotificationsConfig{
			Slack: SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.example/x"},
		}
		c.Sanitize()
		assert.False(t, c.Slack.Enabled)
		assert.Equal(t, 5*time.Second, c.Timeout)
	})

	t.Run("missing credentials disable sinks", func(t *testing.T) {
		c := ObservabilityNotificationsConfig{
			Enabled:   true,
			Slack:     SlackNotificationConfig{Enabled: true},
			PagerDuty: PagerDutyNotificationConfig{Enabled: true},
		}
		c.Sanitize()
		assert.False(t, c.Slack.Enabled)
		assert.False(t, c.PagerDuty.Enabled)
		assert.Equal(t, "regtech-engine", c.Slack.Username)
		assert.Equal(t, "orchestrator", c.PagerDuty.Component)
	})

	t.Run("configured sinks stay enabled", func(t *testing.T) {
		c := ObservabilityNotificationsConfig{
			Enabled:   true,
			Slack:     SlackNotificationConfig{Enabled: true, WebhookURL: " https://hooks.example/x "},
			PagerDuty: PagerDutyNotificationConfig{Enabled: true, RoutingKey: "rk"},
		}
		c.Sanitize()
		assert.True(t, c.Slack.Enabled)
		assert.Equal(t, "https://hooks.example/x", c.Slack.WebhookURL)
		assert.True(t, c.PagerDuty.Enabled)
	})
}

func TestChecksConfig(t *testing.T) {
	c := ChecksConfig{TokenURL: " https://auth.example/token ", ClientID: "id"}
	c.Sanitize()
	assert.Equal(t, 30*time.Second, c.Timeout)
	assert.False(t, c.OAuthEnabled())
	c.ClientSecret = "secret"
	assert.True(t, c.OAuthEnabled())
}

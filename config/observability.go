package config

import (
	"strings"
	"time"
)

const defaultObservabilityName = "regtech-engine"

// ObservabilityConfig groups configuration that controls metrics, notifications, and event publishing.
type ObservabilityConfig struct {
	Metrics       ObservabilityMetricsConfig
	Notifications ObservabilityNotificationsConfig
	Events        EventsConfig
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Notifications.Sanitize()
	c.Events.Sanitize()
}

// ObservabilityMetricsConfig controls StatsD emission and the Prometheus endpoint.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"METRICS_STATSD_ENABLED" envDefault:"false"`
	StatsdAddress string `env:"METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
	Prefix        string `env:"METRICS_PREFIX"         envDefault:"regtech"`
	// Addr is where /metrics and /healthz are served.
	Addr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
	if c.Addr = strings.TrimSpace(c.Addr); c.Addr == "" {
		c.Addr = ":9090"
	}
}

// IsEnabled returns true when StatsD emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// ObservabilityNotificationsConfig controls outbound failure and alert notifications.
type ObservabilityNotificationsConfig struct {
	Enabled    bool                        `env:"OBSERVABILITY_NOTIFY_ENABLED"     envDefault:"false"`
	Timeout    time.Duration               `env:"OBSERVABILITY_NOTIFY_TIMEOUT"     envDefault:"5s"`
	RetryLimit int                         `env:"OBSERVABILITY_NOTIFY_RETRY_LIMIT" envDefault:"3"`
	Slack      SlackNotificationConfig     `                                                         envPrefix:"OBSERVABILITY_NOTIFY_SLACK_"`
	PagerDuty  PagerDutyNotificationConfig `                                                         envPrefix:"OBSERVABILITY_NOTIFY_PAGERDUTY_"`
}

// Sanitize normalises notification configuration values.
func (c *ObservabilityNotificationsConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}

	c.Slack.sanitize()
	c.PagerDuty.sanitize()

	if !c.Enabled {
		c.Slack.Enabled = false
		c.PagerDuty.Enabled = false
		return
	}

	if c.Slack.Enabled && c.Slack.WebhookURL == "" {
		c.Slack.Enabled = false
	}

	if c.PagerDuty.Enabled && c.PagerDuty.RoutingKey == "" {
		c.PagerDuty.Enabled = false
	}
}

// SlackNotificationConfig controls Slack webhook fan-out.
type SlackNotificationConfig struct {
	Enabled          bool   `env:"ENABLED"            envDefault:"false"`
	WebhookURL       string `env:"WEBHOOK_URL"`
	Channel          string `env:"CHANNEL"`
	Username         string `env:"USERNAME"           envDefault:"regtech-engine"`
	SubjectURLPrefix string `env:"SUBJECT_URL_PREFIX"`
}

func (c *SlackNotificationConfig) sanitize() {
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.Channel = strings.TrimSpace(c.Channel)
	c.SubjectURLPrefix = strings.TrimSpace(c.SubjectURLPrefix)
	if c.Username == "" {
		c.Username = defaultObservabilityName
	}
}

// PagerDutyNotificationConfig controls PagerDuty Events API v2 fan-out.
type PagerDutyNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	RoutingKey string `env:"ROUTING_KEY"`
	Source     string `env:"SOURCE"      envDefault:"regtech-engine"`
	Component  string `env:"COMPONENT"   envDefault:"orchestrator"`
}

func (c *PagerDutyNotificationConfig) sanitize() {
	c.RoutingKey = strings.TrimSpace(c.RoutingKey)
	if c.Source = strings.TrimSpace(c.Source); c.Source == "" {
		c.Source = defaultObservabilityName
	}
	if c.Component = strings.TrimSpace(c.Component); c.Component == "" {
		c.Component = "orchestrator"
	}
}

// EventsConfig controls the structured log sink and the Redis pub/sub publisher.
type EventsConfig struct {
	LogEnabled   bool   `env:"EVENTS_LOG_ENABLED"   envDefault:"true"`
	RedisEnabled bool   `env:"EVENTS_REDIS_ENABLED" envDefault:"false"`
	RedisChannel string `env:"EVENTS_REDIS_CHANNEL" envDefault:"regtech:events"`
}

// Sanitize applies the default channel.
func (c *EventsConfig) Sanitize() {
	if c.RedisChannel = strings.TrimSpace(c.RedisChannel); c.RedisChannel == "" {
		c.RedisChannel = "regtech:events"
	}
}

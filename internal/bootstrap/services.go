package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/sa32552/regtech-engine/config"
	"github.com/sa32552/regtech-engine/internal/adapters/checks/httpcheck"
	"github.com/sa32552/regtech-engine/internal/adapters/dispatcher"
	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/data"
	domainjob "github.com/sa32552/regtech-engine/internal/domain/job"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/processors"
	"github.com/sa32552/regtech-engine/internal/observability/metrics"
	"github.com/sa32552/regtech-engine/internal/observability/notify"
	"github.com/sa32552/regtech-engine/internal/observability/notify/pagerduty"
	"github.com/sa32552/regtech-engine/internal/observability/notify/slack"
	"github.com/sa32552/regtech-engine/internal/observability/statsd"
	"github.com/sa32552/regtech-engine/internal/service"
	"github.com/sa32552/regtech-engine/internal/service/eventfanout"
)

const shutdownWaitTimeout = 30 * time.Second

// Runtime holds every wired engine component.
type Runtime struct {
	Config        *config.AppConfig
	Storage       *Storage
	Redis         redis.UniversalClient
	Cache         core.CacheRepository
	Jobs          *service.JobService
	Orchestrator  *service.Orchestrator
	Processors    *processors.Registry
	Dispatcher    *dispatcher.Dispatcher
	Reaper        *service.ReaperService
	Events        *eventfanout.Service
	Observability ObservabilityContainer
	Logger        *slog.Logger
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	Registry    *prometheus.Registry
	Prometheus  *metrics.Engine
	MetricsSink *statsd.Client
}

// RuntimeDeps groups dependencies for runtime initialization.
type RuntimeDeps struct {
	Config  *config.AppConfig
	Storage *Storage
	// Redis is optional. Without it there is no alert dedupe, assessment cache or pub/sub publisher.
	Redis  redis.UniversalClient
	Logger *slog.Logger
	// Clock is optional and defaults to the system clock.
	Clock core.Clock
}

// NewRuntime wires the engine from configuration and opened infrastructure.
func NewRuntime(deps RuntimeDeps) (*Runtime, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.Storage == nil || deps.Storage.Jobs == nil {
		return nil, errors.New("storage is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obs := buildObservability(logger, cfg.Observability)
	events := buildEventFanout(logger, cfg.Observability, deps.Redis)

	var (
		cache core.CacheRepository
		gate  core.AlertGate
	)
	if deps.Redis != nil {
		cache = data.NewRedisCacheRepo(deps.Redis)
		gate = core.NewCacheAlertGate(cache, "")
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:               deps.Storage.Jobs,
		Clock:              deps.Clock,
		Logger:             logger,
		Events:             events,
		Metrics:            obs.MetricsSink,
		Backoff:            domainjob.BackoffPolicy{Base: cfg.Retry.BaseDelay, Max: cfg.Retry.MaxDelay},
		DefaultMaxAttempts: cfg.Retry.MaxAttempts,
		DefaultLease:       cfg.Dispatcher.JobLease,
		MaxLease:           cfg.Dispatcher.MaxLease,
	})
	if err != nil {
		return nil, fmt.Errorf("create job service: %w", err)
	}

	orch, err := service.NewOrchestrator(service.OrchestratorOptions{
		Store:          deps.Storage.Jobs,
		Jobs:           jobs,
		Logger:         logger,
		Events:         events,
		Gate:           gate,
		Cache:          cache,
		CacheTTL:       cfg.Risk.CacheTTL,
		AlertThreshold: cfg.Risk.AlertThreshold,
		AlertWindow:    cfg.Risk.AlertDedupeTTL,
		Metrics:        obs.Prometheus,
	})
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	jobs.SetTerminalObserver(orch)

	checks, err := httpcheck.FromConfig(cfg.Checks, logger)
	if err != nil {
		return nil, fmt.Errorf("configure external checks: %w", err)
	}
	logUnconfiguredChecks(logger, checks)

	registry := processors.NewRegistry(processors.Deps{
		Checks: checks,
		Clock:  jobs.Clock(),
		Rules:  deps.Storage.Rules,
		Risk:   orch,
	})
	if err := registry.Validate(); err != nil {
		return nil, err
	}

	disp, err := dispatcher.New(dispatcher.Options{
		Jobs:       jobs,
		Processors: registry,
		Config:     cfg.Dispatcher,
		Logger:     logger,
		Metrics:    obs.Prometheus,
	})
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:         deps.Storage.Jobs,
		Jobs:         jobs,
		Orchestrator: orch,
		Config:       cfg.Reaper,
		Logger:       logger,
		Metrics:      obs.MetricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("create reaper: %w", err)
	}

	return &Runtime{
		Config:        cfg,
		Storage:       deps.Storage,
		Redis:         deps.Redis,
		Cache:         cache,
		Jobs:          jobs,
		Orchestrator:  orch,
		Processors:    registry,
		Dispatcher:    disp,
		Reaper:        reaper,
		Events:        events,
		Observability: obs,
		Logger:        logger,
	}, nil
}

func logUnconfiguredChecks(logger *slog.Logger, checks core.Checks) {
	for _, kind := range []core.CheckKind{
		core.CheckIdentity,
		core.CheckScreening,
		core.CheckDocumentOCR,
		core.CheckDocumentVerification,
	} {
		if _, ok := checks[kind]; !ok {
			logger.Warn("external check not configured; jobs will complete degraded", "check", kind)
		}
	}
}

// buildObservability configures the Prometheus registry and the StatsD sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sink, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Metrics.IsEnabled(),
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  cfg.Metrics.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		// A disabled client never fails.
		sink, _ = statsd.NewClient(statsd.Config{Prefix: cfg.Metrics.Prefix, Logger: logger})
	}

	return ObservabilityContainer{
		Registry:    reg,
		Prometheus:  metrics.NewEngine(reg),
		MetricsSink: sink,
	}
}

// buildEventFanout registers every configured event sink.
func buildEventFanout(logger *slog.Logger, cfg config.ObservabilityConfig, rdb redis.UniversalClient) *eventfanout.Service {
	var sinks []eventfanout.SinkRegistration

	if cfg.Events.LogEnabled {
		sinks = append(sinks, eventfanout.SinkRegistration{Name: "log", Sink: notify.LogSink{Logger: logger}})
	}
	if cfg.Events.RedisEnabled {
		if rdb == nil {
			logger.Warn("redis event publishing enabled but redis is not configured")
		} else {
			sinks = append(sinks, eventfanout.SinkRegistration{
				Name: "redis",
				Sink: data.NewRedisEventPublisher(data.RedisEventPublisherOptions{
					Client:  rdb,
					Channel: cfg.Events.RedisChannel,
					Logger:  logger,
				}),
			})
		}
	}

	n := cfg.Notifications
	if n.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:       n.Slack.WebhookURL,
			Channel:          n.Slack.Channel,
			Username:         n.Slack.Username,
			Timeout:          n.Timeout,
			RetryLimit:       n.RetryLimit,
			SubjectURLPrefix: n.Slack.SubjectURLPrefix,
		})
		if err != nil {
			logger.Error("failed to configure slack notifications", "error", err)
		} else {
			sinks = append(sinks, eventfanout.SinkRegistration{
				Name:   "slack",
				Sink:   client,
				Events: []model.EventType{model.EventJobFailed, model.EventAlertRaised},
			})
		}
	}
	if n.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: n.PagerDuty.RoutingKey,
			Source:     n.PagerDuty.Source,
			Component:  n.PagerDuty.Component,
			Timeout:    n.Timeout,
			RetryLimit: n.RetryLimit,
		})
		if err != nil {
			logger.Error("failed to configure pagerduty notifications", "error", err)
		} else {
			sinks = append(sinks, eventfanout.SinkRegistration{
				Name:   "pagerduty",
				Sink:   client,
				Events: []model.EventType{model.EventAlertRaised},
			})
		}
	}

	return eventfanout.NewService(eventfanout.Options{
		Logger:      logger,
		Sinks:       sinks,
		SinkTimeout: n.Timeout,
	})
}

// Close stops listeners and flushes pending event deliveries.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.Jobs.Close()
	var errs []error
	if err := r.Events.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush events: %w", err))
	}
	if err := r.Observability.MetricsSink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close statsd: %w", err))
	}
	return errors.Join(errs...)
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(
	ctx context.Context,
	logger *slog.Logger,
	errCh chan<- error,
	descriptor backgroundService,
) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case errCh <- errMsg:
			case <-ctx.Done():
			default:
				logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func (r *Runtime) backgroundServices(enabled map[config.ServiceMode]bool) []backgroundService {
	var out []backgroundService
	if enabled[config.ServiceModeDispatcher] {
		out = append(out, backgroundService{mode: config.ServiceModeDispatcher, name: "dispatcher", start: r.Dispatcher.Run})
	}
	if enabled[config.ServiceModeReaper] {
		out = append(out, backgroundService{mode: config.ServiceModeReaper, name: "reaper", start: r.Reaper.Run})
	}
	return out
}

func (r *Runtime) healthChecks() map[string]HealthCheck {
	checks := map[string]HealthCheck{"store": r.Storage.Ping}
	if r.Cache != nil {
		checks["redis"] = CacheHealthCheck(r.Cache)
	}
	return checks
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until ctx ends, a shutdown signal is received or a service fails.
func (r *Runtime) RunServicesWithShutdown(ctx context.Context) error {
	enabled, err := r.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var server *http.Server
	if enabled[config.ServiceModeMetrics] {
		server = StartMetricsServer(MetricsServerConfig{
			Addr:     r.Config.Observability.Metrics.Addr,
			Gatherer: r.Observability.Registry,
			Checks:   r.healthChecks(),
			Stats:    func(ctx context.Context) (any, error) { return r.Jobs.Stats(ctx) },
			Logger:   r.Logger,
		})
	}

	services := r.backgroundServices(enabled)
	errCh := make(chan error, len(services)+1)
	handles := make([]backgroundServiceHandle, 0, len(services))
	for _, svc := range services {
		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: launchBackground(serviceCtx, r.Logger, errCh, svc),
		})
	}

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		server:      server,
		runtime:     r,
		logger:      r.Logger,
		backgrounds: handles,
	})
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	server      *http.Server
	runtime     *Runtime
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case <-cfg.ctx.Done():
		cfg.logger.Info("context cancelled, shutting down services...")
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	// The service context is already cancelled; shutdown gets a fresh deadline.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(cfg.ctx), shutdownWaitTimeout)
	defer cancel()

	var errs []error
	if err := ShutdownMetricsServer(stopCtx, cfg.server, cfg.logger); err != nil {
		errs = append(errs, err)
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	if err := cfg.runtime.Close(stopCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}

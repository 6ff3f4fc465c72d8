package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/alerting"
	"github.com/tributary-ai/crm-reply-router/internal/config"
	"github.com/tributary-ai/crm-reply-router/internal/credits"
	"github.com/tributary-ai/crm-reply-router/internal/health"
	"github.com/tributary-ai/crm-reply-router/internal/providers"
	"github.com/tributary-ai/crm-reply-router/internal/providers/anthropic"
	"github.com/tributary-ai/crm-reply-router/internal/providers/basic"
	"github.com/tributary-ai/crm-reply-router/internal/providers/openai"
	"github.com/tributary-ai/crm-reply-router/internal/providers/template"
	"github.com/tributary-ai/crm-reply-router/internal/retry"
	"github.com/tributary-ai/crm-reply-router/internal/routing"
	"github.com/tributary-ai/crm-reply-router/internal/security"
	"github.com/tributary-ai/crm-reply-router/internal/server"
	"github.com/tributary-ai/crm-reply-router/internal/telemetry"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// Application represents the main application
type Application struct {
	config       *config.Config
	logger       *logrus.Logger
	telemetry    *telemetry.Provider
	monitor      *health.Monitor
	scheduler    *health.Scheduler
	alerts       *alerting.Manager
	orchestrator *routing.Orchestrator
	server       *server.Server
}

// NewApplication wires every component from configuration
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	return newApplication(cfg, logger)
}

func newApplication(cfg *config.Config, logger *logrus.Logger) (*Application, error) {
	tp := telemetry.Init(cfg.Telemetry)
	metrics, err := telemetry.NewMetrics(tp.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	sinks := []alerting.Sink{alerting.NewLogSink(logger)}
	if cfg.Alerting.Telegram.Enabled() {
		tg, err := alerting.NewTelegramSink(cfg.Alerting.Telegram, &http.Client{Timeout: 10 * time.Second})
		if err != nil {
			// alerts still reach the log sink
			logger.WithError(err).Error("Telegram alert sink unavailable")
		} else {
			sinks = append(sinks, tg)
		}
	}
	alerts := alerting.NewManager(cfg.Alerting.Thresholds, logger,
		alerting.WithSinks(sinks...),
		alerting.WithMetrics(metrics),
	)

	set := buildProviders(cfg, logger)

	monitor := health.NewMonitor(cfg.Health, logger, health.WithMetrics(metrics))
	for _, id := range []types.ProviderID{types.ProviderPrimaryAI, types.ProviderSecondaryAI} {
		if p, err := set.Get(id); err == nil {
			monitor.Register(id, p)
		}
	}

	policy := routing.NewPolicy(cfg.Scoring, credits.NewSelector(cfg.Credits, logger), logger)
	orchestrator := routing.NewOrchestrator(policy, set, retry.NewExecutor(cfg.Retry, logger), logger,
		routing.WithHealth(monitor),
		routing.WithOutcomes(alerts),
		routing.WithMetrics(metrics),
		routing.WithBreakerConfig(cfg.Breaker),
		routing.WithEmergencyReply(cfg.Replies.Emergency),
	)

	deps := server.Dependencies{
		Router: orchestrator,
		Health: monitor,
		Alerts: alerts,
		Auth:   security.NewAuthenticator(cfg.Auth, logger),
	}
	if cfg.Telemetry.Enabled {
		deps.Metrics = tp
	}

	srv, err := server.NewServer(deps, cfg.ToServerConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Application{
		config:       cfg,
		logger:       logger,
		telemetry:    tp,
		monitor:      monitor,
		scheduler:    health.NewScheduler(monitor, cfg.Health.Interval, logger),
		alerts:       alerts,
		orchestrator: orchestrator,
		server:       srv,
	}, nil
}

// buildProviders creates the four fallback levels. AI levels without an API
// key are left out, so the chain reports them as unknown and moves on.
func buildProviders(cfg *config.Config, logger *logrus.Logger) providers.Set {
	list := []providers.Provider{
		template.NewProvider(cfg.Replies.Templates, logger),
		basic.NewProvider(cfg.Replies.Basic),
	}

	levels := []struct {
		id     types.ProviderID
		config config.ProviderConfig
	}{
		{types.ProviderPrimaryAI, cfg.Providers.Primary},
		{types.ProviderSecondaryAI, cfg.Providers.Secondary},
	}

	for _, level := range levels {
		if !level.config.Enabled() {
			logger.WithField("provider", level.id).Warn("No API key configured, level disabled")
			continue
		}

		var p providers.Provider
		switch level.config.Backend {
		case config.BackendAnthropic:
			p = anthropic.NewAnthropicProvider(level.id, level.config.ToAnthropicConfig(), logger)
		default:
			p = openai.NewOpenAIProvider(level.id, level.config.ToOpenAIConfig(), logger)
		}
		list = append(list, p)

		logger.WithFields(logrus.Fields{
			"provider": level.id,
			"backend":  level.config.Backend,
			"model":    level.config.Model,
		}).Info("AI provider registered")
	}

	return providers.NewSet(list...)
}

// Run starts background loops and the HTTP server, and blocks until a
// shutdown signal, ctx cancellation or a server error
func (app *Application) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.logger.WithField("ai_providers", app.config.GetEnabledProviders()).Info("Starting CRM reply router")
	if len(app.config.GetEnabledProviders()) == 0 {
		app.logger.Warn("No AI provider configured, every message will be answered by templates")
	}

	if err := app.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health scheduler: %w", err)
	}
	go app.sampleResources(ctx, app.config.Alerting.ResourceInterval)

	serverErrors := make(chan error, 1)
	go func() {
		if err := app.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		app.logger.Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app.scheduler.Stop()
	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		if runErr == nil {
			runErr = fmt.Errorf("server shutdown failed: %w", err)
		}
	}
	app.alerts.Wait()
	if err := app.telemetry.Shutdown(shutdownCtx); err != nil {
		app.logger.WithError(err).Warn("Telemetry shutdown error")
	}

	app.logger.Info("Graceful shutdown completed")
	return runErr
}

// sampleResources checks heap usage against the resource threshold
func (app *Application) sampleResources(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.alerts.SampleResourceUsage(ctx)
		}
	}
}

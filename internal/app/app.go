// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the chatgate server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"chatgate/config"
	"chatgate/internal/auditlog"
	"chatgate/internal/core"
	"chatgate/internal/fallback"
	"chatgate/internal/httpclient"
	"chatgate/internal/normalize"
	"chatgate/internal/observability"
	"chatgate/internal/providers"
	"chatgate/internal/server"
	"chatgate/internal/upstream"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config       *config.Config
	registry     *providers.Registry
	upstream     *upstream.Client
	orchestrator *fallback.Orchestrator
	audit        *auditlog.Result
	server       *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app config is required")
	}

	app := &App{config: cfg}

	app.registry = providers.NewRegistry(cfg.Fallback.Candidates, namespaceLoader(cfg.Providers))

	httpCfg := httpclient.FromConfig(cfg.HTTP)
	app.upstream = upstream.New(httpclient.NewHTTPClient(&httpCfg), upstreamConfig(cfg.Upstream))

	extractor := normalize.New(normalize.Options{
		ReplyKeys:  cfg.Normalizer.ReplyKeys,
		ChoiceKeys: cfg.Normalizer.ChoiceKeys,
		ChunkKeys:  cfg.Normalizer.ChunkKeys,
	})

	var opts []fallback.Option
	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, fallback.WithHooks(observability.NewPrometheusHooksWith(reg)))
		gatherer = reg
	}

	app.orchestrator = fallback.New(app.upstream, app.registry, extractor, fallback.Config{
		Models:         cfg.Fallback.Models,
		SystemPrompt:   cfg.Fallback.SystemPrompt,
		Backoff:        cfg.Fallback.Backoff,
		AttemptTimeout: cfg.Fallback.AttemptTimeout,
	}, opts...)

	// Initialize audit logging
	auditResult, err := auditlog.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logging: %w", err)
	}
	app.audit = auditResult

	app.logStartupInfo()

	app.server = server.New(app.orchestrator, &server.Config{
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		MetricsGatherer: gatherer,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
		SwaggerEnabled:  cfg.Server.SwaggerEnabled,
		StaticDir:       cfg.Server.StaticDir,
		CORSOrigins:     cfg.Server.CORSOrigins,
		AuditLogger:     auditResult.Logger,
	})

	return app, nil
}

// namespaceLoader builds the provider namespace once. A namespace that cannot
// be built is reported on every load, so only the default attempts run.
func namespaceLoader(cfgs map[string]config.ProviderConfig) providers.NamespaceLoader {
	ns, err := providers.NewNamespace(cfgs)
	if err != nil {
		return func() (providers.Namespace, error) { return nil, err }
	}
	return providers.StaticLoader(ns)
}

func upstreamConfig(cfg config.UpstreamConfig) upstream.Config {
	out := upstream.Config{
		Default: core.Provider{
			Name:    core.DefaultProviderLabel,
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Headers: cfg.Headers,
		},
		Stream: cfg.Stream,
	}
	if cfg.CircuitBreaker.FailureThreshold > 0 {
		out.CircuitBreaker = &upstream.CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
			Timeout:          time.Duration(cfg.CircuitBreaker.Timeout) * time.Second,
		}
	}
	return out
}

// Orchestrator returns the fallback orchestrator serving /api/chat.
func (a *App) Orchestrator() *fallback.Orchestrator {
	return a.orchestrator
}

// AuditLogger returns the audit logger interface.
func (a *App) AuditLogger() auditlog.LoggerInterface {
	if a.audit == nil {
		return nil
	}
	return a.audit.Logger
}

// Handler returns the HTTP handler, for use with httptest.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return errors.New("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// the HTTP server first, honoring ctx, then the audit logger, which flushes
// pending entries before its storage is closed.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			slog.Error("audit logger close error", "error", err)
			errs = append(errs, fmt.Errorf("audit close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	slog.Info("fallback configured",
		"candidates", len(a.registry.Candidates()),
		"resolved", len(a.registry.Load()),
		"models", cfg.Fallback.Models,
		"backoff", cfg.Fallback.Backoff,
		"attempt_timeout", cfg.Fallback.AttemptTimeout,
	)

	if cfg.Upstream.APIKey == "" {
		slog.Warn("no upstream API key configured", "recommendation", "set OPENAI_API_KEY or UPSTREAM_API_KEY")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if cfg.Logging.Enabled {
		slog.Info("audit logging enabled",
			"storage_type", cfg.Storage.Type,
			"log_bodies", cfg.Logging.LogBodies,
			"retention_days", cfg.Logging.RetentionDays,
		)
	} else {
		slog.Info("audit logging disabled")
	}

	if cfg.Server.SwaggerEnabled {
		slog.Info("swagger UI enabled", "path", "/swagger/index.html")
	}
}

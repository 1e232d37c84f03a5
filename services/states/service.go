// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package states

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianStates/pkg/logging"
	"github.com/AleutianAI/AleutianStates/services/states/config"
	"github.com/AleutianAI/AleutianStates/services/states/events"
	"github.com/AleutianAI/AleutianStates/services/states/observability"
	"github.com/AleutianAI/AleutianStates/services/states/storage"
	"github.com/AleutianAI/AleutianStates/services/states/telemetry"
)

// Service owns the storage engine, telemetry and HTTP server of one
// States process.
type Service struct {
	config    config.Config
	logger    *logging.Logger
	engine    storage.Engine
	hub       *events.Hub
	registry  *prometheus.Registry
	router    *gin.Engine
	providers *telemetry.Providers
}

// New wires a Service from cfg.
//
// Description:
//
//	Initializes telemetry, opens and instruments the configured storage
//	backend, and builds the router. On error everything opened so far is
//	released. Nothing listens until Run.
//
// Inputs:
//
//	ctx - Context for exporter setup.
//	cfg - Validated configuration.
//	logger - Service logger. Must not be nil.
//
// Outputs:
//
//	*Service - Ready to Run.
//	error - Non-nil if telemetry or storage cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *logging.Logger) (*Service, error) {
	s := &Service{config: cfg, logger: logger}

	s.registry = cfg.Telemetry.Registry
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		cfg.Telemetry.Registry = s.registry
	}

	providers, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s.providers = providers

	engine, err := storage.Open(cfg.Storage, logger.Slog().With("component", "storage"))
	if err != nil {
		s.shutdownTelemetry()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	storageMetrics, err := telemetry.NewStorageMetrics(otel.Meter("states.storage"))
	if err != nil {
		_ = engine.Close()
		s.shutdownTelemetry()
		return nil, fmt.Errorf("storage metrics: %w", err)
	}
	backend := cfg.Storage.Type
	if backend == "" {
		backend = storage.BackendMemory
	}
	s.engine = storage.Instrument(engine, backend, storageMetrics)

	resourceOpts := []ResourceOption{}
	if cfg.Server.Events {
		s.hub = events.NewHub()
		resourceOpts = append(resourceOpts, WithPublisher(s.hub))
	}

	metrics := observability.NewMetrics(s.registry)
	handlers := NewHandlers(NewResource(s.engine, resourceOpts...), logger, metrics).
		WithMaxBodyBytes(cfg.Server.MaxBodyBytes)
	if s.hub != nil {
		handlers.WithEvents(s.hub)
	}

	metricsHandler := providers.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	}

	s.router = NewRouter(RouterConfig{
		BasePath:       cfg.Server.BasePath,
		ServiceName:    cfg.Telemetry.ServiceName,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		Logger:         logger,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	}, handlers)

	logger.Info("Service initialized",
		"storage", backend,
		"base_path", cfg.Server.BasePath,
		"events", cfg.Server.Events,
	)
	return s, nil
}

// Router returns the gin engine, for tests and embedding.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Handler returns the full HTTP handler including trailing-slash handling.
func (s *Service) Handler() http.Handler {
	return Handler(s.router)
}

// Run serves on cfg's address until ctx is cancelled, then shuts down.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
//
// Description:
//
//	On cancellation the event hub is closed first so WebSocket streams
//	end, then in-flight requests get Server.ShutdownTimeout to finish.
//	Storage and telemetry are released by Close, not here.
//
// Outputs:
//
//	error - A serve failure or shutdown timeout. nil after a clean stop.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server")
		if s.hub != nil {
			s.hub.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close flushes storage and stops telemetry. Safe to call once after
// Serve returns.
func (s *Service) Close() error {
	var errs []error
	if err := s.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if err := s.shutdownTelemetry(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Service) shutdownTelemetry() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.providers.Shutdown(ctx)
}

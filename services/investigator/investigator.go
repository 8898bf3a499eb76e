// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package investigator assembles the investigation service: SQLite store,
// planner backend, worker pool, realtime hub, research engine, janitor,
// and the HTTP surface over all of them.
//
// The service supports dependency injection via extensions.ServiceOptions;
// the open source defaults admit every request as the local analyst.
package investigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gorm.io/gorm"

	"github.com/investigator-ai/investigator/pkg/extensions"
	"github.com/investigator-ai/investigator/services/investigator/dispatch"
	"github.com/investigator-ai/investigator/services/investigator/engine"
	"github.com/investigator-ai/investigator/services/investigator/janitor"
	"github.com/investigator-ai/investigator/services/investigator/realtime"
	"github.com/investigator-ai/investigator/services/investigator/routes"
	"github.com/investigator-ai/investigator/services/investigator/store"
	"github.com/investigator-ai/investigator/services/planner"
)

// Service is the investigator's lifecycle contract. Run blocks until
// Shutdown; Router exposes the gin engine for httptest.
type Service interface {
	Run() error
	Shutdown(ctx context.Context) error
	Router() *gin.Engine
}

// Config holds service configuration. Zero values take the documented
// defaults.
type Config struct {
	// Port is the HTTP server port. Default 12310.
	Port int

	// StorePath is the SQLite database file. Default data/investigator.db.
	StorePath string

	// PlannerBackend selects the model provider: "gemini", "openai", or
	// "stub". Default gemini.
	PlannerBackend string

	// PlannerModel overrides the provider's default model.
	PlannerModel string

	// WorkerCount sizes the dispatch pool. Default 4.
	WorkerCount int

	// MaxTaskAttempts bounds subtask retries. Default 3.
	MaxTaskAttempts int

	// RetryBaseDelay is the first retry backoff. Default 15s.
	RetryBaseDelay time.Duration

	// JanitorInterval spaces hygiene sweeps. Default 1h.
	JanitorInterval time.Duration

	// StuckAfter is the stuck-investigation threshold. Default 24h.
	StuckAfter time.Duration

	// Retention keeps terminal investigations this long. Default 30 days.
	Retention time.Duration

	// OTelEndpoint is the OTLP gRPC collector address. Empty disables
	// trace export.
	OTelEndpoint string

	// GinMode sets the gin framework mode ("debug", "release", "test").
	GinMode string
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "data/investigator.db"
	}
	if cfg.PlannerBackend == "" {
		cfg.PlannerBackend = planner.BackendGemini
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	return cfg
}

type service struct {
	cfg    Config
	opts   extensions.ServiceOptions
	router *gin.Engine
	server *http.Server

	db      *gorm.DB
	store   *store.Store
	hub     *realtime.Hub
	pool    *dispatch.Pool
	engine  *engine.Engine
	janitor *janitor.Janitor

	tracerCleanup func(context.Context)
}

// New wires a ready-to-run service: opens and migrates the store, builds
// the planner for the configured backend, and starts the worker pool and
// janitor. opts may be nil for the open source defaults.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{cfg: applyConfigDefaults(cfg)}
	if opts != nil {
		s.opts = extensions.Normalize(opts)
	} else {
		s.opts = extensions.DefaultOptions()
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("tracer init: %w", err)
	}
	s.tracerCleanup = cleanup

	s.db, err = store.Open(s.cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	if err := store.Migrate(context.Background(), s.db); err != nil {
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	s.store = store.New(s.db)

	p, err := planner.New(planner.Config{
		Backend: s.cfg.PlannerBackend,
		Model:   s.cfg.PlannerModel,
	})
	if err != nil {
		return nil, fmt.Errorf("planner init: %w", err)
	}

	s.hub = realtime.NewHub()
	s.pool = dispatch.NewPool(dispatch.Config{Workers: s.cfg.WorkerCount})
	s.engine = engine.New(s.store, p, s.hub, s.pool, engine.Config{
		Backend:         s.cfg.PlannerBackend,
		MaxTaskAttempts: s.cfg.MaxTaskAttempts,
		RetryBaseDelay:  s.cfg.RetryBaseDelay,
	})

	s.janitor = janitor.New(s.store, s.engine, janitor.Config{
		Interval:   s.cfg.JanitorInterval,
		StuckAfter: s.cfg.StuckAfter,
		Retention:  s.cfg.Retention,
	})
	s.janitor.Start()

	s.initRouter()
	return s, nil
}

// Run serves HTTP until Shutdown is called. The error from a clean
// shutdown is nil.
func (s *service) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("investigator listening", "port", s.cfg.Port,
		"planner_backend", s.cfg.PlannerBackend, "store_path", s.cfg.StorePath)

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the service in dependency order: no new HTTP work, stop
// the janitor, drain the worker pool so in-flight subtasks finish and
// integrate, close the hub, then the database.
func (s *service) Shutdown(ctx context.Context) error {
	var errs []error

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	s.janitor.Stop()

	if err := s.pool.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pool drain: %w", err))
	}
	s.hub.Close()

	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(ctx)
	}

	slog.Info("investigator stopped", "errors", len(errs))
	return errors.Join(errs...)
}

// Router exposes the gin engine for integration tests.
func (s *service) Router() *gin.Engine { return s.router }

// initTracer sets up OTLP trace export when an endpoint is configured;
// without one the default no-op tracer provider stays in place and spans
// cost nothing.
func (s *service) initTracer() (func(context.Context), error) {
	if s.cfg.OTelEndpoint == "" {
		return nil, nil
	}
	ctx := context.Background()

	conn, err := grpc.NewClient(s.cfg.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("otel grpc client: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("investigator")))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("tracer shutdown failed", "error", err)
		}
	}, nil
}

func (s *service) initRouter() {
	if s.cfg.GinMode != "" {
		gin.SetMode(s.cfg.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware("investigator"))

	routes.SetupRoutes(s.router, s.store, s.engine, s.hub, s.opts.AuthProvider)
}

var _ Service = (*service)(nil)

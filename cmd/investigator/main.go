// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command investigator starts the investigation backend HTTP server.
//
// Configuration comes from environment variables:
//
//   - INVESTIGATOR_PORT: HTTP server port (default: 12310)
//   - STORE_PATH: SQLite database file (default: data/investigator.db)
//   - PLANNER_BACKEND: model provider - gemini, openai, stub (default: gemini)
//   - PLANNER_MODEL: provider model override (optional)
//   - WORKER_COUNT: dispatch pool size (default: 4)
//   - MAX_TASK_ATTEMPTS: subtask retry bound (default: 3)
//   - RETRY_BASE_DELAY: first retry backoff (default: 15s)
//   - JANITOR_INTERVAL: hygiene sweep spacing (default: 1h)
//   - STUCK_AFTER: stuck-investigation threshold (default: 24h)
//   - RETENTION_DAYS: terminal investigation retention (default: 30)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: trace collector (optional)
//   - GIN_MODE: debug, release, test (default: debug)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/investigator-ai/investigator/pkg/logging"
	"github.com/investigator-ai/investigator/services/investigator"
)

func main() {
	logging.Setup(logging.Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Service: "investigator",
	})

	cfg := investigator.Config{
		Port:            getEnvInt("INVESTIGATOR_PORT", 12310),
		StorePath:       getEnvString("STORE_PATH", "data/investigator.db"),
		PlannerBackend:  getEnvString("PLANNER_BACKEND", "gemini"),
		PlannerModel:    os.Getenv("PLANNER_MODEL"),
		WorkerCount:     getEnvInt("WORKER_COUNT", 4),
		MaxTaskAttempts: getEnvInt("MAX_TASK_ATTEMPTS", 3),
		RetryBaseDelay:  getEnvDuration("RETRY_BASE_DELAY", 15*time.Second),
		JanitorInterval: getEnvDuration("JANITOR_INTERVAL", time.Hour),
		StuckAfter:      getEnvDuration("STUCK_AFTER", 24*time.Hour),
		Retention:       24 * time.Hour * time.Duration(getEnvInt("RETENTION_DAYS", 30)),
		OTelEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		GinMode:         os.Getenv("GIN_MODE"),
	}

	svc, err := investigator.New(cfg, nil)
	if err != nil {
		log.Fatalf("investigator init failed: %v", err)
	}

	// Serve until SIGINT/SIGTERM, then drain: in-flight research finishes
	// and integrates before the process exits.
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("investigator server error: %v", err)
		}
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			slog.Error("shutdown incomplete", "error", err)
		}
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a
// default. Accepts Go duration syntax ("15s", "1h30m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging configures structured logging for InvestiGator services.
//
// The whole service logs through the default slog logger; Setup installs a
// JSON handler on stderr once at process start and every package simply
// calls slog.Info and friends with key/value pairs. Log aggregation in
// deployment expects one JSON object per line.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls the process-wide logger.
type Config struct {
	// Level is the minimum level to emit: "debug", "info", "warn",
	// "error". Default: "info". Unknown values fall back to the default.
	Level string

	// Service is stamped on every record as the "service" attribute so
	// multi-service deployments can tell log streams apart.
	Service string

	// Writer overrides the output destination. Default: os.Stderr.
	// Tests use a buffer here.
	Writer io.Writer
}

// Setup installs the JSON logger as the slog default and returns it.
func Setup(cfg Config) *slog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to its slog level. Unknown names map to
// Info so a typo in LOG_LEVEL degrades to the default rather than
// silencing the process.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package janitor runs the background hygiene sweeps: failing
// investigations that stopped making progress and purging terminal ones
// past the retention window.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/investigator-ai/investigator/services/investigator/engine"
	"github.com/investigator-ai/investigator/services/investigator/observability"
	"github.com/investigator-ai/investigator/services/investigator/store"
)

// timedOutMessage lands in error_message when the stuck sweep fails an
// investigation.
const timedOutMessage = "investigation timed out"

// Config tunes the sweeps. Zero values take the documented defaults.
type Config struct {
	// Interval between sweep rounds. Default 1h.
	Interval time.Duration

	// StuckAfter is how long a running investigation may go without a
	// store write before the stuck sweep fails it. Default 24h.
	StuckAfter time.Duration

	// Retention is how long terminal investigations are kept after they
	// finish. Default 30 days.
	Retention time.Duration
}

func applyDefaults(cfg Config) Config {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return cfg
}

// SweepResult summarizes one sweep round.
type SweepResult struct {
	// StuckFailed is how many running investigations the stuck sweep
	// failed as timed out.
	StuckFailed int

	// Purged is how many terminal investigations the retention sweep
	// deleted.
	Purged int

	// Errors collects per-row failures. A failing row never stops the
	// rest of the sweep.
	Errors []error
}

// Janitor owns the sweep schedule. Start it once; Stop blocks until the
// loop has exited.
type Janitor struct {
	store   *store.Store
	engine  *engine.Engine
	cfg     Config
	done    chan struct{}
	stopped chan struct{}
}

// New builds a janitor. Call Start to begin sweeping.
func New(st *store.Store, eng *engine.Engine, cfg Config) *Janitor {
	return &Janitor{
		store:   st,
		engine:  eng,
		cfg:     applyDefaults(cfg),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the sweep loop: one round immediately, then one per
// interval until Stop.
func (j *Janitor) Start() {
	go func() {
		defer close(j.stopped)

		ticker := time.NewTicker(j.cfg.Interval)
		defer ticker.Stop()

		j.sweep(context.Background())
		for {
			select {
			case <-ticker.C:
				j.sweep(context.Background())
			case <-j.done:
				return
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it to exit. Safe to call before
// Start returns; calling twice panics.
func (j *Janitor) Stop() {
	close(j.done)
	<-j.stopped
}

// RunNow executes one sweep round synchronously and reports what it did.
func (j *Janitor) RunNow(ctx context.Context) SweepResult {
	return j.sweep(ctx)
}

func (j *Janitor) sweep(ctx context.Context) SweepResult {
	var result SweepResult
	now := time.Now().UTC()

	// Stuck sweep: running investigations whose last store write is older
	// than the threshold have lost their workers somewhere.
	stuck, err := j.store.Investigations.ListStuck(ctx, now.Add(-j.cfg.StuckAfter))
	if err != nil {
		result.Errors = append(result.Errors, err)
	} else {
		for i := range stuck {
			inv := &stuck[i]
			err := j.engine.FailInvestigation(ctx, inv.ID, timedOutMessage, store.DecisionTimedOut)
			if err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}
			result.StuckFailed++
			slog.Warn("stuck investigation failed",
				"investigation_id", inv.ID, "title", inv.Title, "updated_at", inv.UpdatedAt)
		}
	}
	observability.DefaultMetrics.JanitorSweeps.WithLabelValues("stuck").Inc()

	// Retention sweep: terminal investigations past the window go away,
	// children cascading with them.
	expired, err := j.store.Investigations.ListExpired(ctx, now.Add(-j.cfg.Retention))
	if err != nil {
		result.Errors = append(result.Errors, err)
	} else {
		for i := range expired {
			inv := &expired[i]
			if err := j.store.Investigations.Delete(ctx, inv.ID); err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}
			j.engine.Forget(inv.ID)
			result.Purged++
		}
	}
	observability.DefaultMetrics.JanitorSweeps.WithLabelValues("retention").Inc()

	slog.Info("janitor sweep finished",
		"stuck_failed", result.StuckFailed,
		"purged", result.Purged,
		"errors", len(result.Errors))
	return result
}

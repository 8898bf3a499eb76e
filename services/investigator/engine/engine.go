// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// ADDITIONAL TERMS (GNU AGPL Version 3 Section 7):
// In accordance with Section 7 of the GNU Affero General Public License
// Version 3, the following additional terms apply to this file:
//
// 1. Attribution Requirement: Any use, modification, or distribution of
//    this software must include clear attribution to InvestiGator Labs.
// 2. Network Use: If you run a modified version of this software as a
//    network service, you must make the complete modified source code
//    available to users of that service.
//
// =============================================================================
// # Description
// The engine drives investigations from creation to report: it runs the
// lifecycle transitions, turns planner output into subtasks, executes
// subtasks on the worker pool, folds step results into the knowledge
// graph, and narrates everything over the realtime hub.
//
// # Inputs
// Lifecycle commands from REST handlers and WebSocket actions; subtask
// jobs scheduled on the dispatcher; sweep requests from the janitor.
//
// # Outputs
// Store writes (investigations, subtasks, graph, evidence, thoughts,
// decisions, reports) and realtime events on the investigation and board
// topics.
// =============================================================================

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/investigator-ai/investigator/services/investigator/dispatch"
	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
	"github.com/investigator-ai/investigator/services/investigator/realtime"
	"github.com/investigator-ai/investigator/services/investigator/store"
	"github.com/investigator-ai/investigator/services/planner"
)

// Dispatcher is the slice of the worker pool the engine consumes. The
// concrete implementation lives in services/investigator/dispatch.
type Dispatcher interface {
	Enqueue(job dispatch.Job) error
	EnqueueAfter(delay time.Duration, job dispatch.Job) error
}

// Config tunes execution. Zero values take the documented defaults.
type Config struct {
	// Backend labels planner calls in metrics and reports
	// ("gemini", "openai", "stub").
	Backend string

	// MaxTaskAttempts bounds how often a subtask may be claimed before a
	// retryable failure becomes permanent. Default 3.
	MaxTaskAttempts int

	// RetryBaseDelay is the first retry backoff; attempt n waits
	// base * 2^(n-1). Default 15s.
	RetryBaseDelay time.Duration

	// MaxTasksPerPlan caps how many tasks a plan may schedule. Default 8.
	MaxTasksPerPlan int

	// ContextBudget is the character budget for the digest handed to the
	// planner with each step. Default 4000.
	ContextBudget int
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Backend == "" {
		cfg.Backend = planner.BackendStub
	}
	if cfg.MaxTaskAttempts <= 0 {
		cfg.MaxTaskAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 15 * time.Second
	}
	if cfg.MaxTasksPerPlan <= 0 {
		cfg.MaxTasksPerPlan = 8
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = 4000
	}
	return cfg
}

// Engine owns the read-modify-write cycles of investigations. One engine
// serves the whole process; per-investigation locks keep concurrent
// subtask completions and lifecycle commands from interleaving.
type Engine struct {
	store   *store.Store
	planner planner.Planner
	hub     *realtime.Hub
	jobs    Dispatcher
	cfg     Config
	locks   *investigationLocks
	tracer  trace.Tracer
}

// New wires an engine. The planner is wrapped with metrics and tracing;
// callers pass the bare backend.
func New(st *store.Store, p planner.Planner, hub *realtime.Hub, jobs Dispatcher, cfg Config) *Engine {
	cfg = applyConfigDefaults(cfg)
	return &Engine{
		store:   st,
		planner: observePlanner(p, cfg.Backend),
		hub:     hub,
		jobs:    jobs,
		cfg:     cfg,
		locks:   newInvestigationLocks(),
		tracer:  otel.Tracer("investigator.engine"),
	}
}

// =============================================================================
// Per-investigation locking
// =============================================================================

// investigationLocks hands out one mutex per investigation ID. Entries
// are dropped when an investigation is deleted; the registry stays small
// because only actively-touched investigations appear in it.
type investigationLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newInvestigationLocks() *investigationLocks {
	return &investigationLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for id and returns its unlock func.
func (l *investigationLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (l *investigationLocks) forget(id string) {
	l.mu.Lock()
	delete(l.locks, id)
	l.mu.Unlock()
}

// Lock exposes the per-investigation mutex to handlers whose writes touch
// derived state (manual graph edits). The returned func releases it.
func (e *Engine) Lock(investigationID string) func() {
	return e.locks.lock(investigationID)
}

// Forget drops the lock entry of a deleted investigation.
func (e *Engine) Forget(investigationID string) {
	e.locks.forget(investigationID)
}

// =============================================================================
// Narration helpers
// =============================================================================

// recordThought persists a reasoning step and streams it. Thoughts are
// narration; failures are logged and swallowed so they never abort the
// work being narrated.
func (e *Engine) recordThought(ctx context.Context, investigationID string, subtaskID *string, thoughtType, content string) {
	t := &store.ThoughtChain{
		InvestigationID: investigationID,
		SubtaskID:       subtaskID,
		ThoughtType:     thoughtType,
		Content:         content,
	}
	if err := e.store.Agents.AddThought(ctx, t); err != nil {
		slog.Warn("thought not recorded", "investigation_id", investigationID, "error", err)
		return
	}
	e.hub.PublishInvestigation(investigationID, realtime.NewEvent(realtime.EventThoughtUpdate, investigationID, map[string]any{
		"thought_id":   t.ID,
		"thought_type": t.ThoughtType,
		"content":      t.Content,
		"sequence":     t.Sequence,
	}))
}

// recordDecision persists an audit-trail decision. Same failure policy as
// thoughts.
func (e *Engine) recordDecision(ctx context.Context, investigationID, decisionType, rationale string, decisionCtx map[string]any) {
	d := &store.AgentDecision{
		InvestigationID: investigationID,
		DecisionType:    decisionType,
		Rationale:       rationale,
	}
	if len(decisionCtx) > 0 {
		if raw, err := encodeJSON(decisionCtx); err == nil {
			d.Context = raw
		}
	}
	if err := e.store.Agents.AddDecision(ctx, d); err != nil {
		slog.Warn("decision not recorded", "investigation_id", investigationID, "decision", decisionType, "error", err)
	}
}

// broadcastStatus pushes the investigation's current lifecycle snapshot.
func (e *Engine) broadcastStatus(inv *store.Investigation) {
	data := map[string]any{
		"status":        inv.Status,
		"current_phase": inv.CurrentPhase,
		"progress":      inv.Progress,
		"confidence":    inv.Confidence,
	}
	if areas := inv.PriorityAreaList(); len(areas) > 0 {
		data["priority_areas"] = areas
	}
	if inv.ErrorMessage != "" {
		data["error_message"] = inv.ErrorMessage
	}
	e.hub.PublishInvestigation(inv.ID, realtime.NewEvent(realtime.EventStatusUpdate, inv.ID, data))
}

// broadcastProgress pushes the numeric progress snapshot.
func (e *Engine) broadcastProgress(investigationID string, progress int, confidence float64, counts lifecycle.TaskCounts) {
	e.hub.PublishInvestigation(investigationID, realtime.NewEvent(realtime.EventProgressUpdate, investigationID, map[string]any{
		"progress":    progress,
		"confidence":  confidence,
		"pending":     counts.Pending,
		"in_progress": counts.InProgress,
		"completed":   counts.Completed,
		"failed":      counts.Failed,
		"abandoned":   counts.Abandoned,
	}))
}

func (e *Engine) broadcastError(investigationID, code, message string, retrying bool) {
	e.hub.PublishInvestigation(investigationID, realtime.NewEvent(realtime.EventErrorOccurred, investigationID, realtime.ErrorData{
		Code:     code,
		Message:  message,
		Retrying: retrying,
	}))
}

// refreshProgress recomputes and persists progress and confidence from
// the subtask table, returning the new numbers. Callers hold the
// investigation lock.
func (e *Engine) refreshProgress(ctx context.Context, investigationID string) (int, float64, lifecycle.TaskCounts, error) {
	counts, err := e.store.Subtasks.Counts(ctx, investigationID, "")
	if err != nil {
		return 0, 0, counts, err
	}
	progress := lifecycle.Progress(counts)

	values, err := e.store.Subtasks.CompletedConfidences(ctx, investigationID)
	if err != nil {
		return 0, 0, counts, err
	}
	confidence := lifecycle.AggregateConfidence(values)

	if err := e.store.Investigations.SetProgress(ctx, investigationID, progress, confidence); err != nil {
		return 0, 0, counts, err
	}
	return progress, confidence, counts, nil
}

func encodeJSON(v any) ([]byte, error) { return json.Marshal(v) }

func subtaskJobName(id string) string { return fmt.Sprintf("subtask:%s", id) }

func planJobName(id string) string { return fmt.Sprintf("plan:%s", id) }

func reportJobName(id string) string { return fmt.Sprintf("report:%s", id) }

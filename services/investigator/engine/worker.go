// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/investigator-ai/investigator/services/investigator/dispatch"
	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
	"github.com/investigator-ai/investigator/services/investigator/observability"
	"github.com/investigator-ai/investigator/services/investigator/store"
	"github.com/investigator-ai/investigator/services/planner"
)

// scheduleTask puts one subtask on the queue, optionally recording the
// scheduling decision (first-time scheduling does, resume does not).
func (e *Engine) scheduleTask(ctx context.Context, task *store.Subtask, withDecision bool) {
	if withDecision {
		e.recordDecision(ctx, task.InvestigationID, store.DecisionTaskScheduled,
			fmt.Sprintf("scheduled %s: %s", task.TaskType, task.Description),
			map[string]any{"subtask_id": task.ID, "task_type": task.TaskType, "sequence": task.Sequence})
	}

	id := task.ID
	err := e.jobs.Enqueue(dispatch.Job{
		Name: subtaskJobName(id),
		Run:  func(jobCtx context.Context) { e.runSubtask(jobCtx, id) },
	})
	if err != nil {
		slog.Error("subtask enqueue failed", "subtask_id", id, "error", err)
	}
}

// schedulePhase dispatches every pending subtask of one phase group in
// execution order and reports how many it queued.
func (e *Engine) schedulePhase(ctx context.Context, investigationID string, phase lifecycle.Phase, withDecisions bool) int {
	tasks, err := e.store.Subtasks.ListPendingByPhase(ctx, investigationID, phase)
	if err != nil {
		slog.Error("pending subtask lookup failed", "investigation_id", investigationID, "phase", phase, "error", err)
		return 0
	}
	for i := range tasks {
		e.scheduleTask(ctx, &tasks[i], withDecisions)
	}
	return len(tasks)
}

// runSubtask is the job body for one subtask execution. It owns the full
// claim / execute / integrate / resolve cycle.
func (e *Engine) runSubtask(ctx context.Context, subtaskID string) {
	ctx, span := e.tracer.Start(ctx, "engine.run_subtask",
		trace.WithAttributes(attribute.String("subtask.id", subtaskID)))
	defer span.End()

	task, claimed, err := e.store.Subtasks.Claim(ctx, subtaskID)
	if err != nil {
		slog.Error("subtask claim failed", "subtask_id", subtaskID, "error", err)
		return
	}
	if !claimed {
		// Another execution won, or the task was abandoned since enqueue.
		return
	}
	span.SetAttributes(attribute.String("subtask.type", task.TaskType.String()))

	inv, err := e.store.Investigations.Get(ctx, task.InvestigationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Investigation deleted; its subtasks cascaded with it.
			return
		}
		slog.Error("investigation lookup failed", "subtask_id", subtaskID, "error", err)
		e.releaseTask(ctx, task)
		return
	}
	if inv.Status != lifecycle.StatusRunning {
		// Cooperative pause: hand the claim back without burning an
		// attempt, so a paused investigation keeps its retry budget.
		e.releaseTask(ctx, task)
		observability.RecordSubtask(task.TaskType.String(), observability.OutcomeReleased, 0)
		return
	}

	// Mark the investigation alive for the stuck sweep while the step runs.
	if err := e.store.Investigations.Touch(ctx, inv.ID); err != nil {
		slog.Warn("liveness touch failed", "investigation_id", inv.ID, "error", err)
	}

	start := time.Now()
	e.narrateTask(ctx, inv, task)

	result, err := e.executeTask(ctx, inv, task)
	if err != nil {
		e.resolveTaskError(ctx, inv, task, err, time.Since(start))
		return
	}

	if err := e.completeTask(ctx, inv, task, result); err != nil {
		slog.Error("result integration failed", "subtask_id", task.ID, "error", err)
		e.resolveTaskError(ctx, inv, task, err, time.Since(start))
		return
	}

	observability.RecordSubtask(task.TaskType.String(), observability.OutcomeCompleted, time.Since(start))
	e.afterResolution(ctx, task.InvestigationID)
}

func (e *Engine) releaseTask(ctx context.Context, task *store.Subtask) {
	if err := e.store.Subtasks.Release(ctx, task.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("subtask release failed", "subtask_id", task.ID, "error", err)
	}
}

// narrateTask streams a thought describing what the worker is about to
// do. Narration is best effort; a planner hiccup degrades to a canned
// line rather than failing the task.
func (e *Engine) narrateTask(ctx context.Context, inv *store.Investigation, task *store.Subtask) {
	thoughtType := store.ThoughtResearch
	if task.TaskType.PhaseGroup() == lifecycle.PhaseAnalyzing {
		thoughtType = store.ThoughtAnalysis
	}

	content, err := e.planner.Think(ctx, planner.ThoughtRequest{
		Topic:   inv.Title,
		Stage:   thoughtType,
		Subject: task.Description,
	})
	if err != nil || content == "" {
		content = "Working on: " + task.Description
	}
	e.recordThought(ctx, inv.ID, &task.ID, thoughtType, content)
}

// executeTask runs the planner call matching the task type.
func (e *Engine) executeTask(ctx context.Context, inv *store.Investigation, task *store.Subtask) (*planner.StepResult, error) {
	if task.TaskType == lifecycle.TaskDocumentAnalysis {
		return e.executeAnalysis(ctx, inv, task)
	}
	return e.executeStep(ctx, inv, task)
}

func (e *Engine) executeStep(ctx context.Context, inv *store.Investigation, task *store.Subtask) (*planner.StepResult, error) {
	digest, err := e.buildStepContext(ctx, inv)
	if err != nil {
		slog.Warn("step context assembly failed", "investigation_id", inv.ID, "error", err)
		digest = ""
	}
	return e.planner.ExecuteStep(ctx, planner.StepRequest{
		Topic:       inv.Title,
		TaskType:    task.TaskType.String(),
		Description: task.Description,
		Context:     digest,
	})
}

// resolveTaskError decides between retry and permanent failure. The
// attempt being resolved was already counted by the claim.
func (e *Engine) resolveTaskError(ctx context.Context, inv *store.Investigation, task *store.Subtask, taskErr error, elapsed time.Duration) {
	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.MaxTaskAttempts
	}

	if planner.IsRetryable(taskErr) && task.Attempts < maxAttempts {
		if err := e.store.Subtasks.Requeue(ctx, task.ID, taskErr.Error()); err != nil {
			slog.Error("subtask requeue failed", "subtask_id", task.ID, "error", err)
			return
		}
		delay := e.retryDelay(task.Attempts)
		e.recordDecision(ctx, inv.ID, store.DecisionRetryScheduled,
			fmt.Sprintf("attempt %d/%d failed, retrying in %s", task.Attempts, maxAttempts, delay),
			map[string]any{
				"subtask_id":    task.ID,
				"attempts":      task.Attempts,
				"delay_seconds": delay.Seconds(),
				"error":         taskErr.Error(),
			})
		e.broadcastError(inv.ID, taskErrorCode(taskErr), taskErr.Error(), true)
		observability.RecordSubtask(task.TaskType.String(), observability.OutcomeRetried, elapsed)
		slog.Warn("subtask retry scheduled", "subtask_id", task.ID,
			"attempts", task.Attempts, "max_attempts", maxAttempts, "delay", delay, "error", taskErr)

		id := task.ID
		err := e.jobs.EnqueueAfter(delay, dispatch.Job{
			Name: subtaskJobName(id),
			Run:  func(jobCtx context.Context) { e.runSubtask(jobCtx, id) },
		})
		if err != nil {
			slog.Error("retry enqueue failed", "subtask_id", id, "error", err)
		}
		return
	}

	if err := e.store.Subtasks.Fail(ctx, task.ID, taskErr.Error()); err != nil {
		slog.Error("subtask fail-mark failed", "subtask_id", task.ID, "error", err)
		return
	}
	e.broadcastError(inv.ID, taskErrorCode(taskErr), taskErr.Error(), false)
	observability.RecordSubtask(task.TaskType.String(), observability.OutcomeFailed, elapsed)
	slog.Error("subtask failed permanently", "subtask_id", task.ID,
		"attempts", task.Attempts, "error", taskErr)

	e.afterResolution(ctx, task.InvestigationID)
}

// retryDelay doubles per attempt: base, 2*base, 4*base...
func (e *Engine) retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 10 {
		shift = 10
	}
	return e.cfg.RetryBaseDelay * (1 << shift)
}

func taskErrorCode(err error) string {
	if planner.IsExternal(err) {
		return "planner_unavailable"
	}
	return "task_failed"
}

// afterResolution re-derives investigation-level state once a subtask has
// reached a terminal status: progress, phase advancement, and the final
// handoff to reporting.
func (e *Engine) afterResolution(ctx context.Context, investigationID string) {
	unlock := e.locks.lock(investigationID)
	defer unlock()

	inv, err := e.store.Investigations.Get(ctx, investigationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("post-resolution reload failed", "investigation_id", investigationID, "error", err)
		}
		return
	}

	progress, confidence, counts, err := e.refreshProgress(ctx, investigationID)
	if err != nil {
		slog.Error("progress refresh failed", "investigation_id", investigationID, "error", err)
		return
	}
	e.broadcastProgress(investigationID, progress, confidence, counts)

	if inv.Status != lifecycle.StatusRunning {
		// Paused or terminal; resume (or nothing) takes it from here.
		return
	}

	if inv.CurrentPhase == lifecycle.PhaseResearching {
		research, err := e.store.Subtasks.Counts(ctx, investigationID, lifecycle.PhaseResearching)
		if err != nil {
			slog.Error("phase tally failed", "investigation_id", investigationID, "error", err)
			return
		}
		if research.Resolved() {
			if err := e.store.Investigations.SetPhase(ctx, investigationID, lifecycle.PhaseAnalyzing); err != nil {
				slog.Error("phase advance failed", "investigation_id", investigationID, "error", err)
				return
			}
			inv.CurrentPhase = lifecycle.PhaseAnalyzing
			e.broadcastStatus(inv)
			n := e.schedulePhase(ctx, investigationID, lifecycle.PhaseAnalyzing, true)
			slog.Info("analysis phase started", "investigation_id", investigationID, "scheduled", n)
		}
	}

	// counts covers every phase, so pending analysis tasks created at plan
	// time keep this false until they resolve too.
	if counts.Total() > 0 && counts.Resolved() {
		e.finishWithReport(ctx, inv)
	}
}

// enqueueReporting re-queues the final reporting step, used when a resume
// lands on an investigation that paused during reporting.
func (e *Engine) enqueueReporting(id string) {
	err := e.jobs.Enqueue(dispatch.Job{
		Name: reportJobName(id),
		Run: func(jobCtx context.Context) {
			unlock := e.locks.lock(id)
			defer unlock()
			inv, err := e.store.Investigations.Get(jobCtx, id)
			if err != nil || inv.Status != lifecycle.StatusRunning {
				return
			}
			e.finishWithReport(jobCtx, inv)
		},
	})
	if err != nil {
		slog.Error("reporting enqueue failed", "investigation_id", id, "error", err)
	}
}

// EnqueueEvidenceAnalysis creates a document-analysis subtask bound to
// one evidence item and schedules it. Only running investigations accept
// new analysis work.
func (e *Engine) EnqueueEvidenceAnalysis(ctx context.Context, investigationID, evidenceID string) (*store.Subtask, error) {
	unlock := e.locks.lock(investigationID)
	defer unlock()

	inv, err := e.store.Investigations.Get(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	if inv.Status != lifecycle.StatusRunning {
		return nil, &lifecycle.TransitionError{Reason: fmt.Sprintf(
			"evidence analysis requires a running investigation (current status: %s)", inv.Status)}
	}

	evidence, err := e.store.Evidence.Get(ctx, investigationID, evidenceID)
	if err != nil {
		return nil, err
	}

	maxSeq, err := e.store.Subtasks.MaxSequence(ctx, investigationID)
	if err != nil {
		return nil, err
	}

	title := evidence.Title
	if title == "" {
		title = evidence.ID
	}
	task := store.Subtask{
		InvestigationID: investigationID,
		TaskType:        lifecycle.TaskDocumentAnalysis,
		Phase:           lifecycle.PhaseAnalyzing,
		Description:     "Analyze evidence: " + title,
		Sequence:        maxSeq + 1,
		Priority:        0,
		MaxAttempts:     e.cfg.MaxTaskAttempts,
		EvidenceID:      &evidence.ID,
	}
	if err := e.store.Subtasks.CreateBatch(ctx, []store.Subtask{task}); err != nil {
		return nil, err
	}
	e.scheduleTask(ctx, &task, true)
	return &task, nil
}

// publishDiscoveries pushes the realtime events a completed integration
// collected, investigation topic first, then the board mirror.
func (e *Engine) publishDiscoveries(investigationID string, disc discoveries) {
	for _, ev := range disc.investigation {
		e.hub.PublishInvestigation(investigationID, ev)
	}
	for _, ev := range disc.board {
		e.hub.PublishBoard(investigationID, ev)
	}
}

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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/investigator-ai/investigator/services/investigator/dispatch"
	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
	"github.com/investigator-ai/investigator/services/investigator/observability"
	"github.com/investigator-ai/investigator/services/investigator/store"
	"github.com/investigator-ai/investigator/services/planner"
)

// Start moves a pending investigation to running and schedules planning.
// Planning itself runs on the worker pool; the caller gets the running
// investigation back immediately.
func (e *Engine) Start(ctx context.Context, id string) (*store.Investigation, error) {
	ctx, span := e.tracer.Start(ctx, "engine.start", trace.WithAttributes(attribute.String("investigation.id", id)))
	defer span.End()

	unlock := e.locks.lock(id)
	defer unlock()

	inv, err := e.store.Investigations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res := lifecycle.CanStart(inv.Status); !res.Allowed {
		return nil, res.Error()
	}

	ok, err := e.store.Investigations.TransitionStatus(ctx, id, inv.Status, lifecycle.StatusRunning, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &lifecycle.TransitionError{Reason: "investigation is no longer pending"}
	}

	inv, err = e.store.Investigations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.broadcastStatus(inv)
	slog.Info("investigation started", "investigation_id", id, "title", inv.Title)

	e.enqueuePlanning(id)
	return inv, nil
}

// Pause stops new work from being claimed. Claimed subtasks finish and
// integrate; unclaimed ones yield at claim time.
func (e *Engine) Pause(ctx context.Context, id string) (*store.Investigation, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	inv, err := e.store.Investigations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res := lifecycle.CanPause(inv.Status); !res.Allowed {
		return nil, res.Error()
	}

	ok, err := e.store.Investigations.TransitionStatus(ctx, id, lifecycle.StatusRunning, lifecycle.StatusPaused, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &lifecycle.TransitionError{Reason: "investigation is no longer running"}
	}

	inv, err = e.store.Investigations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.broadcastStatus(inv)
	slog.Info("investigation paused", "investigation_id", id)
	return inv, nil
}

// Resume puts a paused investigation back to running and re-dispatches
// whatever its current phase still has pending.
func (e *Engine) Resume(ctx context.Context, id string) (*store.Investigation, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	inv, err := e.store.Investigations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res := lifecycle.CanResume(inv.Status); !res.Allowed {
		return nil, res.Error()
	}

	ok, err := e.store.Investigations.TransitionStatus(ctx, id, lifecycle.StatusPaused, lifecycle.StatusRunning, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &lifecycle.TransitionError{Reason: "investigation is no longer paused"}
	}

	inv, err = e.store.Investigations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.broadcastStatus(inv)

	switch inv.CurrentPhase {
	case lifecycle.PhasePlanning:
		// Paused before the plan landed; planning is idempotent.
		e.enqueuePlanning(id)
	case lifecycle.PhaseReporting:
		e.enqueueReporting(id)
	default:
		n := e.schedulePhase(ctx, id, inv.CurrentPhase, false)
		slog.Info("investigation resumed", "investigation_id", id, "phase", inv.CurrentPhase, "redispatched", n)
	}
	return inv, nil
}

// Redirect steers a running investigation toward a new focus: undone
// research is abandoned and fresh research subtasks for the focus jump
// the queue.
func (e *Engine) Redirect(ctx context.Context, id, focus, note string) (*store.Investigation, error) {
	ctx, span := e.tracer.Start(ctx, "engine.redirect", trace.WithAttributes(attribute.String("investigation.id", id)))
	defer span.End()

	unlock := e.locks.lock(id)
	defer unlock()

	inv, err := e.store.Investigations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res := lifecycle.CanRedirect(inv.Status); !res.Allowed {
		return nil, res.Error()
	}

	if _, err := e.store.Investigations.AppendPriorityAreas(ctx, id, []string{focus}); err != nil {
		return nil, err
	}

	pending, err := e.store.Subtasks.ListPendingByPhase(ctx, id, lifecycle.PhaseResearching)
	if err != nil {
		return nil, err
	}
	pendingTypes := make(map[string]lifecycle.TaskType, len(pending))
	for i := range pending {
		pendingTypes[pending[i].ID] = pending[i].TaskType
	}

	abandoned, err := e.store.Subtasks.AbandonPending(ctx, id, lifecycle.PhaseResearching)
	if err != nil {
		return nil, err
	}
	for _, subtaskID := range abandoned {
		e.recordDecision(ctx, id, store.DecisionTaskAbandoned,
			fmt.Sprintf("research redirected to %q", focus),
			map[string]any{"subtask_id": subtaskID})
		observability.RecordSubtask(pendingTypes[subtaskID].String(), observability.OutcomeAbandoned, 0)
	}

	tasks, err := e.synthesizeRedirectTasks(ctx, inv, focus)
	if err != nil {
		return nil, err
	}

	rationale := note
	if rationale == "" {
		rationale = fmt.Sprintf("user redirected focus to %q", focus)
	}
	e.recordDecision(ctx, id, store.DecisionRedirectApplied, rationale, map[string]any{
		"focus":           focus,
		"abandoned_count": len(abandoned),
		"new_subtasks":    len(tasks),
	})
	e.recordThought(ctx, id, nil, store.ThoughtDecision,
		fmt.Sprintf("Redirecting toward %q: dropped %d pending research tasks, queued %d new ones.", focus, len(abandoned), len(tasks)))

	for i := range tasks {
		e.scheduleTask(ctx, &tasks[i], true)
	}

	progress, confidence, counts, err := e.refreshProgress(ctx, id)
	if err != nil {
		return nil, err
	}
	e.broadcastProgress(id, progress, confidence, counts)

	inv, err = e.store.Investigations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.broadcastStatus(inv)
	slog.Info("investigation redirected", "investigation_id", id, "focus", focus,
		"abandoned", len(abandoned), "queued", len(tasks))
	return inv, nil
}

// Cancel abandons all outstanding work and fails the investigation with a
// user-attributed message.
func (e *Engine) Cancel(ctx context.Context, id string) (*store.Investigation, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	inv, err := e.store.Investigations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res := lifecycle.CanCancel(inv.Status); !res.Allowed {
		return nil, res.Error()
	}

	if _, err := e.store.Subtasks.AbandonPending(ctx, id, ""); err != nil {
		return nil, err
	}

	ok, err := e.store.Investigations.TransitionStatus(ctx, id, inv.Status, lifecycle.StatusFailed, "canceled by user")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &lifecycle.TransitionError{Reason: "investigation changed state during cancel"}
	}

	progress, confidence, counts, err := e.refreshProgress(ctx, id)
	if err != nil {
		return nil, err
	}
	e.broadcastProgress(id, progress, confidence, counts)

	inv, err = e.store.Investigations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.broadcastStatus(inv)
	observability.DefaultMetrics.InvestigationsResolved.WithLabelValues("canceled").Inc()
	slog.Info("investigation canceled", "investigation_id", id)
	return inv, nil
}

// FailInvestigation force-fails a non-terminal investigation, abandoning
// outstanding subtasks. The janitor's stuck sweep uses it with a timeout
// message; already-terminal investigations are left alone.
func (e *Engine) FailInvestigation(ctx context.Context, id, reason, decisionType string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	inv, err := e.store.Investigations.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status.Terminal() {
		return nil
	}

	if _, err := e.store.Subtasks.AbandonPending(ctx, id, ""); err != nil {
		return err
	}
	ok, err := e.store.Investigations.TransitionStatus(ctx, id, inv.Status, lifecycle.StatusFailed, reason)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if decisionType != "" {
		e.recordDecision(ctx, id, decisionType, reason, nil)
	}

	label := "failed"
	if decisionType == store.DecisionTimedOut {
		label = "timed_out"
	}
	observability.DefaultMetrics.InvestigationsResolved.WithLabelValues(label).Inc()

	inv, err = e.store.Investigations.Get(ctx, id)
	if err != nil {
		return err
	}
	e.broadcastStatus(inv)
	e.broadcastError(id, "investigation_failed", reason, false)
	slog.Warn("investigation failed", "investigation_id", id, "reason", reason)
	return nil
}

// =============================================================================
// Planning
// =============================================================================

func (e *Engine) enqueuePlanning(id string) {
	err := e.jobs.Enqueue(dispatch.Job{
		Name: planJobName(id),
		Run:  func(jobCtx context.Context) { e.runPlanning(jobCtx, id) },
	})
	if err != nil {
		// The investigation stays running with no plan; the stuck sweep
		// is the backstop if this is more than a momentary overload.
		slog.Error("planning enqueue failed", "investigation_id", id, "error", err)
	}
}

// runPlanning builds and persists the plan, then kicks off the research
// phase. Safe to run twice: an existing plan short-circuits into
// re-scheduling whatever research is still pending.
func (e *Engine) runPlanning(ctx context.Context, id string) {
	ctx, span := e.tracer.Start(ctx, "engine.plan", trace.WithAttributes(attribute.String("investigation.id", id)))
	defer span.End()

	unlock := e.locks.lock(id)
	defer unlock()

	inv, err := e.store.Investigations.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("planning aborted", "investigation_id", id, "error", err)
		}
		return
	}
	if inv.Status != lifecycle.StatusRunning {
		return
	}

	if _, err := e.store.Investigations.GetPlan(ctx, id); err == nil {
		e.advanceToResearch(ctx, inv, false)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Error("plan lookup failed", "investigation_id", id, "error", err)
		return
	}

	opening, thinkErr := e.planner.Think(ctx, planner.ThoughtRequest{
		Topic:   inv.Title,
		Stage:   store.ThoughtPlanning,
		Subject: inv.Description,
	})
	if thinkErr != nil || opening == "" {
		opening = "Planning investigation: " + inv.Title
	}
	e.recordThought(ctx, id, nil, store.ThoughtPlanning, opening)

	req := planner.PlanRequest{
		Topic:       inv.Title,
		Description: inv.Description,
		FocusAreas:  inv.FocusAreaList(),
		MaxTasks:    e.cfg.MaxTasksPerPlan,
	}
	plan, planErr := e.planner.PlanInvestigation(ctx, req)
	if planErr != nil {
		slog.Warn("planner unavailable, using fallback plan", "investigation_id", id, "error", planErr)
		plan = planner.FallbackPlan(req)
	}

	stored, taskCount, err := e.persistPlan(ctx, inv, plan)
	if err != nil {
		slog.Error("plan persistence failed", "investigation_id", id, "error", err)
		e.broadcastError(id, "internal_error", "failed to store investigation plan", false)
		return
	}

	e.recordDecision(ctx, id, store.DecisionPlanCreated, plan.Hypothesis, map[string]any{
		"plan_id":           stored.ID,
		"strategy":          plan.Strategy,
		"estimated_minutes": plan.EstimatedMinutes,
		"task_count":        taskCount,
		"fallback":          plan.Fallback,
	})
	if plan.Fallback {
		e.recordThought(ctx, id, nil, store.ThoughtObservation,
			"Planner unavailable; proceeding with a generic research plan.")
	}

	e.advanceToResearch(ctx, inv, true)
}

// advanceToResearch moves the phase pointer to researching and dispatches
// the pending research subtasks.
func (e *Engine) advanceToResearch(ctx context.Context, inv *store.Investigation, withDecisions bool) {
	if res := lifecycle.CanAdvancePhase(inv.CurrentPhase, lifecycle.PhaseResearching); res.Allowed {
		if err := e.store.Investigations.SetPhase(ctx, inv.ID, lifecycle.PhaseResearching); err != nil {
			slog.Error("phase advance failed", "investigation_id", inv.ID, "error", err)
			return
		}
	}

	fresh, err := e.store.Investigations.Get(ctx, inv.ID)
	if err != nil {
		slog.Error("investigation reload failed", "investigation_id", inv.ID, "error", err)
		return
	}
	e.broadcastStatus(fresh)

	n := e.schedulePhase(ctx, inv.ID, lifecycle.PhaseResearching, withDecisions)
	slog.Info("research phase started", "investigation_id", inv.ID, "scheduled", n)
}

// persistPlan writes the plan row and its subtasks in one transaction.
// Unknown task types from the model are dropped rather than guessed at.
func (e *Engine) persistPlan(ctx context.Context, inv *store.Investigation, plan *planner.Plan) (*store.Plan, int, error) {
	row := &store.Plan{
		InvestigationID:  inv.ID,
		Hypothesis:       plan.Hypothesis,
		Strategy:         plan.Strategy,
		EstimatedMinutes: plan.EstimatedMinutes,
		Fallback:         plan.Fallback,
	}
	if len(plan.Raw) > 0 {
		row.Raw = []byte(plan.Raw)
	}

	var tasks []store.Subtask
	seq := 0
	for _, planned := range plan.Tasks {
		taskType := lifecycle.TaskType(planned.Type)
		if !taskType.Valid() {
			slog.Warn("dropping planned task of unknown type",
				"investigation_id", inv.ID, "task_type", planned.Type)
			continue
		}
		seq++
		priority := planned.Priority
		if priority <= 0 {
			priority = 1
		}
		tasks = append(tasks, store.Subtask{
			InvestigationID: inv.ID,
			TaskType:        taskType,
			Phase:           taskType.PhaseGroup(),
			Description:     planned.Description,
			Sequence:        seq,
			Priority:        priority,
			MaxAttempts:     e.cfg.MaxTaskAttempts,
		})
	}

	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.Investigations.CreatePlan(ctx, row); err != nil {
			return err
		}
		for i := range tasks {
			tasks[i].PlanID = row.ID
		}
		return tx.Subtasks.CreateBatch(ctx, tasks)
	})
	if err != nil {
		return nil, 0, err
	}
	return row, len(tasks), nil
}

// synthesizeRedirectTasks creates the research subtasks a redirect queues
// for its new focus. They carry priority 0 so they run before any
// leftover plan work.
func (e *Engine) synthesizeRedirectTasks(ctx context.Context, inv *store.Investigation, focus string) ([]store.Subtask, error) {
	maxSeq, err := e.store.Subtasks.MaxSequence(ctx, inv.ID)
	if err != nil {
		return nil, err
	}

	tasks := []store.Subtask{
		{
			InvestigationID: inv.ID,
			TaskType:        lifecycle.TaskWebSearch,
			Phase:           lifecycle.PhaseResearching,
			Description:     fmt.Sprintf("Investigate %s in the context of %s", focus, inv.Title),
			Sequence:        maxSeq + 1,
			Priority:        0,
			MaxAttempts:     e.cfg.MaxTaskAttempts,
		},
		{
			InvestigationID: inv.ID,
			TaskType:        lifecycle.TaskEntityExtraction,
			Phase:           lifecycle.PhaseResearching,
			Description:     fmt.Sprintf("Identify entities connected to %s", focus),
			Sequence:        maxSeq + 2,
			Priority:        0,
			MaxAttempts:     e.cfg.MaxTaskAttempts,
		},
	}
	if err := e.store.Subtasks.CreateBatch(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

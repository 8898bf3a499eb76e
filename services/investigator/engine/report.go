// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
	"github.com/investigator-ai/investigator/services/investigator/observability"
	"github.com/investigator-ai/investigator/services/investigator/realtime"
	"github.com/investigator-ai/investigator/services/investigator/store"
	"github.com/investigator-ai/investigator/services/planner"
)

const (
	maxReportEntities      = 30
	maxReportRelationships = 30
	maxReportEvidence      = 20
	maxReportSummaries     = 10
	reportFindingsBudget   = 8000
)

// finishWithReport closes out a fully-resolved investigation: phase to
// reporting, write the report (fallback text if the planner is down),
// then complete. Callers hold the investigation lock.
func (e *Engine) finishWithReport(ctx context.Context, inv *store.Investigation) {
	if inv.CurrentPhase != lifecycle.PhaseReporting {
		if res := lifecycle.CanAdvancePhase(inv.CurrentPhase, lifecycle.PhaseReporting); !res.Allowed {
			slog.Error("reporting phase rejected", "investigation_id", inv.ID, "reason", res.Reason)
			return
		}
		if err := e.store.Investigations.SetPhase(ctx, inv.ID, lifecycle.PhaseReporting); err != nil {
			slog.Error("phase advance failed", "investigation_id", inv.ID, "error", err)
			return
		}
		inv.CurrentPhase = lifecycle.PhaseReporting
		e.broadcastStatus(inv)
	}

	report, err := e.composeReport(ctx, inv, "full", true)
	if err != nil {
		slog.Error("report assembly failed", "investigation_id", inv.ID, "error", err)
		return
	}
	if err := e.store.Reports.Create(ctx, report); err != nil {
		slog.Error("report persistence failed", "investigation_id", inv.ID, "error", err)
		return
	}

	e.recordDecision(ctx, inv.ID, store.DecisionReportGenerated, report.Title, map[string]any{
		"report_id":    report.ID,
		"version":      report.Version,
		"generated_by": report.GeneratedBy,
	})
	e.hub.PublishInvestigation(inv.ID, realtime.NewEvent(realtime.EventReportReady, inv.ID, map[string]any{
		"report_id": report.ID,
		"version":   report.Version,
		"title":     report.Title,
	}))

	ok, err := e.store.Investigations.TransitionStatus(ctx, inv.ID, lifecycle.StatusRunning, lifecycle.StatusCompleted, "")
	if err != nil {
		slog.Error("completion transition failed", "investigation_id", inv.ID, "error", err)
		return
	}
	if !ok {
		slog.Warn("investigation no longer running at completion", "investigation_id", inv.ID)
		return
	}
	observability.DefaultMetrics.InvestigationsResolved.WithLabelValues("completed").Inc()

	fresh, err := e.store.Investigations.Get(ctx, inv.ID)
	if err != nil {
		return
	}
	e.broadcastStatus(fresh)
	if progress, confidence, counts, err := e.refreshProgress(ctx, inv.ID); err == nil {
		e.broadcastProgress(inv.ID, progress, confidence, counts)
	}
	slog.Info("investigation completed", "investigation_id", inv.ID,
		"report_version", report.Version, "generated_by", report.GeneratedBy)
}

// RegenerateReport produces a fresh report version on demand. Unlike the
// automatic end-of-run report there is no fallback here: a planner outage
// surfaces to the caller.
func (e *Engine) RegenerateReport(ctx context.Context, investigationID, reportType string) (*store.Report, error) {
	unlock := e.locks.lock(investigationID)
	defer unlock()

	inv, err := e.store.Investigations.Get(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	if inv.Status != lifecycle.StatusCompleted {
		return nil, &lifecycle.TransitionError{Reason: fmt.Sprintf(
			"reports regenerate only for completed investigations (current status: %s)", inv.Status)}
	}
	if reportType == "" {
		reportType = "full"
	}

	report, err := e.composeReport(ctx, inv, reportType, false)
	if err != nil {
		return nil, err
	}
	if err := e.store.Reports.Create(ctx, report); err != nil {
		return nil, err
	}

	e.recordDecision(ctx, investigationID, store.DecisionReportGenerated, report.Title, map[string]any{
		"report_id":    report.ID,
		"version":      report.Version,
		"generated_by": report.GeneratedBy,
		"on_demand":    true,
	})
	e.hub.PublishInvestigation(investigationID, realtime.NewEvent(realtime.EventReportReady, investigationID, map[string]any{
		"report_id": report.ID,
		"version":   report.Version,
		"title":     report.Title,
	}))
	return report, nil
}

// composeReport drafts the report content. allowFallback switches between
// the automatic path (planner outage degrades to deterministic markdown)
// and the on-demand path (outage propagates).
func (e *Engine) composeReport(ctx context.Context, inv *store.Investigation, reportType string, allowFallback bool) (*store.Report, error) {
	findings, err := e.buildFindings(ctx, inv)
	if err != nil {
		return nil, err
	}

	hypothesis := ""
	if plan, planErr := e.store.Investigations.GetPlan(ctx, inv.ID); planErr == nil {
		hypothesis = plan.Hypothesis
	}

	generatedBy := e.cfg.Backend
	draft, draftErr := e.planner.GenerateReport(ctx, planner.ReportRequest{
		Topic:      inv.Title,
		Hypothesis: hypothesis,
		ReportType: reportType,
		Findings:   findings,
	})
	if draftErr != nil {
		if !allowFallback {
			return nil, draftErr
		}
		slog.Warn("report generation fell back", "investigation_id", inv.ID, "error", draftErr)
		draft = e.fallbackReport(inv, hypothesis, findings)
		generatedBy = "fallback"
	}

	title := draft.Title
	if strings.TrimSpace(title) == "" {
		title = "Investigation Report: " + inv.Title
	}
	return &store.Report{
		InvestigationID: inv.ID,
		ReportType:      reportType,
		Title:           title,
		Content:         draft.Content,
		Format:          "markdown",
		GeneratedBy:     generatedBy,
	}, nil
}

// buildFindings flattens the investigation's graph into the digest the
// report prompt consumes.
func (e *Engine) buildFindings(ctx context.Context, inv *store.Investigation) (string, error) {
	var b strings.Builder

	entities, err := e.store.Graph.ListEntities(ctx, inv.ID, "", "")
	if err != nil {
		return "", err
	}
	names := make(map[string]string, len(entities))
	for i := range entities {
		names[entities[i].ID] = entities[i].Name
	}
	if len(entities) > 0 {
		b.WriteString("## Entities\n")
		for i := range entities {
			if i == maxReportEntities {
				break
			}
			ent := &entities[i]
			fmt.Fprintf(&b, "- %s (%s, confidence %.2f, %d sources)\n",
				ent.Name, ent.EntityType, ent.Confidence, ent.SourceCount)
		}
	}

	relationships, err := e.store.Graph.ListRelationships(ctx, inv.ID, "")
	if err != nil {
		return "", err
	}
	if len(relationships) > 0 {
		b.WriteString("\n## Relationships\n")
		for i := range relationships {
			if i == maxReportRelationships {
				break
			}
			rel := &relationships[i]
			source := names[rel.SourceEntityID]
			target := names[rel.TargetEntityID]
			if source == "" || target == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s %s %s (confidence %.2f)\n",
				source, rel.RelationshipType, target, rel.Confidence)
		}
	}

	evidence, err := e.store.Evidence.ListByInvestigation(ctx, inv.ID, nil)
	if err != nil {
		return "", err
	}
	if len(evidence) > 0 {
		b.WriteString("\n## Evidence\n")
		for i := range evidence {
			if i == maxReportEvidence {
				break
			}
			item := &evidence[i]
			title := item.Title
			if title == "" {
				title = "untitled"
			}
			fmt.Fprintf(&b, "- %s (%s, reliability %.2f)\n", title, item.EvidenceType, item.Reliability)
		}
	}

	completed, err := e.store.Subtasks.ListByInvestigation(ctx, inv.ID, lifecycle.TaskCompleted)
	if err != nil {
		return "", err
	}
	wroteHeader := false
	written := 0
	for i := range completed {
		if written == maxReportSummaries {
			break
		}
		if len(completed[i].Result) == 0 {
			continue
		}
		var result planner.StepResult
		if err := json.Unmarshal(completed[i].Result, &result); err != nil || result.Summary == "" {
			continue
		}
		if !wroteHeader {
			b.WriteString("\n## Step findings\n")
			wroteHeader = true
		}
		fmt.Fprintf(&b, "- %s\n", result.Summary)
		written++
	}

	return planner.FitContext(b.String(), reportFindingsBudget), nil
}

// fallbackReport writes a plain deterministic markdown report from the
// digest when no model is reachable.
func (e *Engine) fallbackReport(inv *store.Investigation, hypothesis, findings string) *planner.ReportDraft {
	var b strings.Builder
	fmt.Fprintf(&b, "# Investigation Report: %s\n\n", inv.Title)
	if inv.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", inv.Description)
	}
	if hypothesis != "" {
		fmt.Fprintf(&b, "## Hypothesis\n\n%s\n\n", hypothesis)
	}
	if strings.TrimSpace(findings) != "" {
		b.WriteString(findings)
		b.WriteString("\n")
	} else {
		b.WriteString("## Findings\n\nNo findings were recorded.\n")
	}
	fmt.Fprintf(&b, "\n## Status\n\nResearch finished at %d%% progress with aggregate confidence %.2f.\n",
		inv.Progress, inv.Confidence)

	return &planner.ReportDraft{
		Title:   "Investigation Report: " + inv.Title,
		Content: b.String(),
	}
}

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

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
	"github.com/investigator-ai/investigator/services/investigator/store"
	"github.com/investigator-ai/investigator/services/planner"
)

// maxAnalysisBatch bounds how many evidence items one unbound
// document-analysis subtask reads. More evidence means more analysis
// subtasks, not one unbounded task.
const maxAnalysisBatch = 5

// executeAnalysis runs a document-analysis subtask: the bound evidence
// item when the task carries one, otherwise a batch of not-yet-analyzed
// evidence. With nothing to read it degrades to a regular research step.
func (e *Engine) executeAnalysis(ctx context.Context, inv *store.Investigation, task *store.Subtask) (*planner.StepResult, error) {
	targets, err := e.analysisTargets(ctx, inv.ID, task)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return e.executeStep(ctx, inv, task)
	}

	var findings []string
	var entities []planner.FoundEntity
	var reliabilities []float64

	for i := range targets {
		item := &targets[i]
		analysis, err := e.planner.AnalyzeEvidence(ctx, planner.EvidenceRequest{
			Topic:     inv.Title,
			Title:     item.Title,
			Content:   item.Content,
			SourceURL: item.SourceURL,
		})
		if err != nil {
			return nil, err
		}

		raw := []byte(analysis.Raw)
		if len(raw) == 0 {
			raw, err = encodeJSON(analysis)
			if err != nil {
				return nil, err
			}
		}
		if _, err := e.store.Evidence.SetAnalysis(ctx, inv.ID, item.ID, raw, clamp01(analysis.Reliability)); err != nil {
			return nil, err
		}

		if analysis.Summary != "" {
			findings = append(findings, analysis.Summary)
		}
		findings = append(findings, analysis.KeyFindings...)
		entities = append(entities, analysis.Entities...)
		reliabilities = append(reliabilities, clamp01(analysis.Reliability))
	}

	return &planner.StepResult{
		Summary:    planner.JoinFindings(findings),
		Entities:   entities,
		Confidence: lifecycle.AggregateConfidence(reliabilities),
	}, nil
}

// analysisTargets picks what a document-analysis subtask should read.
func (e *Engine) analysisTargets(ctx context.Context, investigationID string, task *store.Subtask) ([]store.Evidence, error) {
	if task.EvidenceID != nil {
		item, err := e.store.Evidence.Get(ctx, investigationID, *task.EvidenceID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Evidence deleted since the task was queued.
				return nil, nil
			}
			return nil, err
		}
		return []store.Evidence{*item}, nil
	}

	unanalyzed := false
	items, err := e.store.Evidence.ListByInvestigation(ctx, investigationID, &unanalyzed)
	if err != nil {
		return nil, err
	}
	if len(items) > maxAnalysisBatch {
		items = items[:maxAnalysisBatch]
	}
	return items, nil
}

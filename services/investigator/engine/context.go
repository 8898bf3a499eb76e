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
	"errors"
	"fmt"
	"strings"

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
	"github.com/investigator-ai/investigator/services/investigator/store"
	"github.com/investigator-ai/investigator/services/planner"
)

const (
	maxContextEntities  = 15
	maxContextSummaries = 3
)

// buildStepContext assembles the digest handed to the planner with each
// step: the working hypothesis, any redirected priorities, the entities
// known so far, and the most recent step summaries, trimmed to the
// configured budget.
func (e *Engine) buildStepContext(ctx context.Context, inv *store.Investigation) (string, error) {
	var b strings.Builder

	plan, err := e.store.Investigations.GetPlan(ctx, inv.ID)
	if err == nil {
		if plan.Hypothesis != "" {
			fmt.Fprintf(&b, "Hypothesis: %s\n", plan.Hypothesis)
		}
		if plan.Strategy != "" {
			fmt.Fprintf(&b, "Strategy: %s\n", plan.Strategy)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	if areas := inv.PriorityAreaList(); len(areas) > 0 {
		fmt.Fprintf(&b, "Priority areas: %s\n", strings.Join(areas, ", "))
	}

	entities, err := e.store.Graph.ListEntities(ctx, inv.ID, "", "")
	if err != nil {
		return "", err
	}
	if len(entities) > 0 {
		b.WriteString("Known entities:\n")
		for i := range entities {
			if i == maxContextEntities {
				break
			}
			fmt.Fprintf(&b, "- %s (%s)\n", entities[i].Name, entities[i].EntityType)
		}
	}

	completed, err := e.store.Subtasks.ListByInvestigation(ctx, inv.ID, lifecycle.TaskCompleted)
	if err != nil {
		return "", err
	}
	if len(completed) > maxContextSummaries {
		completed = completed[len(completed)-maxContextSummaries:]
	}
	wroteHeader := false
	for i := range completed {
		if len(completed[i].Result) == 0 {
			continue
		}
		var result planner.StepResult
		if err := json.Unmarshal(completed[i].Result, &result); err != nil || result.Summary == "" {
			continue
		}
		if !wroteHeader {
			b.WriteString("Recent findings:\n")
			wroteHeader = true
		}
		fmt.Fprintf(&b, "- %s\n", result.Summary)
	}

	return planner.FitContext(b.String(), e.cfg.ContextBudget), nil
}

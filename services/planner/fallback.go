// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"fmt"
	"strings"
)

// FallbackPlan builds a generic four-step research plan for topics where
// the model produced no usable breakdown. It keeps the investigation
// moving: broad search, entity identification, source reading, connection
// mapping.
func FallbackPlan(req PlanRequest) *Plan {
	hypothesis := fmt.Sprintf("There is publicly documented information about %s worth mapping.", req.Topic)

	focus := req.Topic
	if len(req.FocusAreas) > 0 {
		focus = fmt.Sprintf("%s (focus: %s)", req.Topic, strings.Join(req.FocusAreas, ", "))
	}

	return &Plan{
		Hypothesis:       hypothesis,
		Strategy:         "Generic breadth-first research: establish background, identify actors, read sources, map connections.",
		EstimatedMinutes: 20,
		Fallback:         true,
		Tasks: []PlannedTask{
			{
				Type:        TaskWebSearch,
				Description: fmt.Sprintf("Gather background information on %s", focus),
				Priority:    1,
			},
			{
				Type:        TaskEntityExtraction,
				Description: fmt.Sprintf("Identify the key people, organizations, and places involved in %s", req.Topic),
				Priority:    2,
			},
			{
				Type:        TaskDocumentAnalysis,
				Description: "Read the most significant sources collected so far and extract findings",
				Priority:    3,
			},
			{
				Type:        TaskRelationshipMapping,
				Description: "Map how the discovered entities are connected",
				Priority:    4,
			},
		},
	}
}

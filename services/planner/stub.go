// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Stub is a deterministic Planner for tests and offline development.
//
// It produces the same discoveries for the same inputs, never touches the
// network, and can inject transient failures to exercise retry paths.
// Every step reports the shared "<Topic> Network" entity (once under an
// alias), so multi-step investigations exercise the entity merge path by
// construction.
type Stub struct {
	// PlanTaskCount is how many tasks PlanInvestigation emits. Default 4,
	// one of each task type.
	PlanTaskCount int

	// FailStepsBefore makes the first N ExecuteStep calls fail with a
	// retryable external error. Zero disables failure injection.
	FailStepsBefore int

	mu        sync.Mutex
	stepCalls int
}

// NewStub returns a Stub with default settings.
func NewStub() *Stub {
	return &Stub{PlanTaskCount: 4}
}

var _ Planner = (*Stub)(nil)

// StepCalls reports how many times ExecuteStep has been invoked,
// including injected failures.
func (s *Stub) StepCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepCalls
}

func (s *Stub) PlanInvestigation(_ context.Context, req PlanRequest) (*Plan, error) {
	count := s.PlanTaskCount
	if count <= 0 {
		count = 4
	}
	if req.MaxTasks > 0 && req.MaxTasks < count {
		count = req.MaxTasks
	}

	// Discovery types first so the phase machine always has researching
	// work before analyzing work.
	types := []string{TaskWebSearch, TaskEntityExtraction, TaskDocumentAnalysis, TaskRelationshipMapping}
	tasks := make([]PlannedTask, 0, count)
	for i := 0; i < count; i++ {
		tasks = append(tasks, PlannedTask{
			Type:        types[i%len(types)],
			Description: fmt.Sprintf("Step %d of the %s investigation", i+1, req.Topic),
			Priority:    i + 1,
		})
	}

	plan := &Plan{
		Hypothesis:       fmt.Sprintf("%s involves a small network of connected actors.", req.Topic),
		Strategy:         "Deterministic stub plan",
		EstimatedMinutes: 5 * count,
		Tasks:            tasks,
	}
	plan.Raw, _ = json.Marshal(plan)
	return plan, nil
}

func (s *Stub) ExecuteStep(_ context.Context, req StepRequest) (*StepResult, error) {
	s.mu.Lock()
	s.stepCalls++
	call := s.stepCalls
	inject := s.FailStepsBefore
	s.mu.Unlock()

	if call <= inject {
		return nil, &ExternalServiceError{
			Service:   "stub",
			Message:   fmt.Sprintf("injected failure %d", call),
			Retryable: true,
		}
	}

	topic := strings.TrimSpace(req.Topic)
	network := FoundEntity{
		Name:        fmt.Sprintf("%s Network", topic),
		EntityType:  "organization",
		Description: fmt.Sprintf("Central group behind %s", req.Topic),
		Aliases:     []string{fmt.Sprintf("The %s Group", topic)},
		Confidence:  0.8,
	}
	finding := FoundEntity{
		Name:        fmt.Sprintf("Finding: %s", req.Description),
		EntityType:  "document",
		Description: fmt.Sprintf("Result of %s", req.Description),
		Confidence:  0.6,
	}

	evidenceType := "record"
	if req.TaskType == TaskWebSearch {
		evidenceType = "webpage"
	}

	result := &StepResult{
		Summary: fmt.Sprintf("Executed %s: %s", req.TaskType, req.Description),
		Entities: []FoundEntity{
			network,
			finding,
		},
		Relationships: []FoundRelationship{
			{
				SourceName:       finding.Name,
				TargetName:       network.Name,
				RelationshipType: "related_to",
				Description:      "Stub-discovered connection",
				Confidence:       0.7,
			},
		},
		Evidence: []FoundEvidence{
			{
				Title:        fmt.Sprintf("Notes from %s", req.TaskType),
				EvidenceType: evidenceType,
				Content:      fmt.Sprintf("Evidence gathered while working on: %s", req.Description),
				Reliability:  0.7,
				EntityNames:  []string{network.Name},
			},
		},
		Confidence: 0.75,
		NextSteps:  []string{fmt.Sprintf("Verify the role of %s", network.Name)},
	}
	result.Raw, _ = json.Marshal(result)
	return result, nil
}

func (s *Stub) AnalyzeEvidence(_ context.Context, req EvidenceRequest) (*EvidenceAnalysis, error) {
	firstLine := req.Content
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	if len(firstLine) > 120 {
		firstLine = firstLine[:120]
	}

	return &EvidenceAnalysis{
		Summary: fmt.Sprintf("Reviewed %q (%d characters) for %s", req.Title, len(req.Content), req.Topic),
		KeyFindings: []string{
			fmt.Sprintf("Document opens with: %s", strings.TrimSpace(firstLine)),
		},
		Entities: []FoundEntity{
			{
				Name:        fmt.Sprintf("%s Network", strings.TrimSpace(req.Topic)),
				EntityType:  "organization",
				Description: "Mentioned in analyzed document",
				Confidence:  0.65,
			},
		},
		Reliability: 0.8,
	}, nil
}

func (s *Stub) GenerateReport(_ context.Context, req ReportRequest) (*ReportDraft, error) {
	title := fmt.Sprintf("Investigation Report: %s", req.Topic)
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if req.Hypothesis != "" {
		fmt.Fprintf(&b, "## Hypothesis\n\n%s\n\n", req.Hypothesis)
	}
	fmt.Fprintf(&b, "## Findings\n\n%s\n", req.Findings)

	return &ReportDraft{
		Title:   title,
		Content: b.String(),
	}, nil
}

func (s *Stub) Think(_ context.Context, req ThoughtRequest) (string, error) {
	subject := req.Subject
	if subject == "" {
		subject = req.Topic
	}
	return fmt.Sprintf("I am %s, currently focused on %s.", req.Stage, subject), nil
}

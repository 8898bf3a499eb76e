// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lifecycle contains the pure state machine for investigations.
//
// Everything in this package is side-effect free: status and phase types,
// transition guards, and progress arithmetic. Persistence and event
// broadcasting live elsewhere (store, engine); handlers and workers call
// these guards before mutating anything so that every transition rule is
// written down exactly once.
package lifecycle

// =============================================================================
// Investigation Status
// =============================================================================

// Status is the coarse operational state of an investigation.
//
// The status graph:
//
//	pending -> running -> completed
//	              |   \-> failed
//	              v
//	           paused -> running (resume)
//
// completed and failed are terminal. Cancellation is modeled as a
// transition to failed with an explanatory status message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// String returns the wire form of the status.
func (s Status) String() string { return string(s) }

// =============================================================================
// Investigation Phase
// =============================================================================

// Phase is the research stage within a running investigation.
//
// Phases advance monotonically: planning -> researching -> analyzing ->
// reporting. Pausing freezes the phase; resuming continues from it. A
// redirect can add work to the researching phase but never moves the
// phase pointer backward.
type Phase string

const (
	PhasePlanning    Phase = "planning"
	PhaseResearching Phase = "researching"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseReporting   Phase = "reporting"
)

// phaseOrder maps each phase to its position in the pipeline.
var phaseOrder = map[Phase]int{
	PhasePlanning:    0,
	PhaseResearching: 1,
	PhaseAnalyzing:   2,
	PhaseReporting:   3,
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Before reports whether p comes before other in the pipeline.
// Unknown phases compare as earliest.
func (p Phase) Before(other Phase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

// Next returns the phase that follows p. The final phase returns itself.
func (p Phase) Next() Phase {
	switch p {
	case PhasePlanning:
		return PhaseResearching
	case PhaseResearching:
		return PhaseAnalyzing
	case PhaseAnalyzing:
		return PhaseReporting
	default:
		return PhaseReporting
	}
}

// String returns the wire form of the phase.
func (p Phase) String() string { return string(p) }

// =============================================================================
// Subtask Status and Type
// =============================================================================

// TaskStatus is the execution state of a single research subtask.
//
// pending -> in_progress -> completed | failed. A pending task may also be
// marked abandoned (by a redirect or cancellation); abandoned tasks never
// run and are excluded from progress math.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskAbandoned  TaskStatus = "abandoned"
)

// Valid reports whether ts is one of the known task statuses.
func (ts TaskStatus) Valid() bool {
	switch ts {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed, TaskAbandoned:
		return true
	}
	return false
}

// Resolved reports whether the task needs no further work.
func (ts TaskStatus) Resolved() bool {
	return ts == TaskCompleted || ts == TaskFailed || ts == TaskAbandoned
}

// String returns the wire form of the task status.
func (ts TaskStatus) String() string { return string(ts) }

// TaskType classifies what kind of research step a subtask performs.
// The planner emits these; the engine maps them onto prompts and onto the
// phase group that schedules them.
type TaskType string

const (
	TaskWebSearch           TaskType = "web_search"
	TaskDocumentAnalysis    TaskType = "document_analysis"
	TaskEntityExtraction    TaskType = "entity_extraction"
	TaskRelationshipMapping TaskType = "relationship_mapping"
)

// Valid reports whether tt is one of the known task types.
func (tt TaskType) Valid() bool {
	switch tt {
	case TaskWebSearch, TaskDocumentAnalysis, TaskEntityExtraction, TaskRelationshipMapping:
		return true
	}
	return false
}

// PhaseGroup returns the phase in which subtasks of this type run.
// Discovery work (web_search, entity_extraction) belongs to researching;
// work over already-collected material (document_analysis,
// relationship_mapping) belongs to analyzing.
func (tt TaskType) PhaseGroup() Phase {
	switch tt {
	case TaskDocumentAnalysis, TaskRelationshipMapping:
		return PhaseAnalyzing
	default:
		return PhaseResearching
	}
}

// String returns the wire form of the task type.
func (tt TaskType) String() string { return string(tt) }

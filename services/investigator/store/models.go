// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
)

// Base carries the UUID primary key and creation timestamp shared by
// every row. IDs are assigned in BeforeCreate so callers may pre-set them
// (tests, imports) or leave them empty.
type Base struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate assigns a UUID when none was provided.
func (b *Base) BeforeCreate(_ *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// =============================================================================
// Investigations
// =============================================================================

// Investigation is the root aggregate: one research question, its plan,
// its discovered graph, and its lifecycle state. Confidence is derived
// from completed subtasks and recomputed whenever progress changes.
type Investigation struct {
	Base
	Title         string           `gorm:"not null" json:"title"`
	Description   string           `json:"description"`
	Status        lifecycle.Status `gorm:"not null;default:'pending';index" json:"status"`
	CurrentPhase  lifecycle.Phase  `gorm:"not null;default:'planning'" json:"current_phase"`
	Progress      int              `gorm:"not null;default:0" json:"progress"`
	Confidence    float64          `gorm:"not null;default:0" json:"confidence"`
	FocusAreas    datatypes.JSON   `json:"focus_areas,omitempty"`
	PriorityAreas datatypes.JSON   `json:"priority_areas,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	OwnerID       string           `gorm:"index" json:"owner_id"`
	UpdatedAt     time.Time        `json:"updated_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

func (Investigation) TableName() string { return "investigations" }

// Plan is the breakdown the planner produced for an investigation.
// One per investigation; redirects adjust subtasks, not the plan.
type Plan struct {
	Base
	InvestigationID  string         `gorm:"not null;uniqueIndex" json:"investigation_id"`
	Hypothesis       string         `json:"hypothesis"`
	Strategy         string         `json:"strategy"`
	EstimatedMinutes int            `gorm:"not null;default:0" json:"estimated_minutes"`
	Fallback         bool           `gorm:"not null;default:false" json:"fallback"`
	Raw              datatypes.JSON `json:"-"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (Plan) TableName() string { return "investigation_plans" }

// Subtask is one executable research step. Workers claim pending subtasks
// atomically; Attempts counts claims, not completions. Phase is the group
// the task runs in (researching or analyzing), derived from its type.
type Subtask struct {
	Base
	InvestigationID string               `gorm:"not null;index:idx_subtask_inv_status" json:"investigation_id"`
	PlanID          string               `json:"plan_id,omitempty"`
	ParentSubtaskID *string              `json:"parent_subtask_id,omitempty"`
	TaskType        lifecycle.TaskType   `gorm:"not null" json:"task_type"`
	Phase           lifecycle.Phase      `gorm:"not null;default:'researching'" json:"phase"`
	Description     string               `gorm:"not null" json:"description"`
	Sequence        int                  `gorm:"not null;default:0" json:"sequence"`
	Priority        int                  `gorm:"not null;default:1" json:"priority"`
	Status          lifecycle.TaskStatus `gorm:"not null;default:'pending';index:idx_subtask_inv_status" json:"status"`
	Attempts        int                  `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts     int                  `gorm:"not null;default:3" json:"max_attempts"`
	EvidenceID      *string              `json:"evidence_id,omitempty"`
	Result          datatypes.JSON       `json:"result,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
	Confidence      float64              `gorm:"not null;default:0" json:"confidence"`
	UpdatedAt       time.Time            `json:"updated_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
}

func (Subtask) TableName() string { return "subtasks" }

// =============================================================================
// Knowledge Graph
// =============================================================================

// Entity is a merged node in the investigation graph. Identity is
// (investigation, normalized name, type); repeated discoveries land as
// mentions on the same row. Confidence and SourceCount are derived from
// mentions and recomputed on every merge. Aliases holds other surface
// forms the entity was seen under.
type Entity struct {
	Base
	InvestigationID string         `gorm:"not null;index:idx_entity_identity,unique" json:"investigation_id"`
	Name            string         `gorm:"not null" json:"name"`
	NormalizedName  string         `gorm:"not null;index:idx_entity_identity,unique" json:"normalized_name"`
	EntityType      string         `gorm:"not null;index:idx_entity_identity,unique" json:"entity_type"`
	Description     string         `json:"description"`
	Aliases         datatypes.JSON `json:"aliases,omitempty"`
	Attributes      datatypes.JSON `json:"attributes,omitempty"`
	Confidence      float64        `gorm:"not null;default:0" json:"confidence"`
	SourceCount     int            `gorm:"not null;default:0" json:"source_count"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (Entity) TableName() string { return "entities" }

// EntityMention records one sighting of an entity. Mentions from subtasks
// are unique per (entity, subtask), which is what makes merging idempotent
// when a step is retried; manual mentions carry a NULL subtask and may
// repeat.
type EntityMention struct {
	Base
	EntityID   string  `gorm:"not null;index" json:"entity_id"`
	SubtaskID  *string `json:"subtask_id,omitempty"`
	Surface    string  `json:"surface"`
	Confidence float64 `gorm:"not null;default:0" json:"confidence"`
}

func (EntityMention) TableName() string { return "entity_mentions" }

// Relationship is a typed, directed edge between two entities of the same
// investigation. The (source, target, type) triple is unique; rediscovery
// refreshes confidence instead of duplicating.
type Relationship struct {
	Base
	InvestigationID  string         `gorm:"not null;index" json:"investigation_id"`
	SourceEntityID   string         `gorm:"not null;index:idx_rel_identity,unique" json:"source_entity_id"`
	TargetEntityID   string         `gorm:"not null;index:idx_rel_identity,unique" json:"target_entity_id"`
	RelationshipType string         `gorm:"not null;index:idx_rel_identity,unique" json:"relationship_type"`
	Description      string         `json:"description"`
	Attributes       datatypes.JSON `json:"attributes,omitempty"`
	Confidence       float64        `gorm:"not null;default:0" json:"confidence"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (Relationship) TableName() string { return "relationships" }

// =============================================================================
// Evidence
// =============================================================================

// Evidence is a source artifact with provenance, linkable to entities and
// relationships in the same investigation. Analysis is set once a
// document-analysis pass has read it.
type Evidence struct {
	Base
	InvestigationID string         `gorm:"not null;index" json:"investigation_id"`
	SubtaskID       *string        `json:"subtask_id,omitempty"`
	EvidenceType    string         `gorm:"not null;default:'other'" json:"evidence_type"`
	Title           string         `json:"title"`
	Content         string         `gorm:"not null" json:"content"`
	SourceURL       string         `json:"source_url,omitempty"`
	Reliability     float64        `gorm:"not null;default:0" json:"reliability"`
	Analysis        datatypes.JSON `json:"analysis,omitempty"`
	Metadata        datatypes.JSON `json:"metadata,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (Evidence) TableName() string { return "evidence" }

// Analyzed reports whether a document-analysis pass has read this item.
func (e *Evidence) Analyzed() bool { return len(e.Analysis) > 0 }

// EvidenceEntityLink ties evidence to an entity with a relevance score,
// a support polarity (supports, contradicts, neutral), and an optional
// supporting quote.
type EvidenceEntityLink struct {
	Base
	EvidenceID string  `gorm:"not null;index:idx_ev_entity,unique" json:"evidence_id"`
	EntityID   string  `gorm:"not null;index:idx_ev_entity,unique" json:"entity_id"`
	Relevance  float64 `gorm:"not null;default:0" json:"relevance"`
	Support    string  `gorm:"not null;default:'neutral'" json:"support"`
	Quote      string  `json:"quote,omitempty"`
}

func (EvidenceEntityLink) TableName() string { return "evidence_entity_links" }

// EvidenceRelationshipLink ties evidence to a relationship it bears on.
type EvidenceRelationshipLink struct {
	Base
	EvidenceID     string  `gorm:"not null;index:idx_ev_rel,unique" json:"evidence_id"`
	RelationshipID string  `gorm:"not null;index:idx_ev_rel,unique" json:"relationship_id"`
	Relevance      float64 `gorm:"not null;default:0" json:"relevance"`
	Support        string  `gorm:"not null;default:'neutral'" json:"support"`
	Quote          string  `json:"quote,omitempty"`
}

func (EvidenceRelationshipLink) TableName() string { return "evidence_relationship_links" }

// =============================================================================
// Agent Transparency
// =============================================================================

// Thought types narrate which stage of the work produced a thought.
const (
	ThoughtPlanning    = "planning"
	ThoughtResearch    = "research"
	ThoughtAnalysis    = "analysis"
	ThoughtDecision    = "decision"
	ThoughtObservation = "observation"
)

// ThoughtChain is one narrated reasoning step, streamed to watchers and
// kept for the audit trail. Sequence is monotonic per investigation.
type ThoughtChain struct {
	Base
	InvestigationID  string         `gorm:"not null;index:idx_thought_investigation" json:"investigation_id"`
	SubtaskID        *string        `json:"subtask_id,omitempty"`
	ParentThoughtID  *string        `json:"parent_thought_id,omitempty"`
	Sequence         int            `gorm:"not null;default:0;index:idx_thought_investigation" json:"sequence"`
	ThoughtType      string         `gorm:"not null" json:"thought_type"`
	Content          string         `gorm:"not null" json:"content"`
	ConfidenceBefore *float64       `json:"confidence_before,omitempty"`
	ConfidenceAfter  *float64       `json:"confidence_after,omitempty"`
	Metadata         datatypes.JSON `json:"metadata,omitempty"`
}

func (ThoughtChain) TableName() string { return "thought_chains" }

// Decision types label the consequential choices the engine records.
const (
	DecisionPlanCreated     = "plan_created"
	DecisionTaskScheduled   = "task_scheduled"
	DecisionRetryScheduled  = "retry_scheduled"
	DecisionTaskAbandoned   = "task_abandoned"
	DecisionRedirectApplied = "redirect_applied"
	DecisionReportGenerated = "report_generated"
	DecisionTimedOut        = "investigation_timed_out"
)

// AgentDecision records a consequential choice the engine made on the
// investigation's behalf (fallback plan taken, redirect applied, task
// abandoned) with its rationale.
type AgentDecision struct {
	Base
	InvestigationID string         `gorm:"not null;index" json:"investigation_id"`
	DecisionType    string         `gorm:"not null" json:"decision_type"`
	Rationale       string         `json:"rationale"`
	Context         datatypes.JSON `json:"context,omitempty"`
}

func (AgentDecision) TableName() string { return "agent_decisions" }

// Report is a versioned final report for an investigation. GeneratedBy
// names the planner backend, or "fallback" when the deterministic
// generator wrote it.
type Report struct {
	Base
	InvestigationID string `gorm:"not null;index:idx_report_version,unique" json:"investigation_id"`
	Version         int    `gorm:"not null;index:idx_report_version,unique" json:"version"`
	ReportType      string `gorm:"not null;default:'full'" json:"report_type"`
	Title           string `gorm:"not null" json:"title"`
	Content         string `json:"content"`
	Format          string `gorm:"not null;default:'markdown'" json:"format"`
	GeneratedBy     string `json:"generated_by"`
}

func (Report) TableName() string { return "reports" }

// =============================================================================
// Board and Collaboration
// =============================================================================

// Board is the visual workspace of an investigation: node positions,
// layout mode, and viewport. One board per investigation, created lazily.
type Board struct {
	Base
	InvestigationID string         `gorm:"not null;uniqueIndex" json:"investigation_id"`
	LayoutType      string         `gorm:"not null;default:'force'" json:"layout_type"`
	Positions       datatypes.JSON `json:"positions,omitempty"`
	Viewport        datatypes.JSON `json:"viewport,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (Board) TableName() string { return "boards" }

// Annotation is a note pinned to a board, optionally anchored to an
// entity. Deleting the entity detaches the note instead of removing it.
type Annotation struct {
	Base
	BoardID   string         `gorm:"not null;index" json:"board_id"`
	EntityID  *string        `json:"entity_id,omitempty"`
	Author    string         `json:"author"`
	Body      string         `gorm:"not null" json:"body"`
	Position  datatypes.JSON `json:"position,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (Annotation) TableName() string { return "annotations" }

// VoiceSession tracks a live voice briefing attached to an investigation.
// Transcript accumulates as plain text; one session is active at a time.
type VoiceSession struct {
	Base
	InvestigationID string         `gorm:"not null;index" json:"investigation_id"`
	Status          string         `gorm:"not null;default:'active'" json:"status"`
	Transcript      string         `json:"transcript,omitempty"`
	Metadata        datatypes.JSON `json:"metadata,omitempty"`
	StartedAt       time.Time      `gorm:"not null" json:"started_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
}

func (VoiceSession) TableName() string { return "voice_sessions" }

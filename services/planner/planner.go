// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package planner turns an investigation topic into research work.
//
// The planner is the only part of InvestiGator that talks to a language
// model. It exposes a small domain interface (plan, execute a step, analyze
// evidence, draft a report, narrate a thought) and hides the provider
// behind it. Three backends ship with the open source build:
//
//   - gemini: Google Generative Language REST API (default)
//   - openai: OpenAI chat completions via the official-compatible client
//   - stub:   deterministic canned responses for tests and offline use
//
// # Model Output Handling
//
// Models are asked for JSON but routinely wrap it in markdown fences or
// leading prose. ExtractJSON normalizes that before parsing. When a plan
// cannot be parsed at all the planner degrades to FallbackPlan rather than
// failing the investigation; step execution, by contrast, surfaces the
// error so the engine can retry with backoff.
//
// # Thread Safety
//
// All Planner implementations returned by New are safe for concurrent use.
// Backends hold only an HTTP client and immutable configuration.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Backend Selection
// =============================================================================

const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
	BackendStub   = "stub"
)

// Config holds planner configuration options.
//
// Zero values are usable: defaults are applied by New. API keys are read
// from the environment (GEMINI_API_KEY, OPENAI_API_KEY) with a
// /run/secrets fallback for containerized deployments.
type Config struct {
	// Backend selects the provider: "gemini", "openai", or "stub".
	// Default: "gemini"
	Backend string

	// Model is the provider model identifier.
	// Default: "gemini-2.0-flash" for gemini, "gpt-4o-mini" for openai.
	Model string

	// Timeout bounds a single model call. Default: 60s.
	Timeout time.Duration

	// MaxOutputTokens caps generation length. Default: 4096.
	MaxOutputTokens int

	// Temperature controls sampling. Default: 0.3 (plans should be stable).
	Temperature float32

	// MaxTasksPerPlan caps how many subtasks a plan may carry. Default: 8.
	MaxTasksPerPlan int
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Backend == "" {
		cfg.Backend = BackendGemini
	}
	if cfg.Model == "" {
		switch cfg.Backend {
		case BackendOpenAI:
			cfg.Model = "gpt-4o-mini"
		default:
			cfg.Model = "gemini-2.0-flash"
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 4096
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTasksPerPlan == 0 {
		cfg.MaxTasksPerPlan = 8
	}
	return cfg
}

// =============================================================================
// Domain Types
// =============================================================================

// Task types a plan may schedule. Discovery types run in the researching
// phase; document_analysis and relationship_mapping run in analyzing.
const (
	TaskWebSearch           = "web_search"
	TaskDocumentAnalysis    = "document_analysis"
	TaskEntityExtraction    = "entity_extraction"
	TaskRelationshipMapping = "relationship_mapping"
)

// PlanRequest describes the investigation to break down.
type PlanRequest struct {
	Topic       string
	Description string
	FocusAreas  []string
	MaxTasks    int
}

// PlannedTask is one research step produced by the planner.
type PlannedTask struct {
	Type        string `json:"task_type"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// Plan is the structured breakdown of an investigation.
// Raw preserves the exact model output for audit and replay.
type Plan struct {
	Hypothesis       string          `json:"hypothesis"`
	Strategy         string          `json:"strategy"`
	EstimatedMinutes int             `json:"estimated_minutes"`
	Tasks            []PlannedTask   `json:"tasks"`
	Raw              json.RawMessage `json:"-"`
	Fallback         bool            `json:"-"`
}

// StepRequest describes one subtask to execute.
type StepRequest struct {
	Topic       string
	TaskType    string
	Description string
	// Context carries a digest of what the investigation already knows.
	Context string
}

// FoundEntity is an entity the model surfaced during a step.
type FoundEntity struct {
	Name        string         `json:"name"`
	EntityType  string         `json:"entity_type"`
	Description string         `json:"description"`
	Aliases     []string       `json:"aliases,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Confidence  float64        `json:"confidence"`
}

// FoundRelationship connects two found entities by name.
type FoundRelationship struct {
	SourceName       string  `json:"source_name"`
	TargetName       string  `json:"target_name"`
	RelationshipType string  `json:"relationship_type"`
	Description      string  `json:"description"`
	Confidence       float64 `json:"confidence"`
}

// FoundEvidence is a supporting artifact with provenance.
type FoundEvidence struct {
	Title       string   `json:"title"`
	EvidenceType string  `json:"evidence_type"`
	Content     string   `json:"content"`
	SourceURL   string   `json:"source_url"`
	Reliability float64  `json:"reliability"`
	EntityNames []string `json:"entity_names,omitempty"`
}

// StepResult is everything a single research step produced.
type StepResult struct {
	Summary       string              `json:"summary"`
	Entities      []FoundEntity       `json:"entities"`
	Relationships []FoundRelationship `json:"relationships"`
	Evidence      []FoundEvidence     `json:"evidence"`
	Confidence    float64             `json:"confidence"`
	NextSteps     []string            `json:"next_steps,omitempty"`
	Raw           json.RawMessage     `json:"-"`
}

// EvidenceRequest asks for a document-analysis pass over one evidence item.
type EvidenceRequest struct {
	Topic     string
	Title     string
	Content   string
	SourceURL string
}

// EvidenceAnalysis is the model's reading of one document. Long documents
// are chunked; the analysis merges the per-chunk findings.
type EvidenceAnalysis struct {
	Summary     string          `json:"summary"`
	KeyFindings []string        `json:"key_findings"`
	Entities    []FoundEntity   `json:"entities,omitempty"`
	Reliability float64         `json:"reliability"`
	Raw         json.RawMessage `json:"-"`
}

// ReportRequest asks for the final written report.
type ReportRequest struct {
	Topic      string
	Hypothesis string
	ReportType string
	Findings   string
}

// ReportDraft is the generated report before persistence. Content is
// markdown.
type ReportDraft struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ThoughtRequest asks for a short first-person narration of what the
// agent is doing, streamed to watchers as agent transparency.
type ThoughtRequest struct {
	Topic   string
	Stage   string
	Subject string
}

// =============================================================================
// Planner Interface
// =============================================================================

// Planner is the language-model boundary of the investigation engine.
//
// All methods honor ctx cancellation and return *ExternalServiceError for
// provider failures so callers can decide retryability.
type Planner interface {
	// PlanInvestigation breaks a topic into ordered research tasks.
	// If the model responds with unparseable output the fallback plan is
	// returned instead of an error; Plan.Fallback reports which happened.
	PlanInvestigation(ctx context.Context, req PlanRequest) (*Plan, error)

	// ExecuteStep performs one research step and reports discoveries.
	ExecuteStep(ctx context.Context, req StepRequest) (*StepResult, error)

	// AnalyzeEvidence reads one stored document, chunking long content.
	AnalyzeEvidence(ctx context.Context, req EvidenceRequest) (*EvidenceAnalysis, error)

	// GenerateReport drafts the final report for a finished investigation.
	GenerateReport(ctx context.Context, req ReportRequest) (*ReportDraft, error)

	// Think produces a short narration of the agent's current reasoning.
	Think(ctx context.Context, req ThoughtRequest) (string, error)
}

// textModel is the transport seam between the planner and a provider.
// Backends only move prompts and completions; prompt construction and
// response parsing stay in one place.
type textModel interface {
	generate(ctx context.Context, system, prompt string) (string, error)
	name() string
}

// New creates a Planner for the configured backend.
func New(cfg Config) (Planner, error) {
	cfg = applyConfigDefaults(cfg)

	switch cfg.Backend {
	case BackendGemini:
		model, err := newGeminiModel(cfg)
		if err != nil {
			return nil, fmt.Errorf("planner: %w", err)
		}
		return &modelPlanner{model: model, cfg: cfg}, nil
	case BackendOpenAI:
		model, err := newOpenAIModel(cfg)
		if err != nil {
			return nil, fmt.Errorf("planner: %w", err)
		}
		return &modelPlanner{model: model, cfg: cfg}, nil
	case BackendStub:
		return NewStub(), nil
	default:
		return nil, fmt.Errorf("planner: unknown backend %q", cfg.Backend)
	}
}

// =============================================================================
// Model-backed Implementation
// =============================================================================

// modelPlanner implements Planner on top of any textModel.
type modelPlanner struct {
	model textModel
	cfg   Config
}

var _ Planner = (*modelPlanner)(nil)

func (p *modelPlanner) PlanInvestigation(ctx context.Context, req PlanRequest) (*Plan, error) {
	maxTasks := req.MaxTasks
	if maxTasks <= 0 || maxTasks > p.cfg.MaxTasksPerPlan {
		maxTasks = p.cfg.MaxTasksPerPlan
	}

	out, err := p.model.generate(ctx, planSystemPrompt, buildPlanPrompt(req, maxTasks))
	if err != nil {
		return nil, err
	}

	raw, err := ExtractJSON(out)
	if err != nil {
		// A garbled plan should not kill the investigation.
		return FallbackPlan(req), nil
	}

	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil || len(plan.Tasks) == 0 {
		return FallbackPlan(req), nil
	}

	if len(plan.Tasks) > maxTasks {
		plan.Tasks = plan.Tasks[:maxTasks]
	}
	for i := range plan.Tasks {
		if plan.Tasks[i].Priority <= 0 {
			plan.Tasks[i].Priority = i + 1
		}
		if !knownTaskType(plan.Tasks[i].Type) {
			plan.Tasks[i].Type = TaskWebSearch
		}
	}
	plan.Raw = raw
	return &plan, nil
}

func (p *modelPlanner) ExecuteStep(ctx context.Context, req StepRequest) (*StepResult, error) {
	out, err := p.model.generate(ctx, stepSystemPrompt, buildStepPrompt(req))
	if err != nil {
		return nil, err
	}

	raw, err := ExtractJSON(out)
	if err != nil {
		return nil, &ExternalServiceError{
			Service:   p.model.name(),
			Message:   fmt.Sprintf("unparseable step output: %v", err),
			Retryable: true,
		}
	}

	var result StepResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ExternalServiceError{
			Service:   p.model.name(),
			Message:   fmt.Sprintf("malformed step output: %v", err),
			Retryable: true,
		}
	}
	result.Raw = raw
	return &result, nil
}

// AnalyzeEvidence reads the document in chunks sized for the model's
// context and merges the per-chunk findings into one analysis.
func (p *modelPlanner) AnalyzeEvidence(ctx context.Context, req EvidenceRequest) (*EvidenceAnalysis, error) {
	chunks := SplitDocument(req.Content)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	merged := &EvidenceAnalysis{}
	var summaries []string
	var reliabilitySum float64

	for i, chunk := range chunks {
		out, err := p.model.generate(ctx, analysisSystemPrompt, buildAnalysisPrompt(req, chunk, i+1, len(chunks)))
		if err != nil {
			return nil, err
		}

		raw, err := ExtractJSON(out)
		if err != nil {
			return nil, &ExternalServiceError{
				Service:   p.model.name(),
				Message:   fmt.Sprintf("unparseable analysis output: %v", err),
				Retryable: true,
			}
		}

		var part EvidenceAnalysis
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, &ExternalServiceError{
				Service:   p.model.name(),
				Message:   fmt.Sprintf("malformed analysis output: %v", err),
				Retryable: true,
			}
		}

		if part.Summary != "" {
			summaries = append(summaries, part.Summary)
		}
		merged.KeyFindings = append(merged.KeyFindings, part.KeyFindings...)
		merged.Entities = append(merged.Entities, part.Entities...)
		reliabilitySum += part.Reliability
		if i == len(chunks)-1 {
			merged.Raw = raw
		}
	}

	merged.Summary = strings.Join(summaries, " ")
	merged.Reliability = reliabilitySum / float64(len(chunks))
	return merged, nil
}

func (p *modelPlanner) GenerateReport(ctx context.Context, req ReportRequest) (*ReportDraft, error) {
	out, err := p.model.generate(ctx, reportSystemPrompt, buildReportPrompt(req))
	if err != nil {
		return nil, err
	}

	raw, err := ExtractJSON(out)
	if err != nil {
		// Reports are prose-heavy; accept a plain-text draft rather than
		// losing a finished investigation at the last step.
		return &ReportDraft{
			Title:   fmt.Sprintf("Investigation Report: %s", req.Topic),
			Content: out,
		}, nil
	}

	var draft ReportDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return &ReportDraft{
			Title:   fmt.Sprintf("Investigation Report: %s", req.Topic),
			Content: out,
		}, nil
	}
	if draft.Title == "" {
		draft.Title = fmt.Sprintf("Investigation Report: %s", req.Topic)
	}
	return &draft, nil
}

func (p *modelPlanner) Think(ctx context.Context, req ThoughtRequest) (string, error) {
	return p.model.generate(ctx, thoughtSystemPrompt, buildThoughtPrompt(req))
}

func knownTaskType(t string) bool {
	switch t {
	case TaskWebSearch, TaskDocumentAnalysis, TaskEntityExtraction, TaskRelationshipMapping:
		return true
	}
	return false
}

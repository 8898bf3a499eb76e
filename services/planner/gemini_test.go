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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestGemini wires a gemini-backed planner to a local httptest server.
func newTestGemini(t *testing.T, handler http.HandlerFunc) Planner {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GEMINI_BASE_URL", server.URL)

	p, err := New(Config{Backend: BackendGemini, Model: "gemini-test"})
	require.NoError(t, err)
	return p
}

func geminiTextBody(t *testing.T, text string) []byte {
	t.Helper()
	body, err := json.Marshal(geminiResponse{
		Candidates: []geminiCandidate{{
			Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: text}}},
			FinishReason: "STOP",
		}},
	})
	require.NoError(t, err)
	return body
}

func TestGeminiPlanInvestigation(t *testing.T) {
	planJSON := `{
  "hypothesis": "The supply chain runs through two intermediaries",
  "strategy": "Start broad, then follow the money",
  "estimated_minutes": 25,
  "tasks": [
    {"task_type": "web_search", "description": "background on who supplies whom", "priority": 1},
    {"task_type": "relationship_mapping", "description": "map supplier links", "priority": 2}
  ]
}`

	var gotPath, gotKey string
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		w.Header().Set("Content-Type", "application/json")
		w.Write(geminiTextBody(t, "```json\n"+planJSON+"\n```"))
	})

	plan, err := p.PlanInvestigation(context.Background(), PlanRequest{Topic: "supply chain"})
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-test:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)

	assert.False(t, plan.Fallback)
	assert.Equal(t, "The supply chain runs through two intermediaries", plan.Hypothesis)
	assert.Equal(t, 25, plan.EstimatedMinutes)
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, TaskWebSearch, plan.Tasks[0].Type)
	assert.NotEmpty(t, plan.Raw)
}

func TestGeminiPlanFallsBackOnGarbage(t *testing.T) {
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(geminiTextBody(t, "I cannot produce a plan for this topic, sorry."))
	})

	plan, err := p.PlanInvestigation(context.Background(), PlanRequest{Topic: "odd topic"})
	require.NoError(t, err)
	assert.True(t, plan.Fallback)
	assert.Len(t, plan.Tasks, 4)
}

func TestGeminiPlanSanitizesUnknownTaskTypes(t *testing.T) {
	planJSON := `{
  "hypothesis": "h",
  "strategy": "s",
  "tasks": [
    {"task_type": "interrogate_witness", "description": "d"}
  ]
}`

	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(geminiTextBody(t, planJSON))
	})

	plan, err := p.PlanInvestigation(context.Background(), PlanRequest{Topic: "t"})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, TaskWebSearch, plan.Tasks[0].Type)
	assert.Equal(t, 1, plan.Tasks[0].Priority)
}

func TestGeminiExecuteStep(t *testing.T) {
	stepJSON := `{
  "summary": "found the parent company",
  "entities": [{"name": "Holdings AG", "entity_type": "organization", "description": "parent", "confidence": 0.9}],
  "relationships": [{"source_name": "Holdings AG", "target_name": "Acme", "relationship_type": "owns", "confidence": 0.8}],
  "evidence": [{"title": "Registry filing", "evidence_type": "record", "content": "ownership record", "reliability": 0.95}],
  "confidence": 0.9
}`

	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(geminiTextBody(t, stepJSON))
	})

	result, err := p.ExecuteStep(context.Background(), StepRequest{
		Topic: "Acme ownership", TaskType: TaskWebSearch, Description: "find who owns Acme",
	})
	require.NoError(t, err)

	assert.Equal(t, "found the parent company", result.Summary)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Holdings AG", result.Entities[0].Name)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "owns", result.Relationships[0].RelationshipType)
	require.Len(t, result.Evidence, 1)
	assert.Equal(t, "record", result.Evidence[0].EvidenceType)
	assert.InDelta(t, 0.95, result.Evidence[0].Reliability, 1e-9)
}

func TestGeminiAnalyzeEvidence(t *testing.T) {
	analysisJSON := `{
  "summary": "the filing names a parent entity",
  "key_findings": ["Holdings AG owns 80%"],
  "entities": [{"name": "Holdings AG", "entity_type": "organization", "confidence": 0.9}],
  "reliability": 0.9
}`

	var calls int
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write(geminiTextBody(t, analysisJSON))
	})

	analysis, err := p.AnalyzeEvidence(context.Background(), EvidenceRequest{
		Topic:   "Acme ownership",
		Title:   "Registry filing",
		Content: "short document",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "short content is a single chunk")
	assert.Equal(t, "the filing names a parent entity", analysis.Summary)
	require.Len(t, analysis.KeyFindings, 1)
	require.Len(t, analysis.Entities, 1)
	assert.InDelta(t, 0.9, analysis.Reliability, 1e-9)
}

func TestGeminiRateLimitIsRetryable(t *testing.T) {
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`))
	})

	_, err := p.ExecuteStep(context.Background(), StepRequest{Topic: "t", TaskType: TaskWebSearch})
	require.Error(t, err)
	assert.True(t, IsExternal(err))
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "RESOURCE_EXHAUSTED")
}

func TestGeminiAuthFailureIsPermanent(t *testing.T) {
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"code": 400, "message": "API key not valid", "status": "INVALID_ARGUMENT"}}`))
	})

	_, err := p.ExecuteStep(context.Background(), StepRequest{Topic: "t", TaskType: TaskWebSearch})
	require.Error(t, err)
	assert.True(t, IsExternal(err))
	assert.False(t, IsRetryable(err))
}

func TestGeminiEmptyCandidatesIsRetryable(t *testing.T) {
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates": []}`))
	})

	_, err := p.Think(context.Background(), ThoughtRequest{Topic: "t", Stage: "planning"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestGeminiThinkReturnsPlainText(t *testing.T) {
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(geminiTextBody(t, "I am cross-checking the registry filing against earlier findings."))
	})

	thought, err := p.Think(context.Background(), ThoughtRequest{Topic: "Acme", Stage: "analyzing", Subject: "registry filing"})
	require.NoError(t, err)
	assert.Contains(t, thought, "registry filing")
}

func TestGeminiMissingKeyFails(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := New(Config{Backend: BackendGemini})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

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

// System prompts shared by every model backend. Keeping them here (and not
// in the backends) means gemini and openai behave identically modulo the
// model itself.
const (
	planSystemPrompt = "You are the planning agent of an investigation platform. " +
		"You break a research topic into discrete, independently executable research tasks. " +
		"Respond ONLY with a JSON object. No prose, no markdown fences."

	stepSystemPrompt = "You are a research agent executing one step of an investigation. " +
		"Using your knowledge, report what you find as structured discoveries with confidence scores between 0 and 1. " +
		"Never invent URLs. Respond ONLY with a JSON object."

	analysisSystemPrompt = "You are an analyst reading a source document for an investigation. " +
		"Extract what the document establishes, who it mentions, and how reliable it looks. " +
		"Respond ONLY with a JSON object."

	reportSystemPrompt = "You write final investigation reports in clear, sourced markdown. " +
		"Respond ONLY with a JSON object."

	thoughtSystemPrompt = "You narrate an investigation agent's reasoning in the first person. " +
		"Answer with one or two plain sentences. No JSON, no markdown."
)

func buildPlanPrompt(req PlanRequest, maxTasks int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Investigation topic: %s\n", req.Topic)
	if req.Description != "" {
		fmt.Fprintf(&b, "Details from the requester: %s\n", req.Description)
	}
	if len(req.FocusAreas) > 0 {
		fmt.Fprintf(&b, "Focus areas: %s\n", strings.Join(req.FocusAreas, "; "))
	}

	fmt.Fprintf(&b, `
Produce at most %d tasks. Valid task_type values:
web_search, document_analysis, entity_extraction, relationship_mapping.

Schema:
{
  "hypothesis": "one sentence working hypothesis",
  "strategy": "short description of the approach",
  "estimated_minutes": 30,
  "tasks": [
    {"task_type": "web_search", "description": "what to do and what question to answer", "priority": 1}
  ]
}
Priorities start at 1 (highest). Every task must be self-contained.
Order discovery (web_search, entity_extraction) before analysis
(document_analysis, relationship_mapping).`, maxTasks)

	return b.String()
}

func buildStepPrompt(req StepRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Investigation topic: %s\n", req.Topic)
	fmt.Fprintf(&b, "Task type: %s\n", req.TaskType)
	fmt.Fprintf(&b, "Task: %s\n", req.Description)
	if req.Context != "" {
		fmt.Fprintf(&b, "\nWhat the investigation already knows:\n%s\n", req.Context)
	}

	b.WriteString(`
Report your findings using this schema:
{
  "summary": "what this step established",
  "entities": [
    {"name": "...", "entity_type": "person|organization|location|event|document|other",
     "description": "...", "aliases": ["other names seen for this entity"],
     "attributes": {}, "confidence": 0.0}
  ],
  "relationships": [
    {"source_name": "entity name", "target_name": "entity name",
     "relationship_type": "works_for|owns|associates_with|located_at|participated_in|transacted_with|communicated_with|related_to",
     "description": "...", "confidence": 0.0}
  ],
  "evidence": [
    {"title": "short label", "evidence_type": "document|webpage|testimony|record|media|other",
     "content": "the finding itself", "source_url": "", "reliability": 0.0,
     "entity_names": ["..."]}
  ],
  "confidence": 0.0,
  "next_steps": ["optional follow-up questions this step raised"]
}
Relationships may only reference entities listed in this response or named in the context above.`)

	return b.String()
}

func buildAnalysisPrompt(req EvidenceRequest, chunk string, part, total int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Investigation topic: %s\n", req.Topic)
	if req.Title != "" {
		fmt.Fprintf(&b, "Document: %s\n", req.Title)
	}
	if req.SourceURL != "" {
		fmt.Fprintf(&b, "Source: %s\n", req.SourceURL)
	}
	if total > 1 {
		fmt.Fprintf(&b, "This is part %d of %d of the document.\n", part, total)
	}

	fmt.Fprintf(&b, "\nDocument content:\n%s\n", chunk)

	b.WriteString(`
Analyze this content using this schema:
{
  "summary": "what this content establishes",
  "key_findings": ["..."],
  "entities": [
    {"name": "...", "entity_type": "person|organization|location|event|document|other",
     "description": "...", "confidence": 0.0}
  ],
  "reliability": 0.0
}
Reliability between 0 and 1 reflects how trustworthy this source appears.`)

	return b.String()
}

func buildReportPrompt(req ReportRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Investigation topic: %s\n", req.Topic)
	if req.Hypothesis != "" {
		fmt.Fprintf(&b, "Working hypothesis: %s\n", req.Hypothesis)
	}
	fmt.Fprintf(&b, "Report type requested: %s\n", req.ReportType)
	fmt.Fprintf(&b, "\nFindings to report on:\n%s\n", req.Findings)

	switch req.ReportType {
	case "summary":
		b.WriteString("\nKeep the report to a one-page executive summary.")
	case "timeline":
		b.WriteString("\nStructure the report as a chronological timeline of events.")
	default:
		b.WriteString("\nWrite the full report: summary, findings per entity, relationships, open questions.")
	}

	b.WriteString(`

Respond using this schema:
{
  "title": "...",
  "content": "the complete report in markdown"
}`)

	return b.String()
}

func buildThoughtPrompt(req ThoughtRequest) string {
	subject := req.Subject
	if subject == "" {
		subject = req.Topic
	}
	return fmt.Sprintf("Investigation topic: %s\nStage: %s\nYou are currently working on: %s\n\nWhat are you thinking right now?",
		req.Topic, req.Stage, subject)
}

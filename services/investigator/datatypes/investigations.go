// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the request and response shapes of the REST
// and WebSocket API. Binding tags carry validation; handlers bind with
// ShouldBindJSON and never re-validate by hand.
package datatypes

// CreateInvestigationRequest opens a new investigation. Title doubles as
// the research query handed to the planner.
type CreateInvestigationRequest struct {
	Title       string   `json:"title" binding:"required,notblank,maxbytes=500"`
	Description string   `json:"description" binding:"omitempty,maxbytes=5000"`
	FocusAreas  []string `json:"focus_areas" binding:"omitempty,max=20,dive,notblank,maxbytes=200"`
}

// UpdateInvestigationRequest edits investigation metadata. Nil fields are
// left unchanged. Focus areas may only change while the investigation is
// still pending; after start they belong to the plan.
type UpdateInvestigationRequest struct {
	Title       *string   `json:"title" binding:"omitempty,notblank,maxbytes=500"`
	Description *string   `json:"description" binding:"omitempty,maxbytes=5000"`
	FocusAreas  *[]string `json:"focus_areas" binding:"omitempty,max=20,dive,notblank,maxbytes=200"`
}

// RedirectRequest steers a running investigation toward a new focus.
type RedirectRequest struct {
	Focus string `json:"focus" binding:"required,notblank,maxbytes=500"`
	Note  string `json:"note" binding:"omitempty,maxbytes=2000"`
}

// CreateReportRequest asks for a fresh report over the finished graph.
type CreateReportRequest struct {
	ReportType string `json:"report_type" binding:"omitempty,oneof=summary full timeline"`
}

// InvestigationListResponse pages through investigations.
type InvestigationListResponse struct {
	Investigations any   `json:"investigations"`
	Total          int64 `json:"total"`
	Limit          int   `json:"limit"`
	Offset         int   `json:"offset"`
}

// StatusResponse is the compact lifecycle snapshot served by
// GET /investigations/:id/status.
type StatusResponse struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	CurrentPhase string  `json:"current_phase"`
	Progress     int     `json:"progress"`
	Confidence   float64 `json:"confidence"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// ProgressResponse expands the status snapshot with per-status subtask
// counts for progress bars.
type ProgressResponse struct {
	Progress   int     `json:"progress"`
	Confidence float64 `json:"confidence"`
	Subtasks   struct {
		Pending    int `json:"pending"`
		InProgress int `json:"in_progress"`
		Completed  int `json:"completed"`
		Failed     int `json:"failed"`
		Abandoned  int `json:"abandoned"`
	} `json:"subtasks"`
}

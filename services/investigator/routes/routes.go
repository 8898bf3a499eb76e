// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes maps the REST and WebSocket surface onto handlers.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/investigator-ai/investigator/pkg/extensions"
	"github.com/investigator-ai/investigator/services/investigator/engine"
	"github.com/investigator-ai/investigator/services/investigator/handlers"
	"github.com/investigator-ai/investigator/services/investigator/middleware"
	"github.com/investigator-ai/investigator/services/investigator/realtime"
	"github.com/investigator-ai/investigator/services/investigator/store"
)

// SetupRoutes wires every endpoint. Health and metrics sit outside the
// auth middleware; everything under /api/v1 goes through it.
func SetupRoutes(router *gin.Engine, st *store.Store, eng *engine.Engine, hub *realtime.Hub, auth extensions.AuthProvider) {
	router.GET("/health", handlers.Health(st))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(auth))

	inv := v1.Group("/investigations")
	{
		inv.POST("", handlers.CreateInvestigation(st))
		inv.GET("", handlers.ListInvestigations(st))
		inv.GET("/:id", handlers.GetInvestigation(st))
		inv.PATCH("/:id", handlers.UpdateInvestigation(st))
		inv.DELETE("/:id", handlers.DeleteInvestigation(st, eng))

		inv.POST("/:id/start", handlers.StartInvestigation(eng))
		inv.POST("/:id/pause", handlers.PauseInvestigation(eng))
		inv.POST("/:id/resume", handlers.ResumeInvestigation(eng))
		inv.POST("/:id/cancel", handlers.CancelInvestigation(eng))
		inv.POST("/:id/redirect", handlers.RedirectInvestigation(eng))

		inv.GET("/:id/status", handlers.InvestigationStatus(st))
		inv.GET("/:id/progress", handlers.InvestigationProgress(st))
		inv.GET("/:id/plan", handlers.InvestigationPlan(st))
		inv.GET("/:id/subtasks", handlers.ListSubtasks(st))
		inv.GET("/:id/thoughts", handlers.ListThoughts(st))
		inv.GET("/:id/decisions", handlers.ListDecisions(st))

		inv.GET("/:id/entities", handlers.ListEntities(st))
		inv.POST("/:id/entities", handlers.CreateEntity(st, eng, hub))
		inv.GET("/:id/entities/:entityID", handlers.GetEntity(st))
		inv.PATCH("/:id/entities/:entityID", handlers.UpdateEntity(st, eng))
		inv.DELETE("/:id/entities/:entityID", handlers.DeleteEntity(st, eng))
		inv.GET("/:id/entities/:entityID/relationships", handlers.EntityRelationships(st))
		inv.GET("/:id/entities/:entityID/evidence", handlers.EntityEvidence(st))

		inv.GET("/:id/relationships", handlers.ListRelationships(st))
		inv.POST("/:id/relationships", handlers.CreateRelationship(st, eng, hub))
		inv.PATCH("/:id/relationships/:relationshipID", handlers.SetRelationshipConfidence(st))
		inv.PATCH("/:id/relationships/:relationshipID/confidence", handlers.SetRelationshipConfidence(st))
		inv.DELETE("/:id/relationships/:relationshipID", handlers.DeleteRelationship(st))

		inv.GET("/:id/evidence", handlers.ListEvidence(st))
		inv.POST("/:id/evidence", handlers.CreateEvidence(st, hub))
		inv.GET("/:id/evidence/:evidenceID", handlers.GetEvidence(st))
		inv.POST("/:id/evidence/:evidenceID/analyze", handlers.AnalyzeEvidence(eng))
		inv.PUT("/:id/evidence/:evidenceID/entities/:entityID", handlers.LinkEvidenceEntity(st))

		inv.GET("/:id/reports", handlers.ListReports(st))
		inv.POST("/:id/reports", handlers.CreateReport(eng))
		inv.GET("/:id/reports/:reportID", handlers.GetReport(st))

		inv.GET("/:id/board", handlers.GetBoard(st))
		inv.PATCH("/:id/board", handlers.UpdateBoard(st, hub))
		inv.PUT("/:id/board/positions/:entityID", handlers.SetEntityPosition(st, hub))
		inv.GET("/:id/board/annotations", handlers.ListAnnotations(st))
		inv.POST("/:id/board/annotations", handlers.CreateAnnotation(st, hub))
		inv.PATCH("/:id/board/annotations/:annotationID", handlers.UpdateAnnotation(st))
		inv.DELETE("/:id/board/annotations/:annotationID", handlers.DeleteAnnotation(st))

		inv.GET("/:id/voice-sessions", handlers.ListVoiceSessions(st))
		inv.POST("/:id/voice-sessions", handlers.StartVoiceSession(st))
		inv.POST("/:id/voice-sessions/:sessionID/end", handlers.EndVoiceSession(st))

		inv.GET("/:id/ws", handlers.InvestigationSocket(st, eng, hub))
		inv.GET("/:id/board/ws", handlers.BoardSocket(st, hub))
	}
}

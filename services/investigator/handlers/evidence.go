// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/investigator-ai/investigator/services/investigator/datatypes"
	"github.com/investigator-ai/investigator/services/investigator/engine"
	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
	"github.com/investigator-ai/investigator/services/investigator/realtime"
	"github.com/investigator-ai/investigator/services/investigator/store"
)

// defaultLinkRelevance weights a link when the caller did not say how
// relevant the evidence is.
const defaultLinkRelevance = 0.5

// ListEvidence serves an investigation's evidence, newest first.
// ?analyzed=true|false narrows by whether an analysis pass has read it.
func ListEvidence(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}

		var analyzed *bool
		if raw := c.Query("analyzed"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				respondError(c, lifecycle.NewValidationError("analyzed", "expected true or false"))
				return
			}
			analyzed = &v
		}

		rows, err := st.Evidence.ListByInvestigation(ctx, inv.ID, analyzed)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"evidence": rows})
	}
}

// CreateEvidence files a source artifact, optionally pre-linked to known
// entities.
func CreateEvidence(st *store.Store, hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateEvidenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}

		ev := &store.Evidence{
			InvestigationID: inv.ID,
			EvidenceType:    req.EvidenceType,
			Title:           req.Title,
			Content:         req.Content,
			SourceURL:       req.SourceURL,
		}
		if req.Reliability != nil {
			ev.Reliability = *req.Reliability
		}
		if len(req.Metadata) > 0 {
			encoded, mErr := json.Marshal(req.Metadata)
			if mErr != nil {
				respondError(c, mErr)
				return
			}
			ev.Metadata = encoded
		}

		links := make([]store.EvidenceLink, 0, len(req.EntityIDs))
		for _, entityID := range req.EntityIDs {
			links = append(links, store.EvidenceLink{
				TargetID:  entityID,
				Relevance: defaultLinkRelevance,
			})
		}

		if err := st.Evidence.Create(ctx, ev, links, nil); err != nil {
			respondError(c, err)
			return
		}

		hub.PublishInvestigation(inv.ID, realtime.NewEvent(realtime.EventEvidenceDiscovered, inv.ID, map[string]any{
			"evidence_id":   ev.ID,
			"evidence_type": ev.EvidenceType,
			"title":         ev.Title,
			"reliability":   ev.Reliability,
		}))
		c.JSON(http.StatusCreated, ev)
	}
}

// GetEvidence fetches one evidence item scoped to its investigation.
func GetEvidence(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ev, err := st.Evidence.Get(c.Request.Context(), c.Param("id"), c.Param("evidenceID"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ev)
	}
}

// AnalyzeEvidence queues a document-analysis subtask bound to one
// evidence item. Answers 202: the analysis runs on the worker pool.
func AnalyzeEvidence(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := eng.EnqueueEvidenceAnalysis(c.Request.Context(), c.Param("id"), c.Param("evidenceID"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}

// LinkEvidenceEntity attaches one evidence item to one entity by hand.
// Re-linking an already linked pair is a no-op 200.
func LinkEvidenceEntity(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.LinkEvidenceRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondBindError(c, err)
				return
			}
		}

		relevance := defaultLinkRelevance
		if req.Relevance != nil {
			relevance = *req.Relevance
		}

		err := st.Evidence.LinkEntity(c.Request.Context(), c.Param("id"), c.Param("evidenceID"), store.EvidenceLink{
			TargetID:  c.Param("entityID"),
			Relevance: relevance,
			Support:   req.Support,
			Quote:     req.Quote,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"linked": true})
	}
}

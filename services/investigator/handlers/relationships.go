// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/investigator-ai/investigator/services/investigator/datatypes"
	"github.com/investigator-ai/investigator/services/investigator/engine"
	"github.com/investigator-ai/investigator/services/investigator/realtime"
	"github.com/investigator-ai/investigator/services/investigator/store"
)

// ListRelationships serves an investigation's edges. ?entity_id= narrows
// to edges touching that entity.
func ListRelationships(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		rows, err := st.Graph.ListRelationships(ctx, inv.ID, c.Query("entity_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"relationships": rows})
	}
}

// CreateRelationship draws an edge by hand between two entities of the
// same investigation. Re-drawing an existing edge upserts (200) instead of
// erroring; a new edge answers 201 and is announced on both topics.
func CreateRelationship(st *store.Store, eng *engine.Engine, hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateRelationshipRequest
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

		confidence := manualConfidence
		if req.Confidence != nil {
			confidence = *req.Confidence
		}

		unlock := eng.Lock(inv.ID)
		rel, created, err := st.Graph.UpsertRelationship(ctx, store.RelationshipObservation{
			InvestigationID: inv.ID,
			SourceEntityID:  req.SourceEntityID,
			TargetEntityID:  req.TargetEntityID,
			Type:            req.RelationshipType,
			Description:     req.Description,
			Attributes:      req.Attributes,
			Confidence:      confidence,
		})
		unlock()
		if err != nil {
			respondError(c, err)
			return
		}

		if created {
			hub.PublishInvestigation(inv.ID, realtime.NewEvent(realtime.EventRelationshipDiscovered, inv.ID, rel))
			hub.PublishBoard(inv.ID, realtime.NewEvent(realtime.EventEdgeAdded, inv.ID, rel))
			c.JSON(http.StatusCreated, rel)
			return
		}
		c.JSON(http.StatusOK, rel)
	}
}

// SetRelationshipConfidence overrides one edge's confidence. Both
// PATCH .../relationships/:relationshipID and its /confidence alias land
// here; confidence is the only hand-editable field of an edge.
func SetRelationshipConfidence(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ConfidenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		rel, err := st.Graph.SetRelationshipConfidence(c.Request.Context(), c.Param("id"), c.Param("relationshipID"), req.Confidence)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rel)
	}
}

// DeleteRelationship removes an edge.
func DeleteRelationship(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := st.Graph.DeleteRelationship(c.Request.Context(), c.Param("id"), c.Param("relationshipID"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

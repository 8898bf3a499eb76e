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

// manualConfidence is the default weight of a hand-curated observation.
const manualConfidence = 0.5

// ListEntities serves an investigation's entities, best-supported first.
// ?type= and ?search= narrow the list.
func ListEntities(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		rows, err := st.Graph.ListEntities(ctx, inv.ID, c.Query("type"), c.Query("search"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entities": rows})
	}
}

// CreateEntity adds an entity by hand. The write goes through the same
// merge as planner discoveries, so a duplicate name folds into the
// existing row (200) instead of erroring; a genuinely new identity
// answers 201 and is announced on both topics.
func CreateEntity(st *store.Store, eng *engine.Engine, hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateEntityRequest
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
		entity, created, err := st.Graph.MergeEntity(ctx, store.EntityObservation{
			InvestigationID: inv.ID,
			Name:            req.Name,
			EntityType:      req.EntityType,
			Description:     req.Description,
			Aliases:         req.Aliases,
			Attributes:      req.Attributes,
			Confidence:      confidence,
		})
		unlock()
		if err != nil {
			respondError(c, err)
			return
		}

		if created {
			hub.PublishInvestigation(inv.ID, realtime.NewEvent(realtime.EventEntityDiscovered, inv.ID, entity))
			hub.PublishBoard(inv.ID, realtime.NewEvent(realtime.EventNodeAdded, inv.ID, entity))
			c.JSON(http.StatusCreated, entity)
			return
		}
		c.JSON(http.StatusOK, entity)
	}
}

// GetEntity fetches one entity scoped to its investigation.
func GetEntity(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		entity, err := st.Graph.GetEntity(c.Request.Context(), c.Param("id"), c.Param("entityID"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, entity)
	}
}

// UpdateEntity applies a manual edit. A confidence value is folded in as
// one more manual observation, so it shifts the mention-derived mean and
// bumps the source count instead of overwriting history.
func UpdateEntity(st *store.Store, eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UpdateEntityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		ctx := c.Request.Context()
		investigationID := c.Param("id")
		entityID := c.Param("entityID")

		unlock := eng.Lock(investigationID)
		defer unlock()

		entity, err := st.Graph.UpdateEntity(ctx, investigationID, entityID, store.EntityUpdate{
			Name:        req.Name,
			Description: req.Description,
			Attributes:  req.Attributes,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		if req.Confidence != nil {
			entity, _, err = st.Graph.MergeEntity(ctx, store.EntityObservation{
				InvestigationID: investigationID,
				Name:            entity.Name,
				EntityType:      entity.EntityType,
				Confidence:      *req.Confidence,
			})
			if err != nil {
				respondError(c, err)
				return
			}
		}
		c.JSON(http.StatusOK, entity)
	}
}

// DeleteEntity removes an entity and its edges.
func DeleteEntity(st *store.Store, eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		investigationID := c.Param("id")

		unlock := eng.Lock(investigationID)
		err := st.Graph.DeleteEntity(c.Request.Context(), investigationID, c.Param("entityID"))
		unlock()
		if err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// EntityRelationships serves the edges touching one entity, either
// direction.
func EntityRelationships(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		entity, err := st.Graph.GetEntity(ctx, c.Param("id"), c.Param("entityID"))
		if err != nil {
			respondError(c, err)
			return
		}
		rows, err := st.Graph.ListRelationships(ctx, entity.InvestigationID, entity.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"relationships": rows})
	}
}

// EntityEvidence serves the evidence linked to one entity.
func EntityEvidence(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		entity, err := st.Graph.GetEntity(ctx, c.Param("id"), c.Param("entityID"))
		if err != nil {
			respondError(c, err)
			return
		}
		rows, err := st.Evidence.ListForEntity(ctx, entity.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"evidence": rows})
	}
}

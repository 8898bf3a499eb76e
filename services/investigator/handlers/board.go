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
	"github.com/investigator-ai/investigator/services/investigator/middleware"
	"github.com/investigator-ai/investigator/services/investigator/realtime"
	"github.com/investigator-ai/investigator/services/investigator/store"
)

// GetBoard serves the investigation's board, creating the default one on
// first access.
func GetBoard(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		board, err := st.Boards.GetOrCreate(ctx, inv.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, board)
	}
}

// UpdateBoard changes layout mode and viewport. Layout changes are
// broadcast so other board watchers re-render.
func UpdateBoard(st *store.Store, hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UpdateBoardRequest
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

		board, err := st.Boards.GetOrCreate(ctx, inv.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		if req.LayoutType != nil {
			board, err = st.Boards.SetLayout(ctx, inv.ID, *req.LayoutType)
			if err != nil {
				respondError(c, err)
				return
			}
			hub.PublishBoard(inv.ID, realtime.NewEvent(realtime.EventLayoutUpdate, inv.ID, map[string]any{
				"layout_type": board.LayoutType,
			}))
		}
		if len(req.Viewport) > 0 {
			board, err = st.Boards.SetViewport(ctx, inv.ID, req.Viewport)
			if err != nil {
				respondError(c, err)
				return
			}
		}
		c.JSON(http.StatusOK, board)
	}
}

// SetEntityPosition pins one entity at a canvas coordinate and mirrors
// the move to every board watcher.
func SetEntityPosition(st *store.Store, hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PositionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		investigationID := c.Param("id")
		entityID := c.Param("entityID")
		board, err := st.Boards.SetEntityPosition(c.Request.Context(), investigationID, entityID, store.Position{X: req.X, Y: req.Y})
		if err != nil {
			respondError(c, err)
			return
		}

		hub.PublishBoard(investigationID, realtime.NewEvent(realtime.EventEntityPositionUpdate, investigationID, map[string]any{
			"entity_id": entityID,
			"x":         req.X,
			"y":         req.Y,
		}))
		c.JSON(http.StatusOK, board)
	}
}

// ListAnnotations serves a board's annotations oldest first.
func ListAnnotations(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		rows, err := st.Boards.ListAnnotations(ctx, inv.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"annotations": rows})
	}
}

// CreateAnnotation pins a note to the board. Author defaults to the
// authenticated subject.
func CreateAnnotation(st *store.Store, hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateAnnotationRequest
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

		author := req.Author
		if author == "" {
			author = middleware.Subject(c)
		}
		annotation := &store.Annotation{
			EntityID: req.EntityID,
			Author:   author,
			Body:     req.Body,
		}
		if len(req.Position) > 0 {
			annotation.Position = []byte(req.Position)
		}
		if err := st.Boards.CreateAnnotation(ctx, inv.ID, annotation); err != nil {
			respondError(c, err)
			return
		}

		hub.PublishBoard(inv.ID, realtime.NewEvent(realtime.EventAnnotationAdded, inv.ID, annotation))
		c.JSON(http.StatusCreated, annotation)
	}
}

// UpdateAnnotation rewrites an annotation's text or position.
func UpdateAnnotation(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UpdateAnnotationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		annotation, err := st.Boards.UpdateAnnotation(c.Request.Context(), c.Param("id"), c.Param("annotationID"), req.Body, req.Position)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, annotation)
	}
}

// DeleteAnnotation removes a note from the board.
func DeleteAnnotation(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := st.Boards.DeleteAnnotation(c.Request.Context(), c.Param("id"), c.Param("annotationID"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

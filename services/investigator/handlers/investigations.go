// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/investigator-ai/investigator/services/investigator/datatypes"
	"github.com/investigator-ai/investigator/services/investigator/engine"
	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
	"github.com/investigator-ai/investigator/services/investigator/middleware"
	"github.com/investigator-ai/investigator/services/investigator/store"
)

// ===== Investigation CRUD =====

// CreateInvestigation opens a new investigation in pending state. Nothing
// runs until the caller hits /start.
func CreateInvestigation(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateInvestigationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		inv := &store.Investigation{
			Title:       req.Title,
			Description: req.Description,
			OwnerID:     middleware.Subject(c),
		}
		if len(req.FocusAreas) > 0 {
			encoded, err := json.Marshal(req.FocusAreas)
			if err != nil {
				respondError(c, err)
				return
			}
			inv.FocusAreas = encoded
		}

		if err := st.Investigations.Create(c.Request.Context(), inv); err != nil {
			respondError(c, err)
			return
		}
		slog.Info("investigation created", "investigation_id", inv.ID, "title", inv.Title, "owner", inv.OwnerID)
		c.JSON(http.StatusCreated, inv)
	}
}

// ListInvestigations pages through investigations, newest first. An
// unknown ?status= value is a validation error rather than an empty list.
func ListInvestigations(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := lifecycle.Status(c.Query("status"))
		if status != "" && !status.Valid() {
			respondError(c, lifecycle.NewValidationError("status", "unknown status "+status.String()))
			return
		}

		limit := intQuery(c, "limit", 50)
		offset := intQuery(c, "offset", 0)
		if offset < 0 {
			offset = 0
		}

		rows, total, err := st.Investigations.List(c.Request.Context(), status, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.InvestigationListResponse{
			Investigations: rows,
			Total:          total,
			Limit:          limit,
			Offset:         offset,
		})
	}
}

// GetInvestigation fetches one investigation.
func GetInvestigation(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := st.Investigations.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

// UpdateInvestigation edits title, description, and (while still pending)
// focus areas.
func UpdateInvestigation(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UpdateInvestigationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		inv, err := st.Investigations.UpdateDetails(c.Request.Context(), c.Param("id"), store.InvestigationUpdate{
			Title:       req.Title,
			Description: req.Description,
			FocusAreas:  req.FocusAreas,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

// DeleteInvestigation removes an investigation and everything under it.
func DeleteInvestigation(st *store.Store, eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := st.Investigations.Delete(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		eng.Forget(id)
		slog.Info("investigation deleted", "investigation_id", id)
		c.Status(http.StatusNoContent)
	}
}

// ===== Lifecycle commands =====

// transition wraps one engine lifecycle command as a handler.
func transition(run func(c *gin.Context, id string) (*store.Investigation, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := run(c, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

// StartInvestigation moves a pending investigation to running and kicks
// off planning.
func StartInvestigation(eng *engine.Engine) gin.HandlerFunc {
	return transition(func(c *gin.Context, id string) (*store.Investigation, error) {
		return eng.Start(c.Request.Context(), id)
	})
}

// PauseInvestigation stops new subtasks from being claimed.
func PauseInvestigation(eng *engine.Engine) gin.HandlerFunc {
	return transition(func(c *gin.Context, id string) (*store.Investigation, error) {
		return eng.Pause(c.Request.Context(), id)
	})
}

// ResumeInvestigation puts a paused investigation back to work.
func ResumeInvestigation(eng *engine.Engine) gin.HandlerFunc {
	return transition(func(c *gin.Context, id string) (*store.Investigation, error) {
		return eng.Resume(c.Request.Context(), id)
	})
}

// CancelInvestigation abandons outstanding work and fails the
// investigation as user-canceled.
func CancelInvestigation(eng *engine.Engine) gin.HandlerFunc {
	return transition(func(c *gin.Context, id string) (*store.Investigation, error) {
		return eng.Cancel(c.Request.Context(), id)
	})
}

// RedirectInvestigation steers running research toward a new focus.
func RedirectInvestigation(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RedirectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		inv, err := eng.Redirect(c.Request.Context(), c.Param("id"), req.Focus, req.Note)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

// ===== Read-side projections =====

// InvestigationStatus serves the compact lifecycle snapshot.
func InvestigationStatus(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := st.Investigations.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.StatusResponse{
			ID:           inv.ID,
			Status:       inv.Status.String(),
			CurrentPhase: inv.CurrentPhase.String(),
			Progress:     inv.Progress,
			Confidence:   inv.Confidence,
			ErrorMessage: inv.ErrorMessage,
		})
	}
}

// InvestigationProgress serves progress plus per-status subtask counts.
func InvestigationProgress(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		counts, err := st.Subtasks.Counts(ctx, inv.ID, "")
		if err != nil {
			respondError(c, err)
			return
		}

		var resp datatypes.ProgressResponse
		resp.Progress = inv.Progress
		resp.Confidence = inv.Confidence
		resp.Subtasks.Pending = counts.Pending
		resp.Subtasks.InProgress = counts.InProgress
		resp.Subtasks.Completed = counts.Completed
		resp.Subtasks.Failed = counts.Failed
		resp.Subtasks.Abandoned = counts.Abandoned
		c.JSON(http.StatusOK, resp)
	}
}

// InvestigationPlan serves the planner's breakdown. 404 until planning
// has landed one.
func InvestigationPlan(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		plan, err := st.Investigations.GetPlan(ctx, inv.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, plan)
	}
}

// ListSubtasks serves an investigation's subtasks in plan order.
func ListSubtasks(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		tasks, err := st.Subtasks.ListByInvestigation(ctx, inv.ID, "")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"subtasks": tasks})
	}
}

// ListThoughts serves the reasoning narration in sequence order.
func ListThoughts(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		thoughts, err := st.Agents.ListThoughts(ctx, inv.ID, intQuery(c, "limit", 0))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"thoughts": thoughts})
	}
}

// ListDecisions serves the audit trail of engine decisions.
func ListDecisions(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		decisions, err := st.Agents.ListDecisions(ctx, inv.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"decisions": decisions})
	}
}

// intQuery parses an integer query parameter, falling back to def on
// absence or junk.
func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

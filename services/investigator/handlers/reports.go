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
	"github.com/investigator-ai/investigator/services/investigator/store"
)

// ListReports serves every report version for an investigation.
func ListReports(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		rows, err := st.Reports.List(ctx, inv.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": rows})
	}
}

// CreateReport regenerates a report on demand. Only completed
// investigations qualify, and a planner outage surfaces as 502 here
// rather than degrading to the fallback text.
func CreateReport(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateReportRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondBindError(c, err)
				return
			}
		}
		report, err := eng.RegenerateReport(c.Request.Context(), c.Param("id"), req.ReportType)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, report)
	}
}

// GetReport fetches one report version.
func GetReport(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := st.Reports.Get(c.Request.Context(), c.Param("id"), c.Param("reportID"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

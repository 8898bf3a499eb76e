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
	"github.com/investigator-ai/investigator/services/investigator/store"
)

// ListVoiceSessions serves an investigation's voice sessions newest
// first.
func ListVoiceSessions(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		rows, err := st.Boards.ListVoiceSessions(ctx, inv.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"voice_sessions": rows})
	}
}

// StartVoiceSession opens a voice briefing, ending any session still
// marked active.
func StartVoiceSession(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.StartVoiceSessionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondBindError(c, err)
				return
			}
		}

		ctx := c.Request.Context()
		inv, err := st.Investigations.Get(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		session, err := st.Boards.StartVoiceSession(ctx, inv.ID, req.Metadata)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, session)
	}
}

// EndVoiceSession closes a voice session. Ending twice is a no-op 200.
func EndVoiceSession(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := st.Boards.EndVoiceSession(c.Request.Context(), c.Param("id"), c.Param("sessionID"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

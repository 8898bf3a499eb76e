// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/investigator-ai/investigator/pkg/extensions"
	"github.com/investigator-ai/investigator/services/investigator/store"
)

func TestGetBoardCreatesDefault(t *testing.T) {
	ts := newTestServer(t)
	inv := createInvestigation(t, ts, "Board")

	w := ts.do(t, http.MethodGet, "/api/v1/investigations/"+inv.ID+"/board", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	var board store.Board
	decode(t, w, &board)
	assert.Equal(t, inv.ID, board.InvestigationID)
	assert.Equal(t, "force", board.LayoutType)

	// Second fetch returns the same board, not a new one.
	w = ts.do(t, http.MethodGet, "/api/v1/investigations/"+inv.ID+"/board", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var again store.Board
	decode(t, w, &again)
	assert.Equal(t, board.ID, again.ID)
}

func TestUpdateBoardLayoutAndViewport(t *testing.T) {
	ts := newTestServer(t)
	inv := createInvestigation(t, ts, "Board")

	w := ts.do(t, http.MethodPatch, "/api/v1/investigations/"+inv.ID+"/board", gin.H{
		"layout_type": "radial",
		"viewport":    gin.H{"zoom": 1.5, "center": []float64{10, 20}},
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	var board store.Board
	decode(t, w, &board)
	assert.Equal(t, "radial", board.LayoutType)
	assert.NotEmpty(t, board.Viewport)

	w = ts.do(t, http.MethodPatch, "/api/v1/investigations/"+inv.ID+"/board", gin.H{
		"layout_type": "spiral",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", errorCode(t, w))
}

func TestSetEntityPosition(t *testing.T) {
	ts := newTestServer(t)
	inv := createInvestigation(t, ts, "Board")
	entity := createEntity(t, ts, inv.ID, "Viktor Stone", "person")

	w := ts.do(t, http.MethodPut, "/api/v1/investigations/"+inv.ID+"/board/positions/"+entity.ID, gin.H{
		"x": 120.5,
		"y": -40.0,
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	var board store.Board
	decode(t, w, &board)

	var positions map[string]struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	require.NoError(t, json.Unmarshal(board.Positions, &positions))
	require.Contains(t, positions, entity.ID)
	assert.InDelta(t, 120.5, positions[entity.ID].X, 0.001)
	assert.InDelta(t, -40.0, positions[entity.ID].Y, 0.001)
}

func TestAnnotationLifecycle(t *testing.T) {
	ts := newTestServer(t)
	inv := createInvestigation(t, ts, "Board")
	entity := createEntity(t, ts, inv.ID, "Viktor Stone", "person")

	w := ts.do(t, http.MethodPost, "/api/v1/investigations/"+inv.ID+"/board/annotations", gin.H{
		"body":      "follow the registry trail",
		"entity_id": entity.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	var annotation store.Annotation
	decode(t, w, &annotation)
	assert.Equal(t, extensions.LocalSubject, annotation.Author)
	require.NotNil(t, annotation.EntityID)
	assert.Equal(t, entity.ID, *annotation.EntityID)

	w = ts.do(t, http.MethodPatch,
		"/api/v1/investigations/"+inv.ID+"/board/annotations/"+annotation.ID,
		gin.H{"body": "registry trail is a dead end"})
	require.Equal(t, http.StatusOK, w.Code)
	var updated store.Annotation
	decode(t, w, &updated)
	assert.Equal(t, "registry trail is a dead end", updated.Body)

	var list struct {
		Annotations []store.Annotation `json:"annotations"`
	}
	w = ts.do(t, http.MethodGet, "/api/v1/investigations/"+inv.ID+"/board/annotations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	require.Len(t, list.Annotations, 1)

	w = ts.do(t, http.MethodDelete,
		"/api/v1/investigations/"+inv.ID+"/board/annotations/"+annotation.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/investigations/"+inv.ID+"/board/annotations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Empty(t, list.Annotations)
}

func TestDeletedEntityDetachesAnnotation(t *testing.T) {
	ts := newTestServer(t)
	inv := createInvestigation(t, ts, "Board")
	entity := createEntity(t, ts, inv.ID, "Viktor Stone", "person")

	w := ts.do(t, http.MethodPost, "/api/v1/investigations/"+inv.ID+"/board/annotations", gin.H{
		"body":      "anchored note",
		"entity_id": entity.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/investigations/"+inv.ID+"/entities/"+entity.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	var list struct {
		Annotations []store.Annotation `json:"annotations"`
	}
	w = ts.do(t, http.MethodGet, "/api/v1/investigations/"+inv.ID+"/board/annotations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	require.Len(t, list.Annotations, 1)
	assert.Nil(t, list.Annotations[0].EntityID)
}

func TestVoiceSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	inv := createInvestigation(t, ts, "Voice")

	w := ts.do(t, http.MethodPost, "/api/v1/investigations/"+inv.ID+"/voice-sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	var session store.VoiceSession
	decode(t, w, &session)
	assert.Equal(t, "active", session.Status)

	// Starting a second session ends the first.
	w = ts.do(t, http.MethodPost, "/api/v1/investigations/"+inv.ID+"/voice-sessions",
		gin.H{"metadata": gin.H{"channel": "briefing"}})
	require.Equal(t, http.StatusCreated, w.Code)
	var second store.VoiceSession
	decode(t, w, &second)

	var list struct {
		VoiceSessions []store.VoiceSession `json:"voice_sessions"`
	}
	w = ts.do(t, http.MethodGet, "/api/v1/investigations/"+inv.ID+"/voice-sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	require.Len(t, list.VoiceSessions, 2)

	endPath := "/api/v1/investigations/" + inv.ID + "/voice-sessions/" + second.ID + "/end"
	w = ts.do(t, http.MethodPost, endPath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ended store.VoiceSession
	decode(t, w, &ended)
	assert.Equal(t, "ended", ended.Status)
	assert.NotNil(t, ended.EndedAt)

	// Ending twice is a no-op.
	w = ts.do(t, http.MethodPost, endPath, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

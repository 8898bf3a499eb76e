// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "encoding/json"

// UpdateBoardRequest changes board presentation state. Nil fields stay.
type UpdateBoardRequest struct {
	LayoutType *string         `json:"layout_type" binding:"omitempty,oneof=force hierarchical radial manual"`
	Viewport   json.RawMessage `json:"viewport" binding:"omitempty"`
}

// PositionRequest pins one entity at a board coordinate.
type PositionRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CreateAnnotationRequest pins a note to the board, optionally anchored
// to an entity.
type CreateAnnotationRequest struct {
	EntityID *string         `json:"entity_id" binding:"omitempty,uuid"`
	Author   string          `json:"author" binding:"omitempty,maxbytes=200"`
	Body     string          `json:"body" binding:"required,notblank,maxbytes=5000"`
	Position json.RawMessage `json:"position" binding:"omitempty"`
}

// UpdateAnnotationRequest edits an annotation's text or position.
type UpdateAnnotationRequest struct {
	Body     string          `json:"body" binding:"omitempty,maxbytes=5000"`
	Position json.RawMessage `json:"position" binding:"omitempty"`
}

// StartVoiceSessionRequest opens a voice briefing on an investigation.
type StartVoiceSessionRequest struct {
	Metadata json.RawMessage `json:"metadata" binding:"omitempty"`
}

// WSClientMessage is what a WebSocket client sends: an action plus an
// action-specific payload.
type WSClientMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// WSRedirect is the payload for the redirect_focus action.
type WSRedirect struct {
	Focus string `json:"focus"`
}

// WSPosition is the payload for the update_entity_position action.
type WSPosition struct {
	EntityID string  `json:"entity_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// WSLayout is the payload for the update_layout action.
type WSLayout struct {
	LayoutType string `json:"layout_type"`
}

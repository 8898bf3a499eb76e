// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package realtime fans investigation and board events out to WebSocket
// subscribers. A single hub goroutine owns the topic registry; handlers and
// the engine talk to it through channels only.
package realtime

import (
	"time"
)

// Event types pushed on investigation topics.
const (
	EventStatusUpdate           = "status_update"
	EventProgressUpdate         = "progress_update"
	EventEntityDiscovered       = "entity_discovered"
	EventRelationshipDiscovered = "relationship_discovered"
	EventEvidenceDiscovered     = "evidence_discovered"
	EventThoughtUpdate          = "thought_update"
	EventReportReady            = "report_ready"
	EventErrorOccurred          = "error_occurred"
)

// Event types pushed on board topics.
const (
	EventBoardState           = "board_state"
	EventNodeAdded            = "node_added"
	EventEdgeAdded            = "edge_added"
	EventEntityPositionUpdate = "entity_position_update"
	EventLayoutUpdate         = "layout_update"
	EventAnnotationAdded      = "annotation_added"
)

// InvestigationTopic names the topic carrying lifecycle and discovery events
// for one investigation.
func InvestigationTopic(investigationID string) string {
	return "investigation:" + investigationID
}

// BoardTopic names the topic carrying board events for one investigation.
func BoardTopic(investigationID string) string {
	return "board:" + investigationID
}

// Event is the envelope every subscriber receives.
type Event struct {
	Type            string `json:"type"`
	InvestigationID string `json:"investigation_id,omitempty"`
	Data            any    `json:"data,omitempty"`
	Timestamp       string `json:"timestamp"`
}

// NewEvent builds an envelope stamped with the current UTC time.
func NewEvent(eventType, investigationID string, data any) Event {
	return Event{
		Type:            eventType,
		InvestigationID: investigationID,
		Data:            data,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
}

// ErrorData is the payload shape for error_occurred events.
type ErrorData struct {
	Code     string `json:"code"`
	Message  string `json:"message,omitempty"`
	Retrying bool   `json:"retrying,omitempty"`
}

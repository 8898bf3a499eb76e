// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
)

// Layout algorithms a board can request from the client renderer.
// Manual means the user owns every position and auto-layout stays off.
const (
	LayoutForce        = "force"
	LayoutHierarchical = "hierarchical"
	LayoutRadial       = "radial"
	LayoutManual       = "manual"
)

// Voice session states.
const (
	VoiceActive = "active"
	VoiceEnded  = "ended"
)

// Position is an entity's pinned coordinate on the board canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BoardRepository persists the collaborative board for each investigation:
// layout choice, pinned entity positions, viewport, annotations and voice
// sessions. One board per investigation, created lazily.
type BoardRepository struct {
	db *gorm.DB
}

// GetOrCreate returns the investigation's board, creating the default one
// on first access.
func (r *BoardRepository) GetOrCreate(ctx context.Context, investigationID string) (*Board, error) {
	var board Board
	err := r.db.WithContext(ctx).
		Where("investigation_id = ?", investigationID).
		First(&board).Error
	if err == nil {
		return &board, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	board = Board{InvestigationID: investigationID, LayoutType: LayoutForce}
	if cErr := r.db.WithContext(ctx).Create(&board).Error; cErr != nil {
		// Concurrent first access: the unique index on investigation_id
		// let exactly one insert through. Read the winner's row.
		rErr := r.db.WithContext(ctx).
			Where("investigation_id = ?", investigationID).
			First(&board).Error
		if rErr != nil {
			return nil, cErr
		}
	}
	return &board, nil
}

// SetLayout switches the board's layout algorithm.
func (r *BoardRepository) SetLayout(ctx context.Context, investigationID, layout string) (*Board, error) {
	switch layout {
	case LayoutForce, LayoutHierarchical, LayoutRadial, LayoutManual:
	default:
		return nil, lifecycle.NewValidationError("layout_type", "must be one of force, hierarchical, radial, manual")
	}

	board, err := r.GetOrCreate(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&Board{}).
		Where("id = ?", board.ID).
		Updates(map[string]any{"layout_type": layout, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return nil, err
	}
	board.LayoutType = layout
	return board, nil
}

// SetEntityPosition pins one entity at a canvas coordinate. The entity must
// belong to the board's investigation.
func (r *BoardRepository) SetEntityPosition(ctx context.Context, investigationID, entityID string, pos Position) (*Board, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Entity{}).
		Where("id = ? AND investigation_id = ?", entityID, investigationID).
		Count(&count).Error
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, lifecycle.NewConsistencyViolation("entity %s does not belong to investigation %s", entityID, investigationID)
	}

	board, err := r.GetOrCreate(ctx, investigationID)
	if err != nil {
		return nil, err
	}

	positions := board.PositionMap()
	if positions == nil {
		positions = make(map[string]Position, 1)
	}
	positions[entityID] = pos
	return r.writePositions(ctx, board, positions)
}

// ReplacePositions overwrites the whole position map, typically after the
// client ran a layout pass.
func (r *BoardRepository) ReplacePositions(ctx context.Context, investigationID string, positions map[string]Position) (*Board, error) {
	board, err := r.GetOrCreate(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	return r.writePositions(ctx, board, positions)
}

func (r *BoardRepository) writePositions(ctx context.Context, board *Board, positions map[string]Position) (*Board, error) {
	encoded, err := json.Marshal(positions)
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&Board{}).
		Where("id = ?", board.ID).
		Updates(map[string]any{"positions": encoded, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return nil, err
	}
	board.Positions = encoded
	return board, nil
}

// SetViewport saves the shared camera state (pan and zoom) as the client
// sent it.
func (r *BoardRepository) SetViewport(ctx context.Context, investigationID string, viewport json.RawMessage) (*Board, error) {
	board, err := r.GetOrCreate(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&Board{}).
		Where("id = ?", board.ID).
		Updates(map[string]any{"viewport": []byte(viewport), "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return nil, err
	}
	board.Viewport = []byte(viewport)
	return board, nil
}

// CreateAnnotation attaches a note to the board. An anchored entity is
// optional but must belong to the same investigation when given.
func (r *BoardRepository) CreateAnnotation(ctx context.Context, investigationID string, a *Annotation) error {
	if a.Body == "" {
		return lifecycle.NewValidationError("body", "must not be empty")
	}

	board, err := r.GetOrCreate(ctx, investigationID)
	if err != nil {
		return err
	}
	a.BoardID = board.ID

	if a.EntityID != nil && *a.EntityID != "" {
		var count int64
		err := r.db.WithContext(ctx).Model(&Entity{}).
			Where("id = ? AND investigation_id = ?", *a.EntityID, investigationID).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count == 0 {
			return lifecycle.NewConsistencyViolation("annotation anchor %s does not belong to investigation %s", *a.EntityID, investigationID)
		}
	}
	return r.db.WithContext(ctx).Create(a).Error
}

// ListAnnotations returns a board's annotations oldest first.
func (r *BoardRepository) ListAnnotations(ctx context.Context, investigationID string) ([]Annotation, error) {
	board, err := r.GetOrCreate(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	var rows []Annotation
	err = r.db.WithContext(ctx).
		Where("board_id = ?", board.ID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// UpdateAnnotation rewrites an annotation's body and position.
func (r *BoardRepository) UpdateAnnotation(ctx context.Context, investigationID, annotationID, body string, position json.RawMessage) (*Annotation, error) {
	if body == "" {
		return nil, lifecycle.NewValidationError("body", "must not be empty")
	}
	board, err := r.GetOrCreate(ctx, investigationID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"body": body, "updated_at": time.Now().UTC()}
	if len(position) > 0 {
		updates["position"] = []byte(position)
	}
	res := r.db.WithContext(ctx).Model(&Annotation{}).
		Where("id = ? AND board_id = ?", annotationID, board.ID).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var a Annotation
	if err := r.db.WithContext(ctx).First(&a, "id = ?", annotationID).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &a, nil
}

// DeleteAnnotation removes an annotation from the board.
func (r *BoardRepository) DeleteAnnotation(ctx context.Context, investigationID, annotationID string) error {
	board, err := r.GetOrCreate(ctx, investigationID)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).
		Where("id = ? AND board_id = ?", annotationID, board.ID).
		Delete(&Annotation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// StartVoiceSession opens a voice session for an investigation, ending any
// session still marked active so at most one is live at a time.
func (r *BoardRepository) StartVoiceSession(ctx context.Context, investigationID string, metadata json.RawMessage) (*VoiceSession, error) {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&VoiceSession{}).
		Where("investigation_id = ? AND status = ?", investigationID, VoiceActive).
		Updates(map[string]any{"status": VoiceEnded, "ended_at": now}).Error
	if err != nil {
		return nil, err
	}

	session := &VoiceSession{
		InvestigationID: investigationID,
		Status:          VoiceActive,
		StartedAt:       now,
	}
	if len(metadata) > 0 {
		session.Metadata = []byte(metadata)
	}
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

// ActiveVoiceSession returns the live session, or ErrNotFound.
func (r *BoardRepository) ActiveVoiceSession(ctx context.Context, investigationID string) (*VoiceSession, error) {
	var session VoiceSession
	err := r.db.WithContext(ctx).
		Where("investigation_id = ? AND status = ?", investigationID, VoiceActive).
		Order("started_at DESC").
		First(&session).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &session, nil
}

// ListVoiceSessions returns an investigation's voice sessions newest first.
func (r *BoardRepository) ListVoiceSessions(ctx context.Context, investigationID string) ([]VoiceSession, error) {
	var rows []VoiceSession
	err := r.db.WithContext(ctx).
		Where("investigation_id = ?", investigationID).
		Order("started_at DESC").
		Find(&rows).Error
	return rows, err
}

// AppendTranscript adds one utterance to an active session's transcript.
// The transcript is plain text, one timestamped line per utterance.
func (r *BoardRepository) AppendTranscript(ctx context.Context, investigationID, sessionID, speaker, text string) (*VoiceSession, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, lifecycle.NewValidationError("text", "must not be empty")
	}

	var session VoiceSession
	err := r.db.WithContext(ctx).
		Where("id = ? AND investigation_id = ?", sessionID, investigationID).
		First(&session).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	if session.Status != VoiceActive {
		return nil, &lifecycle.TransitionError{Reason: "voice session has ended"}
	}

	line := fmt.Sprintf("[%s] %s: %s\n", time.Now().UTC().Format(time.RFC3339), speaker, text)
	err = r.db.WithContext(ctx).Model(&VoiceSession{}).
		Where("id = ?", sessionID).
		Update("transcript", gorm.Expr("transcript || ?", line)).Error
	if err != nil {
		return nil, err
	}
	session.Transcript += line
	return &session, nil
}

// EndVoiceSession closes a session. Ending an already-ended session is a
// no-op that returns the row as is.
func (r *BoardRepository) EndVoiceSession(ctx context.Context, investigationID, sessionID string) (*VoiceSession, error) {
	var session VoiceSession
	err := r.db.WithContext(ctx).
		Where("id = ? AND investigation_id = ?", sessionID, investigationID).
		First(&session).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	if session.Status != VoiceActive {
		return &session, nil
	}

	now := time.Now().UTC()
	err = r.db.WithContext(ctx).Model(&VoiceSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{"status": VoiceEnded, "ended_at": now}).Error
	if err != nil {
		return nil, err
	}
	session.Status = VoiceEnded
	session.EndedAt = &now
	return &session, nil
}

// PositionMap decodes the positions JSON column.
func (b *Board) PositionMap() map[string]Position {
	if len(b.Positions) == 0 {
		return nil
	}
	var positions map[string]Position
	if err := json.Unmarshal(b.Positions, &positions); err != nil {
		return nil
	}
	return positions
}

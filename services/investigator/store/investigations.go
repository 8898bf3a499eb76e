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
	"time"

	"gorm.io/gorm"

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
)

// InvestigationRepository persists investigations and their plans.
type InvestigationRepository struct {
	db *gorm.DB
}

// Create inserts a new investigation.
func (r *InvestigationRepository) Create(ctx context.Context, inv *Investigation) error {
	return r.db.WithContext(ctx).Create(inv).Error
}

// Get fetches one investigation by ID.
func (r *InvestigationRepository) Get(ctx context.Context, id string) (*Investigation, error) {
	var inv Investigation
	if err := r.db.WithContext(ctx).First(&inv, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &inv, nil
}

// List returns investigations newest first, optionally filtered by status,
// along with the total count for pagination.
func (r *InvestigationRepository) List(ctx context.Context, status lifecycle.Status, limit, offset int) ([]Investigation, int64, error) {
	q := r.db.WithContext(ctx).Model(&Investigation{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows := make([]Investigation, 0, limit)
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// InvestigationUpdate carries the editable metadata of an investigation.
// Nil fields are left unchanged.
type InvestigationUpdate struct {
	Title       *string
	Description *string
	FocusAreas  *[]string
}

// UpdateDetails applies a metadata edit. Focus areas feed the planner, so
// they are only editable while the investigation is still pending; title
// and description may change at any time.
func (r *InvestigationRepository) UpdateDetails(ctx context.Context, id string, upd InvestigationUpdate) (*Investigation, error) {
	inv, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if upd.Title != nil {
		updates["title"] = *upd.Title
	}
	if upd.Description != nil {
		updates["description"] = *upd.Description
	}
	if upd.FocusAreas != nil {
		if inv.Status != lifecycle.StatusPending {
			return nil, &lifecycle.TransitionError{Reason: "focus areas are only editable while the investigation is pending"}
		}
		encoded, mErr := json.Marshal(*upd.FocusAreas)
		if mErr != nil {
			return nil, mErr
		}
		updates["focus_areas"] = encoded
	}

	err = r.db.WithContext(ctx).Model(&Investigation{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Delete removes an investigation. Plans, subtasks, entities, evidence,
// thoughts, reports and boards go with it via FK cascades.
func (r *InvestigationRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&Investigation{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionStatus atomically moves an investigation from one status to
// another. It returns false (without error) when the row was not in the
// expected source status, which is how concurrent transitions lose
// gracefully. Timestamps are maintained as side effects: entering running
// from pending stamps started_at, entering a terminal status stamps
// completed_at. errMsg lands in error_message and is cleared when empty.
func (r *InvestigationRepository) TransitionStatus(ctx context.Context, id string, from, to lifecycle.Status, errMsg string) (bool, error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":        to,
		"error_message": errMsg,
		"updated_at":    now,
	}
	if from == lifecycle.StatusPending && to == lifecycle.StatusRunning {
		updates["started_at"] = now
	}
	if to.Terminal() {
		updates["completed_at"] = now
	}

	res := r.db.WithContext(ctx).Model(&Investigation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetPhase writes the phase pointer. Monotonicity is the engine's duty
// (lifecycle.CanAdvancePhase); the store does not re-check it.
func (r *InvestigationRepository) SetPhase(ctx context.Context, id string, phase lifecycle.Phase) error {
	res := r.db.WithContext(ctx).Model(&Investigation{}).
		Where("id = ?", id).
		Updates(map[string]any{"current_phase": phase, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProgress writes the cached progress percentage and the aggregate
// confidence derived from completed subtasks. Both are recomputed
// together after every task resolution.
func (r *InvestigationRepository) SetProgress(ctx context.Context, id string, progress int, confidence float64) error {
	res := r.db.WithContext(ctx).Model(&Investigation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"progress":   progress,
			"confidence": confidence,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch refreshes updated_at, marking the investigation as alive for the
// stuck sweep while long steps run.
func (r *InvestigationRepository) Touch(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Investigation{}).
		Where("id = ?", id).
		Update("updated_at", time.Now().UTC()).Error
}

// AppendPriorityAreas adds focus areas from a redirect, preserving order
// and dropping duplicates. Returns the full list after the append.
func (r *InvestigationRepository) AppendPriorityAreas(ctx context.Context, id string, areas []string) ([]string, error) {
	inv, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	existing := inv.PriorityAreaList()
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a] = true
	}
	for _, a := range areas {
		if a == "" || seen[a] {
			continue
		}
		existing = append(existing, a)
		seen[a] = true
	}

	encoded, err := json.Marshal(existing)
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&Investigation{}).
		Where("id = ?", id).
		Updates(map[string]any{"priority_areas": encoded, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// ListStuck returns running investigations whose updated_at is older than
// the given cutoff. The janitor fails these.
func (r *InvestigationRepository) ListStuck(ctx context.Context, olderThan time.Time) ([]Investigation, error) {
	var rows []Investigation
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", lifecycle.StatusRunning, olderThan).
		Find(&rows).Error
	return rows, err
}

// ListExpired returns terminal investigations that finished before the
// given cutoff. The janitor purges these under the retention policy.
func (r *InvestigationRepository) ListExpired(ctx context.Context, olderThan time.Time) ([]Investigation, error) {
	var rows []Investigation
	err := r.db.WithContext(ctx).
		Where("status IN ? AND completed_at IS NOT NULL AND completed_at < ?",
			[]lifecycle.Status{lifecycle.StatusCompleted, lifecycle.StatusFailed}, olderThan).
		Find(&rows).Error
	return rows, err
}

// CreatePlan inserts the plan for an investigation. Plans are one per
// investigation; the unique index rejects a second.
func (r *InvestigationRepository) CreatePlan(ctx context.Context, plan *Plan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

// GetPlan returns the plan of an investigation.
func (r *InvestigationRepository) GetPlan(ctx context.Context, investigationID string) (*Plan, error) {
	var plan Plan
	err := r.db.WithContext(ctx).
		Where("investigation_id = ?", investigationID).
		First(&plan).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &plan, nil
}

// FocusAreaList decodes the focus areas JSON column.
func (i *Investigation) FocusAreaList() []string {
	return decodeStringList(i.FocusAreas)
}

// PriorityAreaList decodes the priority areas JSON column.
func (i *Investigation) PriorityAreaList() []string {
	return decodeStringList(i.PriorityAreas)
}

func decodeStringList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
)

// SubtaskRepository persists the research task queue.
type SubtaskRepository struct {
	db *gorm.DB
}

// CreateBatch inserts a set of subtasks in one statement.
func (r *SubtaskRepository) CreateBatch(ctx context.Context, tasks []Subtask) error {
	if len(tasks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&tasks).Error
}

// Get fetches one subtask by ID.
func (r *SubtaskRepository) Get(ctx context.Context, id string) (*Subtask, error) {
	var task Subtask
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &task, nil
}

// ListByInvestigation returns an investigation's subtasks in plan order.
// An empty status returns all of them.
func (r *SubtaskRepository) ListByInvestigation(ctx context.Context, investigationID string, status lifecycle.TaskStatus) ([]Subtask, error) {
	q := r.db.WithContext(ctx).Where("investigation_id = ?", investigationID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []Subtask
	err := q.Order("sequence ASC, created_at ASC").Find(&rows).Error
	return rows, err
}

// ListPendingByPhase returns the pending subtasks of one phase group in
// execution order (priority, then plan sequence). Phase advancement and
// resume both enqueue from this list.
func (r *SubtaskRepository) ListPendingByPhase(ctx context.Context, investigationID string, phase lifecycle.Phase) ([]Subtask, error) {
	var rows []Subtask
	err := r.db.WithContext(ctx).
		Where("investigation_id = ? AND phase = ? AND status = ?", investigationID, phase, lifecycle.TaskPending).
		Order("priority ASC, sequence ASC").
		Find(&rows).Error
	return rows, err
}

// Claim atomically takes a pending subtask for execution. Exactly one of
// many concurrent claimers wins: the guarded UPDATE only matches rows
// still in pending. The returned bool reports whether this caller won.
func (r *SubtaskRepository) Claim(ctx context.Context, id string) (*Subtask, bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&Subtask{}).
		Where("id = ? AND status = ?", id, lifecycle.TaskPending).
		Updates(map[string]any{
			"status":     lifecycle.TaskInProgress,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}

	task, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return task, true, nil
}

// Release hands a claimed subtask back untouched, un-counting the claim's
// attempt. Workers release when they find the investigation paused after
// claiming; the pause must not burn one of the task's tries.
func (r *SubtaskRepository) Release(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&Subtask{}).
		Where("id = ? AND status = ?", id, lifecycle.TaskInProgress).
		Updates(map[string]any{
			"status":     lifecycle.TaskPending,
			"attempts":   gorm.Expr("MAX(attempts - 1, 0)"),
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

// Requeue puts a failed attempt back to pending for a later retry. The
// attempt counted by Claim stays counted; errMsg records what went wrong.
func (r *SubtaskRepository) Requeue(ctx context.Context, id, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&Subtask{}).
		Where("id = ? AND status = ?", id, lifecycle.TaskInProgress).
		Updates(map[string]any{
			"status":        lifecycle.TaskPending,
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete marks a subtask done with its full result payload and the
// confidence the step reported.
func (r *SubtaskRepository) Complete(ctx context.Context, id string, raw []byte, confidence float64) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":        lifecycle.TaskCompleted,
		"confidence":    confidence,
		"completed_at":  now,
		"updated_at":    now,
		"error_message": "",
	}
	if len(raw) > 0 {
		updates["result"] = raw
	}
	res := r.db.WithContext(ctx).Model(&Subtask{}).
		Where("id = ? AND status = ?", id, lifecycle.TaskInProgress).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail marks a subtask permanently failed after its attempts ran out.
func (r *SubtaskRepository) Fail(ctx context.Context, id, errMsg string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&Subtask{}).
		Where("id = ? AND status = ?", id, lifecycle.TaskInProgress).
		Updates(map[string]any{
			"status":        lifecycle.TaskFailed,
			"error_message": errMsg,
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AbandonPending marks pending subtasks of an investigation as abandoned
// and returns their IDs. A non-empty phase limits the sweep to that phase
// group (redirects drop only undone research); empty abandons everything
// still pending (cancel, timeout).
func (r *SubtaskRepository) AbandonPending(ctx context.Context, investigationID string, phase lifecycle.Phase) ([]string, error) {
	q := r.db.WithContext(ctx).Model(&Subtask{}).
		Where("investigation_id = ? AND status = ?", investigationID, lifecycle.TaskPending)
	if phase != "" {
		q = q.Where("phase = ?", phase)
	}

	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	err := r.db.WithContext(ctx).Model(&Subtask{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":     lifecycle.TaskAbandoned,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Counts tallies an investigation's subtasks by status in one query.
// A non-empty phase narrows the tally to that phase group.
func (r *SubtaskRepository) Counts(ctx context.Context, investigationID string, phase lifecycle.Phase) (lifecycle.TaskCounts, error) {
	var rows []struct {
		Status lifecycle.TaskStatus
		Total  int
	}
	q := r.db.WithContext(ctx).Model(&Subtask{}).
		Select("status, COUNT(*) AS total").
		Where("investigation_id = ?", investigationID)
	if phase != "" {
		q = q.Where("phase = ?", phase)
	}
	if err := q.Group("status").Scan(&rows).Error; err != nil {
		return lifecycle.TaskCounts{}, err
	}

	var counts lifecycle.TaskCounts
	for _, row := range rows {
		switch row.Status {
		case lifecycle.TaskPending:
			counts.Pending = row.Total
		case lifecycle.TaskInProgress:
			counts.InProgress = row.Total
		case lifecycle.TaskCompleted:
			counts.Completed = row.Total
		case lifecycle.TaskFailed:
			counts.Failed = row.Total
		case lifecycle.TaskAbandoned:
			counts.Abandoned = row.Total
		}
	}
	return counts, nil
}

// CompletedConfidences returns the confidence of every completed subtask,
// the inputs to the investigation's aggregate confidence.
func (r *SubtaskRepository) CompletedConfidences(ctx context.Context, investigationID string) ([]float64, error) {
	var values []float64
	err := r.db.WithContext(ctx).Model(&Subtask{}).
		Where("investigation_id = ? AND status = ?", investigationID, lifecycle.TaskCompleted).
		Pluck("confidence", &values).Error
	return values, err
}

// MaxSequence returns the highest sequence number among an investigation's
// subtasks. Redirect-synthesized tasks continue numbering from here.
func (r *SubtaskRepository) MaxSequence(ctx context.Context, investigationID string) (int, error) {
	var max int
	err := r.db.WithContext(ctx).Model(&Subtask{}).
		Where("investigation_id = ?", investigationID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&max).Error
	return max, err
}

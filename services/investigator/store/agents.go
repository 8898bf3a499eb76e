// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"

	"gorm.io/gorm"
)

// AgentRepository persists the reasoning trail: thought chain entries and
// decision records. Both are append-only.
type AgentRepository struct {
	db *gorm.DB
}

// AddThought appends a thought, assigning the next sequence number for its
// investigation. Sequence ordering is what watchers replay, so assignment
// and insert run in one transaction.
func (r *AgentRepository) AddThought(ctx context.Context, t *ThoughtChain) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var max int
		err := tx.Model(&ThoughtChain{}).
			Where("investigation_id = ?", t.InvestigationID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&max).Error
		if err != nil {
			return err
		}
		t.Sequence = max + 1
		return tx.Create(t).Error
	})
}

// ListThoughts returns an investigation's thoughts in sequence order. A
// limit of zero returns everything.
func (r *AgentRepository) ListThoughts(ctx context.Context, investigationID string, limit int) ([]ThoughtChain, error) {
	q := r.db.WithContext(ctx).
		Where("investigation_id = ?", investigationID).
		Order("sequence ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []ThoughtChain
	err := q.Find(&rows).Error
	return rows, err
}

// LatestThought returns the most recent thought, or ErrNotFound when the
// investigation has none yet.
func (r *AgentRepository) LatestThought(ctx context.Context, investigationID string) (*ThoughtChain, error) {
	var t ThoughtChain
	err := r.db.WithContext(ctx).
		Where("investigation_id = ?", investigationID).
		Order("sequence DESC").
		First(&t).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &t, nil
}

func (r *AgentRepository) AddDecision(ctx context.Context, d *AgentDecision) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *AgentRepository) ListDecisions(ctx context.Context, investigationID string) ([]AgentDecision, error) {
	var rows []AgentDecision
	err := r.db.WithContext(ctx).
		Where("investigation_id = ?", investigationID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

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
	"gorm.io/gorm/clause"

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
)

// EvidenceRepository persists evidence items and their links into the graph.
type EvidenceRepository struct {
	db *gorm.DB
}

// EvidenceLink describes how one evidence item bears on a graph row:
// how relevant it is, whether it supports or contradicts, and an optional
// quote from the evidence body.
type EvidenceLink struct {
	TargetID  string
	Relevance float64
	Support   string
	Quote     string
}

func normalizeSupport(s string) string {
	switch s {
	case "supports", "contradicts":
		return s
	default:
		return "neutral"
	}
}

// Create inserts an evidence item and links it to already-known entities
// and relationships. Every linked row must belong to the same
// investigation as the evidence; a mismatch rejects the whole write.
func (r *EvidenceRepository) Create(ctx context.Context, ev *Evidence, entityLinks, relationshipLinks []EvidenceLink) error {
	if ev.Content == "" {
		return lifecycle.NewValidationError("content", "must not be empty")
	}
	if ev.EvidenceType == "" {
		ev.EvidenceType = "other"
	}
	ev.Reliability = clampConfidence(ev.Reliability)

	if len(entityLinks) > 0 {
		ids := linkTargets(entityLinks)
		var count int64
		err := r.db.WithContext(ctx).Model(&Entity{}).
			Where("investigation_id = ? AND id IN ?", ev.InvestigationID, ids).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count != int64(len(ids)) {
			return lifecycle.NewConsistencyViolation("evidence may only link entities from investigation %s", ev.InvestigationID)
		}
	}
	if len(relationshipLinks) > 0 {
		ids := linkTargets(relationshipLinks)
		var count int64
		err := r.db.WithContext(ctx).Model(&Relationship{}).
			Where("investigation_id = ? AND id IN ?", ev.InvestigationID, ids).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count != int64(len(ids)) {
			return lifecycle.NewConsistencyViolation("evidence may only link relationships from investigation %s", ev.InvestigationID)
		}
	}

	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return err
	}

	for _, l := range entityLinks {
		link := EvidenceEntityLink{
			EvidenceID: ev.ID,
			EntityID:   l.TargetID,
			Relevance:  clampConfidence(l.Relevance),
			Support:    normalizeSupport(l.Support),
			Quote:      l.Quote,
		}
		err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&link).Error
		if err != nil {
			return err
		}
	}
	for _, l := range relationshipLinks {
		link := EvidenceRelationshipLink{
			EvidenceID:     ev.ID,
			RelationshipID: l.TargetID,
			Relevance:      clampConfidence(l.Relevance),
			Support:        normalizeSupport(l.Support),
			Quote:          l.Quote,
		}
		err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&link).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// LinkEntity attaches one more entity to existing evidence, verifying both
// rows share the investigation. Re-linking an already linked pair is a
// no-op.
func (r *EvidenceRepository) LinkEntity(ctx context.Context, investigationID, evidenceID string, l EvidenceLink) error {
	if _, err := r.Get(ctx, investigationID, evidenceID); err != nil {
		return err
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&Entity{}).
		Where("investigation_id = ? AND id = ?", investigationID, l.TargetID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return lifecycle.NewConsistencyViolation("evidence may only link entities from investigation %s", investigationID)
	}

	link := EvidenceEntityLink{
		EvidenceID: evidenceID,
		EntityID:   l.TargetID,
		Relevance:  clampConfidence(l.Relevance),
		Support:    normalizeSupport(l.Support),
		Quote:      l.Quote,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&link).Error
}

// Get fetches one evidence item scoped to its investigation.
func (r *EvidenceRepository) Get(ctx context.Context, investigationID, id string) (*Evidence, error) {
	var ev Evidence
	err := r.db.WithContext(ctx).
		Where("id = ? AND investigation_id = ?", id, investigationID).
		First(&ev).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &ev, nil
}

// ListByInvestigation returns an investigation's evidence, newest first.
// analyzed narrows to items that have (true) or have not (false) been read
// by a document-analysis pass.
func (r *EvidenceRepository) ListByInvestigation(ctx context.Context, investigationID string, analyzed *bool) ([]Evidence, error) {
	q := r.db.WithContext(ctx).Where("investigation_id = ?", investigationID)
	if analyzed != nil {
		if *analyzed {
			q = q.Where("analysis IS NOT NULL")
		} else {
			q = q.Where("analysis IS NULL")
		}
	}
	var rows []Evidence
	err := q.Order("created_at DESC").Find(&rows).Error
	return rows, err
}

// ListForEntity returns evidence linked to one entity, newest first.
func (r *EvidenceRepository) ListForEntity(ctx context.Context, entityID string) ([]Evidence, error) {
	var rows []Evidence
	err := r.db.WithContext(ctx).
		Joins("JOIN evidence_entity_links ON evidence_entity_links.evidence_id = evidence.id").
		Where("evidence_entity_links.entity_id = ?", entityID).
		Order("evidence.created_at DESC").
		Find(&rows).Error
	return rows, err
}

// LinkedEntityIDs returns the entity IDs an evidence item bears on.
func (r *EvidenceRepository) LinkedEntityIDs(ctx context.Context, evidenceID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&EvidenceEntityLink{}).
		Where("evidence_id = ?", evidenceID).
		Order("created_at ASC").
		Pluck("entity_id", &ids).Error
	return ids, err
}

// SetAnalysis stores the model's reading of an evidence item and adjusts
// its reliability to what the analysis concluded.
func (r *EvidenceRepository) SetAnalysis(ctx context.Context, investigationID, id string, analysis []byte, reliability float64) (*Evidence, error) {
	res := r.db.WithContext(ctx).Model(&Evidence{}).
		Where("id = ? AND investigation_id = ?", id, investigationID).
		Updates(map[string]any{
			"analysis":    analysis,
			"reliability": clampConfidence(reliability),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, investigationID, id)
}

func linkTargets(links []EvidenceLink) []string {
	seen := make(map[string]bool, len(links))
	ids := make([]string, 0, len(links))
	for _, l := range links {
		if l.TargetID == "" || seen[l.TargetID] {
			continue
		}
		seen[l.TargetID] = true
		ids = append(ids, l.TargetID)
	}
	return ids
}

// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// =============================================================================
// # Description
// Graph repository: merge-on-write entity store and the relationship edges
// between entities. Every discovery of an entity lands here as an
// observation; observations of the same (investigation, normalized name,
// type) identity collapse into one entity whose confidence and source count
// are derived from its mentions. Lookups are alias-aware, so an entity
// rediscovered under a different surface form still merges instead of
// duplicating. The mention table's uniqueness per (entity, subtask) makes
// re-integrating the same step result a no-op.
//
// # Inputs
// EntityObservation / RelationshipObservation values produced by the
// research engine from planner step results, or by REST handlers for
// manual curation.
//
// # Outputs
// Canonical Entity and Relationship rows plus a created/merged flag so the
// caller can emit the right realtime event.
// =============================================================================

package store

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
)

// GraphRepository persists entities, mentions and relationships.
type GraphRepository struct {
	db *gorm.DB
}

// EntityObservation is one sighting of an entity inside a step result.
// SubtaskID is empty for manual curation; the mention then carries NULL.
type EntityObservation struct {
	InvestigationID string
	SubtaskID       string
	Name            string
	EntityType      string
	Description     string
	Aliases         []string
	Attributes      map[string]any
	Confidence      float64
}

// RelationshipObservation is one sighting of an edge between two entities
// that already exist in the graph.
type RelationshipObservation struct {
	InvestigationID string
	SourceEntityID  string
	TargetEntityID  string
	Type            string
	Description     string
	Attributes      map[string]any
	Confidence      float64
}

// EntityUpdate carries the mutable fields of a manual entity edit. Nil
// means leave unchanged; a non-nil Attributes replaces the whole map.
type EntityUpdate struct {
	Name        *string
	Description *string
	Attributes  map[string]any
}

// MergeEntity folds an observation into the graph. The entity identity is
// (investigation, normalized name, type): the first observation creates the
// row, later ones add a mention and refresh the derived fields. Lookups
// also match the observation's name against stored aliases, so "The Acme
// Group" merges into "Acme Corp" once either has been recorded as an alias
// of the other. Returns the canonical entity and whether this call created
// it.
//
// Derived fields after every merge:
//   - source_count = number of mentions
//   - confidence   = mean confidence across mentions
//   - description  = first non-empty description wins
//   - aliases      = every distinct surface form seen, canonical name excluded
//   - attributes   = union of maps, existing values win on key conflicts
func (r *GraphRepository) MergeEntity(ctx context.Context, obs EntityObservation) (*Entity, bool, error) {
	name := strings.TrimSpace(obs.Name)
	if name == "" {
		return nil, false, lifecycle.NewValidationError("name", "must not be empty")
	}
	entityType := strings.TrimSpace(strings.ToLower(obs.EntityType))
	if entityType == "" {
		entityType = "other"
	}
	normalized := NormalizeEntityName(name)

	created := false
	entity, err := r.findByIdentity(ctx, obs.InvestigationID, normalized, entityType)
	if errors.Is(err, ErrNotFound) {
		entity, err = r.findByAlias(ctx, obs.InvestigationID, entityType, normalized)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		fresh := Entity{
			InvestigationID: obs.InvestigationID,
			Name:            name,
			NormalizedName:  normalized,
			EntityType:      entityType,
			Description:     obs.Description,
			Confidence:      clampConfidence(obs.Confidence),
		}
		if encoded, mErr := encodeAliases(nil, normalized, obs.Aliases); mErr != nil {
			return nil, false, mErr
		} else if encoded != nil {
			fresh.Aliases = encoded
		}
		if len(obs.Attributes) > 0 {
			encoded, mErr := json.Marshal(obs.Attributes)
			if mErr != nil {
				return nil, false, mErr
			}
			fresh.Attributes = encoded
		}
		if cErr := r.db.WithContext(ctx).Create(&fresh).Error; cErr != nil {
			// Lost an insert race on the identity index: someone else
			// created the row between our lookup and insert. Re-read it.
			entity, err = r.findByIdentity(ctx, obs.InvestigationID, normalized, entityType)
			if err != nil {
				return nil, false, cErr
			}
		} else {
			entity = &fresh
			created = true
		}
	case err != nil:
		return nil, false, err
	}

	mention := EntityMention{
		EntityID:   entity.ID,
		Surface:    name,
		Confidence: clampConfidence(obs.Confidence),
	}
	if obs.SubtaskID != "" {
		mention.SubtaskID = &obs.SubtaskID
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&mention).Error
	if err != nil {
		return nil, false, err
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}

	var agg struct {
		Total int
		Mean  float64
	}
	err = r.db.WithContext(ctx).Model(&EntityMention{}).
		Select("COUNT(*) AS total, COALESCE(AVG(confidence), 0) AS mean").
		Where("entity_id = ?", entity.ID).
		Scan(&agg).Error
	if err != nil {
		return nil, false, err
	}
	if agg.Total > 0 {
		updates["source_count"] = agg.Total
		updates["confidence"] = agg.Mean
	}

	if entity.Description == "" && obs.Description != "" {
		updates["description"] = obs.Description
	}

	if !created {
		// Surface forms that differ from the canonical name become aliases.
		observed := append([]string{name}, obs.Aliases...)
		if encoded, changed, mErr := appendAliases(entity, observed); mErr != nil {
			return nil, false, mErr
		} else if changed {
			updates["aliases"] = encoded
		}

		if len(obs.Attributes) > 0 {
			merged := entity.AttributeMap()
			if merged == nil {
				merged = make(map[string]any, len(obs.Attributes))
			}
			changed := false
			for k, v := range obs.Attributes {
				if _, exists := merged[k]; !exists {
					merged[k] = v
					changed = true
				}
			}
			if changed {
				encoded, mErr := json.Marshal(merged)
				if mErr != nil {
					return nil, false, mErr
				}
				updates["attributes"] = encoded
			}
		}
	}

	err = r.db.WithContext(ctx).Model(&Entity{}).
		Where("id = ?", entity.ID).
		Updates(updates).Error
	if err != nil {
		return nil, false, err
	}

	fresh, err := r.getByID(ctx, entity.ID)
	if err != nil {
		return nil, false, err
	}
	return fresh, created, nil
}

// UpdateEntity applies a manual edit. Renames move the entity to a new
// identity: when another entity already holds (investigation, new name,
// type), the edit is refused with a merge conflict naming it, and the
// caller decides what to merge. A successful rename keeps the old name as
// an alias.
func (r *GraphRepository) UpdateEntity(ctx context.Context, investigationID, id string, upd EntityUpdate) (*Entity, error) {
	entity, err := r.GetEntity(ctx, investigationID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}

	if upd.Name != nil {
		newName := strings.TrimSpace(*upd.Name)
		if newName == "" {
			return nil, lifecycle.NewValidationError("name", "must not be empty")
		}
		newNormalized := NormalizeEntityName(newName)
		if newNormalized != entity.NormalizedName {
			var other Entity
			err := r.db.WithContext(ctx).
				Where("investigation_id = ? AND normalized_name = ? AND entity_type = ? AND id <> ?",
					investigationID, newNormalized, entity.EntityType, entity.ID).
				First(&other).Error
			switch {
			case err == nil:
				return nil, lifecycle.NewMergeConflict("entity %q already exists as %s", newName, other.ID)
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return nil, err
			}

			if encoded, changed, mErr := appendAliases(entity, []string{entity.Name}); mErr != nil {
				return nil, mErr
			} else if changed {
				updates["aliases"] = encoded
			}
			updates["normalized_name"] = newNormalized
		}
		updates["name"] = newName
	}
	if upd.Description != nil {
		updates["description"] = strings.TrimSpace(*upd.Description)
	}
	if upd.Attributes != nil {
		encoded, mErr := json.Marshal(upd.Attributes)
		if mErr != nil {
			return nil, mErr
		}
		updates["attributes"] = encoded
	}

	err = r.db.WithContext(ctx).Model(&Entity{}).
		Where("id = ?", entity.ID).
		Updates(updates).Error
	if err != nil {
		return nil, err
	}
	return r.getByID(ctx, entity.ID)
}

// DeleteEntity removes an entity. Mentions and touching relationships
// cascade away; board annotations pinned to it detach instead.
func (r *GraphRepository) DeleteEntity(ctx context.Context, investigationID, id string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND investigation_id = ?", id, investigationID).
		Delete(&Entity{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEntity fetches an entity scoped to its investigation.
func (r *GraphRepository) GetEntity(ctx context.Context, investigationID, id string) (*Entity, error) {
	var entity Entity
	err := r.db.WithContext(ctx).
		Where("id = ? AND investigation_id = ?", id, investigationID).
		First(&entity).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &entity, nil
}

func (r *GraphRepository) getByID(ctx context.Context, id string) (*Entity, error) {
	var entity Entity
	if err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &entity, nil
}

func (r *GraphRepository) findByIdentity(ctx context.Context, investigationID, normalized, entityType string) (*Entity, error) {
	var entity Entity
	err := r.db.WithContext(ctx).
		Where("investigation_id = ? AND normalized_name = ? AND entity_type = ?",
			investigationID, normalized, entityType).
		First(&entity).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &entity, nil
}

// findByAlias scans same-type entities carrying aliases and matches the
// normalized forms in Go; alias lists are short and normalization lives
// here, not in SQL.
func (r *GraphRepository) findByAlias(ctx context.Context, investigationID, entityType, normalized string) (*Entity, error) {
	var candidates []Entity
	err := r.db.WithContext(ctx).
		Where("investigation_id = ? AND entity_type = ? AND aliases IS NOT NULL",
			investigationID, entityType).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		for _, alias := range candidates[i].AliasList() {
			if NormalizeEntityName(alias) == normalized {
				return &candidates[i], nil
			}
		}
	}
	return nil, ErrNotFound
}

// FindEntityByName resolves an entity by normalized name or alias within
// an investigation, searching all types. Used to wire relationship
// endpoints named in step results back to canonical rows.
func (r *GraphRepository) FindEntityByName(ctx context.Context, investigationID, name string) (*Entity, error) {
	normalized := NormalizeEntityName(name)

	var entity Entity
	err := r.db.WithContext(ctx).
		Where("investigation_id = ? AND normalized_name = ?", investigationID, normalized).
		Order("source_count DESC, created_at ASC").
		First(&entity).Error
	if err == nil {
		return &entity, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var candidates []Entity
	err = r.db.WithContext(ctx).
		Where("investigation_id = ? AND aliases IS NOT NULL", investigationID).
		Order("source_count DESC, created_at ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		for _, alias := range candidates[i].AliasList() {
			if NormalizeEntityName(alias) == normalized {
				return &candidates[i], nil
			}
		}
	}
	return nil, ErrNotFound
}

// ListEntities returns an investigation's entities, best-supported first.
// entityType and search are optional filters; search matches a substring of
// the normalized name.
func (r *GraphRepository) ListEntities(ctx context.Context, investigationID, entityType, search string) ([]Entity, error) {
	q := r.db.WithContext(ctx).Where("investigation_id = ?", investigationID)
	if entityType != "" {
		q = q.Where("entity_type = ?", strings.ToLower(entityType))
	}
	if search != "" {
		q = q.Where("normalized_name LIKE ?", "%"+NormalizeEntityName(search)+"%")
	}
	var rows []Entity
	err := q.Order("source_count DESC, confidence DESC, created_at ASC").Find(&rows).Error
	return rows, err
}

// ListMentions returns the raw sightings behind an entity, oldest first.
func (r *GraphRepository) ListMentions(ctx context.Context, entityID string) ([]EntityMention, error) {
	var rows []EntityMention
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// UpsertRelationship folds an edge observation into the graph. The edge
// identity is (source, target, type). Re-observations keep the higher
// confidence, fill in a missing description, and add attribute keys that
// are not already set. Both endpoints must exist in the same
// investigation; self-loops are rejected.
func (r *GraphRepository) UpsertRelationship(ctx context.Context, obs RelationshipObservation) (*Relationship, bool, error) {
	if obs.SourceEntityID == obs.TargetEntityID {
		return nil, false, lifecycle.NewValidationError("target_entity_id", "relationship cannot connect an entity to itself")
	}
	relType := strings.TrimSpace(strings.ToLower(obs.Type))
	if relType == "" {
		relType = "related_to"
	}

	if err := r.requireSameInvestigation(ctx, obs.InvestigationID, obs.SourceEntityID, obs.TargetEntityID); err != nil {
		return nil, false, err
	}

	var rel Relationship
	err := r.db.WithContext(ctx).
		Where("source_entity_id = ? AND target_entity_id = ? AND relationship_type = ?",
			obs.SourceEntityID, obs.TargetEntityID, relType).
		First(&rel).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rel = Relationship{
			InvestigationID:  obs.InvestigationID,
			SourceEntityID:   obs.SourceEntityID,
			TargetEntityID:   obs.TargetEntityID,
			RelationshipType: relType,
			Description:      obs.Description,
			Confidence:       clampConfidence(obs.Confidence),
		}
		if len(obs.Attributes) > 0 {
			encoded, mErr := json.Marshal(obs.Attributes)
			if mErr != nil {
				return nil, false, mErr
			}
			rel.Attributes = encoded
		}
		if cErr := r.db.WithContext(ctx).Create(&rel).Error; cErr != nil {
			rErr := r.db.WithContext(ctx).
				Where("source_entity_id = ? AND target_entity_id = ? AND relationship_type = ?",
					obs.SourceEntityID, obs.TargetEntityID, relType).
				First(&rel).Error
			if rErr != nil {
				return nil, false, cErr
			}
		} else {
			return &rel, true, nil
		}
	case err != nil:
		return nil, false, err
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if c := clampConfidence(obs.Confidence); c > rel.Confidence {
		updates["confidence"] = c
	}
	if rel.Description == "" && obs.Description != "" {
		updates["description"] = obs.Description
	}
	if len(obs.Attributes) > 0 {
		merged := rel.AttributeMap()
		if merged == nil {
			merged = make(map[string]any, len(obs.Attributes))
		}
		changed := false
		for k, v := range obs.Attributes {
			if _, exists := merged[k]; !exists {
				merged[k] = v
				changed = true
			}
		}
		if changed {
			encoded, mErr := json.Marshal(merged)
			if mErr != nil {
				return nil, false, mErr
			}
			updates["attributes"] = encoded
		}
	}
	err = r.db.WithContext(ctx).Model(&Relationship{}).
		Where("id = ?", rel.ID).
		Updates(updates).Error
	if err != nil {
		return nil, false, err
	}

	err = r.db.WithContext(ctx).First(&rel, "id = ?", rel.ID).Error
	if err != nil {
		return nil, false, translateNotFound(err)
	}
	return &rel, false, nil
}

// GetRelationship fetches an edge scoped to its investigation.
func (r *GraphRepository) GetRelationship(ctx context.Context, investigationID, id string) (*Relationship, error) {
	var rel Relationship
	err := r.db.WithContext(ctx).
		Where("id = ? AND investigation_id = ?", id, investigationID).
		First(&rel).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &rel, nil
}

// SetRelationshipConfidence overrides an edge's confidence by hand.
func (r *GraphRepository) SetRelationshipConfidence(ctx context.Context, investigationID, id string, confidence float64) (*Relationship, error) {
	res := r.db.WithContext(ctx).Model(&Relationship{}).
		Where("id = ? AND investigation_id = ?", id, investigationID).
		Updates(map[string]any{
			"confidence": clampConfidence(confidence),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.GetRelationship(ctx, investigationID, id)
}

// DeleteRelationship removes an edge. Evidence links to it cascade away.
func (r *GraphRepository) DeleteRelationship(ctx context.Context, investigationID, id string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND investigation_id = ?", id, investigationID).
		Delete(&Relationship{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRelationships returns an investigation's edges. entityID optionally
// restricts to edges touching that entity on either end.
func (r *GraphRepository) ListRelationships(ctx context.Context, investigationID, entityID string) ([]Relationship, error) {
	q := r.db.WithContext(ctx).Where("investigation_id = ?", investigationID)
	if entityID != "" {
		q = q.Where("source_entity_id = ? OR target_entity_id = ?", entityID, entityID)
	}
	var rows []Relationship
	err := q.Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// requireSameInvestigation verifies that every listed entity exists and
// belongs to the given investigation. Edges may not cross investigations.
func (r *GraphRepository) requireSameInvestigation(ctx context.Context, investigationID string, entityIDs ...string) error {
	unique := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		if id != "" {
			unique[id] = true
		}
	}
	if len(unique) == 0 {
		return nil
	}
	ids := make([]string, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&Entity{}).
		Where("investigation_id = ? AND id IN ?", investigationID, ids).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count != int64(len(ids)) {
		return lifecycle.NewConsistencyViolation("entities must belong to investigation %s", investigationID)
	}
	return nil
}

// AttributeMap decodes the attributes JSON column.
func (e *Entity) AttributeMap() map[string]any {
	return decodeAttributeMap(e.Attributes)
}

// AliasList decodes the aliases JSON column.
func (e *Entity) AliasList() []string {
	return decodeStringList(e.Aliases)
}

// AttributeMap decodes the attributes JSON column.
func (rel *Relationship) AttributeMap() map[string]any {
	return decodeAttributeMap(rel.Attributes)
}

func decodeAttributeMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil
	}
	return attrs
}

// appendAliases adds the surface forms that are new to the entity and
// reports whether anything changed. Forms that normalize to the canonical
// name or an existing alias are skipped.
func appendAliases(entity *Entity, surfaces []string) (encoded []byte, changed bool, err error) {
	aliases := entity.AliasList()
	seen := make(map[string]bool, len(aliases)+1)
	seen[entity.NormalizedName] = true
	for _, a := range aliases {
		seen[NormalizeEntityName(a)] = true
	}

	for _, s := range surfaces {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n := NormalizeEntityName(s)
		if seen[n] {
			continue
		}
		aliases = append(aliases, s)
		seen[n] = true
		changed = true
	}
	if !changed {
		return nil, false, nil
	}
	encoded, err = json.Marshal(aliases)
	return encoded, err == nil, err
}

// encodeAliases builds the initial alias list for a new entity, dropping
// forms that normalize to the canonical name.
func encodeAliases(aliases []string, canonicalNormalized string, observed []string) ([]byte, error) {
	seen := map[string]bool{canonicalNormalized: true}
	for _, a := range aliases {
		seen[NormalizeEntityName(a)] = true
	}
	out := aliases
	for _, s := range observed {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n := NormalizeEntityName(s)
		if seen[n] {
			continue
		}
		out = append(out, s)
		seen[n] = true
	}
	if len(out) == 0 {
		return nil, nil
	}
	return json.Marshal(out)
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
	"github.com/investigator-ai/investigator/services/investigator/realtime"
	"github.com/investigator-ai/investigator/services/investigator/store"
	"github.com/investigator-ai/investigator/services/planner"
)

// discoveries collects the events an integration produced, published only
// after the transaction commits. Nothing is announced that was not stored.
type discoveries struct {
	investigation []realtime.Event
	board         []realtime.Event
	skipped       []string
}

// completeTask folds a step result into the graph and marks the subtask
// completed, both in one transaction under the investigation lock. A
// crash between planner success and the commit re-runs the whole step;
// mention uniqueness makes the second integration a no-op.
func (e *Engine) completeTask(ctx context.Context, inv *store.Investigation, task *store.Subtask, result *planner.StepResult) error {
	unlock := e.locks.lock(inv.ID)
	defer unlock()

	var disc discoveries
	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		d, err := e.integrateResult(ctx, tx, inv.ID, task, result)
		if err != nil {
			return err
		}
		disc = d

		raw := []byte(result.Raw)
		if len(raw) == 0 {
			raw, err = encodeJSON(result)
			if err != nil {
				return err
			}
		}
		return tx.Subtasks.Complete(ctx, task.ID, raw, clamp01(result.Confidence))
	})
	if err != nil {
		return err
	}

	e.publishDiscoveries(inv.ID, disc)
	if len(disc.skipped) > 0 {
		e.recordThought(ctx, inv.ID, &task.ID, store.ThoughtObservation,
			fmt.Sprintf("Skipped %d relationship(s) naming unknown entities: %s",
				len(disc.skipped), strings.Join(disc.skipped, "; ")))
	}
	if result.Summary != "" {
		e.recordThought(ctx, inv.ID, &task.ID, store.ThoughtObservation, result.Summary)
	}
	return nil
}

// integrateResult applies one step result to the graph inside tx.
//
// Entities merge by identity; relationships resolve their endpoints by
// found name (current step first, then the whole investigation's graph);
// evidence rows link to whichever named entities resolved. Unresolvable
// relationship endpoints are skipped rather than invented.
func (e *Engine) integrateResult(ctx context.Context, tx *store.Store, investigationID string, task *store.Subtask, result *planner.StepResult) (discoveries, error) {
	var disc discoveries

	resolved := make(map[string]string) // normalized found name -> entity id
	resolve := func(name string) (string, error) {
		key := store.NormalizeEntityName(name)
		if key == "" {
			return "", nil
		}
		if id, ok := resolved[key]; ok {
			return id, nil
		}
		entity, err := tx.Graph.FindEntityByName(ctx, investigationID, name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				resolved[key] = ""
				return "", nil
			}
			return "", err
		}
		resolved[key] = entity.ID
		return entity.ID, nil
	}

	for _, found := range result.Entities {
		if strings.TrimSpace(found.Name) == "" {
			continue
		}
		entity, created, err := tx.Graph.MergeEntity(ctx, store.EntityObservation{
			InvestigationID: investigationID,
			SubtaskID:       task.ID,
			Name:            found.Name,
			EntityType:      defaultString(found.EntityType, "other"),
			Description:     found.Description,
			Aliases:         found.Aliases,
			Attributes:      found.Attributes,
			Confidence:      clamp01(found.Confidence),
		})
		if err != nil {
			if lifecycle.IsValidation(err) {
				slog.Warn("entity observation rejected", "investigation_id", investigationID,
					"entity", found.Name, "error", err)
				continue
			}
			return disc, err
		}

		resolved[store.NormalizeEntityName(found.Name)] = entity.ID
		if task.EvidenceID != nil {
			// Analysis of a specific evidence item links every entity it
			// surfaced back to that evidence.
			err := tx.Evidence.LinkEntity(ctx, investigationID, *task.EvidenceID, store.EvidenceLink{
				TargetID:  entity.ID,
				Relevance: clamp01(found.Confidence),
				Support:   "neutral",
			})
			if err != nil && !lifecycle.IsConsistency(err) && !errors.Is(err, store.ErrNotFound) {
				return disc, err
			}
		}
		if created {
			disc.investigation = append(disc.investigation,
				realtime.NewEvent(realtime.EventEntityDiscovered, investigationID, map[string]any{
					"entity_id":   entity.ID,
					"name":        entity.Name,
					"entity_type": entity.EntityType,
					"confidence":  entity.Confidence,
				}))
			disc.board = append(disc.board,
				realtime.NewEvent(realtime.EventNodeAdded, investigationID, map[string]any{
					"entity_id":   entity.ID,
					"name":        entity.Name,
					"entity_type": entity.EntityType,
				}))
		}
	}

	for _, found := range result.Relationships {
		sourceID, err := resolve(found.SourceName)
		if err != nil {
			return disc, err
		}
		targetID, err := resolve(found.TargetName)
		if err != nil {
			return disc, err
		}
		if sourceID == "" || targetID == "" || sourceID == targetID {
			disc.skipped = append(disc.skipped,
				fmt.Sprintf("%s -> %s", found.SourceName, found.TargetName))
			continue
		}

		rel, created, err := tx.Graph.UpsertRelationship(ctx, store.RelationshipObservation{
			InvestigationID: investigationID,
			SourceEntityID:  sourceID,
			TargetEntityID:  targetID,
			Type:            defaultString(found.RelationshipType, "related_to"),
			Description:     found.Description,
			Confidence:      clamp01(found.Confidence),
		})
		if err != nil {
			if lifecycle.IsValidation(err) || lifecycle.IsConsistency(err) {
				disc.skipped = append(disc.skipped,
					fmt.Sprintf("%s -> %s", found.SourceName, found.TargetName))
				continue
			}
			return disc, err
		}
		if created {
			disc.investigation = append(disc.investigation,
				realtime.NewEvent(realtime.EventRelationshipDiscovered, investigationID, map[string]any{
					"relationship_id":   rel.ID,
					"source_entity_id":  rel.SourceEntityID,
					"target_entity_id":  rel.TargetEntityID,
					"relationship_type": rel.RelationshipType,
					"confidence":        rel.Confidence,
				}))
			disc.board = append(disc.board,
				realtime.NewEvent(realtime.EventEdgeAdded, investigationID, map[string]any{
					"relationship_id":   rel.ID,
					"source_entity_id":  rel.SourceEntityID,
					"target_entity_id":  rel.TargetEntityID,
					"relationship_type": rel.RelationshipType,
				}))
		}
	}

	taskID := task.ID
	for _, found := range result.Evidence {
		if strings.TrimSpace(found.Content) == "" {
			continue
		}
		var links []store.EvidenceLink
		for _, name := range found.EntityNames {
			entityID, err := resolve(name)
			if err != nil {
				return disc, err
			}
			if entityID == "" {
				continue
			}
			links = append(links, store.EvidenceLink{
				TargetID:  entityID,
				Relevance: clamp01(found.Reliability),
				Support:   "neutral",
			})
		}

		evidence := &store.Evidence{
			InvestigationID: investigationID,
			SubtaskID:       &taskID,
			EvidenceType:    defaultString(found.EvidenceType, "other"),
			Title:           found.Title,
			Content:         found.Content,
			SourceURL:       found.SourceURL,
			Reliability:     clamp01(found.Reliability),
		}
		if err := tx.Evidence.Create(ctx, evidence, links, nil); err != nil {
			if lifecycle.IsValidation(err) || lifecycle.IsConsistency(err) {
				slog.Warn("evidence rejected", "investigation_id", investigationID,
					"title", found.Title, "error", err)
				continue
			}
			return disc, err
		}
		disc.investigation = append(disc.investigation,
			realtime.NewEvent(realtime.EventEvidenceDiscovered, investigationID, map[string]any{
				"evidence_id":   evidence.ID,
				"title":         evidence.Title,
				"evidence_type": evidence.EvidenceType,
				"source_url":    evidence.SourceURL,
			}))
	}

	return disc, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func defaultString(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

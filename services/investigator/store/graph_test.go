// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
)

func TestMergeEntityCreatesThenMerges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "graph")
	taskA := seedSubtask(t, st, inv.ID, 1)
	taskB := seedSubtask(t, st, inv.ID, 2)

	first, created, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, SubtaskID: taskA.ID,
		Name: "Acme Corp", EntityType: "organization",
		Description: "shell company", Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "acme corp", first.NormalizedName)
	assert.Equal(t, 1, first.SourceCount)
	assert.InDelta(t, 0.9, first.Confidence, 1e-9)

	// Different subtask, different surface form, same identity.
	second, created, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, SubtaskID: taskB.ID,
		Name: "ACME  Corp", EntityType: "Organization", Confidence: 0.5,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Acme Corp", second.Name, "first surface form stays canonical")
	assert.Equal(t, "shell company", second.Description)
	assert.Equal(t, 2, second.SourceCount)
	assert.InDelta(t, 0.7, second.Confidence, 1e-9, "confidence is the mean across mentions")

	mentions, err := st.Graph.ListMentions(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, mentions, 2)
	assert.Equal(t, "Acme Corp", mentions[0].Surface)
	assert.Equal(t, "ACME  Corp", mentions[1].Surface)
}

func TestMergeEntityIdempotentPerSubtask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "retries")
	task := seedSubtask(t, st, inv.ID, 1)

	obs := EntityObservation{
		InvestigationID: inv.ID, SubtaskID: task.ID,
		Name: "Jane Roe", EntityType: "person", Confidence: 0.8,
	}

	// A retried step replays its observations; the mention must not double.
	for i := 0; i < 3; i++ {
		entity, _, err := st.Graph.MergeEntity(ctx, obs)
		require.NoError(t, err)
		assert.Equal(t, 1, entity.SourceCount)
		assert.InDelta(t, 0.8, entity.Confidence, 1e-9)
	}
}

func TestMergeEntityManualMentionsMayRepeat(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "curated")

	// No subtask: manual curation. Each call is a distinct sighting.
	obs := EntityObservation{
		InvestigationID: inv.ID,
		Name:            "Jane Roe", EntityType: "person", Confidence: 0.6,
	}
	_, created, err := st.Graph.MergeEntity(ctx, obs)
	require.NoError(t, err)
	assert.True(t, created)

	entity, created, err := st.Graph.MergeEntity(ctx, obs)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, entity.SourceCount)

	mentions, err := st.Graph.ListMentions(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, mentions, 2)
	assert.Nil(t, mentions[0].SubtaskID)
}

func TestMergeEntityMatchesAliases(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "aliased")
	task := seedSubtask(t, st, inv.ID, 1)

	first, created, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, SubtaskID: task.ID,
		Name: "Acme Corp", EntityType: "organization",
		Aliases:    []string{"The Acme Group"},
		Confidence: 0.9,
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, []string{"The Acme Group"}, first.AliasList())

	// An observation under the alias folds into the existing entity.
	second, created, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, SubtaskID: task.ID,
		Name: "the acme group", EntityType: "organization", Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Acme Corp", second.Name)

	// Same normalized form as the stored alias: no duplicate alias entry.
	assert.Equal(t, []string{"The Acme Group"}, second.AliasList())
}

func TestMergeEntityAccumulatesAliases(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "many names")

	first, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID,
		Name:            "Acme Corp", EntityType: "organization",
		Aliases:    []string{"Acme Corporation"},
		Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corporation"}, first.AliasList())

	// Observed under a known alias, bringing one more name along.
	second, created, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID,
		Name:            "Acme Corporation", EntityType: "organization",
		Aliases:    []string{"Acme Holdings"},
		Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.ElementsMatch(t, []string{"Acme Corporation", "Acme Holdings"}, second.AliasList())
}

func TestMergeEntityAttributesExistingKeysWin(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "attributed")

	first, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID,
		Name:            "Acme Corp", EntityType: "organization",
		Attributes: map[string]any{"country": "US", "founded": "1990"},
		Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, "US", first.AttributeMap()["country"])

	second, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID,
		Name:            "Acme Corp", EntityType: "organization",
		Attributes: map[string]any{"country": "KY", "industry": "logistics"},
		Confidence: 0.5,
	})
	require.NoError(t, err)

	attrs := second.AttributeMap()
	assert.Equal(t, "US", attrs["country"], "an established value is not overwritten")
	assert.Equal(t, "1990", attrs["founded"])
	assert.Equal(t, "logistics", attrs["industry"], "new keys are added")
}

func TestMergeEntityRejectsEmptyName(t *testing.T) {
	st := newTestStore(t)
	inv := seedInvestigation(t, st, "strict")

	_, _, err := st.Graph.MergeEntity(context.Background(), EntityObservation{
		InvestigationID: inv.ID, Name: "   ", EntityType: "person",
	})
	assert.True(t, lifecycle.IsValidation(err))
}

func TestMergeEntitySeparatesTypes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "typed")

	org, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Mercury", EntityType: "organization", Confidence: 0.8,
	})
	require.NoError(t, err)
	person, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Mercury", EntityType: "person", Confidence: 0.8,
	})
	require.NoError(t, err)
	assert.NotEqual(t, org.ID, person.ID, "same name, different type, different entity")
}

func TestUpdateEntityRename(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "edited")

	entity, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Acme Corp", EntityType: "organization", Confidence: 0.9,
	})
	require.NoError(t, err)

	newName := "Acme Corporation"
	newDesc := "rebranded"
	updated, err := st.Graph.UpdateEntity(ctx, inv.ID, entity.ID, EntityUpdate{
		Name:        &newName,
		Description: &newDesc,
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Corporation", updated.Name)
	assert.Equal(t, "acme corporation", updated.NormalizedName)
	assert.Equal(t, "rebranded", updated.Description)
	assert.Contains(t, updated.AliasList(), "Acme Corp", "old name survives as an alias")

	// The old name still resolves to the renamed entity.
	found, err := st.Graph.FindEntityByName(ctx, inv.ID, "acme corp")
	require.NoError(t, err)
	assert.Equal(t, entity.ID, found.ID)
}

func TestUpdateEntityRenameCollision(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "colliding")

	a, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Acme Corp", EntityType: "organization", Confidence: 0.9,
	})
	require.NoError(t, err)
	_, _, err = st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Beta LLC", EntityType: "organization", Confidence: 0.9,
	})
	require.NoError(t, err)

	taken := "Beta LLC"
	_, err = st.Graph.UpdateEntity(ctx, inv.ID, a.ID, EntityUpdate{Name: &taken})
	assert.True(t, lifecycle.IsMergeConflict(err))

	// The failed rename left the entity untouched.
	got, err := st.Graph.GetEntity(ctx, inv.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)
}

func TestUpdateEntityReplacesAttributes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "manual attrs")

	entity, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Acme Corp", EntityType: "organization",
		Attributes: map[string]any{"country": "US"}, Confidence: 0.9,
	})
	require.NoError(t, err)

	// Manual edits replace the whole map, unlike merges.
	updated, err := st.Graph.UpdateEntity(ctx, inv.ID, entity.ID, EntityUpdate{
		Attributes: map[string]any{"industry": "logistics"},
	})
	require.NoError(t, err)
	attrs := updated.AttributeMap()
	assert.Equal(t, "logistics", attrs["industry"])
	assert.NotContains(t, attrs, "country")
}

func TestDeleteEntityCascadesEdges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "pruned")

	a, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Acme Corp", EntityType: "organization", Confidence: 0.9,
	})
	require.NoError(t, err)
	b, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Jane Roe", EntityType: "person", Confidence: 0.8,
	})
	require.NoError(t, err)
	_, _, err = st.Graph.UpsertRelationship(ctx, RelationshipObservation{
		InvestigationID: inv.ID, SourceEntityID: b.ID, TargetEntityID: a.ID,
		Type: "works_for", Confidence: 0.7,
	})
	require.NoError(t, err)

	require.NoError(t, st.Graph.DeleteEntity(ctx, inv.ID, a.ID))

	_, err = st.Graph.GetEntity(ctx, inv.ID, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rels, err := st.Graph.ListRelationships(ctx, inv.ID, "")
	require.NoError(t, err)
	assert.Empty(t, rels, "edges touching a deleted entity go with it")

	mentions, err := st.Graph.ListMentions(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, mentions)

	assert.ErrorIs(t, st.Graph.DeleteEntity(ctx, inv.ID, a.ID), ErrNotFound)
}

func TestFindEntityByNameSearchesAllTypes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "resolved")

	entity, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Acme Corp", EntityType: "organization",
		Aliases: []string{"The Acme Group"}, Confidence: 0.9,
	})
	require.NoError(t, err)

	byName, err := st.Graph.FindEntityByName(ctx, inv.ID, "ACME CORP")
	require.NoError(t, err)
	assert.Equal(t, entity.ID, byName.ID)

	byAlias, err := st.Graph.FindEntityByName(ctx, inv.ID, "the acme group")
	require.NoError(t, err)
	assert.Equal(t, entity.ID, byAlias.ID)

	_, err = st.Graph.FindEntityByName(ctx, inv.ID, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEntitiesFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "listed")

	_, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Acme Corp", EntityType: "organization", Confidence: 0.9,
	})
	require.NoError(t, err)
	_, _, err = st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Acme Holdings", EntityType: "organization", Confidence: 0.8,
	})
	require.NoError(t, err)
	_, _, err = st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Jane Roe", EntityType: "person", Confidence: 0.8,
	})
	require.NoError(t, err)

	orgs, err := st.Graph.ListEntities(ctx, inv.ID, "organization", "")
	require.NoError(t, err)
	assert.Len(t, orgs, 2)

	acme, err := st.Graph.ListEntities(ctx, inv.ID, "", "ACME")
	require.NoError(t, err)
	assert.Len(t, acme, 2)

	both, err := st.Graph.ListEntities(ctx, inv.ID, "person", "acme")
	require.NoError(t, err)
	assert.Empty(t, both)
}

func TestUpsertRelationshipMergesOnIdentity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "edges")

	a, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Jane Roe", EntityType: "person", Confidence: 0.9,
	})
	require.NoError(t, err)
	b, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Acme Corp", EntityType: "organization", Confidence: 0.9,
	})
	require.NoError(t, err)

	first, created, err := st.Graph.UpsertRelationship(ctx, RelationshipObservation{
		InvestigationID: inv.ID, SourceEntityID: a.ID, TargetEntityID: b.ID,
		Type: "Works_For", Confidence: 0.6,
		Attributes: map[string]any{"role": "director"},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "works_for", first.RelationshipType)

	// Re-observation: higher confidence wins, description fills in,
	// existing attribute keys stay.
	second, created, err := st.Graph.UpsertRelationship(ctx, RelationshipObservation{
		InvestigationID: inv.ID, SourceEntityID: a.ID, TargetEntityID: b.ID,
		Type: "works_for", Confidence: 0.9, Description: "board seat since 2019",
		Attributes: map[string]any{"role": "chair", "since": "2019"},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 0.9, second.Confidence, 1e-9)
	assert.Equal(t, "board seat since 2019", second.Description)
	attrs := second.AttributeMap()
	assert.Equal(t, "director", attrs["role"])
	assert.Equal(t, "2019", attrs["since"])

	// A weaker re-observation does not lower the confidence.
	third, _, err := st.Graph.UpsertRelationship(ctx, RelationshipObservation{
		InvestigationID: inv.ID, SourceEntityID: a.ID, TargetEntityID: b.ID,
		Type: "works_for", Confidence: 0.3,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, third.Confidence, 1e-9)

	// A different type is a different edge.
	_, created, err = st.Graph.UpsertRelationship(ctx, RelationshipObservation{
		InvestigationID: inv.ID, SourceEntityID: a.ID, TargetEntityID: b.ID,
		Type: "owns", Confidence: 0.5,
	})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestUpsertRelationshipRejectsSelfLoop(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "loops")

	a, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Acme Corp", EntityType: "organization", Confidence: 0.9,
	})
	require.NoError(t, err)

	_, _, err = st.Graph.UpsertRelationship(ctx, RelationshipObservation{
		InvestigationID: inv.ID, SourceEntityID: a.ID, TargetEntityID: a.ID,
		Type: "owns", Confidence: 0.5,
	})
	assert.True(t, lifecycle.IsValidation(err))
}

func TestUpsertRelationshipRejectsCrossInvestigation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	invA := seedInvestigation(t, st, "one case")
	invB := seedInvestigation(t, st, "another case")

	a, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: invA.ID, Name: "Acme Corp", EntityType: "organization", Confidence: 0.9,
	})
	require.NoError(t, err)
	b, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: invB.ID, Name: "Jane Roe", EntityType: "person", Confidence: 0.9,
	})
	require.NoError(t, err)

	_, _, err = st.Graph.UpsertRelationship(ctx, RelationshipObservation{
		InvestigationID: invA.ID, SourceEntityID: a.ID, TargetEntityID: b.ID,
		Type: "associates_with", Confidence: 0.5,
	})
	assert.True(t, lifecycle.IsConsistency(err))
}

func TestSetRelationshipConfidenceAndDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "tuned")

	a, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Jane Roe", EntityType: "person", Confidence: 0.9,
	})
	require.NoError(t, err)
	b, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Acme Corp", EntityType: "organization", Confidence: 0.9,
	})
	require.NoError(t, err)
	rel, _, err := st.Graph.UpsertRelationship(ctx, RelationshipObservation{
		InvestigationID: inv.ID, SourceEntityID: a.ID, TargetEntityID: b.ID,
		Type: "owns", Confidence: 0.9,
	})
	require.NoError(t, err)

	// Manual override may lower it; out-of-range values clamp.
	tuned, err := st.Graph.SetRelationshipConfidence(ctx, inv.ID, rel.ID, -0.5)
	require.NoError(t, err)
	assert.Zero(t, tuned.Confidence)

	require.NoError(t, st.Graph.DeleteRelationship(ctx, inv.ID, rel.ID))
	_, err = st.Graph.GetRelationship(ctx, inv.ID, rel.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.Graph.DeleteRelationship(ctx, inv.ID, rel.ID), ErrNotFound)
}

func TestListRelationshipsByEntity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "webbed")

	a, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Jane Roe", EntityType: "person", Confidence: 0.9,
	})
	require.NoError(t, err)
	b, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Acme Corp", EntityType: "organization", Confidence: 0.9,
	})
	require.NoError(t, err)
	c, _, err := st.Graph.MergeEntity(ctx, EntityObservation{
		InvestigationID: inv.ID, Name: "Beta LLC", EntityType: "organization", Confidence: 0.9,
	})
	require.NoError(t, err)

	_, _, err = st.Graph.UpsertRelationship(ctx, RelationshipObservation{
		InvestigationID: inv.ID, SourceEntityID: a.ID, TargetEntityID: b.ID, Type: "works_for", Confidence: 0.8,
	})
	require.NoError(t, err)
	_, _, err = st.Graph.UpsertRelationship(ctx, RelationshipObservation{
		InvestigationID: inv.ID, SourceEntityID: b.ID, TargetEntityID: c.ID, Type: "owns", Confidence: 0.8,
	})
	require.NoError(t, err)

	all, err := st.Graph.ListRelationships(ctx, inv.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	touchingA, err := st.Graph.ListRelationships(ctx, inv.ID, a.ID)
	require.NoError(t, err)
	assert.Len(t, touchingA, 1)

	touchingB, err := st.Graph.ListRelationships(ctx, inv.ID, b.ID)
	require.NoError(t, err)
	assert.Len(t, touchingB, 2, "matches either endpoint")
}

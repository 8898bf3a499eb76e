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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
)

func TestSubtaskClaimWinsOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "claims")
	task := seedSubtask(t, st, inv.ID, 1)

	claimed, won, err := st.Subtasks.Claim(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, won)
	assert.Equal(t, lifecycle.TaskInProgress, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.StartedAt)

	// Second claim loses without an error.
	_, won, err = st.Subtasks.Claim(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestSubtaskClaimConcurrent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "raced")
	task := seedSubtask(t, st, inv.ID, 1)

	const claimers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, won, err := st.Subtasks.Claim(ctx, task.ID)
			assert.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	got, err := st.Subtasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
}

func TestSubtaskReleaseUncountsAttempt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "paused mid-claim")
	task := seedSubtask(t, st, inv.ID, 1)

	_, won, err := st.Subtasks.Claim(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, st.Subtasks.Release(ctx, task.ID))

	got, err := st.Subtasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.TaskPending, got.Status)
	assert.Zero(t, got.Attempts, "a pause release must not burn an attempt")

	// Releasing a task that is not in progress is a caller bug.
	assert.ErrorIs(t, st.Subtasks.Release(ctx, task.ID), ErrNotFound)
}

func TestSubtaskRequeueKeepsAttempt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "retried")
	task := seedSubtask(t, st, inv.ID, 1)

	_, won, err := st.Subtasks.Claim(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, st.Subtasks.Requeue(ctx, task.ID, "planner timeout"))

	got, err := st.Subtasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.TaskPending, got.Status)
	assert.Equal(t, 1, got.Attempts, "a retry keeps the attempt counted")
	assert.Equal(t, "planner timeout", got.ErrorMessage)

	// The next claim counts attempt two.
	claimed, won, err := st.Subtasks.Claim(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, won)
	assert.Equal(t, 2, claimed.Attempts)
}

func TestSubtaskCompleteRequiresInProgress(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "completes")
	task := seedSubtask(t, st, inv.ID, 1)

	raw, err := json.Marshal(map[string]any{"findings": []string{"one"}})
	require.NoError(t, err)

	// Completing a pending task is a caller bug.
	assert.ErrorIs(t, st.Subtasks.Complete(ctx, task.ID, raw, 0.8), ErrNotFound)

	_, won, err := st.Subtasks.Claim(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, st.Subtasks.Complete(ctx, task.ID, raw, 0.8))

	got, err := st.Subtasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.TaskCompleted, got.Status)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
	assert.JSONEq(t, string(raw), string(got.Result))
	require.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.ErrorMessage)
}

func TestSubtaskFail(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "fails")
	task := seedSubtask(t, st, inv.ID, 1)

	_, won, err := st.Subtasks.Claim(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, st.Subtasks.Fail(ctx, task.ID, "gave up after 3 attempts"))

	got, err := st.Subtasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.TaskFailed, got.Status)
	assert.Equal(t, "gave up after 3 attempts", got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)
}

func TestAbandonPendingScopesByPhase(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "redirected")

	research := seedSubtask(t, st, inv.ID, 1)
	analysis := Subtask{
		InvestigationID: inv.ID,
		TaskType:        lifecycle.TaskDocumentAnalysis,
		Phase:           lifecycle.PhaseAnalyzing,
		Description:     "read the filings",
		Sequence:        2,
		Priority:        2,
		Status:          lifecycle.TaskPending,
		MaxAttempts:     3,
	}
	require.NoError(t, st.Subtasks.CreateBatch(ctx, []Subtask{analysis}))
	running := seedSubtask(t, st, inv.ID, 3)
	_, won, err := st.Subtasks.Claim(ctx, running.ID)
	require.NoError(t, err)
	require.True(t, won)

	ids, err := st.Subtasks.AbandonPending(ctx, inv.ID, lifecycle.PhaseResearching)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, research.ID, ids[0])

	got, err := st.Subtasks.Get(ctx, research.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.TaskAbandoned, got.Status)

	// The analyzing task and the claimed task are untouched.
	pending, err := st.Subtasks.ListPendingByPhase(ctx, inv.ID, lifecycle.PhaseAnalyzing)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	claimed, err := st.Subtasks.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.TaskInProgress, claimed.Status)

	// Empty phase sweeps everything still pending.
	ids, err = st.Subtasks.AbandonPending(ctx, inv.ID, "")
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	// Nothing left: no IDs, no error.
	ids, err = st.Subtasks.AbandonPending(ctx, inv.ID, "")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSubtaskCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "counted")

	a := seedSubtask(t, st, inv.ID, 1)
	seedSubtask(t, st, inv.ID, 2)
	analysis := Subtask{
		InvestigationID: inv.ID,
		TaskType:        lifecycle.TaskRelationshipMapping,
		Phase:           lifecycle.PhaseAnalyzing,
		Description:     "connect the dots",
		Sequence:        3,
		Priority:        3,
		Status:          lifecycle.TaskPending,
		MaxAttempts:     3,
	}
	require.NoError(t, st.Subtasks.CreateBatch(ctx, []Subtask{analysis}))

	_, won, err := st.Subtasks.Claim(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, won)
	require.NoError(t, st.Subtasks.Complete(ctx, a.ID, nil, 0.9))

	all, err := st.Subtasks.Counts(ctx, inv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, all.Pending)
	assert.Equal(t, 1, all.Completed)
	assert.Equal(t, 3, all.Total())
	assert.False(t, all.Resolved())
	assert.Equal(t, 33, lifecycle.Progress(all))

	researching, err := st.Subtasks.Counts(ctx, inv.ID, lifecycle.PhaseResearching)
	require.NoError(t, err)
	assert.Equal(t, 1, researching.Pending)
	assert.Equal(t, 1, researching.Completed)
	assert.Equal(t, 2, researching.Total())
}

func TestListPendingByPhaseOrdersByPriority(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "ordered")

	tasks := []Subtask{
		{InvestigationID: inv.ID, TaskType: lifecycle.TaskWebSearch, Phase: lifecycle.PhaseResearching,
			Description: "late but urgent", Sequence: 3, Priority: 1, Status: lifecycle.TaskPending, MaxAttempts: 3},
		{InvestigationID: inv.ID, TaskType: lifecycle.TaskWebSearch, Phase: lifecycle.PhaseResearching,
			Description: "early but casual", Sequence: 1, Priority: 2, Status: lifecycle.TaskPending, MaxAttempts: 3},
		{InvestigationID: inv.ID, TaskType: lifecycle.TaskEntityExtraction, Phase: lifecycle.PhaseResearching,
			Description: "ties on priority, earlier sequence", Sequence: 2, Priority: 2, Status: lifecycle.TaskPending, MaxAttempts: 3},
	}
	require.NoError(t, st.Subtasks.CreateBatch(ctx, tasks))

	rows, err := st.Subtasks.ListPendingByPhase(ctx, inv.ID, lifecycle.PhaseResearching)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "late but urgent", rows[0].Description)
	assert.Equal(t, "early but casual", rows[1].Description)
	assert.Equal(t, "ties on priority, earlier sequence", rows[2].Description)

	// ListByInvestigation keeps plan order instead.
	all, err := st.Subtasks.ListByInvestigation(ctx, inv.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].Sequence)
	assert.Equal(t, 2, all[1].Sequence)
	assert.Equal(t, 3, all[2].Sequence)
}

func TestCompletedConfidencesAndMaxSequence(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "aggregated")

	a := seedSubtask(t, st, inv.ID, 1)
	b := seedSubtask(t, st, inv.ID, 2)
	seedSubtask(t, st, inv.ID, 7)

	for task, conf := range map[*Subtask]float64{a: 0.9, b: 0.6} {
		_, won, err := st.Subtasks.Claim(ctx, task.ID)
		require.NoError(t, err)
		require.True(t, won)
		require.NoError(t, st.Subtasks.Complete(ctx, task.ID, nil, conf))
	}

	values, err := st.Subtasks.CompletedConfidences(ctx, inv.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{0.9, 0.6}, values)
	assert.InDelta(t, 0.75, lifecycle.AggregateConfidence(values), 1e-9)

	max, err := st.Subtasks.MaxSequence(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, max)

	max, err = st.Subtasks.MaxSequence(ctx, "no-tasks")
	require.NoError(t, err)
	assert.Zero(t, max)
}

func TestSubtaskParentLink(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := seedInvestigation(t, st, "follow-ups")
	parent := seedSubtask(t, st, inv.ID, 1)

	child := Subtask{
		InvestigationID: inv.ID,
		ParentSubtaskID: &parent.ID,
		TaskType:        lifecycle.TaskEntityExtraction,
		Phase:           lifecycle.PhaseResearching,
		Description:     "spawned by a next step",
		Sequence:        2,
		Priority:        1,
		Status:          lifecycle.TaskPending,
		MaxAttempts:     3,
	}
	require.NoError(t, st.Subtasks.CreateBatch(ctx, []Subtask{child}))

	rows, err := st.Subtasks.ListByInvestigation(ctx, inv.ID, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[1].ParentSubtaskID)
	assert.Equal(t, parent.ID, *rows[1].ParentSubtaskID)
}

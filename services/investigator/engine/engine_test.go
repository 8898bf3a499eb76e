// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/investigator-ai/investigator/services/investigator/dispatch"
	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
	"github.com/investigator-ai/investigator/services/investigator/realtime"
	"github.com/investigator-ai/investigator/services/investigator/store"
	"github.com/investigator-ai/investigator/services/planner"
)

// manualDispatcher queues jobs without running them, so tests control
// exactly when and in what order background work executes.
type manualDispatcher struct {
	mu     sync.Mutex
	queue  []dispatch.Job
	delays []time.Duration
}

func (m *manualDispatcher) Enqueue(job dispatch.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, job)
	return nil
}

func (m *manualDispatcher) EnqueueAfter(delay time.Duration, job dispatch.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, delay)
	m.queue = append(m.queue, job)
	return nil
}

func (m *manualDispatcher) pop() (dispatch.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return dispatch.Job{}, false
	}
	job := m.queue[0]
	m.queue = m.queue[1:]
	return job, true
}

// runAll drains the queue including jobs enqueued while draining.
func (m *manualDispatcher) runAll(t *testing.T, ctx context.Context) int {
	t.Helper()
	total := 0
	for {
		job, ok := m.pop()
		if !ok {
			return total
		}
		job.Run(ctx)
		total++
		require.Less(t, total, 1000, "dispatcher never drained")
	}
}

// runNext runs exactly one queued job.
func (m *manualDispatcher) runNext(t *testing.T, ctx context.Context) {
	t.Helper()
	job, ok := m.pop()
	require.True(t, ok, "no job queued")
	job.Run(ctx)
}

func (m *manualDispatcher) queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *manualDispatcher) recordedDelays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.delays))
	copy(out, m.delays)
	return out
}

// hookedPlanner lets a test interleave an action with step execution.
type hookedPlanner struct {
	planner.Planner
	beforeStep func()
}

func (h *hookedPlanner) ExecuteStep(ctx context.Context, req planner.StepRequest) (*planner.StepResult, error) {
	if h.beforeStep != nil {
		h.beforeStep()
	}
	return h.Planner.ExecuteStep(ctx, req)
}

// failingStepPlanner always fails step execution with a retryable error.
type failingStepPlanner struct {
	planner.Planner
}

func (f *failingStepPlanner) ExecuteStep(context.Context, planner.StepRequest) (*planner.StepResult, error) {
	return nil, &planner.ExternalServiceError{Service: "test", Message: "model offline", Retryable: true}
}

// failingPlanPlanner fails only the planning call.
type failingPlanPlanner struct {
	planner.Planner
}

func (f *failingPlanPlanner) PlanInvestigation(context.Context, planner.PlanRequest) (*planner.Plan, error) {
	return nil, &planner.ExternalServiceError{Service: "test", Message: "model offline", Retryable: true}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "engine_test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background(), db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.New(db)
}

func newTestEngine(t *testing.T, p planner.Planner) (*Engine, *store.Store, *manualDispatcher, *realtime.Hub) {
	t.Helper()
	st := newTestStore(t)
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	md := &manualDispatcher{}
	eng := New(st, p, hub, md, Config{
		Backend:         planner.BackendStub,
		MaxTaskAttempts: 3,
		RetryBaseDelay:  time.Millisecond,
	})
	return eng, st, md, hub
}

func createInvestigation(t *testing.T, st *store.Store, title string) *store.Investigation {
	t.Helper()
	focus, err := json.Marshal([]string{"finances", "key people"})
	require.NoError(t, err)
	inv := &store.Investigation{
		Title:       title,
		Description: "Who is behind " + title,
		FocusAreas:  focus,
	}
	require.NoError(t, st.Investigations.Create(context.Background(), inv))
	return inv
}

// collectEvents drains a subscription into a slice until it closes.
func collectEvents(sub *realtime.Subscription) (*sync.Mutex, *[]realtime.Event, chan struct{}) {
	var mu sync.Mutex
	events := &[]realtime.Event{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for payload := range sub.C {
			var ev realtime.Event
			if err := json.Unmarshal(payload, &ev); err == nil {
				mu.Lock()
				*events = append(*events, ev)
				mu.Unlock()
			}
		}
	}()
	return &mu, events, done
}

func eventTypes(mu *sync.Mutex, events *[]realtime.Event) map[string]int {
	mu.Lock()
	defer mu.Unlock()
	counts := make(map[string]int)
	for _, ev := range *events {
		counts[ev.Type]++
	}
	return counts
}

func decisionTypes(t *testing.T, st *store.Store, investigationID string) map[string]int {
	t.Helper()
	decisions, err := st.Agents.ListDecisions(context.Background(), investigationID)
	require.NoError(t, err)
	counts := make(map[string]int)
	for _, d := range decisions {
		counts[d.DecisionType]++
	}
	return counts
}

func TestStartRunsInvestigationToCompletion(t *testing.T) {
	ctx := context.Background()
	eng, st, md, hub := newTestEngine(t, planner.NewStub())
	inv := createInvestigation(t, st, "Acme Shell Companies")

	sub := hub.Subscribe(realtime.InvestigationTopic(inv.ID), "investigation")
	mu, events, done := collectEvents(sub)

	started, err := eng.Start(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusRunning, started.Status)
	assert.Equal(t, lifecycle.PhasePlanning, started.CurrentPhase)
	assert.NotNil(t, started.StartedAt)

	md.runAll(t, ctx)

	final, err := st.Investigations.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, final.Status)
	assert.Equal(t, lifecycle.PhaseReporting, final.CurrentPhase)
	assert.Equal(t, 100, final.Progress)
	assert.Greater(t, final.Confidence, 0.0)
	assert.NotNil(t, final.CompletedAt)

	plan, err := st.Investigations.GetPlan(ctx, inv.ID)
	require.NoError(t, err)
	assert.False(t, plan.Fallback)
	assert.NotEmpty(t, plan.Hypothesis)

	tasks, err := st.Subtasks.ListByInvestigation(ctx, inv.ID, "")
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	for _, task := range tasks {
		assert.Equal(t, lifecycle.TaskCompleted, task.Status, "task %s", task.Description)
		assert.Equal(t, 1, task.Attempts)
		assert.NotEmpty(t, task.Result)
	}

	// The stub reports the shared "<Topic> Network" entity from every
	// step, so the merge path must have collapsed them into one row.
	entities, err := st.Graph.ListEntities(ctx, inv.ID, "organization", "")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Acme Shell Companies Network", entities[0].Name)
	assert.GreaterOrEqual(t, entities[0].SourceCount, 3)

	relationships, err := st.Graph.ListRelationships(ctx, inv.ID, "")
	require.NoError(t, err)
	assert.NotEmpty(t, relationships)

	evidence, err := st.Evidence.ListByInvestigation(ctx, inv.ID, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, evidence)

	report, err := st.Reports.Latest(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Version)
	assert.Equal(t, planner.BackendStub, report.GeneratedBy)
	assert.Contains(t, report.Title, "Acme Shell Companies")

	decisions := decisionTypes(t, st, inv.ID)
	assert.Equal(t, 1, decisions[store.DecisionPlanCreated])
	assert.Equal(t, 4, decisions[store.DecisionTaskScheduled])
	assert.Equal(t, 1, decisions[store.DecisionReportGenerated])

	thoughts, err := st.Agents.ListThoughts(ctx, inv.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, thoughts)

	sub.Close()
	<-done
	seen := eventTypes(mu, events)
	assert.Greater(t, seen[realtime.EventStatusUpdate], 0)
	assert.Greater(t, seen[realtime.EventProgressUpdate], 0)
	assert.Greater(t, seen[realtime.EventThoughtUpdate], 0)
	assert.Greater(t, seen[realtime.EventEntityDiscovered], 0)
	assert.Greater(t, seen[realtime.EventRelationshipDiscovered], 0)
	assert.Greater(t, seen[realtime.EventEvidenceDiscovered], 0)
	assert.Equal(t, 1, seen[realtime.EventReportReady])
}

func TestStartGuards(t *testing.T) {
	ctx := context.Background()
	eng, st, md, _ := newTestEngine(t, planner.NewStub())
	inv := createInvestigation(t, st, "Double Start")

	_, err := eng.Start(ctx, inv.ID)
	require.NoError(t, err)

	_, err = eng.Start(ctx, inv.ID)
	assert.True(t, lifecycle.IsTransition(err), "second start must hit the guard, got %v", err)

	md.runAll(t, ctx)
	_, err = eng.Start(ctx, inv.ID)
	assert.True(t, lifecycle.IsTransition(err), "starting a completed investigation must fail")
}

func TestPlannerOutageFallsBackToGenericPlan(t *testing.T) {
	ctx := context.Background()
	eng, st, md, _ := newTestEngine(t, &failingPlanPlanner{Planner: planner.NewStub()})
	inv := createInvestigation(t, st, "Fallback Planning")

	_, err := eng.Start(ctx, inv.ID)
	require.NoError(t, err)
	md.runAll(t, ctx)

	plan, err := st.Investigations.GetPlan(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, plan.Fallback, "plan must be flagged as fallback")

	final, err := st.Investigations.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, final.Status,
		"a planner outage at planning time must not fail the investigation")
}

func TestRetryableFailuresEventuallySucceed(t *testing.T) {
	ctx := context.Background()
	stub := planner.NewStub()
	stub.FailStepsBefore = 2
	eng, st, md, _ := newTestEngine(t, stub)
	inv := createInvestigation(t, st, "Flaky Model")

	_, err := eng.Start(ctx, inv.ID)
	require.NoError(t, err)
	md.runAll(t, ctx)

	final, err := st.Investigations.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, final.Status)

	tasks, err := st.Subtasks.ListByInvestigation(ctx, inv.ID, "")
	require.NoError(t, err)
	retriedTasks := 0
	for _, task := range tasks {
		assert.Equal(t, lifecycle.TaskCompleted, task.Status)
		if task.Attempts > 1 {
			retriedTasks++
		}
	}
	assert.Equal(t, 2, retriedTasks, "exactly the two injected failures should have caused retries")

	decisions := decisionTypes(t, st, inv.ID)
	assert.Equal(t, 2, decisions[store.DecisionRetryScheduled])

	delays := md.recordedDelays()
	require.Len(t, delays, 2)
	for _, d := range delays {
		assert.Equal(t, time.Millisecond, d, "first retry waits the base delay")
	}
}

func TestRetryBackoffDoubles(t *testing.T) {
	eng := New(newTestStore(t), planner.NewStub(), realtime.NewHub(), &manualDispatcher{}, Config{
		RetryBaseDelay: 10 * time.Second,
	})
	assert.Equal(t, 10*time.Second, eng.retryDelay(1))
	assert.Equal(t, 20*time.Second, eng.retryDelay(2))
	assert.Equal(t, 40*time.Second, eng.retryDelay(3))
	assert.Equal(t, 10*time.Second, eng.retryDelay(0))
}

func TestPermanentFailureAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	eng, st, md, _ := newTestEngine(t, &failingStepPlanner{Planner: planner.NewStub()})
	inv := createInvestigation(t, st, "Dead Model")

	_, err := eng.Start(ctx, inv.ID)
	require.NoError(t, err)
	md.runAll(t, ctx)

	tasks, err := st.Subtasks.ListByInvestigation(ctx, inv.ID, "")
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	for _, task := range tasks {
		assert.Equal(t, lifecycle.TaskFailed, task.Status)
		assert.Equal(t, 3, task.Attempts, "attempts must stop at max_attempts")
		assert.NotEmpty(t, task.ErrorMessage)
	}

	// Failed tasks are resolved; the run still closes out with a report.
	final, err := st.Investigations.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, final.Status)
	assert.Equal(t, 0, final.Progress, "nothing completed, so progress stays 0")

	decisions := decisionTypes(t, st, inv.ID)
	assert.Equal(t, 8, decisions[store.DecisionRetryScheduled], "two retries per task")
}

func TestPauseReleasesQueuedWorkAndResumeRedispatches(t *testing.T) {
	ctx := context.Background()
	eng, st, md, _ := newTestEngine(t, planner.NewStub())
	inv := createInvestigation(t, st, "Paused Investigation")

	_, err := eng.Start(ctx, inv.ID)
	require.NoError(t, err)
	md.runNext(t, ctx) // planning job only; research tasks stay queued

	paused, err := eng.Pause(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusPaused, paused.Status)

	// Queued researching jobs claim, see the pause, and hand back their
	// claims without burning an attempt.
	md.runAll(t, ctx)
	pending, err := st.Subtasks.ListByInvestigation(ctx, inv.ID, lifecycle.TaskPending)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
	for _, task := range pending {
		assert.Equal(t, 0, task.Attempts, "released claims must not count as attempts")
	}

	resumed, err := eng.Resume(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusRunning, resumed.Status)

	md.runAll(t, ctx)
	final, err := st.Investigations.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, final.Status)

	tasks, err := st.Subtasks.ListByInvestigation(ctx, inv.ID, "")
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, lifecycle.TaskCompleted, task.Status)
		assert.Equal(t, 1, task.Attempts, "resume must re-dispatch each task exactly once")
	}
}

func TestPauseMidExecutionStillIntegrates(t *testing.T) {
	ctx := context.Background()
	var eng *Engine
	var st *store.Store
	var invID string

	pausedOnce := false
	hooked := &hookedPlanner{Planner: planner.NewStub(), beforeStep: func() {
		if !pausedOnce {
			pausedOnce = true
			_, err := eng.Pause(ctx, invID)
			require.NoError(t, err)
		}
	}}

	eng, st, md, _ := newTestEngine(t, hooked)
	inv := createInvestigation(t, st, "Pause Mid Flight")
	invID = inv.ID

	_, err := eng.Start(ctx, invID)
	require.NoError(t, err)
	md.runNext(t, ctx) // planning
	md.runNext(t, ctx) // first research task; pauses itself mid-step

	// The in-flight result integrated even though the status flipped to
	// paused while the model call was running.
	completed, err := st.Subtasks.ListByInvestigation(ctx, invID, lifecycle.TaskCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	entities, err := st.Graph.ListEntities(ctx, invID, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, entities, "the claimed step's discoveries must land")

	current, err := st.Investigations.Get(ctx, invID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusPaused, current.Status)

	// Everything else yielded; resume finishes the run.
	md.runAll(t, ctx)
	_, err = eng.Resume(ctx, invID)
	require.NoError(t, err)
	md.runAll(t, ctx)

	final, err := st.Investigations.Get(ctx, invID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, final.Status)
}

func TestRedirectAbandonsPendingResearchAndQueuesFocus(t *testing.T) {
	ctx := context.Background()
	eng, st, md, _ := newTestEngine(t, planner.NewStub())
	inv := createInvestigation(t, st, "Redirected Investigation")

	_, err := eng.Start(ctx, inv.ID)
	require.NoError(t, err)
	md.runNext(t, ctx) // planning only

	redirected, err := eng.Redirect(ctx, inv.ID, "offshore accounts", "tip from source")
	require.NoError(t, err)
	assert.Contains(t, redirected.PriorityAreaList(), "offshore accounts")

	abandoned, err := st.Subtasks.ListByInvestigation(ctx, inv.ID, lifecycle.TaskAbandoned)
	require.NoError(t, err)
	assert.Len(t, abandoned, 2, "both pending researching tasks abandoned")

	pending, err := st.Subtasks.ListPendingByPhase(ctx, inv.ID, lifecycle.PhaseResearching)
	require.NoError(t, err)
	require.Len(t, pending, 2, "redirect synthesizes fresh research work")
	for _, task := range pending {
		assert.Equal(t, 0, task.Priority, "redirect tasks jump the queue")
		assert.Contains(t, task.Description, "offshore accounts")
	}

	decisions := decisionTypes(t, st, inv.ID)
	assert.Equal(t, 1, decisions[store.DecisionRedirectApplied])
	assert.Equal(t, 2, decisions[store.DecisionTaskAbandoned])

	md.runAll(t, ctx)
	final, err := st.Investigations.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress, "abandoned tasks leave the denominator")
}

func TestRedirectRequiresRunning(t *testing.T) {
	ctx := context.Background()
	eng, st, md, _ := newTestEngine(t, planner.NewStub())
	inv := createInvestigation(t, st, "Wrong State Redirect")

	_, err := eng.Redirect(ctx, inv.ID, "anything", "")
	assert.True(t, lifecycle.IsTransition(err), "redirecting a pending investigation must fail")

	_, err = eng.Start(ctx, inv.ID)
	require.NoError(t, err)
	md.runNext(t, ctx)
	_, err = eng.Pause(ctx, inv.ID)
	require.NoError(t, err)

	_, err = eng.Redirect(ctx, inv.ID, "anything", "")
	assert.True(t, lifecycle.IsTransition(err), "redirecting a paused investigation must fail")
}

func TestCancelAbandonsWorkAndFails(t *testing.T) {
	ctx := context.Background()
	eng, st, md, _ := newTestEngine(t, planner.NewStub())
	inv := createInvestigation(t, st, "Canceled Investigation")

	_, err := eng.Start(ctx, inv.ID)
	require.NoError(t, err)
	md.runNext(t, ctx) // planning only

	canceled, err := eng.Cancel(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusFailed, canceled.Status)
	assert.Equal(t, "canceled by user", canceled.ErrorMessage)
	assert.NotNil(t, canceled.CompletedAt)

	abandoned, err := st.Subtasks.ListByInvestigation(ctx, inv.ID, lifecycle.TaskAbandoned)
	require.NoError(t, err)
	assert.Len(t, abandoned, 4)

	_, err = eng.Cancel(ctx, inv.ID)
	assert.True(t, lifecycle.IsTransition(err), "cancel is not idempotent past terminal state")
}

func TestDuplicateEnqueueExecutesOnce(t *testing.T) {
	ctx := context.Background()
	stub := planner.NewStub()
	eng, st, md, _ := newTestEngine(t, stub)
	inv := createInvestigation(t, st, "Duplicate Enqueue")

	_, err := eng.Start(ctx, inv.ID)
	require.NoError(t, err)
	md.runNext(t, ctx) // planning

	pending, err := st.Subtasks.ListPendingByPhase(ctx, inv.ID, lifecycle.PhaseResearching)
	require.NoError(t, err)
	require.NotEmpty(t, pending)
	task := pending[0]

	// Simulate a duplicate enqueue of the same subtask.
	eng.runSubtask(ctx, task.ID)
	callsAfterFirst := stub.StepCalls()
	eng.runSubtask(ctx, task.ID)

	assert.Equal(t, callsAfterFirst, stub.StepCalls(), "second execution must lose the claim and do nothing")
	got, err := st.Subtasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.TaskCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestEvidenceAnalysisOnDemand(t *testing.T) {
	ctx := context.Background()
	eng, st, md, _ := newTestEngine(t, planner.NewStub())
	inv := createInvestigation(t, st, "Evidence Review")

	_, err := eng.Start(ctx, inv.ID)
	require.NoError(t, err)
	md.runNext(t, ctx) // planning

	evidence := &store.Evidence{
		InvestigationID: inv.ID,
		EvidenceType:    "document",
		Title:           "Leaked ledger",
		Content:         "Page one of the leaked ledger.\nMore pages follow.",
	}
	require.NoError(t, st.Evidence.Create(ctx, evidence, nil, nil))

	task, err := eng.EnqueueEvidenceAnalysis(ctx, inv.ID, evidence.ID)
	require.NoError(t, err)
	require.NotNil(t, task.EvidenceID)
	assert.Equal(t, evidence.ID, *task.EvidenceID)
	assert.Equal(t, lifecycle.TaskDocumentAnalysis, task.TaskType)

	md.runAll(t, ctx)

	analyzed, err := st.Evidence.Get(ctx, inv.ID, evidence.ID)
	require.NoError(t, err)
	assert.True(t, analyzed.Analyzed(), "bound evidence must carry its analysis")
	assert.Greater(t, analyzed.Reliability, 0.0)

	// The analysis surfaced the network entity and linked it back to the
	// evidence it came from.
	linked, err := st.Evidence.LinkedEntityIDs(ctx, evidence.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, linked)
}

func TestEvidenceAnalysisRequiresRunning(t *testing.T) {
	ctx := context.Background()
	eng, st, _, _ := newTestEngine(t, planner.NewStub())
	inv := createInvestigation(t, st, "Not Running")

	evidence := &store.Evidence{InvestigationID: inv.ID, Content: "text"}
	require.NoError(t, st.Evidence.Create(ctx, evidence, nil, nil))

	_, err := eng.EnqueueEvidenceAnalysis(ctx, inv.ID, evidence.ID)
	assert.True(t, lifecycle.IsTransition(err))
}

func TestRegenerateReportBumpsVersion(t *testing.T) {
	ctx := context.Background()
	eng, st, md, _ := newTestEngine(t, planner.NewStub())
	inv := createInvestigation(t, st, "Versioned Reports")

	_, err := eng.Start(ctx, inv.ID)
	require.NoError(t, err)
	md.runAll(t, ctx)

	report, err := eng.RegenerateReport(ctx, inv.ID, "summary")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Version)
	assert.Equal(t, "summary", report.ReportType)

	reports, err := st.Reports.List(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestRegenerateReportRequiresCompleted(t *testing.T) {
	ctx := context.Background()
	eng, st, _, _ := newTestEngine(t, planner.NewStub())
	inv := createInvestigation(t, st, "Early Report Ask")

	_, err := eng.RegenerateReport(ctx, inv.ID, "full")
	assert.True(t, lifecycle.IsTransition(err))
}

func TestFailInvestigationAbandonsAndRecordsDecision(t *testing.T) {
	ctx := context.Background()
	eng, st, md, _ := newTestEngine(t, planner.NewStub())
	inv := createInvestigation(t, st, "Timed Out")

	_, err := eng.Start(ctx, inv.ID)
	require.NoError(t, err)
	md.runNext(t, ctx) // planning only

	require.NoError(t, eng.FailInvestigation(ctx, inv.ID, "investigation timed out", store.DecisionTimedOut))

	final, err := st.Investigations.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusFailed, final.Status)
	assert.Equal(t, "investigation timed out", final.ErrorMessage)

	pending, err := st.Subtasks.ListByInvestigation(ctx, inv.ID, lifecycle.TaskPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	decisions := decisionTypes(t, st, inv.ID)
	assert.Equal(t, 1, decisions[store.DecisionTimedOut])

	// Terminal investigations are left alone on a second sweep.
	require.NoError(t, eng.FailInvestigation(ctx, inv.ID, "again", store.DecisionTimedOut))
	final2, err := st.Investigations.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "investigation timed out", final2.ErrorMessage)
}

func TestSkippedRelationshipLeavesObservation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	md := &manualDispatcher{}
	eng := New(st, planner.NewStub(), hub, md, Config{})

	inv := createInvestigation(t, st, "Ghost Endpoint")
	task := store.Subtask{
		InvestigationID: inv.ID,
		TaskType:        lifecycle.TaskWebSearch,
		Phase:           lifecycle.PhaseResearching,
		Description:     "step",
		MaxAttempts:     3,
	}
	tasks := []store.Subtask{task}
	require.NoError(t, st.Subtasks.CreateBatch(ctx, tasks))
	claimed, ok, err := st.Subtasks.Claim(ctx, tasks[0].ID)
	require.NoError(t, err)
	require.True(t, ok)

	result := &planner.StepResult{
		Summary: "found a dangling edge",
		Relationships: []planner.FoundRelationship{{
			SourceName:       "Unknown Person",
			TargetName:       "Another Unknown",
			RelationshipType: "knows",
			Confidence:       0.9,
		}},
		Confidence: 0.5,
	}
	require.NoError(t, eng.completeTask(ctx, inv, claimed, result))

	relationships, err := st.Graph.ListRelationships(ctx, inv.ID, "")
	require.NoError(t, err)
	assert.Empty(t, relationships, "unresolvable endpoints must not invent entities")

	thoughts, err := st.Agents.ListThoughts(ctx, inv.ID, 0)
	require.NoError(t, err)
	var observed bool
	for _, th := range thoughts {
		if th.ThoughtType == store.ThoughtObservation && th.Content != "" {
			observed = true
		}
	}
	assert.True(t, observed, "skipped relationships leave an observation thought")
}

func TestReintegrationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	eng := New(st, planner.NewStub(), hub, &manualDispatcher{}, Config{})

	inv := createInvestigation(t, st, "Idempotent Merge")
	tasks := []store.Subtask{{
		InvestigationID: inv.ID,
		TaskType:        lifecycle.TaskWebSearch,
		Phase:           lifecycle.PhaseResearching,
		Description:     "step",
		MaxAttempts:     3,
	}}
	require.NoError(t, st.Subtasks.CreateBatch(ctx, tasks))
	claimed, ok, err := st.Subtasks.Claim(ctx, tasks[0].ID)
	require.NoError(t, err)
	require.True(t, ok)

	result := &planner.StepResult{
		Summary: "same result twice",
		Entities: []planner.FoundEntity{{
			Name:       "Acme Corp",
			EntityType: "organization",
			Confidence: 0.8,
		}},
		Confidence: 0.8,
	}

	var first store.Entity
	require.NoError(t, st.Transaction(ctx, func(tx *store.Store) error {
		d, err := eng.integrateResult(ctx, tx, inv.ID, claimed, result)
		require.NoError(t, err)
		require.Len(t, d.investigation, 1)
		return nil
	}))
	entities, err := st.Graph.ListEntities(ctx, inv.ID, "", "")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	first = entities[0]

	// Re-applying the same result (the crash-replay case) changes nothing.
	require.NoError(t, st.Transaction(ctx, func(tx *store.Store) error {
		d, err := eng.integrateResult(ctx, tx, inv.ID, claimed, result)
		require.NoError(t, err)
		assert.Empty(t, d.investigation, "re-integration must not re-announce discoveries")
		return nil
	}))
	entities, err = st.Graph.ListEntities(ctx, inv.ID, "", "")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, first.SourceCount, entities[0].SourceCount)
	assert.InDelta(t, first.Confidence, entities[0].Confidence, 1e-9)
}

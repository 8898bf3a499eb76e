// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/investigator-ai/investigator/services/investigator/observability"
	"github.com/investigator-ai/investigator/services/planner"
)

// observedPlanner decorates a planner with latency metrics and spans so
// the engine's call sites stay free of instrumentation noise.
type observedPlanner struct {
	inner   planner.Planner
	backend string
	tracer  trace.Tracer
}

var _ planner.Planner = (*observedPlanner)(nil)

func observePlanner(p planner.Planner, backend string) planner.Planner {
	return &observedPlanner{
		inner:   p,
		backend: backend,
		tracer:  otel.Tracer("investigator.planner"),
	}
}

func (o *observedPlanner) observe(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "planner."+operation,
		trace.WithAttributes(attribute.String("planner.backend", o.backend)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	observability.RecordPlannerCall(o.backend, operation, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *observedPlanner) PlanInvestigation(ctx context.Context, req planner.PlanRequest) (*planner.Plan, error) {
	var plan *planner.Plan
	err := o.observe(ctx, "plan_investigation", func(ctx context.Context) error {
		var err error
		plan, err = o.inner.PlanInvestigation(ctx, req)
		return err
	})
	return plan, err
}

func (o *observedPlanner) ExecuteStep(ctx context.Context, req planner.StepRequest) (*planner.StepResult, error) {
	var result *planner.StepResult
	err := o.observe(ctx, "execute_step", func(ctx context.Context) error {
		var err error
		result, err = o.inner.ExecuteStep(ctx, req)
		return err
	})
	return result, err
}

func (o *observedPlanner) AnalyzeEvidence(ctx context.Context, req planner.EvidenceRequest) (*planner.EvidenceAnalysis, error) {
	var analysis *planner.EvidenceAnalysis
	err := o.observe(ctx, "analyze_evidence", func(ctx context.Context) error {
		var err error
		analysis, err = o.inner.AnalyzeEvidence(ctx, req)
		return err
	})
	return analysis, err
}

func (o *observedPlanner) GenerateReport(ctx context.Context, req planner.ReportRequest) (*planner.ReportDraft, error) {
	var draft *planner.ReportDraft
	err := o.observe(ctx, "generate_report", func(ctx context.Context) error {
		var err error
		draft, err = o.inner.GenerateReport(ctx, req)
		return err
	})
	return draft, err
}

func (o *observedPlanner) Think(ctx context.Context, req planner.ThoughtRequest) (string, error) {
	var thought string
	err := o.observe(ctx, "think", func(ctx context.Context) error {
		var err error
		thought, err = o.inner.Think(ctx, req)
		return err
	})
	return thought, err
}

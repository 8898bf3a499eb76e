// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the service's Prometheus metrics. Everything
// registers on the default registry under the "investigator" namespace and
// is served by promhttp on /metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

const namespace = "investigator"

// Subtask outcomes for the resolution counter.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
	OutcomeReleased  = "released"
)

// Socket kinds for the connection gauge.
const (
	SocketInvestigation = "investigation"
	SocketBoard         = "board"
)

// Planner call statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics bundles every instrument the service exports. Use the
// DefaultMetrics singleton; instruments register once at package init.
type Metrics struct {
	// InvestigationsResolved counts terminal transitions by final status.
	InvestigationsResolved *prometheus.CounterVec
	// SubtasksResolved counts subtask resolutions.
	// Labels: task_type, outcome (completed, retried, failed, abandoned, released).
	SubtasksResolved *prometheus.CounterVec
	// SubtaskDuration measures claim-to-resolution time per task type.
	SubtaskDuration *prometheus.HistogramVec
	// PlannerCalls counts planner round trips.
	// Labels: backend, operation (plan, step, analysis, report, thought), status.
	PlannerCalls *prometheus.CounterVec
	// PlannerLatency measures planner round-trip time.
	PlannerLatency *prometheus.HistogramVec
	// QueueDepth tracks jobs waiting in or running on the dispatcher.
	QueueDepth prometheus.Gauge
	// PanicsRecovered counts panics caught at the dispatch boundary.
	PanicsRecovered prometheus.Counter
	// WSConnections tracks live WebSocket subscriptions by socket kind.
	WSConnections *prometheus.GaugeVec
	// WSEventsPublished counts events fanned out by the hub, per event type.
	WSEventsPublished *prometheus.CounterVec
	// WSClientsDropped counts subscribers dropped for falling behind.
	WSClientsDropped prometheus.Counter
	// JanitorSweeps counts janitor sweep executions by sweep name.
	JanitorSweeps *prometheus.CounterVec
}

// DefaultMetrics is the process-wide instrument set.
var DefaultMetrics = newMetrics()

func newMetrics() *Metrics {
	return &Metrics{
		InvestigationsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "investigations_resolved_total",
			Help:      "Investigations reaching a terminal status",
		}, []string{"status"}),
		SubtasksResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "subtasks_resolved_total",
			Help:      "Subtask resolutions by task type and outcome",
		}, []string{"task_type", "outcome"}),
		SubtaskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "subtask_duration_seconds",
			Help:      "Subtask run time from claim to resolution",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"task_type"}),
		PlannerCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "calls_total",
			Help:      "Planner round trips by backend, operation and status",
		}, []string{"backend", "operation", "status"}),
		PlannerLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "latency_seconds",
			Help:      "Planner round-trip latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"backend", "operation"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Jobs waiting in or running on the dispatcher",
		}),
		PanicsRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "panics_recovered_total",
			Help:      "Panics caught at the dispatch boundary",
		}),
		WSConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Live WebSocket subscriptions by socket kind",
		}, []string{"kind"}),
		WSEventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_published_total",
			Help:      "Events fanned out by the hub, per event type",
		}, []string{"type"}),
		WSClientsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "clients_dropped_total",
			Help:      "Subscribers dropped for not keeping up",
		}),
		JanitorSweeps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "sweeps_total",
			Help:      "Janitor sweep executions",
		}, []string{"sweep"}),
	}
}

// RecordSubtask counts one subtask resolution and, for terminal outcomes,
// its run time.
func RecordSubtask(taskType, outcome string, duration time.Duration) {
	DefaultMetrics.SubtasksResolved.WithLabelValues(taskType, outcome).Inc()
	if outcome == OutcomeCompleted || outcome == OutcomeFailed {
		DefaultMetrics.SubtaskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
	}
}

// RecordPlannerCall counts one planner round trip and its latency.
func RecordPlannerCall(backend, operation string, err error, duration time.Duration) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	DefaultMetrics.PlannerCalls.WithLabelValues(backend, operation, status).Inc()
	DefaultMetrics.PlannerLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordPanic counts a recovered panic.
func RecordPanic() {
	DefaultMetrics.PanicsRecovered.Inc()
}

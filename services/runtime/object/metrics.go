// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package object

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("dynexp.object")

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	// tasksTotal counts executed tasks by object, task and result
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dynexp_object_tasks_total",
		Help: "Total tasks executed by object, task and result",
	}, []string{"object", "task", "result"})

	// taskDuration tracks task latency including lock acquisition
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dynexp_object_task_duration_seconds",
		Help:    "Task duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
	}, []string{"object", "task"})

	// updateFailuresTotal counts failed Update steps
	updateFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dynexp_object_update_failures_total",
		Help: "Total failed update steps by object",
	}, []string{"object"})

	// updateEscalationsTotal counts update failures reported as warning or error
	updateEscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dynexp_object_update_escalations_total",
		Help: "Total escalated update failures by object",
	}, []string{"object"})

	// objectState exposes the lifecycle state as its numeric value
	objectState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dynexp_object_state",
		Help: "Lifecycle state of an object (0 created, 1 initializing, 2 ready, 3 exiting, 4 stopped, 5 error)",
	}, []string{"object"})
)

func taskResult(err error, recoverable bool) string {
	switch {
	case err == nil:
		return "ok"
	case recoverable:
		return "warning"
	default:
		return "error"
	}
}

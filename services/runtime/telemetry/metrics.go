// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments of the status surface.
//
// Per-package runtime counters (tasks, locks, RPCs) are promauto vectors
// owned by their packages; these cover the HTTP side.
type Metrics struct {
	// HTTPRequestsTotal counts status requests by route and status code.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records status request latency in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// WatchersActive is the number of open snapshot websockets.
	WatchersActive metric.Int64UpDownCounter

	// SnapshotsSent counts snapshots pushed to websocket watchers.
	SnapshotsSent metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"dynexp_http_requests_total",
		metric.WithDescription("Total status HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"dynexp_http_request_duration_seconds",
		metric.WithDescription("Status HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.WatchersActive, err = meter.Int64UpDownCounter(
		"dynexp_status_watchers_active",
		metric.WithDescription("Open snapshot websockets"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create status_watchers_active: %w", err)
	}

	m.SnapshotsSent, err = meter.Int64Counter(
		"dynexp_status_snapshots_sent_total",
		metric.WithDescription("Snapshots pushed to websocket watchers"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create status_snapshots_sent_total: %w", err)
	}

	return m, nil
}

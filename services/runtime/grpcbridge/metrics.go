// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grpcbridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("dynexp.grpcbridge")

var (
	// rpcClientCalls counts unary client calls by method and status code
	rpcClientCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dynexp_rpc_client_calls_total",
		Help: "Total unary RPCs issued by method and status code",
	}, []string{"method", "code"})

	// rpcServerCalls counts served calls by method and status code
	rpcServerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dynexp_rpc_server_calls_total",
		Help: "Total RPCs served by method and result",
	}, []string{"method", "result"})

	// serverSlots tracks call slots in use (waiting or in flight)
	serverSlots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dynexp_rpc_server_slots",
		Help: "Call slots in use by server",
	}, []string{"server"})

	// staleTags counts completion events whose call slot was already freed
	staleTags = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dynexp_rpc_server_stale_tags_total",
		Help: "Total completion events dropped because their call no longer exists",
	}, []string{"server"})
)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry sets up OpenTelemetry for the DynExp runtime.
//
// Init builds the tracer and meter providers from the project's telemetry
// section. The runtime packages create their spans with otel.Tracer and
// their counters with promauto, so both end up in whatever backend Init
// selected.
//
// # Exporters
//
// Traces: "otlp" (gRPC, default endpoint localhost:4317), "stdout" or
// "none". Metrics: "prometheus" (served by the status surface at /metrics),
// "stdout" or "none".
//
// # Propagation
//
// Init installs the W3C TraceContext and Baggage propagators. InjectGRPC
// and ExtractGRPC carry the trace context through gRPC metadata so a call
// made by a network instrument continues on the server side.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer shutdown(context.Background())
package telemetry

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lockin implements lock-in amplifier Objects on top of the runtime.
//
// The Objects form a chain that can be cut at the network:
//
//	SimulatedAdapter ──link── Instrument ──link── Server ~~gRPC~~ GRPCInstrument
//	(hardware_adapter)        (instrument)        (module)        (instrument)
//
// Instrument and GRPCInstrument both implement Controller, so a Server can
// also re-export a GRPCInstrument.
//
// Time constants are in seconds, phases in degrees and sensitivities in
// volts (full scale of the R output).
package lockin

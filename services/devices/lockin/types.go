// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lockin

import (
	"context"
	"math"
	"time"

	"github.com/AleutianAI/dynexp/services/runtime/datastream"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/object"
)

// Object type names used in project files.
const (
	TypeSimulatedAdapter = "simulated_lockin"
	TypeInstrument       = "lockin_amplifier"
	TypeGRPCInstrument   = "network_lockin_amplifier"
	TypeServer           = "lockin_grpc_server"
)

// Limits are the settings ranges of a device.
type Limits struct {
	MinSensitivity  float64 `json:"min_sensitivity"`
	MaxSensitivity  float64 `json:"max_sensitivity"`
	MinTimeConstant float64 `json:"min_time_constant"`
	MaxTimeConstant float64 `json:"max_time_constant"`
}

// DefaultLimits are the ranges of the simulated device.
var DefaultLimits = Limits{
	MinSensitivity:  1e-9,
	MaxSensitivity:  1,
	MinTimeConstant: 1e-6,
	MaxTimeConstant: 30,
}

// CheckSensitivity returns OutOfRange if v is not a valid sensitivity.
// Rejected settings are warnings; the instrument keeps running.
func (l Limits) CheckSensitivity(v float64) error {
	if math.IsNaN(v) || v < l.MinSensitivity || v > l.MaxSensitivity {
		return exception.OutOfRange("sensitivity %g V outside [%g, %g]", v, l.MinSensitivity, l.MaxSensitivity).
			WithSeverity(exception.SeverityWarning)
	}
	return nil
}

// CheckTimeConstant returns OutOfRange if v is not a valid time constant.
func (l Limits) CheckTimeConstant(v float64) error {
	if math.IsNaN(v) || v < l.MinTimeConstant || v > l.MaxTimeConstant {
		return exception.OutOfRange("time constant %g s outside [%g, %g]", v, l.MinTimeConstant, l.MaxTimeConstant).
			WithSeverity(exception.SeverityWarning)
	}
	return nil
}

// CheckPhase returns InvalidArgument if deg is not finite.
func CheckPhase(deg float64) error {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return exception.InvalidArgument("phase %v is not finite", deg).WithSeverity(exception.SeverityWarning)
	}
	return nil
}

// NormalizePhase maps deg to [-180, 180).
func NormalizePhase(deg float64) float64 {
	p := math.Mod(deg+180, 360)
	if p < 0 {
		p += 360
	}
	return p - 180
}

// Status is a snapshot of an amplifier's settings.
type Status struct {
	Sensitivity    float64 `json:"sensitivity"`
	Phase          float64 `json:"phase"`
	TimeConstant   float64 `json:"time_constant"`
	Enabled        bool    `json:"enabled"`
	Overload       bool    `json:"overload"`
	SamplesWritten uint64  `json:"samples_written"`
	Limits         Limits  `json:"limits"`
}

// Samples is a batch of R samples, oldest first. Total is the number of
// samples the source has written so far; pass it as since to the next read.
type Samples struct {
	Values []datastream.BasicSample
	Total  uint64
}

// Controller is the instrument API shared by local and network
// amplifiers. Setters run as tasks of the instrument and return their
// result.
type Controller interface {
	object.Runnable

	Status(ctx context.Context) (Status, error)
	SetSensitivity(ctx context.Context, volts float64) error
	SetPhase(ctx context.Context, deg float64) error
	SetTimeConstant(ctx context.Context, seconds float64) error
	AutoRange(ctx context.Context) error
	ClearStream(ctx context.Context) error

	// ReadSamples returns the samples written after the first since ones
	// that are still in the instrument's stream.
	ReadSamples(ctx context.Context, since uint64) (Samples, error)
}

// Hardware is the device side an Instrument drives. Methods lock the
// adapter's data and are called from the instrument's worker.
type Hardware interface {
	object.Runnable

	Limits() Limits
	SetSensitivity(ctx context.Context, volts float64) error
	SetPhase(ctx context.Context, deg float64) error
	SetTimeConstant(ctx context.Context, seconds float64) error
	SetEnabled(ctx context.Context, on bool) error
	Overload(ctx context.Context) (bool, error)

	// DrainSamples returns the samples produced since the previous call.
	DrainSamples(ctx context.Context) ([]datastream.BasicSample, error)
}

// =============================================================================
// Params
// =============================================================================

// AdapterParams configure a SimulatedAdapter.
type AdapterParams struct {
	UpdateInterval time.Duration `yaml:"update_interval"`
	Amplitude      float64       `yaml:"amplitude" validate:"gte=0"`
	Noise          float64       `yaml:"noise" validate:"gte=0,lte=1"`
	Seed           uint64        `yaml:"seed"`
	BufferSize     uint64        `yaml:"buffer_size" validate:"gte=0"`
}

// DefaultAdapterParams are used for unset fields.
var DefaultAdapterParams = AdapterParams{
	UpdateInterval: 50 * time.Millisecond,
	Amplitude:      1e-3,
	Noise:          0.01,
	Seed:           1,
	BufferSize:     4096,
}

// InstrumentParams configure Instrument and GRPCInstrument.
type InstrumentParams struct {
	UpdateInterval time.Duration `yaml:"update_interval"`
	StreamSize     uint64        `yaml:"stream_size" validate:"gte=0"`
	Sensitivity    float64       `yaml:"sensitivity" validate:"gte=0"`
	Phase          float64       `yaml:"phase" validate:"gte=-360,lte=360"`
	TimeConstant   float64       `yaml:"time_constant" validate:"gte=0"`
}

// DefaultInstrumentParams are used for unset fields.
var DefaultInstrumentParams = InstrumentParams{
	UpdateInterval: 100 * time.Millisecond,
	StreamSize:     1000,
	Sensitivity:    1e-2,
	TimeConstant:   1e-1,
}

// NetworkParams configure the connection of a GRPCInstrument.
type NetworkParams struct {
	InstrumentParams `yaml:",inline"`

	Address string `yaml:"address" validate:"required,hostname_port"`
}

// ServerParams configure a Server.
type ServerParams struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func (p AdapterParams) withDefaults() AdapterParams {
	d := DefaultAdapterParams
	p.UpdateInterval = orDefault(p.UpdateInterval, d.UpdateInterval)
	p.Amplitude = orDefault(p.Amplitude, d.Amplitude)
	p.Noise = orDefault(p.Noise, d.Noise)
	p.Seed = orDefault(p.Seed, d.Seed)
	p.BufferSize = orDefault(p.BufferSize, d.BufferSize)
	return p
}

func (p InstrumentParams) withDefaults() InstrumentParams {
	d := DefaultInstrumentParams
	p.UpdateInterval = orDefault(p.UpdateInterval, d.UpdateInterval)
	p.StreamSize = orDefault(p.StreamSize, d.StreamSize)
	p.Sensitivity = orDefault(p.Sensitivity, d.Sensitivity)
	p.TimeConstant = orDefault(p.TimeConstant, d.TimeConstant)
	return p
}

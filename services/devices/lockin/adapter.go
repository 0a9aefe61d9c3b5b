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
	"math/rand/v2"
	"sync"

	"github.com/AleutianAI/dynexp/services/runtime/datastream"
	"github.com/AleutianAI/dynexp/services/runtime/lockable"
	"github.com/AleutianAI/dynexp/services/runtime/object"
)

// AdapterData is the state of the simulated device.
type AdapterData struct {
	Sensitivity  float64
	Phase        float64
	TimeConstant float64
	Enabled      bool
	Overload     bool

	// Samples holds the most recent R samples.
	Samples *datastream.BasicSampleStream

	// drained is the number of samples already handed out by DrainSamples.
	drained uint64

	elapsed float64
	rng     *rand.Rand
}

// SimulatedAdapter is a hardware adapter producing a noisy constant R
// signal while its output is enabled.
type SimulatedAdapter struct {
	*object.Object[AdapterData]

	params AdapterParams
	limits Limits

	faultMu sync.Mutex
	fault   error
}

var _ Hardware = (*SimulatedAdapter)(nil)

// NewSimulatedAdapter creates the adapter. Zero params select
// DefaultAdapterParams.
func NewSimulatedAdapter(cfg object.Config, p AdapterParams) (*SimulatedAdapter, error) {
	p = p.withDefaults()
	cfg.Category = object.CategoryHardwareAdapter
	cfg.UpdateInterval = p.UpdateInterval

	samples, err := datastream.NewBasicSampleStream(cfg.Name+".samples", p.BufferSize)
	if err != nil {
		return nil, err
	}
	obj, err := object.New(cfg, AdapterData{
		Sensitivity:  DefaultInstrumentParams.Sensitivity,
		TimeConstant: DefaultInstrumentParams.TimeConstant,
		Samples:      samples,
	})
	if err != nil {
		return nil, err
	}

	a := &SimulatedAdapter{Object: obj, params: p, limits: DefaultLimits}
	if err := obj.AddLayer(object.Layer[AdapterData]{
		Name:   "simulated_lockin",
		Init:   a.init,
		Update: a.update,
		Exit:   a.exit,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// Limits returns the settings ranges.
func (a *SimulatedAdapter) Limits() Limits {
	return a.limits
}

// SetFault makes every hardware call fail with err until it is called
// with nil. Simulates a device that stopped responding.
func (a *SimulatedAdapter) SetFault(err error) {
	a.faultMu.Lock()
	defer a.faultMu.Unlock()
	a.fault = err
}

func (a *SimulatedAdapter) checkFault() error {
	a.faultMu.Lock()
	defer a.faultMu.Unlock()
	return a.fault
}

// with runs fn on the locked device state after checking for a simulated
// fault.
func (a *SimulatedAdapter) with(ctx context.Context, fn func(d *AdapterData) error) error {
	if err := a.checkFault(); err != nil {
		return err
	}
	return a.Data().With(lockable.WithOwner(ctx), a.Config().LockTimeout, fn)
}

// SetSensitivity sets the full scale of the R output.
func (a *SimulatedAdapter) SetSensitivity(ctx context.Context, volts float64) error {
	if err := a.limits.CheckSensitivity(volts); err != nil {
		return err
	}
	return a.with(ctx, func(d *AdapterData) error {
		d.Sensitivity = volts
		return nil
	})
}

// SetPhase sets the reference phase.
func (a *SimulatedAdapter) SetPhase(ctx context.Context, deg float64) error {
	if err := CheckPhase(deg); err != nil {
		return err
	}
	return a.with(ctx, func(d *AdapterData) error {
		d.Phase = NormalizePhase(deg)
		return nil
	})
}

// SetTimeConstant sets the low-pass filter time constant.
func (a *SimulatedAdapter) SetTimeConstant(ctx context.Context, seconds float64) error {
	if err := a.limits.CheckTimeConstant(seconds); err != nil {
		return err
	}
	return a.with(ctx, func(d *AdapterData) error {
		d.TimeConstant = seconds
		return nil
	})
}

// SetEnabled switches the signal output.
func (a *SimulatedAdapter) SetEnabled(ctx context.Context, on bool) error {
	return a.with(ctx, func(d *AdapterData) error {
		d.Enabled = on
		if !on {
			d.Overload = false
		}
		return nil
	})
}

// Overload reports whether the last sample exceeded the sensitivity.
func (a *SimulatedAdapter) Overload(ctx context.Context) (bool, error) {
	var ov bool
	err := a.with(ctx, func(d *AdapterData) error {
		ov = d.Overload
		return nil
	})
	return ov, err
}

// DrainSamples returns the samples produced since the previous call,
// oldest first. Samples overwritten before they were drained are lost.
func (a *SimulatedAdapter) DrainSamples(ctx context.Context) ([]datastream.BasicSample, error) {
	var out []datastream.BasicSample
	err := a.with(ctx, func(d *AdapterData) error {
		var err error
		out, err = d.Samples.ReadRecentBasicSamples(d.drained)
		if err != nil {
			return err
		}
		d.drained = d.Samples.NumSamplesWritten()
		return nil
	})
	return out, err
}

func (a *SimulatedAdapter) init(ctx context.Context, data *lockable.Locked[AdapterData]) error {
	d := data.Get()
	d.rng = rand.New(rand.NewPCG(a.params.Seed, a.params.Seed^0x9e3779b97f4a7c15))
	d.Samples.Clear()
	d.drained = 0
	d.Enabled = false
	d.Overload = false
	d.elapsed = 0
	return nil
}

func (a *SimulatedAdapter) update(ctx context.Context, data *lockable.Locked[AdapterData]) error {
	if err := a.checkFault(); err != nil {
		return err
	}
	d := data.Get()
	dt := a.params.UpdateInterval.Seconds()
	d.elapsed += dt
	if !d.Enabled {
		return nil
	}

	// Filtering over the time constant averages the noise down.
	sigma := a.params.Noise * a.params.Amplitude / math.Sqrt(1+d.TimeConstant/dt)
	r := math.Abs(a.params.Amplitude + sigma*d.rng.NormFloat64())
	d.Overload = r > d.Sensitivity
	return d.Samples.WriteBasicSample(datastream.BasicSample{Value: r, Time: d.elapsed})
}

func (a *SimulatedAdapter) exit(ctx context.Context, data *lockable.Locked[AdapterData]) error {
	data.Get().Enabled = false
	return nil
}

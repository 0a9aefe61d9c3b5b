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

	"github.com/AleutianAI/dynexp/services/runtime/datastream"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/lockable"
	"github.com/AleutianAI/dynexp/services/runtime/object"
)

// autoRangeWindow is the number of recent samples AutoRange looks at.
const autoRangeWindow = 100

// autoRangeHeadroom is the factor between the largest recent sample and
// the chosen sensitivity.
const autoRangeHeadroom = 1.5

// InstrumentData is the data of a lock-in instrument.
type InstrumentData struct {
	Sensitivity  float64
	Phase        float64
	TimeConstant float64
	Enabled      bool
	Overload     bool
	Limits       Limits

	// Samples is the instrument's R stream.
	Samples *datastream.BasicSampleStream
}

func (d *InstrumentData) status() Status {
	return Status{
		Sensitivity:    d.Sensitivity,
		Phase:          d.Phase,
		TimeConstant:   d.TimeConstant,
		Enabled:        d.Enabled,
		Overload:       d.Overload,
		SamplesWritten: d.Samples.NumSamplesWritten(),
		Limits:         d.Limits,
	}
}

func readSamples(d *InstrumentData, since uint64) (Samples, error) {
	values, err := d.Samples.ReadRecentBasicSamples(since)
	if err != nil {
		return Samples{}, err
	}
	return Samples{Values: values, Total: d.Samples.NumSamplesWritten()}, nil
}

// newInstrumentData creates the data with a stream of the configured size.
func newInstrumentData(name string, p InstrumentParams) (InstrumentData, error) {
	samples, err := datastream.NewBasicSampleStream(name+".samples", p.StreamSize)
	if err != nil {
		return InstrumentData{}, err
	}
	return InstrumentData{
		Sensitivity:  p.Sensitivity,
		Phase:        NormalizePhase(p.Phase),
		TimeConstant: p.TimeConstant,
		Samples:      samples,
	}, nil
}

// streamLayer sizes and clears the sample stream on Init.
func streamLayer[D any](size uint64, stream func(*D) *datastream.BasicSampleStream) object.Layer[D] {
	return object.Layer[D]{
		Name: "datastream",
		Init: func(ctx context.Context, data *lockable.Locked[D]) error {
			s := stream(data.Get())
			if err := s.SetStreamSize(size); err != nil {
				return err
			}
			s.Clear()
			return nil
		},
	}
}

// Instrument is a lock-in amplifier driving a linked Hardware adapter.
type Instrument struct {
	*object.Object[InstrumentData]

	params InstrumentParams
	hw     *object.Link[Hardware]
}

var _ Controller = (*Instrument)(nil)

// NewInstrument creates an instrument using the adapter named hardware
// in reg. Zero params select DefaultInstrumentParams.
func NewInstrument(cfg object.Config, reg *object.Registry, hardware string, p InstrumentParams) (*Instrument, error) {
	p = p.withDefaults()
	cfg.Category = object.CategoryInstrument
	cfg.UpdateInterval = p.UpdateInterval

	data, err := newInstrumentData(cfg.Name, p)
	if err != nil {
		return nil, err
	}
	obj, err := object.New(cfg, data)
	if err != nil {
		return nil, err
	}

	i := &Instrument{Object: obj, params: p, hw: object.NewLink[Hardware](reg, hardware)}
	if err := obj.Uses(i.hw); err != nil {
		return nil, err
	}
	for _, layer := range []object.Layer[InstrumentData]{
		streamLayer(p.StreamSize, func(d *InstrumentData) *datastream.BasicSampleStream { return d.Samples }),
		{Name: "lockin", Init: i.init, Update: i.update, Exit: i.exit},
	} {
		if err := obj.AddLayer(layer); err != nil {
			return nil, err
		}
	}
	return i, nil
}

func (i *Instrument) init(ctx context.Context, data *lockable.Locked[InstrumentData]) error {
	hw, err := i.hw.Get()
	if err != nil {
		return err
	}
	d := data.Get()
	d.Limits = hw.Limits()

	if err := d.Limits.CheckSensitivity(d.Sensitivity); err != nil {
		return err
	}
	if err := d.Limits.CheckTimeConstant(d.TimeConstant); err != nil {
		return err
	}
	if err := hw.SetSensitivity(ctx, d.Sensitivity); err != nil {
		return err
	}
	if err := hw.SetPhase(ctx, d.Phase); err != nil {
		return err
	}
	if err := hw.SetTimeConstant(ctx, d.TimeConstant); err != nil {
		return err
	}
	if err := hw.SetEnabled(ctx, true); err != nil {
		return err
	}
	d.Enabled = true
	return nil
}

func (i *Instrument) update(ctx context.Context, data *lockable.Locked[InstrumentData]) error {
	if err := i.hw.Check(); err != nil {
		return err
	}
	hw, err := i.hw.Get()
	if err != nil {
		return err
	}
	d := data.Get()

	ov, err := hw.Overload(ctx)
	if err != nil {
		return err
	}
	d.Overload = ov

	samples, err := hw.DrainSamples(ctx)
	if err != nil {
		return err
	}
	for _, s := range samples {
		if err := d.Samples.WriteBasicSample(s); err != nil {
			return err
		}
	}
	return nil
}

func (i *Instrument) exit(ctx context.Context, data *lockable.Locked[InstrumentData]) error {
	data.Get().Enabled = false
	hw, err := i.hw.Get()
	if err != nil {
		return err
	}
	return hw.SetEnabled(ctx, false)
}

// =============================================================================
// Controller
// =============================================================================

// Status reads the current settings.
func (i *Instrument) Status(ctx context.Context) (Status, error) {
	var st Status
	err := i.Data().With(lockable.WithOwner(ctx), i.Config().LockTimeout, func(d *InstrumentData) error {
		st = d.status()
		return nil
	})
	return st, err
}

// ReadSamples returns the samples written after the first since ones.
func (i *Instrument) ReadSamples(ctx context.Context, since uint64) (Samples, error) {
	var out Samples
	err := i.Data().With(lockable.WithOwner(ctx), i.Config().LockTimeout, func(d *InstrumentData) error {
		var err error
		out, err = readSamples(d, since)
		return err
	})
	return out, err
}

// SetSensitivity sets the full scale of the R output.
func (i *Instrument) SetSensitivity(ctx context.Context, volts float64) error {
	return i.Call(ctx, "set_sensitivity", func(ctx context.Context, data *lockable.Locked[InstrumentData]) error {
		return i.applySensitivity(ctx, data.Get(), volts)
	})
}

func (i *Instrument) applySensitivity(ctx context.Context, d *InstrumentData, volts float64) error {
	if err := d.Limits.CheckSensitivity(volts); err != nil {
		return err
	}
	hw, err := i.hw.Get()
	if err != nil {
		return err
	}
	if err := hw.SetSensitivity(ctx, volts); err != nil {
		return err
	}
	d.Sensitivity = volts
	return nil
}

// SetPhase sets the reference phase in degrees.
func (i *Instrument) SetPhase(ctx context.Context, deg float64) error {
	return i.Call(ctx, "set_phase", func(ctx context.Context, data *lockable.Locked[InstrumentData]) error {
		if err := CheckPhase(deg); err != nil {
			return err
		}
		hw, err := i.hw.Get()
		if err != nil {
			return err
		}
		deg = NormalizePhase(deg)
		if err := hw.SetPhase(ctx, deg); err != nil {
			return err
		}
		data.Get().Phase = deg
		return nil
	})
}

// SetTimeConstant sets the filter time constant in seconds.
func (i *Instrument) SetTimeConstant(ctx context.Context, seconds float64) error {
	return i.Call(ctx, "set_time_constant", func(ctx context.Context, data *lockable.Locked[InstrumentData]) error {
		d := data.Get()
		if err := d.Limits.CheckTimeConstant(seconds); err != nil {
			return err
		}
		hw, err := i.hw.Get()
		if err != nil {
			return err
		}
		if err := hw.SetTimeConstant(ctx, seconds); err != nil {
			return err
		}
		d.TimeConstant = seconds
		return nil
	})
}

// AutoRange picks the smallest 1-2-5 sensitivity that keeps the recent
// samples below full scale with some headroom.
//
// Returns Empty if the stream holds no samples.
func (i *Instrument) AutoRange(ctx context.Context) error {
	return i.Call(ctx, "auto_range", func(ctx context.Context, data *lockable.Locked[InstrumentData]) error {
		d := data.Get()
		written := d.Samples.NumSamplesWritten()
		var since uint64
		if written > autoRangeWindow {
			since = written - autoRangeWindow
		}
		recent, err := d.Samples.ReadRecentBasicSamples(since)
		if err != nil {
			return err
		}
		if len(recent) == 0 {
			return exception.Empty("%s has no samples to range on", i.Name()).WithSeverity(exception.SeverityWarning)
		}

		peak := 0.0
		for _, s := range recent {
			peak = max(peak, math.Abs(s.Value))
		}
		target := NiceCeil(peak * autoRangeHeadroom)
		target = min(max(target, d.Limits.MinSensitivity), d.Limits.MaxSensitivity)
		return i.applySensitivity(ctx, d, target)
	})
}

// ClearStream discards all samples of the instrument's stream.
func (i *Instrument) ClearStream(ctx context.Context) error {
	return i.Call(ctx, "clear_stream", func(ctx context.Context, data *lockable.Locked[InstrumentData]) error {
		data.Get().Samples.Clear()
		return nil
	})
}

// NiceCeil rounds v up to the next value of the 1-2-5 series.
func NiceCeil(v float64) float64 {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	decade := math.Pow(10, math.Floor(math.Log10(v)))
	for _, m := range []float64{1, 2, 5, 10} {
		// Tolerate rounding in m*decade so exact series values map to themselves.
		if c := m * decade; c >= v*(1-1e-12) {
			return c
		}
	}
	return 10 * decade
}

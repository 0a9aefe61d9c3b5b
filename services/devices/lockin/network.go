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

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/AleutianAI/dynexp/pkg/util"
	"github.com/AleutianAI/dynexp/services/runtime/datastream"
	"github.com/AleutianAI/dynexp/services/runtime/grpcbridge"
	"github.com/AleutianAI/dynexp/services/runtime/lockable"
	"github.com/AleutianAI/dynexp/services/runtime/object"
)

// NetworkData is the data of a GRPCInstrument: a local copy of the remote
// instrument's settings and samples.
type NetworkData struct {
	InstrumentData

	// remoteTotal is the remote sample count already copied.
	remoteTotal uint64
}

// GRPCInstrument is a lock-in amplifier whose device is reached through a
// Server. Settings are those of the remote instrument; its samples are
// copied into the local stream on every Update.
type GRPCInstrument struct {
	*object.Object[NetworkData]

	params InstrumentParams
	client *grpcbridge.Client[LockinClient]
}

var _ Controller = (*GRPCInstrument)(nil)

// NewGRPCInstrument creates an instrument for the server at p.Address.
// opts are added to the dial options.
func NewGRPCInstrument(cfg object.Config, p NetworkParams, opts ...grpc.DialOption) (*GRPCInstrument, error) {
	ip := p.InstrumentParams.withDefaults()
	cfg.Category = object.CategoryInstrument
	cfg.UpdateInterval = ip.UpdateInterval

	data, err := newInstrumentData(cfg.Name, ip)
	if err != nil {
		return nil, err
	}
	obj, err := object.New(cfg, NetworkData{InstrumentData: data})
	if err != nil {
		return nil, err
	}

	g := &GRPCInstrument{
		Object: obj,
		params: ip,
		client: grpcbridge.NewClientTarget(cfg.Name, p.Address, NewLockinClient, opts...),
	}
	for _, layer := range []object.Layer[NetworkData]{
		streamLayer(ip.StreamSize, func(d *NetworkData) *datastream.BasicSampleStream { return d.Samples }),
		{Name: "network_lockin", Init: g.init, Update: g.update, Exit: g.exit},
	} {
		if err := obj.AddLayer(layer); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Client returns the gRPC client of the instrument.
func (g *GRPCInstrument) Client() *grpcbridge.Client[LockinClient] {
	return g.client
}

func (g *GRPCInstrument) fetchStatus(ctx context.Context) (Status, error) {
	st, err := grpcbridge.Invoke(ctx, g.client, MethodGetStatus, util.DefaultCallTimeout,
		func(ctx context.Context, c LockinClient) (*structpb.Struct, error) {
			return c.GetStatus(ctx, &emptypb.Empty{})
		})
	if err != nil {
		return Status{}, err
	}
	return statusFromStruct(st)
}

func (d *NetworkData) apply(st Status) {
	d.Sensitivity = st.Sensitivity
	d.Phase = st.Phase
	d.TimeConstant = st.TimeConstant
	d.Enabled = st.Enabled
	d.Overload = st.Overload
	d.Limits = st.Limits
}

func (g *GRPCInstrument) init(ctx context.Context, data *lockable.Locked[NetworkData]) error {
	if err := g.client.Open(ctx); err != nil {
		return err
	}
	st, err := g.fetchStatus(ctx)
	if err != nil {
		return err
	}
	d := data.Get()
	d.apply(st)
	d.remoteTotal = st.SamplesWritten
	return nil
}

func (g *GRPCInstrument) update(ctx context.Context, data *lockable.Locked[NetworkData]) error {
	d := data.Get()

	ov, err := grpcbridge.Invoke(ctx, g.client, MethodGetOverload, util.DefaultCallTimeout,
		func(ctx context.Context, c LockinClient) (*wrapperspb.BoolValue, error) {
			return c.GetOverload(ctx, &emptypb.Empty{})
		})
	if err != nil {
		return err
	}
	d.Overload = ov.GetValue()

	msg, err := grpcbridge.Invoke(ctx, g.client, MethodReadSamples, util.LongCallTimeout,
		func(ctx context.Context, c LockinClient) (*structpb.Struct, error) {
			return c.ReadSamples(ctx, wrapperspb.UInt64(d.remoteTotal))
		})
	if err != nil {
		return err
	}
	samples, err := samplesFromStruct(msg)
	if err != nil {
		return err
	}
	for _, s := range samples.Values {
		if err := d.Samples.WriteBasicSample(s); err != nil {
			return err
		}
	}
	// A smaller total means the remote stream was cleared; continue from there.
	d.remoteTotal = samples.Total
	return nil
}

func (g *GRPCInstrument) exit(ctx context.Context, data *lockable.Locked[NetworkData]) error {
	return g.client.Close(ctx)
}

// =============================================================================
// Controller
// =============================================================================

// Status returns the settings last read from or written to the server.
func (g *GRPCInstrument) Status(ctx context.Context) (Status, error) {
	var st Status
	err := g.Data().With(lockable.WithOwner(ctx), g.Config().LockTimeout, func(d *NetworkData) error {
		st = d.status()
		return nil
	})
	return st, err
}

// ReadSamples returns local samples written after the first since ones.
func (g *GRPCInstrument) ReadSamples(ctx context.Context, since uint64) (Samples, error) {
	var out Samples
	err := g.Data().With(lockable.WithOwner(ctx), g.Config().LockTimeout, func(d *NetworkData) error {
		var err error
		out, err = readSamples(&d.InstrumentData, since)
		return err
	})
	return out, err
}

// setRemote runs set on the server and refreshes the local settings.
func (g *GRPCInstrument) setRemote(ctx context.Context, name, method string, v float64,
	set func(ctx context.Context, c LockinClient, in *wrapperspb.DoubleValue) (*emptypb.Empty, error)) error {

	return g.Call(ctx, name, func(ctx context.Context, data *lockable.Locked[NetworkData]) error {
		_, err := grpcbridge.Invoke(ctx, g.client, method, util.DefaultCallTimeout,
			func(ctx context.Context, c LockinClient) (*emptypb.Empty, error) {
				return set(ctx, c, wrapperspb.Double(v))
			})
		if err != nil {
			return err
		}
		st, err := g.fetchStatus(ctx)
		if err != nil {
			return err
		}
		data.Get().apply(st)
		return nil
	})
}

// SetSensitivity sets the remote sensitivity.
func (g *GRPCInstrument) SetSensitivity(ctx context.Context, volts float64) error {
	return g.setRemote(ctx, "set_sensitivity", MethodSetSensitivity, volts,
		func(ctx context.Context, c LockinClient, in *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
			return c.SetSensitivity(ctx, in)
		})
}

// SetPhase sets the remote phase.
func (g *GRPCInstrument) SetPhase(ctx context.Context, deg float64) error {
	if err := CheckPhase(deg); err != nil {
		return err
	}
	return g.setRemote(ctx, "set_phase", MethodSetPhase, deg,
		func(ctx context.Context, c LockinClient, in *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
			return c.SetPhase(ctx, in)
		})
}

// SetTimeConstant sets the remote time constant.
func (g *GRPCInstrument) SetTimeConstant(ctx context.Context, seconds float64) error {
	return g.setRemote(ctx, "set_time_constant", MethodSetTimeConstant, seconds,
		func(ctx context.Context, c LockinClient, in *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
			return c.SetTimeConstant(ctx, in)
		})
}

// AutoRange runs auto ranging on the remote instrument.
func (g *GRPCInstrument) AutoRange(ctx context.Context) error {
	return g.Call(ctx, "auto_range", func(ctx context.Context, data *lockable.Locked[NetworkData]) error {
		_, err := grpcbridge.Invoke(ctx, g.client, MethodAutoRange, util.LongCallTimeout,
			func(ctx context.Context, c LockinClient) (*emptypb.Empty, error) {
				return c.AutoRange(ctx, &emptypb.Empty{})
			})
		if err != nil {
			return err
		}
		st, err := g.fetchStatus(ctx)
		if err != nil {
			return err
		}
		data.Get().apply(st)
		return nil
	})
}

// ClearStream clears the local stream. The remote stream is untouched.
func (g *GRPCInstrument) ClearStream(ctx context.Context) error {
	return g.Call(ctx, "clear_stream", func(ctx context.Context, data *lockable.Locked[NetworkData]) error {
		data.Get().Samples.Clear()
		return nil
	})
}

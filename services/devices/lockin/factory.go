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
	"errors"

	"google.golang.org/grpc"

	"github.com/AleutianAI/dynexp/services/runtime/grpcbridge"
	"github.com/AleutianAI/dynexp/services/runtime/object"
)

// RegisterTypes adds the lock-in Object types to lib. dialOpts are passed
// to every GRPCInstrument built from lib.
func RegisterTypes(lib *object.Library, dialOpts ...grpc.DialOption) error {
	buildNetwork := func(reg *object.Registry, def object.Definition, cfg object.Config) (object.Runnable, error) {
		var p NetworkParams
		if err := object.DecodeParams(def.Params, &p); err != nil {
			return nil, err
		}
		g, err := NewGRPCInstrument(cfg, p, dialOpts...)
		if err != nil {
			return nil, err
		}
		return g, nil
	}

	return errors.Join(
		lib.Register(TypeSimulatedAdapter, object.CategoryHardwareAdapter, buildAdapter),
		lib.Register(TypeInstrument, object.CategoryInstrument, buildInstrument),
		lib.Register(TypeGRPCInstrument, object.CategoryInstrument, buildNetwork),
		lib.Register(TypeServer, object.CategoryModule, buildServer),
	)
}

func buildAdapter(reg *object.Registry, def object.Definition, cfg object.Config) (object.Runnable, error) {
	var p AdapterParams
	if err := object.DecodeParams(def.Params, &p); err != nil {
		return nil, err
	}
	a, err := NewSimulatedAdapter(cfg, p)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func buildInstrument(reg *object.Registry, def object.Definition, cfg object.Config) (object.Runnable, error) {
	hw, err := def.Link("hardware")
	if err != nil {
		return nil, err
	}
	var p InstrumentParams
	if err := object.DecodeParams(def.Params, &p); err != nil {
		return nil, err
	}
	i, err := NewInstrument(cfg, reg, hw, p)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func buildServer(reg *object.Registry, def object.Definition, cfg object.Config) (object.Runnable, error) {
	inst, err := def.Link("instrument")
	if err != nil {
		return nil, err
	}
	var p ServerParams
	if err := object.DecodeParams(def.Params, &p); err != nil {
		return nil, err
	}
	s, err := NewServer(cfg, reg, inst, grpcbridge.ServerConfig{Listen: p.Listen})
	if err != nil {
		return nil, err
	}
	return s, nil
}

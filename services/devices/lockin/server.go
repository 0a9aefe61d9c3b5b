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
	"errors"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/AleutianAI/dynexp/services/runtime/grpcbridge"
	"github.com/AleutianAI/dynexp/services/runtime/object"
)

// Server is a module exporting a linked Controller as ServiceName.
type Server struct {
	*grpcbridge.Server

	ctl *object.Link[Controller]
}

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }
func newDouble() *wrapperspb.DoubleValue { return new(wrapperspb.DoubleValue) }
func newUInt64() *wrapperspb.UInt64Value { return new(wrapperspb.UInt64Value) }
func empty() (*emptypb.Empty, error) { return new(emptypb.Empty), nil }
func double(v float64) *wrapperspb.DoubleValue { return wrapperspb.Double(v) }

// NewServer creates a server for the Controller named instrument in reg.
func NewServer(cfg object.Config, reg *object.Registry, instrument string, srvCfg grpcbridge.ServerConfig) (*Server, error) {
	srv, err := grpcbridge.NewServer(cfg, srvCfg)
	if err != nil {
		return nil, err
	}
	s := &Server{Server: srv, ctl: object.NewLink[Controller](reg, instrument)}
	if err := srv.Uses(s.ctl); err != nil {
		return nil, err
	}

	err = errors.Join(
		grpcbridge.Register(srv, ServiceName, MethodGetSensitivity, newEmpty, s.getSensitivity),
		grpcbridge.Register(srv, ServiceName, MethodSetSensitivity, newDouble, s.setSensitivity),
		grpcbridge.Register(srv, ServiceName, MethodGetPhase, newEmpty, s.getPhase),
		grpcbridge.Register(srv, ServiceName, MethodSetPhase, newDouble, s.setPhase),
		grpcbridge.Register(srv, ServiceName, MethodGetTimeConstant, newEmpty, s.getTimeConstant),
		grpcbridge.Register(srv, ServiceName, MethodSetTimeConstant, newDouble, s.setTimeConstant),
		grpcbridge.Register(srv, ServiceName, MethodGetOverload, newEmpty, s.getOverload),
		grpcbridge.Register(srv, ServiceName, MethodReadSamples, newUInt64, s.readSamples),
		grpcbridge.Register(srv, ServiceName, MethodGetStatus, newEmpty, s.getStatus),
		grpcbridge.Register(srv, ServiceName, MethodAutoRange, newEmpty, s.autoRange),
		grpcbridge.Register(srv, ServiceName, MethodClearStream, newEmpty, s.clearStream),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// controller returns the linked instrument unless it failed.
func (s *Server) controller() (Controller, error) {
	if err := s.ctl.Check(); err != nil {
		return nil, err
	}
	return s.ctl.Get()
}

func (s *Server) status(ctx context.Context) (Status, error) {
	c, err := s.controller()
	if err != nil {
		return Status{}, err
	}
	return c.Status(ctx)
}

func (s *Server) getSensitivity(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.DoubleValue, error) {
	st, err := s.status(ctx)
	if err != nil {
		return nil, err
	}
	return double(st.Sensitivity), nil
}

func (s *Server) getPhase(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.DoubleValue, error) {
	st, err := s.status(ctx)
	if err != nil {
		return nil, err
	}
	return double(st.Phase), nil
}

func (s *Server) getTimeConstant(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.DoubleValue, error) {
	st, err := s.status(ctx)
	if err != nil {
		return nil, err
	}
	return double(st.TimeConstant), nil
}

func (s *Server) getOverload(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	st, err := s.status(ctx)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bool(st.Overload), nil
}

func (s *Server) getStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.status(ctx)
	if err != nil {
		return nil, err
	}
	return statusToStruct(st), nil
}

func (s *Server) setSensitivity(ctx context.Context, req *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
	c, err := s.controller()
	if err != nil {
		return nil, err
	}
	if err := c.SetSensitivity(ctx, req.GetValue()); err != nil {
		return nil, err
	}
	return empty()
}

func (s *Server) setPhase(ctx context.Context, req *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
	c, err := s.controller()
	if err != nil {
		return nil, err
	}
	if err := c.SetPhase(ctx, req.GetValue()); err != nil {
		return nil, err
	}
	return empty()
}

func (s *Server) setTimeConstant(ctx context.Context, req *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
	c, err := s.controller()
	if err != nil {
		return nil, err
	}
	if err := c.SetTimeConstant(ctx, req.GetValue()); err != nil {
		return nil, err
	}
	return empty()
}

func (s *Server) readSamples(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	c, err := s.controller()
	if err != nil {
		return nil, err
	}
	samples, err := c.ReadSamples(ctx, req.GetValue())
	if err != nil {
		return nil, err
	}
	return samplesToStruct(samples), nil
}

func (s *Server) autoRange(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	c, err := s.controller()
	if err != nil {
		return nil, err
	}
	if err := c.AutoRange(ctx); err != nil {
		return nil, err
	}
	return empty()
}

func (s *Server) clearStream(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	c, err := s.controller()
	if err != nil {
		return nil, err
	}
	if err := c.ClearStream(ctx); err != nil {
		return nil, err
	}
	return empty()
}

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
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/AleutianAI/dynexp/pkg/util"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/lockable"
	"github.com/AleutianAI/dynexp/services/runtime/object"
)

// ServerConfig configures the gRPC side of a Server.
type ServerConfig struct {
	// Listen is the TCP address to listen on, e.g. "127.0.0.1:50051".
	Listen string

	// Listener, if set, is used instead of listening on Listen.
	Listener net.Listener

	// PollInterval bounds each wait on the completion queue.
	// Default: util.ServerPollInterval
	PollInterval time.Duration

	// Options are passed to grpc.NewServer.
	Options []grpc.ServerOption
}

// ServerData is the data of a Server Object.
type ServerData struct {
	// Address is the address the server listens on while running.
	Address string
}

// Server is a module Object serving gRPC methods registered with
// Register.
//
// Its worker initializes the grpc.Server in Init, polls the completion
// queue in Update and shuts everything down in Exit. A failure to listen
// is fatal; failures of individual calls are reported to the client only.
type Server struct {
	*object.Object[ServerData]

	cfg ServerConfig

	mu       sync.Mutex
	services map[string]*grpc.ServiceDesc
	order    []string
	methods  map[string]struct{}
	starters []func()
	addr     string

	grpc      *grpc.Server
	queue     *CompletionQueue
	slab      slab
	closing   chan struct{}
	closeOnce sync.Once
	serveErr  chan error
}

// NewServer creates a Server. The category of objCfg is forced to
// module and a zero UpdateInterval polls continuously.
func NewServer(objCfg object.Config, cfg ServerConfig) (*Server, error) {
	objCfg.Category = object.CategoryModule
	if objCfg.UpdateInterval == 0 {
		objCfg.UpdateInterval = util.MinUpdateInterval
	}
	cfg.PollInterval = util.DefaultIfZero(cfg.PollInterval, util.ServerPollInterval)
	if cfg.Listener == nil && cfg.Listen == "" {
		return nil, exception.InvalidArgument("server %s needs a listen address", objCfg.Name)
	}

	obj, err := object.New(objCfg, ServerData{})
	if err != nil {
		return nil, err
	}

	s := &Server{
		Object:   obj,
		cfg:      cfg,
		services: make(map[string]*grpc.ServiceDesc),
		methods:  make(map[string]struct{}),
		queue:    NewCompletionQueue(),
		closing:  make(chan struct{}),
		serveErr: make(chan error, 1),
	}
	if err := obj.AddLayer(object.Layer[ServerData]{
		Name:   "grpc_server",
		Init:   s.init,
		Update: s.poll,
		Exit:   s.exit,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Register adds a unary method to service. It must be called before the
// Server is started.
//
// newReq allocates an empty request message for decoding.
func Register[Req, Resp any](s *Server, service, name string, newReq func() Req, fn ProcessFunc[Req, Resp]) error {
	_, err := register(s, service, name, newReq, fn)
	return err
}

func register[Req, Resp any](s *Server, service, name string, newReq func() Req, fn ProcessFunc[Req, Resp]) (*method[Req, Resp], error) {
	if newReq == nil || fn == nil {
		return nil, exception.InvalidArgument("method %s/%s needs a request constructor and a function", service, name)
	}
	if s.State() != object.StateCreated {
		return nil, exception.InvalidState("cannot register %s/%s on running server %s", service, name, s.Name())
	}

	m := &method[Req, Resp]{
		srv:      s,
		fullName: "/" + service + "/" + name,
		newReq:   newReq,
		process:  fn,
		waiting:  make(chan Tag, 1),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.methods[m.fullName]; dup {
		return nil, exception.InvalidArgument("method %s registered twice", m.fullName)
	}
	s.methods[m.fullName] = struct{}{}

	desc, ok := s.services[service]
	if !ok {
		desc = &grpc.ServiceDesc{
			ServiceName: service,
			HandlerType: (*any)(nil),
		}
		s.services[service] = desc
		s.order = append(s.order, service)
	}
	desc.Methods = append(desc.Methods, grpc.MethodDesc{
		MethodName: name,
		Handler:    m.handler,
	})
	s.starters = append(s.starters, func() { m.spawn() })
	return m, nil
}

// Addr returns the address the server listens on, "" if not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Slots returns the number of calls that are waiting or in flight.
func (s *Server) Slots() int {
	return s.slab.len()
}

func (s *Server) init(ctx context.Context, data *lockable.Locked[ServerData]) error {
	lis := s.cfg.Listener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			return exception.Wrap(exception.KindNotAvailable, err, "server %s cannot listen on %s", s.Name(), s.cfg.Listen).
				WithSeverity(exception.SeverityFatal)
		}
	}

	s.mu.Lock()
	s.grpc = grpc.NewServer(s.cfg.Options...)
	for _, name := range s.order {
		s.grpc.RegisterService(s.services[name], s)
	}
	starters := s.starters
	s.addr = lis.Addr().String()
	s.mu.Unlock()

	for _, start := range starters {
		start()
	}

	srv := s.grpc
	util.SafeGo(func() {
		if err := srv.Serve(lis); err != nil {
			s.serveErr <- err
		}
	}, func(p util.PanicInfo) {
		s.serveErr <- p
	})

	data.Get().Address = lis.Addr().String()
	s.Logger().Info("gRPC server listening", "address", data.Get().Address, "methods", len(starters))
	return nil
}

// poll waits for completion queue events and advances their calls.
func (s *Server) poll(ctx context.Context, data *lockable.Locked[ServerData]) error {
	select {
	case err := <-s.serveErr:
		return exception.Wrap(exception.KindServiceFailed, err, "gRPC server %s stopped serving", s.Name()).
			WithSeverity(exception.SeverityError)
	default:
	}

	ev, st := s.queue.Next(s.cfg.PollInterval)
	for st == GotEvent {
		s.dispatch(ev)
		ev, st = s.queue.Next(0)
	}
	return nil
}

// dispatch advances the call ev belongs to. Events with stale tags are
// dropped; it returns false for them.
func (s *Server) dispatch(ev Event) bool {
	c, ok := s.slab.get(ev.Tag)
	if !ok {
		staleTags.WithLabelValues(s.Name()).Inc()
		s.Logger().Debug("dropping completion event of finished call", "tag", ev.Tag.String())
		return false
	}
	c.Proceed(ev.OK)
	return true
}

func (s *Server) exit(ctx context.Context, data *lockable.Locked[ServerData]) error {
	s.closeOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	srv := s.grpc
	s.addr = ""
	s.mu.Unlock()
	if srv != nil {
		srv.Stop()
	}

	s.queue.Shutdown()
	for {
		ev, st := s.queue.Next(0)
		if st != GotEvent {
			break
		}
		ev.OK = false
		s.dispatch(ev)
	}

	if dropped := s.slab.drain(); len(dropped) > 0 {
		s.Logger().Debug("dropped pending calls at shutdown", "count", len(dropped))
	}
	serverSlots.WithLabelValues(s.Name()).Set(0)
	data.Get().Address = ""
	return nil
}

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
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/AleutianAI/dynexp/pkg/util"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/telemetry"
)

// CallState is the state of a server call.
type CallState int

const (
	// CallInit waits for a request.
	CallInit CallState = iota

	// CallProcess has a request and computes the response.
	CallProcess

	// CallExit is terminal. The call's slot is freed when it is reached.
	CallExit
)

// String returns the state name.
func (s CallState) String() string {
	switch s {
	case CallInit:
		return "init"
	case CallProcess:
		return "process"
	case CallExit:
		return "exit"
	default:
		return "unknown"
	}
}

// CallData is one server call driven by completion queue events.
//
// Proceed is only called from the server's worker goroutine.
type CallData interface {
	Proceed(ok bool)
	State() CallState
	Method() string
}

// ProcessFunc computes the response of a call. Errors become the call's
// status via exception.ToStatus; they never stop the server.
type ProcessFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

type callResult[Resp any] struct {
	resp Resp
	err  error
}

// method is the server-side binding of one unary RPC.
type method[Req, Resp any] struct {
	srv      *Server
	fullName string
	newReq   func() Req
	process  ProcessFunc[Req, Resp]

	// tag of the call in CallInit, at most one
	waiting chan Tag
}

// spawn creates a call in CallInit and registers it as receiver.
func (m *method[Req, Resp]) spawn() *TypedCall[Req, Resp] {
	c, _ := m.srv.slab.alloc(func(tag Tag) CallData {
		return &TypedCall[Req, Resp]{m: m, tag: tag}
	})
	serverSlots.WithLabelValues(m.srv.Name()).Set(float64(m.srv.slab.len()))
	call := c.(*TypedCall[Req, Resp])
	call.Proceed(true)
	return call
}

// handler is the grpc.MethodDesc handler. It runs on a gRPC goroutine,
// hands the request to the waiting call and blocks until the call
// finished.
func (m *method[Req, Resp]) handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := m.newReq()
	if err := dec(req); err != nil {
		return nil, err
	}
	serve := func(ctx context.Context, r any) (any, error) {
		return m.serve(ctx, r.(Req))
	}
	if interceptor == nil {
		return serve(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: m.fullName}, serve)
}

func (m *method[Req, Resp]) serve(ctx context.Context, req Req) (any, error) {
	unavailable := status.Error(codes.Unavailable, "server is shutting down")

	var tag Tag
	select {
	case tag = <-m.waiting:
	case <-m.srv.closing:
		return nil, unavailable
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}

	c, ok := m.srv.slab.get(tag)
	if !ok {
		return nil, unavailable
	}
	call := c.(*TypedCall[Req, Resp])
	reply := make(chan callResult[Resp], 1)
	call.ctx, call.req, call.reply = ctx, req, reply
	if !m.srv.queue.Post(Event{Tag: tag, OK: true}) {
		return nil, unavailable
	}

	select {
	case r := <-reply:
		if r.err != nil {
			return nil, r.err
		}
		return r.resp, nil
	case <-m.srv.closing:
		return nil, unavailable
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

// TypedCall is a call of one method with request Req and response Resp.
type TypedCall[Req, Resp any] struct {
	m     *method[Req, Resp]
	tag   Tag
	state CallState

	// set by the gRPC goroutine before the request event is posted
	ctx   context.Context
	req   Req
	reply chan callResult[Resp]

	spawned int
}

// State returns the call's state.
func (c *TypedCall[Req, Resp]) State() CallState { return c.state }

// Method returns the full method name.
func (c *TypedCall[Req, Resp]) Method() string { return c.m.fullName }

// Tag returns the call's slot tag.
func (c *TypedCall[Req, Resp]) Tag() Tag { return c.tag }

// Spawned returns how many sibling calls this call created.
func (c *TypedCall[Req, Resp]) Spawned() int { return c.spawned }

// Proceed advances the state machine.
func (c *TypedCall[Req, Resp]) Proceed(ok bool) {
	switch c.state {
	case CallInit:
		c.state = CallProcess
		select {
		case c.m.waiting <- c.tag:
		default:
			// A method never has two calls waiting; drop the extra one.
			c.exit()
		}

	case CallProcess:
		if !ok {
			c.exit()
			return
		}
		c.m.spawn()
		c.spawned++

		resp, err := c.run()
		rpcServerCalls.WithLabelValues(c.m.fullName, status.Code(err).String()).Inc()
		c.reply <- callResult[Resp]{resp: resp, err: err}
		c.ctx, c.reply = nil, nil
		var zero Req
		c.req = zero

		c.state = CallExit
		if !c.m.srv.queue.Post(Event{Tag: c.tag, OK: true}) {
			c.exit()
		}

	case CallExit:
		c.exit()
	}
}

// run calls the method's ProcessFunc and maps its error to a status.
func (c *TypedCall[Req, Resp]) run() (resp Resp, err error) {
	defer util.RecoverPanic(func(p util.PanicInfo) {
		err = status.Error(codes.Internal, fmt.Sprintf("%s panicked: %v", c.m.fullName, p.Value))
		c.m.srv.Logger().Error("call panicked", "method", c.m.fullName, "stack", p.Stack)
	})()

	ctx, span := tracer.Start(telemetry.ExtractGRPC(c.ctx), "grpcbridge.Process",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("rpc.method", c.m.fullName)))
	defer span.End()

	resp, err = c.m.process(ctx, c.req)
	if err != nil {
		telemetry.RecordError(span, err)
		if exception.SeverityOf(err) >= exception.SeverityError {
			c.m.srv.Logger().LogError(err, "method", c.m.fullName)
		}
		return resp, exception.ToStatus(err).Err()
	}
	return resp, nil
}

func (c *TypedCall[Req, Resp]) exit() {
	c.state = CallExit
	c.m.srv.slab.release(c.tag)
	serverSlots.WithLabelValues(c.m.srv.Name()).Set(float64(c.m.srv.slab.len()))
}

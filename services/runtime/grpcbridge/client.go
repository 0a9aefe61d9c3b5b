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
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/AleutianAI/dynexp/pkg/util"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/lockable"
	"github.com/AleutianAI/dynexp/services/runtime/telemetry"
)

// NetworkParams is the address of a gRPC server.
type NetworkParams struct {
	Host string `yaml:"host" validate:"required"`
	Port uint16 `yaml:"port" validate:"required"`
}

// Address returns "host:port".
func (p NetworkParams) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

// ParseAddress splits "host:port" into NetworkParams.
func ParseAddress(addr string) (NetworkParams, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return NetworkParams{}, exception.Wrap(exception.KindInvalidArgument, err, "parsing address %q", addr)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return NetworkParams{}, exception.InvalidArgument("invalid port in address %q", addr)
	}
	return NetworkParams{Host: host, Port: uint16(p)}, nil
}

// StubFactory builds a stub on a connection.
type StubFactory[S any] func(cc grpc.ClientConnInterface) S

// StubHolder is the connection state of a Client. It is only reachable
// through a Locked token.
type StubHolder[S any] struct {
	target  string
	factory StubFactory[S]
	opts    []grpc.DialOption

	conn *grpc.ClientConn
	stub S
	open bool
}

// IsOpen reports whether the stub exists.
func (h *StubHolder[S]) IsOpen() bool {
	return h.open
}

// Target returns the dial target.
func (h *StubHolder[S]) Target() string {
	return h.target
}

// Client is the gRPC side of a network instrument or hardware adapter.
//
// Thread Safety: Safe for concurrent use.
type Client[S any] struct {
	holder      *lockable.Synchronized[StubHolder[S]]
	lockTimeout time.Duration
}

// NewClient creates a closed client for the server at params. Extra dial
// options are appended after insecure transport credentials.
func NewClient[S any](name string, params NetworkParams, factory StubFactory[S], opts ...grpc.DialOption) *Client[S] {
	return NewClientTarget(name, params.Address(), factory, opts...)
}

// NewClientTarget is NewClient for an arbitrary dial target such as
// "passthrough:///bufnet".
func NewClientTarget[S any](name, target string, factory StubFactory[S], opts ...grpc.DialOption) *Client[S] {
	dial := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return &Client[S]{
		holder: lockable.NewSynchronized(name+".stub", StubHolder[S]{
			target:  target,
			factory: factory,
			opts:    dial,
		}),
		lockTimeout: util.DefaultLockTimeout,
	}
}

// Lock acquires the stub holder.
func (c *Client[S]) Lock(ctx context.Context) (*lockable.Locked[StubHolder[S]], error) {
	return c.holder.Lock(ctx, c.lockTimeout)
}

// OpenUnsafe creates connection and stub if they do not exist yet.
// grpc.NewClient does not connect; the first RPC does.
func OpenUnsafe[S any](l *lockable.Locked[StubHolder[S]]) error {
	h := l.Get()
	if h.open {
		return nil
	}
	conn, err := grpc.NewClient(h.target, h.opts...)
	if err != nil {
		return exception.Wrap(exception.KindNotAvailable, err, "creating gRPC client for %s", h.target)
	}
	h.conn = conn
	h.stub = h.factory(conn)
	h.open = true
	return nil
}

// CloseUnsafe drops the stub and closes the connection. A later
// OpenUnsafe reconnects.
func CloseUnsafe[S any](l *lockable.Locked[StubHolder[S]]) error {
	h := l.Get()
	if !h.open {
		return nil
	}
	conn := h.conn
	var zero S
	h.stub = zero
	h.conn = nil
	h.open = false
	if err := conn.Close(); err != nil {
		return exception.Wrap(exception.KindNotAvailable, err, "closing gRPC client for %s", h.target)
	}
	return nil
}

// StubUnsafe returns the stub. Returns NotAvailable if it is not open.
func StubUnsafe[S any](l *lockable.Locked[StubHolder[S]]) (S, error) {
	h := l.Get()
	if !h.open {
		var zero S
		return zero, exception.NotAvailable("gRPC stub for %s is not open", h.target)
	}
	return h.stub, nil
}

// Open locks the holder and calls OpenUnsafe.
func (c *Client[S]) Open(ctx context.Context) error {
	l, err := c.Lock(ctx)
	if err != nil {
		return err
	}
	defer l.Unlock()
	return OpenUnsafe(l)
}

// Close locks the holder and calls CloseUnsafe.
func (c *Client[S]) Close(ctx context.Context) error {
	l, err := c.Lock(ctx)
	if err != nil {
		return err
	}
	defer l.Unlock()
	return CloseUnsafe(l)
}

// IsOpen reports whether the stub exists.
func (c *Client[S]) IsOpen(ctx context.Context) bool {
	l, err := c.Lock(ctx)
	if err != nil {
		return false
	}
	defer l.Unlock()
	return l.Get().IsOpen()
}

// Invoke issues one unary RPC through the client's stub.
//
// # Description
//
// The holder stays locked for the duration of the call. call runs with a
// context whose deadline is timeout from now, or util.DefaultCallTimeout
// for a zero timeout.
//
// # Outputs
//
//   - NotAvailable if the stub is not open.
//   - ServiceFailed (Warning) with the gRPC code as Code on a non-OK status.
func Invoke[S, Resp any](ctx context.Context, c *Client[S], method string, timeout time.Duration,
	call func(ctx context.Context, stub S) (Resp, error)) (Resp, error) {

	var zero Resp
	l, err := c.Lock(ctx)
	if err != nil {
		return zero, err
	}
	defer l.Unlock()

	stub, err := StubUnsafe(l)
	if err != nil {
		return zero, err
	}

	ctx, span := tracer.Start(ctx, "grpcbridge.Invoke", trace.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("rpc.target", l.Get().Target()),
	))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, util.DefaultIfZero(timeout, util.DefaultCallTimeout))
	defer cancel()
	cctx = telemetry.InjectGRPC(cctx)

	resp, err := call(cctx, stub)
	st := status.Convert(err)
	rpcClientCalls.WithLabelValues(method, st.Code().String()).Inc()
	if err != nil {
		ex := exception.FromStatus(st, method)
		span.RecordError(ex)
		span.SetStatus(codes.Error, ex.Error())
		return zero, ex
	}
	return resp, nil
}

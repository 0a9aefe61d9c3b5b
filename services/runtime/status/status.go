// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status serves the read-only HTTP view of a running project.
//
// Routes:
//
//	GET /healthz           200 when no Object is in the error state, else 503
//	GET /v1/objects        Info of every Object
//	GET /v1/objects/:name  Info of one Object
//	GET /v1/watch          websocket pushing the Info list periodically
//	GET /metrics           prometheus exposition
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/dynexp/pkg/logging"
	"github.com/AleutianAI/dynexp/pkg/util"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/object"
	"github.com/AleutianAI/dynexp/services/runtime/telemetry"
)

// Source provides the Object snapshots. *object.Registry implements it.
type Source interface {
	Snapshot() []object.Info
}

// Config configures the status server.
type Config struct {
	// Listen is the TCP address of the server.
	Listen string

	// SnapshotInterval is the websocket push interval. Default: 1s.
	SnapshotInterval time.Duration

	// ServiceName names the otelgin spans. Default: "dynexp".
	ServiceName string
}

// Server is the status HTTP server.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	cfg     Config
	src     Source
	log     *logging.Logger
	metrics *telemetry.Metrics
	router  *gin.Engine
}

// New builds the router. The server is not listening until Serve.
func New(cfg Config, src Source, log *logging.Logger) (*Server, error) {
	if src == nil {
		return nil, exception.InvalidArgument("status server needs a snapshot source")
	}
	if log == nil {
		log = logging.EventLog()
	}
	cfg.SnapshotInterval = util.DefaultIfZero(cfg.SnapshotInterval, time.Second)
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dynexp"
	}

	metrics, err := telemetry.NewMetrics(otel.Meter("dynexp.status"))
	if err != nil {
		return nil, exception.Wrap(exception.KindInvalidState, err, "creating status metrics")
	}

	s := &Server{cfg: cfg, src: src, log: log.With("component", "status"), metrics: metrics}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(s.measure)

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	v1 := router.Group("/v1")
	v1.GET("/objects", s.listObjects)
	v1.GET("/objects/:name", s.getObject)
	v1.GET("/watch", s.watch)

	s.router = router
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on cfg.Listen and serves until ctx is done.
//
// # Outputs
//
//   - nil after a clean shutdown.
//   - NotAvailable if the address cannot be bound.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return exception.Wrap(exception.KindNotAvailable, err, "status server cannot listen on %s", s.cfg.Listen)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is done.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	util.SafeGo(func() {
		errCh <- srv.Serve(lis)
	}, func(p util.PanicInfo) {
		errCh <- p
	})
	s.log.Info("status server listening", "address", lis.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return exception.Wrap(exception.KindServiceFailed, err, "status server stopped")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), util.DefaultStopTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Hijacked websockets are not tracked by Shutdown.
		_ = srv.Close()
	}
	return nil
}

// measure records request count and latency per route.
func (s *Server) measure(c *gin.Context) {
	start := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	attrs := metric.WithAttributes(
		attribute.String("http.route", route),
		attribute.Int("http.status_code", c.Writer.Status()),
	)
	ctx := c.Request.Context()
	s.metrics.HTTPRequestsTotal.Add(ctx, 1, attrs)
	s.metrics.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

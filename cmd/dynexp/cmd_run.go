// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/AleutianAI/dynexp/pkg/logging"
	"github.com/AleutianAI/dynexp/services/devices/lockin"
	"github.com/AleutianAI/dynexp/services/runtime/config"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/object"
	"github.com/AleutianAI/dynexp/services/runtime/status"
	"github.com/AleutianAI/dynexp/services/runtime/telemetry"
)

type runOptions struct {
	*globalOptions

	configPath   string
	readyTimeout time.Duration
	noWatch      bool
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{globalOptions: global}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the Objects of a project file until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.run(ctx, cmd.Flags().Changed("log-level"))
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "project.yaml", "Project file")
	cmd.Flags().DurationVar(&opts.readyTimeout, "ready-timeout", defaultReadyTimeout,
		"How long to wait for every Object to become ready")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Do not reload the project file on change")
	return cmd
}

func (o *runOptions) run(ctx context.Context, levelFromFlag bool) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	log := o.applyEventLog(cfg.EventLog, levelFromFlag)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return exception.Wrap(exception.KindInvalidArgument, err, "telemetry")
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	reg, err := buildRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*defaultReadyTimeout)
		defer cancel()
		if err := reg.Stop(stopCtx); err != nil {
			log.LogError(exception.Forward(err, "stopping project"))
		}
		log.Info("project stopped")
	}()

	log.Info("starting project", "config", o.configPath, "objects", len(cfg.Objects))
	startCtx, span := telemetry.StartSpan(ctx, "dynexp.cmd", "project.start")
	// Workers outlive the span; they get ctx, not startCtx.
	err = reg.Start(ctx, o.readyTimeout)
	telemetry.RecordError(span, err)
	span.End()
	if err != nil {
		return err
	}
	log.Info("project ready", "trace_id", telemetry.TraceID(startCtx))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Status.Listen != "" {
		srv, err := status.New(status.Config{
			Listen:           cfg.Status.Listen,
			SnapshotInterval: cfg.Status.SnapshotInterval,
			ServiceName:      cfg.Telemetry.ServiceName,
		}, reg, log)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Serve(gctx) })
	}
	if !o.noWatch {
		var mu sync.Mutex
		current := cfg
		g.Go(func() error {
			return config.Watch(gctx, o.configPath, log, func(next *config.Config) {
				mu.Lock()
				defer mu.Unlock()
				applyChanges(gctx, reg, next.Diff(current), log)
				current = next
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// applyEventLog replaces the flag-built event log with the project's
// settings. A level given on the command line wins.
func (o *runOptions) applyEventLog(ev config.EventLog, levelFromFlag bool) *logging.Logger {
	if levelFromFlag {
		ev.Level = o.logLevel
	}
	if o.logHTML != "" {
		ev.HTMLFile = o.logHTML
	}
	ev.JSON = ev.JSON || o.logJSON
	lc, err := ev.Logging()
	if err != nil {
		o.log.Warn("keeping command line event log", "error", err)
		return o.log
	}
	prev := o.log
	o.log = logging.New(lc)
	logging.SetEventLog(o.log)
	if prev != nil {
		_ = prev.Close()
	}
	return o.log
}

// buildRegistry builds every Object of cfg in file order. The registry
// stops them along their links, so the order of the file does not matter.
func buildRegistry(cfg *config.Config, log *logging.Logger, dialOpts ...grpc.DialOption) (*object.Registry, error) {
	lib := object.NewLibrary()
	if err := lockin.RegisterTypes(lib, dialOpts...); err != nil {
		return nil, err
	}

	reg := object.NewRegistry()
	for _, def := range cfg.Objects {
		if _, err := lib.Build(reg, def, object.Config{Logger: log}); err != nil {
			return nil, exception.Forward(err, "building "+def.Name)
		}
	}
	return reg, nil
}

// applyChanges pushes changed settings into running instruments. Changes
// that need a rebuild are only reported. Returns the number of Objects
// updated.
func applyChanges(ctx context.Context, reg *object.Registry, changes []config.Change, log *logging.Logger) int {
	applied := 0
	for _, ch := range changes {
		if ch.Rebuild {
			log.Warn("object definition changed, restart to apply", "object", ch.Name)
			continue
		}
		obj, ok := reg.Get(ch.Name)
		if !ok {
			continue
		}
		ctl, ok := obj.(lockin.Controller)
		if !ok {
			log.Info("params of this object cannot change while running", "object", ch.Name)
			continue
		}
		settings, err := lockin.DecodeSettings(ch.Params)
		if err != nil {
			log.LogError(exception.Forward(err, "reload "+ch.Name))
			continue
		}
		if settings.IsZero() {
			continue
		}
		if err := settings.Apply(ctx, ctl); err != nil {
			log.LogError(exception.Forward(err, "reload "+ch.Name))
			continue
		}
		log.Info("settings applied", "object", ch.Name)
		applied++
	}
	return applied
}

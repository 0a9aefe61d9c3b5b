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
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/dynexp/services/devices/lockin"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/object"
)

type lockinOptions struct {
	*globalOptions

	addr    string
	timeout time.Duration
	json    bool

	// set
	sensitivity  float64
	phase        float64
	timeConstant float64
	autoRange    bool

	// samples
	count int
}

func newLockinCmd(global *globalOptions) *cobra.Command {
	opts := &lockinOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "lockin",
		Short: "Talk to a lock-in amplifier served by a running project",
	}
	cmd.PersistentFlags().StringVar(&opts.addr, "addr", "127.0.0.1:50051", "Address of the lockin_grpc_server")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Overall timeout")
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "Print JSON")

	get := &cobra.Command{
		Use:   "get",
		Short: "Print sensitivity, phase, time constant and overload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withInstrument(cmd.Context(), func(ctx context.Context, g *lockin.GRPCInstrument) error {
				return opts.printStatus(ctx, cmd.OutOrStdout(), g)
			})
		},
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Change settings of the remote instrument",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var s lockin.Settings
			if cmd.Flags().Changed("sensitivity") {
				s.Sensitivity = &opts.sensitivity
			}
			if cmd.Flags().Changed("phase") {
				s.Phase = &opts.phase
			}
			if cmd.Flags().Changed("time-constant") {
				s.TimeConstant = &opts.timeConstant
			}
			if s.IsZero() && !opts.autoRange {
				return exception.InvalidArgument("nothing to set")
			}
			return opts.withInstrument(cmd.Context(), func(ctx context.Context, g *lockin.GRPCInstrument) error {
				if err := s.Apply(ctx, g); err != nil {
					return err
				}
				if opts.autoRange {
					if err := g.AutoRange(ctx); err != nil {
						return err
					}
				}
				return opts.printStatus(ctx, cmd.OutOrStdout(), g)
			})
		},
	}
	set.Flags().Float64Var(&opts.sensitivity, "sensitivity", 0, "Full scale in volts")
	set.Flags().Float64Var(&opts.phase, "phase", 0, "Reference phase in degrees")
	set.Flags().Float64Var(&opts.timeConstant, "time-constant", 0, "Filter time constant in seconds")
	set.Flags().BoolVar(&opts.autoRange, "auto-range", false, "Run auto ranging after the other settings")

	samples := &cobra.Command{
		Use:   "samples",
		Short: "Print the next samples of the remote instrument",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.count <= 0 {
				return exception.InvalidArgument("--count must be positive")
			}
			return opts.withInstrument(cmd.Context(), func(ctx context.Context, g *lockin.GRPCInstrument) error {
				return opts.printSamples(ctx, cmd.OutOrStdout(), g)
			})
		},
	}
	samples.Flags().IntVarP(&opts.count, "count", "n", 10, "Number of samples")

	cmd.AddCommand(get, set, samples)
	return cmd
}

// withInstrument runs fn against a started GRPCInstrument for opts.addr.
func (o *lockinOptions) withInstrument(ctx context.Context, fn func(ctx context.Context, g *lockin.GRPCInstrument) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	g, err := lockin.NewGRPCInstrument(object.Config{Name: "remote-lockin", Logger: o.log},
		lockin.NetworkParams{
			InstrumentParams: lockin.InstrumentParams{UpdateInterval: 20 * time.Millisecond},
			Address:          o.addr,
		})
	if err != nil {
		return err
	}
	if err := g.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = g.Stop(context.Background()) }()
	if err := g.WaitReady(ctx, o.timeout); err != nil {
		return err
	}
	return fn(ctx, g)
}

func (o *lockinOptions) printStatus(ctx context.Context, w io.Writer, g *lockin.GRPCInstrument) error {
	st, err := g.Status(ctx)
	if err != nil {
		return err
	}
	if o.json {
		return json.NewEncoder(w).Encode(st)
	}
	_, err = fmt.Fprintf(w, "sensitivity:   %g V\nphase:         %g deg\ntime constant: %g s\noverload:      %t\n",
		st.Sensitivity, st.Phase, st.TimeConstant, st.Overload)
	return err
}

// printSamples waits for o.count samples newer than the start of the
// command.
func (o *lockinOptions) printSamples(ctx context.Context, w io.Writer, g *lockin.GRPCInstrument) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		got, err := g.ReadSamples(ctx, 0)
		if err != nil {
			return err
		}
		if len(got.Values) >= o.count {
			values := got.Values[:o.count]
			if o.json {
				return json.NewEncoder(w).Encode(values)
			}
			for _, s := range values {
				if _, err := fmt.Fprintf(w, "%.6f\t%.9g\n", s.Time, s.Value); err != nil {
					return err
				}
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return exception.Timeout("received %d of %d samples", len(got.Values), o.count)
		case <-ticker.C:
		}
	}
}

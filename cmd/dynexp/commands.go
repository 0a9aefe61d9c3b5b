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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/dynexp/pkg/logging"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	logLevel string
	logHTML  string
	logJSON  bool

	log *logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "dynexp",
		Short: "Run DynExp instrument projects",
		Long: `dynexp builds the hardware adapters, instruments and modules of a
project file, runs them until interrupted and serves their status.

The lockin commands talk to a lock-in amplifier exported by a
lockin_grpc_server module of a running project.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupEventLog()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.closeEventLog()
		},
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info",
		"Event log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&opts.logHTML, "log-html", "",
		"Write the event log to this HTML file as well")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false,
		"Write the event log to stderr as JSON")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newLockinCmd(opts))
	return root
}

// setupEventLog installs the process-wide event log from the flags.
func (o *globalOptions) setupEventLog() error {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	o.log = logging.New(logging.Config{
		Level:         level,
		Service:       "dynexp",
		JSON:          o.logJSON,
		JSONWhenPiped: true,
		HTMLFile:      o.logHTML,
	})
	logging.SetEventLog(o.log)
	return nil
}

func (o *globalOptions) closeEventLog() error {
	if o.log == nil {
		return nil
	}
	return o.log.Close()
}

const defaultReadyTimeout = 10 * time.Second

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads DynExp project files.
//
// A project file is YAML with an event log section, the status surface
// address, the telemetry exporters and the list of Objects to build:
//
//	event_log: { level: info, html_file: events.html }
//	status: { listen: ":9464" }
//	telemetry: { trace_exporter: none, metric_exporter: prometheus }
//	objects:
//	  - name: lockin-hw
//	    kind: hardware_adapter
//	    type: simulated_lockin
//	  - name: lockin
//	    kind: instrument
//	    type: lockin_amplifier
//	    links: { hardware: lockin-hw }
//
// Watch reloads the file on change.
package config

import (
	"os"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/dynexp/pkg/logging"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/object"
	"github.com/AleutianAI/dynexp/services/runtime/telemetry"
)

// DefaultSnapshotInterval is the push interval of the status websocket.
const DefaultSnapshotInterval = time.Second

// EventLog configures the process-wide event log.
type EventLog struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`

	// HTMLFile is the HTML event log file. Empty disables it.
	HTMLFile string `yaml:"html_file"`

	// Dir enables daily JSON log files in this directory.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

// Logging returns the logging.Config for e.
func (e EventLog) Logging() (logging.Config, error) {
	level, err := logging.ParseLevel(e.Level)
	if err != nil {
		return logging.Config{}, exception.InvalidArgument("event_log.level: %v", err)
	}
	return logging.Config{
		Level:         level,
		Service:       "dynexp",
		LogDir:        e.Dir,
		JSON:          e.JSON,
		JSONWhenPiped: true,
		HTMLFile:      e.HTMLFile,
	}, nil
}

// Status configures the HTTP status surface.
type Status struct {
	// Listen is the status address. Empty disables the surface.
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`

	// SnapshotInterval is the websocket push interval.
	SnapshotInterval time.Duration `yaml:"snapshot_interval" validate:"omitempty,min=10ms"`
}

// Config is a project file.
type Config struct {
	EventLog  EventLog            `yaml:"event_log"`
	Status    Status              `yaml:"status"`
	Telemetry telemetry.Config    `yaml:"telemetry"`
	Objects   []object.Definition `yaml:"objects" validate:"required,min=1,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates the project file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.FileIO(err, "reading config %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a project file.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, exception.Wrap(exception.KindInvalidData, err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Status.SnapshotInterval == 0 {
		cfg.Status.SnapshotInterval = DefaultSnapshotInterval
	}
	cfg.Telemetry = cfg.Telemetry.WithDefaults()
	return &cfg, nil
}

// Validate checks the struct tags, that Object names are unique and that
// every link names a declared Object.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return exception.Wrap(exception.KindInvalidArgument, err, "invalid config")
	}

	names := make(map[string]struct{}, len(c.Objects))
	for _, def := range c.Objects {
		if _, dup := names[def.Name]; dup {
			return exception.InvalidArgument("object name %q is used twice", def.Name)
		}
		names[def.Name] = struct{}{}
	}
	for _, def := range c.Objects {
		for role, target := range def.Links {
			if target == def.Name {
				return exception.InvalidObjectLink("object %s links to itself as %s", def.Name, role)
			}
			if _, ok := names[target]; !ok {
				return exception.InvalidObjectLink("object %s links %s to undeclared object %q", def.Name, role, target)
			}
		}
	}
	return nil
}

// Definition returns the Object definition called name.
func (c *Config) Definition(name string) (object.Definition, bool) {
	for _, def := range c.Objects {
		if def.Name == name {
			return def, true
		}
	}
	return object.Definition{}, false
}

// Change is an Object whose definition differs between two configs.
type Change struct {
	Name string

	// Params are the new params.
	Params map[string]any

	// Rebuild is set when kind, type or links changed. Those cannot be
	// applied to a running Object.
	Rebuild bool
}

// Diff returns the changes from old to c. Objects added or removed are
// reported with Rebuild set.
func (c *Config) Diff(old *Config) []Change {
	var out []Change
	for _, def := range c.Objects {
		prev, ok := old.Definition(def.Name)
		switch {
		case !ok:
			out = append(out, Change{Name: def.Name, Params: def.Params, Rebuild: true})
		case prev.Kind != def.Kind || prev.Type != def.Type || !reflect.DeepEqual(prev.Links, def.Links):
			out = append(out, Change{Name: def.Name, Params: def.Params, Rebuild: true})
		case !reflect.DeepEqual(prev.Params, def.Params):
			out = append(out, Change{Name: def.Name, Params: def.Params})
		}
	}
	for _, def := range old.Objects {
		if _, ok := c.Definition(def.Name); !ok {
			out = append(out, Change{Name: def.Name, Rebuild: true})
		}
	}
	return out
}

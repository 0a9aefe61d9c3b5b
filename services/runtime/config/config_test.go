// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dynexp/pkg/logging"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

const project = `
event_log: { level: debug, html_file: events.html }
status: { listen: ":9464", snapshot_interval: 250ms }
telemetry: { trace_exporter: none, metric_exporter: none }
objects:
  - name: lockin-hw
    kind: hardware_adapter
    type: simulated_lockin
    params: { update_interval: 50ms, noise: 0.01 }
  - name: lockin
    kind: instrument
    type: lockin_amplifier
    links: { hardware: lockin-hw }
    params: { stream_size: 1000, sensitivity: 0.01 }
  - name: lockin-server
    kind: module
    type: lockin_grpc_server
    links: { instrument: lockin }
    params: { listen: "127.0.0.1:50051" }
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(project))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.EventLog.Level)
	assert.Equal(t, ":9464", cfg.Status.Listen)
	assert.Equal(t, 250*time.Millisecond, cfg.Status.SnapshotInterval)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
	assert.Equal(t, "dynexp", cfg.Telemetry.ServiceName)
	require.Len(t, cfg.Objects, 3)

	def, ok := cfg.Definition("lockin")
	require.True(t, ok)
	assert.Equal(t, "lockin_amplifier", def.Type)
	hw, err := def.Link("hardware")
	require.NoError(t, err)
	assert.Equal(t, "lockin-hw", hw)
	assert.Equal(t, 1000, def.Params["stream_size"])

	_, ok = cfg.Definition("missing")
	assert.False(t, ok)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("objects: [{name: a, kind: instrument, type: x}]"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSnapshotInterval, cfg.Status.SnapshotInterval)
	assert.Empty(t, cfg.Status.Listen)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		kind exception.Kind
	}{
		{
			name: "not yaml",
			yaml: "objects: [",
			kind: exception.KindInvalidData,
		},
		{
			name: "no objects",
			yaml: "status: { listen: ':1' }",
			kind: exception.KindInvalidArgument,
		},
		{
			name: "unknown kind",
			yaml: "objects: [{name: a, kind: gadget, type: x}]",
			kind: exception.KindInvalidArgument,
		},
		{
			name: "missing type",
			yaml: "objects: [{name: a, kind: instrument}]",
			kind: exception.KindInvalidArgument,
		},
		{
			name: "bad listen address",
			yaml: "status: { listen: 'nowhere' }\nobjects: [{name: a, kind: instrument, type: x}]",
			kind: exception.KindInvalidArgument,
		},
		{
			name: "bad level",
			yaml: "event_log: { level: loud }\nobjects: [{name: a, kind: instrument, type: x}]",
			kind: exception.KindInvalidArgument,
		},
		{
			name: "bad exporter",
			yaml: "telemetry: { trace_exporter: zipkin }\nobjects: [{name: a, kind: instrument, type: x}]",
			kind: exception.KindInvalidArgument,
		},
		{
			name: "duplicate name",
			yaml: "objects: [{name: a, kind: instrument, type: x}, {name: a, kind: module, type: y}]",
			kind: exception.KindInvalidArgument,
		},
		{
			name: "undeclared link",
			yaml: "objects: [{name: a, kind: instrument, type: x, links: {hardware: b}}]",
			kind: exception.KindInvalidObjectLink,
		},
		{
			name: "self link",
			yaml: "objects: [{name: a, kind: instrument, type: x, links: {hardware: a}}]",
			kind: exception.KindInvalidObjectLink,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, tt.kind, exception.KindOf(err), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte(project), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Objects, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrFileIO))
}

func TestEventLog_Logging(t *testing.T) {
	lc, err := EventLog{Level: "warn", HTMLFile: "x.html", JSON: true}.Logging()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelWarn, lc.Level)
	assert.Equal(t, "x.html", lc.HTMLFile)
	assert.True(t, lc.JSON)

	lc, err = EventLog{}.Logging()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelInfo, lc.Level)
}

func TestDiff(t *testing.T) {
	old, err := Parse([]byte(project))
	require.NoError(t, err)

	edited := strings.Replace(project, "sensitivity: 0.01", "sensitivity: 0.1", 1)
	edited = strings.Replace(edited, "type: lockin_grpc_server", "type: other_server", 1)
	edited += "  - name: extra\n    kind: module\n    type: x\n"
	cfg, err := Parse([]byte(edited))
	require.NoError(t, err)

	changes := cfg.Diff(old)
	byName := make(map[string]Change)
	for _, c := range changes {
		byName[c.Name] = c
	}
	require.Len(t, byName, 3)

	assert.False(t, byName["lockin"].Rebuild)
	assert.Equal(t, 0.1, byName["lockin"].Params["sensitivity"])
	assert.True(t, byName["lockin-server"].Rebuild)
	assert.True(t, byName["extra"].Rebuild)

	assert.Empty(t, old.Diff(old))

	removed := old.Diff(cfg)
	var sawRemoved bool
	for _, c := range removed {
		if c.Name == "extra" {
			sawRemoved = c.Rebuild
		}
	}
	assert.True(t, sawRemoved)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte(project), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	log := logging.New(logging.Config{Quiet: true})
	go func() {
		done <- Watch(ctx, path, log, func(c *Config) { got <- c })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid files are skipped.
	require.NoError(t, os.WriteFile(path, []byte("objects: ["), 0o644))
	select {
	case c := <-got:
		t.Fatalf("unexpected reload: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}

	edited := strings.Replace(project, "sensitivity: 0.01", "sensitivity: 0.1", 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	select {
	case c := <-got:
		def, ok := c.Definition("lockin")
		require.True(t, ok)
		assert.Equal(t, 0.1, def.Params["sensitivity"])
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o644))
	select {
	case c := <-got:
		t.Fatalf("unexpected reload: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"),
		logging.New(logging.Config{Quiet: true}), func(*Config) {})
	assert.True(t, errors.Is(err, exception.ErrFileIO))
}

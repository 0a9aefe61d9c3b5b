// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package object

import (
	"slices"
	"sync"

	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

// Definition describes one Object of a project.
type Definition struct {
	// Name is the unique Object name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Kind is the Category name, e.g. "instrument".
	Kind string `yaml:"kind" json:"kind" validate:"required,oneof=hardware_adapter instrument module"`

	// Type selects the constructor in a Library.
	Type string `yaml:"type" json:"type" validate:"required"`

	// Links maps link roles to the names of other Objects.
	Links map[string]string `yaml:"links,omitempty" json:"links,omitempty"`

	// Params are decoded by the constructor with DecodeParams.
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Link returns the Object name linked under role.
//
// Returns InvalidArgument if the role is missing.
func (d Definition) Link(role string) (string, error) {
	target, ok := d.Links[role]
	if !ok || target == "" {
		return "", exception.InvalidArgument("object %s (%s) needs a %q link", d.Name, d.Type, role)
	}
	return target, nil
}

// Constructor builds an Object from its definition. cfg carries the name
// and the shared logger; reg resolves links.
type Constructor func(reg *Registry, def Definition, cfg Config) (Runnable, error)

type libraryEntry struct {
	category Category
	ctor     Constructor
}

// Library maps Object type names to constructors.
//
// Thread Safety: Safe for concurrent use.
type Library struct {
	mu      sync.RWMutex
	entries map[string]libraryEntry
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{entries: make(map[string]libraryEntry)}
}

// Register adds a type. Type names must be unique.
func (l *Library) Register(typ string, category Category, ctor Constructor) error {
	if typ == "" || ctor == nil {
		return exception.InvalidArgument("library entries need a type name and a constructor")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[typ]; ok {
		return exception.InvalidArgument("object type %s is already registered", typ)
	}
	l.entries[typ] = libraryEntry{category: category, ctor: ctor}
	return nil
}

// Types returns the registered type names, sorted.
func (l *Library) Types() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.entries))
	for typ := range l.entries {
		out = append(out, typ)
	}
	slices.Sort(out)
	return out
}

// Build constructs the Object of def and adds it to reg.
//
// Returns NotFound for unknown types and TypeMismatch if def.Kind differs
// from the category the type was registered with.
func (l *Library) Build(reg *Registry, def Definition, cfg Config) (Runnable, error) {
	l.mu.RLock()
	entry, ok := l.entries[def.Type]
	l.mu.RUnlock()
	if !ok {
		return nil, exception.NotFound("unknown object type %q for %s", def.Type, def.Name)
	}

	kind, err := ParseCategory(def.Kind)
	if err != nil {
		return nil, err
	}
	if kind != entry.category {
		return nil, exception.TypeMismatch("object %s: type %s is a %s, not a %s", def.Name, def.Type, entry.category, kind)
	}

	cfg.Name = def.Name
	cfg.Category = entry.category
	obj, err := entry.ctor(reg, def, cfg)
	if err != nil {
		return nil, err
	}
	if err := reg.Add(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

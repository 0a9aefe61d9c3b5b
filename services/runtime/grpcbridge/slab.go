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

import "sync"

type slot struct {
	generation uint32
	call       CallData
}

// slab owns the calls of a server. A call is referenced from outside only
// by its Tag; freeing the slot bumps the generation so that old tags no
// longer resolve.
type slab struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
	inUse int
}

// alloc stores the call built by newCall in a free slot and returns it
// with its tag.
func (s *slab) alloc(newCall func(Tag) CallData) (CallData, Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot{})
	}
	tag := Tag{Slot: idx, Generation: s.slots[idx].generation}
	c := newCall(tag)
	s.slots[idx].call = c
	s.inUse++
	return c, tag
}

// get resolves tag. It returns false for stale or unknown tags.
func (s *slab) get(tag Tag) (CallData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(tag.Slot) >= len(s.slots) {
		return nil, false
	}
	sl := s.slots[tag.Slot]
	if sl.call == nil || sl.generation != tag.Generation {
		return nil, false
	}
	return sl.call, true
}

// release frees the slot of tag. It returns false if tag was stale.
func (s *slab) release(tag Tag) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(tag.Slot) >= len(s.slots) {
		return false
	}
	sl := &s.slots[tag.Slot]
	if sl.call == nil || sl.generation != tag.Generation {
		return false
	}
	sl.call = nil
	sl.generation++
	s.free = append(s.free, tag.Slot)
	s.inUse--
	return true
}

// drain frees every slot and returns the calls that occupied them.
func (s *slab) drain() []CallData {
	s.mu.Lock()
	defer s.mu.Unlock()
	var calls []CallData
	for i := range s.slots {
		if s.slots[i].call == nil {
			continue
		}
		calls = append(calls, s.slots[i].call)
		s.slots[i].call = nil
		s.slots[i].generation++
		s.free = append(s.free, uint32(i))
	}
	s.inUse = 0
	return calls
}

func (s *slab) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

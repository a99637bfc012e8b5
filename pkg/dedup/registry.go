// Copyright 2021 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dedup

import "sync"

// Visitor is called once per real mapping a registry walk fans out to.
// Returning false stops the walk early.
type Visitor func(page PageID, space SpaceID, addr uint64) bool

// Registry is the reverse-mapping registry of spec.md §4.6: for every
// descriptor that heads a stable-tree entry it holds the list of
// mapping anchors pinning the virtual-address-spaces that currently
// map the shared page, and fans out OS queries (reference counting,
// unmap, migrate) to each of them.
//
// The active-address-space list it also keeps is the per-address-space
// record of spec.md §3; EnterSpace/LeaveSpace give the scan-cursor
// discipline of invariant 5 ("the scan cursor never points at a record
// that has been unlinked") a single place to be enforced: LeaveSpace
// refuses to unlink a space the scanner is currently paused inside.
type Registry struct {
	adapter PageAdapter

	mu     sync.Mutex
	spaces map[SpaceID]*AddressSpace
	cursor SpaceID
	inUse  bool
}

func NewRegistry(adapter PageAdapter) *Registry {
	return &Registry{adapter: adapter, spaces: make(map[SpaceID]*AddressSpace)}
}

// EnterSpace registers a new address-space record, called when a
// space enters the engine (first birth notification for a new space).
func (r *Registry) EnterSpace(id SpaceID) *AddressSpace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.spaces[id]; ok {
		return s
	}
	s := &AddressSpace{ID: id}
	r.spaces[id] = s
	return s
}

// LeaveSpace removes an address-space record once nothing references
// it any more. Returns false (and leaves the record in place) if the
// scan cursor currently sits on it, preserving invariant 5.
func (r *Registry) LeaveSpace(id SpaceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inUse && r.cursor == id {
		return false
	}
	delete(r.spaces, id)
	return true
}

// withCursor pins the scan cursor on space for the duration of fn,
// so a concurrent LeaveSpace cannot unlink the record out from under
// an in-progress walk.
func (r *Registry) withCursor(space SpaceID, fn func()) {
	r.mu.Lock()
	r.cursor = space
	r.inUse = true
	r.mu.Unlock()

	fn()

	r.mu.Lock()
	r.inUse = false
	r.mu.Unlock()
}

// Reference walks every mapping anchor of desc, and for each calls
// visit once per VMA it pins, stopping early if visit returns false.
// It returns the number of mappings visited. This is the mechanism
// that lets OS queries on a shared page (reference counting, unmap,
// migration) fan out to all real mappings (spec.md §4.6).
func (r *Registry) Reference(desc *Descriptor, visit Visitor) int {
	count := 0
	for _, a := range desc.Anchors() {
		if a.Released() {
			continue
		}
		cont := true
		r.withCursor(a.Space, func() {
			count++
			cont = visit(desc.Page, a.Space, a.Range.Addr())
		})
		if !cont {
			break
		}
	}
	return count
}

// Append pins space as an additional mapper of desc's page, performed
// by the merge protocol at promotion or join time (spec.md §4.6
// "append anchor").
func (r *Registry) Append(desc *Descriptor, space SpaceID, vmaRange VMARange) *MappingAnchor {
	r.EnterSpace(space)
	a := NewMappingAnchor(space, vmaRange)
	desc.appendAnchor(a)
	return a
}

// Drop releases every anchor of desc, performed when the descriptor is
// freed (spec.md §4.6 "drop").
func (r *Registry) Drop(desc *Descriptor) {
	desc.dropAnchors()
}

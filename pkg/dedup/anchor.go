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

// VMARange is the virtual-address span an anchor pins within its
// address space. Arithmetic mirrors the teacher's AddrRange (a start
// address plus a page count), repurposed here from a NUMA-migration
// selection range to the span a mapping anchor walks for a shared
// page's reverse mappings.
type VMARange struct {
	addr   uint64
	length uint64 // in pages
}

func NewVMARange(startAddr, stopAddr uint64) VMARange {
	if stopAddr < startAddr {
		startAddr, stopAddr = stopAddr, startAddr
	}
	return VMARange{addr: startAddr, length: (stopAddr - startAddr) / uint64(pageSize)}
}

func (r VMARange) Addr() uint64    { return r.addr }
func (r VMARange) EndAddr() uint64 { return r.addr + r.length*uint64(pageSize) }
func (r VMARange) Length() uint64  { return r.length }

func (r VMARange) Contains(addr uint64) bool {
	return addr >= r.addr && addr < r.EndAddr()
}

// MappingAnchor pins one virtual-address-space's mapping of a shared
// page (spec.md §3 "Mapping anchor", §4.6). Anchor lifetime equals the
// membership of its owning descriptor in the stable tree plus the
// anchor's own pin: NewMappingAnchor starts the pin count at one, and
// release() is called once, either when the owning descriptor is freed
// or when the mapping of this anchor's space dies on its own.
type MappingAnchor struct {
	Space SpaceID
	Range VMARange

	mu       sync.Mutex
	refcount int
	released bool
}

func NewMappingAnchor(space SpaceID, r VMARange) *MappingAnchor {
	return &MappingAnchor{Space: space, Range: r, refcount: 1}
}

func (a *MappingAnchor) acquire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refcount++
}

func (a *MappingAnchor) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refcount--
	if a.refcount <= 0 {
		a.released = true
	}
}

func (a *MappingAnchor) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

// AddressSpace is the per-address-space record of spec.md §3: an
// address-space identity, kept in Registry's map of active spaces.
// The scan-cursor discipline spec.md §4.1/invariant 5
// requires is enforced by Registry, which is the only thing that ever
// walks this list.
type AddressSpace struct {
	ID SpaceID
}

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

import (
	"fmt"
	"sort"
)

// PageAdapter is the capability contract the CORE needs from the host
// page-fault/page-table subsystem (spec.md §1 "out of scope"). The
// engine never manipulates page tables, TLBs or VMAs directly; every
// such operation is delegated here so the CORE stays host-agnostic
// and unit-testable.
type PageAdapter interface {
	// Pin acquires a reference that keeps page alive and readable
	// for the duration of the call; ok is false if the page
	// vanished, was already shared, or its VMA is disallowed
	// (non-anonymous, VM_PFNMAP, etc.) -- a permanent DROP in
	// spec.md §7 terms.
	Pin(page PageID) (ok bool, permanent bool)
	// Unpin releases a Pin.
	Unpin(page PageID)
	// Busy reports whether page is currently locked by someone
	// else or has in-flight direct I/O -- a transient TRY
	// condition.
	Busy(page PageID) bool
	// ReadContent copies exactly one page of content into dst,
	// which must be len() == PageSize().
	ReadContent(page PageID, dst []byte) error
	// IsZero reports whether page is, at this instant, entirely
	// zero bytes. Used for the zero fast path (spec.md §4.3 step 4)
	// and must be checked even after the checksum already matches
	// the canonical zero checksum, since checksums are sampled.
	IsZero(page PageID) bool
	// WriteProtect marks page copy-on-write and read-only in every
	// mapping reachable from anchor.
	WriteProtect(page PageID, anchor SpaceID) error
	// ReplaceWithShared rewrites every PTE in anchor that maps
	// oldPage to point at sharedPage instead, flushing TLBs as
	// needed, and drops oldPage's last reference once unmapped.
	ReplaceWithShared(anchor SpaceID, oldPage, sharedPage PageID) error
	// BreakCOW forces a private copy of sharedPage back into
	// anchor's mapping, undoing a previous ReplaceWithShared. Used
	// by administrative unmerge.
	BreakCOW(anchor SpaceID, sharedPage PageID) error
	// ZeroPage returns the process-wide canonical zero page, minting
	// it on first use. Its descriptor is implicit (spec.md §3's
	// "zero-page sharing" note) -- the CORE never heads a tree entry
	// for it, it only ever replaces other pages with it.
	ZeroPage() (PageID, error)
}

// AdapterCreator mirrors the teacher's TrackerCreator/PolicyCreator
// registration idiom (memtier/tracker.go), applied to page adapters so
// a caller can select one by name the way memtierd selects a tracker.
type AdapterCreator func() (PageAdapter, error)

var adapters = make(map[string]AdapterCreator)

// RegisterAdapter makes an adapter implementation available to
// NewAdapter under name.
func RegisterAdapter(name string, creator AdapterCreator) {
	adapters[name] = creator
}

// AdapterNames lists the registered adapter names, sorted.
func AdapterNames() []string {
	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewAdapter instantiates the adapter registered under name.
func NewAdapter(name string) (PageAdapter, error) {
	if creator, ok := adapters[name]; ok {
		return creator()
	}
	return nil, fmt.Errorf("invalid page adapter name %q", name)
}

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

import "testing"

func TestRegistryReferenceFansOutToEveryAnchor(t *testing.T) {
	adapter := NewFakePageAdapter()
	registry := NewRegistry(adapter)
	d := NewDescriptor(1, 1, 0)

	registry.Append(d, 1, NewVMARange(0, uint64(pageSize)))
	registry.Append(d, 2, NewVMARange(0x1000, 0x1000+uint64(pageSize)))

	visited := map[SpaceID]bool{}
	count := registry.Reference(d, func(page PageID, space SpaceID, addr uint64) bool {
		visited[space] = true
		return true
	})
	if count != 2 {
		t.Fatalf("Reference visited %d anchors, want 2", count)
	}
	if !visited[1] || !visited[2] {
		t.Fatalf("visited = %v, want both spaces 1 and 2", visited)
	}
}

func TestRegistryLeaveSpaceRefusesWhileCursorPinned(t *testing.T) {
	adapter := NewFakePageAdapter()
	registry := NewRegistry(adapter)
	registry.EnterSpace(5)

	registry.withCursor(5, func() {
		if registry.LeaveSpace(5) {
			t.Fatalf("LeaveSpace succeeded while the scan cursor was pinned there")
		}
	})

	if !registry.LeaveSpace(5) {
		t.Fatalf("LeaveSpace failed once the cursor moved on")
	}
}

func TestRegistryDropReleasesAllAnchors(t *testing.T) {
	adapter := NewFakePageAdapter()
	registry := NewRegistry(adapter)
	d := NewDescriptor(1, 1, 0)
	a := registry.Append(d, 1, NewVMARange(0, uint64(pageSize)))

	registry.Drop(d)

	if !a.Released() {
		t.Fatalf("anchor not released after Drop")
	}
	if len(d.Anchors()) != 0 {
		t.Fatalf("descriptor still carries anchors after Drop")
	}
}

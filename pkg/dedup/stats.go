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
	"sync/atomic"
)

// Stats is the flat counter set of spec.md §6's control surface,
// grounded on the teacher's sum-of-fields Stats struct (memtier/stats.go)
// but kept as plain atomics: the scanner goroutine and the engine's
// entry points (OnBirth, OnDeath, Unmerge) update them, and any number
// of readers may call Snapshot concurrently, so there is no need for
// the teacher's pidMoves/pidScans map-of-maps shape here.
type Stats struct {
	pagesShared      int64
	pagesSharing     int64
	pagesUnshared    int64
	pagesZeroSharing int64
	stableNodes      int64
	rmapItems        int64
	fullScans        int64
}

// StatsSnapshot is the JSON-friendly copy Engine.Stats hands out.
type StatsSnapshot struct {
	PagesShared      int64 `json:"pages_shared"`
	PagesSharing     int64 `json:"pages_sharing"`
	PagesUnshared    int64 `json:"pages_unshared"`
	PagesZeroSharing int64 `json:"pages_zero_sharing"`
	StableNodes      int64 `json:"stable_nodes"`
	RmapItems        int64 `json:"rmap_items"`
	FullScans        int64 `json:"full_scans"`
}

func (s *Stats) onZeroMerge() {
	atomic.AddInt64(&s.pagesZeroSharing, 1)
}

func (s *Stats) onStableJoin() {
	atomic.AddInt64(&s.pagesSharing, 1)
}

func (s *Stats) onPromote() {
	atomic.AddInt64(&s.pagesShared, 1)
	atomic.AddInt64(&s.pagesSharing, 1)
	atomic.AddInt64(&s.stableNodes, 1)
}

func (s *Stats) onUnshare() {
	atomic.AddInt64(&s.pagesSharing, -1)
}

func (s *Stats) onStableNodeFreed() {
	atomic.AddInt64(&s.stableNodes, -1)
	atomic.AddInt64(&s.pagesShared, -1)
}

func (s *Stats) setPagesUnshared(n int64) {
	atomic.StoreInt64(&s.pagesUnshared, n)
}

// onDescriptorBorn and onDescriptorFreed track rmap_items, spec.md §6's
// "live descriptor count" -- every descriptor from the moment OnBirth
// creates it (engine.go) until freeDeleted actually drops it out of
// the trees and registry (scanner.go), independent of which queue or
// tree currently holds it.
func (s *Stats) onDescriptorBorn() {
	atomic.AddInt64(&s.rmapItems, 1)
}

func (s *Stats) onDescriptorFreed() {
	atomic.AddInt64(&s.rmapItems, -1)
}

func (s *Stats) onFullScan() {
	atomic.AddInt64(&s.fullScans, 1)
}

// Snapshot returns a consistent-enough-for-reporting copy of every
// counter. Individual fields may be a batch or two stale relative to
// each other, matching the teacher's own "best effort" stats idiom.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		PagesShared:      atomic.LoadInt64(&s.pagesShared),
		PagesSharing:     atomic.LoadInt64(&s.pagesSharing),
		PagesUnshared:    atomic.LoadInt64(&s.pagesUnshared),
		PagesZeroSharing: atomic.LoadInt64(&s.pagesZeroSharing),
		StableNodes:      atomic.LoadInt64(&s.stableNodes),
		RmapItems:        atomic.LoadInt64(&s.rmapItems),
		FullScans:        atomic.LoadInt64(&s.fullScans),
	}
}

func (s *Stats) String() string {
	ss := s.Snapshot()
	return fmt.Sprintf(
		"pages_shared=%d pages_sharing=%d pages_unshared=%d pages_zero_sharing=%d stable_nodes=%d rmap_items=%d full_scans=%d",
		ss.PagesShared, ss.PagesSharing, ss.PagesUnshared, ss.PagesZeroSharing, ss.StableNodes, ss.RmapItems, ss.FullScans)
}

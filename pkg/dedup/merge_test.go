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

func newTestMerger(mode KeyMode) (*Merger, PageAdapter, *StableTree, *UnstableTree, *[]*Descriptor) {
	adapter := NewFakePageAdapter()
	hasher := NewHasher(1)
	stable := NewStableTree(mode)
	unstable := NewUnstableTree(mode)
	registry := NewRegistry(adapter)
	stats := &Stats{}
	zero := &ZeroPage{}

	var retired []*Descriptor
	m := newMerger(adapter, hasher, stable, unstable, registry, zero, stats, func(d *Descriptor) {
		retired = append(retired, d)
	})
	return m, adapter, stable, unstable, &retired
}

func contentOf(fill byte) []byte {
	buf := make([]byte, pageSize)
	for i := range buf {
		buf[i] = fill
	}
	return buf
}

func TestCmpAndMergeInsertsFirstCandidateIntoUnstable(t *testing.T) {
	m, adapter, stable, unstable, _ := newTestMerger(KeyModeContent)
	fa := adapter.(*FakePageAdapter)
	page := fa.NewPage(contentOf(0xaa))
	d := NewDescriptor(page, 1, 0)

	outcome := m.CmpAndMerge(d)
	if outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want SUCCESS", outcome)
	}
	if unstable.Len() != 1 {
		t.Fatalf("unstable.Len() = %d, want 1", unstable.Len())
	}
	if stable.Len() != 0 {
		t.Fatalf("stable.Len() = %d, want 0", stable.Len())
	}
	if !d.HasFlag(FlagUnstable) {
		t.Fatalf("flags = %s, want UNSTABLE set", d.Flags())
	}
}

func TestCmpAndMergePromotesSecondMatchingCandidateToStable(t *testing.T) {
	m, adapter, stable, unstable, retired := newTestMerger(KeyModeContent)
	fa := adapter.(*FakePageAdapter)

	p1 := fa.NewPage(contentOf(0x42))
	d1 := NewDescriptor(p1, 1, 0)
	if outcome := m.CmpAndMerge(d1); outcome != OutcomeSuccess {
		t.Fatalf("first candidate outcome = %s, want SUCCESS", outcome)
	}

	p2 := fa.NewPage(contentOf(0x42))
	d2 := NewDescriptor(p2, 2, 0x2000)
	outcome := m.CmpAndMerge(d2)
	if outcome != OutcomeSuccess {
		t.Fatalf("second candidate outcome = %s, want SUCCESS", outcome)
	}

	if unstable.Len() != 0 {
		t.Fatalf("unstable.Len() = %d, want 0 after promotion", unstable.Len())
	}
	if stable.Len() != 1 {
		t.Fatalf("stable.Len() = %d, want 1 after promotion", stable.Len())
	}
	if !d2.HasFlag(FlagStable) {
		t.Fatalf("promoted descriptor missing STABLE flag: %s", d2.Flags())
	}
	if len(d2.Anchors()) != 2 {
		t.Fatalf("promoted descriptor has %d anchors, want 2", len(d2.Anchors()))
	}
	if len(*retired) != 1 || (*retired)[0] != d1 {
		t.Fatalf("retired = %v, want just the promotion loser d1", *retired)
	}
}

func TestCmpAndMergeJoinsExistingStableEntry(t *testing.T) {
	m, adapter, stable, _, retired := newTestMerger(KeyModeContent)
	fa := adapter.(*FakePageAdapter)

	p1 := fa.NewPage(contentOf(0x7))
	d1 := NewDescriptor(p1, 1, 0)
	p2 := fa.NewPage(contentOf(0x7))
	d2 := NewDescriptor(p2, 2, 0)
	m.CmpAndMerge(d1)
	m.CmpAndMerge(d2) // promotes to stable

	p3 := fa.NewPage(contentOf(0x7))
	d3 := NewDescriptor(p3, 3, 0)
	outcome := m.CmpAndMerge(d3)
	if outcome != OutcomeSuccess {
		t.Fatalf("join outcome = %s, want SUCCESS", outcome)
	}
	if stable.Len() != 1 {
		t.Fatalf("stable.Len() = %d, want 1", stable.Len())
	}
	if len(d2.Anchors()) != 3 {
		t.Fatalf("stable head has %d anchors, want 3 after join", len(d2.Anchors()))
	}
	foundD3 := false
	for _, r := range *retired {
		if r == d3 {
			foundD3 = true
		}
	}
	if !foundD3 {
		t.Fatalf("joining descriptor d3 was not retired")
	}
}

func TestCmpAndMergeZeroFastPath(t *testing.T) {
	m, adapter, _, unstable, retired := newTestMerger(KeyModeContent)
	fa := adapter.(*FakePageAdapter)

	page := fa.NewPage(make([]byte, pageSize))
	d := NewDescriptor(page, 1, 0)
	outcome := m.CmpAndMerge(d)
	if outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want SUCCESS", outcome)
	}
	if unstable.Len() != 0 {
		t.Fatalf("unstable.Len() = %d, want 0 (zero page never enters a tree)", unstable.Len())
	}
	if len(*retired) != 1 || (*retired)[0] != d {
		t.Fatalf("retired = %v, want just d", *retired)
	}
	if _, err := fa.ZeroPage(); err != nil {
		t.Fatalf("ZeroPage() error: %s", err)
	}
}

func TestCmpAndMergeAlreadyStableIsDropped(t *testing.T) {
	m, _, _, _, _ := newTestMerger(KeyModeContent)
	d := &Descriptor{Page: 1, Space: 1}
	d.SetFlags(FlagStable)

	if outcome := m.CmpAndMerge(d); outcome != OutcomeDrop {
		t.Fatalf("outcome = %s, want DROP", outcome)
	}
}

func TestCmpAndMergeHashModeVerifiesContentBeforeJoining(t *testing.T) {
	m, adapter, stable, unstable, _ := newTestMerger(KeyModeHash)
	fa := adapter.(*FakePageAdapter)

	p1 := fa.NewPage(contentOf(0x11))
	d1 := NewDescriptor(p1, 1, 0)
	m.CmpAndMerge(d1)

	// Same content: should promote to stable even in hash mode, since
	// joinStable/promote always re-verify real content equality.
	p2 := fa.NewPage(contentOf(0x11))
	d2 := NewDescriptor(p2, 2, 0)
	if outcome := m.CmpAndMerge(d2); outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want SUCCESS", outcome)
	}
	if stable.Len() != 1 {
		t.Fatalf("stable.Len() = %d, want 1", stable.Len())
	}
	if unstable.Len() != 0 {
		t.Fatalf("unstable.Len() = %d, want 0", unstable.Len())
	}
}

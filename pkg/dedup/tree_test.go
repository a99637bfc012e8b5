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

func checksumCompare(target Checksum) CompareFunc {
	return func(node *Descriptor) int {
		switch {
		case target < node.Checksum:
			return -1
		case target > node.Checksum:
			return 1
		default:
			return 0
		}
	}
}

func descAt(checksum Checksum) *Descriptor {
	return &Descriptor{Page: PageID(checksum + 1), Checksum: checksum}
}

func TestRBTreeInsertFind(t *testing.T) {
	tree := newRBTree()
	values := []Checksum{50, 20, 70, 10, 30, 60, 80, 5, 90, 1, 99}
	for _, v := range values {
		tree.Insert(descAt(v), checksumCompare(v))
	}
	if tree.Size() != len(values) {
		t.Fatalf("size = %d, want %d", tree.Size(), len(values))
	}
	for _, v := range values {
		node, _ := tree.Find(checksumCompare(v))
		if node == nil || node.desc.Checksum != v {
			t.Fatalf("Find(%d) missing or wrong", v)
		}
	}
	if node, _ := tree.Find(checksumCompare(12345)); node != nil {
		t.Fatalf("Find on absent key returned a node")
	}
}

func TestRBTreeRemove(t *testing.T) {
	tree := newRBTree()
	descs := map[Checksum]*Descriptor{}
	for _, v := range []Checksum{1, 2, 3, 4, 5, 6, 7} {
		d := descAt(v)
		descs[v] = d
		tree.Insert(d, checksumCompare(v))
	}
	tree.Remove(descs[4])
	if node, _ := tree.Find(checksumCompare(4)); node != nil {
		t.Fatalf("removed descriptor still found")
	}
	if tree.Size() != 6 {
		t.Fatalf("size = %d, want 6", tree.Size())
	}
	for _, v := range []Checksum{1, 2, 3, 5, 6, 7} {
		if node, _ := tree.Find(checksumCompare(v)); node == nil {
			t.Fatalf("Find(%d) missing after unrelated removal", v)
		}
	}
}

// TestRBTreePrunesStaleEntries exercises spec.md property S6: a node
// whose descriptor has been marked DELETED out-of-band (without going
// through Remove) must be pruned and skipped the next time the tree is
// walked, rather than ever being returned as a match.
func TestRBTreePrunesStaleEntries(t *testing.T) {
	tree := newRBTree()
	stale := descAt(10)
	tree.Insert(stale, checksumCompare(10))
	tree.Insert(descAt(20), checksumCompare(20))
	tree.Insert(descAt(30), checksumCompare(30))

	stale.SetFlags(FlagDeleted)

	if node, _ := tree.Find(checksumCompare(10)); node != nil {
		t.Fatalf("stale node returned as a match")
	}
	if tree.Size() != 2 {
		t.Fatalf("size = %d, want 2 after stale prune", tree.Size())
	}
	if node, _ := tree.Find(checksumCompare(20)); node == nil {
		t.Fatalf("live node lost after unrelated stale prune")
	}
}

func TestRBTreeAllSkipsStale(t *testing.T) {
	tree := newRBTree()
	live := descAt(1)
	dead := descAt(2)
	tree.Insert(live, checksumCompare(1))
	tree.Insert(dead, checksumCompare(2))
	dead.SetFlags(FlagDeleted)

	all := tree.All()
	if len(all) != 1 || all[0] != live {
		t.Fatalf("All() = %v, want just the live descriptor", all)
	}
}

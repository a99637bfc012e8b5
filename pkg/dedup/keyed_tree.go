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

// keyedTree is the shared plumbing behind StableTree and UnstableTree:
// an rbTree plus the KeyMode that decides how candidates are ordered
// against it. Both real trees embed one; they differ only in the
// invariants their callers (merge.go) are expected to uphold.
type keyedTree struct {
	tree *rbTree
	mode KeyMode
}

func newKeyedTree(mode KeyMode) keyedTree {
	return keyedTree{tree: newRBTree(), mode: mode}
}

func (k *keyedTree) compareFor(adapter PageAdapter, content []byte, checksum Checksum) CompareFunc {
	if k.mode == KeyModeHash {
		return hashCompare(checksum)
	}
	return contentCompare(adapter, content)
}

// Find looks up the descriptor whose key matches content/checksum
// (whichever the tree's mode uses), tolerating and pruning stale nodes
// along the way (spec.md §4.4, testable property S6).
func (k *keyedTree) Find(adapter PageAdapter, content []byte, checksum Checksum) *Descriptor {
	node, _ := k.tree.Find(k.compareFor(adapter, content, checksum))
	if node == nil {
		return nil
	}
	return node.desc
}

// Insert places desc into the tree keyed by its own current content
// and checksum. Caller must already have verified desc has no
// matching node (i.e. called Find first) -- spec.md §4.3 step 6.
func (k *keyedTree) Insert(desc *Descriptor, adapter PageAdapter, content []byte) {
	k.tree.Insert(desc, k.compareFor(adapter, content, desc.Checksum))
}

// Remove detaches desc from this tree if present; a no-op otherwise.
// Safe to call unconditionally, matching spec.md §4.3 step 2's "Remove
// r from any tree it currently occupies".
func (k *keyedTree) Remove(desc *Descriptor) {
	k.tree.Remove(desc)
}

func (k *keyedTree) Len() int {
	return k.tree.Size()
}

// All returns every live descriptor currently in the tree.
func (k *keyedTree) All() []*Descriptor {
	return k.tree.All()
}

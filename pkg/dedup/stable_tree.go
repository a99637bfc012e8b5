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

// StableTree holds already-merged pages: every member is write-
// protected and shared, and its content is immutable until the
// descriptor is removed (spec.md §3, §4.4 "Stable-tree invariant").
// Violating that invariant -- a COW break racily succeeding -- must
// remove the descriptor before its content is compared against
// anything else; merge.go's re-verification under WriteProtect is what
// enforces this in practice.
type StableTree struct {
	keyedTree
}

func NewStableTree(mode KeyMode) *StableTree {
	return &StableTree{keyedTree: newKeyedTree(mode)}
}

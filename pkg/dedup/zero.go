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

// ZeroPage specializes the merge protocol's zero fast path (spec.md
// §4.3 step 4): an all-zero page is replaced with a single, process-
// wide canonical zero page instead of ever entering the stable tree.
// Its own descriptor is implicit -- nothing here heads a tree node,
// so ZeroPage carries no red-black plumbing at all.
type ZeroPage struct {
	merged int64 // not updated by Merge; pages_zero_sharing is counted by Stats.onZeroMerge
}

// Merge write-protects desc's page and replaces it with the adapter's
// canonical zero page. Unlike a stable join, no registry anchor is
// created: the zero page's "reverse mapping" is every VMA that still
// points at it, which the registry has no reason to track individually
// (spec.md §3).
func (z *ZeroPage) Merge(adapter PageAdapter, desc *Descriptor) error {
	zero, err := adapter.ZeroPage()
	if err != nil {
		return err
	}
	if desc.Page == zero {
		return nil
	}
	if err := adapter.WriteProtect(desc.Page, desc.Space); err != nil {
		return err
	}
	if err := adapter.ReplaceWithShared(desc.Space, desc.Page, zero); err != nil {
		return err
	}
	return nil
}

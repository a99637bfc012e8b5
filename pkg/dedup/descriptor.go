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
	"sync"
	"sync/atomic"
)

// Descriptor is the engine's per-tracked-page record (spec.md §3). The
// source kernel packs state flags into the low bits of a vaddr field;
// here they get their own field since Go has no reason to share a
// word with the address the way a C rmap_item does.
type Descriptor struct {
	Page  PageID  // the tracked physical page
	Space SpaceID // owning address-space anchor at registration time
	Addr  uint64  // per-address value used when walking reverse mappings

	Checksum   Checksum
	shareCount int32 // atomic

	flags uint32 // atomic, see StateFlags

	node *treeNode // at most one of {stable tree, unstable tree}

	anchorMu sync.Mutex
	anchors  []*MappingAnchor // populated only while heading a stable entry
}

// NewDescriptor allocates a descriptor for a freshly observed page,
// stamped NEW|INIT_CHECKSUM per spec.md §4.7.
func NewDescriptor(page PageID, space SpaceID, addr uint64) *Descriptor {
	d := &Descriptor{Page: page, Space: space, Addr: addr}
	d.SetFlags(FlagNew | FlagInitChecksum)
	return d
}

func (d *Descriptor) Flags() StateFlags {
	return StateFlags(atomic.LoadUint32(&d.flags))
}

func (d *Descriptor) HasFlag(f StateFlags) bool {
	return d.Flags()&f != 0
}

func (d *Descriptor) SetFlags(f StateFlags) {
	for {
		old := atomic.LoadUint32(&d.flags)
		new := old | uint32(f)
		if atomic.CompareAndSwapUint32(&d.flags, old, new) {
			return
		}
	}
}

func (d *Descriptor) ClearFlags(f StateFlags) {
	for {
		old := atomic.LoadUint32(&d.flags)
		new := old &^ uint32(f)
		if atomic.CompareAndSwapUint32(&d.flags, old, new) {
			return
		}
	}
}

// ReplaceFlags atomically clears clear and sets set in one step, used
// by the scanner when it moves a descriptor between states (e.g.
// NEW -> IN_ENGINE on batch drain).
func (d *Descriptor) ReplaceFlags(clear, set StateFlags) {
	for {
		old := atomic.LoadUint32(&d.flags)
		new := (old &^ uint32(clear)) | uint32(set)
		if atomic.CompareAndSwapUint32(&d.flags, old, new) {
			return
		}
	}
}

func (d *Descriptor) ShareCount() int32 {
	return atomic.LoadInt32(&d.shareCount)
}

func (d *Descriptor) addShare(n int32) int32 {
	return atomic.AddInt32(&d.shareCount, n)
}

// Anchors returns a snapshot of the descriptor's mapping anchors.
func (d *Descriptor) Anchors() []*MappingAnchor {
	d.anchorMu.Lock()
	defer d.anchorMu.Unlock()
	out := make([]*MappingAnchor, len(d.anchors))
	copy(out, d.anchors)
	return out
}

// appendAnchor pins space as an additional mapper of d's page,
// performed by the merge protocol at promotion or join time (spec.md
// §4.6 "append anchor").
func (d *Descriptor) appendAnchor(a *MappingAnchor) {
	d.anchorMu.Lock()
	d.anchors = append(d.anchors, a)
	d.anchorMu.Unlock()
	d.addShare(1)
}

// dropAnchors releases every anchor pin, performed when the descriptor
// is freed (spec.md §4.6 "drop").
func (d *Descriptor) dropAnchors() {
	d.anchorMu.Lock()
	anchors := d.anchors
	d.anchors = nil
	d.anchorMu.Unlock()
	for _, a := range anchors {
		a.release()
	}
}

// dropAnchorForSpace releases the single anchor pinning space, used
// when one of several mappings of a shared page dies while the others
// remain live. Returns the number of anchors left and whether one was
// found at all.
func (d *Descriptor) dropAnchorForSpace(space SpaceID) (remaining int, found bool) {
	d.anchorMu.Lock()
	defer d.anchorMu.Unlock()
	for i, a := range d.anchors {
		if a.Space == space {
			a.release()
			d.anchors = append(d.anchors[:i], d.anchors[i+1:]...)
			d.addShare(-1)
			return len(d.anchors), true
		}
	}
	return len(d.anchors), false
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("Descriptor{page=%s space=%s flags=%s checksum=%08x shares=%d}",
		d.Page, d.Space, d.Flags(), uint32(d.Checksum), d.ShareCount())
}

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

import "fmt"

// PageID is an opaque handle for a physical page, minted and owned by
// the PageAdapter. The engine never interprets its value.
type PageID uintptr

func (p PageID) String() string {
	return fmt.Sprintf("page:%#x", uintptr(p))
}

// SpaceID identifies a virtual-address-space (in a real kernel: an
// mm_struct). Mapping anchors and per-address-space records are keyed
// on it.
type SpaceID uint64

func (s SpaceID) String() string {
	return fmt.Sprintf("space:%d", uint64(s))
}

// Checksum is the content digest produced by hash.go.
type Checksum uint32

// Outcome is cmp_and_merge's four-valued result (spec.md §4.1 step 3.4,
// §4.3, §7). Modeled on the teacher's small enum-over-int idiom (see
// mover.go's taskStatus/taskHandlerCmd).
type Outcome int

const (
	// OutcomeSuccess means the descriptor merged (or was kept as
	// the unstable insertion point) and needs no further action
	// this batch.
	OutcomeSuccess Outcome = iota
	// OutcomeKeep means nothing changed; release the pin and move
	// on.
	OutcomeKeep
	// OutcomeDrop is a permanent rejection: unlink and free the
	// descriptor.
	OutcomeDrop
	// OutcomeTry is a transient condition: requeue on the rescan
	// FIFO with INIT_CHECKSUM set.
	OutcomeTry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeKeep:
		return "KEEP"
	case OutcomeDrop:
		return "DROP"
	case OutcomeTry:
		return "TRY"
	default:
		return "UNKNOWN"
	}
}

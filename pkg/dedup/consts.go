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

import "os"

// StateFlags is the descriptor state bitset (spec.md §3), kept in the
// descriptor's own flags field rather than in its address field.
type StateFlags uint32

const (
	FlagNew StateFlags = 1 << iota
	FlagInEngine
	FlagUnstable
	FlagStable
	FlagChecksumQueued
	FlagInitChecksum
	FlagRescanQueued
	FlagDeleted

	flagMask = FlagNew | FlagInEngine | FlagUnstable | FlagStable |
		FlagChecksumQueued | FlagInitChecksum | FlagRescanQueued | FlagDeleted
)

func (f StateFlags) String() string {
	names := []struct {
		bit  StateFlags
		name string
	}{
		{FlagNew, "NEW"},
		{FlagInEngine, "IN_ENGINE"},
		{FlagUnstable, "UNSTABLE"},
		{FlagStable, "STABLE"},
		{FlagChecksumQueued, "CHECKSUM_QUEUED"},
		{FlagInitChecksum, "INIT_CHECKSUM"},
		{FlagRescanQueued, "RESCAN_QUEUED"},
		{FlagDeleted, "DELETED"},
	}
	s := ""
	for _, n := range names {
		if f&n.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// KeyMode selects how the stable/unstable trees order their nodes.
type KeyMode int

const (
	// KeyModeContent keys tree nodes by full page content, ties
	// broken byte-wise. An ordered match is an exact match.
	KeyModeContent KeyMode = iota
	// KeyModeHash keys tree nodes by checksum ("RHASH" in spec.md
	// terminology). A checksum match still requires a content
	// comparison before anything is treated as equal.
	KeyModeHash
)

func (m KeyMode) String() string {
	if m == KeyModeHash {
		return "hash"
	}
	return "content"
}

// pageSize is sampled once at process start, mirroring the teacher's
// memtier/consts.go use of os.Getpagesize() rather than a hardcoded
// 4096.
var pageSize = os.Getpagesize()

// PageU32s is the number of uint32-sized words in a page.
func PageU32s() int {
	return pageSize / 4
}

// defaultStrengthDivisor implements spec.md §4.2's "strength =
// page_u32s / 16 by default".
const defaultStrengthDivisor = 16

// The canonical zero checksum is computed by NewHasher against that
// hasher's own permutation table (Hasher.ZeroChecksum in hash.go).

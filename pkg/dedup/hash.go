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
	"encoding/binary"
	"math/rand"
)

// Hasher computes spec.md §4.2's content checksum: a fixed-strength
// sample of a process-wide random permutation of a page's u32-aligned
// offsets, folded through a small mix step. A permutation rather than
// a contiguous prefix defeats pages crafted to look identical only in
// their first bytes.
type Hasher struct {
	perm     []int
	strength int
	zeroSum  Checksum
}

// NewHasher builds a permutation table for a page_u32s-sized page and
// precomputes the canonical all-zero checksum against it. seed makes
// the permutation reproducible for tests; production callers should
// pass a value derived from a real entropy source once at startup,
// exactly as the spec calls for "shuffled once at startup".
func NewHasher(seed int64) *Hasher {
	n := PageU32s()
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	strength := n / defaultStrengthDivisor
	if strength < 1 {
		strength = 1
	}
	h := &Hasher{perm: perm, strength: strength}
	h.zeroSum = h.sum(make([]byte, pageSize))
	return h
}

// Strength returns the number of permutation entries sampled per
// checksum.
func (h *Hasher) Strength() int {
	return h.strength
}

// ZeroChecksum returns the canonical checksum of an all-zero page
// under this hasher's permutation table.
func (h *Hasher) ZeroChecksum() Checksum {
	return h.zeroSum
}

// Checksum computes spec.md §4.2's digest over page content. content
// must be exactly one page long.
func (h *Hasher) Checksum(content []byte) Checksum {
	return h.sum(content)
}

func (h *Hasher) sum(content []byte) Checksum {
	hash := uint32(0xdeadbeef)
	for i := 0; i < h.strength; i++ {
		pos := h.perm[i] * 4
		key := binary.LittleEndian.Uint32(content[pos : pos+4])
		hash += key
		hash += hash << 8
		hash ^= hash >> 12
	}
	return Checksum(hash)
}

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

import "bytes"

// Merger implements cmp_and_merge, spec.md §4.3. It owns no state of
// its own beyond the trees/registry/adapter it is handed -- the
// scanner is the only caller, and it is the scanner's single-
// threadedness that makes the whole protocol safe without its own
// locking (spec.md §5).
type Merger struct {
	adapter  PageAdapter
	hasher   *Hasher
	stable   *StableTree
	unstable *UnstableTree
	registry *Registry
	zero     *ZeroPage
	stats    *Stats

	// retire marks a descriptor DELETED and hands it to the
	// deletion queue, used for descriptors a merge supersedes
	// (the zero-merged descriptor, the descriptor that joined a
	// stable entry, and the promotion loser) so the *same* batch's
	// "free deletion queue" step (scanner.go step 4) reclaims them.
	retire func(*Descriptor)
}

func newMerger(adapter PageAdapter, hasher *Hasher, stable *StableTree, unstable *UnstableTree, registry *Registry, zero *ZeroPage, stats *Stats, retire func(*Descriptor)) *Merger {
	return &Merger{
		adapter:  adapter,
		hasher:   hasher,
		stable:   stable,
		unstable: unstable,
		registry: registry,
		zero:     zero,
		stats:    stats,
		retire:   retire,
	}
}

// CmpAndMerge implements spec.md §4.3. Callers must have already
// pinned desc.Page; CmpAndMerge never pins or unpins it itself.
func (m *Merger) CmpAndMerge(desc *Descriptor) Outcome {
	// step 1: already stable.
	if desc.HasFlag(FlagStable) {
		return OutcomeDrop
	}

	// step 2: remove r from any tree it currently occupies.
	m.stable.Remove(desc)
	m.unstable.Remove(desc)
	desc.ClearFlags(FlagUnstable)

	content := make([]byte, pageSize)
	if err := m.adapter.ReadContent(desc.Page, content); err != nil {
		return OutcomeDrop
	}

	// step 3: recompute checksum if requested.
	if desc.HasFlag(FlagInitChecksum) {
		desc.Checksum = m.hasher.Checksum(content)
		desc.ClearFlags(FlagInitChecksum)
	}

	// step 4: zero fast path.
	if desc.Checksum == m.hasher.ZeroChecksum() && m.adapter.IsZero(desc.Page) {
		if err := m.zero.Merge(m.adapter, desc); err == nil {
			m.stats.onZeroMerge()
			m.retire(desc)
			return OutcomeSuccess
		}
		// zero replace failed transiently; fall through and let
		// the normal path (or a future batch) handle it.
	}

	// step 5: stable lookup.
	if match := m.stable.Find(m.adapter, content, desc.Checksum); match != nil {
		joined, err := m.joinStable(match, desc, content)
		if err != nil {
			return OutcomeTry
		}
		if joined {
			m.stats.onStableJoin()
			m.retire(desc)
			return OutcomeSuccess
		}
		// hash collision without real content equality: treat as
		// if there had been no stable match.
	}

	// step 6: unstable lookup/insert.
	if match := m.unstable.Find(m.adapter, content, desc.Checksum); match != nil {
		matchContent := make([]byte, pageSize)
		if err := m.adapter.ReadContent(match.Page, matchContent); err == nil && bytes.Equal(content, matchContent) {
			promoted, err := m.promote(match, desc, content)
			if err != nil {
				return OutcomeTry
			}
			if promoted {
				m.stats.onPromote()
				m.retire(match)
				return OutcomeSuccess
			}
		}
		// hash collision without real content equality: fall
		// through to a fresh unstable insertion for desc.
	}

	desc.SetFlags(FlagUnstable)
	desc.ClearFlags(FlagNew)
	m.unstable.Insert(desc, m.adapter, content)
	return OutcomeSuccess
}

// joinStable implements spec.md §4.3 step 5: write-protect p, verify
// content equality against the stable match even though the match was
// already found by key (the key might be a checksum), replace p's
// mappings with the stable page, and append a new anchor.
func (m *Merger) joinStable(match, desc *Descriptor, content []byte) (bool, error) {
	matchContent := make([]byte, pageSize)
	if err := m.adapter.ReadContent(match.Page, matchContent); err != nil {
		return false, err
	}
	if !bytes.Equal(content, matchContent) {
		return false, nil
	}
	if err := m.adapter.WriteProtect(desc.Page, desc.Space); err != nil {
		return false, err
	}
	if err := m.adapter.ReplaceWithShared(desc.Space, desc.Page, match.Page); err != nil {
		return false, err
	}
	m.registry.Append(match, desc.Space, NewVMARange(desc.Addr, desc.Addr+uint64(pageSize)))
	return true, nil
}

// promote implements spec.md §4.3 step 6's two-page merge: both pages
// are write-protected, content equality is re-verified under
// protection, then match's mapping migrates onto p (desc.Page) and
// desc is promoted to head a new stable entry with two anchors.
func (m *Merger) promote(match, desc *Descriptor, content []byte) (bool, error) {
	if err := m.adapter.WriteProtect(desc.Page, desc.Space); err != nil {
		return false, err
	}
	if err := m.adapter.WriteProtect(match.Page, match.Space); err != nil {
		return false, err
	}
	matchContent := make([]byte, pageSize)
	if err := m.adapter.ReadContent(match.Page, matchContent); err != nil {
		return false, err
	}
	if !bytes.Equal(content, matchContent) {
		return false, nil
	}
	if err := m.adapter.ReplaceWithShared(match.Space, match.Page, desc.Page); err != nil {
		return false, err
	}
	m.unstable.Remove(match)
	match.ClearFlags(FlagUnstable)
	m.registry.Append(desc, desc.Space, NewVMARange(desc.Addr, desc.Addr+uint64(pageSize)))
	m.registry.Append(desc, match.Space, NewVMARange(match.Addr, match.Addr+uint64(pageSize)))
	desc.ReplaceFlags(FlagUnstable|FlagNew, FlagStable)
	m.stable.Insert(desc, m.adapter, content)
	return true, nil
}

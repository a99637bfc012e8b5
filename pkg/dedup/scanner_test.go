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
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRefreshRequeuesOnDrift is spec.md §8 S3 "drift": a page that
// drifted after entering the unstable tree must be pulled back out and
// rekeyed on its new content by the next checksum refresh, rather than
// sitting on a stale checksum until a host-side write fault happens to
// touch it again.
func TestRefreshRequeuesOnDrift(t *testing.T) {
	e, adapter := newTestEngine(t)
	require := require.New(t)

	p := adapter.NewPage(contentOf(0x1))
	require.NoError(e.OnBirth(p, 1, 0))
	e.scanner.batch()
	require.Equal(1, e.unstable.Len(), "first batch should seed the unstable tree")

	d, ok := e.pageIndex[p]
	require.True(ok)
	staleChecksum := d.Checksum

	adapter.Mutate(p, contentOf(0x2))

	e.scanner.batch()

	require.Equal(0, e.unstable.Len(), "drifted descriptor must be pulled out of the unstable tree")
	require.Equal(1, e.scanner.rescanQueue.Len(), "drifted descriptor must be requeued for rescan")
	require.True(d.HasFlag(FlagInitChecksum), "drifted descriptor must be rekeyed from scratch")
	require.NotEqual(staleChecksum, d.Checksum, "checksum must reflect the mutated content")
}

// TestOnStableNodeFreedDecrementsPagesShared is spec.md §6's
// pages_shared ("distinct stable entries"): it must track the current
// count like stable_nodes does, not a running total.
func TestOnStableNodeFreedDecrementsPagesShared(t *testing.T) {
	e, adapter := newTestEngine(t)
	require := require.New(t)

	p1 := adapter.NewPage(contentOf(0x7))
	p2 := adapter.NewPage(contentOf(0x7))
	require.NoError(e.OnBirth(p1, 1, 0))
	require.NoError(e.OnBirth(p2, 2, 0))
	e.scanner.batch()
	e.scanner.batch()
	require.EqualValues(1, e.Stats().PagesShared)

	require.NoError(e.Unmerge())
	e.scanner.batch()

	require.EqualValues(0, e.Stats().PagesShared, "pages_shared must drop once the stable entry is fully retired")
	require.EqualValues(0, e.Stats().StableNodes)
}

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

func newTestEngine(t *testing.T) (*Engine, *FakePageAdapter) {
	t.Helper()
	config := DefaultEngineConfig()
	config.Run = false
	adapter := NewFakePageAdapter()
	e, err := newEngineWithAdapter(config, adapter)
	require.NoError(t, err)
	return e, adapter
}

// TestScenarioDuplicatePair is spec.md §8 S1: two births with identical
// content converge to one stable entry with two anchors after two
// batches.
func TestScenarioDuplicatePair(t *testing.T) {
	e, adapter := newTestEngine(t)
	require := require.New(t)

	p1 := adapter.NewPage(contentOf(0x5))
	require.NoError(e.OnBirth(p1, 1, 0))
	e.scanner.batch()
	require.Equal(0, e.stable.Len(), "first batch should only seed the unstable tree")
	require.Equal(1, e.unstable.Len())

	p2 := adapter.NewPage(contentOf(0x5))
	require.NoError(e.OnBirth(p2, 2, 0))
	e.scanner.batch()
	snapshot := e.Stats()
	require.Equal(1, e.stable.Len())
	require.EqualValues(1, snapshot.PagesShared)
	require.EqualValues(1, snapshot.PagesSharing)
}

// TestScenarioZeroMerge is spec.md §8 S2: three all-zero births merge
// into the canonical zero page without ever entering the stable tree.
func TestScenarioZeroMerge(t *testing.T) {
	e, adapter := newTestEngine(t)
	require := require.New(t)

	for i := 0; i < 3; i++ {
		p := adapter.NewPage(make([]byte, pageSize))
		require.NoError(e.OnBirth(p, SpaceID(i), 0))
	}

	e.scanner.batch()
	e.scanner.batch()

	snapshot := e.Stats()
	require.EqualValues(3, snapshot.PagesZeroSharing)
	require.Equal(0, e.stable.Len())
}

// TestScenarioBirthThenDeath is spec.md §8 S4: a death notification
// before any scan batch runs must free the descriptor without ever
// touching the trees.
func TestScenarioBirthThenDeath(t *testing.T) {
	e, adapter := newTestEngine(t)
	require := require.New(t)

	p1 := adapter.NewPage(contentOf(0x9))
	require.NoError(e.OnBirth(p1, 1, 0))
	require.NoError(e.OnDeath(p1, 1))

	require.Equal(0, e.scanner.newQueue.Len())
	require.Equal(1, e.scanner.deleteQueue.Len())

	e.scanner.batch()
	require.Equal(0, e.unstable.Len())
	require.Equal(0, e.stable.Len())
	require.Equal(0, e.scanner.deleteQueue.Len())
}

// TestScenarioThreeWayMerge is spec.md §8 S5: three births with
// identical content consolidate into one stable entry with two extra
// mappings beyond the first.
func TestScenarioThreeWayMerge(t *testing.T) {
	e, adapter := newTestEngine(t)
	require := require.New(t)

	pages := make([]PageID, 3)
	for i := range pages {
		pages[i] = adapter.NewPage(contentOf(0x3))
		require.NoError(e.OnBirth(pages[i], SpaceID(i), 0))
	}

	for i := 0; i < 4; i++ {
		e.scanner.batch()
	}

	snapshot := e.Stats()
	require.Equal(1, e.stable.Len())
	require.EqualValues(1, snapshot.PagesShared)
	require.EqualValues(2, snapshot.PagesSharing)
}

// TestOnDeathOfOneAnchorKeepsStableEntryAlive checks that a stable
// descriptor with several live anchors survives the death of just one
// of them, consistent with share-count integrity (spec.md §8 property 3).
func TestOnDeathOfOneAnchorKeepsStableEntryAlive(t *testing.T) {
	e, adapter := newTestEngine(t)
	require := require.New(t)

	p1 := adapter.NewPage(contentOf(0x4))
	p2 := adapter.NewPage(contentOf(0x4))
	require.NoError(e.OnBirth(p1, 1, 0))
	require.NoError(e.OnBirth(p2, 2, 0))
	e.scanner.batch()
	e.scanner.batch()
	require.Equal(1, e.stable.Len())

	// Whichever descriptor won promotion becomes the shared page; the
	// loser's own PageID stops being tracked (its mapping now points
	// at the winner's page), so both remaining anchors are reported
	// against whichever PageID survived in pageIndex.
	surviving := p1
	if _, tracked := e.pageIndex[p1]; !tracked {
		surviving = p2
	}

	require.NoError(e.OnDeath(surviving, 2))
	require.Equal(1, e.stable.Len(), "one remaining anchor must keep the stable entry alive")

	require.NoError(e.OnDeath(surviving, 1))
	e.scanner.batch()
	require.Equal(0, e.stable.Len(), "last anchor death must eventually free the stable entry")
}

func TestUnmergeBreaksEveryAnchorAndEmptiesStableTree(t *testing.T) {
	e, adapter := newTestEngine(t)
	require := require.New(t)

	p1 := adapter.NewPage(contentOf(0x6))
	p2 := adapter.NewPage(contentOf(0x6))
	require.NoError(e.OnBirth(p1, 1, 0))
	require.NoError(e.OnBirth(p2, 2, 0))
	e.scanner.batch()
	e.scanner.batch()
	require.Equal(1, e.stable.Len())

	require.NoError(e.Unmerge())
	require.Equal(0, e.stable.Len())
}

func TestSetConfigJsonRoundTrips(t *testing.T) {
	e, _ := newTestEngine(t)
	require := require.New(t)

	require.NoError(e.SetConfigJson(`{"run":true,"pages_to_scan":50,"sleep_ms":5,"refresh_period_s":30,"deferred_timer_ms":0,"key_mode":1,"adapter":"fake"}`))
	var got EngineConfig
	require.NoError(unmarshalConfig(e.GetConfigJson(), &got))
	require.Equal(50, got.PagesToScan)
	require.Equal(KeyModeHash, got.KeyMode)
}

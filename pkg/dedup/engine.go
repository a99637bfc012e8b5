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

// Package dedup implements an anonymous-page deduplication engine: a
// descriptor state machine, a stable/unstable red-black tree pair, a
// content hasher, a scan-batch worker loop and a reverse-mapping
// registry, all driven through a small set of host-callback entry
// points (OnBirth/OnDeath/OnMigrate) so the engine itself never
// touches a page table.
package dedup

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
)

// Engine is the top-level object wiring every component together: the
// trees, queues, registry, hasher and adapter the scanner needs, plus
// the page -> descriptor index that OnDeath/OnMigrate need to resolve
// a bare PageID back to its owning descriptor (spec.md §6's
// notification signatures carry no other handle).
type Engine struct {
	mu     sync.Mutex
	config EngineConfig
	log    Logger

	adapter  PageAdapter
	hasher   *Hasher
	stable   *StableTree
	unstable *UnstableTree
	registry *Registry
	stats    *Stats
	merger   *Merger
	zero     *ZeroPage
	scanner  *scanner

	pageIndex map[PageID]*Descriptor
}

// NewEngine constructs an Engine from config, instantiating the
// adapter config.Adapter names via NewAdapter.
func NewEngine(config EngineConfig) (*Engine, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	adapter, err := NewAdapter(config.Adapter)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return newEngineWithAdapter(config, adapter)
}

func newEngineWithAdapter(config EngineConfig, adapter PageAdapter) (*Engine, error) {
	hasher := NewHasher(time.Now().UnixNano())
	stable := NewStableTree(config.KeyMode)
	unstable := NewUnstableTree(config.KeyMode)
	registry := NewRegistry(adapter)
	stats := &Stats{}
	zero := &ZeroPage{}

	e := &Engine{
		config:    config,
		log:       log,
		adapter:   adapter,
		hasher:    hasher,
		stable:    stable,
		unstable:  unstable,
		registry:  registry,
		stats:     stats,
		zero:      zero,
		pageIndex: make(map[PageID]*Descriptor),
	}
	e.merger = newMerger(adapter, hasher, stable, unstable, registry, zero, stats, e.retire)
	e.scanner = newScanner(adapter, hasher, e.merger, stable, unstable, registry, stats, e.log, config)
	return e, nil
}

// SetLogger overrides the engine's logger, by default the package-wide
// one installed via SetLogger(log.go).
func (e *Engine) SetLogger(l Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = l
}

// Start launches the scanner loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scanner.Start()
	return nil
}

// Stop terminates the scanner loop. Queues and trees are left intact;
// a later Start picks up where it left off.
func (e *Engine) Stop() {
	e.scanner.Stop()
}

// Quiesce and Resume implement the locking protocol a memory-hotplug
// notifier external to this package would drive at GOING_OFFLINE and
// OFFLINE (spec.md §9's open question; see DESIGN.md). Quiesce pauses
// the scanner and takes the engine mutex so no concurrent OnBirth/
// OnDeath call can observe a half-migrated page; Resume releases it.
func (e *Engine) Quiesce() {
	e.scanner.Pause()
	e.mu.Lock()
}

func (e *Engine) Resume() {
	e.mu.Unlock()
	e.scanner.Resume()
}

// OnBirth registers a freshly observed anonymous page (spec.md §6).
func (e *Engine) OnBirth(page PageID, space SpaceID, addr uint64) error {
	if page == 0 {
		return birthError(page, ErrNilDescriptor)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.pageIndex[page]; exists {
		return birthError(page, ErrAlreadyTracked)
	}
	e.registry.EnterSpace(space)
	d := NewDescriptor(page, space, addr)
	e.pageIndex[page] = d
	e.scanner.newQueue.Push(d)
	e.stats.onDescriptorBorn()
	return nil
}

// OnDeath reports that the mapping of page within space has gone away
// (spec.md §6). A page shared across several spaces only loses the
// anchor belonging to space; its descriptor and remaining anchors
// survive until the last mapping dies.
func (e *Engine) OnDeath(page PageID, space SpaceID) error {
	e.mu.Lock()
	d, ok := e.pageIndex[page]
	e.mu.Unlock()
	if !ok {
		return ErrUnknownPage
	}

	if d.HasFlag(FlagStable) {
		remaining, found := d.dropAnchorForSpace(space)
		if found {
			e.stats.onUnshare()
		}
		if remaining > 0 {
			return nil
		}
		// last mapping gone, retire the whole descriptor.
	}

	e.mu.Lock()
	delete(e.pageIndex, page)
	e.mu.Unlock()

	e.scanner.newQueue.Remove(d)
	e.scanner.rescanQueue.Remove(d)
	d.SetFlags(FlagDeleted)
	e.scanner.deleteQueue.Push(d)
	if d.HasFlag(FlagStable) {
		e.stats.onStableNodeFreed()
	}
	return nil
}

// OnMigrate updates bookkeeping when the host moves a tracked page to
// a new physical location without any content change (compaction,
// NUMA migration) -- spec.md §6.
func (e *Engine) OnMigrate(oldPage, newPage PageID) error {
	if oldPage == newPage {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.pageIndex[oldPage]
	if !ok {
		return ErrUnknownPage
	}
	delete(e.pageIndex, oldPage)
	d.Page = newPage
	e.pageIndex[newPage] = d
	return nil
}

// OnReferenceWalk fans visit out over every live mapping of page,
// grounded on Registry.Reference (spec.md §4.6 "reference").
func (e *Engine) OnReferenceWalk(page PageID, visit Visitor) (int, error) {
	e.mu.Lock()
	d, ok := e.pageIndex[page]
	e.mu.Unlock()
	if !ok {
		return 0, ErrUnknownPage
	}
	return e.registry.Reference(d, visit), nil
}

// OnUnmapWalk is OnReferenceWalk's unmap-time counterpart: same fan-out
// shape, a distinct name because the caller's intent (and the anchors
// it expects visit to drop) differs (spec.md §4.6).
func (e *Engine) OnUnmapWalk(page PageID, visit Visitor) (int, error) {
	return e.OnReferenceWalk(page, visit)
}

// retire marks a descriptor DELETED and hands it to the deletion
// queue; shared between merge.go's retirements (zero merge, stable
// join, promotion loser) and Unmerge. OnDeath performs the same steps
// inline for a page's last mapping.
func (e *Engine) retire(d *Descriptor) {
	wasStable := d.HasFlag(FlagStable)
	d.SetFlags(FlagDeleted)
	e.mu.Lock()
	delete(e.pageIndex, d.Page)
	e.mu.Unlock()
	e.scanner.deleteQueue.Push(d)
	if wasStable {
		e.stats.onStableNodeFreed()
	}
}

// Unmerge implements the "proposed" administrative unmerge of spec.md
// §9: every stable entry has every anchor's COW broken, handing each
// mapping a private copy again, then the descriptor is removed from the
// stable tree and retired.
func (e *Engine) Unmerge() error {
	e.mu.Lock()
	stable := e.stable
	e.mu.Unlock()

	var errs *multierror.Error
	for _, d := range stable.All() {
		for _, a := range d.Anchors() {
			if a.Released() {
				continue
			}
			if err := e.adapter.BreakCOW(a.Space, d.Page); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("unmerge %s in space %s: %w", d.Page, a.Space, err))
			}
		}
		stable.Remove(d)
		e.retire(d)
	}
	return errs.ErrorOrNil()
}

// SetConfigJson applies a new configuration, spec.md §6's control
// surface, keyed the way the teacher's Tracker/Policy/Mover do.
func (e *Engine) SetConfigJson(configJSON string) error {
	config := DefaultEngineConfig()
	if err := unmarshalConfig(configJSON, &config); err != nil {
		return err
	}
	return e.SetConfig(config)
}

func (e *Engine) SetConfig(config EngineConfig) error {
	if err := config.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.config = config
	e.mu.Unlock()
	e.scanner.setConfig(config)
	if config.Run {
		e.scanner.Resume()
	} else {
		e.scanner.Pause()
	}
	return nil
}

// GetConfigJson returns the active configuration as JSON.
func (e *Engine) GetConfigJson() string {
	e.mu.Lock()
	config := e.config
	e.mu.Unlock()
	b, err := json.Marshal(&config)
	if err != nil {
		return ""
	}
	return string(b)
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() StatsSnapshot {
	return e.stats.Snapshot()
}

// Dump renders a human-readable summary for the interactive prompt,
// grounded on the teacher's Tracker/Policy/Routine Dump convention
// (memtier/tracker.go).
func (e *Engine) Dump(args []string) string {
	return fmt.Sprintf("stable_tree=%d unstable_tree=%d tracked=%d %s",
		e.stable.Len(), e.unstable.Len(), len(e.pageIndex), e.stats.String())
}

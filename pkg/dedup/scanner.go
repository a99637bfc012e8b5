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
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type scannerCmd int

const (
	scannerQuit scannerCmd = iota
	scannerPause
	scannerContinue
)

// scanner drives the single cooperative worker of spec.md §4.1. Its
// control loop is grounded on the teacher's Mover.taskHandler
// (memtier/mover.go): a command channel carrying quit/pause/continue,
// blocking-read when idle, a busyloop of batches while running.
type scanner struct {
	adapter  PageAdapter
	hasher   *Hasher
	merger   *Merger
	stable   *StableTree
	unstable *UnstableTree
	registry *Registry
	stats    *Stats
	log      Logger

	newQueue     *descQueue
	deleteQueue  *descQueue
	rescanQueue  *descQueue
	refreshQueue *descQueue

	mu     sync.Mutex
	config EngineConfig

	cmdCh   chan scannerCmd
	limiter *rate.Limiter
}

func newScanner(adapter PageAdapter, hasher *Hasher, merger *Merger, stable *StableTree, unstable *UnstableTree, registry *Registry, stats *Stats, log Logger, config EngineConfig) *scanner {
	return &scanner{
		adapter:      adapter,
		hasher:       hasher,
		merger:       merger,
		stable:       stable,
		unstable:     unstable,
		registry:     registry,
		stats:        stats,
		log:          log,
		newQueue:     newDescQueue(),
		deleteQueue:  newDescQueue(),
		rescanQueue:  newDescQueue(),
		refreshQueue: newDescQueue(),
		config:       config,
	}
}

func (s *scanner) setConfig(config EngineConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = config
	if config.DeferredTimerMs > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Duration(config.DeferredTimerMs)*time.Millisecond), 1)
	} else {
		s.limiter = nil
	}
}

func (s *scanner) getConfig() EngineConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Start launches the loop goroutine if it is not already running.
func (s *scanner) Start() {
	if s.cmdCh != nil {
		return
	}
	s.cmdCh = make(chan scannerCmd, 8)
	go s.loop()
	if s.getConfig().Run {
		s.cmdCh <- scannerContinue
	}
}

// Stop terminates the loop goroutine.
func (s *scanner) Stop() {
	if s.cmdCh != nil {
		s.cmdCh <- scannerQuit
	}
}

// Pause idles the loop without discarding any queue or tree state.
func (s *scanner) Pause() {
	if s.cmdCh != nil {
		s.cmdCh <- scannerPause
	}
}

// Resume restarts batch processing after a Pause.
func (s *scanner) Resume() {
	if s.cmdCh != nil {
		s.cmdCh <- scannerContinue
	}
}

func (s *scanner) loop() {
	s.log.Debugf("scanner: online\n")
	defer func() {
		close(s.cmdCh)
		s.cmdCh = nil
		s.log.Debugf("scanner: offline\n")
	}()
	for {
		cmd := <-s.cmdCh
		switch cmd {
		case scannerQuit:
			return
		case scannerPause:
			continue
		}
	running:
		for {
			s.batch()
			select {
			case cmd := <-s.cmdCh:
				switch cmd {
				case scannerQuit:
					return
				case scannerPause:
					break running
				}
			default:
				s.sleep()
			}
		}
	}
}

func (s *scanner) sleep() {
	config := s.getConfig()
	if s.limiter != nil {
		_ = s.limiter.Wait(context.Background())
		return
	}
	time.Sleep(time.Duration(config.SleepMs) * time.Millisecond)
}

// batch performs one scan batch, spec.md §4.1.
func (s *scanner) batch() {
	config := s.getConfig()

	var work []*Descriptor

	// step 1: drain new queue.
	for _, d := range s.newQueue.DrainUpTo(config.PagesToScan) {
		d.ReplaceFlags(FlagNew, FlagInEngine)
		work = append(work, d)
	}

	// step 2: drain rescan queue, skipping deleted descriptors.
	for _, d := range s.rescanQueue.DrainAll() {
		d.ClearFlags(FlagRescanQueued)
		if d.HasFlag(FlagDeleted) {
			s.deleteQueue.Push(d)
			continue
		}
		work = append(work, d)
	}

	// step 3: process work list.
	for _, d := range work {
		s.processOne(d)
	}

	// step 4: free deletion queue.
	s.freeDeleted()

	// step 5: refresh unstable checksums.
	s.refresh(config)

	s.stats.onFullScan()
	s.stats.setPagesUnshared(int64(s.unstable.Len()))
}

func (s *scanner) processOne(d *Descriptor) {
	if d.HasFlag(FlagDeleted) {
		s.deleteQueue.Push(d)
		return
	}
	ok, permanent := s.adapter.Pin(d.Page)
	if !ok {
		if permanent {
			d.SetFlags(FlagDeleted)
			s.deleteQueue.Push(d)
		} else {
			s.requeueRescan(d)
		}
		return
	}
	defer s.adapter.Unpin(d.Page)

	if s.adapter.Busy(d.Page) {
		s.requeueRescan(d)
		return
	}

	switch s.merger.CmpAndMerge(d) {
	case OutcomeSuccess, OutcomeKeep:
		// the deferred Unpin above releases the pin.
	case OutcomeDrop:
		d.SetFlags(FlagDeleted)
		s.deleteQueue.Push(d)
	case OutcomeTry:
		d.SetFlags(FlagInitChecksum)
		s.requeueRescan(d)
	}
}

func (s *scanner) requeueRescan(d *Descriptor) {
	if d.HasFlag(FlagRescanQueued) {
		return
	}
	d.SetFlags(FlagRescanQueued)
	s.rescanQueue.Push(d)
}

func (s *scanner) freeDeleted() {
	for _, d := range s.deleteQueue.DrainAll() {
		s.stable.Remove(d)
		s.unstable.Remove(d)
		s.registry.Drop(d)
		s.stats.onDescriptorFreed()
	}
}

// refresh implements spec.md §4.5's guardrail formula.
func (s *scanner) refresh(config EngineConfig) {
	unstableCount := s.unstable.Len()
	if unstableCount == 0 {
		return
	}
	need := unstableCount
	if unstableCount >= config.PagesToScan {
		need = unstableCount * config.SleepMs / (config.RefreshPeriodS * 1000)
	}
	if need > config.PagesToScan {
		need = config.PagesToScan
	}
	if need <= 0 {
		return
	}

	candidates := s.unstable.All()
	if need > len(candidates) {
		need = len(candidates)
	}
	content := make([]byte, pageSize)
	for _, d := range candidates[:need] {
		if d.HasFlag(FlagDeleted) {
			continue
		}
		ok, permanent := s.adapter.Pin(d.Page)
		if !ok {
			if permanent {
				d.SetFlags(FlagDeleted)
				s.deleteQueue.Push(d)
			}
			continue
		}
		if s.adapter.Busy(d.Page) {
			s.adapter.Unpin(d.Page)
			continue
		}
		if err := s.adapter.ReadContent(d.Page, content); err != nil {
			s.adapter.Unpin(d.Page)
			continue
		}
		fresh := s.hasher.Checksum(content)
		if fresh != d.Checksum {
			s.unstable.Remove(d)
			d.Checksum = fresh
			d.SetFlags(FlagInitChecksum)
			s.requeueRescan(d)
		}
		s.adapter.Unpin(d.Page)
	}
}

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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProcessWatcherConfig configures ProcessWatcher, mirroring the
// teacher's PidWatcherProcConfig (memtier/pidwatcher_proc.go).
type ProcessWatcherConfig struct {
	Pids       []int
	IntervalMs int
}

// pageMinter is the subset of UnixPageAdapter ProcessWatcher needs to
// turn a (pid, address) pair into the PageID OnBirth expects. The
// FakePageAdapter has no equivalent since tests mint pages directly.
type pageMinter interface {
	Register(pid int, addr uintptr) PageID
}

// ProcessWatcher polls /proc/<pid>/maps for anonymous, writable
// mappings and drives Engine.OnBirth/OnDeath as pages appear and
// disappear, playing the role the teacher's PidWatcher/PidListener
// pair plays for NUMA tracking (memtier/pidwatcher.go,
// pidwatcher_proc.go) but feeding a dedup Engine instead of a Tracker.
type ProcessWatcher struct {
	config *ProcessWatcherConfig
	engine *Engine
	minter pageMinter

	seen map[int]map[uintptr]PageID // pid -> addr -> minted page
	stop chan struct{}
}

func NewProcessWatcher(engine *Engine, minter pageMinter) *ProcessWatcher {
	return &ProcessWatcher{
		engine: engine,
		minter: minter,
		seen:   make(map[int]map[uintptr]PageID),
	}
}

func (w *ProcessWatcher) SetConfigJson(configJSON string) error {
	config := &ProcessWatcherConfig{IntervalMs: 5000}
	if configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), config); err != nil {
			return err
		}
	}
	w.config = config
	return nil
}

func (w *ProcessWatcher) GetConfigJson() string {
	if w.config == nil {
		return ""
	}
	b, err := json.Marshal(w.config)
	if err != nil {
		return ""
	}
	return string(b)
}

// Start launches the poll loop in the background.
func (w *ProcessWatcher) Start() error {
	if w.config == nil {
		if err := w.SetConfigJson(""); err != nil {
			return err
		}
	}
	if w.stop != nil {
		return nil
	}
	w.stop = make(chan struct{})
	go w.loop()
	return nil
}

func (w *ProcessWatcher) Stop() {
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}

func (w *ProcessWatcher) loop() {
	log.Debugf("process watcher: online\n")
	defer log.Debugf("process watcher: offline\n")
	ticker := time.NewTicker(time.Duration(w.config.IntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		w.Poll()
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}
	}
}

// Poll runs a single scan of every configured pid's anonymous
// mappings, reporting new pages and pages that have vanished.
func (w *ProcessWatcher) Poll() {
	for _, pid := range w.config.Pids {
		found, err := anonymousPages(pid)
		if err != nil {
			log.Warnf("process watcher: reading maps for pid %d failed: %s\n", pid, err)
			delete(w.seen, pid)
			continue
		}
		prev := w.seen[pid]
		next := make(map[uintptr]PageID, len(found))
		space := SpaceID(pid)

		for _, addr := range found {
			if page, ok := prev[addr]; ok {
				next[addr] = page
				delete(prev, addr)
				continue
			}
			page := w.minter.Register(pid, addr)
			if err := w.engine.OnBirth(page, space, uint64(addr)); err != nil {
				log.Warnf("process watcher: on_birth(%s) failed: %s\n", page, err)
				continue
			}
			next[addr] = page
		}

		for _, page := range prev {
			if err := w.engine.OnDeath(page, space); err != nil {
				log.Warnf("process watcher: on_death(%s) failed: %s\n", page, err)
			}
		}
		w.seen[pid] = next
	}
}

func (w *ProcessWatcher) Dump([]string) string {
	return fmt.Sprintf("%+v", w.config)
}

// anonymousPages parses /proc/<pid>/maps for private ("rw-p"), writable,
// not-file-backed regions and returns every page-aligned address they
// cover. This is a coarse approximation of the kernel's own
// anon_vma walk, sufficient to drive the engine from real processes
// without needing a kernel module.
func anonymousPages(pid int) ([]uintptr, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []uintptr
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		if len(fields) >= 6 {
			path := fields[5]
			if !strings.HasPrefix(path, "[heap]") && !strings.HasPrefix(path, "[stack") {
				continue // file-backed mapping, not anonymous
			}
		}
		perms := fields[1]
		if !strings.HasPrefix(perms, "rw") || !strings.HasSuffix(perms, "p") {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(bounds[0], 16, 64)
		end, err2 := strconv.ParseUint(bounds[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		for addr := start; addr < end; addr += uint64(pageSize) {
			pages = append(pages, uintptr(addr))
		}
	}
	return pages, scanner.Err()
}

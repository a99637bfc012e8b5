//go:build linux
// +build linux

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
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

func init() {
	RegisterAdapter("linux", func() (PageAdapter, error) { return NewUnixPageAdapter(), nil })
}

// unixMapping is what a PageID resolves to under the real adapter: a
// (pid, virtual address) pair. Unlike the fake adapter's synthetic
// buffers, content lives in the target process's own address space.
type unixMapping struct {
	pid  int
	addr uintptr
}

// UnixPageAdapter is a real PageAdapter grounded on the teacher's
// process_madvise/move_pages syscall wrappers (memtier/madvise_linux.go,
// memtier/move_linux.go): content is read through /proc/<pid>/mem, and
// write-protect/break-cow are expressed as process_madvise hints
// (MADV_MERGEABLE/MADV_UNMERGEABLE) via a borrowed pidfd, since
// rewriting another process's page tables is a privilege only the
// kernel's own KSM thread has -- userspace can only ask for it.
// ReplaceWithShared issues no syscall; it only forgets oldPage's
// mapping.
type UnixPageAdapter struct {
	mu       sync.Mutex
	mappings map[PageID]unixMapping
	nextID   PageID
	zero     PageID
	zeroBuf  []byte
}

func NewUnixPageAdapter() *UnixPageAdapter {
	return &UnixPageAdapter{
		mappings: make(map[PageID]unixMapping),
		nextID:   1,
		zeroBuf:  make([]byte, pageSize),
	}
}

// Register mints a PageID for (pid, addr), the real adapter's
// equivalent of the fake adapter's NewPage: a host-side process
// watcher (procwatch.go) calls this once per observed anonymous page.
func (u *UnixPageAdapter) Register(pid int, addr uintptr) PageID {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := u.nextID
	u.nextID++
	u.mappings[id] = unixMapping{pid: pid, addr: addr}
	return id
}

func (u *UnixPageAdapter) lookup(page PageID) (unixMapping, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	m, ok := u.mappings[page]
	return m, ok
}

func (u *UnixPageAdapter) Pin(page PageID) (ok bool, permanent bool) {
	m, found := u.lookup(page)
	if !found {
		return false, true
	}
	if err := unix.Kill(m.pid, 0); err != nil {
		return false, true
	}
	return true, false
}

func (u *UnixPageAdapter) Unpin(PageID) {}

// Busy always reports false: userspace has no portable way to observe
// another process's page lock or in-flight direct I/O without the
// kernel's cooperation, so the deferred-rescan path this would feed is
// exercised only by the fake adapter in tests.
func (u *UnixPageAdapter) Busy(PageID) bool { return false }

func (u *UnixPageAdapter) ReadContent(page PageID, dst []byte) error {
	m, ok := u.lookup(page)
	if !ok {
		return ErrUnknownPage
	}
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", m.pid), os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.ReadAt(dst, int64(m.addr))
	return err
}

func (u *UnixPageAdapter) IsZero(page PageID) bool {
	buf := make([]byte, pageSize)
	if err := u.ReadContent(page, buf); err != nil {
		return false
	}
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

func (u *UnixPageAdapter) WriteProtect(page PageID, _ SpaceID) error {
	m, ok := u.lookup(page)
	if !ok {
		return ErrUnknownPage
	}
	return processMadvise(m.pid, m.addr, unix.MADV_MERGEABLE)
}

func (u *UnixPageAdapter) ReplaceWithShared(_ SpaceID, oldPage, sharedPage PageID) error {
	if _, ok := u.lookup(sharedPage); !ok {
		return ErrUnknownPage
	}
	u.mu.Lock()
	delete(u.mappings, oldPage)
	u.mu.Unlock()
	return nil
}

func (u *UnixPageAdapter) BreakCOW(_ SpaceID, sharedPage PageID) error {
	m, ok := u.lookup(sharedPage)
	if !ok {
		return ErrUnknownPage
	}
	return processMadvise(m.pid, m.addr, unix.MADV_UNMERGEABLE)
}

func (u *UnixPageAdapter) ZeroPage() (PageID, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.zero != 0 {
		return u.zero, nil
	}
	id := u.nextID
	u.nextID++
	u.mappings[id] = unixMapping{pid: os.Getpid(), addr: uintptr(unsafe.Pointer(&u.zeroBuf[0]))}
	u.zero = id
	return id, nil
}

// processMadvise borrows a pidfd for pid and issues a single-range
// process_madvise(2) call, the real syscall the teacher's own
// madvise_linux.go drives for its NUMA-tiering madvise hints.
func processMadvise(pid int, addr uintptr, advice int) error {
	pidfd, _, errno := unix.Syscall(unix.SYS_PIDFD_OPEN, uintptr(pid), 0, 0)
	if errno != 0 {
		return errno
	}
	defer unix.Close(int(pidfd))

	iovec := unix.Iovec{Base: (*byte)(unsafe.Pointer(addr))}
	iovec.SetLen(pageSize)

	_, _, errno = unix.Syscall6(unix.SYS_PROCESS_MADVISE, pidfd, uintptr(unsafe.Pointer(&iovec)), 1, uintptr(advice), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

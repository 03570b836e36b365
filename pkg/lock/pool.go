// Copyright 2025 The kstress Authors.
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

package lock

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"kstress.dev/kstress/pkg/errors/linuxerr"
	"kstress.dev/kstress/pkg/memutil"
)

const (
	// PoolVersion is the shared layout version stamped into the header.
	// Attach refuses pools written by an incompatible binary.
	PoolVersion = 1

	// DefaultCapacity is the number of usable lock slots when Options
	// does not say otherwise. Sized for the maximum supported number of
	// stress-worker instances.
	DefaultCapacity = 1024

	// defaultAbandonAfter bounds how long spin-based acquisition keeps
	// spinning once shutdown has been requested. Tuning policy, not a
	// contract; see Options.
	defaultAbandonAfter = 5 * time.Second
)

// Options configures pool creation.
type Options struct {
	// Capacity is the number of usable lock slots (the allocator slot is
	// additional). Zero means DefaultCapacity.
	Capacity int

	// Method forces a locking method by name. Empty selects the first
	// available method in preference order.
	Method string

	// AbandonAfter overrides the spin abandonment bound. Zero means the
	// default.
	AbandonAfter time.Duration
}

// Pool is a process-shared pool of lock slots. One process creates it; any
// number of processes attach it via the backing file. All pool-metadata
// mutation (slot allocation and free) is serialized through the allocator
// lock in slot zero.
type Pool struct {
	mem    []byte
	file   *os.File
	method method

	abandonAfter time.Duration
}

// Create allocates and maps a new pool and initializes its allocator lock.
func Create(opts Options) (*Pool, error) {
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 0 {
		return nil, linuxerr.EINVAL
	}

	m, err := selectMethod(opts.Method)
	if err != nil {
		return nil, err
	}

	// Slot 0 is the allocator lock; usable slots are 1..capacity.
	slots := uint32(capacity) + 1
	size := poolBytes(slots)

	fd, err := memutil.CreateMemFD("kstress-lock-pool", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	file := os.NewFile(uintptr(fd), "kstress-lock-pool")
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("sizing lock pool: %w", err)
	}

	mem, err := memutil.MapSlice(0, uintptr(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, file.Fd(), 0)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mapping lock pool: %w", err)
	}

	p := &Pool{
		mem:          mem,
		file:         file,
		method:       m,
		abandonAfter: opts.AbandonAfter,
	}
	if p.abandonAfter == 0 {
		p.abandonAfter = defaultAbandonAfter
	}

	hdr := p.header()
	hdr.magic = headerMagic
	hdr.version = PoolVersion
	hdr.method = m.id()
	hdr.slots = slots
	hdr.running = 1

	// The allocator lock is initialized outside the normal allocation
	// path and stays valid for the pool lifetime. With the stub method
	// the pool maps fine but NewLock reports the missing primitive.
	if m.id() != methodNone {
		if err := m.init(p.slot(0)); err != nil {
			p.unmap()
			return nil, err
		}
		atomic.StoreUint32(&p.slot(0).tag, slotMagic)
	}
	return p, nil
}

// Attach maps an existing pool from its backing file, typically one
// inherited from the creating process. The caller retains ownership of the
// file; Detach does not close it.
func Attach(file *os.File) (*Pool, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat lock pool: %w", err)
	}
	size := info.Size()
	if size < int64(headerBytes) {
		return nil, linuxerr.EINVAL
	}

	mem, err := memutil.MapSlice(0, uintptr(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, file.Fd(), 0)
	if err != nil {
		return nil, fmt.Errorf("mapping lock pool: %w", err)
	}

	p := &Pool{
		mem:          mem,
		method:       nil,
		abandonAfter: defaultAbandonAfter,
	}
	hdr := p.header()
	if hdr.magic != headerMagic || hdr.version != PoolVersion {
		p.unmap()
		return nil, linuxerr.EINVAL
	}
	if size < int64(poolBytes(hdr.slots)) {
		p.unmap()
		return nil, linuxerr.EINVAL
	}
	m, ok := methodByID(hdr.method)
	if !ok {
		p.unmap()
		return nil, linuxerr.EINVAL
	}
	p.method = m
	return p, nil
}

// File returns the pool's backing file for donation to worker processes.
// Only the creating process holds one.
func (p *Pool) File() *os.File {
	return p.file
}

// Capacity returns the number of usable lock slots.
func (p *Pool) Capacity() int {
	return int(p.header().slots) - 1
}

// Method returns the name of the locking method in use.
func (p *Pool) Method() string {
	return p.method.name()
}

// Running reports the pool-wide keep-running flag. Workers poll it; the
// spin method's bounded wait consults it before abandoning.
func (p *Pool) Running() bool {
	return atomic.LoadUint32(&p.header().running) != 0
}

// SetRunning sets the keep-running flag, visible to every attached process.
func (p *Pool) SetRunning(running bool) {
	var v uint32
	if running {
		v = 1
	}
	atomic.StoreUint32(&p.header().running, v)
}

// Detach unmaps the pool from this process. Outstanding handles become
// unusable. Does not close the backing file.
func (p *Pool) Detach() error {
	return p.unmap()
}

// Destroy tears down the allocator lock, unmaps the pool, and closes the
// backing file. The caller must ensure no other process still uses the
// pool; in-flight operations are not synchronized against teardown. A pool
// that is already detached or destroyed fails with EINVAL.
//
// Slots still allocated at this point leak whatever OS resources their
// method holds (relevant for SYS-V semaphores); callers destroy their locks
// first.
func (p *Pool) Destroy() error {
	if p.mem == nil {
		return linuxerr.EINVAL
	}
	alloc := p.slot(0)
	if atomic.LoadUint32(&alloc.tag) == slotMagic {
		if err := p.method.deinit(alloc); err != nil {
			return err
		}
		atomic.StoreUint32(&alloc.tag, 0)
	}
	err := p.unmap()
	if p.file != nil {
		if cerr := p.file.Close(); err == nil {
			err = cerr
		}
		p.file = nil
	}
	return err
}

func (p *Pool) unmap() error {
	if p.mem == nil {
		return nil
	}
	err := memutil.UnmapSlice(p.mem)
	p.mem = nil
	return err
}

// getSlot allocates a free slot under the allocator lock and marks it in
// use. Returns ENOSPC when the pool is exhausted and EINVAL when the
// allocator lock itself is not valid (pool unmapped or corrupted).
func (p *Pool) getSlot() (uint32, error) {
	if p.mem == nil {
		return 0, linuxerr.EINVAL
	}
	alloc := p.slot(0)
	if atomic.LoadUint32(&alloc.tag) != slotMagic {
		return 0, linuxerr.EINVAL
	}
	if err := p.method.acquireRelax(p, alloc); err != nil {
		return 0, err
	}

	var idx uint32
	slots := p.header().slots
	for i := uint32(1); i < slots; i++ {
		s := p.slot(i)
		if atomic.LoadUint32(&s.tag) == 0 {
			atomic.StoreUint32(&s.tag, slotMagic)
			idx = i
			break
		}
	}
	// A failed release means the allocator lock itself is broken (for
	// sem-sysv, its semaphore set may be gone); undo the allocation
	// rather than hand out a slot from a wedged pool.
	if err := p.method.release(p, alloc); err != nil {
		if idx != 0 {
			atomic.StoreUint32(&p.slot(idx).tag, 0)
		}
		return 0, err
	}
	if idx == 0 {
		return 0, linuxerr.ENOSPC
	}
	return idx, nil
}

// putSlot returns a slot to the pool under the allocator lock, zeroing the
// whole slot. Zero is the free sentinel, so clearing the memory frees it.
func (p *Pool) putSlot(idx uint32) error {
	if p.mem == nil || idx == 0 || idx >= p.header().slots {
		return linuxerr.EINVAL
	}
	alloc := p.slot(0)
	if atomic.LoadUint32(&alloc.tag) != slotMagic {
		return linuxerr.EINVAL
	}
	if err := p.method.acquireRelax(p, alloc); err != nil {
		return err
	}

	var err error
	s := p.slot(idx)
	if atomic.LoadUint32(&s.tag) != slotMagic {
		err = linuxerr.EINVAL
	} else {
		*s = slot{}
	}
	if rerr := p.method.release(p, alloc); err == nil {
		err = rerr
	}
	return err
}

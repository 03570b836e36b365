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

// Package lock provides mutual-exclusion primitives usable between
// independently spawned processes sharing a memory-mapped lock pool.
//
// A Pool is a fixed-capacity array of lock slots backed by an anonymous
// shared memory file (memfd). The creating process maps the pool and hands
// the backing file to worker subprocesses, which map it at their own
// addresses; locks are therefore referenced by slot index, not by pointer.
//
// The concrete locking mechanism (CAS spinlock, futex, SYS-V semaphore) is
// chosen once per pool and recorded in the pool header so that every
// attached process dispatches through the identical method.
package lock

import (
	"sync/atomic"

	"kstress.dev/kstress/pkg/atomicbitops"
	"kstress.dev/kstress/pkg/errors/linuxerr"
	"kstress.dev/kstress/pkg/log"
)

// Lock is a handle to one slot of a Pool. The zero value is not usable;
// handles are obtained from Pool.NewLock or Pool.Lock.
//
// A handle becomes stale once Destroy has been called on it (by any process);
// every operation re-validates the slot tag and fails with EINVAL on a stale
// handle rather than touching freed state.
type Lock struct {
	pool *Pool
	idx  uint32

	// name labels the lock for diagnostics only; it has no effect on
	// behavior and is not stored in shared memory.
	name string
}

// noMethodLogged latches the one unconditional diagnostic this package
// emits; every dependent stressor is unusable, so it is worth one line.
var noMethodLogged atomicbitops.Bool

// NewLock allocates a slot from the pool and initializes it with the pool's
// locking method. The name is a diagnostic label only.
//
// Returns ENOSYS if no locking method is available, ENOSPC if the pool is
// exhausted, and the method's own error if slot initialization fails (the
// slot is returned to the pool in that case).
func (p *Pool) NewLock(name string) (*Lock, error) {
	if p.method.id() == methodNone {
		if !noMethodLogged.Swap(true) {
			log.Warningf("no locking primitives available")
		}
		return nil, linuxerr.ENOSYS
	}
	idx, err := p.getSlot()
	if err != nil {
		return nil, err
	}
	s := p.slot(idx)
	if err := p.method.init(s); err != nil {
		p.putSlot(idx)
		return nil, err
	}
	return &Lock{pool: p, idx: idx, name: name}, nil
}

// Lock reconstructs a handle for an already-allocated slot, typically in a
// worker process that received the index from the pool's creator. The slot
// must currently be valid.
func (p *Pool) Lock(index uint32) (*Lock, error) {
	if index == 0 || index >= p.header().slots {
		return nil, linuxerr.EINVAL
	}
	if atomic.LoadUint32(&p.slot(index).tag) != slotMagic {
		return nil, linuxerr.EINVAL
	}
	return &Lock{pool: p, idx: index}, nil
}

// Index returns the slot index of the lock, suitable for donation to a
// process that attached the same pool.
func (l *Lock) Index() uint32 {
	return l.idx
}

// valid returns whether the handle still references an in-use slot. It is
// re-checked on every operation; a stale handle must fail, not crash.
func (l *Lock) valid() bool {
	if l == nil || l.pool == nil || l.pool.mem == nil {
		return false
	}
	if l.idx == 0 || l.idx >= l.pool.header().slots {
		return false
	}
	return atomic.LoadUint32(&l.pool.slot(l.idx).tag) == slotMagic
}

// Acquire blocks until the lock is held. Contention blocks; an error is
// returned only for a stale handle (EINVAL), a primitive failure, or spin
// abandonment during shutdown (EAGAIN).
func (l *Lock) Acquire() error {
	if !l.valid() {
		return linuxerr.EINVAL
	}
	return l.pool.method.acquire(l.pool, l.pool.slot(l.idx))
}

// AcquireRelax is Acquire with a backoff spin strategy, reducing contention
// overhead for spin-based methods. For blocking methods it is identical to
// Acquire.
func (l *Lock) AcquireRelax() error {
	if !l.valid() {
		return linuxerr.EINVAL
	}
	return l.pool.method.acquireRelax(l.pool, l.pool.slot(l.idx))
}

// Release relinquishes ownership obtained by Acquire or AcquireRelax.
func (l *Lock) Release() error {
	if !l.valid() {
		return linuxerr.EINVAL
	}
	return l.pool.method.release(l.pool, l.pool.slot(l.idx))
}

// Destroy tears down the lock's OS resources and returns its slot to the
// pool. The handle (and any copy of it in other processes) is stale
// afterwards.
func (l *Lock) Destroy() error {
	if !l.valid() {
		return linuxerr.EINVAL
	}
	s := l.pool.slot(l.idx)
	if err := l.pool.method.deinit(s); err != nil {
		return err
	}
	return l.pool.putSlot(l.idx)
}

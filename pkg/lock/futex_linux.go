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
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"kstress.dev/kstress/pkg/errors/linuxerr"
)

// Lock word states for the futex method. The contended state lets release
// skip the wake syscall on the uncontended fast path.
const (
	futexUnlocked  = 0
	futexLocked    = 1
	futexContended = 2
)

// FUTEX_WAIT/FUTEX_WAKE without FUTEX_PRIVATE_FLAG; the word lives in a
// MAP_SHARED region and waiters may be in other processes.
const (
	futexWaitOp = 0
	futexWakeOp = 1
)

// futexMethod is a wait/wake mutex over a shared 32-bit word. Contenders
// sleep in the kernel instead of burning CPU, which stress workers prefer
// when the protected section is long.
type futexMethod struct{}

func (futexMethod) name() string    { return "futex" }
func (futexMethod) id() uint32      { return methodFutex }
func (futexMethod) available() bool { return true }

func (futexMethod) init(s *slot) error {
	atomic.StoreUint32(&s.word, futexUnlocked)
	return nil
}

func (futexMethod) deinit(s *slot) error {
	return nil
}

func (m futexMethod) acquire(p *Pool, s *slot) error {
	if atomic.CompareAndSwapUint32(&s.word, futexUnlocked, futexLocked) {
		return nil
	}
	for {
		// Advertise a waiter before sleeping so release knows to wake.
		if atomic.SwapUint32(&s.word, futexContended) == futexUnlocked {
			return nil
		}
		if err := futexWait(&s.word, futexContended); err != nil {
			return err
		}
	}
}

func (m futexMethod) acquireRelax(p *Pool, s *slot) error {
	// Sleeping in the kernel already yields the CPU; no separate backoff
	// strategy.
	return m.acquire(p, s)
}

func (futexMethod) release(p *Pool, s *slot) error {
	if atomic.SwapUint32(&s.word, futexUnlocked) == futexContended {
		return futexWake(&s.word, 1)
	}
	return nil
}

// futexWait sleeps until the word changes from val or a wake arrives.
// Spurious returns are fine; callers always re-check the word.
func futexWait(addr *uint32, val uint32) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), futexWaitOp, uintptr(val), 0, 0, 0)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		// EAGAIN: the word changed before we slept. EINTR: signal.
		return nil
	default:
		return linuxerr.ErrorFromUnix(errno)
	}
}

// futexWake wakes up to n waiters on addr.
func futexWake(addr *uint32, n int) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), futexWakeOp, uintptr(n), 0, 0, 0)
	if errno != 0 {
		return linuxerr.ErrorFromUnix(errno)
	}
	return nil
}

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
	"time"

	"kstress.dev/kstress/pkg/errors/linuxerr"
)

// spinMethod is a test-and-set spinlock on a shared 32-bit word. It is the
// cheapest method under low contention and works across any processes that
// map the pool, so it leads the preference order.
//
// Spinning never yields to the kernel, so a worker killed while holding the
// lock would leave contenders spinning forever. The acquire paths therefore
// poll the pool's keep-running flag: once shutdown has been requested and
// the abandonment bound has passed, they give up with EAGAIN instead of
// hanging the teardown.
type spinMethod struct{}

func (spinMethod) name() string    { return "spin" }
func (spinMethod) id() uint32      { return methodSpin }
func (spinMethod) available() bool { return true }

func (spinMethod) init(s *slot) error {
	atomic.StoreUint32(&s.word, 0)
	return nil
}

func (spinMethod) deinit(s *slot) error {
	return nil
}

func (spinMethod) acquire(p *Pool, s *slot) error {
	return spinAcquire(p, s, false)
}

func (spinMethod) acquireRelax(p *Pool, s *slot) error {
	return spinAcquire(p, s, true)
}

func (spinMethod) release(p *Pool, s *slot) error {
	atomic.StoreUint32(&s.word, 0)
	return nil
}

// spinAcquire spins until the lock word is won. With relax set, misses back
// off exponentially with CPU pause loops before yielding the processor,
// which measurably reduces cache-line ping-pong under multi-core
// contention.
func spinAcquire(p *Pool, s *slot, relax bool) error {
	var deadline time.Time
	pauses := 1
	for i := 0; ; i++ {
		if atomic.CompareAndSwapUint32(&s.word, 0, 1) {
			return nil
		}
		if relax {
			for j := 0; j < pauses; j++ {
				doSpin()
			}
			if pauses < 1024 {
				pauses <<= 1
			} else {
				goyield()
			}
		} else {
			doSpin()
			if i%256 == 255 {
				goyield()
			}
		}
		// Check the clock only every few misses; a time syscall per
		// spin would dominate the loop.
		if i%64 == 63 {
			now := time.Now()
			if deadline.IsZero() {
				deadline = now.Add(p.abandonAfter)
				continue
			}
			if !p.Running() && now.After(deadline) {
				return linuxerr.EAGAIN
			}
		}
	}
}

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
	"sync"
	"testing"
	"time"

	"kstress.dev/kstress/pkg/errors/linuxerr"
)

func newTestPool(t *testing.T, opts Options) *Pool {
	t.Helper()
	p, err := Create(opts)
	if err != nil {
		t.Fatalf("Create(%+v) failed: %v", opts, err)
	}
	t.Cleanup(func() { p.Destroy() })
	return p
}

func TestCreateDefaults(t *testing.T) {
	p := newTestPool(t, Options{})
	if got := p.Capacity(); got != DefaultCapacity {
		t.Errorf("Capacity() = %d, want %d", got, DefaultCapacity)
	}
	if p.Method() == "" || p.Method() == "none" {
		t.Errorf("Method() = %q, want a real method", p.Method())
	}
	if !p.Running() {
		t.Error("new pool is not running")
	}
}

func TestPoolExhaustion(t *testing.T) {
	p := newTestPool(t, Options{Capacity: 4})

	var locks []*Lock
	for i := 0; i < 4; i++ {
		l, err := p.NewLock("fill")
		if err != nil {
			t.Fatalf("NewLock #%d failed: %v", i, err)
		}
		locks = append(locks, l)
	}
	if _, err := p.NewLock("overflow"); !linuxerr.Equals(linuxerr.ENOSPC, err) {
		t.Fatalf("NewLock on full pool: got %v, want ENOSPC", err)
	}

	// Returning any slot makes the next allocation succeed again.
	if err := locks[2].Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	l, err := p.NewLock("reuse")
	if err != nil {
		t.Fatalf("NewLock after Destroy failed: %v", err)
	}
	if got, want := l.Index(), locks[2].Index(); got != want {
		t.Errorf("reused lock got slot %d, want freed slot %d", got, want)
	}
}

func TestStaleHandle(t *testing.T) {
	p := newTestPool(t, Options{Capacity: 2})
	l, err := p.NewLock("stale")
	if err != nil {
		t.Fatalf("NewLock failed: %v", err)
	}
	if err := l.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	for name, op := range map[string]func() error{
		"Acquire":      l.Acquire,
		"AcquireRelax": l.AcquireRelax,
		"Release":      l.Release,
		"Destroy":      l.Destroy,
	} {
		if err := op(); !linuxerr.Equals(linuxerr.EINVAL, err) {
			t.Errorf("%s on stale handle: got %v, want EINVAL", name, err)
		}
	}
}

func TestLockIndexValidation(t *testing.T) {
	p := newTestPool(t, Options{Capacity: 2})
	for _, idx := range []uint32{0, 1, 99} {
		if _, err := p.Lock(idx); !linuxerr.Equals(linuxerr.EINVAL, err) {
			t.Errorf("Lock(%d): got %v, want EINVAL", idx, err)
		}
	}
	l, err := p.NewLock("real")
	if err != nil {
		t.Fatalf("NewLock failed: %v", err)
	}
	if _, err := p.Lock(l.Index()); err != nil {
		t.Errorf("Lock(%d) on valid slot failed: %v", l.Index(), err)
	}
}

func TestNoMethod(t *testing.T) {
	p := newTestPool(t, Options{Method: "none"})
	if _, err := p.NewLock("doomed"); !linuxerr.Equals(linuxerr.ENOSYS, err) {
		t.Fatalf("NewLock with no method: got %v, want ENOSYS", err)
	}
}

func TestUnknownMethod(t *testing.T) {
	if _, err := Create(Options{Method: "hle"}); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Fatalf("Create with unknown method: got %v, want ENOENT", err)
	}
}

func TestAttachValidation(t *testing.T) {
	p := newTestPool(t, Options{Capacity: 2})

	// A second mapping of the same backing file is a separate Pool view.
	q, err := Attach(p.File())
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer q.Detach()
	if got, want := q.Capacity(), p.Capacity(); got != want {
		t.Errorf("attached Capacity() = %d, want %d", got, want)
	}
	if got, want := q.Method(), p.Method(); got != want {
		t.Errorf("attached Method() = %q, want %q", got, want)
	}

	// Corrupting the header magic must be caught.
	p.header().magic = 0xdeadbeef
	if _, err := Attach(p.File()); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Attach with bad magic: got %v, want EINVAL", err)
	}
	p.header().magic = headerMagic
}

func TestCrossMappingHandle(t *testing.T) {
	p := newTestPool(t, Options{Capacity: 4})
	l, err := p.NewLock("shared")
	if err != nil {
		t.Fatalf("NewLock failed: %v", err)
	}

	q, err := Attach(p.File())
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer q.Detach()

	// The donated index resolves in the other mapping and excludes
	// against the original handle.
	ql, err := q.Lock(l.Index())
	if err != nil {
		t.Fatalf("Lock(%d) in attached mapping failed: %v", l.Index(), err)
	}
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		if err := ql.Acquire(); err != nil {
			done <- err
			return
		}
		done <- ql.Release()
	}()
	select {
	case err := <-done:
		t.Fatalf("second mapping acquired a held lock: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("acquire via attached mapping failed: %v", err)
	}
}

func TestMutualExclusion(t *testing.T) {
	for _, name := range Methods() {
		t.Run(name, func(t *testing.T) {
			testMutualExclusion(t, name, false)
		})
	}
}

func TestMutualExclusionRelax(t *testing.T) {
	for _, name := range Methods() {
		t.Run(name, func(t *testing.T) {
			testMutualExclusion(t, name, true)
		})
	}
}

func testMutualExclusion(t *testing.T, method string, relax bool) {
	const (
		workers = 4
		incs    = 10000
	)
	p := newTestPool(t, Options{Capacity: 4, Method: method})
	l, err := p.NewLock("counter")
	if err != nil {
		t.Fatalf("NewLock failed: %v", err)
	}

	// Plain increments; only the lock prevents lost updates.
	counter := 0
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < incs; i++ {
				var err error
				if relax {
					err = l.AcquireRelax()
				} else {
					err = l.Acquire()
				}
				if err != nil {
					errs <- err
					return
				}
				counter++
				if err := l.Release(); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("worker failed: %v", err)
	}
	if counter != workers*incs {
		t.Errorf("counter = %d, want %d (lost updates)", counter, workers*incs)
	}
}

func TestDestroyAfterTeardown(t *testing.T) {
	// Destroy on a detached pool must fail, not fault on the vanished
	// mapping.
	p, err := Create(Options{Capacity: 2})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	f := p.File()
	if err := p.Detach(); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if err := p.Destroy(); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Destroy after Detach: got %v, want EINVAL", err)
	}
	f.Close()

	// Same for a second Destroy.
	q, err := Create(Options{Capacity: 2})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := q.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if err := q.Destroy(); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("second Destroy: got %v, want EINVAL", err)
	}
}

// brokenReleaseMethod unlocks but reports failure on every release,
// standing in for a method whose kernel object vanished out from under the
// pool.
type brokenReleaseMethod struct{ spinMethod }

func (m brokenReleaseMethod) release(p *Pool, s *slot) error {
	m.spinMethod.release(p, s)
	return linuxerr.EIDRM
}

func TestAllocatorReleaseFailure(t *testing.T) {
	p := newTestPool(t, Options{Capacity: 2, Method: "spin"})

	p.method = brokenReleaseMethod{}
	if _, err := p.NewLock("doomed"); !linuxerr.Equals(linuxerr.EIDRM, err) {
		t.Fatalf("NewLock with failing allocator release: got %v, want EIDRM", err)
	}

	// The failed allocation must not leak its slot: with the method
	// healthy again, the same slot is handed out.
	p.method = spinMethod{}
	l, err := p.NewLock("retry")
	if err != nil {
		t.Fatalf("NewLock after failed allocation: %v", err)
	}
	if got := l.Index(); got != 1 {
		t.Errorf("failed allocation leaked slot 1: reallocation got slot %d", got)
	}

	// Freeing a slot propagates a failed allocator release too.
	p.method = brokenReleaseMethod{}
	if err := l.Destroy(); !linuxerr.Equals(linuxerr.EIDRM, err) {
		t.Errorf("Destroy with failing allocator release: got %v, want EIDRM", err)
	}
	p.method = spinMethod{}
}

func TestSpinAbandon(t *testing.T) {
	p := newTestPool(t, Options{Capacity: 2, Method: "spin", AbandonAfter: 50 * time.Millisecond})
	l, err := p.NewLock("held")
	if err != nil {
		t.Fatalf("NewLock failed: %v", err)
	}
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// With shutdown requested, a contended spin must give up with EAGAIN
	// within the abandonment bound instead of hanging.
	p.SetRunning(false)
	done := make(chan error, 1)
	go func() { done <- l.Acquire() }()
	select {
	case err := <-done:
		if !linuxerr.Equals(linuxerr.EAGAIN, err) {
			t.Fatalf("contended spin during shutdown: got %v, want EAGAIN", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("contended spin did not abandon within the bound")
	}
	p.SetRunning(true)
	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestSpinKeepsWaitingWhileRunning(t *testing.T) {
	p := newTestPool(t, Options{Capacity: 2, Method: "spin", AbandonAfter: 20 * time.Millisecond})
	l, err := p.NewLock("held")
	if err != nil {
		t.Fatalf("NewLock failed: %v", err)
	}
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Without a shutdown request the bound must not trigger; the waiter
	// wins the lock once it is released.
	done := make(chan error, 1)
	go func() { done <- l.Acquire() }()
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("spin acquire returned early: %v", err)
	default:
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("waiter failed: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

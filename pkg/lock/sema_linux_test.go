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

//go:build amd64 || arm64

package lock

import (
	"sync/atomic"
	"testing"

	"golang.org/x/sys/unix"
)

func requireSemSysV(t *testing.T) {
	t.Helper()
	if !(semSysVMethod{}).available() {
		t.Skip("SYS-V semaphores unavailable on this host")
	}
}

func TestSemSysVLifecycle(t *testing.T) {
	requireSemSysV(t)
	p := newTestPool(t, Options{Capacity: 2, Method: "sem-sysv"})
	l, err := p.NewLock("sysv")
	if err != nil {
		t.Fatalf("NewLock failed: %v", err)
	}

	id := int(atomic.LoadInt32(&p.slot(l.Index()).sem))
	if v, errno := semCtl(id, 0, semGetVal, 0); errno != 0 || v != 1 {
		t.Fatalf("GETVAL on fresh semaphore: value %d, errno %v", v, errno)
	}

	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if v, errno := semCtl(id, 0, semGetVal, 0); errno != 0 || v != 0 {
		t.Fatalf("GETVAL while held: value %d, errno %v", v, errno)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Destroy must remove the kernel object, not just the slot.
	if err := l.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, errno := semCtl(id, 0, semGetVal, 0); errno != unix.EINVAL && errno != unix.EIDRM {
		t.Errorf("GETVAL on destroyed semaphore set: errno %v, want EINVAL or EIDRM", errno)
	}
}

func TestSemAlloc(t *testing.T) {
	requireSemSysV(t)

	// Keys are random, so holding several sets at once exercises the
	// collision retry; a collision must surface as another attempt, not
	// as an error.
	ids := make(map[int]bool)
	for i := 0; i < 8; i++ {
		id, err := semAlloc()
		if err != nil {
			t.Fatalf("semAlloc #%d failed: %v", i, err)
		}
		if ids[id] {
			t.Errorf("semAlloc returned semaphore set %d twice", id)
		}
		ids[id] = true
	}
	for id := range ids {
		if _, errno := semCtl(id, 0, ipcRmid, 0); errno != 0 {
			t.Errorf("IPC_RMID of set %d: %v", id, errno)
		}
	}
}

func TestSemSysVAllocatorTeardown(t *testing.T) {
	requireSemSysV(t)
	p, err := Create(Options{Capacity: 2, Method: "sem-sysv"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	allocID := int(atomic.LoadInt32(&p.slot(0).sem))
	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, errno := semCtl(allocID, 0, semGetVal, 0); errno != unix.EINVAL && errno != unix.EIDRM {
		t.Errorf("allocator semaphore survived pool teardown: errno %v", errno)
	}
}

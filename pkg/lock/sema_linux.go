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
	"math/rand"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"kstress.dev/kstress/pkg/errors/linuxerr"
)

// Constants from <linux/ipc.h> and <linux/sem.h>; x/sys/unix does not
// export the semaphore subset.
const (
	ipcCreat  = 0o1000
	ipcExcl   = 0o2000
	ipcRmid   = 0
	semUndo   = 0x1000
	semSetVal = 16
	semGetVal = 12
)

// semKeyAttempts bounds the random-key retry loop in init. A key collision
// is an allocation conflict, not a failure, and is the only condition this
// package ever retries internally.
const semKeyAttempts = 40

// semSysVMethod locks via a single-semaphore SYS-V set initialized to one.
// The heaviest method (every operation is a syscall on a kernel object with
// its own identifier namespace), but process-shared on any Linux, so it
// closes out the preference order.
//
// The semaphore set ID, not the key, is stored in the slot payload; any
// process that maps the pool can operate on the set directly.
type semSysVMethod struct{}

func (semSysVMethod) name() string { return "sem-sysv" }
func (semSysVMethod) id() uint32   { return methodSemSysV }

var (
	semProbeOnce sync.Once
	semProbeOK   bool
)

func (semSysVMethod) available() bool {
	semProbeOnce.Do(func() {
		id, err := semAlloc()
		if err != nil {
			return
		}
		semCtl(id, 0, ipcRmid, 0)
		semProbeOK = true
	})
	return semProbeOK
}

// semAlloc creates a fresh single-semaphore set under a random key,
// retrying key collisions. Both the availability probe and slot init go
// through here so that a collision is never mistaken for an unavailable
// mechanism.
func semAlloc() (int, error) {
	for i := 0; i < semKeyAttempts; i++ {
		key := int(rand.Int31())
		if key == 0 {
			// 0 is IPC_PRIVATE; a private set could not be probed
			// for collisions.
			continue
		}
		id, errno := semGet(key, 1, ipcCreat|ipcExcl|0o600)
		if errno == unix.EEXIST {
			continue
		}
		if errno != 0 {
			return -1, linuxerr.ErrorFromUnix(errno)
		}
		return id, nil
	}
	return -1, linuxerr.ENOSPC
}

func (semSysVMethod) init(s *slot) error {
	id, err := semAlloc()
	if err != nil {
		return err
	}
	if _, errno := semCtl(id, 0, semSetVal, 1); errno != 0 {
		semCtl(id, 0, ipcRmid, 0)
		return linuxerr.ErrorFromUnix(errno)
	}
	atomic.StoreInt32(&s.sem, int32(id))
	return nil
}

func (semSysVMethod) deinit(s *slot) error {
	id := int(atomic.LoadInt32(&s.sem))
	if _, errno := semCtl(id, 0, ipcRmid, 0); errno != 0 {
		return linuxerr.ErrorFromUnix(errno)
	}
	return nil
}

func (m semSysVMethod) acquire(p *Pool, s *slot) error {
	return semAdjust(int(atomic.LoadInt32(&s.sem)), -1)
}

func (m semSysVMethod) acquireRelax(p *Pool, s *slot) error {
	return m.acquire(p, s)
}

func (semSysVMethod) release(p *Pool, s *slot) error {
	return semAdjust(int(atomic.LoadInt32(&s.sem)), 1)
}

// sembuf from <linux/sem.h>.
type sembuf struct {
	semNum uint16
	semOp  int16
	semFlg int16
}

func semAdjust(id int, delta int16) error {
	op := sembuf{semNum: 0, semOp: delta, semFlg: semUndo}
	for {
		errno := semTimedOp(id, &op)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return linuxerr.ErrorFromUnix(errno)
		}
		return nil
	}
}

func semGet(key, nsems, flags int) (int, unix.Errno) {
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), uintptr(nsems), uintptr(flags))
	if errno != 0 {
		return -1, errno
	}
	return int(id), 0
}

// semTimedOp performs one semaphore operation with no timeout. semtimedop
// is used because arm64 has no plain semop syscall.
func semTimedOp(id int, op *sembuf) unix.Errno {
	_, _, errno := unix.Syscall6(unix.SYS_SEMTIMEDOP,
		uintptr(id), uintptr(unsafe.Pointer(op)), 1, 0, 0, 0)
	return errno
}

func semCtl(id, num, cmd int, val int) (int, unix.Errno) {
	r, _, errno := unix.Syscall6(unix.SYS_SEMCTL,
		uintptr(id), uintptr(num), uintptr(cmd), uintptr(val), 0, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(r), 0
}

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

package stress

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"kstress.dev/kstress/pkg/errors/linuxerr"
	"kstress.dev/kstress/pkg/memutil"
)

const (
	// counterSlots is the fixed size of the counter page: one shared
	// counter plus one bogo-ops counter per worker instance.
	counterSlots = 1024

	// SharedCounter indexes the counter that workers mutate under the
	// run's lock; it is the mutual-exclusion witness.
	SharedCounter = 0

	// MaxWorkers is the largest worker count one run supports.
	MaxWorkers = counterSlots - 1
)

// Counters is a page of uint64 counters in shared memory. Index 0 is the
// lock-protected shared counter; index 1+i belongs exclusively to worker
// instance i, so instance counters need no synchronization.
type Counters struct {
	mem  []byte
	file *os.File
}

// CreateCounters allocates and maps a zeroed counter page.
func CreateCounters() (*Counters, error) {
	fd, err := memutil.CreateMemFD("kstress-counters", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	file := os.NewFile(uintptr(fd), "kstress-counters")
	size := counterSlots * 8
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("sizing counter page: %w", err)
	}
	mem, err := memutil.MapSlice(0, uintptr(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, file.Fd(), 0)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mapping counter page: %w", err)
	}
	return &Counters{mem: mem, file: file}, nil
}

// AttachCounters maps an existing counter page from a donated file.
func AttachCounters(file *os.File) (*Counters, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat counter page: %w", err)
	}
	if info.Size() != counterSlots*8 {
		return nil, linuxerr.EINVAL
	}
	mem, err := memutil.MapSlice(0, uintptr(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, file.Fd(), 0)
	if err != nil {
		return nil, fmt.Errorf("mapping counter page: %w", err)
	}
	return &Counters{mem: mem}, nil
}

// File returns the backing file for donation to worker processes.
func (c *Counters) File() *os.File {
	return c.file
}

// Detach unmaps the page without closing the backing file.
func (c *Counters) Detach() error {
	return c.unmap()
}

// Destroy unmaps the page and closes the backing file.
func (c *Counters) Destroy() error {
	err := c.unmap()
	if c.file != nil {
		if cerr := c.file.Close(); err == nil {
			err = cerr
		}
		c.file = nil
	}
	return err
}

func (c *Counters) unmap() error {
	if c.mem == nil {
		return nil
	}
	err := memutil.UnmapSlice(c.mem)
	c.mem = nil
	return err
}

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
	"kstress.dev/kstress/pkg/errors/linuxerr"
)

// Method IDs are part of the shared pool layout; they never change meaning.
const (
	methodNone uint32 = iota
	methodSpin
	methodFutex
	methodSemSysV
)

// method is one locking mechanism. Exactly one method serves a pool for its
// whole lifetime; the dispatch table is fixed at Create and recovered from
// the header ID at Attach.
type method interface {
	name() string
	id() uint32

	// available reports whether the mechanism works on this host. Probed
	// once per process.
	available() bool

	// init initializes the payload of a freshly allocated slot. The slot
	// memory is zeroed; init must succeed on zeroed memory or fail
	// cleanly.
	init(s *slot) error

	// deinit releases OS resources tied to the payload. A no-op for
	// methods with no kernel object.
	deinit(s *slot) error

	// acquire blocks until exclusive ownership is obtained. Contention
	// is not an error.
	acquire(p *Pool, s *slot) error

	// acquireRelax is acquire with a backoff spin strategy. Identical to
	// acquire for blocking methods.
	acquireRelax(p *Pool, s *slot) error

	// release relinquishes ownership taken by acquire or acquireRelax.
	release(p *Pool, s *slot) error
}

// registry holds the methods in preference order: cheapest first, degrading
// toward heavier but universally process-shared primitives. Populated by
// per-platform init functions.
var registry []method

func registerMethod(m method) {
	registry = append(registry, m)
}

// selectMethod resolves a method by name, or picks the first available one
// when name is empty. An empty registry (or a name that probes unavailable)
// degrades to the always-fail stub so that the failure surfaces at NewLock,
// as a diagnostic, rather than at pool setup.
func selectMethod(name string) (method, error) {
	if name == "" {
		for _, m := range registry {
			if m.available() {
				return m, nil
			}
		}
		return noneMethod{}, nil
	}
	if name == (noneMethod{}).name() {
		return noneMethod{}, nil
	}
	for _, m := range registry {
		if m.name() == name {
			if !m.available() {
				return nil, linuxerr.ENOSYS
			}
			return m, nil
		}
	}
	return nil, linuxerr.ENOENT
}

// methodByID recovers a method from the ID stamped in a pool header.
func methodByID(id uint32) (method, bool) {
	if id == methodNone {
		return noneMethod{}, true
	}
	for _, m := range registry {
		if m.id() == id {
			return m, true
		}
	}
	return nil, false
}

// Methods returns the names of the methods available on this host, in
// preference order.
func Methods() []string {
	var names []string
	for _, m := range registry {
		if m.available() {
			names = append(names, m.name())
		}
	}
	return names
}

// noneMethod is the fallback when no locking primitive is available. Every
// operation fails; NewLock reports the condition once.
type noneMethod struct{}

func (noneMethod) name() string                    { return "none" }
func (noneMethod) id() uint32                      { return methodNone }
func (noneMethod) available() bool                 { return true }
func (noneMethod) init(*slot) error                { return linuxerr.ENOSYS }
func (noneMethod) deinit(*slot) error              { return linuxerr.ENOSYS }
func (noneMethod) acquire(*Pool, *slot) error      { return linuxerr.ENOSYS }
func (noneMethod) acquireRelax(*Pool, *slot) error { return linuxerr.ENOSYS }
func (noneMethod) release(*Pool, *slot) error      { return linuxerr.ENOSYS }

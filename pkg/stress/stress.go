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

// Package stress implements the stressor catalog and its multi-process
// execution harness.
//
// Workers are separate processes, not goroutines: a worker that crashes or
// is killed must not be able to corrupt its siblings' address spaces. The
// parent donates two memfds to each worker (the lock pool and the bogo-ops
// counter page) and coordinates shutdown through the pool's keep-running
// flag.
package stress

import (
	"sort"

	"kstress.dev/kstress/pkg/lock"
)

// Args is everything a stressor needs inside a worker process.
type Args struct {
	// Pool is the attached lock pool.
	Pool *lock.Pool

	// Counters is the attached bogo-ops counter page.
	Counters *Counters

	// Instance numbers this worker within the run, starting at 0.
	Instance int

	// LockIndex is the donated slot index of the run's shared lock.
	LockIndex uint32

	// Ops bounds the bogo-ops for this worker; 0 means run until the
	// keep-running flag is cleared.
	Ops uint64
}

// A Stressor exercises one narrow interface as hard as possible. Run
// executes in a worker process and loops until its op budget is spent or
// the keep-running flag clears.
type Stressor interface {
	Name() string
	Run(args *Args) error
}

var registry = map[string]Stressor{}

// Register adds a stressor to the catalog. Called from init functions;
// duplicate names are a programming error.
func Register(s Stressor) {
	if _, ok := registry[s.Name()]; ok {
		panic("duplicate stressor: " + s.Name())
	}
	registry[s.Name()] = s
}

// Lookup finds a stressor by name.
func Lookup(name string) (Stressor, bool) {
	s, ok := registry[name]
	return s, ok
}

// Names returns the sorted catalog.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

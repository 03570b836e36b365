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
	"os"
	"strconv"

	"kstress.dev/kstress/pkg/lock"
	"kstress.dev/kstress/pkg/log"
)

// Worker processes are plain re-executions of the current binary, driven
// entirely by environment and donated fds so that both the kstress binary
// and test binaries can host them.
const (
	workerEnv         = "KSTRESS_WORKER"
	workerInstanceEnv = "KSTRESS_WORKER_INSTANCE"
	workerOpsEnv      = "KSTRESS_WORKER_OPS"
	workerLockEnv     = "KSTRESS_WORKER_LOCK"

	// Donated fd numbers, after stdin/stdout/stderr.
	poolFD     = 3
	countersFD = 4
)

// MaybeWorker turns the current process into a stress worker if the worker
// environment is set, and never returns in that case. Call it first thing
// in main (and in TestMain for packages that spawn workers).
func MaybeWorker() {
	name := os.Getenv(workerEnv)
	if name == "" {
		return
	}
	os.Exit(workerMain(name))
}

func workerMain(name string) int {
	s, ok := Lookup(name)
	if !ok {
		log.Warningf("worker: unknown stressor %q", name)
		return 1
	}

	poolFile := os.NewFile(poolFD, "kstress-lock-pool")
	countersFile := os.NewFile(countersFD, "kstress-counters")
	if poolFile == nil || countersFile == nil {
		log.Warningf("worker: missing donated fds")
		return 1
	}

	pool, err := lock.Attach(poolFile)
	if err != nil {
		log.Warningf("worker: attaching lock pool: %v", err)
		return 1
	}
	defer pool.Detach()

	counters, err := AttachCounters(countersFile)
	if err != nil {
		log.Warningf("worker: attaching counters: %v", err)
		return 1
	}
	defer counters.Detach()

	args := &Args{
		Pool:      pool,
		Counters:  counters,
		Instance:  envInt(workerInstanceEnv),
		LockIndex: uint32(envInt(workerLockEnv)),
		Ops:       uint64(envInt(workerOpsEnv)),
	}
	if err := s.Run(args); err != nil {
		log.Warningf("worker %d (%s): %v", args.Instance, name, err)
		return 1
	}
	return 0
}

func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

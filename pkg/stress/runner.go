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
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"kstress.dev/kstress/pkg/atomicbitops"
	"kstress.dev/kstress/pkg/lock"
	"kstress.dev/kstress/pkg/log"
)

// RunConfig describes one stressor run.
type RunConfig struct {
	// Stressor is the catalog name.
	Stressor string

	// Workers is the number of worker processes.
	Workers int

	// Ops bounds bogo-ops per worker; 0 means run until Timeout.
	Ops uint64

	// Timeout ends the run by clearing the keep-running flag. Required
	// when Ops is 0.
	Timeout time.Duration

	// Method forces the lock method; empty selects the default.
	Method string
}

// Result is the outcome of one stressor run.
type Result struct {
	Stressor string
	Workers  int
	Method   string

	// BogoOps is the sum of the workers' own op counters.
	BogoOps uint64

	// SharedCounter is the final value of the lock-protected counter.
	// For the counter stressors it must equal BogoOps; a shortfall means
	// lost updates, i.e. broken mutual exclusion.
	SharedCounter uint64

	Elapsed time.Duration
}

// LostUpdates reports whether the shared counter fell behind the workers'
// own op counts, which would mean the lock failed to exclude. Stressors
// that never touch the shared counter report false.
func (r *Result) LostUpdates() bool {
	return r.SharedCounter != 0 && r.SharedCounter != r.BogoOps
}

// Rate returns bogo-ops per second.
func (r *Result) Rate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.BogoOps) / r.Elapsed.Seconds()
}

// Run executes one stressor with the configured number of worker
// processes and collects their counters.
func Run(ctx context.Context, conf RunConfig) (*Result, error) {
	if _, ok := Lookup(conf.Stressor); !ok {
		return nil, fmt.Errorf("unknown stressor %q", conf.Stressor)
	}
	if conf.Workers <= 0 || conf.Workers > MaxWorkers {
		return nil, fmt.Errorf("worker count %d out of range [1, %d]", conf.Workers, MaxWorkers)
	}
	if conf.Ops == 0 && conf.Timeout <= 0 {
		return nil, fmt.Errorf("unbounded run: need ops or timeout")
	}

	pool, err := lock.Create(lock.Options{Method: conf.Method})
	if err != nil {
		return nil, fmt.Errorf("creating lock pool: %w", err)
	}
	defer pool.Destroy()

	counters, err := CreateCounters()
	if err != nil {
		return nil, fmt.Errorf("creating counters: %w", err)
	}
	defer counters.Destroy()

	l, err := pool.NewLock(conf.Stressor)
	if err != nil {
		return nil, fmt.Errorf("creating run lock: %w", err)
	}
	defer l.Destroy()

	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}

	log.Infof("%s: starting %d workers (lock method %s)", conf.Stressor, conf.Workers, pool.Method())
	start := time.Now()

	var failed atomicbitops.Uint32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < conf.Workers; i++ {
		cmd := exec.Command(exe)
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("%s=%s", workerEnv, conf.Stressor),
			fmt.Sprintf("%s=%d", workerInstanceEnv, i),
			fmt.Sprintf("%s=%d", workerOpsEnv, conf.Ops),
			fmt.Sprintf("%s=%d", workerLockEnv, l.Index()),
		)
		cmd.ExtraFiles = []*os.File{pool.File(), counters.File()}
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			pool.SetRunning(false)
			g.Wait()
			return nil, fmt.Errorf("spawning worker %d: %w", i, err)
		}
		g.Go(func() error {
			if err := cmd.Wait(); err != nil {
				failed.Add(1)
				return err
			}
			return nil
		})
	}

	// The run ends when the timeout fires, the context is canceled, or a
	// worker fails; all three just clear the keep-running flag and let
	// the workers drain. Both callbacks touch the pool mapping, so
	// teardown must not unmap it until they have finished: Stop and stop
	// report false once a callback is already running, in which case the
	// deferred cleanup waits for its done channel before the pool
	// Destroy defer can run.
	if conf.Timeout > 0 {
		timerDone := make(chan struct{})
		timer := time.AfterFunc(conf.Timeout, func() {
			pool.SetRunning(false)
			close(timerDone)
		})
		defer func() {
			if !timer.Stop() {
				<-timerDone
			}
		}()
	}
	// Registered on the errgroup context so that the first worker
	// failure also drains the run. errgroup cancels this context when
	// Wait returns, so the callback fires after every run.
	stopDone := make(chan struct{})
	stop := context.AfterFunc(gctx, func() {
		pool.SetRunning(false)
		close(stopDone)
	})
	defer func() {
		if !stop() {
			<-stopDone
		}
	}()

	werr := g.Wait()
	pool.SetRunning(false)
	elapsed := time.Since(start)

	res := &Result{
		Stressor:      conf.Stressor,
		Workers:       conf.Workers,
		Method:        pool.Method(),
		SharedCounter: counters.Get(SharedCounter),
		Elapsed:       elapsed,
	}
	for i := 0; i < conf.Workers; i++ {
		res.BogoOps += counters.Get(1 + i)
	}
	if werr != nil {
		return res, fmt.Errorf("%d of %d workers failed: %w", failed.Load(), conf.Workers, werr)
	}
	log.Infof("%s: %d bogo-ops in %v (%.0f ops/s)", conf.Stressor, res.BogoOps, elapsed.Round(time.Millisecond), res.Rate())
	return res, nil
}

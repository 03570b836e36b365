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

package main

import (
	"context"
	"flag"
	"time"

	"github.com/google/subcommands"

	"kstress.dev/kstress/pkg/jobfile"
	"kstress.dev/kstress/pkg/log"
	"kstress.dev/kstress/pkg/stress"
)

// runCmd implements subcommands.Command for the "run" command.
type runCmd struct {
	workers int
	ops     uint64
	timeout time.Duration
	method  string
	job     string
}

// Name implements subcommands.Command.Name.
func (*runCmd) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*runCmd) Synopsis() string {
	return "run one or more stressors"
}

// Usage implements subcommands.Command.Usage.
func (*runCmd) Usage() string {
	return `run [flags] <stressor>... - run the named stressors, or a job file.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.workers, "workers", 2, "worker processes per stressor.")
	f.Uint64Var(&r.ops, "ops", 0, "bogo-ops per worker; 0 runs until the timeout.")
	f.DurationVar(&r.timeout, "timeout", 10*time.Second, "run duration when ops is 0.")
	f.StringVar(&r.method, "lock-method", "", "force a lock method (see \"kstress list\").")
	f.StringVar(&r.job, "job", "", "TOML job file; replaces stressor arguments.")
}

// Execute implements subcommands.Command.Execute.
func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	var confs []stress.RunConfig
	switch {
	case r.job != "":
		if f.NArg() != 0 {
			log.Warningf("-job and stressor arguments are mutually exclusive")
			return subcommands.ExitUsageError
		}
		job, err := jobfile.Load(r.job)
		if err != nil {
			log.Warningf("loading job: %v", err)
			return subcommands.ExitFailure
		}
		for _, s := range job.Stressors {
			workers := s.Workers
			if workers == 0 {
				workers = r.workers
			}
			confs = append(confs, stress.RunConfig{
				Stressor: s.Name,
				Workers:  workers,
				Ops:      s.Ops,
				Timeout:  time.Duration(job.Timeout),
				Method:   job.Method,
			})
		}
	case f.NArg() > 0:
		for _, name := range f.Args() {
			confs = append(confs, stress.RunConfig{
				Stressor: name,
				Workers:  r.workers,
				Ops:      r.ops,
				Timeout:  r.timeout,
				Method:   r.method,
			})
		}
	default:
		return subcommands.ExitUsageError
	}

	status := subcommands.ExitSuccess
	for _, conf := range confs {
		res, err := stress.Run(ctx, conf)
		if err != nil {
			log.Warningf("%s: %v", conf.Stressor, err)
			status = subcommands.ExitFailure
			continue
		}
		if res.LostUpdates() {
			log.Warningf("%s: lost updates: shared counter %d != %d bogo-ops",
				res.Stressor, res.SharedCounter, res.BogoOps)
			status = subcommands.ExitFailure
		}
	}
	return status
}

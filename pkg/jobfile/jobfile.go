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

// Package jobfile parses TOML job files describing a stress run, so that
// repeatable workloads can be checked in instead of retyped as flags:
//
//	timeout = "30s"
//	lock-method = "futex"
//
//	[[stressor]]
//	name = "lock"
//	workers = 4
//
//	[[stressor]]
//	name = "lock-churn"
//	workers = 2
//	ops = 100000
package jobfile

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration for TOML's TextUnmarshaler hook.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Job is one parsed job file.
type Job struct {
	// Timeout bounds the whole run; individual stressors may finish
	// earlier by exhausting their op budgets.
	Timeout Duration `toml:"timeout"`

	// Method forces a lock method for every stressor in the job.
	Method string `toml:"lock-method"`

	// Stressors lists the workloads to run.
	Stressors []StressorJob `toml:"stressor"`
}

// StressorJob configures one stressor within a job.
type StressorJob struct {
	Name    string `toml:"name"`
	Workers int    `toml:"workers"`
	Ops     uint64 `toml:"ops"`
}

// Parse decodes a job from TOML source.
func Parse(data []byte) (*Job, error) {
	var job Job
	md, err := toml.Decode(string(data), &job)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown job file key %q", undecoded[0].String())
	}
	if len(job.Stressors) == 0 {
		return nil, fmt.Errorf("job file defines no stressors")
	}
	for i, s := range job.Stressors {
		if s.Name == "" {
			return nil, fmt.Errorf("stressor %d has no name", i)
		}
		if s.Workers < 0 {
			return nil, fmt.Errorf("stressor %q: negative worker count", s.Name)
		}
	}
	return &job, nil
}

// Load reads and parses a job file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	job, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return job, nil
}

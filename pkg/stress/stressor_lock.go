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
	"kstress.dev/kstress/pkg/errors/linuxerr"
)

func init() {
	Register(&lockStressor{name: "lock", relax: false})
	Register(&lockStressor{name: "lock-relax", relax: true})
}

// lockStressor hammers one shared lock from every worker: each bogo-op is
// an acquire, a non-atomic increment of the shared counter, and a release.
// The run verifies afterwards that the shared counter equals the sum of the
// per-worker op counters; any shortfall is a lost update.
type lockStressor struct {
	name  string
	relax bool
}

func (s *lockStressor) Name() string { return s.name }

func (s *lockStressor) Run(args *Args) error {
	l, err := args.Pool.Lock(args.LockIndex)
	if err != nil {
		return err
	}
	acquire := l.Acquire
	if s.relax {
		acquire = l.AcquireRelax
	}

	var ops uint64
	for args.Pool.Running() && (args.Ops == 0 || ops < args.Ops) {
		if err := acquire(); err != nil {
			// EAGAIN is spin abandonment during shutdown; the op
			// simply did not happen.
			if linuxerr.Equals(linuxerr.EAGAIN, err) {
				break
			}
			return err
		}
		args.Counters.Bump(SharedCounter)
		if err := l.Release(); err != nil {
			return err
		}
		ops++
		args.Counters.Set(1+args.Instance, ops)
	}
	return nil
}

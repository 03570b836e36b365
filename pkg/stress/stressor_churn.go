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
	Register(&churnStressor{})
}

// churnStressor hammers the pool allocator itself: every bogo-op allocates
// a fresh lock, takes and drops it once, and destroys it. With all workers
// churning at once this stresses slot reuse and the allocator lock rather
// than one contended slot.
type churnStressor struct{}

func (*churnStressor) Name() string { return "lock-churn" }

func (s *churnStressor) Run(args *Args) error {
	var ops uint64
	for args.Pool.Running() && (args.Ops == 0 || ops < args.Ops) {
		l, err := args.Pool.NewLock("churn")
		if err != nil {
			// A full pool is a normal outcome when enough workers
			// churn; try again.
			if linuxerr.Equals(linuxerr.ENOSPC, err) {
				continue
			}
			return err
		}
		if err := l.Acquire(); err != nil {
			if linuxerr.Equals(linuxerr.EAGAIN, err) {
				l.Destroy()
				break
			}
			l.Destroy()
			return err
		}
		if err := l.Release(); err != nil {
			l.Destroy()
			return err
		}
		if err := l.Destroy(); err != nil {
			return err
		}
		ops++
		args.Counters.Set(1+args.Instance, ops)
	}
	return nil
}

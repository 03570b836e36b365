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

package memutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CreateMemFD creates a memfd file and returns the fd.
func CreateMemFD(name string, flags int) (int, error) {
	fd, err := unix.MemfdCreate(name, flags)
	if err != nil {
		if err == unix.ENOSYS {
			return -1, fmt.Errorf("memfd_create not implemented; Linux 3.17+ required")
		}
		return -1, fmt.Errorf("memfd_create failed: %w", err)
	}
	return fd, nil
}

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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
//
// Only the errnos that kstress itself produces are defined here; everything
// else is translated on the fly by ErrorFromUnix.
package linuxerr

import (
	"golang.org/x/sys/unix"

	"kstress.dev/kstress/pkg/errors"
)

// The following errors are semantically identical to Errno of type
// unix.Errno. However, since the types are distinct (these are
// *errors.Error), they are not directly comparable; use Equals or the Errno
// method to cross the boundary.
var (
	EPERM     = errors.New(unix.EPERM, "operation not permitted")
	ENOENT    = errors.New(unix.ENOENT, "no such file or directory")
	EINTR     = errors.New(unix.EINTR, "interrupted system call")
	EAGAIN    = errors.New(unix.EAGAIN, "try again")
	ENOMEM    = errors.New(unix.ENOMEM, "out of memory")
	EBUSY     = errors.New(unix.EBUSY, "device or resource busy")
	EEXIST    = errors.New(unix.EEXIST, "file exists")
	EINVAL    = errors.New(unix.EINVAL, "invalid argument")
	ENFILE    = errors.New(unix.ENFILE, "file table overflow")
	ENOSPC    = errors.New(unix.ENOSPC, "no space left on device")
	ENOSYS    = errors.New(unix.ENOSYS, "invalid system call number")
	EIDRM     = errors.New(unix.EIDRM, "identifier removed")
	EOVERFLOW = errors.New(unix.EOVERFLOW, "value too large for defined data type")
	ETIMEDOUT = errors.New(unix.ETIMEDOUT, "connection timed out")

	// Errors equivalent to other errors.
	EWOULDBLOCK = EAGAIN
)

// errorMap holds the canonical *Error values by errno for translation of
// syscall results. Errnos outside this set get a fresh value with the
// generic errno string.
var errorMap = map[unix.Errno]*errors.Error{
	unix.EPERM:     EPERM,
	unix.ENOENT:    ENOENT,
	unix.EINTR:     EINTR,
	unix.EAGAIN:    EAGAIN,
	unix.ENOMEM:    ENOMEM,
	unix.EBUSY:     EBUSY,
	unix.EEXIST:    EEXIST,
	unix.EINVAL:    EINVAL,
	unix.ENFILE:    ENFILE,
	unix.ENOSPC:    ENOSPC,
	unix.ENOSYS:    ENOSYS,
	unix.EIDRM:     EIDRM,
	unix.EOVERFLOW: EOVERFLOW,
	unix.ETIMEDOUT: ETIMEDOUT,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if e, ok := errorMap[err]; ok {
		return e
	}
	return errors.New(err, err.Error())
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	if e == nil {
		return 0
	}
	return e.Errno()
}

// Equals compares a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == nil
	}
	if e == err {
		return true
	}
	if e2, ok := err.(*errors.Error); ok {
		return e != nil && e2.Errno() == e.Errno()
	}
	if errno, ok := err.(unix.Errno); ok {
		return e != nil && errno == e.Errno()
	}
	return false
}

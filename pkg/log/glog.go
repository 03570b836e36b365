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

package log

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// GoogleEmitter emits logs in a format compatible with package
// github.com/golang/glog:
//
//	Lmmdd hh:mm:ss.uuuuuu pid] msg...
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

var pid = os.Getpid()

// Emit emits the message, google-style.
func (g GoogleEmitter) Emit(level Level, timestamp time.Time, format string, v ...any) {
	var prefix byte
	switch level {
	case Debug:
		prefix = 'D'
	case Info:
		prefix = 'I'
	case Warning:
		prefix = 'W'
	}

	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()
	micro := timestamp.Nanosecond() / 1000

	// Messages are always a single line; embedded newlines would break the
	// per-line header convention.
	message := fmt.Sprintf(format, v...)
	message = strings.ReplaceAll(message, "\n", " ")

	g.Emitter.Emit(level, timestamp, "%c%02d%02d %02d:%02d:%02d.%06d %7d] %s",
		prefix, int(month), day, hour, minute, second, micro, pid, message)
}

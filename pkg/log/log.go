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

// Package log provides a minimal leveled logging facility.
//
// There is a single global logger, configured once at startup via SetTarget
// and SetLevel. Workers spawned by the harness inherit nothing; each process
// configures its own target.
package log

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// Level is the log level.
type Level uint32

const (
	// Warning indicates a problem the operator should see.
	Warning Level = iota

	// Info is informational output.
	Info

	// Debug is verbose diagnostic output, disabled by default.
	Debug
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "Warning"
	case Info:
		return "Info"
	case Debug:
		return "Debug"
	default:
		return fmt.Sprintf("Invalid level: %d", l)
	}
}

// Emitter is the final destination for log lines.
type Emitter interface {
	// Emit emits the given log statement. Emit is responsible for level
	// filtering having already happened; it always writes.
	Emit(level Level, timestamp time.Time, format string, v ...any)
}

// Writer writes raw log lines to an io.Writer, one line per Emit.
type Writer struct {
	// Next is where output is written.
	Next io.Writer
}

// Emit implements Emitter.Emit.
func (w Writer) Emit(_ Level, _ time.Time, format string, v ...any) {
	fmt.Fprintf(w.Next, format+"\n", v...)
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter []Emitter

// Emit implements Emitter.Emit.
func (m *MultiEmitter) Emit(level Level, timestamp time.Time, format string, v ...any) {
	for _, e := range *m {
		e.Emit(level, timestamp, format, v...)
	}
}

// BasicLogger is a convenience pairing of a level and an emitter.
type BasicLogger struct {
	Level
	Emitter
}

// Debugf logs at the Debug level.
func (l *BasicLogger) Debugf(format string, v ...any) {
	if l.IsLogging(Debug) {
		l.Emit(Debug, time.Now(), format, v...)
	}
}

// Infof logs at the Info level.
func (l *BasicLogger) Infof(format string, v ...any) {
	if l.IsLogging(Info) {
		l.Emit(Info, time.Now(), format, v...)
	}
}

// Warningf logs at the Warning level.
func (l *BasicLogger) Warningf(format string, v ...any) {
	if l.IsLogging(Warning) {
		l.Emit(Warning, time.Now(), format, v...)
	}
}

// IsLogging returns whether the given level would be logged.
func (l *BasicLogger) IsLogging(level Level) bool {
	return level <= l.Level
}

// logger is the global logger. Stored as an atomic pointer so that SetTarget
// and SetLevel can race with logging calls without a mutex on the hot path.
var logger atomic.Pointer[BasicLogger]

func init() {
	logger.Store(&BasicLogger{Level: Info, Emitter: GoogleEmitter{Writer{Next: os.Stderr}}})
}

// Log retrieves the global logger.
func Log() *BasicLogger {
	return logger.Load()
}

// SetTarget sets the log target for the global logger, preserving the level.
func SetTarget(target Emitter) {
	old := logger.Load()
	logger.Store(&BasicLogger{Level: old.Level, Emitter: target})
}

// SetLevel sets the log level for the global logger, preserving the target.
func SetLevel(newLevel Level) {
	old := logger.Load()
	logger.Store(&BasicLogger{Level: newLevel, Emitter: old.Emitter})
}

// Debugf logs to the global logger.
func Debugf(format string, v ...any) {
	Log().Debugf(format, v...)
}

// Infof logs to the global logger.
func Infof(format string, v ...any) {
	Log().Infof(format, v...)
}

// Warningf logs to the global logger.
func Warningf(format string, v ...any) {
	Log().Warningf(format, v...)
}

// IsLogging returns whether the global logger logs the given level.
func IsLogging(level Level) bool {
	return Log().IsLogging(level)
}

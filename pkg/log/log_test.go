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
	"strings"
	"testing"
	"time"
)

type stringEmitter struct {
	lines []string
}

func (e *stringEmitter) Emit(_ Level, _ time.Time, format string, v ...any) {
	e.lines = append(e.lines, format)
}

func TestLevelFiltering(t *testing.T) {
	e := &stringEmitter{}
	l := &BasicLogger{Level: Info, Emitter: e}

	l.Debugf("dropped")
	l.Infof("kept-info")
	l.Warningf("kept-warning")

	if len(e.lines) != 2 {
		t.Fatalf("emitted %d lines, want 2: %v", len(e.lines), e.lines)
	}
	if !l.IsLogging(Warning) || !l.IsLogging(Info) || l.IsLogging(Debug) {
		t.Error("IsLogging does not match level Info")
	}
}

func TestGoogleEmitterFormat(t *testing.T) {
	var sb strings.Builder
	e := GoogleEmitter{Writer{Next: &sb}}
	ts := time.Date(2025, time.March, 7, 12, 34, 56, 789000, time.UTC)

	e.Emit(Warning, ts, "pool %s", "exhausted")

	got := sb.String()
	if !strings.HasPrefix(got, "W0307 12:34:56.000789") {
		t.Errorf("line %q lacks glog header", got)
	}
	if !strings.Contains(got, "] pool exhausted") {
		t.Errorf("line %q lacks message", got)
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := &stringEmitter{}, &stringEmitter{}
	m := MultiEmitter{a, b}
	l := &BasicLogger{Level: Info, Emitter: &m}

	l.Infof("fanout")

	if len(a.lines) != 1 || len(b.lines) != 1 {
		t.Errorf("fanout reached %d/%d emitters, want 1/1", len(a.lines), len(b.lines))
	}
}

func TestLevelString(t *testing.T) {
	for level, want := range map[Level]string{
		Warning:  "Warning",
		Info:     "Info",
		Debug:    "Debug",
		Level(9): "Invalid level: 9",
	} {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", uint32(level), got, want)
		}
	}
}

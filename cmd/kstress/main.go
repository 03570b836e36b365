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

// Binary kstress drives operating-system stress workloads built around a
// process-shared lock pool.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"kstress.dev/kstress/pkg/log"
	"kstress.dev/kstress/pkg/stress"
)

var debug = flag.Bool("debug", false, "enable debug logging.")

func main() {
	// Worker processes are re-executions of this binary; they never
	// reach command parsing.
	stress.MaybeWorker()

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(runCmd), "")
	subcommands.Register(new(listCmd), "")
	subcommands.Register(new(versionCmd), "")

	flag.Parse()

	if *debug {
		log.SetLevel(log.Debug)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}

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
	"fmt"
	"strings"

	"github.com/google/subcommands"

	"kstress.dev/kstress/pkg/lock"
	"kstress.dev/kstress/pkg/stress"
)

// listCmd implements subcommands.Command for the "list" command.
type listCmd struct{}

// Name implements subcommands.Command.Name.
func (*listCmd) Name() string {
	return "list"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*listCmd) Synopsis() string {
	return "list stressors and available lock methods"
}

// Usage implements subcommands.Command.Usage.
func (*listCmd) Usage() string {
	return `list - list stressors and available lock methods.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*listCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*listCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	fmt.Printf("stressors:    %s\n", strings.Join(stress.Names(), " "))
	fmt.Printf("lock methods: %s\n", strings.Join(lock.Methods(), " "))
	return subcommands.ExitSuccess
}

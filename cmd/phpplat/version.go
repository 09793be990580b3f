// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"runtime"
)

const versionShortHelp = `Show the phpplat version information`
const versionLongHelp = `
Displays the version of this tool and the Go runtime it was built with.
`

// Version is overridden at build time.
var Version = "devel"

type versionCommand struct{}

func (cmd *versionCommand) Name() string      { return "version" }
func (cmd *versionCommand) Args() string      { return "" }
func (cmd *versionCommand) ShortHelp() string { return versionShortHelp }
func (cmd *versionCommand) LongHelp() string  { return versionLongHelp }
func (cmd *versionCommand) Hidden() bool      { return false }

func (cmd *versionCommand) Register(fs *flag.FlagSet) {}

func (cmd *versionCommand) Run(ctx *Ctx, args []string) error {
	ctx.Out.Printf("phpplat %s\nbuild: %s %s/%s\n",
		Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}

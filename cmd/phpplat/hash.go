// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"os"

	platform "github.com/cnbphp/platform"
)

const hashShortHelp = `Print the installation plan key for the current inputs`
const hashLongHelp = `
Hash computes the digest of everything a resolution run depends on: the
solver-relevant manifest fields, the lock state, the configured platform
repositories and the target platform. Two runs that print the same key
are guaranteed the same installation plan.
`

type hashCommand struct{}

func (cmd *hashCommand) Name() string      { return "hash" }
func (cmd *hashCommand) Args() string      { return "[project-dir]" }
func (cmd *hashCommand) ShortHelp() string { return hashShortHelp }
func (cmd *hashCommand) LongHelp() string  { return hashLongHelp }
func (cmd *hashCommand) Hidden() bool      { return false }

func (cmd *hashCommand) Register(fs *flag.FlagSet) {}

func (cmd *hashCommand) Run(ctx *Ctx, args []string) error {
	dir, err := projectDir(ctx, args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}
	proj, err := platform.LoadProject(dir, os.Getenv)
	if err != nil {
		return err
	}

	key := platform.HashInputs(proj.Manifest, proj.Lock, cfg.Target(), cfg.Repositories)
	ctx.Out.Println(key)
	return nil
}

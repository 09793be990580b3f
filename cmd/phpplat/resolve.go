// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	platform "github.com/cnbphp/platform"
	"github.com/cnbphp/platform/cache"
)

const resolveShortHelp = `Resolve platform dependencies into an installation plan`
const resolveLongHelp = `
Resolve reads the project's composer.json and composer.lock, determines
the platform packages (runtime, extensions) the application needs, runs
the solver against the configured platform repositories, and prints the
resulting installation plan as JSON.

A plan computed earlier for identical inputs is served from the cache
without invoking the solver.
`

type resolveCommand struct {
	dev     bool
	noCache bool
	output  string
}

func (cmd *resolveCommand) Name() string      { return "resolve" }
func (cmd *resolveCommand) Args() string      { return "[project-dir]" }
func (cmd *resolveCommand) ShortHelp() string { return resolveShortHelp }
func (cmd *resolveCommand) LongHelp() string  { return resolveLongHelp }
func (cmd *resolveCommand) Hidden() bool      { return false }

func (cmd *resolveCommand) Register(fs *flag.FlagSet) {
	fs.BoolVar(&cmd.dev, "dev", false, "include dev-scope platform requirements")
	fs.BoolVar(&cmd.noCache, "no-cache", false, "ignore the plan cache")
	fs.StringVar(&cmd.output, "o", "", "write the plan to this file instead of stdout")
}

func (cmd *resolveCommand) Run(ctx *Ctx, args []string) error {
	dir, err := projectDir(ctx, args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}

	p := &platform.Pipeline{
		Config:   cfg,
		Reporter: &platform.LogReporter{Logger: ctx.Log},
		Logger:   ctx.Log,
	}
	if !cmd.noCache {
		store, err := cache.Open(cacheDir(cfg, dir), ctx.Log)
		if err != nil {
			return err
		}
		p.Cache = store
	}

	res, err := p.Resolve(context.Background(), dir, cmd.dev)
	if err != nil {
		return err
	}
	if res.Cached {
		ctx.Log.WithField("key", res.Plan.Key).Debug("plan served from cache")
	}

	data, err := json.MarshalIndent(res.Plan, "", "  ")
	if err != nil {
		return errors.Wrap(err, "could not render the plan")
	}
	if cmd.output != "" {
		return writePlanFile(cmd.output, data)
	}
	ctx.Out.Println(string(data))
	return nil
}

func writePlanFile(path string, data []byte) error {
	return errors.Wrapf(os.WriteFile(path, append(data, '\n'), 0644), "could not write %s", path)
}

// cacheDir places the plan cache under the project unless configured
// elsewhere.
func cacheDir(cfg platform.Config, dir string) string {
	if cfg.CacheDir != "" {
		return cfg.CacheDir
	}
	return filepath.Join(dir, ".phpplat-cache")
}

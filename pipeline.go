// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cnbphp/platform/cache"
	"github.com/cnbphp/platform/composer"
	"github.com/cnbphp/platform/solver"
	"github.com/cnbphp/platform/sys"
)

// Pipeline runs a full platform resolution: load the project, resolve
// platform requirements, generate the solver document, solve, reconcile
// polyfills, and produce the installation plan.
type Pipeline struct {
	Config   Config
	Cache    *cache.Store
	Reporter Reporter
	Logger   logrus.FieldLogger

	// Invoker is swappable for tests. Nil builds one from Config.
	Invoker *solver.Invoker
}

// Result is the outcome of one resolution run.
type Result struct {
	Plan *InstallationPlan

	// Events are the advisories emitted during the run, in order.
	Events []Event

	// Cached reports whether the plan was served from the cache without
	// invoking the solver.
	Cached bool
}

// fanout forwards events to an optional outer reporter while keeping a
// copy for the result.
type fanout struct {
	list  NoticeList
	outer Reporter
}

func (f *fanout) Notice(event Event) {
	f.list.Notice(event)
	if f.outer != nil {
		f.outer.Notice(event)
	}
}

// Resolve computes the installation plan for the project at dir. dev
// keeps dev-scope platform requirements in the installed set.
func (p *Pipeline) Resolve(ctx context.Context, dir string, dev bool) (*Result, error) {
	log := p.logger()
	events := &fanout{outer: p.Reporter}

	proj, err := LoadProject(dir, os.Getenv)
	if err != nil {
		return nil, err
	}
	if proj.Lock != nil && proj.Lock.ContentHash != "" && !proj.Lock.Fresh(proj.Manifest) {
		log.WithField("lock", proj.LockPath).
			Warn("lock file is out of date with the manifest; resolving from its recorded state")
	}

	resolver := &Resolver{Reporter: events}
	reqs, err := resolver.Resolve(proj.Manifest, proj.Lock)
	if err != nil {
		return nil, err
	}

	target := p.Config.Target()
	key := HashInputs(proj.Manifest, proj.Lock, target, p.Config.Repositories)

	if p.Cache != nil {
		entry, ok, err := p.Cache.Get(key)
		if err != nil {
			log.WithError(err).Warn("plan cache unreadable; resolving without it")
		} else if ok {
			plan, err := DecodePlan(entry.Plan)
			if err == nil {
				log.WithField("key", key).Debug("installation plan served from cache")
				return &Result{Plan: plan, Events: events.list.Events, Cached: true}, nil
			}
			log.WithError(err).WithField("key", key).Warn("discarding corrupt cached plan")
		}
	}

	doc, err := p.generate(proj, reqs, events)
	if err != nil {
		return nil, err
	}

	lock, err := p.solve(ctx, proj, doc, dev)
	if err != nil {
		return nil, err
	}

	plan := NewPlan(key, target, lock)
	if p.Cache != nil {
		data, err := plan.Encode()
		if err != nil {
			return nil, err
		}
		inputs := NormalizedInputs(proj.Manifest, proj.Lock, target, p.Config.Repositories)
		if err := p.Cache.Put(key, proj.Dir, data, inputs); err != nil {
			log.WithError(err).Warn("could not store installation plan")
		}
	}

	return &Result{Plan: plan, Events: events.list.Events}, nil
}

// generate builds the solver root document from the lock state and the
// resolved requirement set.
func (p *Pipeline) generate(proj *Project, reqs *RequirementSet, events Reporter) (*sys.RootDocument, error) {
	var in sys.GeneratorInput
	var pluginAPI string
	if proj.Lock != nil {
		in = sys.InputFromLock(proj.Lock)
		pluginAPI = proj.Lock.PluginAPIVersion
	} else {
		in.MinimumStability = proj.Manifest.MinimumStability
		in.PreferStable = proj.Manifest.PreferStable
	}

	additional, notices, err := sys.ComposerRequires(pluginAPI)
	if err != nil {
		return nil, err
	}
	for _, n := range notices {
		events.Notice(eventFromSys(n))
	}
	for name, expr := range reqs.RequireMap() {
		additional[name] = expr
	}
	in.AdditionalRequire = additional
	in.AdditionalRequireDev = reqs.RequireDevMap()

	doc, err := sys.Generate(in, p.Config.Stack, p.installerPath(proj), p.Config.Repositories)
	if err != nil {
		return nil, err
	}
	runtimeNotices, err := doc.EnsureRuntime()
	if err != nil {
		return nil, err
	}
	for _, n := range runtimeNotices {
		events.Notice(eventFromSys(n))
	}
	return doc, nil
}

// solve writes the document into a workspace, runs the solver, and
// reconciles polyfills against native extensions. For non-dev builds the
// dev requirements take part in resolution but are stripped before the
// reconciliation solves, so a polyfill upgrade cannot drag them back in.
func (p *Pipeline) solve(ctx context.Context, proj *Project, doc *sys.RootDocument, dev bool) (*composer.Lock, error) {
	workDir := p.Config.WorkDir
	if workDir == "" {
		tmp, err := os.MkdirTemp("", "platform-solve")
		if err != nil {
			return nil, errors.Wrap(err, "could not create solver workspace")
		}
		defer os.RemoveAll(tmp)
		workDir = tmp
	}
	ws, err := solver.NewWorkspace(workDir)
	if err != nil {
		return nil, err
	}
	if err := ws.StagePathRepositories(doc, proj.Dir); err != nil {
		return nil, err
	}
	if err := ws.WriteDocument(doc); err != nil {
		return nil, err
	}

	inv := p.invoker()
	lock, err := inv.Update(ctx, ws, dev)
	if err != nil {
		return nil, err
	}

	if !dev {
		doc.StripDev()
		if err := ws.WriteDocument(doc); err != nil {
			return nil, err
		}
	}

	rec := &solver.Reconciler{Invoker: inv, Logger: p.Logger}
	return rec.Reconcile(ctx, ws, lock)
}

func (p *Pipeline) invoker() *solver.Invoker {
	if p.Invoker != nil {
		return p.Invoker
	}
	inv := solver.NewInvoker(p.Logger)
	if p.Config.SolverBin != "" {
		inv.Bin = p.Config.SolverBin
	}
	if p.Config.SolverTimeoutSeconds > 0 {
		inv.Timeout = p.Config.SolverTimeout()
	}
	return inv
}

// installerPath resolves the configured installer plugin location
// relative to the project when it is not absolute.
func (p *Pipeline) installerPath(proj *Project) string {
	path := p.Config.InstallerPath
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(proj.Dir, path)
}

func (p *Pipeline) logger() logrus.FieldLogger {
	if p.Logger == nil {
		return logrus.StandardLogger()
	}
	return p.Logger
}

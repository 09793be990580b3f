// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/cnbphp/platform/composer"
	"github.com/cnbphp/platform/sys"
	"github.com/cnbphp/platform/version"
)

// RuntimeCapability is the capability name of the language runtime.
const RuntimeCapability = "php"

// Provenance records where a requirement came from, for diagnostics.
type Provenance int

const (
	// ProvenanceExplicitPlatform is a pin from the manifest's platform
	// config. It bypasses solving for its capability.
	ProvenanceExplicitPlatform Provenance = iota
	// ProvenanceExplicitRequire is a direct entry in require.
	ProvenanceExplicitRequire
	// ProvenanceExplicitRequireDev is a direct entry in require-dev.
	ProvenanceExplicitRequireDev
	// ProvenanceFromDependencies is inferred from locked dependencies'
	// own platform requirements.
	ProvenanceFromDependencies
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceExplicitPlatform:
		return "explicit-platform"
	case ProvenanceExplicitRequire:
		return "explicit-require"
	case ProvenanceExplicitRequireDev:
		return "explicit-require-dev"
	case ProvenanceFromDependencies:
		return "from-dependencies"
	default:
		return fmt.Sprintf("provenance(%d)", int(p))
	}
}

// Requirement is one resolved capability requirement.
type Requirement struct {
	Capability string
	Constraint version.Constraint
	Provenance Provenance
	// DevOnly requirements take part in resolution but are stripped from
	// non-dev installs.
	DevOnly bool

	// sources are every constraint expression declared for the
	// capability, used for diagnostics and intersection checks.
	sources []requirementSource
}

type requirementSource struct {
	expr string
	dev  bool
	from string
}

// RequirementSet maps capability names to their resolved requirements,
// keeping insertion order stable for reproducible output.
type RequirementSet struct {
	reqs  map[string]*Requirement
	order []string
}

func NewRequirementSet() *RequirementSet {
	return &RequirementSet{reqs: map[string]*Requirement{}}
}

// Get returns the requirement for a capability, or nil.
func (s *RequirementSet) Get(capability string) *Requirement {
	return s.reqs[capability]
}

// Capabilities returns all capability names in sorted order.
func (s *RequirementSet) Capabilities() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	sort.Strings(out)
	return out
}

// Len returns the number of requirements in the set.
func (s *RequirementSet) Len() int { return len(s.reqs) }

// RequireMap renders the non-dev requirements as a prefixed require map
// for the solver document.
func (s *RequirementSet) RequireMap() map[string]string {
	out := map[string]string{}
	for _, name := range s.order {
		req := s.reqs[name]
		if req.DevOnly {
			continue
		}
		out[sys.EnsurePrefix(name)] = req.Constraint.String()
	}
	return out
}

// RequireDevMap renders the dev-only requirements.
func (s *RequirementSet) RequireDevMap() map[string]string {
	out := map[string]string{}
	for _, name := range s.order {
		req := s.reqs[name]
		if !req.DevOnly {
			continue
		}
		out[sys.EnsurePrefix(name)] = req.Constraint.String()
	}
	return out
}

func (s *RequirementSet) add(capability string, req *Requirement) {
	if _, ok := s.reqs[capability]; !ok {
		s.order = append(s.order, capability)
	}
	s.reqs[capability] = req
}

// ScopeConflictError means a capability's dev-scope constraints rule out
// every version its non-dev constraints allow. Production (where dev
// packages are stripped) and CI would silently run different platforms.
type ScopeConflictError struct {
	Capability string
	NonDev     []string
	Dev        []string
}

func (e *ScopeConflictError) Error() string {
	return fmt.Sprintf(
		"requirements for %s in require-dev (%s) rule out every version allowed by require (%s)",
		e.Capability, strings.Join(e.Dev, ", "), strings.Join(e.NonDev, ", "),
	)
}

// DevOnlyRuntimeError means only dev-scope packages constrain the
// runtime. A non-dev install would pick an arbitrary runtime version, so
// this is rejected instead.
type DevOnlyRuntimeError struct {
	Sources []string
}

func (e *DevOnlyRuntimeError) Error() string {
	return fmt.Sprintf(
		"the runtime is constrained only by dev requirements (%s); add a php requirement to require or platform",
		strings.Join(e.Sources, ", "),
	)
}

// Resolver produces the RequirementSet for a build.
type Resolver struct {
	Reporter Reporter
}

// Resolve collects every platform requirement the manifest and lock
// declare, validates cross-scope consistency, and ensures the runtime
// ends up constrained.
func (r *Resolver) Resolve(m *composer.Manifest, lock *composer.Lock) (*RequirementSet, error) {
	c := newCollector()

	// Explicit platform pins are absolute.
	for name, ver := range m.Platform {
		if err := c.add(name, ver, ProvenanceExplicitPlatform, false, "platform"); err != nil {
			return nil, err
		}
	}
	for name, ver := range m.PlatformDev {
		if err := c.add(name, ver, ProvenanceExplicitPlatform, true, "platform-dev"); err != nil {
			return nil, err
		}
	}

	// Direct requirements on platform capabilities.
	for name, expr := range m.Require {
		if !sys.IsPlatformPackage(name) {
			continue
		}
		if err := c.add(name, expr, ProvenanceExplicitRequire, false, "require"); err != nil {
			return nil, err
		}
	}
	for name, expr := range m.RequireDev {
		if !sys.IsPlatformPackage(name) {
			continue
		}
		if err := c.add(name, expr, ProvenanceExplicitRequireDev, true, "require-dev"); err != nil {
			return nil, err
		}
	}

	// Requirements inferred from the locked dependency tree.
	if lock != nil {
		for _, p := range lock.Packages {
			for name, expr := range p.Require {
				if !sys.IsPlatformPackage(name) {
					continue
				}
				if err := c.add(name, expr, ProvenanceFromDependencies, false, p.Name); err != nil {
					return nil, err
				}
			}
		}
		for _, p := range lock.PackagesDev {
			for name, expr := range p.Require {
				if !sys.IsPlatformPackage(name) {
					continue
				}
				if err := c.add(name, expr, ProvenanceFromDependencies, true, p.Name); err != nil {
					return nil, err
				}
			}
		}
	}

	set, err := c.finish(r.reporter())
	if err != nil {
		return nil, err
	}

	// The runtime must be constrained somewhere a non-dev install honors.
	if req := set.Get(RuntimeCapability); req == nil {
		any := version.MustConstraint("*")
		set.add(RuntimeCapability, &Requirement{
			Capability: RuntimeCapability,
			Constraint: any,
			Provenance: ProvenanceFromDependencies,
		})
		r.reporter().Notice(Event{
			Name:       EventRuntimeInserted,
			Capability: RuntimeCapability,
			Constraint: "*",
		})
	} else if req.DevOnly {
		var sources []string
		for _, src := range req.sources {
			sources = append(sources, fmt.Sprintf("%s: %s", src.from, src.expr))
		}
		return nil, &DevOnlyRuntimeError{Sources: sources}
	} else if req.Provenance == ProvenanceFromDependencies {
		r.reporter().Notice(Event{
			Name:       EventRuntimeFromDependencies,
			Capability: RuntimeCapability,
			Constraint: req.Constraint.String(),
		})
	}

	return set, nil
}

func (r *Resolver) reporter() Reporter {
	if r.Reporter == nil {
		return &LogReporter{}
	}
	return r.Reporter
}

// collector accumulates declared constraints per capability before the
// final consistency pass.
type collector struct {
	caps  map[string]*Requirement
	order []string
}

func newCollector() *collector {
	return &collector{caps: map[string]*Requirement{}}
}

func (c *collector) add(capability, expr string, prov Provenance, dev bool, from string) error {
	parsed, err := version.NewConstraint(expr)
	if err != nil {
		return errors.Wrapf(err, "invalid constraint %q for %s (declared by %s)", expr, capability, from)
	}

	req, ok := c.caps[capability]
	if !ok {
		req = &Requirement{
			Capability: capability,
			Constraint: parsed,
			Provenance: prov,
			DevOnly:    dev,
		}
		c.caps[capability] = req
		c.order = append(c.order, capability)
	} else {
		// A non-dev declaration promotes the requirement out of dev-only
		// scope, and a more explicit provenance wins for diagnostics.
		if !dev {
			req.DevOnly = false
		}
		if prov < req.Provenance {
			req.Provenance = prov
		}
		if prov == ProvenanceExplicitPlatform {
			// Pins override everything declared elsewhere.
			req.Constraint = parsed
		}
	}
	req.sources = append(req.sources, requirementSource{expr: expr, dev: dev, from: from})
	return nil
}

// finish runs the cross-scope consistency check for every capability and
// resolves the effective constraint per capability.
func (c *collector) finish(reporter Reporter) (*RequirementSet, error) {
	set := NewRequirementSet()
	for _, capability := range c.order {
		req := c.caps[capability]

		// Explicit pins bypass intersection entirely.
		if req.Provenance == ProvenanceExplicitPlatform {
			set.add(capability, req)
			continue
		}

		var nonDev, dev, all []string
		for _, src := range req.sources {
			all = append(all, src.expr)
			if src.dev {
				dev = append(dev, src.expr)
			} else {
				nonDev = append(nonDev, src.expr)
			}
		}

		// Constraints were parse-checked on collection, so a failure here
		// means the conjunction admits no version at all. A set that only
		// becomes empty once dev constraints join in is the cross-scope
		// divergence case.
		if _, err := version.AndStrings(all...); err != nil {
			if len(nonDev) > 0 && len(dev) > 0 {
				if _, nonDevErr := version.AndStrings(nonDev...); nonDevErr == nil {
					return nil, &ScopeConflictError{Capability: capability, NonDev: nonDev, Dev: dev}
				}
			}
			return nil, errors.Errorf(
				"no version of %s can satisfy all of: %s",
				capability, strings.Join(all, ", "),
			)
		}

		// The effective constraint is the conjunction of everything
		// declared for the scope the requirement lives in.
		exprs := nonDev
		if req.DevOnly {
			exprs = dev
		}
		merged, err := version.AndStrings(exprs...)
		if err != nil {
			return nil, errors.Wrapf(err, "could not merge constraints for %s", capability)
		}
		req.Constraint = merged

		if req.Provenance == ProvenanceFromDependencies && capability != RuntimeCapability {
			reporter.Notice(Event{
				Name:       EventCapabilityFromDependencies,
				Capability: capability,
				Constraint: merged.String(),
			})
		}

		set.add(capability, req)
	}
	return set, nil
}

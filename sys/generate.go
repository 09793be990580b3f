// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sys

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cnbphp/platform/composer"
	"github.com/cnbphp/platform/version"
)

// InstallerPlugin is the composer plugin that knows how to install
// synthetic platform packages.
const InstallerPlugin = "cnbphp/installer-plugin"

// NoticeKind labels an advisory emitted during document generation. None
// of them fail the build.
type NoticeKind int

const (
	// NoticeRuntimeInserted means nothing anywhere required the runtime,
	// so a default requirement was added.
	NoticeRuntimeInserted NoticeKind = iota
	// NoticeRuntimeFromDependencies means only transitive dependencies
	// constrain the runtime.
	NoticeRuntimeFromDependencies
	// NoticePluginAPIConfined means the lock's plugin API series is known
	// to break newer package manager releases, so an older series is
	// selected.
	NoticePluginAPIConfined
	// NoticePluginAPIAssumed means the lock predates plugin API
	// recording.
	NoticePluginAPIAssumed
)

// Notice is one advisory with the capability and constraint it concerns.
type Notice struct {
	Kind       NoticeKind
	Capability string
	Constraint string
}

// GeneratorInput collects everything the root document is generated from.
type GeneratorInput struct {
	MinimumStability version.Stability
	PreferStable     bool

	// PlatformRequire and PlatformRequireDev are the project's direct
	// platform requirements, unprefixed.
	PlatformRequire    map[string]string
	PlatformRequireDev map[string]string

	// Packages and PackagesDev are the project's locked dependencies.
	Packages    []composer.Package
	PackagesDev []composer.Package

	// AdditionalRequire entries land in the root require last, so they
	// override anything generated. Names must already be prefixed.
	AdditionalRequire    map[string]string
	AdditionalRequireDev map[string]string

	AdditionalRepositories []composer.Repository
}

// InputFromLock seeds generator input from a parsed lock file.
func InputFromLock(l *composer.Lock) GeneratorInput {
	return GeneratorInput{
		MinimumStability:   l.MinimumStability,
		PreferStable:       l.PreferStable,
		PlatformRequire:    l.Platform,
		PlatformRequireDev: l.PlatformDev,
		Packages:           l.Packages,
		PackagesDev:        l.PackagesDev,
	}
}

// RootDocument is the synthetic composer.json the solver resolves.
type RootDocument struct {
	Config           map[string]interface{}
	MinimumStability version.Stability
	PreferStable     bool
	Provide          map[string]string
	Repositories     []composer.Repository
	Require          map[string]string
	RequireDev       map[string]string
}

func (d *RootDocument) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"config":            d.Config,
		"minimum-stability": d.MinimumStability.String(),
		"prefer-stable":     d.PreferStable,
		"provide":           d.Provide,
		"repositories":      d.Repositories,
	}
	if len(d.Require) > 0 {
		out["require"] = d.Require
	}
	if len(d.RequireDev) > 0 {
		out["require-dev"] = d.RequireDev
	}
	return json.Marshal(out)
}

// StripDev drops the dev requirements. They take part in resolution for
// lock consistency, but a non-dev install must not bring them in.
func (d *RootDocument) StripDev() {
	d.RequireDev = nil
}

// These URL query arguments let repository URLs carry composer's
// repository priority controls without a separate config channel.
const (
	canonicalQueryArg = "composer-repository-canonical"
	onlyQueryArg      = "composer-repository-only"
	excludeQueryArg   = "composer-repository-exclude"
)

// RepositoryFromURL builds a composer repository entry from a platform
// repository URL, honoring the priority query args. The args stay in the
// URL so a signed URL remains valid.
func RepositoryFromURL(rawurl string) (composer.ComposerRepository, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return composer.ComposerRepository{}, errors.Wrapf(err, "invalid platform repository URL %q", rawurl)
	}

	repo := composer.ComposerRepository{URL: rawurl}
	q := u.Query()
	if v, ok := firstQuery(q, canonicalQueryArg); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "on", "yes":
			t := true
			repo.Canonical = &t
		default:
			f := false
			repo.Canonical = &f
		}
	}
	only, hasOnly := firstQuery(q, onlyQueryArg)
	excl, hasExcl := firstQuery(q, excludeQueryArg)
	if hasOnly && hasExcl {
		return composer.ComposerRepository{}, errors.Errorf("platform repository URL %q sets both only and exclude filters", rawurl)
	}
	if hasOnly {
		repo.Only = prefixedList(only)
	}
	if hasExcl {
		repo.Exclude = prefixedList(excl)
	}
	return repo, nil
}

func firstQuery(q url.Values, key string) (string, bool) {
	vs, ok := q[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func prefixedList(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, EnsurePrefix(item))
	}
	return out
}

var stackRe = regexp.MustCompile(`^([^-]+)(?:-([0-9]+))?$`)

// StackProvide derives the provide entry announcing the build stack to
// the solver, e.g. "cnb-22" at some date becomes
// ("sys/cnb", "22.2024.08.31"). Packages can then require a stack line.
func StackProvide(stack string, now time.Time) (string, string, error) {
	m := stackRe.FindStringSubmatch(stack)
	if m == nil {
		return "", "", errors.Errorf("invalid stack identifier %q", stack)
	}
	ver := m[2]
	if ver == "" {
		ver = "1"
	}
	return EnsurePrefix(m[1]), fmt.Sprintf("%s.%s", ver, now.UTC().Format("2006.01.02")), nil
}

// ComposerRequires selects the package manager requirements from the
// lock's recorded plugin API version: always the latest available release
// that still supports the series the lock was written by.
func ComposerRequires(pluginAPIVersion string) (map[string]string, []Notice, error) {
	requires := map[string]string{
		EnsurePrefix("composer"): "*",
	}
	var notices []Notice

	var constraint string
	switch pluginAPIVersion {
	case "":
		// Locks written before plugin API recording are all v1 era.
		constraint = "^1.0.0"
		notices = append(notices, Notice{
			Kind:       NoticePluginAPIAssumed,
			Capability: "composer-plugin-api",
			Constraint: constraint,
		})
	case "2.0.0", "2.1.0", "2.2.0":
		// The 2.3 line broke plugin compatibility badly enough that locks
		// from the early 2.x series stay on the 2.2 LTS line.
		constraint = "~2.2.0"
		notices = append(notices, Notice{
			Kind:       NoticePluginAPIConfined,
			Capability: "composer-plugin-api",
			Constraint: constraint,
		})
	default:
		major, _, ok := strings.Cut(pluginAPIVersion, ".")
		if !ok {
			return nil, nil, errors.Errorf("invalid plugin API version %q in lock file", pluginAPIVersion)
		}
		constraint = "^" + major
	}
	requires[EnsurePrefix("composer-plugin-api")] = constraint
	return requires, notices, nil
}

// Generate builds the solver root document. Platform repositories are
// passed in ascending order of precedence and inserted reversed, because
// composer looks packages up in the first canonical repository that
// carries them.
func Generate(in GeneratorInput, stack, installerPath string, repositoryURLs []string) (*RootDocument, error) {
	if len(repositoryURLs) == 0 {
		return nil, errors.New("no platform repositories configured")
	}

	provideName, provideVersion, err := StackProvide(stack, time.Now())
	if err != nil {
		return nil, err
	}

	require := map[string]string{
		InstallerPlugin: "*",
	}
	requireDev := map[string]string{}

	repositories := []composer.Repository{
		composer.DisabledRepository{Name: "packagist.org"},
		composer.PathRepository{
			URL:     installerPath,
			Options: map[string]json.RawMessage{"symlink": json.RawMessage("false")},
		},
	}
	repositories = append(repositories, in.AdditionalRepositories...)

	for i := len(repositoryURLs) - 1; i >= 0; i-- {
		repo, err := RepositoryFromURL(repositoryURLs[i])
		if err != nil {
			return nil, err
		}
		repositories = append(repositories, repo)
	}

	// Dev and non-dev are processed separately so a later pass can tell
	// whether a requirement exists only in dev scope.
	for _, scope := range []struct {
		platform map[string]string
		packages []composer.Package
		requires map[string]string
	}{
		{in.PlatformRequire, in.Packages, require},
		{in.PlatformRequireDev, in.PackagesDev, requireDev},
	} {
		for name, constraint := range scope.platform {
			if !IsPlatformPackage(name) {
				continue
			}
			scope.requires[EnsurePrefix(name)] = constraint
		}

		var metapackages []composer.Package
		for _, p := range scope.packages {
			meta, ok := PlatformMetapackage(p)
			if !ok {
				continue
			}
			metapackages = append(metapackages, meta)
			scope.requires[meta.Name] = meta.Version
		}
		if len(metapackages) > 0 {
			repositories = append(repositories, composer.PackageRepository{Packages: metapackages})
		}
	}

	for name, constraint := range in.AdditionalRequire {
		require[name] = constraint
	}
	for name, constraint := range in.AdditionalRequireDev {
		requireDev[name] = constraint
	}

	return &RootDocument{
		Config: map[string]interface{}{
			"cache-files-ttl": 0,
			"discard-changes": true,
			"allow-plugins": map[string]bool{
				InstallerPlugin: true,
			},
		},
		MinimumStability: in.MinimumStability,
		PreferStable:     in.PreferStable,
		Provide:          map[string]string{provideName: provideVersion},
		Repositories:     repositories,
		Require:          require,
		RequireDev:       requireDev,
	}, nil
}

// EnsureRuntime checks that the runtime ends up constrained somewhere a
// non-dev install will honor, inserting a wide default when nothing
// constrains it at all. A runtime constrained only by dev-scope packages
// is an error: the install would silently pick a runtime version
// unrelated to what the project was tested against.
func (d *RootDocument) EnsureRuntime() ([]Notice, error) {
	if HasRuntimeRequirement(d.Require) {
		return nil, nil
	}

	metapackages := map[string]composer.Package{}
	for _, repo := range d.Repositories {
		pr, ok := repo.(composer.PackageRepository)
		if !ok {
			continue
		}
		for _, p := range pr.Packages {
			metapackages[p.Name] = p
		}
	}

	// Only a metapackage's require counts; its require-dev would never be
	// installed into a consuming project.
	seen := false
	seenDev := false
	for name := range d.Require {
		if p, ok := metapackages[name]; ok && HasRuntimeRequirement(p.Require) {
			seen = true
		}
	}
	for name := range d.RequireDev {
		if p, ok := metapackages[name]; ok && HasRuntimeRequirement(p.Require) {
			seenDev = true
		}
	}

	switch {
	case seen:
		return []Notice{{Kind: NoticeRuntimeFromDependencies, Capability: "php"}}, nil
	case seenDev:
		return nil, errors.New("runtime is required by dev dependencies only; add a php requirement to require")
	default:
		d.Require[EnsurePrefix("php")] = "*"
		return []Notice{{Kind: NoticeRuntimeInserted, Capability: "php", Constraint: "*"}}, nil
	}
}

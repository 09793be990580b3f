// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package composer

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/vcs"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
)

// Repository is one entry of a manifest's repositories section. The
// concrete type identifies the flavor; there is no catch-all variant, and
// unrecognized definitions fail the parse.
type Repository interface {
	// repoType returns the composer wire name of the repository flavor.
	repoType() string
}

// DisabledRepository turns a default repository off, the
// {"packagist.org": false} form.
type DisabledRepository struct {
	Name string
}

// ComposerRepository points at a composer metadata repository.
type ComposerRepository struct {
	Name string
	URL  string

	// Canonical, when set to false, lets other repositories shadow this
	// one's packages.
	Canonical *bool
	// Only and Exclude filter which package names this repository may
	// satisfy. Entries may use * wildcards.
	Only    []string
	Exclude []string

	Options map[string]json.RawMessage
}

// PathRepository serves packages from a local directory.
type PathRepository struct {
	Name    string
	URL     string
	Options map[string]json.RawMessage
}

// VcsRepository serves one package from a version control remote.
type VcsRepository struct {
	Name string
	Kind string
	URL  string
}

// PackageRepository inlines its package definitions directly.
type PackageRepository struct {
	Name     string
	Packages []Package
}

func (DisabledRepository) repoType() string { return "disabled" }
func (ComposerRepository) repoType() string { return "composer" }
func (PathRepository) repoType() string     { return "path" }
func (VcsRepository) repoType() string      { return "vcs" }
func (PackageRepository) repoType() string  { return "package" }

// vcsKinds are the repository type values that all denote a VCS flavor.
var vcsKinds = map[string]string{
	"vcs":           "",
	"git":           "git",
	"github":        "git",
	"gitlab":        "git",
	"git-bitbucket": "git",
	"hg":            "hg",
	"hg-bitbucket":  "hg",
	"svn":           "svn",
	"fossil":        "fossil",
	"bzr":           "bzr",
}

// parseRepositories handles both authored shapes of the repositories
// section: a sequence of definitions, or an object keyed by repository
// name. The object form keeps its authored order.
func parseRepositories(raw json.RawMessage, path string) ([]Repository, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	trimmed := strings.TrimLeft(string(raw), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		var entries []json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
		out := make([]Repository, 0, len(entries))
		for i, entry := range entries {
			repo, err := parseRepository(entry, "", fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out = append(out, repo)
		}
		return out, nil
	}

	pairs, err := orderedObject(raw, path)
	if err != nil {
		return nil, err
	}
	out := make([]Repository, 0, len(pairs))
	for _, kv := range pairs {
		entryPath := path + "." + kv.key
		if string(kv.value) == "false" {
			out = append(out, DisabledRepository{Name: kv.key})
			continue
		}
		if string(kv.value) == "true" {
			return nil, parseErrorf(entryPath, "a repository cannot be enabled by boolean, only disabled")
		}
		repo, err := parseRepository(kv.value, kv.key, entryPath)
		if err != nil {
			return nil, err
		}
		out = append(out, repo)
	}
	return out, nil
}

func parseRepository(raw json.RawMessage, name, path string) (Repository, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, parseErrorf(path, "expected a repository definition object")
	}

	// The sequence form spells disabling as {"name": false}.
	if _, ok := fields["type"]; !ok {
		if len(fields) == 1 {
			for k, v := range fields {
				if string(v) == "false" {
					return DisabledRepository{Name: k}, nil
				}
			}
		}
		return nil, parseErrorf(path, "repository definition is missing a type")
	}

	typ, err := rawString(fields["type"], path+".type")
	if err != nil {
		return nil, err
	}
	if n, ok := fields["name"]; ok {
		if name, err = rawString(n, path+".name"); err != nil {
			return nil, err
		}
	}

	switch {
	case typ == "composer":
		return parseComposerRepository(fields, name, path)
	case typ == "path":
		return parsePathRepository(fields, name, path)
	case typ == "package":
		return parsePackageRepository(fields, name, path)
	default:
		if kind, ok := vcsKinds[typ]; ok {
			url, err := requiredString(fields, "url", path)
			if err != nil {
				return nil, err
			}
			return VcsRepository{Name: name, Kind: kind, URL: url}, nil
		}
		return nil, parseErrorf(path+".type", "unsupported repository type %q", typ)
	}
}

func parseComposerRepository(fields map[string]json.RawMessage, name, path string) (Repository, error) {
	url, err := requiredString(fields, "url", path)
	if err != nil {
		return nil, err
	}
	repo := ComposerRepository{Name: name, URL: url}
	if c, ok := fields["canonical"]; ok {
		var b bool
		if err := json.Unmarshal(c, &b); err != nil {
			return nil, parseErrorf(path+".canonical", "expected a boolean")
		}
		repo.Canonical = &b
	}
	if o, ok := fields["only"]; ok {
		if err := json.Unmarshal(o, &repo.Only); err != nil {
			return nil, parseErrorf(path+".only", "expected a sequence of package names")
		}
	}
	if e, ok := fields["exclude"]; ok {
		if err := json.Unmarshal(e, &repo.Exclude); err != nil {
			return nil, parseErrorf(path+".exclude", "expected a sequence of package names")
		}
	}
	repo.Options = repoOptions(fields, "url", "type", "name", "canonical", "only", "exclude")
	return repo, nil
}

func parsePathRepository(fields map[string]json.RawMessage, name, path string) (Repository, error) {
	url, err := requiredString(fields, "url", path)
	if err != nil {
		return nil, err
	}
	return PathRepository{
		Name:    name,
		URL:     url,
		Options: repoOptions(fields, "url", "type", "name"),
	}, nil
}

func parsePackageRepository(fields map[string]json.RawMessage, name, path string) (Repository, error) {
	raw, ok := fields["package"]
	if !ok {
		return nil, parseErrorf(path+".package", "package repository is missing its package definitions")
	}
	repo := PackageRepository{Name: name}
	trimmed := strings.TrimLeft(string(raw), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		var entries []json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, &ParseError{Path: path + ".package", Err: err}
		}
		for i, entry := range entries {
			p, err := parsePackage(entry, fmt.Sprintf("%s.package[%d]", path, i))
			if err != nil {
				return nil, err
			}
			repo.Packages = append(repo.Packages, p)
		}
		return repo, nil
	}
	p, err := parsePackage(raw, path+".package")
	if err != nil {
		return nil, err
	}
	repo.Packages = []Package{p}
	return repo, nil
}

func requiredString(fields map[string]json.RawMessage, key, path string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", parseErrorf(path+"."+key, "required field is missing")
	}
	s, err := rawString(raw, path+"."+key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", parseErrorf(path+"."+key, "required field is empty")
	}
	return s, nil
}

func repoOptions(fields map[string]json.RawMessage, consumed ...string) map[string]json.RawMessage {
	skip := make(map[string]bool, len(consumed))
	for _, k := range consumed {
		skip[k] = true
	}
	var opts map[string]json.RawMessage
	for k, v := range fields {
		if skip[k] {
			continue
		}
		if opts == nil {
			opts = make(map[string]json.RawMessage)
		}
		opts[k] = v
	}
	return opts
}

// DeduceKind resolves a bare "vcs" repository to its concrete flavor. It
// may touch the network for remotes whose host gives no hint.
func (r VcsRepository) DeduceKind() (string, error) {
	if r.Kind != "" {
		return r.Kind, nil
	}
	repo, err := vcs.NewRepo(r.URL, "")
	if err != nil {
		return "", errors.Wrapf(err, "could not deduce VCS flavor of %s", r.URL)
	}
	return string(repo.Vcs()), nil
}

// DiscoverPackages walks the repository directory and parses every
// manifest found up to three levels deep, the depth composer's own path
// repositories search. root anchors a relative URL.
func (r PathRepository) DiscoverPackages(root string) ([]Package, error) {
	dir := r.URL
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	maxDepth := strings.Count(filepath.Clean(dir), string(filepath.Separator)) + 3

	var manifests []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if strings.Count(filepath.Clean(osPathname), string(filepath.Separator)) > maxDepth {
					return filepath.SkipDir
				}
				if de.Name() == "vendor" || strings.HasPrefix(de.Name(), ".") && osPathname != dir {
					return filepath.SkipDir
				}
				return nil
			}
			if de.Name() == "composer.json" {
				manifests = append(manifests, osPathname)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not scan path repository %s", dir)
	}
	sort.Strings(manifests)

	var out []Package
	for _, mf := range manifests {
		m, err := ReadManifest(mf)
		if err != nil {
			return nil, err
		}
		if m.Name == "" {
			continue
		}
		ver := m.Version
		if pinned, ok := r.versionPin(m.Name); ok {
			ver = pinned
		}
		out = append(out, Package{
			Name:     m.Name,
			Version:  ver,
			Type:     m.Type,
			Require:  m.Require,
			Provide:  m.Provide,
			Replace:  m.Replace,
			Conflict: m.Conflict,
			Autoload: m.Autoload,
			Bin:      m.Bin,
			License:  m.License,
			Extra:    m.Extra,
			Dist: &Dist{
				Type: "path",
				URL:  filepath.Dir(mf),
			},
		})
	}
	return out, nil
}

func (r PathRepository) versionPin(name string) (string, bool) {
	raw, ok := r.Options["versions"]
	if !ok {
		return "", false
	}
	var pins map[string]string
	if err := json.Unmarshal(raw, &pins); err != nil {
		return "", false
	}
	v, ok := pins[name]
	return v, ok
}

// MarshalJSON renders each variant back into its composer wire form.

func (r DisabledRepository) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]bool{r.Name: false})
}

func (r ComposerRepository) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"type": "composer",
		"url":  r.URL,
	}
	if r.Canonical != nil {
		out["canonical"] = *r.Canonical
	}
	if len(r.Only) > 0 {
		out["only"] = r.Only
	}
	if len(r.Exclude) > 0 {
		out["exclude"] = r.Exclude
	}
	for k, v := range r.Options {
		out[k] = v
	}
	return json.Marshal(out)
}

func (r PathRepository) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"type": "path",
		"url":  r.URL,
	}
	for k, v := range r.Options {
		out[k] = v
	}
	return json.Marshal(out)
}

func (r VcsRepository) MarshalJSON() ([]byte, error) {
	typ := r.Kind
	if typ == "" {
		typ = "vcs"
	}
	return json.Marshal(map[string]string{
		"type": typ,
		"url":  r.URL,
	})
}

func (r PackageRepository) MarshalJSON() ([]byte, error) {
	pkgs := make([]json.RawMessage, len(r.Packages))
	for i, p := range r.Packages {
		b, err := p.MarshalJSON()
		if err != nil {
			return nil, err
		}
		pkgs[i] = b
	}
	return json.Marshal(map[string]interface{}{
		"type":    "package",
		"package": pkgs,
	})
}

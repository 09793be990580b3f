// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/cnbphp/platform/composer"
)

// ComposerEnvVar, when set, overrides the manifest file name the same way
// the package manager itself honors it. The lock file name follows the
// manifest's, with the extension swapped.
const ComposerEnvVar = "COMPOSER"

// Project is a source tree with a manifest and, once dependencies are
// locked, a lock file.
type Project struct {
	Dir          string
	ManifestPath string
	LockPath     string

	Manifest *composer.Manifest
	Lock     *composer.Lock
}

// LockMissingError means the project declares dependencies but has never
// been locked. Resolution refuses to guess: an unlocked install would
// float every dependency and produce unrepeatable builds.
type LockMissingError struct {
	ManifestPath string
	LockPath     string
}

func (e *LockMissingError) Error() string {
	return fmt.Sprintf(
		"%s declares dependencies, but %s is missing; run a lock update locally and commit the result",
		e.ManifestPath, e.LockPath,
	)
}

// ManifestName returns the effective manifest file name for a build
// environment.
func ManifestName(getenv func(string) string) string {
	if name := getenv(ComposerEnvVar); name != "" {
		return name
	}
	return "composer.json"
}

// lockNameFor swaps a manifest file name's extension for the lock's.
func lockNameFor(manifestName string) string {
	ext := filepath.Ext(manifestName)
	if ext == "" {
		return manifestName + ".lock"
	}
	return strings.TrimSuffix(manifestName, ext) + ".lock"
}

// LoadProject reads the manifest and lock of the project at dir. A
// missing manifest yields an empty one, matching the package manager's
// tolerance for bare projects. A missing lock is only an error when the
// manifest has userland requirements to lock.
func LoadProject(dir string, getenv func(string) string) (*Project, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	name := ManifestName(getenv)
	p := &Project{
		Dir:          dir,
		ManifestPath: filepath.Join(dir, name),
		LockPath:     filepath.Join(dir, lockNameFor(name)),
	}

	if _, err := os.Stat(p.ManifestPath); os.IsNotExist(err) {
		p.Manifest = emptyManifest()
		return p, nil
	}

	m, err := composer.ReadManifest(p.ManifestPath)
	if err != nil {
		return nil, err
	}
	p.Manifest = m

	if _, err := os.Stat(p.LockPath); os.IsNotExist(err) {
		if p.needsLock() {
			return nil, &LockMissingError{ManifestPath: p.ManifestPath, LockPath: p.LockPath}
		}
		return p, nil
	}

	l, err := composer.ReadLock(p.LockPath)
	if err != nil {
		return nil, err
	}
	p.Lock = l
	return p, nil
}

// needsLock reports whether the manifest requires anything beyond
// platform capabilities. Platform-only projects resolve without a lock.
func (p *Project) needsLock() bool {
	for name := range p.Manifest.AllRequires() {
		if !isPlatformOnlyRequirement(name) {
			return true
		}
	}
	return false
}

func isPlatformOnlyRequirement(name string) bool {
	return !strings.Contains(name, "/")
}

func emptyManifest() *composer.Manifest {
	m, err := composer.ParseManifest([]byte("{}"))
	if err != nil {
		panic(errors.Wrap(err, "internal error parsing empty manifest"))
	}
	return m
}

// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solver

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	shutil "github.com/termie/go-shutil"

	"github.com/cnbphp/platform/composer"
	"github.com/cnbphp/platform/sys"
)

// Workspace is the directory a solver invocation operates on. It holds
// the generated root document and receives the lock the solver writes.
type Workspace struct {
	Dir string

	// Env overrides individual environment variables for solver runs.
	Env map[string]string
}

// NewWorkspace creates dir if needed and returns a workspace rooted
// there.
func NewWorkspace(dir string) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create workspace %s", dir)
	}
	return &Workspace{Dir: dir}, nil
}

// DocumentPath is where the root document is written.
func (ws *Workspace) DocumentPath() string {
	return filepath.Join(ws.Dir, "composer.json")
}

// LockPath is where the solver writes its lock.
func (ws *Workspace) LockPath() string {
	return filepath.Join(ws.Dir, "composer.lock")
}

// WriteDocument serializes the root document into the workspace.
func (ws *Workspace) WriteDocument(doc *sys.RootDocument) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return errors.Wrap(err, "could not serialize solver document")
	}
	data = append(data, '\n')
	if err := ioutil.WriteFile(ws.DocumentPath(), data, 0644); err != nil {
		return errors.Wrapf(err, "could not write solver document to %s", ws.DocumentPath())
	}
	return nil
}

// ReadLock parses the lock the solver produced. A missing lock after a
// solve means the invocation went wrong in a way the exit code missed.
func (ws *Workspace) ReadLock() (*composer.Lock, error) {
	if _, err := os.Stat(ws.LockPath()); os.IsNotExist(err) {
		return nil, errors.Errorf("solver finished without writing %s", ws.LockPath())
	}
	return composer.ReadLock(ws.LockPath())
}

// Environ builds the full solver environment: the process environment
// with the workspace overrides applied, in sorted override order so runs
// are reproducible.
func (ws *Workspace) Environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(ws.Env))
	for k := range ws.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, ws.Env[k]))
	}
	return env
}

// StagePathRepositories copies every relative path repository of the
// document into the workspace and rewrites its URL to the staged copy, so
// the solver never depends on the original checkout staying in place.
// root anchors the relative URLs.
func (ws *Workspace) StagePathRepositories(doc *sys.RootDocument, root string) error {
	stageRoot := filepath.Join(ws.Dir, "repos")
	for i, repo := range doc.Repositories {
		pr, ok := repo.(composer.PathRepository)
		if !ok || filepath.IsAbs(pr.URL) {
			continue
		}

		src := filepath.Join(root, pr.URL)
		dst := filepath.Join(stageRoot, fmt.Sprintf("%d-%s", i, filepath.Base(pr.URL)))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return errors.Wrapf(err, "could not stage path repository %s", pr.URL)
		}
		if err := shutil.CopyTree(src, dst, nil); err != nil {
			return errors.Wrapf(err, "could not stage path repository %s", pr.URL)
		}

		staged := pr
		staged.URL = dst
		if _, err := staged.DiscoverPackages(""); err != nil {
			return errors.Wrapf(err, "staged path repository %s is not usable", pr.URL)
		}
		doc.Repositories[i] = staged
	}
	return nil
}

// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cnbphp/platform/composer"
)

// Target identifies the machine an installation plan is computed for. Two
// builds on different targets must never share a plan.
type Target struct {
	Stack  string
	Arch   string
	Distro string
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s/%s", t.Stack, t.Arch, t.Distro)
}

// HashInputs computes the digest of all inputs to a resolution run. If
// the digest matches a cached plan's, manifest, lock, repositories and
// target are all unchanged and there is no need to solve again.
func HashInputs(m *composer.Manifest, lock *composer.Lock, target Target, repositoryURLs []string) string {
	h := sha256.New()
	io.WriteString(h, NormalizedInputs(m, lock, target, repositoryURLs))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizedInputs renders the resolution inputs in a stable text form.
// The cache keeps it alongside each plan so a key mismatch can be
// explained by diffing two of these.
func NormalizedInputs(m *composer.Manifest, lock *composer.Lock, target Target, repositoryURLs []string) string {
	var b strings.Builder

	b.WriteString("target\t")
	b.WriteString(target.String())
	b.WriteByte('\n')

	// Repository URL order carries meaning, so it is preserved.
	for _, u := range repositoryURLs {
		b.WriteString("repository-url\t")
		b.WriteString(u)
		b.WriteByte('\n')
	}

	writeSorted := func(section string, m map[string]string) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(section)
			b.WriteByte('\t')
			b.WriteString(k)
			b.WriteByte('\t')
			b.WriteString(m[k])
			b.WriteByte('\n')
		}
	}

	writeSorted("require", m.Require)
	writeSorted("require-dev", m.RequireDev)
	writeSorted("platform", m.Platform)
	writeSorted("platform-dev", m.PlatformDev)
	writeSorted("provide", m.Provide)
	writeSorted("replace", m.Replace)
	writeSorted("conflict", m.Conflict)

	b.WriteString("minimum-stability\t")
	b.WriteString(m.MinimumStability.String())
	b.WriteByte('\n')
	fmt.Fprintf(&b, "prefer-stable\t%v\n", m.PreferStable)

	for i, repo := range m.Repositories {
		data, err := json.Marshal(repo)
		if err != nil {
			data = []byte(fmt.Sprintf("%#v", repo))
		}
		fmt.Fprintf(&b, "repository\t%d\t%s\n", i, data)
	}

	if lock != nil {
		b.WriteString("lock-content-hash\t")
		b.WriteString(lock.ContentHash)
		b.WriteByte('\n')
		b.WriteString("lock-plugin-api\t")
		b.WriteString(lock.PluginAPIVersion)
		b.WriteByte('\n')
		writeSorted("lock-platform", lock.Platform)
		writeSorted("lock-platform-dev", lock.PlatformDev)
	}

	return b.String()
}

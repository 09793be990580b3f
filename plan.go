// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cnbphp/platform/composer"
	"github.com/cnbphp/platform/sys"
)

// InstallationPlan is the committed outcome of a resolution run: the
// platform packages to install, in install order, plus the full solved
// lock for anything downstream that needs the complete graph.
type InstallationPlan struct {
	// Key is the input digest the plan was computed under.
	Key string `json:"key"`

	Target   Target           `json:"target"`
	Packages []PlannedPackage `json:"packages"`

	// Lock is the solver's full resolved graph.
	Lock *composer.Lock `json:"lock"`

	GeneratedAt time.Time `json:"generated_at"`
}

// PlannedPackage is one platform package selection.
type PlannedPackage struct {
	// Name is the capability name without the reserved namespace.
	Name    string `json:"name"`
	Version string `json:"version"`
	// Native marks a capability installed as the real extension rather
	// than left to a userland polyfill.
	Native bool `json:"native,omitempty"`
}

// NewPlan derives a plan from a solved lock. Only packages in the
// reserved namespace are platform installs; the installer plugin and
// userland metapackages stay out of the plan.
func NewPlan(key string, target Target, lock *composer.Lock) *InstallationPlan {
	plan := &InstallationPlan{
		Key:         key,
		Target:      target,
		Lock:        lock,
		GeneratedAt: time.Now().UTC(),
	}
	for _, p := range lock.Packages {
		if !strings.HasPrefix(p.Name, sys.Prefix) {
			continue
		}
		name := sys.StripPrefix(p.Name)
		plan.Packages = append(plan.Packages, PlannedPackage{
			Name:    strings.TrimSuffix(name, ".native"),
			Version: p.Version,
			Native:  sys.IsNativeMarker(name),
		})
	}
	return plan
}

// Encode serializes the plan for cache storage.
func (p *InstallationPlan) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode installation plan")
	}
	return data, nil
}

// DecodePlan deserializes a cached plan.
func DecodePlan(data []byte) (*InstallationPlan, error) {
	var p InstallationPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "could not decode installation plan")
	}
	return &p, nil
}

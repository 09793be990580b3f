// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package composer

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/pkg/errors"

	"github.com/cnbphp/platform/version"
)

// Lock is a parsed composer.lock. Both package lists keep their authored
// order, which the lock records as the install order.
type Lock struct {
	ContentHash string

	Packages    []Package
	PackagesDev []Package

	Platform    map[string]string
	PlatformDev map[string]string
	// PlatformOverrides echoes the platform config the lock was produced
	// under.
	PlatformOverrides map[string]string

	Aliases []Alias

	MinimumStability version.Stability
	StabilityFlags   map[string]version.Stability
	PreferStable     bool
	PreferLowest     bool

	// PluginAPIVersion is the composer plugin API the lock was written
	// by. It drives which composer release line resolution targets.
	PluginAPIVersion string
}

// Alias records one root-level version alias from the lock.
type Alias struct {
	Package         string `json:"package"`
	Version         string `json:"version"`
	Alias           string `json:"alias"`
	AliasNormalized string `json:"alias_normalized"`
}

// ReadLock parses the lock file at path.
func ReadLock(path string) (*Lock, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read lock file %s", path)
	}
	l, err := ParseLock(data)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.File = path
		}
		return nil, err
	}
	return l, nil
}

// ParseLock parses composer.lock content.
func ParseLock(data []byte) (*Lock, error) {
	var raw struct {
		ContentHash       string            `json:"content-hash"`
		Packages          []json.RawMessage `json:"packages"`
		PackagesDev       []json.RawMessage `json:"packages-dev"`
		Platform          json.RawMessage   `json:"platform"`
		PlatformDev       json.RawMessage   `json:"platform-dev"`
		PlatformOverrides json.RawMessage   `json:"platform-overrides"`
		Aliases           []Alias           `json:"aliases"`
		MinimumStability  string            `json:"minimum-stability"`
		StabilityFlags    json.RawMessage   `json:"stability-flags"`
		PreferStable      bool              `json:"prefer-stable"`
		PreferLowest      bool              `json:"prefer-lowest"`
		PluginAPIVersion  string            `json:"plugin-api-version"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Err: errors.Wrap(err, "invalid JSON")}
	}

	l := &Lock{
		ContentHash:      raw.ContentHash,
		Aliases:          raw.Aliases,
		PreferStable:     raw.PreferStable,
		PreferLowest:     raw.PreferLowest,
		PluginAPIVersion: raw.PluginAPIVersion,
		MinimumStability: version.StabilityStable,
	}

	var err error
	for i, entry := range raw.Packages {
		p, err := parsePackage(entry, fmt.Sprintf("packages[%d]", i))
		if err != nil {
			return nil, err
		}
		l.Packages = append(l.Packages, p)
	}
	for i, entry := range raw.PackagesDev {
		p, err := parsePackage(entry, fmt.Sprintf("packages-dev[%d]", i))
		if err != nil {
			return nil, err
		}
		l.PackagesDev = append(l.PackagesDev, p)
	}

	if l.Platform, err = assocStringMap(raw.Platform, "platform"); err != nil {
		return nil, err
	}
	if l.PlatformDev, err = assocStringMap(raw.PlatformDev, "platform-dev"); err != nil {
		return nil, err
	}
	if l.PlatformOverrides, err = assocStringMap(raw.PlatformOverrides, "platform-overrides"); err != nil {
		return nil, err
	}

	if raw.MinimumStability != "" {
		stab, err := version.ParseStability(raw.MinimumStability)
		if err != nil {
			return nil, &ParseError{Path: "minimum-stability", Err: err}
		}
		l.MinimumStability = stab
	}

	if l.StabilityFlags, err = parseStabilityFlags(raw.StabilityFlags); err != nil {
		return nil, err
	}

	return l, nil
}

// parseStabilityFlags decodes the numeric per-package stability flags. An
// empty set may be serialized as an empty array.
func parseStabilityFlags(raw json.RawMessage) (map[string]version.Stability, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) != 0 {
			return nil, parseErrorf("stability-flags", "sequence form must be empty")
		}
		return map[string]version.Stability{}, nil
	}
	var nums map[string]int
	if err := json.Unmarshal(raw, &nums); err != nil {
		return nil, parseErrorf("stability-flags", "expected a mapping of name to numeric flag")
	}
	out := make(map[string]version.Stability, len(nums))
	for name, flag := range nums {
		stab, err := version.StabilityFromFlag(flag)
		if err != nil {
			return nil, &ParseError{Path: "stability-flags." + name, Err: err}
		}
		out[name] = stab
	}
	return out, nil
}

// Fresh reports whether the lock still matches the manifest it was
// generated from.
func (l *Lock) Fresh(m *Manifest) bool {
	return l.ContentHash != "" && l.ContentHash == m.ContentHash()
}

// AllPlatform merges platform and platform-dev requirements. The non-dev
// set wins on collision.
func (l *Lock) AllPlatform() map[string]string {
	out := make(map[string]string, len(l.Platform)+len(l.PlatformDev))
	for k, v := range l.PlatformDev {
		out[k] = v
	}
	for k, v := range l.Platform {
		out[k] = v
	}
	return out
}

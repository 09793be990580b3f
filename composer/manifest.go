// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package composer

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/cnbphp/platform/version"
)

// Manifest is a parsed, normalized composer.json. Field shapes that
// composer accepts in several spellings are reduced to one canonical form
// on parse; downstream code never sees the variants.
type Manifest struct {
	Name    string
	Version string
	Type    string

	Require    map[string]string
	RequireDev map[string]string

	// Platform and PlatformDev pin platform package versions directly in
	// the project manifest, overriding anything detected or defaulted.
	Platform    map[string]string
	PlatformDev map[string]string

	Provide  map[string]string
	Replace  map[string]string
	Conflict map[string]string

	Repositories []Repository

	MinimumStability version.Stability
	PreferStable     bool

	Scripts     []Script
	Autoload    *Autoload
	AutoloadDev *Autoload
	Bin         []string
	License     []string

	Config map[string]json.RawMessage
	Extra  json.RawMessage

	// raw keeps the authored top-level fields for content hashing.
	raw map[string]json.RawMessage
}

// Script is one script hook with its commands in authored order.
type Script struct {
	Event    string
	Commands []string
}

// contentHashKeys are the top-level manifest fields whose authored content
// determines whether a lock file is still fresh.
var contentHashKeys = []string{
	"name", "version", "require", "require-dev", "conflict", "replace",
	"provide", "minimum-stability", "prefer-stable", "repositories", "extra",
}

// ReadManifest parses the manifest file at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read manifest %s", path)
	}
	m, err := ParseManifest(data)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.File = path
		}
		return nil, err
	}
	return m, nil
}

// ParseManifest parses composer.json content.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Err: errors.Wrap(err, "invalid JSON")}
	}

	m := &Manifest{
		MinimumStability: version.StabilityStable,
		raw:              raw,
	}

	var err error
	if m.Name, err = rawString(raw["name"], "name"); err != nil {
		return nil, err
	}
	if m.Version, err = rawString(raw["version"], "version"); err != nil {
		return nil, err
	}
	if m.Type, err = rawString(raw["type"], "type"); err != nil {
		return nil, err
	}

	if m.Require, err = assocStringMap(raw["require"], "require"); err != nil {
		return nil, err
	}
	if m.RequireDev, err = assocStringMap(raw["require-dev"], "require-dev"); err != nil {
		return nil, err
	}
	if m.Platform, err = assocStringMap(raw["platform"], "platform"); err != nil {
		return nil, err
	}
	if m.PlatformDev, err = assocStringMap(raw["platform-dev"], "platform-dev"); err != nil {
		return nil, err
	}
	if m.Provide, err = assocStringMap(raw["provide"], "provide"); err != nil {
		return nil, err
	}
	if m.Replace, err = assocStringMap(raw["replace"], "replace"); err != nil {
		return nil, err
	}
	if m.Conflict, err = assocStringMap(raw["conflict"], "conflict"); err != nil {
		return nil, err
	}

	if m.Repositories, err = parseRepositories(raw["repositories"], "repositories"); err != nil {
		return nil, err
	}

	if rawStab, ok := raw["minimum-stability"]; ok {
		s, err := rawString(rawStab, "minimum-stability")
		if err != nil {
			return nil, err
		}
		stab, err := version.ParseStability(s)
		if err != nil {
			return nil, &ParseError{Path: "minimum-stability", Err: err}
		}
		m.MinimumStability = stab
	}
	if rawPrefer, ok := raw["prefer-stable"]; ok {
		if err := json.Unmarshal(rawPrefer, &m.PreferStable); err != nil {
			return nil, parseErrorf("prefer-stable", "expected a boolean")
		}
	}

	if m.Scripts, err = parseScripts(raw["scripts"], "scripts"); err != nil {
		return nil, err
	}
	if m.Autoload, err = parseAutoload(raw["autoload"], "autoload"); err != nil {
		return nil, err
	}
	if m.AutoloadDev, err = parseAutoload(raw["autoload-dev"], "autoload-dev"); err != nil {
		return nil, err
	}
	if m.Bin, err = stringOrList(raw["bin"], "bin"); err != nil {
		return nil, err
	}
	if m.License, err = stringOrList(raw["license"], "license"); err != nil {
		return nil, err
	}

	if rawConfig, ok := raw["config"]; ok {
		if err := json.Unmarshal(rawConfig, &m.Config); err != nil {
			return nil, parseErrorf("config", "expected an object")
		}
	}
	m.Extra = raw["extra"]

	return m, nil
}

// ContentHash computes the digest a lock file records to detect manifest
// drift. It covers only the resolution-relevant top-level fields, keyed in
// sorted order, over the authored JSON content.
func (m *Manifest) ContentHash() string {
	keys := make([]string, 0, len(contentHashKeys))
	for _, k := range contentHashKeys {
		if _, ok := m.raw[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf strings.Builder
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(compactJSON(m.raw[k]))
	}
	buf.WriteByte('}')

	sum := md5.Sum([]byte(buf.String()))
	return hex.EncodeToString(sum[:])
}

// AllRequires merges require and require-dev. require wins on collision.
func (m *Manifest) AllRequires() map[string]string {
	out := make(map[string]string, len(m.Require)+len(m.RequireDev))
	for k, v := range m.RequireDev {
		out[k] = v
	}
	for k, v := range m.Require {
		out[k] = v
	}
	return out
}

func rawString(raw json.RawMessage, path string) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", parseErrorf(path, "expected a string")
	}
	return s, nil
}

func compactJSON(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// parseScripts normalizes the scripts section. Each hook's value may be a
// single command, a sequence of commands, or a mapping of command name to
// runner; the mapping form flattens to its names in authored order.
func parseScripts(raw json.RawMessage, path string) ([]Script, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	pairs, err := orderedObject(raw, path)
	if err != nil {
		return nil, err
	}
	out := make([]Script, 0, len(pairs))
	for _, kv := range pairs {
		cmds, err := scriptCommands(kv.value, path+"."+kv.key)
		if err != nil {
			return nil, err
		}
		out = append(out, Script{Event: kv.key, Commands: cmds})
	}
	return out, nil
}

func scriptCommands(raw json.RawMessage, path string) ([]string, error) {
	if isObject(raw) {
		pairs, err := orderedObject(raw, path)
		if err != nil {
			return nil, err
		}
		cmds := make([]string, 0, len(pairs))
		for _, kv := range pairs {
			cmds = append(cmds, kv.key)
		}
		return cmds, nil
	}
	return stringOrList(raw, path)
}

func isObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b == '{'
	}
	return false
}

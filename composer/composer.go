// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package composer models composer.json manifests and composer.lock files,
// including the many historically inconsistent shapes both may take, and
// normalizes them into one canonical in-memory representation.
package composer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// ParseError describes malformed or structurally unsupported input. It is
// always fatal and never retried. Path names the offending field in dotted
// form, e.g. "repositories[2].type".
type ParseError struct {
	File string
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	f := e.File
	if f == "" {
		f = "manifest"
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", f, e.Err)
	}
	return fmt.Sprintf("%s: field %q: %s", f, e.Path, e.Err)
}

func (e *ParseError) Cause() error  { return e.Err }
func (e *ParseError) Unwrap() error { return e.Err }

func parseErrorf(path, format string, args ...interface{}) error {
	return &ParseError{Path: path, Err: errors.Errorf(format, args...)}
}

// Package is one package entry, as found in a lock file's packages lists or
// inline in a package-type repository definition.
type Package struct {
	Name    string
	Version string
	Type    string

	Require    map[string]string
	RequireDev map[string]string
	Provide    map[string]string
	Replace    map[string]string
	Conflict   map[string]string

	Dist   *Dist
	Source *Source

	Autoload    *Autoload
	AutoloadDev *Autoload
	Bin         []string
	License     []string
	Time        string

	// Extra is carried through untouched; branch-alias data lives here.
	Extra json.RawMessage
}

// Dist describes a package's distribution artifact. Type "path" is valid
// and carries no VCS reference.
type Dist struct {
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Reference string   `json:"reference,omitempty"`
	Shasum    string   `json:"shasum,omitempty"`
	Mirrors   []Mirror `json:"mirrors,omitempty"`
}

// Source describes a package's VCS origin.
type Source struct {
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Reference string   `json:"reference,omitempty"`
	Mirrors   []Mirror `json:"mirrors,omitempty"`
}

// Mirror is an alternate download location for a dist or source.
type Mirror struct {
	URL       string `json:"url"`
	Preferred bool   `json:"preferred,omitempty"`
}

// Autoload holds normalized autoload configuration. psr-0 and psr-4 values
// are always sequences after parsing, regardless of the authored shape.
type Autoload struct {
	PSR0                []NamespacePaths
	PSR4                []NamespacePaths
	Classmap            []string
	Files               []string
	ExcludeFromClassmap []string
}

// NamespacePaths maps one autoload namespace prefix to its source paths.
type NamespacePaths struct {
	Namespace string
	Paths     []string
}

// MarshalJSON renders the package back into composer's wire form.
func (p Package) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"name":    p.Name,
		"version": p.Version,
	}
	if p.Type != "" {
		out["type"] = p.Type
	}
	if len(p.Require) > 0 {
		out["require"] = p.Require
	}
	if len(p.RequireDev) > 0 {
		out["require-dev"] = p.RequireDev
	}
	if len(p.Provide) > 0 {
		out["provide"] = p.Provide
	}
	if len(p.Replace) > 0 {
		out["replace"] = p.Replace
	}
	if len(p.Conflict) > 0 {
		out["conflict"] = p.Conflict
	}
	if p.Dist != nil {
		out["dist"] = p.Dist
	}
	if p.Source != nil {
		out["source"] = p.Source
	}
	if p.Autoload != nil {
		out["autoload"] = p.Autoload
	}
	if p.AutoloadDev != nil {
		out["autoload-dev"] = p.AutoloadDev
	}
	if len(p.Bin) > 0 {
		out["bin"] = p.Bin
	}
	if len(p.License) > 0 {
		out["license"] = p.License
	}
	if p.Time != "" {
		out["time"] = p.Time
	}
	if len(p.Extra) > 0 && string(p.Extra) != "null" {
		out["extra"] = p.Extra
	}
	return json.Marshal(out)
}

// MarshalJSON renders the normalized autoload sections; psr-0/psr-4 paths
// are always emitted in sequence form.
func (a Autoload) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	if len(a.PSR0) > 0 {
		out["psr-0"] = namespaceMap(a.PSR0)
	}
	if len(a.PSR4) > 0 {
		out["psr-4"] = namespaceMap(a.PSR4)
	}
	if len(a.Classmap) > 0 {
		out["classmap"] = a.Classmap
	}
	if len(a.Files) > 0 {
		out["files"] = a.Files
	}
	if len(a.ExcludeFromClassmap) > 0 {
		out["exclude-from-classmap"] = a.ExcludeFromClassmap
	}
	return json.Marshal(out)
}

func namespaceMap(pairs []NamespacePaths) map[string][]string {
	out := make(map[string][]string, len(pairs))
	for _, np := range pairs {
		out[np.Namespace] = np.Paths
	}
	return out
}

// rawPackage mirrors the JSON shape of a package entry before
// normalization.
type rawPackage struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Type        string            `json:"type"`
	Require     map[string]string `json:"require"`
	RequireDev  map[string]string `json:"require-dev"`
	Provide     map[string]string `json:"provide"`
	Replace     map[string]string `json:"replace"`
	Conflict    map[string]string `json:"conflict"`
	Dist        *Dist             `json:"dist"`
	Source      *Source           `json:"source"`
	Autoload    json.RawMessage   `json:"autoload"`
	AutoloadDev json.RawMessage   `json:"autoload-dev"`
	Bin         json.RawMessage   `json:"bin"`
	License     json.RawMessage   `json:"license"`
	Time        string            `json:"time"`
	Extra       json.RawMessage   `json:"extra"`
}

func (rp *rawPackage) normalize(path string) (Package, error) {
	p := Package{
		Name:     rp.Name,
		Version:  rp.Version,
		Type:     rp.Type,
		Require:  rp.Require,
		Provide:  rp.Provide,
		Replace:  rp.Replace,
		Conflict: rp.Conflict,
		Dist:     rp.Dist,
		Source:   rp.Source,
		Time:     rp.Time,
		Extra:    rp.Extra,
	}
	p.RequireDev = rp.RequireDev

	var err error
	if p.Bin, err = stringOrList(rp.Bin, path+".bin"); err != nil {
		return p, err
	}
	if p.License, err = stringOrList(rp.License, path+".license"); err != nil {
		return p, err
	}
	if p.Autoload, err = parseAutoload(rp.Autoload, path+".autoload"); err != nil {
		return p, err
	}
	if p.AutoloadDev, err = parseAutoload(rp.AutoloadDev, path+".autoload-dev"); err != nil {
		return p, err
	}
	return p, nil
}

func parsePackage(raw json.RawMessage, path string) (Package, error) {
	var rp rawPackage
	if err := json.Unmarshal(raw, &rp); err != nil {
		return Package{}, &ParseError{Path: path, Err: err}
	}
	if rp.Name == "" {
		return Package{}, parseErrorf(path+".name", "package entry is missing a name")
	}
	return rp.normalize(path)
}

// stringOrList normalizes a JSON value that may be a single string or a
// sequence of strings into a sequence.
func stringOrList(raw json.RawMessage, path string) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, parseErrorf(path, "expected string or sequence of strings")
	}
	return many, nil
}

// parseAutoload normalizes an autoload section. psr-0/psr-4 values may be a
// single string or a sequence; both forms become the same sequence form.
func parseAutoload(raw json.RawMessage, path string) (*Autoload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sections); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	a := &Autoload{}
	var err error
	if psr0, ok := sections["psr-0"]; ok {
		if a.PSR0, err = parseNamespaceMap(psr0, path+".psr-0"); err != nil {
			return nil, err
		}
	}
	if psr4, ok := sections["psr-4"]; ok {
		if a.PSR4, err = parseNamespaceMap(psr4, path+".psr-4"); err != nil {
			return nil, err
		}
	}
	if cm, ok := sections["classmap"]; ok {
		if err = json.Unmarshal(cm, &a.Classmap); err != nil {
			return nil, parseErrorf(path+".classmap", "expected sequence of strings")
		}
	}
	if f, ok := sections["files"]; ok {
		if err = json.Unmarshal(f, &a.Files); err != nil {
			return nil, parseErrorf(path+".files", "expected sequence of strings")
		}
	}
	if ex, ok := sections["exclude-from-classmap"]; ok {
		if err = json.Unmarshal(ex, &a.ExcludeFromClassmap); err != nil {
			return nil, parseErrorf(path+".exclude-from-classmap", "expected sequence of strings")
		}
	}
	return a, nil
}

func parseNamespaceMap(raw json.RawMessage, path string) ([]NamespacePaths, error) {
	pairs, err := orderedObject(raw, path)
	if err != nil {
		return nil, err
	}
	out := make([]NamespacePaths, 0, len(pairs))
	for _, kv := range pairs {
		paths, err := stringOrList(kv.value, path+"."+kv.key)
		if err != nil {
			return nil, err
		}
		out = append(out, NamespacePaths{Namespace: kv.key, Paths: paths})
	}
	return out, nil
}

// keyedRaw is one entry of a JSON object with its authored position
// preserved.
type keyedRaw struct {
	key   string
	value json.RawMessage
}

// orderedObject decodes a JSON object into key/value pairs in authored
// order. The stdlib map decoding loses order, which matters for
// repositories and scripts.
func orderedObject(raw json.RawMessage, path string) ([]keyedRaw, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, parseErrorf(path, "expected an object")
	}
	var out []keyedRaw
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, parseErrorf(path, "expected object key")
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, &ParseError{Path: path + "." + key, Err: err}
		}
		out = append(out, keyedRaw{key: key, value: val})
	}
	return out, nil
}

// assocStringMap decodes a mapping of string to string that, thanks to
// PHP's array/object duality, may be serialized as an empty JSON array
// when it has no entries. A non-empty array is an error.
func assocStringMap(raw json.RawMessage, path string) (map[string]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) != 0 {
			return nil, parseErrorf(path, "sequence form must be empty")
		}
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, parseErrorf(path, "expected a mapping of name to version")
	}
	return m, nil
}

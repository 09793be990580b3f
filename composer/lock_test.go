// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package composer

import (
	"testing"

	"github.com/cnbphp/platform/version"
)

const lockDoc = `{
	"content-hash": "d41d8cd98f00b204e9800998ecf8427e",
	"packages": [
		{
			"name": "monolog/monolog",
			"version": "3.5.0",
			"require": {"php": ">=8.1", "psr/log": "^2.0 || ^3.0"},
			"dist": {"type": "zip", "url": "https://example.com/monolog.zip", "reference": "abc123"}
		},
		{
			"name": "psr/log",
			"version": "3.0.0"
		}
	],
	"packages-dev": [
		{
			"name": "phpunit/phpunit",
			"version": "10.5.1",
			"require": {"php": ">=8.1", "ext-dom": "*"}
		}
	],
	"aliases": [
		{"package": "acme/widget", "version": "dev-main", "alias": "1.0.x-dev", "alias_normalized": "1.0.9999999.9999999-dev"}
	],
	"minimum-stability": "dev",
	"stability-flags": {"monolog/monolog": 20, "psr/log": 0},
	"prefer-stable": true,
	"prefer-lowest": false,
	"platform": {"php": ">=8.1"},
	"platform-dev": [],
	"platform-overrides": {"php": "8.2.11"},
	"plugin-api-version": "2.6.0"
}`

func TestParseLock(t *testing.T) {
	l, err := ParseLock([]byte(lockDoc))
	if err != nil {
		t.Fatal(err)
	}
	if l.ContentHash != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("content-hash: got %q", l.ContentHash)
	}
	if len(l.Packages) != 2 || len(l.PackagesDev) != 1 {
		t.Fatalf("packages: got %d/%d", len(l.Packages), len(l.PackagesDev))
	}
	if l.Packages[0].Name != "monolog/monolog" {
		t.Errorf("package order not kept: got %q first", l.Packages[0].Name)
	}
	if l.MinimumStability != version.StabilityDev {
		t.Errorf("minimum-stability: got %v", l.MinimumStability)
	}
	if l.StabilityFlags["monolog/monolog"] != version.StabilityDev {
		t.Errorf("stability flag 20: got %v", l.StabilityFlags["monolog/monolog"])
	}
	if l.StabilityFlags["psr/log"] != version.StabilityStable {
		t.Errorf("stability flag 0: got %v", l.StabilityFlags["psr/log"])
	}
	if !l.PreferStable || l.PreferLowest {
		t.Errorf("prefer flags: got stable=%v lowest=%v", l.PreferStable, l.PreferLowest)
	}
	if l.Platform["php"] != ">=8.1" {
		t.Errorf("platform: got %v", l.Platform)
	}
	if l.PlatformDev == nil || len(l.PlatformDev) != 0 {
		t.Errorf("platform-dev empty-array form: got %v", l.PlatformDev)
	}
	if l.PlatformOverrides["php"] != "8.2.11" {
		t.Errorf("platform-overrides: got %v", l.PlatformOverrides)
	}
	if l.PluginAPIVersion != "2.6.0" {
		t.Errorf("plugin-api-version: got %q", l.PluginAPIVersion)
	}
	if len(l.Aliases) != 1 || l.Aliases[0].Alias != "1.0.x-dev" {
		t.Errorf("aliases: got %+v", l.Aliases)
	}
}

func TestParseLockBadStabilityFlag(t *testing.T) {
	_, err := ParseLock([]byte(`{"stability-flags": {"acme/widget": 7}}`))
	if err == nil {
		t.Fatal("want error for unknown numeric flag")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("want *ParseError, got %T", err)
	}
	if pe.Path != "stability-flags.acme/widget" {
		t.Errorf("error path: got %q", pe.Path)
	}
}

func TestLockFresh(t *testing.T) {
	m, err := ParseManifest([]byte(`{"name": "acme/app", "require": {"php": "^8.1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	l := &Lock{ContentHash: m.ContentHash()}
	if !l.Fresh(m) {
		t.Error("matching hash should be fresh")
	}
	l.ContentHash = "0000"
	if l.Fresh(m) {
		t.Error("mismatched hash should be stale")
	}
	l.ContentHash = ""
	if l.Fresh(m) {
		t.Error("missing hash should be stale")
	}
}

func TestLockAllPlatform(t *testing.T) {
	l := &Lock{
		Platform:    map[string]string{"php": ">=8.1"},
		PlatformDev: map[string]string{"php": ">=8.0", "ext-xdebug": "*"},
	}
	all := l.AllPlatform()
	if all["php"] != ">=8.1" {
		t.Errorf("non-dev should win, got %q", all["php"])
	}
	if all["ext-xdebug"] != "*" {
		t.Errorf("dev-only entry missing: %v", all)
	}
}

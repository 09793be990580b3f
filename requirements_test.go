// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/cnbphp/platform/composer"
)

func hasEvent(events []Event, name, capability string) bool {
	for _, e := range events {
		if e.Name == name && e.Capability == capability {
			return true
		}
	}
	return false
}

func TestResolveExplicitRequire(t *testing.T) {
	m := &composer.Manifest{
		Require: map[string]string{
			"php":             "^8.1",
			"ext-mbstring":    "*",
			"monolog/monolog": "^2.0",
		},
	}

	var events NoticeList
	set, err := (&Resolver{Reporter: &events}).Resolve(m, nil)
	if err != nil {
		t.Fatal(err)
	}

	if set.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (userland packages are not capabilities)", set.Len())
	}
	php := set.Get("php")
	if php == nil {
		t.Fatal("missing php requirement")
	}
	if php.Provenance != ProvenanceExplicitRequire {
		t.Errorf("php provenance = %s, want explicit-require", php.Provenance)
	}
	if got := php.Constraint.String(); got != "^8.1" {
		t.Errorf("php constraint = %q, want ^8.1", got)
	}

	req := set.RequireMap()
	if req["sys/php"] != "^8.1" || req["sys/ext-mbstring"] != "*" {
		t.Errorf("RequireMap = %v", req)
	}
	if _, ok := req["sys/monolog/monolog"]; ok {
		t.Error("userland package leaked into the require map")
	}
}

func TestResolvePlatformPinWins(t *testing.T) {
	m := &composer.Manifest{
		Require:  map[string]string{"php": "^8.0"},
		Platform: map[string]string{"php": "8.1.12"},
	}

	set, err := (&Resolver{Reporter: &NoticeList{}}).Resolve(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	php := set.Get("php")
	if php.Provenance != ProvenanceExplicitPlatform {
		t.Errorf("provenance = %s, want explicit-platform", php.Provenance)
	}
	if got := php.Constraint.String(); got != "8.1.12" {
		t.Errorf("constraint = %q, want the pin", got)
	}
}

func TestResolveFromDependencies(t *testing.T) {
	m := &composer.Manifest{Require: map[string]string{"php": "^8.1"}}
	lock := &composer.Lock{
		Packages: []composer.Package{
			{
				Name:    "symfony/intl",
				Version: "v6.3.0",
				Require: map[string]string{"ext-intl": "*", "php": ">=8.1"},
			},
		},
	}

	var events NoticeList
	set, err := (&Resolver{Reporter: &events}).Resolve(m, lock)
	if err != nil {
		t.Fatal(err)
	}

	intl := set.Get("ext-intl")
	if intl == nil {
		t.Fatal("ext-intl was not inferred from the lock")
	}
	if intl.Provenance != ProvenanceFromDependencies {
		t.Errorf("provenance = %s, want from-dependencies", intl.Provenance)
	}
	if !hasEvent(events.Events, EventCapabilityFromDependencies, "ext-intl") {
		t.Errorf("missing capability-from-dependencies event, got %v", events.Events)
	}

	// php is directly required, so its dependency declarations narrow the
	// constraint but raise no from-dependencies notice.
	if hasEvent(events.Events, EventRuntimeFromDependencies, "php") {
		t.Error("unexpected runtime-from-dependencies event for a direct requirement")
	}
	php := set.Get("php")
	ok, err := php.Constraint.MatchesString("8.0.30")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Errorf("php constraint %q should exclude 8.0.30 after merging >=8.1", php.Constraint.String())
	}
}

func TestResolveRuntimeInserted(t *testing.T) {
	var events NoticeList
	set, err := (&Resolver{Reporter: &events}).Resolve(&composer.Manifest{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	php := set.Get("php")
	if php == nil {
		t.Fatal("runtime requirement was not inserted")
	}
	if got := php.Constraint.String(); got != "*" {
		t.Errorf("inserted constraint = %q, want *", got)
	}
	if !hasEvent(events.Events, EventRuntimeInserted, "php") {
		t.Errorf("missing runtime-requirement-inserted event, got %v", events.Events)
	}
}

func TestResolveRuntimeFromDependencies(t *testing.T) {
	lock := &composer.Lock{
		Packages: []composer.Package{
			{Name: "a/b", Version: "1.0.0", Require: map[string]string{"php": "^8.2"}},
		},
	}

	var events NoticeList
	set, err := (&Resolver{Reporter: &events}).Resolve(&composer.Manifest{}, lock)
	if err != nil {
		t.Fatal(err)
	}
	if got := set.Get("php").Constraint.String(); got != "^8.2" {
		t.Errorf("php constraint = %q, want ^8.2", got)
	}
	if !hasEvent(events.Events, EventRuntimeFromDependencies, "php") {
		t.Errorf("missing runtime-requirement-from-dependencies event, got %v", events.Events)
	}
}

func TestResolveDevOnlyRuntimeRejected(t *testing.T) {
	m := &composer.Manifest{RequireDev: map[string]string{"php": "^8.1"}}

	_, err := (&Resolver{Reporter: &NoticeList{}}).Resolve(m, nil)
	var devErr *DevOnlyRuntimeError
	if !errors.As(err, &devErr) {
		t.Fatalf("err = %v, want DevOnlyRuntimeError", err)
	}
}

func TestResolveDevOnlyExtensionAllowed(t *testing.T) {
	m := &composer.Manifest{
		Require:    map[string]string{"php": "^8.1"},
		RequireDev: map[string]string{"ext-xdebug": "*"},
	}

	set, err := (&Resolver{Reporter: &NoticeList{}}).Resolve(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	xdebug := set.Get("ext-xdebug")
	if xdebug == nil || !xdebug.DevOnly {
		t.Fatal("ext-xdebug should be a dev-only requirement")
	}
	if _, ok := set.RequireMap()["sys/ext-xdebug"]; ok {
		t.Error("dev-only requirement leaked into the non-dev map")
	}
	if set.RequireDevMap()["sys/ext-xdebug"] != "*" {
		t.Errorf("RequireDevMap = %v", set.RequireDevMap())
	}
}

func TestResolveScopeConflict(t *testing.T) {
	m := &composer.Manifest{
		Require:    map[string]string{"php": "^8.1"},
		RequireDev: map[string]string{"php": "^7.4"},
	}

	_, err := (&Resolver{Reporter: &NoticeList{}}).Resolve(m, nil)
	var scopeErr *ScopeConflictError
	if !errors.As(err, &scopeErr) {
		t.Fatalf("err = %v, want ScopeConflictError", err)
	}
	if scopeErr.Capability != "php" {
		t.Errorf("capability = %q, want php", scopeErr.Capability)
	}
}

func TestResolveInvalidConstraint(t *testing.T) {
	m := &composer.Manifest{Require: map[string]string{"php": ">=>8"}}
	if _, err := (&Resolver{Reporter: &NoticeList{}}).Resolve(m, nil); err == nil {
		t.Error("expected a parse error for a malformed constraint")
	}
}

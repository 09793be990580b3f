// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sys

import (
	"reflect"
	"testing"
	"time"

	"github.com/cnbphp/platform/composer"
)

func TestEnsurePrefix(t *testing.T) {
	cases := []struct{ in, want string }{
		{"php", "sys/php"},
		{"ext-mbstring", "sys/ext-mbstring"},
		{"sys/php", "sys/php"},
	}
	for _, c := range cases {
		if got := EnsurePrefix(c.in); got != c.want {
			t.Errorf("EnsurePrefix(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNativeMarker(t *testing.T) {
	if got := NativeMarker("ext-redis"); got != "sys/ext-redis.native" {
		t.Errorf("got %q", got)
	}
	if got := NativeMarker("sys/ext-redis"); got != "sys/ext-redis.native" {
		t.Errorf("prefixed input: got %q", got)
	}
}

func TestIsPlatformPackage(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"php", true},
		{"PHP", true},
		{"php-64bit", true},
		{"php-ipv6", true},
		{"php-zts", true},
		{"php-debug", true},
		{"php-cli", false},
		{"hhvm", true},
		{"ext-mbstring", true},
		{"ext-pdo_mysql", true},
		{"ext-foo.bar", true},
		{"ext-redis.native", false},
		{"lib-icu", false},
		{"lib-openssl", false},
		{"composer", true},
		{"composer-plugin-api", true},
		{"composer-runtime-api", false},
		{"monolog/monolog", false},
		{"ext-", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsPlatformPackage(c.name); got != c.want {
			t.Errorf("IsPlatformPackage(%q): got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestPlatformLinks(t *testing.T) {
	links := map[string]string{
		"php":             ">=8.1",
		"ext-mbstring":    "*",
		"lib-icu":         ">=60",
		"monolog/monolog": "^3.0",
	}
	got := PlatformLinks(links)
	want := map[string]string{
		"sys/php":          ">=8.1",
		"sys/ext-mbstring": "*",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if got := PlatformLinks(map[string]string{"monolog/monolog": "^3.0"}); got != nil {
		t.Errorf("want nil for no platform links, got %v", got)
	}
}

func TestPlatformMetapackage(t *testing.T) {
	p := composer.Package{
		Name:    "symfony/polyfill-mbstring",
		Version: "v1.28.0",
		Require: map[string]string{"php": ">=7.1", "psr/log": "^3.0"},
		Provide: map[string]string{"ext-mbstring": "*"},
	}
	meta, ok := PlatformMetapackage(p)
	if !ok {
		t.Fatal("want a metapackage")
	}
	if meta.Type != "metapackage" {
		t.Errorf("type: got %q", meta.Type)
	}
	if meta.Name != p.Name || meta.Version != p.Version {
		t.Errorf("identity: got %s %s", meta.Name, meta.Version)
	}
	if meta.Require["sys/php"] != ">=7.1" {
		t.Errorf("require: got %v", meta.Require)
	}
	if _, ok := meta.Require["psr/log"]; ok {
		t.Error("non-platform link leaked into metapackage")
	}
	if meta.Provide["sys/ext-mbstring"] != "*" {
		t.Errorf("provide: got %v", meta.Provide)
	}

	if _, ok := PlatformMetapackage(composer.Package{
		Name:    "acme/plain",
		Version: "1.0.0",
		Require: map[string]string{"monolog/monolog": "^3.0"},
	}); ok {
		t.Error("package without platform links should yield no metapackage")
	}
}

func TestStackProvide(t *testing.T) {
	now := time.Date(2024, 8, 31, 12, 0, 0, 0, time.UTC)

	name, ver, err := StackProvide("cnb-22", now)
	if err != nil {
		t.Fatal(err)
	}
	if name != "sys/cnb" {
		t.Errorf("name: got %q", name)
	}
	if ver != "22.2024.08.31" {
		t.Errorf("version: got %q", ver)
	}

	name, ver, err = StackProvide("alpine", now)
	if err != nil {
		t.Fatal(err)
	}
	if name != "sys/alpine" || ver != "1.2024.08.31" {
		t.Errorf("unversioned stack: got %q %q", name, ver)
	}

	if _, _, err := StackProvide("not-a-stack-!", now); err == nil {
		t.Error("want error for invalid stack identifier")
	}
}

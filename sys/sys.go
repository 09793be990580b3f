// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sys translates platform capabilities (runtimes, extensions,
// package manager APIs) between their composer spellings and the reserved
// namespace the external solver resolves them in.
package sys

import (
	"regexp"
	"strings"

	"github.com/cnbphp/platform/composer"
)

// Prefix is the reserved vendor namespace for synthetic platform
// packages. User packages can never collide with it because composer
// names require a vendor segment and this one is claimed.
const Prefix = "sys/"

// platformNameRe is the name filter composer itself applies to platform
// packages.
var platformNameRe = regexp.MustCompile(`^(?i:php(?:-64bit|-ipv6|-zts|-debug)?|hhvm|(?:ext|lib)-[a-z0-9](?:[_.-]?[a-z0-9]+)*|composer(?:-(?:plugin|runtime)-api)?)$`)

// EnsurePrefix namespaces a capability name. Already prefixed names pass
// through unchanged.
func EnsurePrefix(name string) string {
	return Prefix + strings.TrimPrefix(name, Prefix)
}

// StripPrefix removes the reserved namespace, if present.
func StripPrefix(name string) string {
	return strings.TrimPrefix(name, Prefix)
}

// NativeMarker names the virtual capability whose presence forces the
// native implementation of an extension to be installed even when a
// userland package provides the plain capability.
func NativeMarker(name string) string {
	return EnsurePrefix(StripPrefix(name) + ".native")
}

// IsNativeMarker reports whether name is a native-marker capability.
func IsNativeMarker(name string) bool {
	return strings.HasSuffix(name, ".native")
}

// IsPlatformPackage reports whether an unprefixed name denotes a platform
// capability the resolver handles. Native markers are internal and not
// platform packages in their own right. lib-* and composer-runtime-api
// match composer's filter but carry no installable artifact, so they are
// passed through to the solver environment untouched.
func IsPlatformPackage(name string) bool {
	if !platformNameRe.MatchString(name) {
		return false
	}
	if strings.HasPrefix(name, "ext-") && IsNativeMarker(name) {
		return false
	}
	if strings.HasPrefix(name, "lib-") {
		return false
	}
	if name == "composer-runtime-api" {
		return false
	}
	return true
}

// PlatformLinks filters a package link map (require, provide, conflict or
// replace) down to its platform capabilities, prefixed. Returns nil when
// no link qualifies.
func PlatformLinks(links map[string]string) map[string]string {
	var out map[string]string
	for name, constraint := range links {
		if !IsPlatformPackage(name) {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[EnsurePrefix(name)] = constraint
	}
	return out
}

// PlatformMetapackage mirrors a locked package as a metapackage carrying
// only its platform links. The second return is false when the package
// links to no platform capability at all.
func PlatformMetapackage(p composer.Package) (composer.Package, bool) {
	require := PlatformLinks(p.Require)
	provide := PlatformLinks(p.Provide)
	conflict := PlatformLinks(p.Conflict)
	replace := PlatformLinks(p.Replace)
	if require == nil && provide == nil && conflict == nil && replace == nil {
		return composer.Package{}, false
	}
	return composer.Package{
		Name:     p.Name,
		Version:  p.Version,
		Type:     "metapackage",
		Require:  require,
		Provide:  provide,
		Conflict: conflict,
		Replace:  replace,
	}, true
}

// HasRuntimeRequirement reports whether a require map pins the language
// runtime.
func HasRuntimeRequirement(require map[string]string) bool {
	_, ok := require[EnsurePrefix("php")]
	return ok
}

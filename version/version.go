// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package version implements parsing and evaluation of Composer version
// numbers and version constraint expressions, including stability suffixes
// and branch aliases.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// Stability describes the release maturity of a version. Order matters:
// dev is the least stable, stable the most.
type Stability int

const (
	StabilityDev Stability = iota
	StabilityAlpha
	StabilityBeta
	StabilityRC
	StabilityStable
)

func (s Stability) String() string {
	switch s {
	case StabilityDev:
		return "dev"
	case StabilityAlpha:
		return "alpha"
	case StabilityBeta:
		return "beta"
	case StabilityRC:
		return "RC"
	case StabilityStable:
		return "stable"
	}
	return fmt.Sprintf("Stability(%d)", int(s))
}

// ParseStability maps a stability name, as used in minimum-stability fields
// and @-suffixes, to a Stability. Matching is case-insensitive.
func ParseStability(s string) (Stability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev":
		return StabilityDev, nil
	case "alpha":
		return StabilityAlpha, nil
	case "beta":
		return StabilityBeta, nil
	case "rc":
		return StabilityRC, nil
	case "stable":
		return StabilityStable, nil
	}
	return StabilityStable, errors.Errorf("unknown stability %q", s)
}

// StabilityFromFlag maps Composer's numeric stability-flags encoding
// (20=dev, 15=alpha, 10=beta, 5=RC, 0=stable) to a Stability.
func StabilityFromFlag(flag int) (Stability, error) {
	switch flag {
	case 20:
		return StabilityDev, nil
	case 15:
		return StabilityAlpha, nil
	case 10:
		return StabilityBeta, nil
	case 5:
		return StabilityRC, nil
	case 0:
		return StabilityStable, nil
	}
	return StabilityStable, errors.Errorf("invalid stability flag %d", flag)
}

// Version is a parsed Composer version. Composer versions allow a fourth
// numeric segment ("1.2.3.4") beyond semver's three, and branch versions
// ("dev-main", "1.0.x-dev") which have no numeric ordering of their own.
type Version struct {
	core   *semver.Version // first three numeric segments, no prerelease
	extra  uint64          // composer's fourth segment, 0 if absent
	stab   Stability
	preNum uint64 // ordinal in the prerelease tag, e.g. 2 in "beta2"
	branch string // non-empty for branch versions
	orig   string
}

// NewVersion parses a version string. A leading "v" and build metadata are
// ignored. Branch versions are accepted; they compare equal only to
// themselves.
func NewVersion(s string) (Version, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, errors.New("empty version string")
	}

	if strings.HasPrefix(s, "dev-") {
		return Version{branch: s, stab: StabilityDev, orig: orig}, nil
	}

	if meta := strings.IndexByte(s, '+'); meta >= 0 {
		s = s[:meta]
	}
	s = strings.TrimPrefix(s, "v")

	numeric, pre := splitPrerelease(s)

	// "1.0.x-dev" style branch versions get a numeric core so that they can
	// participate in range comparisons once aliased.
	isXDev := false
	if strings.EqualFold(pre, "dev") && strings.HasSuffix(numeric, ".x") {
		numeric = strings.TrimSuffix(numeric, ".x")
		isXDev = true
	}

	parts := strings.Split(numeric, ".")
	if len(parts) > 4 {
		return Version{}, errors.Errorf("version %q has more than four segments", orig)
	}
	nums := make([]uint64, 0, 4)
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return Version{}, errors.Wrapf(err, "invalid version segment %q in %q", p, orig)
		}
		nums = append(nums, n)
	}
	for len(nums) < 3 {
		nums = append(nums, 0)
	}
	core := semver.New(nums[0], nums[1], nums[2], "", "")

	v := Version{core: core, orig: orig, stab: StabilityStable}
	if len(nums) == 4 {
		v.extra = nums[3]
	}
	if isXDev {
		// approximate the branch head as the highest version in its series
		v.core = semver.New(nums[0], nums[1], 999999, "", "")
		v.stab = StabilityDev
		v.branch = orig
		return v, nil
	}
	if pre != "" {
		stab, num, err := parsePrerelease(pre)
		if err != nil {
			return Version{}, errors.Wrapf(err, "invalid prerelease in %q", orig)
		}
		v.stab = stab
		v.preNum = num
	}
	return v, nil
}

func splitPrerelease(s string) (numeric, pre string) {
	if i := strings.IndexByte(s, '-'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// parsePrerelease classifies prerelease tags like "beta2", "RC1", "alpha",
// "dev", "patch1" into a stability plus ordinal. Composer also accepts the
// shorthands "a", "b" and "p".
func parsePrerelease(pre string) (Stability, uint64, error) {
	lower := strings.ToLower(pre)
	tag := lower
	var numPart string
	for i, r := range lower {
		if r >= '0' && r <= '9' {
			tag, numPart = lower[:i], lower[i:]
			break
		}
	}
	tag = strings.TrimSuffix(tag, ".")

	var num uint64
	if numPart != "" {
		n, err := strconv.ParseUint(strings.TrimPrefix(numPart, "."), 10, 64)
		if err != nil {
			return StabilityStable, 0, errors.Errorf("malformed prerelease %q", pre)
		}
		num = n
	}

	switch tag {
	case "dev":
		return StabilityDev, num, nil
	case "alpha", "a":
		return StabilityAlpha, num, nil
	case "beta", "b":
		return StabilityBeta, num, nil
	case "rc":
		return StabilityRC, num, nil
	case "patch", "p", "pl":
		// post-release patch levels sort as stable
		return StabilityStable, num, nil
	}
	return StabilityStable, 0, errors.Errorf("unknown prerelease tag %q", pre)
}

// Stability returns the stability implied by the version string.
func (v Version) Stability() Stability { return v.stab }

// IsBranch reports whether the version names a branch rather than a
// comparable release.
func (v Version) IsBranch() bool { return v.branch != "" }

// Branch returns the branch name for branch versions, "" otherwise.
func (v Version) Branch() string { return v.branch }

// String returns the version as originally written.
func (v Version) String() string { return v.orig }

// Compare orders two versions: numeric core first, composer's fourth
// segment next, then stability rank, then the prerelease ordinal.
// Branch versions without a numeric core compare equal to themselves only
// and sort below everything numeric.
func (v Version) Compare(o Version) int {
	if v.core == nil || o.core == nil {
		switch {
		case v.core == nil && o.core == nil:
			return strings.Compare(v.branch, o.branch)
		case v.core == nil:
			return -1
		default:
			return 1
		}
	}
	if c := v.core.Compare(o.core); c != 0 {
		return c
	}
	if v.extra != o.extra {
		if v.extra < o.extra {
			return -1
		}
		return 1
	}
	if v.stab != o.stab {
		if v.stab < o.stab {
			return -1
		}
		return 1
	}
	if v.preNum != o.preNum {
		if v.preNum < o.preNum {
			return -1
		}
		return 1
	}
	return 0
}

// Equal reports whether two versions compare as identical.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// StabilityOf is a convenience that parses s and reports its stability.
// Unparseable versions report dev, the most permissive interpretation.
func StabilityOf(s string) Stability {
	v, err := NewVersion(s)
	if err != nil {
		return StabilityDev
	}
	return v.Stability()
}

// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package version

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Constraint is a parsed Composer constraint expression: one or more
// OR-groups, each the conjunction of simple comparators, plus an optional
// stability floor ("@beta") and an optional branch alias ("dev-x as 1.0.x-dev").
type Constraint struct {
	raw         string
	groups      []rng
	stab        Stability
	hasStab     bool
	aliasSource string
}

// rng is a contiguous version range with optional point exclusions, or an
// exact branch match. A nil bound is unbounded on that side.
type rng struct {
	min, max       *Version
	incMin, incMax bool
	excl           []Version
	branch         string
	any            bool
}

// NewConstraint parses a Composer constraint string.
func NewConstraint(s string) (Constraint, error) {
	c := Constraint{raw: s, stab: StabilityStable}
	body := strings.TrimSpace(s)
	if body == "" {
		return c, errors.New("empty constraint string")
	}

	// "X as Y": comparisons run against Y; X stays the source reference.
	if i := strings.Index(body, " as "); i >= 0 {
		source := strings.TrimSpace(body[:i])
		target := strings.TrimSpace(body[i+len(" as "):])
		if source == "" || target == "" {
			return c, errors.Errorf("malformed alias in constraint %q", s)
		}
		v, err := NewVersion(target)
		if err != nil {
			return c, errors.Wrapf(err, "alias target in %q", s)
		}
		c.aliasSource = source
		c.groups = []rng{exactRange(v)}
		if v.Stability() != StabilityStable {
			c.stab, c.hasStab = v.Stability(), true
		}
		return c, nil
	}

	for _, part := range splitOrGroups(body) {
		g, stab, hasStab, err := parseGroup(part)
		if err != nil {
			return c, errors.Wrapf(err, "constraint %q", s)
		}
		if hasStab && (!c.hasStab || stab < c.stab) {
			c.stab, c.hasStab = stab, true
		}
		c.groups = append(c.groups, g)
	}
	return c, nil
}

func splitOrGroups(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "||") {
		for _, q := range strings.Split(p, "|") {
			q = strings.TrimSpace(q)
			if q != "" {
				out = append(out, q)
			}
		}
	}
	return out
}

func exactRange(v Version) rng {
	if v.IsBranch() && v.core == nil {
		return rng{branch: v.Branch()}
	}
	return rng{min: &v, max: &v, incMin: true, incMax: true}
}

// parseGroup parses one AND-conjunction like ">=1.0 <2.0" or "~1.2@beta"
// into a single folded range.
func parseGroup(s string) (rng, Stability, bool, error) {
	stab := StabilityStable
	hasStab := false

	// hyphen ranges use " - " as a token; rewrite before whitespace splitting
	if i := strings.Index(s, " - "); i >= 0 {
		lo, hi := strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+len(" - "):])
		hi, stab, hasStab = stripStability(hi, stab, &hasStab)
		g, err := hyphenRange(lo, hi)
		return g, stab, hasStab, err
	}

	g := rng{any: true}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' })
	for _, tok := range fields {
		var err error
		tok, stab, hasStab = stripStability(tok, stab, &hasStab)
		if tok == "" {
			continue
		}
		var next rng
		next, err = parseSimple(tok)
		if err != nil {
			return g, stab, hasStab, err
		}
		g, err = intersectRanges(g, next)
		if err != nil {
			return g, stab, hasStab, err
		}
	}
	if g.any && len(fields) == 0 {
		return g, stab, hasStab, errors.New("empty constraint group")
	}
	return g, stab, hasStab, nil
}

func stripStability(tok string, cur Stability, has *bool) (string, Stability, bool) {
	if i := strings.LastIndexByte(tok, '@'); i >= 0 {
		if st, err := ParseStability(tok[i+1:]); err == nil {
			tok = tok[:i]
			if !*has || st < cur {
				cur = st
			}
			*has = true
		}
	}
	return tok, cur, *has
}

// parseSimple parses a single comparator token into a range.
func parseSimple(tok string) (rng, error) {
	switch {
	case tok == "*" || tok == "x" || tok == "X":
		return rng{any: true}, nil
	case strings.HasPrefix(tok, "dev-"):
		v, err := NewVersion(tok)
		if err != nil {
			return rng{}, err
		}
		return exactRange(v), nil
	case strings.HasPrefix(tok, ">="):
		return boundRange(tok[2:], true, true)
	case strings.HasPrefix(tok, "<="):
		return boundRange(tok[2:], false, true)
	case strings.HasPrefix(tok, "!=") || strings.HasPrefix(tok, "<>"):
		v, err := NewVersion(tok[2:])
		if err != nil {
			return rng{}, err
		}
		return rng{any: true, excl: []Version{v}}, nil
	case strings.HasPrefix(tok, ">"):
		return boundRange(tok[1:], true, false)
	case strings.HasPrefix(tok, "<"):
		return boundRange(tok[1:], false, false)
	case strings.HasPrefix(tok, "=="):
		tok = tok[2:]
	case strings.HasPrefix(tok, "="):
		tok = tok[1:]
	}

	switch {
	case strings.HasPrefix(tok, "^"):
		return caretRange(tok[1:])
	case strings.HasPrefix(tok, "~"):
		return tildeRange(tok[1:])
	case strings.ContainsAny(tok, "*xX") && strings.Contains(tok, "."):
		return wildcardRange(tok)
	}

	v, err := NewVersion(tok)
	if err != nil {
		return rng{}, err
	}
	return exactRange(v), nil
}

func boundRange(s string, lower, inclusive bool) (rng, error) {
	v, err := NewVersion(s)
	if err != nil {
		return rng{}, err
	}
	// Composer floors ">=X" and "<X" bounds at X-dev, so that prereleases
	// of X fall inside (resp. outside) the range. ">X" and "<=X" keep the
	// written version as the bound.
	if lower == inclusive {
		v = devFloor(v)
	}
	if lower {
		return rng{min: &v, incMin: inclusive}, nil
	}
	return rng{max: &v, incMax: inclusive}, nil
}

// devFloor lowers a bound without an explicit prerelease to the dev
// stability rank, admitting prereleases of the same numeric core.
func devFloor(v Version) Version {
	if v.stab == StabilityStable && v.preNum == 0 {
		v.stab = StabilityDev
	}
	return v
}

// segments returns the literal numeric segments of a version token,
// ignoring any prerelease suffix.
func segments(s string) ([]uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	numeric, _ := splitPrerelease(s)
	parts := strings.Split(numeric, ".")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		if p == "*" || p == "x" || p == "X" {
			break
		}
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid version segment %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func versionFromSegments(segs []uint64) Version {
	parts := make([]string, len(segs))
	for i, n := range segs {
		parts[i] = strconv.FormatUint(n, 10)
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	v, _ := NewVersion(strings.Join(parts, "."))
	return v
}

func caretRange(s string) (rng, error) {
	lo, err := NewVersion(s)
	if err != nil {
		return rng{}, err
	}
	segs, err := segments(s)
	if err != nil || len(segs) == 0 {
		return rng{}, errors.Errorf("invalid caret constraint ^%s", s)
	}
	var hi Version
	if segs[0] == 0 && len(segs) > 1 {
		// ^0.3.2 permits only 0.3.x
		hi = versionFromSegments([]uint64{0, segs[1] + 1})
	} else {
		hi = versionFromSegments([]uint64{segs[0] + 1})
	}
	lo, hi = devFloor(lo), devFloor(hi)
	return rng{min: &lo, incMin: true, max: &hi}, nil
}

func tildeRange(s string) (rng, error) {
	lo, err := NewVersion(s)
	if err != nil {
		return rng{}, err
	}
	segs, err := segments(s)
	if err != nil || len(segs) == 0 {
		return rng{}, errors.Errorf("invalid tilde constraint ~%s", s)
	}
	// ~1.2.3 allows <1.3.0; ~1.2 allows <2.0.0: bump the next-to-last
	// literal segment.
	var hi Version
	if len(segs) == 1 {
		hi = versionFromSegments([]uint64{segs[0] + 1})
	} else {
		up := append([]uint64(nil), segs[:len(segs)-1]...)
		up[len(up)-1]++
		hi = versionFromSegments(up)
	}
	lo, hi = devFloor(lo), devFloor(hi)
	return rng{min: &lo, incMin: true, max: &hi}, nil
}

func wildcardRange(s string) (rng, error) {
	segs, err := segments(s)
	if err != nil {
		return rng{}, err
	}
	if len(segs) == 0 {
		return rng{any: true}, nil
	}
	lo := devFloor(versionFromSegments(segs))
	up := append([]uint64(nil), segs...)
	up[len(up)-1]++
	hi := devFloor(versionFromSegments(up))
	return rng{min: &lo, incMin: true, max: &hi}, nil
}

func hyphenRange(lo, hi string) (rng, error) {
	l, err := NewVersion(lo)
	if err != nil {
		return rng{}, err
	}
	hiSegs, err := segments(hi)
	if err != nil {
		return rng{}, err
	}
	// a partial upper bound widens to the next significant release:
	// "1.0 - 2.0" means >=1.0.0 <2.1.0, "1.0 - 2.1.0" means <=2.1.0
	if len(hiSegs) < 3 && len(hiSegs) > 0 {
		up := append([]uint64(nil), hiSegs...)
		up[len(up)-1]++
		h := devFloor(versionFromSegments(up))
		l = devFloor(l)
		return rng{min: &l, incMin: true, max: &h}, nil
	}
	h, err := NewVersion(hi)
	if err != nil {
		return rng{}, err
	}
	l = devFloor(l)
	return rng{min: &l, incMin: true, max: &h, incMax: true}, nil
}

// intersectRanges folds two ranges into their conjunction. An empty result
// is represented as a range whose bounds are inverted; emptiness is checked
// at match/intersect time.
func intersectRanges(a, b rng) (rng, error) {
	if a.branch != "" || b.branch != "" {
		if a.any {
			return b, nil
		}
		if b.any {
			return a, nil
		}
		if a.branch == b.branch {
			return a, nil
		}
		return rng{}, errors.New("conflicting branch comparators in one group")
	}
	out := rng{
		min: a.min, max: a.max, incMin: a.incMin, incMax: a.incMax,
		excl: append(append([]Version(nil), a.excl...), b.excl...),
	}
	if b.min != nil && (out.min == nil || b.min.Compare(*out.min) > 0 ||
		(b.min.Compare(*out.min) == 0 && !b.incMin)) {
		out.min, out.incMin = b.min, b.incMin
	}
	if b.max != nil && (out.max == nil || b.max.Compare(*out.max) < 0 ||
		(b.max.Compare(*out.max) == 0 && !b.incMax)) {
		out.max, out.incMax = b.max, b.incMax
	}
	out.any = out.min == nil && out.max == nil && len(out.excl) == 0
	return out, nil
}

func (r rng) matches(v Version) bool {
	if r.branch != "" {
		return strings.EqualFold(v.Branch(), r.branch)
	}
	if v.IsBranch() && v.core == nil {
		return r.any
	}
	for _, ex := range r.excl {
		if ex.Equal(v) {
			return false
		}
	}
	if r.min != nil {
		if c := v.Compare(*r.min); c < 0 || (c == 0 && !r.incMin) {
			return false
		}
	}
	if r.max != nil {
		if c := v.Compare(*r.max); c > 0 || (c == 0 && !r.incMax) {
			return false
		}
	}
	return true
}

// isExact reports the single version the range admits, if it is a point.
func (r rng) isExact() (Version, bool) {
	if r.branch != "" || r.min == nil || r.max == nil {
		return Version{}, false
	}
	if r.incMin && r.incMax && r.min.Compare(*r.max) == 0 {
		return *r.min, true
	}
	return Version{}, false
}

func (r rng) overlaps(o rng) bool {
	if r.branch != "" || o.branch != "" {
		if r.branch != "" && o.branch != "" {
			return strings.EqualFold(r.branch, o.branch)
		}
		// a branch only meets a numeric range when it carries a numeric
		// core (an "1.0.x-dev" style alias target)
		b, n := r, o
		if o.branch != "" {
			b, n = o, r
		}
		if bv, ok := b.isExact(); ok {
			return n.matches(bv)
		}
		return n.any
	}
	lo, incLo := r.min, r.incMin
	if o.min != nil && (lo == nil || o.min.Compare(*lo) > 0) {
		lo, incLo = o.min, o.incMin
	} else if o.min != nil && lo != nil && o.min.Compare(*lo) == 0 {
		incLo = incLo && o.incMin
	}
	hi, incHi := r.max, r.incMax
	if o.max != nil && (hi == nil || o.max.Compare(*hi) < 0) {
		hi, incHi = o.max, o.incMax
	} else if o.max != nil && hi != nil && o.max.Compare(*hi) == 0 {
		incHi = incHi && o.incMax
	}
	if lo == nil || hi == nil {
		return true
	}
	if c := lo.Compare(*hi); c > 0 {
		return false
	} else if c == 0 {
		if !(incLo && incHi) {
			return false
		}
		for _, ex := range append(r.excl, o.excl...) {
			if ex.Equal(*lo) {
				return false
			}
		}
	}
	return true
}

// Matches reports whether v satisfies the constraint. Versions less stable
// than the constraint's stability floor are rejected, except when the
// constraint pins that exact version or branch.
func (c Constraint) Matches(v Version) bool {
	floor := StabilityStable
	if c.hasStab {
		floor = c.stab
	}
	for _, g := range c.groups {
		if !g.matches(v) {
			continue
		}
		if v.Stability() >= floor {
			return true
		}
		if ev, ok := g.isExact(); ok && ev.Equal(v) {
			return true
		}
		if g.branch != "" {
			return true
		}
	}
	return false
}

// MatchesString parses s as a version and checks it against the constraint.
func (c Constraint) MatchesString(s string) (bool, error) {
	v, err := NewVersion(s)
	if err != nil {
		return false, err
	}
	return c.Matches(v), nil
}

// Intersects reports whether some version can satisfy both constraints.
// Point exclusions are only honored when they collapse a degenerate range;
// beyond that, "no satisfying version" is the only failure this reports.
func (c Constraint) Intersects(o Constraint) bool {
	for _, g := range c.groups {
		for _, h := range o.groups {
			if g.overlaps(h) {
				return true
			}
		}
	}
	return false
}

// IsAny reports whether the constraint admits every version.
func (c Constraint) IsAny() bool {
	for _, g := range c.groups {
		if g.any && len(g.excl) == 0 && g.branch == "" {
			return true
		}
	}
	return false
}

// Exact reports the single version the constraint pins, if any.
func (c Constraint) Exact() (Version, bool) {
	if len(c.groups) != 1 {
		return Version{}, false
	}
	if c.groups[0].branch != "" {
		v, err := NewVersion(c.groups[0].branch)
		if err != nil {
			return Version{}, false
		}
		return v, true
	}
	return c.groups[0].isExact()
}

// AliasSource returns the aliased source reference for "X as Y" constraints.
func (c Constraint) AliasSource() (string, bool) {
	return c.aliasSource, c.aliasSource != ""
}

// StabilityFloor returns the constraint's explicit stability flag, if set.
// An explicit flag pins this requirement's floor regardless of the global
// minimum-stability policy.
func (c Constraint) StabilityFloor() (Stability, bool) {
	return c.stab, c.hasStab
}

// String returns the constraint as originally written.
func (c Constraint) String() string { return c.raw }

// MustConstraint parses s and panics on error. For tests and constants.
func MustConstraint(s string) Constraint {
	c, err := NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// render writes the range back in constraint syntax. Bound versions keep
// their written spelling, so the output reparses to the same range.
func (r rng) render() string {
	if r.branch != "" {
		return r.branch
	}
	if v, ok := r.isExact(); ok {
		return v.String()
	}
	var parts []string
	if r.min != nil {
		op := ">="
		if !r.incMin {
			op = ">"
		}
		parts = append(parts, op+r.min.String())
	}
	if r.max != nil {
		op := "<="
		if !r.incMax {
			op = "<"
		}
		parts = append(parts, op+r.max.String())
	}
	for _, ex := range r.excl {
		parts = append(parts, "!="+ex.String())
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}

// empty reports whether no version at all can match the range.
func (r rng) empty() bool {
	if r.branch != "" || r.min == nil || r.max == nil {
		return false
	}
	if c := r.min.Compare(*r.max); c > 0 {
		return true
	} else if c == 0 {
		if !(r.incMin && r.incMax) {
			return true
		}
		for _, ex := range r.excl {
			if ex.Equal(*r.min) {
				return true
			}
		}
	}
	return false
}

// And returns the conjunction of two constraints as a new constraint,
// distributing over both operands' OR-groups. The result's string form is
// re-rendered, since constraint syntax cannot parenthesize an OR-group
// inside a conjunction. When both operands carry a stability flag the
// looser one is kept, matching how flags on one requirement opt a package
// into less stable versions.
func And(a, b Constraint) (Constraint, error) {
	out := Constraint{stab: StabilityStable}
	var groups []rng
	for _, g := range a.groups {
		for _, h := range b.groups {
			merged, err := intersectRanges(g, h)
			if err != nil || merged.empty() {
				continue
			}
			groups = append(groups, merged)
		}
	}
	if len(groups) == 0 {
		return out, errors.Errorf("constraints %q and %q have no overlap", a.raw, b.raw)
	}
	out.groups = groups

	switch {
	case a.hasStab && b.hasStab:
		out.hasStab = true
		out.stab = a.stab
		if b.stab < a.stab {
			out.stab = b.stab
		}
	case a.hasStab:
		out.hasStab, out.stab = true, a.stab
	case b.hasStab:
		out.hasStab, out.stab = true, b.stab
	}
	if a.aliasSource != "" {
		out.aliasSource = a.aliasSource
	} else {
		out.aliasSource = b.aliasSource
	}

	rendered := make([]string, len(groups))
	for i, g := range groups {
		rendered[i] = g.render()
		if out.hasStab {
			rendered[i] += "@" + out.stab.String()
		}
	}
	out.raw = strings.Join(rendered, " || ")
	return out, nil
}

// AndStrings parses each expression and folds them with And.
func AndStrings(exprs ...string) (Constraint, error) {
	if len(exprs) == 0 {
		return MustConstraint("*"), nil
	}
	acc, err := NewConstraint(exprs[0])
	if err != nil {
		return Constraint{}, err
	}
	for _, e := range exprs[1:] {
		c, err := NewConstraint(e)
		if err != nil {
			return Constraint{}, err
		}
		acc, err = And(acc, c)
		if err != nil {
			return Constraint{}, err
		}
	}
	return acc, nil
}

// Intersect reports whether all of the given constraint strings admit a
// common version, parsing each in turn.
func Intersect(exprs ...string) (bool, error) {
	if len(exprs) == 0 {
		return true, nil
	}
	cs := make([]Constraint, len(exprs))
	for i, e := range exprs {
		c, err := NewConstraint(e)
		if err != nil {
			return false, err
		}
		cs[i] = c
	}
	for i := 1; i < len(cs); i++ {
		if !cs[0].Intersects(cs[i]) {
			return false, nil
		}
		for j := 1; j < i; j++ {
			if !cs[j].Intersects(cs[i]) {
				return false, nil
			}
		}
	}
	return true, nil
}

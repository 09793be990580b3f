// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package version

import "testing"

func TestConstraintMatches(t *testing.T) {
	cases := []struct {
		constraint string
		version    string
		want       bool
	}{
		{"*", "1.0.0", true},
		{"*", "0.0.1", true},
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.2.4", false},
		{"1.2", "1.2.0", true},
		{"v1.2.3", "1.2.3", true},
		{">=8.1", "8.1.0", true},
		{">=8.1", "8.0.30", false},
		{">8.1.0", "8.1.0", false},
		{">8.1.0", "8.1.1", true},
		{"<8.0", "7.4.33", true},
		{"<8.0", "8.0.0", false},
		{"<=8.0.0", "8.0.0", true},
		{"!=1.0.1 >=1.0", "1.0.1", false},
		{"!=1.0.1 >=1.0", "1.0.2", true},
		{"^8.1", "8.1.4", true},
		{"^8.1", "8.4.0", true},
		{"^8.1", "9.0.0", false},
		{"^8.1", "8.0.0", false},
		{"^0.3.2", "0.3.9", true},
		{"^0.3.2", "0.4.0", false},
		{"~1.2.3", "1.2.9", true},
		{"~1.2.3", "1.3.0", false},
		{"~1.2", "1.9.0", true},
		{"~1.2", "2.0.0", false},
		{"1.2.*", "1.2.99", true},
		{"1.2.*", "1.3.0", false},
		{"1.*", "1.9.9", true},
		{"1.*", "2.0.0", false},
		{"1.0 - 2.0", "2.0.9", true},
		{"1.0 - 2.0", "2.1.0", false},
		{"1.0.0 - 2.1.0", "2.1.0", true},
		{">=1.0 <2.0", "1.5.0", true},
		{">=1.0 <2.0", "2.0.0", false},
		{">=1.0, <2.0", "1.5.0", true},
		{"^1.0 || ^2.0", "2.3.0", true},
		{"^1.0 || ^2.0", "3.0.0", false},
		{"dev-main", "dev-main", true},
		{"dev-main", "dev-other", false},
		// stability gates
		{"^4.2", "4.2.0-beta1", false},
		{"^4.2@beta", "4.2.0-beta1", true},
		{"^4.2@beta", "4.2.0-alpha1", false},
		{"^4.2@dev", "4.2.0-alpha1", true},
		{"4.2.0-beta2", "4.2.0-beta2", true},
		// four-segment composer versions
		{">=1.0.2.1", "1.0.2.2", true},
		{">=1.0.2.1", "1.0.2.0", false},
	}

	for _, tc := range cases {
		c, err := NewConstraint(tc.constraint)
		if err != nil {
			t.Errorf("NewConstraint(%q): unexpected error %v", tc.constraint, err)
			continue
		}
		v, err := NewVersion(tc.version)
		if err != nil {
			t.Errorf("NewVersion(%q): unexpected error %v", tc.version, err)
			continue
		}
		if got := c.Matches(v); got != tc.want {
			t.Errorf("(%q).Matches(%q) = %v, want %v", tc.constraint, tc.version, got, tc.want)
		}
	}
}

func TestConstraintIntersects(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"^8.1", ">=8.2", true},
		{"^8.1", ">=9.0", false},
		{"^7.0", "^8.0", false},
		{"*", "^8.1", true},
		{">=8.1 <8.3", "8.2.*", true},
		{">=8.1 <8.2", "8.2.*", false},
		{"^1.0 || ^3.0", "^3.1", true},
		{"^1.0 || ^3.0", "^2.0", false},
		{"dev-main", "dev-main", true},
		{"dev-main", "dev-feature", false},
		{"dev-main", "^1.0", false},
		// an aliased branch intersects through its alias target
		{"dev-bugfix as 1.0.x-dev", "1.0.*@dev", true},
		{"dev-bugfix as 1.0.x-dev", "^2.0", false},
		{"<1.0", ">=1.0", false},
		{"<=1.0", ">=1.0", true},
	}

	for _, tc := range cases {
		a := MustConstraint(tc.a)
		b := MustConstraint(tc.b)
		if got := a.Intersects(b); got != tc.want {
			t.Errorf("(%q).Intersects(%q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
		if got := b.Intersects(a); got != tc.want {
			t.Errorf("(%q).Intersects(%q) = %v, want %v", tc.b, tc.a, got, tc.want)
		}
	}
}

func TestConstraintAlias(t *testing.T) {
	c, err := NewConstraint("dev-bugfix as 1.0.x-dev")
	if err != nil {
		t.Fatal(err)
	}
	src, ok := c.AliasSource()
	if !ok || src != "dev-bugfix" {
		t.Errorf("AliasSource() = %q, %v; want %q, true", src, ok, "dev-bugfix")
	}
	// downstream comparisons run against the alias target
	ok2, err := MustConstraint("1.0.*@dev").MatchesString("1.0.x-dev")
	if err != nil {
		t.Fatal(err)
	}
	if !ok2 {
		t.Error("1.0.x-dev should satisfy 1.0.*@dev")
	}
}

func TestConstraintExact(t *testing.T) {
	cases := []struct {
		in    string
		exact string
		ok    bool
	}{
		{"8.1.27", "8.1.27", true},
		{"=8.1.27", "8.1.27", true},
		{"^8.1", "", false},
		{"*", "", false},
	}
	for _, tc := range cases {
		c := MustConstraint(tc.in)
		v, ok := c.Exact()
		if ok != tc.ok {
			t.Errorf("(%q).Exact() ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && v.String() != tc.exact {
			t.Errorf("(%q).Exact() = %q, want %q", tc.in, v.String(), tc.exact)
		}
	}
}

func TestIntersect(t *testing.T) {
	ok, err := Intersect("^8.1", ">=8.2", "<9")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected ^8.1, >=8.2, <9 to intersect")
	}

	ok, err = Intersect("^8.1", "^7.4")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected ^8.1 and ^7.4 to be disjoint")
	}
}

// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package version

import "testing"

func TestAndStrings(t *testing.T) {
	cases := []struct {
		name     string
		exprs    []string
		matches  []string
		excludes []string
	}{
		{
			name:     "caret with floor",
			exprs:    []string{"^8.1", ">=8.2"},
			matches:  []string{"8.2.0", "8.3.7"},
			excludes: []string{"8.1.9", "9.0.0"},
		},
		{
			name:     "or group keeps precedence",
			exprs:    []string{"^2.0 || ^3.0", ">=2.5"},
			matches:  []string{"2.6.0", "3.0.0", "3.9.1"},
			excludes: []string{"2.1.0", "4.0.0"},
		},
		{
			name:     "wildcard is neutral",
			exprs:    []string{"*", "~1.2.0"},
			matches:  []string{"1.2.9"},
			excludes: []string{"1.3.0"},
		},
		{
			name:     "exact pin survives",
			exprs:    []string{"8.1.12", "^8.1"},
			matches:  []string{"8.1.12"},
			excludes: []string{"8.1.11", "8.1.13"},
		},
		{
			name:     "three way",
			exprs:    []string{">=7.2", "<9", "^8.0"},
			matches:  []string{"8.0.0", "8.9.9"},
			excludes: []string{"7.4.33", "9.0.0"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			merged, err := AndStrings(tc.exprs...)
			if err != nil {
				t.Fatalf("AndStrings(%v) = %v", tc.exprs, err)
			}

			check := func(c Constraint, label string) {
				for _, v := range tc.matches {
					ok, err := c.MatchesString(v)
					if err != nil {
						t.Fatalf("%s: MatchesString(%q) = %v", label, v, err)
					}
					if !ok {
						t.Errorf("%s: %q should match %q", label, c.String(), v)
					}
				}
				for _, v := range tc.excludes {
					ok, err := c.MatchesString(v)
					if err != nil {
						t.Fatalf("%s: MatchesString(%q) = %v", label, v, err)
					}
					if ok {
						t.Errorf("%s: %q should not match %q", label, c.String(), v)
					}
				}
			}

			check(merged, "merged")

			// The rendered form must reparse to the same range.
			reparsed, err := NewConstraint(merged.String())
			if err != nil {
				t.Fatalf("rendered form %q does not parse: %v", merged.String(), err)
			}
			check(reparsed, "reparsed")
		})
	}
}

func TestAndStringsDisjoint(t *testing.T) {
	if _, err := AndStrings("^7.4", "^8.0"); err == nil {
		t.Error("expected no-overlap error for ^7.4 and ^8.0")
	}
	if _, err := AndStrings("<1.0", ">=2.0"); err == nil {
		t.Error("expected no-overlap error for <1.0 and >=2.0")
	}
	if _, err := AndStrings("1.2.3", "!=1.2.3"); err == nil {
		t.Error("expected no-overlap error for 1.2.3 and !=1.2.3")
	}
	if _, err := AndStrings(">=1.2.3 <=1.2.3", "!=1.2.3"); err == nil {
		t.Error("expected no-overlap error for a point range annulled by its exclusion")
	}
}

func TestAndStringsEmpty(t *testing.T) {
	c, err := AndStrings()
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsAny() {
		t.Errorf("AndStrings() = %q, want the any-version constraint", c.String())
	}
}

func TestAndBranches(t *testing.T) {
	a := MustConstraint("dev-main")
	b := MustConstraint("dev-main")
	merged, err := And(a, b)
	if err != nil {
		t.Fatalf("And(dev-main, dev-main) = %v", err)
	}
	if merged.String() != "dev-main" {
		t.Errorf("merged = %q, want dev-main", merged.String())
	}

	if _, err := And(MustConstraint("dev-main"), MustConstraint("dev-feature")); err == nil {
		t.Error("expected no overlap between different branches")
	}
}

// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseArgs(t *testing.T) {
	cases := []struct {
		args      []string
		cmdName   string
		printHelp bool
		exit      bool
	}{
		{[]string{"phpplat"}, "", false, true},
		{[]string{"phpplat", "help"}, "help", false, true},
		{[]string{"phpplat", "-h"}, "-h", false, true},
		{[]string{"phpplat", "resolve"}, "resolve", false, false},
		{[]string{"phpplat", "help", "resolve"}, "resolve", true, false},
		{[]string{"phpplat", "resolve", "-dev"}, "resolve", false, false},
	}
	for _, tc := range cases {
		name, printHelp, exit := parseArgs(tc.args)
		if name != tc.cmdName || printHelp != tc.printHelp || exit != tc.exit {
			t.Errorf("parseArgs(%v) = (%q, %v, %v), want (%q, %v, %v)",
				tc.args, name, printHelp, exit, tc.cmdName, tc.printHelp, tc.exit)
		}
	}
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	c := &Config{
		Args:       []string{"phpplat"},
		Stdout:     &out,
		Stderr:     &errOut,
		WorkingDir: t.TempDir(),
	}
	if code := c.Run(); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "Usage: phpplat <command>") {
		t.Errorf("usage not printed: %s", errOut.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	c := &Config{
		Args:       []string{"phpplat", "frobnicate"},
		Stdout:     &out,
		Stderr:     &errOut,
		WorkingDir: t.TempDir(),
	}
	if code := c.Run(); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "no such command") {
		t.Errorf("missing error line: %s", errOut.String())
	}
}

func TestRunVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	c := &Config{
		Args:       []string{"phpplat", "version"},
		Stdout:     &out,
		Stderr:     &errOut,
		WorkingDir: t.TempDir(),
	}
	if code := c.Run(); code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "phpplat devel") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestRunHashOnEmptyProject(t *testing.T) {
	t.Setenv("COMPOSER", "")
	t.Setenv("PLATFORM_REPOSITORIES", "")

	var out, errOut bytes.Buffer
	c := &Config{
		Args:       []string{"phpplat", "hash"},
		Stdout:     &out,
		Stderr:     &errOut,
		WorkingDir: t.TempDir(),
	}
	if code := c.Run(); code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut.String())
	}
	key := strings.TrimSpace(out.String())
	if len(key) != 64 {
		t.Errorf("key = %q, want a sha256 hex digest", key)
	}
}

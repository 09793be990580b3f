// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solver

import (
	"bufio"
	"bytes"
	"strings"
)

// progressPrefixes are the solver output lines worth surfacing. Everything
// else is lock-step chatter.
var progressPrefixes = []string{
	"- Installing ",
	"- Upgrading ",
	"- Downgrading ",
	"- Removing ",
	"- Locking ",
	"Generating autoload files",
	"Lock file operations:",
	"Package operations:",
	"Nothing to install, update or remove",
}

// FilterOutput collapses raw solver output into the progress summary
// lines. Indentation is stripped so the lines read uniformly regardless
// of the solver's nesting.
func FilterOutput(output []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		for _, prefix := range progressPrefixes {
			if strings.HasPrefix(line, prefix) {
				out = append(out, line)
				break
			}
		}
	}
	return out
}

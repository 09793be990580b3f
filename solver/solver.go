// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package solver drives the external dependency solver as a supervised
// subprocess and classifies its outcomes.
package solver

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cnbphp/platform/composer"
)

// conflictExitCode is the solver's exit status for an unsatisfiable
// dependency set.
const conflictExitCode = 2

// Request is one solver invocation.
type Request struct {
	// Dir is the workspace the solver runs in.
	Dir string
	// Env is the full environment, not additions to it.
	Env  []string
	Args []string
}

// Runner executes a solver request. The production runner shells out; the
// tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, req Request) (stdout, stderr []byte, err error)
}

// ConflictError means the requirement set has no solution. Retrying
// cannot help; the input has to change.
type ConflictError struct {
	Output string
}

func (e *ConflictError) Error() string {
	return "no set of available packages satisfies the requirements"
}

// ProcessError is any solver failure other than a conflict. Transient
// failures may be retried.
type ProcessError struct {
	Transient bool
	Output    string
	Err       error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("solver process failed: %s", e.Err)
}

func (e *ProcessError) Cause() error  { return e.Err }
func (e *ProcessError) Unwrap() error { return e.Err }

// Invoker runs the solver binary with retries for transient failures.
type Invoker struct {
	// Bin is the solver executable. Empty means "composer" from PATH.
	Bin string
	// Timeout kills an invocation showing no output activity.
	Timeout time.Duration
	Retry   Strategy
	Logger  logrus.FieldLogger

	// Runner is swappable for tests. Nil means a monitored subprocess.
	Runner Runner
}

// NewInvoker returns an Invoker with production defaults.
func NewInvoker(logger logrus.FieldLogger) *Invoker {
	return &Invoker{
		Bin:     "composer",
		Timeout: 2 * time.Minute,
		Retry:   DefaultStrategy,
		Logger:  logger,
	}
}

// Install resolves and installs the workspace document, then returns the
// lock the solver wrote.
func (inv *Invoker) Install(ctx context.Context, ws *Workspace, dev bool) (*composer.Lock, error) {
	args := []string{"install", "--no-interaction", "--no-progress"}
	if !dev {
		args = append(args, "--no-dev")
	}
	if err := inv.run(ctx, ws, args); err != nil {
		return nil, err
	}
	return ws.ReadLock()
}

// Update performs a full resolution of the workspace document, writing a
// fresh lock.
func (inv *Invoker) Update(ctx context.Context, ws *Workspace, dev bool) (*composer.Lock, error) {
	args := []string{"update", "--no-interaction", "--no-progress"}
	if !dev {
		args = append(args, "--no-dev")
	}
	if err := inv.run(ctx, ws, args); err != nil {
		return nil, err
	}
	return ws.ReadLock()
}

// Require adds one requirement to the workspace document and re-solves.
func (inv *Invoker) Require(ctx context.Context, ws *Workspace, name, constraint string) (*composer.Lock, error) {
	args := []string{"require", "--no-interaction", fmt.Sprintf("%s:%s", name, constraint)}
	if err := inv.run(ctx, ws, args); err != nil {
		return nil, err
	}
	return ws.ReadLock()
}

func (inv *Invoker) run(ctx context.Context, ws *Workspace, args []string) error {
	req := Request{
		Dir:  ws.Dir,
		Env:  ws.Environ(),
		Args: args,
	}
	what := fmt.Sprintf("%s %s", inv.bin(), strings.Join(args, " "))

	retry := inv.Retry
	if retry.Attempts == 0 {
		retry = DefaultStrategy
	}
	return retry.Do(ctx, what, func() error {
		stdout, stderr, err := inv.runner().Run(ctx, req)
		inv.logOutput(stdout, stderr)
		if err == nil {
			return nil
		}
		return inv.classify(err, stdout, stderr)
	})
}

func (inv *Invoker) classify(err error, stdout, stderr []byte) error {
	output := string(stderr)
	if output == "" {
		output = string(stdout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == conflictExitCode || hasConflictMarker(output) {
			return &ConflictError{Output: output}
		}
	}
	if hasConflictMarker(output) {
		return &ConflictError{Output: output}
	}

	return &ProcessError{
		Transient: IsTransient(err) || hasTransientMarker(output),
		Output:    output,
		Err:       err,
	}
}

// hasConflictMarker recognizes resolution failures the solver reports
// without its dedicated exit code, which older releases did.
func hasConflictMarker(output string) bool {
	for _, marker := range []string{
		"Your requirements could not be resolved to an installable set of packages",
		"could not be resolved to an installable set",
	} {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}

func (inv *Invoker) logOutput(stdout, stderr []byte) {
	log := inv.logger()
	combined := make([]byte, 0, len(stdout)+len(stderr))
	combined = append(append(combined, stdout...), stderr...)
	for _, line := range FilterOutput(combined) {
		log.Debug(line)
	}
}

func (inv *Invoker) bin() string {
	if inv.Bin == "" {
		return "composer"
	}
	return inv.Bin
}

func (inv *Invoker) runner() Runner {
	if inv.Runner != nil {
		return inv.Runner
	}
	return &execRunner{bin: inv.bin(), timeout: inv.timeout()}
}

func (inv *Invoker) timeout() time.Duration {
	if inv.Timeout == 0 {
		return 2 * time.Minute
	}
	return inv.Timeout
}

func (inv *Invoker) logger() logrus.FieldLogger {
	if inv.Logger == nil {
		return logrus.StandardLogger()
	}
	return inv.Logger
}

// execRunner runs the solver as a monitored subprocess.
type execRunner struct {
	bin     string
	timeout time.Duration
}

func (r *execRunner) Run(ctx context.Context, req Request) ([]byte, []byte, error) {
	cmd := exec.Command(r.bin, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = req.Env

	mc := newMonitoredCmd(cmd, r.timeout)
	err := mc.run(ctx)
	return mc.stdout.bytes(), mc.stderr.bytes(), err
}

// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solver

import (
	"context"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// Strategy controls retries of transient failures with capped exponential
// backoff. The zero value is not usable; use DefaultStrategy.
type Strategy struct {
	// Base is the first delay; attempt n waits Base*2^n, capped at Max.
	Base time.Duration
	Max  time.Duration
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Sleep is swappable for tests. Nil means time.Sleep.
	Sleep func(time.Duration)
}

// DefaultStrategy retries four times over roughly fifteen seconds.
var DefaultStrategy = Strategy{
	Base:     500 * time.Millisecond,
	Max:      8 * time.Second,
	Attempts: 4,
}

// Delay returns the backoff before the given retry attempt. Attempt 0 is
// the first retry.
func (s Strategy) Delay(attempt int) time.Duration {
	d := s.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= s.Max {
			return s.Max
		}
	}
	if d > s.Max {
		return s.Max
	}
	return d
}

// Do runs op until it succeeds, fails permanently, or the attempt budget
// is spent. what names the operation in the final error.
func (s Strategy) Do(ctx context.Context, what string, op func() error) error {
	sleep := s.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var last error
	for attempt := 0; attempt < s.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			sleep(s.Delay(attempt - 1))
		}

		last = op()
		if last == nil {
			return nil
		}
		if !IsTransient(last) {
			return last
		}
	}
	return errors.Wrapf(last, "%s failed after %d attempts", what, s.Attempts)
}

// IsTransient reports whether an error looks like a temporary network or
// infrastructure condition worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var procErr *ProcessError
	if errors.As(err, &procErr) {
		return procErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var timeout *timeoutError
	if errors.As(err, &timeout) {
		return true
	}

	return hasTransientMarker(err.Error())
}

// hasTransientMarker scans message text for conditions that reach us only
// as strings, like HTTP status lines relayed by the package manager.
func hasTransientMarker(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{
		"connection reset",
		"connection refused",
		"connection timed out",
		"temporary failure in name resolution",
		"unexpected eof",
		"status code 500",
		"status code 502",
		"status code 503",
		"status code 504",
		"500 internal server error",
		"502 bad gateway",
		"503 service unavailable",
		"504 gateway timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solver

import (
	"context"
	"strings"

	"github.com/armon/go-radix"
	"github.com/sirupsen/logrus"

	"github.com/cnbphp/platform/composer"
	"github.com/cnbphp/platform/sys"
)

// Reconciler upgrades userland polyfills to native implementations where
// one is available. A polyfill satisfies a capability functionally but
// slower; when the platform carries the real extension, installing it
// makes the polyfill's code path dormant.
type Reconciler struct {
	Invoker *Invoker
	Logger  logrus.FieldLogger
}

// Reconcile walks the solved lock for userland packages providing
// platform capabilities and attempts, one by one, a narrow solve that
// adds the capability's native marker. Failures are expected (the native
// extension may not exist for this platform at a matching version) and
// are swallowed; the lock keeps whichever state the last successful solve
// left behind.
func (r *Reconciler) Reconcile(ctx context.Context, ws *Workspace, lock *composer.Lock) (*composer.Lock, error) {
	log := r.logger()

	// Index the installed packages so providers can be looked up in
	// install order.
	installed := radix.New()
	for _, p := range lock.Packages {
		installed.Insert(p.Name, p)
	}

	current := lock
	for _, name := range PolyfillProviders(lock) {
		v, ok := installed.Get(name)
		if !ok {
			continue
		}
		p := v.(composer.Package)
		for provided := range p.Provide {
			capability := sys.StripPrefix(provided)
			if !sys.IsPlatformPackage(capability) {
				continue
			}
			marker := sys.NativeMarker(capability)
			log.WithFields(logrus.Fields{
				"package":    p.Name,
				"capability": capability,
			}).Debug("attempting native extension for userland polyfill")

			next, err := r.Invoker.Require(ctx, ws, marker, "*")
			if err != nil {
				log.WithFields(logrus.Fields{
					"package":    p.Name,
					"capability": capability,
				}).WithError(err).Debug("no native extension available, keeping polyfill")
				continue
			}
			current = next
		}
	}
	return current, nil
}

// PolyfillProviders returns the names of installed userland packages that
// provide at least one platform capability, in install order.
func PolyfillProviders(lock *composer.Lock) []string {
	t := radix.New()
	var order []string
	for _, p := range lock.Packages {
		if strings.HasPrefix(p.Name, sys.Prefix) {
			continue
		}
		for provided := range p.Provide {
			if sys.IsPlatformPackage(sys.StripPrefix(provided)) {
				if _, seen := t.Get(p.Name); !seen {
					t.Insert(p.Name, struct{}{})
					order = append(order, p.Name)
				}
				break
			}
		}
	}
	return order
}

func (r *Reconciler) logger() logrus.FieldLogger {
	if r.Logger == nil {
		return logrus.StandardLogger()
	}
	return r.Logger
}

// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"github.com/sirupsen/logrus"

	"github.com/cnbphp/platform/sys"
)

// Reporter receives advisory events during resolution. Events explain
// decisions the pipeline made on the user's behalf; none of them are
// errors.
type Reporter interface {
	Notice(event Event)
}

// Event is one advisory with structured context.
type Event struct {
	Name       string
	Capability string
	Constraint string
	Detail     string
}

// Event names.
const (
	// EventRuntimeInserted reports a default runtime requirement was
	// added because nothing constrains the runtime.
	EventRuntimeInserted = "runtime-requirement-inserted"
	// EventRuntimeFromDependencies reports the runtime constraint comes
	// only from transitive dependencies.
	EventRuntimeFromDependencies = "runtime-requirement-from-dependencies"
	// EventCapabilityFromDependencies reports a capability was inferred
	// from the dependency tree rather than requested directly.
	EventCapabilityFromDependencies = "capability-from-dependencies"
	// EventPluginAPIConfined reports the package manager was held to an
	// older series for plugin compatibility.
	EventPluginAPIConfined = "plugin-api-confined"
	// EventPluginAPIAssumed reports a pre-recording lock was taken to
	// mean the v1 plugin API.
	EventPluginAPIAssumed = "plugin-api-assumed"
)

// LogReporter emits events as structured log entries.
type LogReporter struct {
	Logger logrus.FieldLogger
}

func (r *LogReporter) Notice(event Event) {
	log := r.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	fields := logrus.Fields{}
	if event.Capability != "" {
		fields["capability"] = event.Capability
	}
	if event.Constraint != "" {
		fields["constraint"] = event.Constraint
	}
	if event.Detail != "" {
		fields["detail"] = event.Detail
	}
	log.WithFields(fields).Info(event.Name)
}

// NoticeList collects events, for callers that surface them after the
// fact instead of streaming them.
type NoticeList struct {
	Events []Event
}

func (l *NoticeList) Notice(event Event) {
	l.Events = append(l.Events, event)
}

// eventFromSys converts a translator notice.
func eventFromSys(n sys.Notice) Event {
	e := Event{Capability: n.Capability, Constraint: n.Constraint}
	switch n.Kind {
	case sys.NoticeRuntimeInserted:
		e.Name = EventRuntimeInserted
	case sys.NoticeRuntimeFromDependencies:
		e.Name = EventRuntimeFromDependencies
	case sys.NoticePluginAPIConfined:
		e.Name = EventPluginAPIConfined
	case sys.NoticePluginAPIAssumed:
		e.Name = EventPluginAPIAssumed
	}
	return e
}

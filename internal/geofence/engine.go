package geofence

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/geotrack/internal/hardware"
	"github.com/temoto/geotrack/internal/sampling"
	"github.com/temoto/geotrack/log2"
	"github.com/temoto/geotrack/tele"
)

type EventKind int8

const (
	Enter EventKind = EventKind(tele.TransitionEnter)
	Leave EventKind = EventKind(tele.TransitionLeave)
)

func (self EventKind) String() string {
	switch self {
	case Enter:
		return "enter"
	case Leave:
		return "leave"
	}
	return fmt.Sprintf("event(%d)", int8(self))
}

type Event struct {
	Kind     EventKind
	Geofence Definition
	Fix      hardware.Fix
}

type EventSink interface {
	GeofenceEvent(ctx context.Context, e Event)
}

type Tasker interface {
	CreateTask(ctx context.Context, spec sampling.Spec) error
	TerminateTask()
	Running() bool
}

// Engine tracks which geofence device is in and drives sampling tasks.
// Process and Lost must be called from single goroutine.
type Engine struct {
	Log    *log2.Log
	Tasker Tasker
	Sink   EventSink

	mu      sync.Mutex
	defs    []Definition
	current *Definition
	lastFix hardware.Fix
}

// SetDefinitions replaces geofence list. Current state is kept,
// next Process reclassifies.
func (self *Engine) SetDefinitions(defs []Definition) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.defs = append([]Definition(nil), defs...)
	self.Log.Infof("geofence definitions=%d", len(defs))
}

func (self *Engine) Definitions() []Definition {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]Definition(nil), self.defs...)
}

// Current returns geofence device is in.
func (self *Engine) Current() (Definition, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.current == nil {
		return Definition{}, false
	}
	return *self.current, true
}

func (self *Engine) Process(ctx context.Context, fix hardware.Fix) error {
	self.mu.Lock()
	self.lastFix = fix
	next, _ := Classify(self.defs, Point{Lat: fix.Latitude, Lon: fix.Longitude})
	var nextCopy *Definition
	if next != nil {
		d := *next
		nextCopy = &d
	}
	self.mu.Unlock()
	return self.transition(ctx, nextCopy, fix)
}

// Lost degrades to route mode when there is no position.
func (self *Engine) Lost(ctx context.Context) error {
	self.mu.Lock()
	fix := self.lastFix
	self.mu.Unlock()
	return self.transition(ctx, nil, fix)
}

func (self *Engine) transition(ctx context.Context, next *Definition, fix hardware.Fix) error {
	self.mu.Lock()
	prev := self.current
	self.current = next
	self.mu.Unlock()

	switch {
	case prev == nil && next == nil:
		return self.ensureTask(ctx, next)

	case prev != nil && next != nil && prev.ID == next.ID:
		if !prev.sameTask(next) {
			self.Log.Debugf("geofence=%d parameters changed, restart task", next.ID)
			self.Tasker.TerminateTask()
		}
		return self.ensureTask(ctx, next)
	}

	self.Log.Infof("geofence transition %s -> %s", prev, next)
	self.Tasker.TerminateTask()
	if prev != nil && prev.NotifyLeave {
		self.Sink.GeofenceEvent(ctx, Event{Kind: Leave, Geofence: *prev, Fix: fix})
	}
	if next != nil && next.NotifyEnter {
		self.Sink.GeofenceEvent(ctx, Event{Kind: Enter, Geofence: *next, Fix: fix})
	}
	return self.ensureTask(ctx, next)
}

func (self *Engine) ensureTask(ctx context.Context, d *Definition) error {
	if self.Tasker.Running() {
		return nil
	}
	spec := TaskSpec(d)
	if err := self.Tasker.CreateTask(ctx, spec); err != nil {
		return errors.Annotatef(err, "geofence start task %s", spec)
	}
	return nil
}

// TaskSpec is sampling task for geofence, route task for nil.
func TaskSpec(d *Definition) sampling.Spec {
	if d == nil {
		return sampling.Spec{Mode: sampling.ModeRoute, GeofenceID: tele.GeofenceNone}
	}
	return sampling.Spec{
		Interval:   d.Interval,
		Mode:       sampling.ModeGeofence,
		Heating:    d.Heating,
		GeofenceID: d.ID,
	}
}

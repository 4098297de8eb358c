// Package sampling runs at most one periodic task which builds telemetry
// record each tick and appends it to queue.
package sampling

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/geotrack/log2"
)

var ErrTaskActive = errors.New("sampling task already active")

type Mode uint8

const (
	ModeRoute Mode = iota
	ModeGeofence
)

func (self Mode) String() string {
	switch self {
	case ModeRoute:
		return "route"
	case ModeGeofence:
		return "geofence"
	}
	return fmt.Sprintf("mode(%d)", uint8(self))
}

// Spec is immutable task context, copied into task goroutine.
type Spec struct {
	Interval   time.Duration // 0 = DefaultInterval()
	Mode       Mode
	Heating    bool
	GeofenceID int
}

func (self Spec) String() string {
	return fmt.Sprintf("mode=%s geofence=%d interval=%s heating=%t",
		self.Mode, self.GeofenceID, self.Interval, self.Heating)
}

type Appender interface {
	Append(line []byte) bool
}

type Scheduler struct {
	Log             *log2.Log
	Builder         *Builder
	Queue           Appender
	DefaultInterval func() time.Duration

	mu      sync.Mutex
	current *task
}

type task struct {
	alive     *alive.Alive
	spec      Spec
	defaulted bool // interval came from DefaultInterval
	ticks     uint32
}

// CreateTask starts periodic sampling. Fails with ErrTaskActive if any task runs.
func (self *Scheduler) CreateTask(ctx context.Context, spec Spec) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.current != nil {
		err := errors.Annotatef(ErrTaskActive, "running=(%s) requested=(%s)", self.current.spec, spec)
		self.Log.Error(err)
		return err
	}
	defaulted := false
	if spec.Interval == 0 && self.DefaultInterval != nil {
		spec.Interval = self.DefaultInterval()
		defaulted = true
	}
	if spec.Interval <= 0 {
		return errors.NotValidf("sampling interval=%s", spec.Interval)
	}

	t := &task{alive: alive.NewAlive(), spec: spec, defaulted: defaulted}
	t.alive.Add(1)
	self.current = t
	self.Log.Debugf("sampling start %s", spec)
	go self.run(ctx, t)
	return nil
}

// TerminateTask returns after task goroutine exited. No-op when idle.
func (self *Scheduler) TerminateTask() {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.terminate()
}

// RefreshInterval terminates task running on DefaultInterval after the default changed.
// Returns true when task was stopped, caller starts new one.
func (self *Scheduler) RefreshInterval() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	t := self.current
	if t == nil || !t.defaulted || self.DefaultInterval == nil {
		return false
	}
	d := self.DefaultInterval()
	if d == t.spec.Interval {
		return false
	}
	self.Log.Debugf("sampling interval %s -> %s", t.spec.Interval, d)
	self.terminate()
	return true
}

func (self *Scheduler) terminate() {
	t := self.current
	if t == nil {
		return
	}
	t.alive.Stop()
	t.alive.Wait()
	self.current = nil
	self.Log.Debugf("sampling stop %s ticks=%d", t.spec, atomic.LoadUint32(&t.ticks))
}

func (self *Scheduler) Running() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.current != nil
}

// Current returns active task spec.
func (self *Scheduler) Current() (Spec, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.current == nil {
		return Spec{}, false
	}
	return self.current.spec, true
}

func (self *Scheduler) run(ctx context.Context, t *task) {
	defer t.alive.Done()
	tmr := time.NewTicker(t.spec.Interval)
	defer tmr.Stop()
	stopch := t.alive.StopChan()
	for {
		select {
		case <-tmr.C:
			if !t.alive.IsRunning() {
				return
			}
			atomic.AddUint32(&t.ticks, 1)
			self.Tick(ctx, t.spec)
		case <-stopch:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick builds one record and appends it to queue.
// Append failure is logged, task keeps running.
func (self *Scheduler) Tick(ctx context.Context, spec Spec) {
	r := self.Builder.Build(ctx, spec, 0)
	b, err := r.Marshal()
	if err != nil {
		self.Log.Error(errors.Annotate(err, "sampling tick"))
		return
	}
	if !self.Queue.Append(b) {
		self.Log.Errorf("sampling tick %s queue append failed", spec)
	}
}

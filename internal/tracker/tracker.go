// Package tracker is main control task: boot handshake with hub,
// GNSS cadence feeding geofence engine, connect cadence draining telemetry.
package tracker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/geotrack/helpers"
	"github.com/temoto/geotrack/internal/control"
	"github.com/temoto/geotrack/internal/geofence"
	"github.com/temoto/geotrack/internal/hardware"
	"github.com/temoto/geotrack/internal/journal"
	"github.com/temoto/geotrack/internal/queue"
	"github.com/temoto/geotrack/internal/sampling"
	"github.com/temoto/geotrack/internal/session"
	"github.com/temoto/geotrack/internal/state"
	"github.com/temoto/geotrack/log2"
)

var ErrNoFix = hardware.ErrNoFix

const DefaultFixTimeout = 30 * time.Second

type Sessioner interface {
	Receive(ctx context.Context, window time.Duration) ([]byte, error)
	SendOne(ctx context.Context, payload []byte, window time.Duration) error
	SendAll(ctx context.Context, q session.Dumper, window time.Duration) (int, error)
	Inbound() [][]byte
}

type Tracker struct {
	Log       *log2.Log
	Journal   *journal.Journal
	Clock     hardware.Clock
	Locator   hardware.Locator
	Fixes     *sampling.LastFix
	Builder   *sampling.Builder
	Scheduler *sampling.Scheduler
	Engine    *geofence.Engine
	Queue     *queue.Queue
	Session   Sessioner
	Control   *control.Channel
	Tunables  *control.Tunables
	Version   string

	FixAttempts int
	FixTimeout  time.Duration
	Window      time.Duration
	BootRetry   helpers.Backoff

	mu          sync.Mutex
	lastConnect time.Time
}

func New(g *state.Global) (*Tracker, error) {
	sc, err := g.SessionConfig()
	if err != nil {
		return nil, errors.Annotate(err, "tracker")
	}
	newLink, err := g.LinkFactory()
	if err != nil {
		return nil, errors.Annotate(err, "tracker")
	}
	q, err := queue.Open(g.QueuePath(), g.Log)
	if err != nil {
		return nil, errors.Annotate(err, "tracker")
	}

	hw := &g.Hardware
	tunables := control.NewTunables()
	self := &Tracker{
		Log:         g.Log,
		Journal:     g.Journal,
		Clock:       hw.Clock,
		Locator:     hw.Locator,
		Fixes:       &sampling.LastFix{},
		Queue:       q,
		Tunables:    tunables,
		FixAttempts: g.Config.Hub.FixAttempts,
		FixTimeout:  DefaultFixTimeout,
		Window:      g.SessionTimeout(),
		BootRetry: helpers.Backoff{
			Min: g.BootReceiveInterval(),
			Max: 10 * g.BootReceiveInterval(),
			K:   2,
			Res: time.Second,
		},
	}
	self.Builder = &sampling.Builder{
		Log:      g.Log,
		DeviceID: g.Config.DeviceID,
		Network:  g.Config.Hardware.Modem.Network,
		Fixes:    self.Fixes,
		Clock:    hw.Clock,
		Prober:   hw.Prober,
		Modem:    hw.Modem,
		Battery:  hw.Battery,
		Display:  hw.Display,
	}
	self.Scheduler = &sampling.Scheduler{
		Log:             g.Log,
		Builder:         self.Builder,
		Queue:           q,
		DefaultInterval: tunables.GnssPeriod,
	}
	self.Engine = &geofence.Engine{Log: g.Log, Tasker: self.Scheduler, Sink: self}
	self.Session = &session.Manager{
		Log:     g.Log,
		Config:  sc,
		Modem:   hw.Modem,
		Clock:   hw.Clock,
		NewLink: newLink,
	}
	statusInterval := time.Duration(g.Config.Hub.StatusIntervalSec) * time.Second
	self.Control = control.NewChannel(g.Log, tunables, self.Engine, g.Config.Persist.Root, statusInterval)
	return self, nil
}

// Run returns after a is stopped or ctx is done.
func (self *Tracker) Run(ctx context.Context, a *alive.Alive) error {
	defer self.Stop()
	self.Journal.Start(self.Version)
	stopch := a.StopChan()
	if !self.Boot(ctx, stopch) {
		return nil
	}
	for {
		self.Cycle(ctx)
		select {
		case <-time.After(self.Tunables.GnssPeriod()):
		case <-stopch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Boot applies persisted configuration or waits for first CONFIG from hub.
// Returns false when stopped before configuration arrived.
func (self *Tracker) Boot(ctx context.Context, stopch <-chan struct{}) bool {
	restored, err := self.Control.Restore()
	if err != nil {
		self.Log.Error(errors.Annotate(err, "boot"))
	}
	if restored {
		self.connected()
		return true
	}
	self.Log.Infof("boot: waiting for configuration")
	for !self.Tunables.Configured() {
		payload, err := self.Session.Receive(ctx, self.Window)
		switch {
		case err == nil:
			self.handleInbound(ctx, payload)
			self.drainInbound(ctx)
		case errors.Cause(err) == session.ErrNoMessage:
		default:
			self.Journal.ConnectionError(err)
		}
		if self.Tunables.Configured() {
			break
		}
		delay := self.BootRetry.DelayAfter(err == nil || errors.Cause(err) == session.ErrNoMessage)
		self.Log.Debugf("boot: next receive in %s", delay)
		select {
		case <-time.After(delay):
		case <-stopch:
			return false
		case <-ctx.Done():
			return false
		}
	}
	self.connected()
	self.Log.Infof("boot: configured")
	return true
}

// Cycle is one GNSS period of main loop.
func (self *Tracker) Cycle(ctx context.Context) {
	// GNSS_PERIOD may have changed since task start
	self.Scheduler.RefreshInterval()

	fix, fixErr := self.locate(ctx)
	if fixErr == nil {
		self.Fixes.Set(fix)
		self.Journal.Location(fix)
		if err := self.Engine.Process(ctx, fix); err != nil {
			self.Log.Error(err)
		}
	} else {
		self.Log.Error(fixErr)
		self.Journal.LocationError(fixErr)
		if err := self.Engine.Lost(ctx); err != nil {
			self.Log.Error(err)
		}
	}

	if !self.connectDue() {
		return
	}
	// leftovers of out of band sessions are older than anything received now
	self.drainInbound(ctx)
	if fixErr == nil {
		n, err := self.Session.SendAll(ctx, self.Queue, self.Window)
		if err != nil {
			self.Journal.ConnectionError(err)
		} else {
			self.connected()
			self.Log.Infof("sent records=%d", n)
		}
	} else {
		payload, err := self.Session.Receive(ctx, self.Window)
		switch {
		case err == nil:
			self.connected()
			self.handleInbound(ctx, payload)
		case errors.Cause(err) == session.ErrNoMessage:
			self.connected()
		default:
			self.Journal.ConnectionError(err)
		}
	}
	self.drainInbound(ctx)
}

func (self *Tracker) LastConnect() time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.lastConnect
}

// connectDue is true until connection succeeds once per CONNECT_PERIOD.
// Failed attempt is retried next cycle.
func (self *Tracker) connectDue() bool {
	now := self.Clock.Now()
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.lastConnect.IsZero() || now.Sub(self.lastConnect) >= self.Tunables.ConnectPeriod()
}

func (self *Tracker) connected() {
	now := self.Clock.Now()
	self.mu.Lock()
	self.lastConnect = now
	self.mu.Unlock()
}

func (self *Tracker) locate(ctx context.Context) (hardware.Fix, error) {
	attempts := self.FixAttempts
	if attempts <= 0 {
		attempts = 1
	}
	timeout := self.FixTimeout
	if timeout == 0 {
		timeout = DefaultFixTimeout
	}
	var err error
	for i := 1; i <= attempts; i++ {
		fctx, cancel := context.WithTimeout(ctx, timeout)
		var fix hardware.Fix
		fix, err = self.Locator.Fix(fctx)
		cancel()
		if err == nil {
			return fix, nil
		}
		self.Log.Debugf("fix attempt=%d err=%v", i, err)
		if ctx.Err() != nil {
			break
		}
	}
	return hardware.Fix{}, errors.Annotatef(errors.Wrap(err, ErrNoFix), "location attempts=%d err=%v", attempts, err)
}

func (self *Tracker) drainInbound(ctx context.Context) {
	for _, payload := range self.Session.Inbound() {
		self.handleInbound(ctx, payload)
	}
}

func (self *Tracker) handleInbound(ctx context.Context, payload []byte) {
	r, err := self.Control.Apply(payload)
	if err != nil {
		return
	}
	if r.StatusRequested {
		self.SendStatus(ctx)
	}
}

// SendStatus publishes current record out of band. On failure record is queued.
func (self *Tracker) SendStatus(ctx context.Context) {
	spec, ok := self.Scheduler.Current()
	if !ok {
		d, in := self.Engine.Current()
		if in {
			spec = geofence.TaskSpec(&d)
		} else {
			spec = geofence.TaskSpec(nil)
		}
	}
	b, err := self.Builder.Build(ctx, spec, 0).Marshal()
	if err != nil {
		self.Log.Error(errors.Annotate(err, "status"))
		return
	}
	if err := self.Session.SendOne(ctx, b, self.Window); err != nil {
		self.Journal.ConnectionError(err)
		if !self.Queue.Append(b) {
			self.Log.Errorf("status queue append failed")
		}
	}
}

// GeofenceEvent turns transition into queued record.
func (self *Tracker) GeofenceEvent(ctx context.Context, e geofence.Event) {
	d := e.Geofence
	b, err := self.Builder.Build(ctx, geofence.TaskSpec(&d), int8(e.Kind)).Marshal()
	if err != nil {
		self.Log.Error(errors.Annotate(err, "geofence event"))
		return
	}
	self.Journal.Event(strings.ToUpper(e.Kind.String()), d.ID, e.Fix.Latitude, e.Fix.Longitude)
	if !self.Queue.Append(b) {
		self.Log.Errorf("geofence=%d %s queue append failed", d.ID, e.Kind)
	}
}

func (self *Tracker) Stop() {
	self.Scheduler.TerminateTask()
	if err := self.Queue.Close(); err != nil {
		self.Log.Error(errors.Annotate(err, "queue close"))
	}
}

package sampling

import (
	"context"
	"math"
	"sync"

	"github.com/temoto/geotrack/internal/hardware"
	"github.com/temoto/geotrack/log2"
	"github.com/temoto/geotrack/tele"
)

// LastFix keeps most recent GNSS position.
type LastFix struct {
	mu  sync.Mutex
	fix hardware.Fix
	ok  bool
}

func (self *LastFix) Set(fix hardware.Fix) {
	self.mu.Lock()
	self.fix, self.ok = fix, true
	self.mu.Unlock()
}

func (self *LastFix) Get() (hardware.Fix, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.fix, self.ok
}

// Builder assembles telemetry records for sampling ticks and geofence events.
type Builder struct {
	Log      *log2.Log
	DeviceID string
	Network  string // used when modem does not report operator
	Fixes    *LastFix
	Clock    hardware.Clock
	Prober   hardware.Prober
	Modem    hardware.Modem
	Battery  hardware.Battery
	Display  hardware.Display
}

func (self *Builder) Build(ctx context.Context, spec Spec, transition int8) *tele.Record {
	r := &tele.Record{
		Timestamp:   tele.FormatTime(self.Clock.Now()),
		Device:      self.DeviceID,
		GeofenceNum: spec.GeofenceID,
		Transition:  transition,
		Network:     self.Network,
	}
	if spec.Mode == ModeRoute {
		r.EnRoute = 1
		r.GeofenceNum = tele.GeofenceNone
	}
	if self.Fixes != nil {
		if fix, ok := self.Fixes.Get(); ok {
			r.Latitude, r.Longitude = fix.Latitude, fix.Longitude
		}
	}

	r.ContainerTemp = self.temp(ctx, hardware.ProbeContainer)
	r.AmbientTemp = self.temp(ctx, hardware.ProbeAmbient)
	if spec.Heating {
		r.HeaterTemp = self.temp(ctx, hardware.ProbeHeater)
	} else {
		r.HeaterTemp = tele.Temp(tele.HeaterDisabled)
	}

	if self.Modem != nil {
		if v, err := self.Modem.SignalStrength(ctx); err != nil {
			self.Log.Debugf("record signal strength err=%v", err)
		} else {
			r.SignalStrength = v
		}
		if op, err := self.Modem.Operator(ctx); err == nil && op != "" {
			r.Network = op
		}
	}
	if self.Battery != nil {
		if v, err := self.Battery.Voltage(); err != nil {
			self.Log.Debugf("record battery err=%v", err)
		} else {
			r.BatteryVoltage = v
		}
	}
	if self.Display != nil && r.ContainerTemp.Valid() {
		if err := self.Display.ShowTemperature(float64(r.ContainerTemp)); err != nil {
			self.Log.Debugf("display err=%v", err)
		}
	}
	return r
}

// Probe failure degrades only this field.
func (self *Builder) temp(ctx context.Context, role hardware.ProbeRole) tele.Temp {
	if self.Prober == nil {
		return tele.Temp(math.NaN())
	}
	v, err := self.Prober.Temperature(ctx, role)
	if err != nil {
		self.Log.Errorf("probe=%s err=%v", role, err)
		return tele.Temp(math.NaN())
	}
	return tele.Temp(v)
}

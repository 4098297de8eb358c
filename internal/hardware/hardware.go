// Package hardware declares device collaborators used by tracker core
// and provides adapters for the ones Linux board can drive directly.
package hardware

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
)

var (
	ErrNoFix        = errors.New("no location fix")
	ErrNotSupported = errors.New("not supported")
)

// Fix is one GNSS position. Time is UTC.
type Fix struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	Time      time.Time
}

func (self Fix) String() string {
	return fmt.Sprintf("lat=%.6f lon=%.6f alt=%.1f time=%s",
		self.Latitude, self.Longitude, self.Altitude, self.Time.UTC().Format(time.RFC3339))
}

type Locator interface {
	Fix(ctx context.Context) (Fix, error)
}

type ProbeRole uint8

const (
	ProbeContainer ProbeRole = iota
	ProbeAmbient
	ProbeHeater
)

func (self ProbeRole) String() string {
	switch self {
	case ProbeContainer:
		return "container"
	case ProbeAmbient:
		return "ambient"
	case ProbeHeater:
		return "heater"
	}
	return fmt.Sprintf("probe(%d)", uint8(self))
}

// Prober reads temperature in Celsius.
type Prober interface {
	Temperature(ctx context.Context, role ProbeRole) (float64, error)
}

// Modem is cellular link. Calls are blocking, ctx bounds them.
type Modem interface {
	PowerOn(ctx context.Context) error
	ActivatePDP(ctx context.Context) error
	NetworkTime(ctx context.Context) (time.Time, error)
	SignalStrength(ctx context.Context) (int, error)
	Operator(ctx context.Context) (string, error)
	PowerOff(ctx context.Context) error
}

type Clock interface {
	Now() time.Time
}

type Battery interface {
	Voltage() (float64, error)
}

type Display interface {
	ShowTemperature(celsius float64) error
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedBattery reports constant voltage for boards without ADC.
type FixedBattery float64

func (self FixedBattery) Voltage() (float64, error) { return float64(self), nil }

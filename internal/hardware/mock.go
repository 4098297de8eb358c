package hardware

import (
	"context"
	"sync"
	"time"
)

// Mock collaborators for tests and console development loop.

type MockLocator struct {
	mu    sync.Mutex
	fix   Fix
	err   error
	Calls int
}

func (self *MockLocator) Set(fix Fix, err error) {
	self.mu.Lock()
	self.fix, self.err = fix, err
	self.mu.Unlock()
}

func (self *MockLocator) Fix(ctx context.Context) (Fix, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Calls++
	if self.err != nil {
		return Fix{}, self.err
	}
	if self.fix.Time.IsZero() {
		return Fix{}, ErrNoFix
	}
	return self.fix, nil
}

type MockProber struct {
	mu     sync.Mutex
	values map[ProbeRole]float64
	errs   map[ProbeRole]error
}

func NewMockProber(container, ambient, heater float64) *MockProber {
	return &MockProber{
		values: map[ProbeRole]float64{
			ProbeContainer: container,
			ProbeAmbient:   ambient,
			ProbeHeater:    heater,
		},
		errs: make(map[ProbeRole]error),
	}
}

func (self *MockProber) Set(role ProbeRole, value float64, err error) {
	self.mu.Lock()
	self.values[role] = value
	self.errs[role] = err
	self.mu.Unlock()
}

func (self *MockProber) Temperature(ctx context.Context, role ProbeRole) (float64, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.errs[role]; err != nil {
		return 0, err
	}
	return self.values[role], nil
}

type MockModem struct {
	mu sync.Mutex

	PowerOnErr error
	PDPErr     error
	TimeErr    error
	Time       time.Time
	Signal     int
	Network    string

	powered   bool
	PowerOns  int
	PowerOffs int
}

func (self *MockModem) PowerOn(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.PowerOns++
	if self.PowerOnErr != nil {
		return self.PowerOnErr
	}
	self.powered = true
	return nil
}

func (self *MockModem) ActivatePDP(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.PDPErr
}

func (self *MockModem) NetworkTime(ctx context.Context) (time.Time, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.TimeErr != nil {
		return time.Time{}, self.TimeErr
	}
	if self.Time.IsZero() {
		return time.Time{}, ErrNotSupported
	}
	return self.Time, nil
}

func (self *MockModem) SignalStrength(ctx context.Context) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.Signal, nil
}

func (self *MockModem) Operator(ctx context.Context) (string, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.Network, nil
}

func (self *MockModem) PowerOff(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.PowerOffs++
	self.powered = false
	return nil
}

func (self *MockModem) Powered() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.powered
}

func (self *MockModem) Counts() (on, off int) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.PowerOns, self.PowerOffs
}

type MockClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewMockClock(t time.Time) *MockClock { return &MockClock{t: t} }

func (self *MockClock) Now() time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.t
}

func (self *MockClock) Add(d time.Duration) {
	self.mu.Lock()
	self.t = self.t.Add(d)
	self.mu.Unlock()
}

type MockDisplay struct {
	mu   sync.Mutex
	last float64
}

func (self *MockDisplay) ShowTemperature(celsius float64) error {
	self.mu.Lock()
	self.last = celsius
	self.mu.Unlock()
	return nil
}

func (self *MockDisplay) Last() float64 {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.last
}

package control

import (
	"fmt"
	"sync"
	"time"
)

const (
	GnssPeriodMin     = 10
	GnssPeriodMax     = 3600
	GnssPeriodDefault = 300

	ConnectPeriodMin     = 360
	ConnectPeriodMax     = 86400
	ConnectPeriodDefault = 3600
)

// ValidationError is one rejected CONFIG field. Other fields of the same message still apply.
type ValidationError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (self *ValidationError) Error() string {
	return fmt.Sprintf("%s=%d out of range %d-%d, previous value kept", self.Field, self.Value, self.Min, self.Max)
}

func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// Tunables are periods in seconds, read by tracker loop and written by Channel.
// Lock is held only for the read/write itself.
type Tunables struct {
	mu         sync.RWMutex
	gnss       int
	connect    int
	configured bool
}

func NewTunables() *Tunables {
	return &Tunables{gnss: GnssPeriodDefault, connect: ConnectPeriodDefault}
}

func (self *Tunables) GnssPeriod() time.Duration {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return time.Duration(self.gnss) * time.Second
}

func (self *Tunables) ConnectPeriod() time.Duration {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return time.Duration(self.connect) * time.Second
}

// Configured is true after first applied CONFIG, received or restored.
func (self *Tunables) Configured() bool {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.configured
}

func (self *Tunables) Snapshot() (gnss, connect int) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.gnss, self.connect
}

func (self *Tunables) SetGnssPeriod(v int) error {
	if v < GnssPeriodMin || v > GnssPeriodMax {
		return &ValidationError{Field: "GNSS_PERIOD", Value: v, Min: GnssPeriodMin, Max: GnssPeriodMax}
	}
	self.mu.Lock()
	self.gnss = v
	self.mu.Unlock()
	return nil
}

func (self *Tunables) SetConnectPeriod(v int) error {
	if v < ConnectPeriodMin || v > ConnectPeriodMax {
		return &ValidationError{Field: "CONNECT_PERIOD", Value: v, Min: ConnectPeriodMin, Max: ConnectPeriodMax}
	}
	self.mu.Lock()
	self.connect = v
	self.mu.Unlock()
	return nil
}

func (self *Tunables) markConfigured() {
	self.mu.Lock()
	self.configured = true
	self.mu.Unlock()
}

// Package journal keeps device history on local storage:
// location fixes, geofence events, errors and start events.
// Files are size-rotated. Nil *Journal discards everything.
package journal

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/temoto/geotrack/internal/hardware"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FileEvents   = "geofenceevents.log"
	FileErrors   = "errors.log"
	FileLocation = "location.log"

	DefaultMaxSizeMB  = 1
	DefaultMaxBackups = 3
)

type kind uint8

const (
	kindEvents kind = iota
	kindErrors
	kindLocation
)

type Config struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
}

type Journal struct {
	mu       sync.Mutex
	clock    hardware.Clock
	events   io.Writer
	errors   io.Writer
	location io.Writer
	closers  []io.Closer
}

func Open(config Config, clock hardware.Clock) *Journal {
	if config.Dir == "" {
		return nil
	}
	if config.MaxSizeMB == 0 {
		config.MaxSizeMB = DefaultMaxSizeMB
	}
	if config.MaxBackups == 0 {
		config.MaxBackups = DefaultMaxBackups
	}
	self := &Journal{clock: clock}
	open := func(name string) io.Writer {
		w := &lumberjack.Logger{
			Filename:   filepath.Join(config.Dir, name),
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
		}
		self.closers = append(self.closers, w)
		return w
	}
	self.events = open(FileEvents)
	self.errors = open(FileErrors)
	self.location = open(FileLocation)
	return self
}

// NewWriters is for tests and console, all kinds may share one writer.
func NewWriters(clock hardware.Clock, events, errors, location io.Writer) *Journal {
	return &Journal{clock: clock, events: events, errors: errors, location: location}
}

func (self *Journal) Close() error {
	if self == nil {
		return nil
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	var err error
	for _, c := range self.closers {
		if e := c.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (self *Journal) Start(version string) {
	self.line(kindEvents, "START version=%s", version)
}

func (self *Journal) Location(fix hardware.Fix) {
	self.line(kindLocation, "%3.6f, %3.6f alt=%.1f fix=%s",
		fix.Latitude, fix.Longitude, fix.Altitude, fix.Time.UTC().Format(time.RFC3339))
}

func (self *Journal) LocationError(err error) {
	self.line(kindErrors, "LOCATION %v", err)
}

func (self *Journal) ConnectionError(err error) {
	self.line(kindErrors, "CONNECTION %v", err)
}

// Error is suitable for log2.SetErrorFunc.
func (self *Journal) Error(err error) {
	if err == nil {
		return
	}
	self.line(kindErrors, "ERROR %v", err)
}

// Event records geofence transition, kind is ENTER or LEAVE.
func (self *Journal) Event(kind string, geofenceID int, lat, lon float64) {
	self.line(kindEvents, "%s geofence=%d %3.6f, %3.6f", kind, geofenceID, lat, lon)
}

func (self *Journal) line(k kind, format string, args ...interface{}) {
	if self == nil {
		return
	}
	var w io.Writer
	switch k {
	case kindEvents:
		w = self.events
	case kindErrors:
		w = self.errors
	case kindLocation:
		w = self.location
	}
	if w == nil {
		return
	}
	now := time.Now()
	if self.clock != nil {
		now = self.clock.Now()
	}
	s := now.UTC().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...) + "\n"
	self.mu.Lock()
	defer self.mu.Unlock()
	// journal failure must not recurse into error hook
	_, _ = io.WriteString(w, s)
}

// Package control applies inbound hub messages: CONFIG changes tunables
// and geofence list, STATUS asks for immediate out-of-band telemetry.
package control

import (
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/extremofile"
	"github.com/temoto/geotrack/internal/geofence"
	"github.com/temoto/geotrack/log2"
	"github.com/temoto/geotrack/tele"
	"golang.org/x/time/rate"
)

const DefaultStatusInterval = time.Minute

type GeofenceSetter interface {
	SetDefinitions(defs []geofence.Definition)
}

type storage interface {
	Read() ([]byte, error)
	io.Writer
}

type Result struct {
	Type            tele.MessageType
	StatusRequested bool
	Applied         []string // field names
	Rejected        []error
}

func (self *Result) Changed() bool { return len(self.Applied) != 0 }

type Channel struct {
	Log       *log2.Log
	Tunables  *Tunables
	Geofences GeofenceSetter

	mu      sync.Mutex
	limit   *rate.Limiter
	storage storage
	fences  []json.RawMessage // last accepted list, persisted as is
}

// NewChannel with dir="" keeps configuration in memory only.
func NewChannel(log *log2.Log, tunables *Tunables, geofences GeofenceSetter, dir string, statusInterval time.Duration) *Channel {
	if statusInterval == 0 {
		statusInterval = DefaultStatusInterval
	}
	self := &Channel{
		Log:       log,
		Tunables:  tunables,
		Geofences: geofences,
		limit:     rate.NewLimiter(rate.Every(statusInterval), 1),
	}
	if dir != "" {
		self.storage = extremofile.New(extremofile.Config{
			Dir:      filepath.Join(dir, "config"),
			DirPerm:  0755,
			FilePerm: 0644,
		})
	}
	return self
}

// Apply returns error only for payload that is not a valid message.
// Out of range fields are reported in Result.Rejected.
func (self *Channel) Apply(payload []byte) (Result, error) {
	c, err := tele.ParseControl(payload)
	if err != nil {
		self.Log.Error(err)
		return Result{}, err
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	r := self.apply(c)
	if r.Changed() {
		if err := self.store(); err != nil {
			self.Log.Error(err)
		}
	}
	return r, nil
}

// Restore applies persisted configuration, returns false when nothing was stored.
func (self *Channel) Restore() (bool, error) {
	if self.storage == nil {
		return false, nil
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	b, err := self.storage.Read()
	if b == nil {
		return false, errors.Annotate(err, "config restore")
	}
	if err != nil {
		self.Log.Errorf("config restore ignore non-critical storage err=%v", err)
	}
	c, err := tele.ParseControl(b)
	if err != nil {
		return false, errors.Annotate(err, "config restore")
	}
	r := self.apply(c)
	self.Log.Infof("config restored applied=%v", r.Applied)
	return r.Changed(), nil
}

func (self *Channel) apply(c *tele.Control) Result {
	r := Result{Type: c.Type}
	switch c.Type {
	case tele.MessageStatus:
		if self.limit.Allow() {
			r.StatusRequested = true
		} else {
			self.Log.Infof("STATUS rate limited")
		}
		return r
	case tele.MessageConfig:
	default:
		panic("code error unhandled message type=" + string(c.Type))
	}

	if c.GnssPeriod != nil {
		if err := self.Tunables.SetGnssPeriod(*c.GnssPeriod); err != nil {
			r.Rejected = append(r.Rejected, err)
		} else {
			r.Applied = append(r.Applied, "GNSS_PERIOD")
		}
	}
	if c.ConnectPeriod != nil {
		if err := self.Tunables.SetConnectPeriod(*c.ConnectPeriod); err != nil {
			r.Rejected = append(r.Rejected, err)
		} else {
			r.Applied = append(r.Applied, "CONNECT_PERIOD")
		}
	}
	if c.Geofences != nil {
		if err := self.applyGeofences(c); err != nil {
			r.Rejected = append(r.Rejected, err)
		} else {
			r.Applied = append(r.Applied, "GEOFENCES")
		}
	}
	for _, err := range r.Rejected {
		self.Log.Errorf("CONFIG %v", err)
	}
	if r.Changed() {
		self.Tunables.markConfigured()
		gnss, connect := self.Tunables.Snapshot()
		self.Log.Infof("CONFIG applied=%v gnss=%ds connect=%ds", r.Applied, gnss, connect)
	}
	return r
}

func (self *Channel) applyGeofences(c *tele.Control) error {
	specs, err := c.ParseGeofences()
	if err == nil {
		var defs []geofence.Definition
		if defs, err = geofence.Decode(specs); err == nil {
			if self.Geofences != nil {
				self.Geofences.SetDefinitions(defs)
			}
			self.fences = c.Geofences
			return nil
		}
	}
	return errors.NewNotValid(err, "GEOFENCES rejected, previous list kept")
}

func (self *Channel) store() error {
	if self.storage == nil {
		return nil
	}
	gnss, connect := self.Tunables.Snapshot()
	c := tele.Control{
		Type:          tele.MessageConfig,
		GnssPeriod:    &gnss,
		ConnectPeriod: &connect,
		Geofences:     self.fences,
	}
	b, err := c.Marshal()
	if err == nil {
		tbegin := time.Now()
		_, err = self.storage.Write(b)
		self.Log.Debugf("config storage.write duration=%v", time.Since(tbegin))
	}
	return errors.Annotate(err, "config store")
}

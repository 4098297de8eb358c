package hardware

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/juju/errors"
	"github.com/temoto/geotrack/log2"
)

const DefaultFixMaxAge = 10 * time.Second

// NMEALocator consumes GNSS receiver NMEA 0183 stream (RMC, GGA).
type NMEALocator struct {
	Log    *log2.Log
	MaxAge time.Duration

	mu      sync.Mutex
	last    Fix
	lastAt  time.Time
	alt     float64
	updated chan struct{}
}

func NewNMEALocator(log *log2.Log) *NMEALocator {
	return &NMEALocator{Log: log, MaxAge: DefaultFixMaxAge, updated: make(chan struct{})}
}

// Run reads sentences until r returns error or ctx is done.
func (self *NMEALocator) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := self.Feed(scanner.Text()); err != nil {
			self.Log.Debugf("nmea err=%v", err)
		}
	}
	return errors.Annotate(scanner.Err(), "nmea read")
}

// Fix returns fresh position or waits for one until ctx is done.
func (self *NMEALocator) Fix(ctx context.Context) (Fix, error) {
	for {
		self.mu.Lock()
		fix, at, ch := self.last, self.lastAt, self.updated
		self.mu.Unlock()
		if !at.IsZero() && time.Since(at) <= self.MaxAge {
			return fix, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return Fix{}, errors.Annotate(ErrNoFix, ctx.Err().Error())
		}
	}
}

// Feed accepts one sentence. Unsupported sentence types are ignored.
func (self *NMEALocator) Feed(line string) error {
	sentence, err := nmea.Parse(line)
	if err != nil {
		if _, ok := err.(*nmea.NotSupportedError); ok {
			return nil
		}
		return errors.NewNotValid(err, "nmea")
	}
	switch m := sentence.(type) {
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid || m.FixQuality == "" {
			return nil
		}
		self.mu.Lock()
		self.alt = m.Altitude
		self.mu.Unlock()
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return nil
		}
		if !m.Date.Valid || !m.Time.Valid {
			return errors.NotValidf("RMC date=%s time=%s", m.Date, m.Time)
		}
		self.mu.Lock()
		self.last = Fix{Latitude: m.Latitude, Longitude: m.Longitude, Altitude: self.alt, Time: nmeaTime(m.Date, m.Time)}
		self.lastAt = time.Now()
		close(self.updated)
		self.updated = make(chan struct{})
		self.mu.Unlock()
	}
	return nil
}

// two digit year, receivers predating 1980 do not exist
func nmeaTime(d nmea.Date, t nmea.Time) time.Time {
	year := 2000 + d.YY
	if d.YY >= 80 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}

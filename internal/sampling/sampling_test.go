package sampling

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/geotrack/internal/hardware"
	"github.com/temoto/geotrack/log2"
	"github.com/temoto/geotrack/tele"
)

type memQueue struct {
	mu    sync.Mutex
	lines [][]byte
	ch    chan struct{}
	fail  bool
}

func newMemQueue() *memQueue { return &memQueue{ch: make(chan struct{}, 100)} }

func (self *memQueue) Append(line []byte) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.fail {
		return false
	}
	self.lines = append(self.lines, append([]byte(nil), line...))
	select {
	case self.ch <- struct{}{}:
	default:
	}
	return true
}

func (self *memQueue) Len() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.lines)
}

func (self *memQueue) Record(t testing.TB, i int) *tele.Record {
	self.mu.Lock()
	defer self.mu.Unlock()
	r, err := tele.ParseRecord(self.lines[i])
	require.NoError(t, err)
	return r
}

func testBuilder(t testing.TB) *Builder {
	fixes := &LastFix{}
	fixes.Set(hardware.Fix{Latitude: 55.75, Longitude: 37.62, Time: time.Date(2019, 5, 1, 10, 0, 0, 0, time.UTC)})
	return &Builder{
		Log:      log2.NewTest(t, log2.LDebug),
		DeviceID: "tracker-01",
		Network:  "Tele2",
		Fixes:    fixes,
		Clock:    hardware.NewMockClock(time.Date(2019, 5, 1, 10, 20, 30, 0, time.UTC)),
		Prober:   hardware.NewMockProber(4.5, 21, 30),
		Modem:    &hardware.MockModem{Signal: -71},
		Battery:  hardware.FixedBattery(3.67),
		Display:  &hardware.MockDisplay{},
	}
}

func testScheduler(t testing.TB, q Appender) *Scheduler {
	return &Scheduler{
		Log:             log2.NewTest(t, log2.LDebug),
		Builder:         testBuilder(t),
		Queue:           q,
		DefaultInterval: func() time.Duration { return 5 * time.Millisecond },
	}
}

func waitRecords(t testing.TB, q *memQueue, n int) {
	deadline := time.After(5 * time.Second)
	for q.Len() < n {
		select {
		case <-q.ch:
		case <-deadline:
			t.Fatalf("expected records=%d got=%d", n, q.Len())
		}
	}
}

func TestCreateTaskWhileActive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testScheduler(t, newMemQueue())
	require.NoError(t, s.CreateTask(ctx, Spec{Interval: time.Hour, Mode: ModeRoute}))
	err := s.CreateTask(ctx, Spec{Interval: time.Minute, Mode: ModeGeofence, GeofenceID: 2})
	require.Error(t, err)
	assert.Equal(t, ErrTaskActive, errors.Cause(err))
	spec, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, ModeRoute, spec.Mode)

	s.TerminateTask()
	assert.False(t, s.Running())
	s.TerminateTask()
	require.NoError(t, s.CreateTask(ctx, Spec{Interval: time.Minute, Mode: ModeGeofence, GeofenceID: 2}))
	s.TerminateTask()
}

func TestTicksAppendUntilTerminated(t *testing.T) {
	t.Parallel()

	q := newMemQueue()
	s := testScheduler(t, q)
	require.NoError(t, s.CreateTask(context.Background(), Spec{Mode: ModeGeofence, GeofenceID: 3, Heating: true}))
	spec, _ := s.Current()
	assert.Equal(t, 5*time.Millisecond, spec.Interval)
	waitRecords(t, q, 3)
	s.TerminateTask()
	n := q.Len()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, q.Len(), "no ticks after TerminateTask")

	r := q.Record(t, 0)
	assert.Equal(t, 3, r.GeofenceNum)
	assert.Equal(t, tele.Temp(30), r.HeaterTemp)
	assert.Equal(t, 0, r.EnRoute)
}

func TestTaskSurvivesAppendFailure(t *testing.T) {
	t.Parallel()

	q := newMemQueue()
	q.fail = true
	s := testScheduler(t, q)
	require.NoError(t, s.CreateTask(context.Background(), Spec{Mode: ModeRoute}))
	time.Sleep(20 * time.Millisecond)
	q.mu.Lock()
	q.fail = false
	q.mu.Unlock()
	waitRecords(t, q, 1)
	assert.True(t, s.Running())
	s.TerminateTask()
}

func TestTaskStopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := testScheduler(t, newMemQueue())
	require.NoError(t, s.CreateTask(ctx, Spec{Mode: ModeRoute}))
	cancel()
	done := make(chan struct{})
	go func() { s.TerminateTask(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("TerminateTask blocked")
	}
}

func TestInvalidInterval(t *testing.T) {
	t.Parallel()

	s := testScheduler(t, newMemQueue())
	s.DefaultInterval = func() time.Duration { return 0 }
	err := s.CreateTask(context.Background(), Spec{Mode: ModeRoute})
	assert.True(t, errors.IsNotValid(err))
	assert.False(t, s.Running())
}

func TestRefreshInterval(t *testing.T) {
	t.Parallel()

	type Case struct {
		name    string
		spec    Spec
		period  time.Duration
		stopped bool
	}
	cases := []Case{
		{"default-same", Spec{Mode: ModeRoute}, time.Hour, false},
		{"default-changed", Spec{Mode: ModeRoute}, 10 * time.Second, true},
		{"geofence-default-changed", Spec{Mode: ModeGeofence, GeofenceID: 2}, 10 * time.Second, true},
		{"explicit", Spec{Mode: ModeGeofence, GeofenceID: 2, Interval: time.Hour}, 10 * time.Second, false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			var mu sync.Mutex
			period := time.Hour
			s := testScheduler(t, newMemQueue())
			s.DefaultInterval = func() time.Duration {
				mu.Lock()
				defer mu.Unlock()
				return period
			}
			require.NoError(t, s.CreateTask(context.Background(), c.spec))
			defer s.TerminateTask()
			mu.Lock()
			period = c.period
			mu.Unlock()

			assert.Equal(t, c.stopped, s.RefreshInterval())
			assert.Equal(t, !c.stopped, s.Running())
			if c.stopped {
				require.NoError(t, s.CreateTask(context.Background(), c.spec))
				spec, _ := s.Current()
				assert.Equal(t, c.period, spec.Interval)
			}
		})
	}

	s := testScheduler(t, newMemQueue())
	assert.False(t, s.RefreshInterval(), "idle")
}

func TestBuilder(t *testing.T) {
	t.Parallel()

	type Case struct {
		name       string
		spec       Spec
		transition int8
		setup      func(*Builder)
		check      func(t testing.TB, r *tele.Record)
	}
	cases := []Case{
		{"route", Spec{Mode: ModeRoute, GeofenceID: 5}, 0, nil, func(t testing.TB, r *tele.Record) {
			assert.Equal(t, 1, r.EnRoute)
			assert.Equal(t, tele.GeofenceNone, r.GeofenceNum)
			assert.Equal(t, tele.Temp(tele.HeaterDisabled), r.HeaterTemp)
			assert.Equal(t, tele.Temp(4.5), r.ContainerTemp)
			assert.Equal(t, "2019-05-01T10:20:30Z", r.Timestamp)
			assert.Equal(t, 55.75, r.Latitude)
			assert.Equal(t, -71, r.SignalStrength)
			assert.Equal(t, 3.67, r.BatteryVoltage)
			assert.Equal(t, "Tele2", r.Network)
		}},
		{"geofence-heating", Spec{Mode: ModeGeofence, GeofenceID: 2, Heating: true}, tele.TransitionEnter, nil, func(t testing.TB, r *tele.Record) {
			assert.Equal(t, 0, r.EnRoute)
			assert.Equal(t, 2, r.GeofenceNum)
			assert.Equal(t, tele.TransitionEnter, r.Transition)
			assert.Equal(t, tele.Temp(30), r.HeaterTemp)
		}},
		{"probe-failure", Spec{Mode: ModeGeofence, GeofenceID: 1}, 0, func(b *Builder) {
			b.Prober.(*hardware.MockProber).Set(hardware.ProbeAmbient, 0, fmt.Errorf("crc mismatch"))
		}, func(t testing.TB, r *tele.Record) {
			assert.False(t, r.AmbientTemp.Valid())
			assert.Equal(t, tele.Temp(4.5), r.ContainerTemp)
		}},
		{"operator", Spec{Mode: ModeRoute}, 0, func(b *Builder) {
			b.Modem.(*hardware.MockModem).Network = "MegaFon"
		}, func(t testing.TB, r *tele.Record) {
			assert.Equal(t, "MegaFon", r.Network)
		}},
		{"no-fix", Spec{Mode: ModeRoute}, 0, func(b *Builder) {
			b.Fixes = &LastFix{}
		}, func(t testing.TB, r *tele.Record) {
			assert.Equal(t, 0.0, r.Latitude)
			assert.Equal(t, 0.0, r.Longitude)
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			b := testBuilder(t)
			if c.setup != nil {
				c.setup(b)
			}
			r := b.Build(context.Background(), c.spec, c.transition)
			c.check(t, r)
			if r.ContainerTemp.Valid() {
				assert.Equal(t, 4.5, b.Display.(*hardware.MockDisplay).Last())
			}
		})
	}
}

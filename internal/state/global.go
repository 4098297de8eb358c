package state

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/geotrack/helpers"
	"github.com/temoto/geotrack/internal/hardware"
	"github.com/temoto/geotrack/internal/journal"
	"github.com/temoto/geotrack/internal/session"
	"github.com/temoto/geotrack/log2"
)

const (
	DefaultPersistRoot    = "./tmp-geotrack-db"
	DefaultBatteryVoltage = 3.67
	DefaultNetwork        = "Tele2"
	DefaultFixAttempts    = 3
	DefaultBootReceive    = 30 * time.Second
)

type Global struct {
	Alive    *alive.Alive
	Config   *Config
	Journal  *journal.Journal
	Log      *log2.Log
	Hardware struct {
		Battery hardware.Battery
		Clock   hardware.Clock
		Display hardware.Display
		Locator hardware.Locator
		Modem   hardware.Modem
		Prober  hardware.Prober
		power   *hardware.PowerLine
		probes  *hardware.OneWireProbes
	}

	lk sync.Mutex
}

const ContextKey = "run/state-global"

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)

	return ctx, g
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg

	if g.Config.Persist.Root == "" {
		g.Config.Persist.Root = DefaultPersistRoot
		g.Log.Errorf("config: persist.root=empty changed=%s", g.Config.Persist.Root)
	}
	g.Log.Debugf("config: persist.root=%s", g.Config.Persist.Root)
	if g.Config.Hub.FixAttempts == 0 {
		g.Config.Hub.FixAttempts = DefaultFixAttempts
	}
	if g.Config.Hardware.Modem.Network == "" {
		g.Config.Hardware.Modem.Network = DefaultNetwork
	}

	g.Hardware.Clock = hardware.SystemClock{}
	// journal is local error reporting, init before anything that can fail
	if g.Config.Journal.Enable {
		g.Journal = journal.Open(journal.Config{
			Dir:        filepath.Join(g.Config.Persist.Root, "journal"),
			MaxSizeMB:  g.Config.Journal.MaxSizeMB,
			MaxBackups: g.Config.Journal.MaxBackups,
		}, g.Hardware.Clock)
		g.Log.SetErrorFunc(g.Journal.Error)
	}

	if g.Config.Hardware.Mock {
		g.initMock()
		return nil
	}
	errs := make([]error, 0)
	if err := g.initModem(); err != nil {
		errs = append(errs, err)
	}
	if err := g.initProber(); err != nil {
		errs = append(errs, err)
	}
	if err := g.initLocator(ctx); err != nil {
		errs = append(errs, err)
	}
	battery := g.Config.Hardware.BatteryVoltage
	if battery == 0 {
		battery = DefaultBatteryVoltage
	}
	g.Hardware.Battery = hardware.FixedBattery(battery)
	g.Hardware.Display = hardware.LogDisplay{Log: g.Log}
	return helpers.FoldErrors(errs)
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

// Close releases hardware after Alive is stopped.
func (g *Global) Close() {
	g.lk.Lock()
	defer g.lk.Unlock()
	if g.Hardware.probes != nil {
		g.Error(g.Hardware.probes.Close(), "probes close")
		g.Hardware.probes = nil
	}
	if g.Hardware.power != nil {
		g.Error(g.Hardware.power.Close(), "modem power close")
		g.Hardware.power = nil
	}
	g.Error(g.Journal.Close(), "journal close")
}

func (g *Global) SessionConfig() (session.Config, error) {
	hub := &g.Config.Hub
	sc := session.Config{
		Host:           hub.Host,
		Port:           hub.Port,
		Scheme:         hub.Scheme,
		DeviceID:       g.Config.DeviceID,
		Key:            hub.Key,
		Policy:         hub.Policy,
		TokenExpiry:    time.Duration(hub.TokenExpirySec) * time.Second,
		NetworkTimeout: time.Duration(hub.NetworkTimeoutSec) * time.Second,
		KeepAlive:      uint16(hub.KeepaliveSec),
	}
	if hub.Host == "" {
		return sc, errors.NotValidf("config: hub.host=empty")
	}
	if sc.Scheme == "tcp" {
		return sc, nil
	}
	tc, err := g.tlsConfig()
	sc.TLS = tc
	return sc, err
}

func (g *Global) tlsConfig() (*tls.Config, error) {
	hub := &g.Config.Hub
	tc := &tls.Config{ServerName: hub.Host}
	if hub.TLSCAFile != "" {
		b, err := ioutil.ReadFile(hub.TLSCAFile)
		if err != nil {
			return nil, errors.Annotate(err, "config: hub.tls_ca_file")
		}
		tc.RootCAs = x509.NewCertPool()
		if !tc.RootCAs.AppendCertsFromPEM(b) {
			return nil, errors.NotValidf("config: hub.tls_ca_file=%s no certificates", hub.TLSCAFile)
		}
	}
	if hub.TLSCertFile != "" || hub.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(hub.TLSCertFile, hub.TLSKeyFile)
		if err != nil {
			return nil, errors.Annotate(err, "config: hub.tls_cert_file/tls_key_file")
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

func (g *Global) LinkFactory() (session.LinkFactory, error) {
	f, err := session.LinkByName(g.Config.Hub.Transport)
	return f, errors.Annotate(err, "config: hub.transport")
}

func (g *Global) SessionTimeout() time.Duration {
	return helpers.IntSecondDefault(g.Config.Hub.SessionTimeoutSec, session.DefaultWindow)
}

func (g *Global) BootReceiveInterval() time.Duration {
	return helpers.IntSecondDefault(g.Config.Hub.BootReceiveSec, DefaultBootReceive)
}

func (g *Global) QueuePath() string {
	return filepath.Join(g.Config.Persist.Root, "telemetry.queue")
}

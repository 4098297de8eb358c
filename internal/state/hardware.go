package state

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/geotrack/internal/hardware"
)

func (g *Global) initModem() error {
	cfg := &g.Config.Hardware
	var modem hardware.Modem = &hardware.NetModem{
		Interface: cfg.Modem.Interface,
		Network:   cfg.Modem.Network,
		Signal:    cfg.Modem.Signal,
	}
	if cfg.ModemPower.Chip != "" {
		power, err := hardware.OpenPowerLine(cfg.ModemPower.Chip, uint32(cfg.ModemPower.Line), cfg.ModemPower.ActiveLow)
		if err != nil {
			return errors.Annotatef(err, "config: hardware.modem_power chip=%s line=%d", cfg.ModemPower.Chip, cfg.ModemPower.Line)
		}
		g.Hardware.power = power
		modem = &hardware.PowerModem{
			Log:    g.Log,
			Power:  power,
			Settle: time.Duration(cfg.Modem.SettleSec) * time.Second,
			Modem:  modem,
		}
	}
	g.Hardware.Modem = modem
	return nil
}

func (g *Global) initProber() error {
	cfg := &g.Config.Hardware.Probes
	if cfg.Bus == "" {
		g.Log.Errorf("config: hardware.probes.bus=empty, temperature unavailable")
		g.Hardware.Prober = hardware.NewMockProber(math.NaN(), math.NaN(), math.NaN())
		return nil
	}
	probes, err := hardware.OpenOneWireProbes(cfg.Bus, map[hardware.ProbeRole]string{
		hardware.ProbeContainer: cfg.Container,
		hardware.ProbeAmbient:   cfg.Ambient,
		hardware.ProbeHeater:    cfg.Heater,
	}, cfg.Resolution)
	if err != nil {
		return errors.Annotate(err, "config: hardware.probes")
	}
	g.Hardware.probes = probes
	g.Hardware.Prober = probes
	return nil
}

// initLocator starts NMEA reader bound to g.Alive.
func (g *Global) initLocator(ctx context.Context) error {
	cfg := &g.Config.Hardware.GNSS
	if cfg.Device == "" {
		return errors.NotValidf("config: hardware.gnss.device=empty")
	}
	f, err := os.Open(cfg.Device)
	if err != nil {
		return errors.Annotatef(err, "config: hardware.gnss.device=%s", cfg.Device)
	}
	loc := hardware.NewNMEALocator(g.Log)
	if cfg.MaxAgeSec != 0 {
		loc.MaxAge = time.Duration(cfg.MaxAgeSec) * time.Second
	}
	g.Hardware.Locator = loc
	if !g.Alive.Add(2) {
		f.Close()
		return errors.Errorf("code error initLocator after stop")
	}
	go func() {
		defer g.Alive.Done()
		<-g.Alive.StopChan()
		f.Close()
	}()
	go func() {
		defer g.Alive.Done()
		if err := loc.Run(ctx, f); err != nil && g.Alive.IsRunning() {
			g.Error(err, "gnss device=%s", cfg.Device)
		}
	}()
	return nil
}

// initMock is bench/console mode without device hardware.
func (g *Global) initMock() {
	g.Log.Infof("hardware: mock")
	now := g.Hardware.Clock.Now()
	loc := &hardware.MockLocator{}
	loc.Set(hardware.Fix{Latitude: 55.755826, Longitude: 37.6173, Altitude: 150, Time: now}, nil)
	g.Hardware.Locator = loc
	g.Hardware.Prober = hardware.NewMockProber(4.5, 21, 30)
	g.Hardware.Modem = &hardware.MockModem{Network: g.Config.Hardware.Modem.Network, Signal: -70}
	battery := g.Config.Hardware.BatteryVoltage
	if battery == 0 {
		battery = DefaultBatteryVoltage
	}
	g.Hardware.Battery = hardware.FixedBattery(battery)
	g.Hardware.Display = &hardware.MockDisplay{}
}

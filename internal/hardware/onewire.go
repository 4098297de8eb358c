package hardware

import (
	"context"
	"strconv"
	"sync"

	"github.com/juju/errors"
	"periph.io/x/periph/conn/onewire"
	"periph.io/x/periph/conn/onewire/onewirereg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/devices/ds18b20"
	"periph.io/x/periph/host"
)

const DefaultProbeResolution = 10

// OneWireProbes reads DS18B20 sensors on 1-wire bus.
type OneWireProbes struct {
	mu   sync.Mutex
	bus  onewire.BusCloser
	devs map[ProbeRole]*ds18b20.Dev
}

// OpenOneWireProbes addrs values are 64-bit ROM codes, "0x..." or decimal.
// Empty address means probe role is not installed.
func OpenOneWireProbes(busName string, addrs map[ProbeRole]string, resolution int) (*OneWireProbes, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	bus, err := onewirereg.Open(busName)
	if err != nil {
		return nil, errors.Annotatef(err, "onewire open bus=%s", busName)
	}
	self, err := NewOneWireProbes(bus, addrs, resolution)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return self, nil
}

// NewOneWireProbes takes ownership of bus only on success.
func NewOneWireProbes(bus onewire.BusCloser, addrs map[ProbeRole]string, resolution int) (*OneWireProbes, error) {
	if resolution == 0 {
		resolution = DefaultProbeResolution
	}
	self := &OneWireProbes{bus: bus, devs: make(map[ProbeRole]*ds18b20.Dev, len(addrs))}
	for role, s := range addrs {
		if s == "" {
			continue
		}
		addr, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, errors.Annotatef(err, "probe=%s address=%s", role, s)
		}
		dev, err := ds18b20.New(bus, onewire.Address(addr), resolution)
		if err != nil {
			return nil, errors.Annotatef(err, "probe=%s address=%s", role, s)
		}
		self.devs[role] = dev
	}
	return self, nil
}

// Temperature runs conversion and waits for it, up to 750ms at 12 bit resolution.
func (self *OneWireProbes) Temperature(ctx context.Context, role ProbeRole) (float64, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	dev, ok := self.devs[role]
	if !ok {
		return 0, errors.NotFoundf("probe=%s", role)
	}
	var env physic.Env
	if err := dev.Sense(&env); err != nil {
		return 0, errors.Annotatef(err, "probe=%s", role)
	}
	return Celsius(env.Temperature), nil
}

func (self *OneWireProbes) Close() error {
	return errors.Annotate(self.bus.Close(), "onewire close")
}

func Celsius(t physic.Temperature) float64 {
	return float64(t-physic.ZeroCelsius) / float64(physic.Kelvin)
}

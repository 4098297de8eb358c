package hardware

import (
	"context"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/geotrack/log2"
)

// PowerModem switches modem power line around inner link driver.
type PowerModem struct {
	Log    *log2.Log
	Power  *PowerLine
	Settle time.Duration // wait after power on
	Modem
}

func (self *PowerModem) PowerOn(ctx context.Context) error {
	if self.Power != nil {
		if err := self.Power.Set(true); err != nil {
			return errors.Annotate(err, "modem power on")
		}
		if self.Settle != 0 {
			select {
			case <-time.After(self.Settle):
			case <-ctx.Done():
				return errors.Annotate(ctx.Err(), "modem power on settle")
			}
		}
	}
	return self.Modem.PowerOn(ctx)
}

func (self *PowerModem) PowerOff(ctx context.Context) error {
	err := self.Modem.PowerOff(ctx)
	if self.Power != nil {
		if perr := self.Power.Set(false); perr != nil {
			self.Log.Error(errors.Annotate(perr, "modem power off"))
			if err == nil {
				err = perr
			}
		}
	}
	return err
}

// NetModem is cellular link managed by OS (ppp/wwan interface).
// PDP activation means interface is up with address.
type NetModem struct {
	Interface string
	Network   string
	Signal    int
}

func (self *NetModem) PowerOn(ctx context.Context) error { return nil }

func (self *NetModem) ActivatePDP(ctx context.Context) error {
	if self.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(self.Interface)
	if err != nil {
		return errors.Annotatef(err, "interface=%s", self.Interface)
	}
	if iface.Flags&net.FlagUp == 0 {
		return errors.Errorf("interface=%s is down", self.Interface)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return errors.Annotatef(err, "interface=%s", self.Interface)
	}
	if len(addrs) == 0 {
		return errors.Errorf("interface=%s has no address", self.Interface)
	}
	return nil
}

func (self *NetModem) NetworkTime(ctx context.Context) (time.Time, error) {
	return time.Time{}, errors.Annotate(ErrNotSupported, "network time")
}

func (self *NetModem) SignalStrength(ctx context.Context) (int, error) { return self.Signal, nil }
func (self *NetModem) Operator(ctx context.Context) (string, error)   { return self.Network, nil }
func (self *NetModem) PowerOff(ctx context.Context) error             { return nil }

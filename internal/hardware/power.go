package hardware

import (
	"sync"

	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
)

// PowerLine drives single GPIO output, e.g. modem power key.
type PowerLine struct {
	mu        sync.Mutex
	chip      gpio.Chiper
	lines     gpio.Lineser
	set       gpio.LineSetFunc
	activeLow bool
	on        bool
}

func OpenPowerLine(chipPath string, line uint32, activeLow bool) (*PowerLine, error) {
	chip, err := gpio.Open(chipPath, "geotrack")
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open chip=%s", chipPath)
	}
	pl, err := NewPowerLine(chip, line, activeLow)
	if err != nil {
		chip.Close()
		return nil, err
	}
	return pl, nil
}

func NewPowerLine(chip gpio.Chiper, line uint32, activeLow bool) (*PowerLine, error) {
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, "geotrack-power", line)
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open line=%d", line)
	}
	return &PowerLine{
		chip:      chip,
		lines:     lines,
		set:       lines.SetFunc(line),
		activeLow: activeLow,
	}, nil
}

func (self *PowerLine) Set(on bool) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	var v byte
	if on != self.activeLow {
		v = 1
	}
	self.set(v)
	if err := self.lines.Flush(); err != nil {
		return errors.Annotatef(err, "gpio power set=%t", on)
	}
	self.on = on
	return nil
}

func (self *PowerLine) IsOn() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.on
}

func (self *PowerLine) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	err := self.lines.Close()
	if self.chip != nil {
		if e := self.chip.Close(); err == nil {
			err = e
		}
	}
	return errors.Annotate(err, "gpio power close")
}

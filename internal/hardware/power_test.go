package hardware

import (
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gpio "github.com/temoto/gpio-cdev-go"
	gpio_mock "github.com/temoto/gpio-cdev-go/mock"
)

func TestPowerLine(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		activeLow bool
		expectOn  byte
		expectOff byte
	}
	cases := []Case{
		{"active-high", false, 1, 0},
		{"active-low", true, 0, 1},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			values := []byte{}
			chip := &gpio_mock.MockChip{}
			lines := &gpio_mock.MockLines{}
			chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, "geotrack-power", uint32(17)).Return(lines, nil)
			chip.On("Close").Return(nil)
			lines.On("SetFunc", uint32(17)).Return(gpio.LineSetFunc(func(v byte) { values = append(values, v) }))
			lines.On("Flush").Return(nil)
			lines.On("Close").Return(nil)

			pl, err := NewPowerLine(chip, 17, c.activeLow)
			require.NoError(t, err)
			require.NoError(t, pl.Set(true))
			assert.True(t, pl.IsOn())
			require.NoError(t, pl.Set(false))
			assert.False(t, pl.IsOn())
			assert.Equal(t, []byte{c.expectOn, c.expectOff}, values)
			require.NoError(t, pl.Close())
			chip.AssertExpectations(t)
			lines.AssertExpectations(t)
		})
	}
}

func TestPowerLineFlushError(t *testing.T) {
	t.Parallel()

	chip := &gpio_mock.MockChip{}
	lines := &gpio_mock.MockLines{}
	ioErr := fmt.Errorf("EBUSY")
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, "geotrack-power", uint32(3)).Return(lines, nil)
	lines.On("SetFunc", uint32(3)).Return(gpio.LineSetFunc(func(byte) {}))
	lines.On("Flush").Return(ioErr)

	pl, err := NewPowerLine(chip, 3, false)
	require.NoError(t, err)
	err = pl.Set(true)
	require.Error(t, err)
	assert.Equal(t, ioErr, errors.Cause(err))
	assert.False(t, pl.IsOn())
}

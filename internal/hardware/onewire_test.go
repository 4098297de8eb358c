package hardware

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/onewire"
	"periph.io/x/periph/conn/onewire/onewiretest"
	"periph.io/x/periph/conn/physic"
)

func TestCelsius(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 0, Celsius(physic.ZeroCelsius), 1e-9)
	assert.InDelta(t, 4.5, Celsius(physic.ZeroCelsius+4500*physic.MilliKelvin), 1e-9)
	assert.InDelta(t, -20, Celsius(physic.ZeroCelsius-20*physic.Kelvin), 1e-9)
}

func TestOneWireProbes(t *testing.T) {
	t.Parallel()

	// match ROM 0x740000070e41ac28 + command
	match := []byte{0x55, 0x28, 0xac, 0x41, 0xe, 0x7, 0x0, 0x0, 0x74}
	cmd := func(c byte) []byte { return append(append([]byte(nil), match...), c) }
	// scratchpad: 30 C, 10 bit resolution
	spad := []byte{0xe0, 0x1, 0x0, 0x0, 0x3f, 0xff, 0x10, 0x10, 0x3f}
	bus := &onewiretest.Playback{Ops: []onewiretest.IO{
		{W: cmd(0xbe), R: spad},
		{W: cmd(0x44), Pull: onewire.StrongPullup},
		{W: cmd(0xbe), R: spad},
	}}
	probes, err := NewOneWireProbes(bus, map[ProbeRole]string{
		ProbeContainer: "0x740000070e41ac28",
		ProbeAmbient:   "",
	}, 10)
	require.NoError(t, err)

	c, err := probes.Temperature(context.Background(), ProbeContainer)
	require.NoError(t, err)
	assert.InDelta(t, 30, c, 1e-9)

	_, err = probes.Temperature(context.Background(), ProbeAmbient)
	assert.True(t, errors.IsNotFound(err), err)
	require.NoError(t, probes.Close(), "all bus transactions done")
}

func TestOneWireProbesInvalid(t *testing.T) {
	t.Parallel()

	bus := &onewiretest.Playback{DontPanic: true}
	_, err := NewOneWireProbes(bus, map[ProbeRole]string{ProbeHeater: "28-zz"}, 10)
	assert.Error(t, err)
	_, err = NewOneWireProbes(bus, map[ProbeRole]string{ProbeHeater: "0x740000070e41ac28"}, 10)
	assert.Error(t, err, "device did not respond")
}

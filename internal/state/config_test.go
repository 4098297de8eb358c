package state

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/geotrack/internal/hardware"
	"github.com/temoto/geotrack/internal/session"
	"github.com/temoto/geotrack/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Global)
		expectErr string
	}
	cases := []Case{
		{"defaults", `device_id = "d1"`, func(t testing.TB, g *Global) {
			assert.Equal(t, "d1", g.Config.DeviceID)
			assert.Equal(t, DefaultFixAttempts, g.Config.Hub.FixAttempts)
			assert.Equal(t, DefaultNetwork, g.Config.Hardware.Modem.Network)
			assert.Equal(t, session.DefaultWindow, g.SessionTimeout())
			assert.Equal(t, DefaultBootReceive, g.BootReceiveInterval())
			v, err := g.Hardware.Battery.Voltage()
			require.NoError(t, err)
			assert.Equal(t, DefaultBatteryVoltage, v)
		}, ""},

		{"hub", `
device_id = "tracker-01"
hub {
	host = "hub.example.net"
	port = 8883
	scheme = "tcp"
	key = "a2V5"
	policy = "device"
	transport = "paho"
	token_expiry_sec = 600
	session_timeout_sec = 90
	network_timeout_sec = 15
	keepalive_sec = 30
}`,
			func(t testing.TB, g *Global) {
				sc, err := g.SessionConfig()
				require.NoError(t, err)
				assert.Equal(t, "tcp://hub.example.net:8883", sc.BrokerURL())
				assert.Equal(t, "tracker-01", sc.DeviceID)
				assert.Equal(t, "device", sc.Policy)
				assert.Equal(t, 10*time.Minute, sc.TokenExpiry)
				assert.Equal(t, 15*time.Second, sc.NetworkTimeout)
				assert.Equal(t, uint16(30), sc.KeepAlive)
				assert.Equal(t, 90*time.Second, g.SessionTimeout())
				f, err := g.LinkFactory()
				require.NoError(t, err)
				assert.NotNil(t, f)
			}, ""},

		{"hub-tls-default", `
device_id = "x"
hub { host = "hub.example.net" }`,
			func(t testing.TB, g *Global) {
				sc, err := g.SessionConfig()
				require.NoError(t, err)
				assert.Equal(t, "tls://hub.example.net:8883", sc.BrokerURL())
				require.NotNil(t, sc.TLS)
				assert.Equal(t, "hub.example.net", sc.TLS.ServerName)
			}, ""},

		{"hub-empty", `device_id = "x"`, func(t testing.TB, g *Global) {
			_, err := g.SessionConfig()
			assert.True(t, errors.IsNotValid(err))
		}, ""},

		{"hub-bad-transport", `
device_id = "x"
hub { transport = "carrier-pigeon" }`,
			func(t testing.TB, g *Global) {
				_, err := g.LinkFactory()
				assert.True(t, errors.IsNotValid(err))
			}, ""},

		{"include-optional", `
include "device-7" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, g *Global) {
				assert.Equal(t, "seven", g.Config.DeviceID)
			}, ""},

		{"include-overwrites", `
device_id = "one"
include "device-7" {}`,
			func(t testing.TB, g *Global) {
				assert.Equal(t, "seven", g.Config.DeviceID)
			}, ""},

		{"include-normalize", `
device_id = "x"
include "./empty" {}`,
			nil, ""},

		{"hardware", `
device_id = "x"
hardware {
	mock = true
	battery_voltage = 3.9
	modem { network = "MTS" }
	probes { bus = "w1" container = "0x28000001" }
}`,
			func(t testing.TB, g *Global) {
				assert.Equal(t, "w1", g.Config.Hardware.Probes.Bus)
				assert.Equal(t, "0x28000001", g.Config.Hardware.Probes.Container)
				v, _ := g.Hardware.Battery.Voltage()
				assert.Equal(t, 3.9, v)
				op, err := g.Hardware.Modem.Operator(context.Background())
				require.NoError(t, err)
				assert.Equal(t, "MTS", op)
				fix, err := g.Hardware.Locator.Fix(context.Background())
				require.NoError(t, err)
				assert.NotZero(t, fix.Latitude)
			}, ""},

		{"journal", `
device_id = "x"
journal { enable = true }`,
			func(t testing.TB, g *Global) {
				require.NotNil(t, g.Journal)
				g.Close()
			}, ""},

		{"error-required-missing", `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-device-id", `hub { port = 1 }`, nil, "device_id=empty"},
		{"error-port", `
device_id = "x"
hub { port = 70000 }`, nil, "hub.port=70000"},
		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			ctx, g := NewContext(log)
			input := c.input
			if c.expectErr == "" {
				if !strings.Contains(input, "hardware {") {
					input += "\nhardware { mock = true }"
				}
				input += "\npersist { root = \"" + t.TempDir() + "\" }"
			}
			fs := NewMockFullReader(map[string]string{
				"test-inline":  input,
				"empty":        "",
				"device-7":     `device_id = "seven"`,
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if err == nil {
				err = g.Init(ctx, cfg)
			}
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, g)
				}
			} else {
				require.Error(t, err)
				if !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		})
	}
}

func TestNewTestContext(t *testing.T) {
	t.Parallel()

	ctx, g := NewTestContext(t, `hub { session_timeout_sec = 5 }`)
	assert.Equal(t, g, GetGlobal(ctx))
	assert.Equal(t, "tracker-01", g.Config.DeviceID)
	assert.Equal(t, 5*time.Second, g.SessionTimeout())
	_, ok := g.Hardware.Modem.(*hardware.MockModem)
	assert.True(t, ok)
	assert.Panics(t, func() { GetGlobal(context.Background()) })
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../../geotrack.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	c := MustReadConfig(log, NewOsFullReader(), "../../geotrack.hcl")
	assert.NotEmpty(t, c.DeviceID)
	assert.NotEmpty(t, c.Hub.Host)
}

package tele

import (
	"math"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMarshal(t *testing.T) {
	t.Parallel()

	r := Record{
		Timestamp:      "2019-05-01T10:20:30Z",
		Device:         "tracker-01",
		Latitude:       55.75,
		Longitude:      37.62,
		GeofenceNum:    2,
		Transition:     TransitionEnter,
		ContainerTemp:  Temp(4.5),
		AmbientTemp:    Temp(math.NaN()),
		HeaterTemp:     Temp(HeaterDisabled),
		BatteryVoltage: 3.67,
		Network:        "Tele2",
		SignalStrength: -71,
		EnRoute:        0,
	}
	b, err := r.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"timestamp":"2019-05-01T10:20:30Z","device":"tracker-01","latitude":55.75,"longitude":37.62,"geoFenceNum":2,"geoFenceEnteryDeparture":1,"liquidTemp":4.5,"AmbientTemp":null,"heater":-777.7,"batteryVoltage":3.67,"network":"Tele2","signalStrength":-71,"enRoute":0}`, string(b))
	assert.NotContains(t, string(b), "\n")

	r2, err := ParseRecord(b)
	require.NoError(t, err)
	assert.False(t, r2.AmbientTemp.Valid())
	assert.Equal(t, Temp(4.5), r2.ContainerTemp)
}

func TestParseControl(t *testing.T) {
	t.Parallel()

	type Case struct {
		name   string
		input  string
		expect MessageType
		err    error
	}
	cases := []Case{
		{"status", `{"Type":"STATUS"}`, MessageStatus, nil},
		{"config", `{"Type":"CONFIG","GNSS_PERIOD":120}`, MessageConfig, nil},
		{"unknown-type", `{"Type":"REBOOT"}`, "", ErrInvalidMessage},
		{"no-type", `{"GNSS_PERIOD":120}`, "", ErrInvalidMessage},
		{"not-json", `HELLO`, "", ErrInvalidMessage},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			m, err := ParseControl([]byte(c.input))
			if c.err != nil {
				require.Error(t, err)
				assert.Equal(t, c.err, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, m.Type)
		})
	}
}

func TestParseGeofences(t *testing.T) {
	t.Parallel()

	m, err := ParseControl([]byte(`{"Type":"CONFIG","GEOFENCES":[
		{"ID":1,"SHAPE":"CIRCLE","CENTER":[55.75,37.62],"EDGE":[55.76,37.62],"HEATING":true,"NOTIFY_ENTER":true},
		{"ID":2,"SHAPE":"POLYGON","VERTICES":[[0,0],[0,1],[1,1]],"NOTIFY_LEAVE":true,"INTERVAL":60}]}`))
	require.NoError(t, err)
	gs, err := m.ParseGeofences()
	require.NoError(t, err)
	require.Len(t, gs, 2)
	assert.Equal(t, ShapeCircle, gs[0].Shape)
	assert.True(t, gs[0].NotifyEnter)
	assert.False(t, gs[0].NotifyLeave)
	assert.Equal(t, [2]float64{1, 1}, gs[1].Vertices[2])
	assert.Equal(t, 60, gs[1].Interval)

	m, err = ParseControl([]byte(`{"Type":"CONFIG","GNSS_PERIOD":30,"GEOFENCES":[{"ID":"one"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 30, *m.GnssPeriod)
	_, err = m.ParseGeofences()
	assert.Error(t, err)
}

func TestTopics(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "devices/d1/messages/events/", TopicEvents("d1"))
	assert.Equal(t, "devices/d1/messages/devicebound/#", TopicDevicebound("d1"))
	assert.Equal(t, "hub.example.net/d1/?api-version=2018-06-30", Username("hub.example.net", "d1"))
	assert.Equal(t, "hub.example.net/devices/d1", ResourceURI("hub.example.net", "d1"))
}

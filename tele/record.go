package tele

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/juju/errors"
)

const (
	HeaterDisabled float64 = -777.7

	TransitionNone  int8 = 0
	TransitionEnter int8 = 1
	TransitionLeave int8 = -1

	// GeofenceNone is geoFenceNum of records taken outside of any geofence.
	GeofenceNone = 0
)

// Temp is degrees Celsius. NaN means probe read failed, encoded as null.
type Temp float64

func (self Temp) Valid() bool { return !math.IsNaN(float64(self)) }

func (self Temp) MarshalJSON() ([]byte, error) {
	if !self.Valid() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(self), 'f', -1, 64), nil
}

func (self *Temp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*self = Temp(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return errors.Annotate(err, "temperature")
	}
	*self = Temp(f)
	return nil
}

type Record struct {
	Timestamp      string  `json:"timestamp"`
	Device         string  `json:"device"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	GeofenceNum    int     `json:"geoFenceNum"`
	Transition     int8    `json:"geoFenceEnteryDeparture"`
	ContainerTemp  Temp    `json:"liquidTemp"`
	AmbientTemp    Temp    `json:"AmbientTemp"`
	HeaterTemp     Temp    `json:"heater"`
	BatteryVoltage float64 `json:"batteryVoltage"`
	Network        string  `json:"network"`
	SignalStrength int     `json:"signalStrength"`
	EnRoute        int     `json:"enRoute"`
}

func FormatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// Marshal produces single line payload suitable for queue and publish.
func (self *Record) Marshal() ([]byte, error) {
	b, err := json.Marshal(self)
	return b, errors.Annotate(err, "record marshal")
}

func ParseRecord(b []byte) (*Record, error) {
	r := &Record{}
	if err := json.Unmarshal(b, r); err != nil {
		return nil, errors.Annotate(err, "record parse")
	}
	return r, nil
}

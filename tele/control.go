package tele

import (
	"encoding/json"

	"github.com/juju/errors"
)

type MessageType string

const (
	MessageConfig MessageType = "CONFIG"
	MessageStatus MessageType = "STATUS"
)

var ErrInvalidMessage = errors.New("invalid message")

// Control is inbound hub message.
// Optional fields are pointers, absent key keeps device value.
// Geofences stay raw so one malformed entry rejects only the list.
type Control struct {
	Type          MessageType       `json:"Type"`
	GnssPeriod    *int              `json:"GNSS_PERIOD,omitempty"`
	ConnectPeriod *int              `json:"CONNECT_PERIOD,omitempty"`
	Geofences     []json.RawMessage `json:"GEOFENCES,omitempty"`
}

type Shape string

const (
	ShapeCircle  Shape = "CIRCLE"
	ShapePolygon Shape = "POLYGON"
)

type GeofenceSpec struct {
	ID          int          `json:"ID"`
	Shape       Shape        `json:"SHAPE"`
	Center      []float64    `json:"CENTER,omitempty"`
	Edge        []float64    `json:"EDGE,omitempty"`
	Vertices    [][2]float64 `json:"VERTICES,omitempty"`
	Heating     bool         `json:"HEATING"`
	NotifyEnter bool         `json:"NOTIFY_ENTER"`
	NotifyLeave bool         `json:"NOTIFY_LEAVE"`
	Interval    int          `json:"INTERVAL,omitempty"`
}

func ParseControl(b []byte) (*Control, error) {
	c := &Control{}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, errors.Annotatef(errors.Wrap(err, ErrInvalidMessage), "parse payload=%q err=%v", b, err)
	}
	switch c.Type {
	case MessageConfig, MessageStatus:
		return c, nil
	default:
		return nil, errors.Annotatef(ErrInvalidMessage, "type=%q", c.Type)
	}
}

// ParseGeofences decodes every entry or fails on first malformed one.
func (self *Control) ParseGeofences() ([]GeofenceSpec, error) {
	specs := make([]GeofenceSpec, 0, len(self.Geofences))
	for i, raw := range self.Geofences {
		var gs GeofenceSpec
		if err := json.Unmarshal(raw, &gs); err != nil {
			return nil, errors.Annotatef(err, "GEOFENCES[%d]", i)
		}
		specs = append(specs, gs)
	}
	return specs, nil
}

func (self *Control) Marshal() ([]byte, error) {
	b, err := json.Marshal(self)
	return b, errors.Annotate(err, "control marshal")
}

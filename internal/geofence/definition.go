package geofence

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/geotrack/tele"
)

// Definition is immutable after Decode, whole list is replaced on CONFIG.
type Definition struct {
	ID          int
	Shape       Shape
	Heating     bool
	NotifyEnter bool
	NotifyLeave bool
	Interval    time.Duration // 0 = use GNSS period
}

func (self *Definition) String() string {
	if self == nil {
		return "none"
	}
	return fmt.Sprintf("geofence=%d %s heating=%t enter=%t leave=%t interval=%s",
		self.ID, self.Shape, self.Heating, self.NotifyEnter, self.NotifyLeave, self.Interval)
}

func (self *Definition) sameTask(other *Definition) bool {
	return self.ID == other.ID && self.Heating == other.Heating && self.Interval == other.Interval
}

// Decode validates geofence list. Any invalid entry rejects whole list.
func Decode(specs []tele.GeofenceSpec) ([]Definition, error) {
	defs := make([]Definition, 0, len(specs))
	seen := make(map[int]struct{}, len(specs))
	for i, s := range specs {
		d, err := decodeOne(&s)
		if err != nil {
			return nil, errors.Annotatef(err, "GEOFENCES[%d]", i)
		}
		if _, dup := seen[d.ID]; dup {
			return nil, errors.NotValidf("GEOFENCES[%d] duplicate ID=%d", i, d.ID)
		}
		seen[d.ID] = struct{}{}
		defs = append(defs, d)
	}
	return defs, nil
}

func decodeOne(s *tele.GeofenceSpec) (Definition, error) {
	d := Definition{
		ID:          s.ID,
		Heating:     s.Heating,
		NotifyEnter: s.NotifyEnter,
		NotifyLeave: s.NotifyLeave,
	}
	if s.ID <= tele.GeofenceNone {
		return d, errors.NotValidf("ID=%d", s.ID)
	}
	if s.Interval < 0 {
		return d, errors.NotValidf("INTERVAL=%d", s.Interval)
	}
	d.Interval = time.Duration(s.Interval) * time.Second
	switch s.Shape {
	case tele.ShapeCircle:
		center, err := decodePoint(s.Center)
		if err != nil {
			return d, errors.Annotate(err, "CENTER")
		}
		edge, err := decodePoint(s.Edge)
		if err != nil {
			return d, errors.Annotate(err, "EDGE")
		}
		d.Shape = Circle{Center: center, Edge: edge}
	case tele.ShapePolygon:
		if len(s.Vertices) < 3 {
			return d, errors.NotValidf("VERTICES count=%d", len(s.Vertices))
		}
		poly := Polygon{Vertices: make([]Point, len(s.Vertices))}
		for i, v := range s.Vertices {
			p, err := decodePoint(v[:])
			if err != nil {
				return d, errors.Annotatef(err, "VERTICES[%d]", i)
			}
			poly.Vertices[i] = p
		}
		d.Shape = poly
	default:
		return d, errors.NotValidf("SHAPE=%q", s.Shape)
	}
	return d, nil
}

func decodePoint(v []float64) (Point, error) {
	if len(v) != 2 {
		return Point{}, errors.NotValidf("point %v", v)
	}
	p := Point{Lat: v[0], Lon: v[1]}
	if !p.Valid() {
		return p, errors.NotValidf("point %s", p)
	}
	return p, nil
}

// Classify returns lowest-index geofence containing p, or nil, -1.
func Classify(defs []Definition, p Point) (*Definition, int) {
	for i := range defs {
		if defs[i].Shape.Contains(p) {
			return &defs[i], i
		}
	}
	return nil, -1
}

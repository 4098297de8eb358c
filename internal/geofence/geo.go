package geofence

import (
	"fmt"
	"math"
)

// EarthRadius in meters, same constant GNSS receivers firmware used.
const EarthRadius = 6372795.0

type Point struct {
	Lat float64
	Lon float64
}

func (self Point) String() string { return fmt.Sprintf("(%.6f,%.6f)", self.Lat, self.Lon) }

func (self Point) Valid() bool {
	return self.Lat >= -90 && self.Lat <= 90 && self.Lon >= -180 && self.Lon <= 180 &&
		!math.IsNaN(self.Lat) && !math.IsNaN(self.Lon)
}

// Distance is great-circle distance in meters (haversine).
func Distance(a, b Point) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dlat := lat2 - lat1
	dlon := radians(b.Lon - a.Lon)
	sdlat, sdlon := math.Sin(dlat/2), math.Sin(dlon/2)
	h := sdlat*sdlat + math.Cos(lat1)*math.Cos(lat2)*sdlon*sdlon
	return 2 * EarthRadius * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

type Shape interface {
	Contains(Point) bool
	fmt.Stringer
}

// Circle radius is distance from Center to Edge. Boundary is outside.
type Circle struct {
	Center Point
	Edge   Point
}

func (self Circle) Radius() float64 { return Distance(self.Center, self.Edge) }

func (self Circle) Contains(p Point) bool {
	return Distance(self.Center, p) < self.Radius()
}

func (self Circle) String() string {
	return fmt.Sprintf("circle center=%s radius=%.0fm", self.Center, self.Radius())
}

// Polygon ring, closing edge is implicit. Lon is x, Lat is y.
type Polygon struct {
	Vertices []Point
}

// Contains uses even-odd ray casting. Points exactly on edge may go either way.
func (self Polygon) Contains(p Point) bool {
	vs := self.Vertices
	inside := false
	for i, j := 0, len(vs)-1; i < len(vs); j, i = i, i+1 {
		vi, vj := vs[i], vs[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) &&
			p.Lon < (vj.Lon-vi.Lon)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat)+vi.Lon {
			inside = !inside
		}
	}
	return inside
}

func (self Polygon) String() string {
	return fmt.Sprintf("polygon vertices=%d", len(self.Vertices))
}

// Package geocode resolves free-text comment addresses to coordinates and
// writes in-bounds results back to the comment store.
//
// A postcode found in the address is tried first. The cleaned address is
// then tried from its end: the last token, then the last two, and so on,
// since postcodes and town names geocode best and house names add noise.
// Results outside the configured bounding box are discarded.
package geocode

import (
	"context"
	"errors"
)

// ErrTransient marks a geocoder failure worth retrying: timeouts,
// connection errors, HTTP 429 and 5xx.
var ErrTransient = errors.New("geocode: transient failure")

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Geocoder resolves one free-text query. found is false when the service
// knows no match; err is reserved for failures.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (p Point, found bool, err error)
}

// Factory creates a Geocoder. Every worker gets its own.
type Factory func() Geocoder

// BBox is a latitude/longitude rectangle, bounds inclusive.
type BBox struct {
	MinLat float64 `yaml:"min_lat" json:"min_lat"`
	MinLon float64 `yaml:"min_lon" json:"min_lon"`
	MaxLat float64 `yaml:"max_lat" json:"max_lat"`
	MaxLon float64 `yaml:"max_lon" json:"max_lon"`
}

// GreaterLondon bounds the Greater London area.
var GreaterLondon = BBox{MinLat: 51.2867602, MinLon: -0.5103751, MaxLat: 51.6918741, MaxLon: 0.3340155}

// IsZero reports whether the box is unset.
func (b BBox) IsZero() bool { return b == BBox{} }

// Contains reports whether p lies inside the box.
func (b BBox) Contains(p Point) bool {
	return b.MinLat <= p.Lat && p.Lat <= b.MaxLat && b.MinLon <= p.Lon && p.Lon <= b.MaxLon
}

// Centre returns the midpoint of the box.
func (b BBox) Centre() Point {
	return Point{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
}

// Match is the outcome of locating one address.
type Match struct {
	Point
	// Query is the address suffix that resolved.
	Query string `json:"query,omitempty"`
	// Attempts counts the suffixes tried.
	Attempts int  `json:"attempts"`
	Found    bool `json:"found"`
	InBounds bool `json:"in_bounds"`
}

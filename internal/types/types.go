// README: Shared identifiers and geographic value objects.
package types

import "errors"

type ID string

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is a usable WGS84 coordinate.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Place is a named ride endpoint. Location is nil when the client sent no coordinates.
type Place struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Location *Point `json:"location,omitempty"`
}

var ErrMissingCoordinates = errors.New("place has no coordinates")
var ErrInvalidCoordinates = errors.New("place coordinates out of range")

// Point returns the place location or an error when it is missing or out of range.
func (p Place) Point() (Point, error) {
	if p.Location == nil {
		return Point{}, ErrMissingCoordinates
	}
	if !p.Location.Valid() {
		return Point{}, ErrInvalidCoordinates
	}
	return *p.Location, nil
}

// README: Google Maps directions client used to estimate arrival time at ride start.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"carpool/internal/types"
)

var ErrNoRoute = errors.New("no route found")

type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService handles interactions with the Google Maps API.
type RouteService struct {
	client directionsClient
}

func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// EstimateArrival returns departAt plus the driving time, preferring the
// traffic-aware duration when the API returns one.
func (s *RouteService) EstimateArrival(ctx context.Context, origin, destination types.Point, departAt time.Time) (time.Time, error) {
	r := &maps.DirectionsRequest{
		Origin:        latLng(origin),
		Destination:   latLng(destination),
		Mode:          maps.TravelModeDriving,
		DepartureTime: strconv.FormatInt(departAt.Unix(), 10),
	}
	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return time.Time{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return time.Time{}, ErrNoRoute
	}

	leg := routes[0].Legs[0]
	d := leg.Duration
	if leg.DurationInTraffic > 0 {
		d = leg.DurationInTraffic
	}
	return departAt.Add(d), nil
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}

package maps

import (
	"context"
	"errors"
	"testing"
	"time"

	"googlemaps.github.io/maps"

	"carpool/internal/types"
)

type fakeDirections struct {
	routes []maps.Route
	err    error
	req    *maps.DirectionsRequest
}

func (f *fakeDirections) Directions(_ context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error) {
	f.req = r
	return f.routes, nil, f.err
}

func route(d, inTraffic time.Duration) []maps.Route {
	return []maps.Route{{Legs: []*maps.Leg{{Duration: d, DurationInTraffic: inTraffic}}}}
}

var (
	depart = time.Date(2026, 3, 2, 13, 30, 0, 0, time.UTC)
	from   = types.Point{Lat: 29.7, Lng: -95.4}
	to     = types.Point{Lat: 29.76, Lng: -95.37}
)

func TestEstimateArrivalPrefersTraffic(t *testing.T) {
	f := &fakeDirections{routes: route(20*time.Minute, 27*time.Minute)}
	s := &RouteService{client: f}

	got, err := s.EstimateArrival(context.Background(), from, to, depart)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if want := depart.Add(27 * time.Minute); !got.Equal(want) {
		t.Fatalf("got %s want %s", got, want)
	}
	if f.req.Origin != "29.700000,-95.400000" || f.req.DepartureTime != "1772458200" {
		t.Fatalf("unexpected request %+v", f.req)
	}
}

func TestEstimateArrivalWithoutTraffic(t *testing.T) {
	s := &RouteService{client: &fakeDirections{routes: route(20*time.Minute, 0)}}
	got, err := s.EstimateArrival(context.Background(), from, to, depart)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !got.Equal(depart.Add(20 * time.Minute)) {
		t.Fatalf("got %s", got)
	}
}

func TestEstimateArrivalErrors(t *testing.T) {
	s := &RouteService{client: &fakeDirections{}}
	if _, err := s.EstimateArrival(context.Background(), from, to, depart); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
	s = &RouteService{client: &fakeDirections{err: errors.New("quota")}}
	if _, err := s.EstimateArrival(context.Background(), from, to, depart); err == nil {
		t.Fatalf("expected api error")
	}
}

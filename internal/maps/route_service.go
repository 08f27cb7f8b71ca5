package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"tripmatch/internal/types"
)

var ErrNoRoute = errors.New("no route found")

type directionsAPI interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService estimates driving distance and time with the Directions API.
type RouteService struct {
	client directionsAPI
	region string
}

// NewRouteService creates a new RouteService with the given API key. region
// is a ccTLD bias such as "in"; empty means no bias.
func NewRouteService(apiKey, region string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, region: region}, nil
}

// EstimateRoute returns the first route's driving distance in km and duration.
func (s *RouteService) EstimateRoute(ctx context.Context, from, to types.Location) (float64, time.Duration, error) {
	r := &maps.DirectionsRequest{
		Origin:      waypoint(from),
		Destination: waypoint(to),
		Mode:        maps.TravelModeDriving,
		Region:      s.region,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, 0, ErrNoRoute
	}

	var meters int
	var dur time.Duration
	for _, leg := range routes[0].Legs {
		meters += leg.Distance.Meters
		dur += leg.Duration
	}
	return float64(meters) / 1000.0, dur, nil
}

// waypoint prefers coordinates over the free-form address.
func waypoint(l types.Location) string {
	if l.Point != nil {
		return strconv.FormatFloat(l.Point.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(l.Point.Lng, 'f', 6, 64)
	}
	return l.Address
}

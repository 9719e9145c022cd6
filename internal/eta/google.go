package eta

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/observability"
)

// GoogleMapsClient estimates ETAs with the Google Distance Matrix API.
type GoogleMapsClient struct {
	client *maps.Client
}

// NewGoogleMapsClient creates a client for the given API key. Extra options
// (such as maps.WithBaseURL) are passed through to the maps client.
func NewGoogleMapsClient(apiKey string, opts ...maps.ClientOption) (*GoogleMapsClient, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleMapsClient{client: client}, nil
}

// EstimateETA returns the driving time, preferring the traffic-aware figure.
func (g *GoogleMapsClient) EstimateETA(ctx context.Context, origin, dest domain.Point) (time.Duration, error) {
	d, err := g.lookup(ctx, origin, dest)
	if err != nil {
		observability.ETALookupsTotal.WithLabelValues("google", "error").Inc()
		return 0, err
	}
	observability.ETALookupsTotal.WithLabelValues("google", "ok").Inc()
	return d, nil
}

func (g *GoogleMapsClient) lookup(ctx context.Context, origin, dest domain.Point) (time.Duration, error) {
	r := &maps.DistanceMatrixRequest{
		Origins:       []string{latLng(origin)},
		Destinations:  []string{latLng(dest)},
		Mode:          maps.TravelModeDriving,
		DepartureTime: "now",
	}

	resp, err := g.client.DistanceMatrix(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, errors.New("no route found")
	}

	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("no route found: %s", el.Status)
	}
	if el.DurationInTraffic > 0 {
		return el.DurationInTraffic, nil
	}
	return el.Duration, nil
}

func latLng(p domain.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Package eta estimates driving times from a driver to a pickup point.
package eta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/observability"
)

const defaultOSRMTimeout = 2 * time.Second

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

// NewOSRMClient creates a client for the OSRM server at endpoint.
func NewOSRMClient(endpoint string, timeout time.Duration) *OSRMClient {
	if timeout <= 0 {
		timeout = defaultOSRMTimeout
	}
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

// EstimateETA queries OSRM /route between the two points.
func (o *OSRMClient) EstimateETA(ctx context.Context, origin, dest domain.Point) (time.Duration, error) {
	d, err := o.route(ctx, origin, dest)
	if err != nil {
		observability.ETALookupsTotal.WithLabelValues("osrm", "error").Inc()
		return 0, err
	}
	observability.ETALookupsTotal.WithLabelValues("osrm", "ok").Inc()
	return d, nil
}

func (o *OSRMClient) route(ctx context.Context, origin, dest domain.Point) (time.Duration, error) {
	// OSRM takes lon,lat pairs.
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		o.Endpoint, origin.Lng, origin.Lat, dest.Lng, dest.Lat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("osrm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("osrm status %d", resp.StatusCode)
	}

	var out struct {
		Routes []struct {
			Duration float64 `json:"duration"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("osrm decode: %w", err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return 0, fmt.Errorf("osrm no route: %v", out.Code)
	}
	return time.Duration(out.Routes[0].Duration * float64(time.Second)), nil
}

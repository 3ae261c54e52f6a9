package eta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/spot-finder/internal/models"
)

// ErrNoRoute is returned when OSRM answers but cannot route between the points.
var ErrNoRoute = errors.New("osrm: no route")

// OSRMClient asks an OSRM server how long the drive to a spot takes.
type OSRMClient struct {
	Endpoint string
	// Profile is the OSRM routing profile; "driving" when empty.
	Profile string
	Client  *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Profile: "driving", Client: &http.Client{Timeout: 2 * time.Second}}
}

type osrmRoute struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
	} `json:"routes"`
}

func (o *OSRMClient) routeURL(from, to models.Location) string {
	profile := o.Profile
	if profile == "" {
		profile = "driving"
	}
	// coordinates are lon,lat
	return fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=false",
		o.Endpoint, profile, from.Longitude, from.Latitude, to.Longitude, to.Latitude)
}

// EstimateSeconds returns the duration of the fastest route from -> to.
func (o *OSRMClient) EstimateSeconds(ctx context.Context, from, to models.Location) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.routeURL(from, to), nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return 0, models.Upstream("osrm route", err)
	}
	defer resp.Body.Close()

	var route osrmRoute
	if err := json.NewDecoder(resp.Body).Decode(&route); err != nil {
		return 0, models.Upstream("osrm route", fmt.Errorf("status %d: %w", resp.StatusCode, err))
	}
	switch {
	case route.Code == "Ok" && len(route.Routes) > 0:
		return route.Routes[0].Duration, nil
	case route.Code == "NoRoute" || route.Code == "NoSegment" || route.Code == "Ok":
		return 0, ErrNoRoute
	}
	return 0, models.Upstream("osrm route", fmt.Errorf("status %d: %s %s", resp.StatusCode, route.Code, route.Message))
}

// Package rest holds the thin HTTP clients for the relay's collaborator
// endpoints consumed by the driver and passenger cores.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DriverRegistry registers driver presence with the relay. The ONLINE/OFFLINE
// transitions of the driver machine only complete when these calls succeed.
type DriverRegistry struct {
	BaseURL string
	Client  *http.Client
}

func NewDriverRegistry(baseURL string) *DriverRegistry {
	return &DriverRegistry{BaseURL: baseURL, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (r *DriverRegistry) GoOnline(ctx context.Context, driverID string) error {
	return r.post(ctx, "/driver/online", driverID)
}

func (r *DriverRegistry) GoOffline(ctx context.Context, driverID string) error {
	return r.post(ctx, "/driver/offline", driverID)
}

func (r *DriverRegistry) post(ctx context.Context, path, driverID string) error {
	body, _ := json.Marshal(map[string]string{"driver_id": driverID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("driver registry %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("driver registry %s: %s", path, readDetail(resp))
	}
	return nil
}

// NearbyDriver mirrors one candidate in the nearby response.
type NearbyDriver struct {
	DriverID   string  `json:"driver_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DistanceM  float64 `json:"distance_m"`
	ETASeconds float64 `json:"eta_seconds"`
	Rating     float64 `json:"rating"`
}

// PassengerAPI is the passenger side's collaborator: nearby discovery and
// ping submission.
type PassengerAPI struct {
	BaseURL string
	Client  *http.Client
}

func NewPassengerAPI(baseURL string) *PassengerAPI {
	return &PassengerAPI{BaseURL: baseURL, Client: &http.Client{Timeout: 5 * time.Second}}
}

// NearbyDrivers queries the relay for candidates around the passenger.
// Errors degrade to an empty result at the caller; they never crash the core.
func (p *PassengerAPI) NearbyDrivers(ctx context.Context, lat, lng float64) ([]NearbyDriver, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', 6, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/passenger/nearby?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nearby query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nearby query: %s", readDetail(resp))
	}
	var out []NearbyDriver
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("nearby decode: %w", err)
	}
	return out, nil
}

// PingDriver submits the pickup request and returns the relay-assigned
// request id. A non-success response is an error; the caller reverts to IDLE.
func (p *PassengerAPI) PingDriver(ctx context.Context, passengerID, driverID string, etaMinutes int) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"passenger_id": passengerID,
		"driver_id":    driverID,
		"eta_minutes":  etaMinutes,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/passenger/ping", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ping submission: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("ping submission: %s", readDetail(resp))
	}
	var out struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ping decode: %w", err)
	}
	return out.RequestID, nil
}

func readDetail(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var e struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(b, &e) == nil && e.Detail != "" {
		return resp.Status + ": " + e.Detail
	}
	return resp.Status
}

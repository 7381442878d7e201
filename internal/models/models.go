package models

import "time"

// Role tags a presence connection so the relay can route events.
type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

// DriverStatus is the authoritative per-driver state.
type DriverStatus string

const (
	DriverOffline DriverStatus = "OFFLINE"
	DriverOnline  DriverStatus = "ONLINE"
	DriverPinged  DriverStatus = "PINGED"
	DriverMatched DriverStatus = "MATCHED"
)

// PingState tracks a passenger's outstanding request.
type PingState string

const (
	PingStateSending  PingState = "SENDING"
	PingStateAwaiting PingState = "AWAITING"
	PingStateAccepted PingState = "ACCEPTED"
	PingStateIgnored  PingState = "IGNORED"
	PingStateExpired  PingState = "EXPIRED"
)

// MatchOutcome is the terminal resolution of a ping.
type MatchOutcome string

const (
	OutcomeAccepted MatchOutcome = "ACCEPTED"
	OutcomeIgnored  MatchOutcome = "IGNORED"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DriverPresence is the relay's view of an online driver. Lat/Lng are only
// meaningful while Status != OFFLINE.
type DriverPresence struct {
	DriverID       string       `json:"driver_id"`
	Status         DriverStatus `json:"status"`
	Loc            Coord        `json:"loc"`
	Rating         float64      `json:"rating"`
	LastReportedAt time.Time    `json:"last_reported_at"`
}

// PingRequest is owned by the passenger controller that created it; the
// driver machine only ever holds the inbound NewPing view.
type PingRequest struct {
	ID          string    `json:"id"`
	PassengerID string    `json:"passenger_id"`
	DriverID    string    `json:"driver_id"`
	ETAMinutes  int       `json:"eta_minutes"`
	CreatedAt   time.Time `json:"created_at"`
	State       PingState `json:"state"`
}

// MatchResult is immutable once created and delivered exactly once per side.
type MatchResult struct {
	PassengerID string       `json:"passenger_id"`
	DriverID    string       `json:"driver_id"`
	ResolvedAt  time.Time    `json:"resolved_at"`
	Outcome     MatchOutcome `json:"outcome"`
}

// NearbyDriver is one candidate in the passenger's refreshed snapshot.
type NearbyDriver struct {
	DriverID   string  `json:"driver_id"`
	Loc        Coord   `json:"loc"`
	DistanceM  float64 `json:"distance_m"`
	ETASeconds float64 `json:"eta_seconds"`
	Rating     float64 `json:"rating"`
}

// Ride is the persisted lifecycle row for one ping.
type Ride struct {
	ID          string
	PassengerID string
	DriverID    string
	ETAMinutes  int
	Status      string // pinged, accepted, ignored, expired, cancelled
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

package models

// Presence channel event names. These are the wire contract shared with the
// mobile clients and must not change.
const (
	EventNewPing        = "new_ping"
	EventPingAccepted   = "ping_accepted"
	EventPingIgnored    = "ping_ignored"
	EventRideAccepted   = "ride_accepted"
	EventDriverLocation = "driver_location"
	EventDisconnect     = "disconnect"
)

// NewPing is delivered to a driver when a passenger pings them. PingID is
// echoed back in the accept so the relay can close the right ride row.
type NewPing struct {
	PingID      string `json:"ping_id"`
	PassengerID string `json:"passenger_id"`
	ETAMinutes  int    `json:"eta_minutes"`
}

// PingAccepted is emitted by the driver on accept.
type PingAccepted struct {
	PingID      string `json:"ping_id"`
	DriverID    string `json:"driver_id"`
	PassengerID string `json:"passenger_id"`
}

// PingIgnored is emitted by the driver on ignore and relayed to the passenger.
type PingIgnored struct {
	DriverID    string `json:"driver_id"`
	PassengerID string `json:"passenger_id"`
}

// RideAccepted is delivered to the passenger whose ping was accepted.
type RideAccepted struct {
	DriverID string `json:"driver_id"`
}

// DriverLocation is the periodic position sample from an online driver.
type DriverLocation struct {
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

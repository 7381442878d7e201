package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/geo"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/observability"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/storage"
)

var (
	// ErrDriverUnavailable means the driver already has a pending or
	// accepted ping. Drivers handle one passenger at a time.
	ErrDriverUnavailable = errors.New("relay: driver unavailable")
	ErrDriverOffline     = errors.New("relay: driver offline")
)

// Notifier delivers relay events to a user. notify.Notifier satisfies it.
type Notifier interface {
	Notify(userID, event string, payload any) error
}

// LocationPublisher hands location samples to the ingest pipeline.
type LocationPublisher interface {
	PublishLocation(loc models.DriverLocation) error
}

// FareHolder places and releases fare holds around a match.
type FareHolder interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Release(ctx context.Context, paymentIntentID string) error
}

// Router arbitrates the ping lifecycle. Driver status is single-assignment:
// an ONLINE driver moves to PINGED on the first accepted submission and no
// further pings reach them until they decide or the ping expires.
type Router struct {
	Log           *slog.Logger
	Presence      geo.Presence
	Rides         storage.RideStore
	Notify        Notifier
	Ingest        LocationPublisher // optional; nil routes samples straight to Presence
	Fares         FareHolder        // optional
	FareHoldPaise int64
	PingExpiry    time.Duration

	mu      sync.Mutex
	pending map[string]string // driverID -> rideID while status is pinged
	holds   map[string]string // rideID -> payment intent id
}

func NewRouter(log *slog.Logger, presence geo.Presence, rides storage.RideStore, n Notifier) *Router {
	return &Router{
		Log:        log,
		Presence:   presence,
		Rides:      rides,
		Notify:     n,
		PingExpiry: time.Minute,
		pending:    make(map[string]string),
		holds:      make(map[string]string),
	}
}

// SubmitPing records the passenger's request, marks the driver PINGED and
// forwards new_ping to them. Returns the ride id the passenger polls on.
func (rt *Router) SubmitPing(ctx context.Context, passengerID, driverID string, etaMinutes int) (string, error) {
	d, err := rt.Presence.Get(ctx, driverID)
	if err != nil {
		return "", ErrDriverOffline
	}
	if d.Status != models.DriverOnline {
		return "", ErrDriverUnavailable
	}

	now := time.Now()
	ride := &models.Ride{
		ID:          uuid.NewString(),
		PassengerID: passengerID,
		DriverID:    driverID,
		ETAMinutes:  etaMinutes,
		Status:      storage.RidePinged,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	rt.mu.Lock()
	if _, busy := rt.pending[driverID]; busy {
		rt.mu.Unlock()
		return "", ErrDriverUnavailable
	}
	rt.pending[driverID] = ride.ID
	rt.mu.Unlock()

	if err := rt.Rides.CreateRide(ctx, ride); err != nil {
		rt.clearPending(driverID, ride.ID)
		return "", err
	}
	if err := rt.Presence.SetStatus(ctx, driverID, models.DriverPinged); err != nil {
		rt.clearPending(driverID, ride.ID)
		return "", err
	}

	observability.PingsTotal.WithLabelValues("sent").Inc()
	payload := models.NewPing{PingID: ride.ID, PassengerID: passengerID, ETAMinutes: etaMinutes}
	if err := rt.Notify.Notify(driverID, models.EventNewPing, payload); err != nil {
		rt.Log.Warn("new_ping undeliverable", "driver_id", driverID, "ride_id", ride.ID, "err", err)
	}
	return ride.ID, nil
}

// HandleFrame implements the hub inbound. Events from unexpected roles are
// dropped; the sender's session id always overrides ids inside the payload.
func (rt *Router) HandleFrame(userID string, role models.Role, event string, data json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch {
	case event == models.EventPingAccepted && role == models.RoleDriver:
		var p models.PingAccepted
		if err := json.Unmarshal(data, &p); err != nil {
			rt.drop(event, "bad_payload")
			return
		}
		rt.handleAccepted(ctx, userID, p)
	case event == models.EventPingIgnored && role == models.RoleDriver:
		var p models.PingIgnored
		if err := json.Unmarshal(data, &p); err != nil {
			rt.drop(event, "bad_payload")
			return
		}
		rt.handleIgnored(ctx, userID, p)
	case event == models.EventDriverLocation && role == models.RoleDriver:
		var p models.DriverLocation
		if err := json.Unmarshal(data, &p); err != nil {
			rt.drop(event, "bad_payload")
			return
		}
		p.DriverID = userID
		rt.handleLocation(ctx, p)
	default:
		rt.drop(event, "unexpected")
	}
}

// HandleGone implements the hub inbound disconnect path. A driver who drops
// mid-ping leaves the passenger waiting, so the pending ride expires now
// rather than at the sweep.
func (rt *Router) HandleGone(userID string, role models.Role) {
	if role != models.RoleDriver {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rt.mu.Lock()
	rideID, had := rt.pending[userID]
	delete(rt.pending, userID)
	rt.mu.Unlock()

	if had {
		rt.expireRide(ctx, rideID, userID, false)
	}
	// a driver who already went offline gracefully has no presence left;
	// only decrement the gauge when this disconnect removes one
	if _, err := rt.Presence.Get(ctx, userID); err == nil {
		if err := rt.Presence.SetOffline(ctx, userID); err != nil {
			rt.Log.Warn("set offline failed", "driver_id", userID, "err", err)
		}
		observability.DriversOnline.Dec()
	}
}

func (rt *Router) handleAccepted(ctx context.Context, driverID string, p models.PingAccepted) {
	rt.mu.Lock()
	rideID, ok := rt.pending[driverID]
	if !ok || (p.PingID != "" && p.PingID != rideID) {
		rt.mu.Unlock()
		rt.drop(models.EventPingAccepted, "no_pending")
		return
	}
	delete(rt.pending, driverID)
	rt.mu.Unlock()

	ride, err := rt.Rides.GetRide(ctx, rideID)
	if err != nil || ride.Status != storage.RidePinged {
		rt.drop(models.EventPingAccepted, "stale")
		return
	}
	if err := rt.Rides.UpdateStatus(ctx, rideID, storage.RideAccepted); err != nil {
		rt.Log.Error("ride accept persist failed", "ride_id", rideID, "err", err)
		return
	}
	if err := rt.Presence.SetStatus(ctx, driverID, models.DriverMatched); err != nil {
		rt.Log.Warn("status update failed", "driver_id", driverID, "err", err)
	}

	if rt.Fares != nil && rt.FareHoldPaise > 0 {
		if piID, err := rt.Fares.Hold(ctx, rt.FareHoldPaise, "inr", ride.PassengerID); err == nil {
			rt.mu.Lock()
			rt.holds[rideID] = piID
			rt.mu.Unlock()
		} else {
			rt.Log.Warn("fare hold failed", "ride_id", rideID, "err", err)
		}
	}

	observability.PingsTotal.WithLabelValues("accepted").Inc()
	observability.MatchesTotal.Inc()
	if err := rt.Notify.Notify(ride.PassengerID, models.EventRideAccepted, models.RideAccepted{DriverID: driverID}); err != nil {
		rt.Log.Warn("ride_accepted undeliverable", "passenger_id", ride.PassengerID, "err", err)
	}
}

func (rt *Router) handleIgnored(ctx context.Context, driverID string, p models.PingIgnored) {
	rt.mu.Lock()
	rideID, ok := rt.pending[driverID]
	delete(rt.pending, driverID)
	rt.mu.Unlock()
	if !ok {
		rt.drop(models.EventPingIgnored, "no_pending")
		return
	}

	ride, err := rt.Rides.GetRide(ctx, rideID)
	if err != nil {
		return
	}
	if err := rt.Rides.UpdateStatus(ctx, rideID, storage.RideIgnored); err != nil {
		rt.Log.Error("ride ignore persist failed", "ride_id", rideID, "err", err)
	}
	if err := rt.Presence.SetStatus(ctx, driverID, models.DriverOnline); err != nil {
		rt.Log.Warn("status update failed", "driver_id", driverID, "err", err)
	}

	observability.PingsTotal.WithLabelValues("ignored").Inc()
	payload := models.PingIgnored{DriverID: driverID, PassengerID: ride.PassengerID}
	if err := rt.Notify.Notify(ride.PassengerID, models.EventPingIgnored, payload); err != nil {
		rt.Log.Warn("ping_ignored undeliverable", "passenger_id", ride.PassengerID, "err", err)
	}
}

func (rt *Router) handleLocation(ctx context.Context, p models.DriverLocation) {
	observability.LocationSamples.Inc()
	if rt.Ingest != nil {
		if err := rt.Ingest.PublishLocation(p); err == nil {
			return
		}
		rt.Log.Warn("location publish failed, applying directly", "driver_id", p.DriverID)
	}
	if err := rt.Presence.UpdateLocation(ctx, p.DriverID, models.Coord{Lat: p.Lat, Lng: p.Lng}); err != nil {
		rt.drop(models.EventDriverLocation, "unknown_driver")
	}
}

// ExpireStale sweeps rides that sat in pinged state past the expiry window.
// The passenger's own client timeout usually fires first; this is the
// backstop that frees the driver.
func (rt *Router) ExpireStale(ctx context.Context) {
	cutoff := time.Now().Add(-rt.PingExpiry)
	stale, err := rt.Rides.StalePinged(ctx, cutoff)
	if err != nil {
		rt.Log.Error("expiry sweep failed", "err", err)
		return
	}
	for _, ride := range stale {
		rt.mu.Lock()
		if rt.pending[ride.DriverID] == ride.ID {
			delete(rt.pending, ride.DriverID)
		}
		rt.mu.Unlock()
		rt.expireRide(ctx, ride.ID, ride.DriverID, true)
	}
}

func (rt *Router) expireRide(ctx context.Context, rideID, driverID string, restoreOnline bool) {
	if err := rt.Rides.UpdateStatus(ctx, rideID, storage.RideExpired); err != nil {
		rt.Log.Warn("ride expire persist failed", "ride_id", rideID, "err", err)
		return
	}
	if restoreOnline {
		if err := rt.Presence.SetStatus(ctx, driverID, models.DriverOnline); err != nil {
			rt.Log.Warn("status restore failed", "driver_id", driverID, "err", err)
		}
	}
	rt.releaseHold(ctx, rideID)
	observability.PingsTotal.WithLabelValues("expired").Inc()
}

// CancelRide releases an accepted ride, restoring the driver to ONLINE and
// releasing any fare hold.
func (rt *Router) CancelRide(ctx context.Context, rideID string) error {
	ride, err := rt.Rides.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if err := rt.Rides.UpdateStatus(ctx, rideID, storage.RideCancelled); err != nil {
		return err
	}
	if err := rt.Presence.SetStatus(ctx, ride.DriverID, models.DriverOnline); err != nil {
		rt.Log.Warn("status restore failed", "driver_id", ride.DriverID, "err", err)
	}
	rt.releaseHold(ctx, rideID)
	return nil
}

func (rt *Router) releaseHold(ctx context.Context, rideID string) {
	rt.mu.Lock()
	piID, ok := rt.holds[rideID]
	delete(rt.holds, rideID)
	rt.mu.Unlock()
	if ok && rt.Fares != nil {
		if err := rt.Fares.Release(ctx, piID); err != nil {
			rt.Log.Warn("fare hold release failed", "ride_id", rideID, "err", err)
		}
	}
}

func (rt *Router) clearPending(driverID, rideID string) {
	rt.mu.Lock()
	if rt.pending[driverID] == rideID {
		delete(rt.pending, driverID)
	}
	rt.mu.Unlock()
}

func (rt *Router) drop(event, reason string) {
	observability.DroppedEvents.WithLabelValues(event, reason).Inc()
	rt.Log.Debug("event dropped", "event", event, "reason", reason)
}

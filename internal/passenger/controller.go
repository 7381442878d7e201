// Package passenger implements the ping controller: candidate selection and
// request lifecycle IDLE → SENDING → AWAITING → resolution.
package passenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/match"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/presence"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/rest"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/session"
)

var (
	// ErrAwaiting rejects a second ping while one is outstanding. No
	// queueing: one passenger, one pending request.
	ErrAwaiting = errors.New("passenger: request already awaiting")
	// ErrBadETA rejects an eta outside the offered choices.
	ErrBadETA = errors.New("passenger: eta not among offered choices")
	// ErrNotConnected reports a send attempted without a live channel.
	ErrNotConnected = errors.New("passenger: presence channel not connected")
	// ErrRideActive rejects a new ping while an accepted ride is still
	// active; Reset returns the controller to IDLE first.
	ErrRideActive = errors.New("passenger: accepted ride still active")
)

// State is the controller's request lifecycle state.
type State string

const (
	StateIdle     State = "IDLE"
	StateSending  State = "SENDING"
	StateAwaiting State = "AWAITING"
	StateAccepted State = "ACCEPTED"
)

// Channel is the slice of the presence channel the controller needs.
type Channel interface {
	Connect(ctx context.Context, userID string, role models.Role) error
	Disconnect()
	On(event string, h presence.Handler)
	Connected() bool
}

// API is the REST collaborator: nearby discovery and ping submission.
type API interface {
	NearbyDrivers(ctx context.Context, lat, lng float64) ([]rest.NearbyDriver, error)
	PingDriver(ctx context.Context, passengerID, driverID string, etaMinutes int) (string, error)
}

type Config struct {
	Session     session.Session
	Channel     Channel
	API         API
	ETAChoices  []int
	PingTimeout time.Duration
	Logger      *slog.Logger

	// OnResult receives the terminal MatchResult exactly once per request.
	OnResult func(models.MatchResult)
	// OnExpired is notified when an AWAITING request times out locally.
	OnExpired func(models.PingRequest)
}

// Controller owns the passenger's PingRequest exclusively from creation to
// resolution. Handlers are bound once at construction.
type Controller struct {
	cfg   Config
	log   *slog.Logger
	coord *match.Coordinator

	mu         sync.Mutex
	state      State
	selected   string
	timer      *time.Timer
	candidates []rest.NearbyDriver
}

func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg, log: cfg.Logger, state: StateIdle}
	c.coord = match.NewCoordinator(cfg.Logger, cfg.OnResult)
	cfg.Channel.On(models.EventRideAccepted, c.handleRideAccepted)
	cfg.Channel.On(models.EventPingIgnored, c.handlePingIgnored)
	cfg.Channel.On(models.EventDisconnect, c.handleDisconnect)
	return c
}

// Connect opens the passenger's presence channel.
func (c *Controller) Connect(ctx context.Context) error {
	if !c.cfg.Session.Valid() {
		return session.ErrNoSession
	}
	return c.cfg.Channel.Connect(ctx, c.cfg.Session.UserID, models.RolePassenger)
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Selected returns the currently selected candidate driver, if any.
func (c *Controller) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Outstanding exposes the tracked request for the UI.
func (c *Controller) Outstanding() (models.PingRequest, bool) {
	return c.coord.Outstanding()
}

// SelectDriver picks a candidate. Selection is only honoured from IDLE; once
// a request is outstanding the selection is locked and the call is a no-op.
func (c *Controller) SelectDriver(driverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		c.log.Debug("selection locked during outstanding request", "driver_id", driverID, "state", c.state)
		return
	}
	c.selected = driverID
}

// ClearSelection deselects the candidate; locked like SelectDriver.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return
	}
	c.selected = ""
}

// Refresh polls the nearby-driver query and replaces the candidate set. An
// empty or failed result degrades to "no drivers found"; it never errors
// into the caller.
func (c *Controller) Refresh(ctx context.Context, lat, lng float64) []rest.NearbyDriver {
	drivers, err := c.cfg.API.NearbyDrivers(ctx, lat, lng)
	if err != nil {
		c.log.Warn("nearby refresh failed", "err", err)
		drivers = nil
	}
	c.mu.Lock()
	c.candidates = drivers
	c.mu.Unlock()
	return drivers
}

// Candidates returns the last refreshed snapshot.
func (c *Controller) Candidates() []rest.NearbyDriver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.candidates
}

// SendPing submits the pickup request: IDLE → SENDING → AWAITING. A REST or
// channel failure reverts to IDLE and is returned to the caller, no silent
// hang. A second call while AWAITING is rejected, and an ACCEPTED request
// blocks new pings until Reset.
func (c *Controller) SendPing(ctx context.Context, driverID string, etaMinutes int) error {
	if !c.cfg.Session.Valid() {
		return session.ErrNoSession
	}
	if !c.etaOffered(etaMinutes) {
		return fmt.Errorf("%w: %d", ErrBadETA, etaMinutes)
	}

	c.mu.Lock()
	if c.state == StateAwaiting || c.state == StateSending {
		c.mu.Unlock()
		return ErrAwaiting
	}
	if c.state == StateAccepted {
		c.mu.Unlock()
		return ErrRideActive
	}
	if !c.cfg.Channel.Connected() {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.state = StateSending
	c.selected = driverID
	c.mu.Unlock()

	reqID, err := c.cfg.API.PingDriver(ctx, c.cfg.Session.UserID, driverID, etaMinutes)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return fmt.Errorf("ping delivery failed: %w", err)
	}

	req := models.PingRequest{
		ID:          reqID,
		PassengerID: c.cfg.Session.UserID,
		DriverID:    driverID,
		ETAMinutes:  etaMinutes,
		CreatedAt:   time.Now(),
		State:       models.PingStateAwaiting,
	}
	c.coord.Track(req)

	c.mu.Lock()
	c.state = StateAwaiting
	c.timer = time.AfterFunc(c.cfg.PingTimeout, c.expire)
	c.mu.Unlock()

	c.log.Info("ping sent", "request_id", reqID, "driver_id", driverID, "eta_minutes", etaMinutes)
	return nil
}

// Reset returns to IDLE after a terminal ACCEPTED request, once the ride
// lifecycle is done with it.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAccepted {
		c.state = StateIdle
		c.selected = ""
	}
}

func (c *Controller) etaOffered(eta int) bool {
	for _, v := range c.cfg.ETAChoices {
		if v == eta {
			return true
		}
	}
	return false
}

func (c *Controller) handleRideAccepted(data json.RawMessage) {
	var evt models.RideAccepted
	if err := json.Unmarshal(data, &evt); err != nil {
		c.log.Warn("malformed ride_accepted dropped", "err", err)
		return
	}
	if _, ok := c.coord.ResolveAccept(evt.DriverID); !ok {
		return
	}
	c.mu.Lock()
	c.state = StateAccepted
	c.stopTimerLocked()
	c.mu.Unlock()
	c.log.Info("ride accepted", "driver_id", evt.DriverID)
}

func (c *Controller) handlePingIgnored(data json.RawMessage) {
	var evt models.PingIgnored
	if err := json.Unmarshal(data, &evt); err != nil {
		c.log.Warn("malformed ping_ignored dropped", "err", err)
		return
	}
	if _, ok := c.coord.ResolveIgnore(evt.DriverID); !ok {
		return
	}
	c.mu.Lock()
	c.state = StateIdle
	c.selected = ""
	c.stopTimerLocked()
	c.mu.Unlock()
	c.log.Info("ping ignored by driver", "driver_id", evt.DriverID)
}

// handleDisconnect leaves an outstanding request in place: the expiry timer
// still bounds it, and the relay keeps its own sweep.
func (c *Controller) handleDisconnect(json.RawMessage) {
	c.log.Warn("presence lost")
}

func (c *Controller) expire() {
	req, ok := c.coord.Expire()
	if !ok {
		return
	}
	req.State = models.PingStateExpired

	c.mu.Lock()
	if c.state == StateAwaiting {
		c.state = StateIdle
		c.selected = ""
	}
	c.timer = nil
	c.mu.Unlock()

	c.log.Info("ping expired", "request_id", req.ID, "driver_id", req.DriverID)
	if c.cfg.OnExpired != nil {
		c.cfg.OnExpired(req)
	}
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

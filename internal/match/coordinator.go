// Package match reconciles the driver's asynchronous accept/ignore decision
// with the passenger's pending request, producing the terminal MatchResult.
package match

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

// Sink receives each MatchResult exactly once.
type Sink func(models.MatchResult)

// Coordinator guards against cross-talk: an inbound decision must correspond
// to the tracked outstanding request's driver, otherwise it is dropped and
// logged. Cross-channel ordering cannot be assumed, so stale events from a
// reused session are expected and must never be applied.
type Coordinator struct {
	log  *slog.Logger
	sink Sink

	mu          sync.Mutex
	outstanding *models.PingRequest
	delivered   map[string]bool // request IDs already resolved
}

func NewCoordinator(log *slog.Logger, sink Sink) *Coordinator {
	return &Coordinator{log: log, sink: sink, delivered: make(map[string]bool)}
}

// Track registers the passenger's outstanding request. At most one request
// is tracked at a time; tracking replaces any previous (already resolved)
// request.
func (c *Coordinator) Track(req models.PingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outstanding = &req
}

// Outstanding returns the tracked request, if any.
func (c *Coordinator) Outstanding() (models.PingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outstanding == nil {
		return models.PingRequest{}, false
	}
	return *c.outstanding, true
}

// ResolveAccept applies a ride_accepted decision. Returns the result and
// true when the event matched the outstanding request and was applied for
// the first time; duplicates and mismatches return false.
func (c *Coordinator) ResolveAccept(driverID string) (models.MatchResult, bool) {
	return c.resolve(driverID, models.OutcomeAccepted)
}

// ResolveIgnore applies a ping_ignored decision under the same rules.
func (c *Coordinator) ResolveIgnore(driverID string) (models.MatchResult, bool) {
	return c.resolve(driverID, models.OutcomeIgnored)
}

// Expire abandons the outstanding request without a driver decision. Returns
// the request that was abandoned, if one was tracked.
func (c *Coordinator) Expire() (models.PingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outstanding == nil {
		return models.PingRequest{}, false
	}
	req := *c.outstanding
	c.delivered[req.ID] = true
	c.outstanding = nil
	return req, true
}

func (c *Coordinator) resolve(driverID string, outcome models.MatchOutcome) (models.MatchResult, bool) {
	c.mu.Lock()
	if c.outstanding == nil {
		c.mu.Unlock()
		c.log.Info("decision without outstanding request dropped", "driver_id", driverID, "outcome", outcome)
		return models.MatchResult{}, false
	}
	req := *c.outstanding
	if req.DriverID != driverID {
		c.mu.Unlock()
		c.log.Warn("decision for wrong driver dropped", "got", driverID, "want", req.DriverID, "outcome", outcome)
		return models.MatchResult{}, false
	}
	if c.delivered[req.ID] {
		c.mu.Unlock()
		c.log.Info("duplicate decision dropped", "request_id", req.ID)
		return models.MatchResult{}, false
	}
	c.delivered[req.ID] = true
	c.outstanding = nil
	c.mu.Unlock()

	res := models.MatchResult{
		PassengerID: req.PassengerID,
		DriverID:    req.DriverID,
		ResolvedAt:  time.Now(),
		Outcome:     outcome,
	}
	if c.sink != nil {
		c.sink(res)
	}
	return res, true
}

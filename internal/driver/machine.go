// Package driver implements the authoritative per-driver status machine:
// OFFLINE → ONLINE → PINGED → MATCHED, with the documented reversions
// PINGED → ONLINE (ignore), MATCHED → ONLINE (cancel) and any → OFFLINE.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/location"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/presence"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/session"
)

var (
	// ErrNotPinged marks an accept/ignore without a pending ping. Should be
	// unreachable through the UI; treated as a logged invariant violation.
	ErrNotPinged = errors.New("driver: no pending ping")
	// ErrNotMatched marks a cancel outside the MATCHED state.
	ErrNotMatched = errors.New("driver: not matched")
)

// Channel is the slice of the presence channel the machine needs.
type Channel interface {
	Connect(ctx context.Context, userID string, role models.Role) error
	Disconnect()
	Emit(event string, payload any)
	On(event string, h presence.Handler)
}

// Reporter starts and stops periodic location emission.
type Reporter interface {
	Start(driverID string, src location.Source)
	Stop()
}

// Registry is the relay's REST registration contract. The ONLINE/OFFLINE
// transitions only complete when the matching call succeeds.
type Registry interface {
	GoOnline(ctx context.Context, driverID string) error
	GoOffline(ctx context.Context, driverID string) error
}

// Config wires a Machine. Source supplies the position for location samples.
// ReportWhileBusy keeps the reporter running through PINGED/MATCHED; when
// false it pauses on ping arrival and resumes on the return to ONLINE.
type Config struct {
	Session         session.Session
	Channel         Channel
	Reporter        Reporter
	Registry        Registry
	Source          location.Source
	ReportWhileBusy bool
	Logger          *slog.Logger

	// OnPing surfaces an inbound ping to the operator UI. Called off the
	// machine lock on the channel's dispatch goroutine.
	OnPing func(models.NewPing)
	// OnStatus observes every committed transition.
	OnStatus func(models.DriverStatus)
}

// Machine owns the driver's state. All mutation happens under one mutex;
// inbound events arrive on the channel's single dispatch goroutine, operator
// intent on the caller's.
type Machine struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	status  models.DriverStatus
	pending *models.NewPing
}

// NewMachine builds the machine and binds its channel handlers. Handlers are
// bound exactly once for the channel's lifetime, not per connect.
func NewMachine(cfg Config) *Machine {
	m := &Machine{cfg: cfg, log: cfg.Logger, status: models.DriverOffline}
	cfg.Channel.On(models.EventNewPing, m.handleNewPing)
	cfg.Channel.On(models.EventDisconnect, m.handleDisconnect)
	return m
}

// Status returns the current state.
func (m *Machine) Status() models.DriverStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Pending returns the unresolved inbound ping, if any.
func (m *Machine) Pending() (models.NewPing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return models.NewPing{}, false
	}
	return *m.pending, true
}

// GoOnline performs OFFLINE → ONLINE: register presence with the relay, open
// the channel, start the reporter. A registry or connect failure aborts the
// transition; the operator must retry manually.
func (m *Machine) GoOnline(ctx context.Context) error {
	if !m.cfg.Session.Valid() {
		return fmt.Errorf("cannot go online: %w", session.ErrNoSession)
	}

	m.mu.Lock()
	if m.status != models.DriverOffline {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	id := m.cfg.Session.UserID
	if err := m.cfg.Registry.GoOnline(ctx, id); err != nil {
		return fmt.Errorf("cannot go online: %w", err)
	}
	if err := m.cfg.Channel.Connect(ctx, id, models.RoleDriver); err != nil {
		// roll back the registration so the relay does not advertise a
		// driver with no live channel
		if offErr := m.cfg.Registry.GoOffline(ctx, id); offErr != nil {
			m.log.Warn("rollback deregistration failed", "driver_id", id, "err", offErr)
		}
		return fmt.Errorf("cannot go online: %w", err)
	}

	m.mu.Lock()
	m.status = models.DriverOnline
	m.mu.Unlock()

	m.cfg.Reporter.Start(id, m.cfg.Source)
	m.log.Info("driver online", "driver_id", id)
	m.notifyStatus(models.DriverOnline)
	return nil
}

// GoOffline performs any → OFFLINE: deregister, stop reporting, close the
// channel, drop any pending ping. Deregistration failure aborts the
// transition and is reported to the operator.
func (m *Machine) GoOffline(ctx context.Context) error {
	m.mu.Lock()
	if m.status == models.DriverOffline {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	id := m.cfg.Session.UserID
	if err := m.cfg.Registry.GoOffline(ctx, id); err != nil {
		return fmt.Errorf("cannot go offline: %w", err)
	}

	m.cfg.Reporter.Stop()
	m.cfg.Channel.Disconnect()

	m.mu.Lock()
	m.status = models.DriverOffline
	m.pending = nil
	m.mu.Unlock()

	m.log.Info("driver offline", "driver_id", id)
	m.notifyStatus(models.DriverOffline)
	return nil
}

// Accept performs PINGED → MATCHED and emits ping_accepted with the pending
// ping's identifiers.
func (m *Machine) Accept() error {
	m.mu.Lock()
	if m.status != models.DriverPinged || m.pending == nil {
		m.mu.Unlock()
		m.log.Warn("accept without pending ping", "status", m.Status())
		return ErrNotPinged
	}
	ping := *m.pending
	m.pending = nil
	m.status = models.DriverMatched
	m.mu.Unlock()

	m.cfg.Channel.Emit(models.EventPingAccepted, models.PingAccepted{
		PingID:      ping.PingID,
		DriverID:    m.cfg.Session.UserID,
		PassengerID: ping.PassengerID,
	})
	m.log.Info("ping accepted", "ping_id", ping.PingID, "passenger_id", ping.PassengerID)
	m.notifyStatus(models.DriverMatched)
	return nil
}

// Ignore performs PINGED → ONLINE and emits ping_ignored.
func (m *Machine) Ignore() error {
	m.mu.Lock()
	if m.status != models.DriverPinged || m.pending == nil {
		m.mu.Unlock()
		m.log.Warn("ignore without pending ping", "status", m.Status())
		return ErrNotPinged
	}
	ping := *m.pending
	m.pending = nil
	m.status = models.DriverOnline
	m.mu.Unlock()

	m.cfg.Channel.Emit(models.EventPingIgnored, models.PingIgnored{
		DriverID:    m.cfg.Session.UserID,
		PassengerID: ping.PassengerID,
	})
	m.resumeReportingIfPaused()
	m.log.Info("ping ignored", "ping_id", ping.PingID, "passenger_id", ping.PassengerID)
	m.notifyStatus(models.DriverOnline)
	return nil
}

// Cancel performs MATCHED → ONLINE, used when a matched ride is aborted
// before pickup. The ride-lifecycle collaborator owns any further protocol.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	if m.status != models.DriverMatched {
		m.mu.Unlock()
		return ErrNotMatched
	}
	m.status = models.DriverOnline
	m.mu.Unlock()

	m.resumeReportingIfPaused()
	m.log.Info("ride cancelled, back online", "driver_id", m.cfg.Session.UserID)
	m.notifyStatus(models.DriverOnline)
	return nil
}

// handleNewPing applies first-ping-wins: only an ONLINE driver surfaces the
// ping; while PINGED or MATCHED further pings are dropped, not queued;
// drivers are single-assignment.
func (m *Machine) handleNewPing(data json.RawMessage) {
	var ping models.NewPing
	if err := json.Unmarshal(data, &ping); err != nil {
		m.log.Warn("malformed new_ping dropped", "err", err)
		return
	}

	m.mu.Lock()
	if m.status != models.DriverOnline {
		st := m.status
		m.mu.Unlock()
		m.log.Info("ping dropped, driver busy", "ping_id", ping.PingID, "status", st)
		return
	}
	m.pending = &ping
	m.status = models.DriverPinged
	m.mu.Unlock()

	if !m.cfg.ReportWhileBusy {
		m.cfg.Reporter.Stop()
	}
	m.log.Info("ping received", "ping_id", ping.PingID, "passenger_id", ping.PassengerID, "eta_minutes", ping.ETAMinutes)
	m.notifyStatus(models.DriverPinged)
	if m.cfg.OnPing != nil {
		m.cfg.OnPing(ping)
	}
}

// handleDisconnect reacts to an unexpected channel loss: straight to OFFLINE,
// no automatic retry. The operator must go online again.
func (m *Machine) handleDisconnect(json.RawMessage) {
	m.mu.Lock()
	if m.status == models.DriverOffline {
		m.mu.Unlock()
		return
	}
	m.status = models.DriverOffline
	m.pending = nil
	m.mu.Unlock()

	m.cfg.Reporter.Stop()
	m.log.Warn("presence lost, driver offline", "driver_id", m.cfg.Session.UserID)
	m.notifyStatus(models.DriverOffline)
}

func (m *Machine) resumeReportingIfPaused() {
	if !m.cfg.ReportWhileBusy {
		m.cfg.Reporter.Start(m.cfg.Session.UserID, m.cfg.Source)
	}
}

func (m *Machine) notifyStatus(st models.DriverStatus) {
	if m.cfg.OnStatus != nil {
		m.cfg.OnStatus(st)
	}
}

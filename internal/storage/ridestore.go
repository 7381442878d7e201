package storage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

// Ride lifecycle statuses persisted by the relay.
const (
	RidePinged    = "pinged"
	RideAccepted  = "accepted"
	RideIgnored   = "ignored"
	RideExpired   = "expired"
	RideCancelled = "cancelled"
)

var ErrRideNotFound = errors.New("storage: ride not found")

// RideStore persists the ping lifecycle rows.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateStatus(ctx context.Context, id, status string) error
	// StalePinged returns rides still in pinged state created before cutoff,
	// for the expiry sweep.
	StalePinged(ctx context.Context, cutoff time.Time) ([]*models.Ride, error)
}

// UserStore backs the trivial phone+role login exchange.
type UserStore interface {
	UpsertUser(ctx context.Context, phone string, role models.Role) (string, error)
}

// MemoryStore keeps rides and users in process, for local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
	users map[string]string // phone -> id
	next  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride), users: make(map[string]string)}
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ErrRideNotFound
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) StalePinged(ctx context.Context, cutoff time.Time) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status == RidePinged && r.CreatedAt.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertUser(ctx context.Context, phone string, role models.Role) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.users[phone]; ok {
		return id, nil
	}
	m.next++
	id := "u-" + strconv.Itoa(m.next)
	m.users[phone] = id
	return id, nil
}

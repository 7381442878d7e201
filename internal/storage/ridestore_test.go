package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

func TestMemoryStoreRideLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ride := &models.Ride{
		ID:          "r1",
		PassengerID: "p1",
		DriverID:    "d1",
		ETAMinutes:  5,
		Status:      RidePinged,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.CreateRide(ctx, ride); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.UpdateStatus(ctx, "r1", RideAccepted); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetRide(ctx, "r1")
	if err != nil || got.Status != RideAccepted {
		t.Fatalf("get: %+v err=%v", got, err)
	}
}

func TestMemoryStoreUnknownRide(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetRide(context.Background(), "nope"); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
	if err := s.UpdateStatus(context.Background(), "nope", RideExpired); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
}

func TestStalePingedOnlyReturnsOldPinged(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Minute)
	s.CreateRide(ctx, &models.Ride{ID: "stale", DriverID: "d1", Status: RidePinged, CreatedAt: old})
	s.CreateRide(ctx, &models.Ride{ID: "fresh", DriverID: "d2", Status: RidePinged, CreatedAt: time.Now()})
	s.CreateRide(ctx, &models.Ride{ID: "done", DriverID: "d3", Status: RideAccepted, CreatedAt: old})

	stale, err := s.StalePinged(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "stale" {
		t.Fatalf("got %+v, want only the stale pinged ride", stale)
	}
}

func TestUpsertUserIsStablePerPhone(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, err := s.UpsertUser(ctx, "9876543210", models.RoleDriver)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	b, _ := s.UpsertUser(ctx, "9876543210", models.RoleDriver)
	if a != b {
		t.Fatalf("ids differ for same phone: %q vs %q", a, b)
	}
	c, _ := s.UpsertUser(ctx, "9876543211", models.RolePassenger)
	if c == a {
		t.Fatal("distinct phones share an id")
	}
}

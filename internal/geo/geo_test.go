package geo

import (
	"context"
	"testing"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

func TestHaversineZero(t *testing.T) {
	if d := Haversine(0, 0, 0, 0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestNearbyExcludesBusyDrivers(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	_ = idx.SetOnline(ctx, models.DriverPresence{DriverID: "free", Loc: models.Coord{Lat: 12.97, Lng: 77.59}})
	_ = idx.SetOnline(ctx, models.DriverPresence{DriverID: "busy", Loc: models.Coord{Lat: 12.97, Lng: 77.59}})
	if err := idx.SetStatus(ctx, "busy", models.DriverPinged); err != nil {
		t.Fatalf("set status: %v", err)
	}

	out, err := idx.Nearby(ctx, 12.97, 77.59, 2000, 10)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(out) != 1 || out[0].DriverID != "free" {
		t.Fatalf("nearby = %+v", out)
	}
}

func TestNearbyRespectsRadiusAndOrder(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	_ = idx.SetOnline(ctx, models.DriverPresence{DriverID: "near", Loc: models.Coord{Lat: 12.9701, Lng: 77.5901}})
	_ = idx.SetOnline(ctx, models.DriverPresence{DriverID: "far", Loc: models.Coord{Lat: 12.99, Lng: 77.62}})
	_ = idx.SetOnline(ctx, models.DriverPresence{DriverID: "other-city", Loc: models.Coord{Lat: 19.07, Lng: 72.87}})

	out, err := idx.Nearby(ctx, 12.97, 77.59, 5000, 10)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 in radius, got %d", len(out))
	}
	if out[0].DriverID != "near" {
		t.Fatalf("closest first, got %s", out[0].DriverID)
	}
}

func TestSetOfflineRemovesDriver(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	_ = idx.SetOnline(ctx, models.DriverPresence{DriverID: "d1", Loc: models.Coord{Lat: 1, Lng: 1}})
	_ = idx.SetOffline(ctx, "d1")
	if _, err := idx.Get(ctx, "d1"); err != ErrUnknownDriver {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestRankPrefersHigherRatingAtEqualETA(t *testing.T) {
	cands := []models.NearbyDriver{
		{DriverID: "A", ETASeconds: 120, Rating: 4.0},
		{DriverID: "B", ETASeconds: 120, Rating: 5.0},
	}
	Rank(cands)
	if cands[0].DriverID != "B" {
		t.Fatalf("expected B first, got %s", cands[0].DriverID)
	}
}

package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

type fakeUpdater struct {
	failGeo  int // times GeoAdd fails before succeeding
	failH    int // times HSet fails before succeeding
	geoCalls int
	hCalls   int
	lastKey  string
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	f.lastKey = key
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func TestUpdateRedisWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	loc := models.DriverLocation{DriverID: "d1", Lat: 12.97, Lng: 77.59}
	start := time.Now()
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", loc, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("expected at least one backoff")
	}
	if f.lastKey != "drivers_geo" {
		t.Fatalf("geo key = %q", f.lastKey)
	}
}

func TestUpdateRedisWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	loc := models.DriverLocation{DriverID: "d1", Lat: 1, Lng: 2}
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", loc, 3, 5*time.Millisecond); err == nil {
		t.Fatal("expected error after retries")
	}
}

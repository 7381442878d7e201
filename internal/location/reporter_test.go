package location

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

type captureEmitter struct {
	mu      sync.Mutex
	samples []models.DriverLocation
}

func (c *captureEmitter) Emit(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := payload.(models.DriverLocation); ok {
		c.samples = append(c.samples, s)
	}
}

func (c *captureEmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestReporterEmitsPeriodically(t *testing.T) {
	em := &captureEmitter{}
	r := NewReporter(em, 10*time.Millisecond, testLogger())
	r.Start("d1", func() models.Coord { return models.Coord{Lat: 12.97, Lng: 77.59} })
	defer r.Stop()

	deadline := time.After(time.Second)
	for em.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 samples, got %d", em.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	em.mu.Lock()
	first := em.samples[0]
	em.mu.Unlock()
	if first.DriverID != "d1" || first.Lat != 12.97 || first.Lng != 77.59 {
		t.Fatalf("bad sample: %+v", first)
	}
}

func TestStartIsReentrantNoOp(t *testing.T) {
	em := &captureEmitter{}
	r := NewReporter(em, time.Hour, testLogger())
	r.Start("d1", func() models.Coord { return models.Coord{} })
	r.Start("d1", func() models.Coord { return models.Coord{} })
	defer r.Stop()

	time.Sleep(50 * time.Millisecond)
	// only the immediate first sample from the single running loop
	if got := em.count(); got != 1 {
		t.Fatalf("expected 1 sample from a single loop, got %d", got)
	}
}

func TestStopSuppressesPendingFirstSample(t *testing.T) {
	em := &captureEmitter{}
	r := NewReporter(em, time.Hour, testLogger())
	r.Start("d1", func() models.Coord { return models.Coord{} })
	r.Stop()

	// Stop is a barrier: even if the sampler goroutine had not yet taken
	// its immediate first sample, nothing may be emitted once Stop returns
	n := em.count()
	time.Sleep(30 * time.Millisecond)
	if got := em.count(); got != n {
		t.Fatalf("sample emitted after Stop: %d -> %d", n, got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	em := &captureEmitter{}
	r := NewReporter(em, 5*time.Millisecond, testLogger())
	r.Start("d1", func() models.Coord { return models.Coord{} })
	r.Stop()
	r.Stop()
	if r.Running() {
		t.Fatal("reporter still running after Stop")
	}

	n := em.count()
	time.Sleep(30 * time.Millisecond)
	if em.count() != n {
		t.Fatal("samples emitted after Stop")
	}
}

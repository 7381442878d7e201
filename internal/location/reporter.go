package location

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

// Emitter is the slice of the presence channel the reporter needs.
type Emitter interface {
	Emit(event string, payload any)
}

// Source yields the driver's current position. It is called once per sample
// on the reporter goroutine and must not block on user interaction.
type Source func() models.Coord

// Reporter periodically emits driver_location samples while a driver is
// online. Samples are at-most-effort: no acknowledgement, no retry. A lost
// sample is corrected by the next one.
type Reporter struct {
	emitter  Emitter
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

func NewReporter(emitter Emitter, interval time.Duration, log *slog.Logger) *Reporter {
	return &Reporter{emitter: emitter, interval: interval, log: log}
}

// Start begins periodic emission. Re-entrant calls while already running are
// no-ops.
func (r *Reporter) Start(driverID string, src Source) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	stop := make(chan struct{})
	r.stop = stop
	r.mu.Unlock()

	r.log.Info("location reporting started", "driver_id", driverID, "interval", r.interval)
	go r.run(driverID, src, stop)
}

// Stop cancels the periodic emission. Idempotent, and safe to call from an
// event handler on the same channel the reporter emits to.
func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stop)
	r.stop = nil
	r.log.Info("location reporting stopped")
}

// Running reports whether the sampler is active.
func (r *Reporter) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reporter) run(driverID string, src Source, stop chan struct{}) {
	// first sample immediately so the driver shows up without waiting a
	// full period; a Stop that raced the goroutine start suppresses it
	if !r.sample(driverID, src, stop) {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.sample(driverID, src, stop)
		}
	}
}

// sample emits one location unless this run has been stopped. Emitting under
// the lock makes Stop a barrier: once Stop returns, no sample from the old
// run can leave.
func (r *Reporter) sample(driverID string, src Source, stop chan struct{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.stop != stop {
		return false
	}
	loc := src()
	r.emitter.Emit(models.EventDriverLocation, models.DriverLocation{
		DriverID: driverID,
		Lat:      loc.Lat,
		Lng:      loc.Lng,
	})
	return true
}

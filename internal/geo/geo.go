package geo

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

// ErrUnknownDriver is returned for operations on a driver with no presence.
var ErrUnknownDriver = errors.New("geo: unknown driver")

// Presence is the relay's driver presence index: who is online, where, and
// in which status. The relay is the single arbiter of driver status, so all
// status writes funnel through here.
type Presence interface {
	SetOnline(ctx context.Context, d models.DriverPresence) error
	SetOffline(ctx context.Context, driverID string) error
	SetStatus(ctx context.Context, driverID string, st models.DriverStatus) error
	UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error
	Get(ctx context.Context, driverID string) (models.DriverPresence, error)
	// Nearby returns ONLINE drivers within radiusM of the point, closest
	// first, at most limit. PINGED and MATCHED drivers are not offered.
	Nearby(ctx context.Context, lat, lng, radiusM float64, limit int) ([]models.DriverPresence, error)
}

// Index is the in-memory Presence used for local runs and tests.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverPresence
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.DriverPresence)}
}

func (g *Index) SetOnline(ctx context.Context, d models.DriverPresence) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Status = models.DriverOnline
	d.LastReportedAt = time.Now()
	g.drivers[d.DriverID] = d
	return nil
}

func (g *Index) SetOffline(ctx context.Context, driverID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, driverID)
	return nil
}

func (g *Index) SetStatus(ctx context.Context, driverID string, st models.DriverStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[driverID]
	if !ok {
		return ErrUnknownDriver
	}
	d.Status = st
	g.drivers[driverID] = d
	return nil
}

func (g *Index) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[driverID]
	if !ok {
		return ErrUnknownDriver
	}
	d.Loc = loc
	d.LastReportedAt = time.Now()
	g.drivers[driverID] = d
	return nil
}

func (g *Index) Get(ctx context.Context, driverID string) (models.DriverPresence, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.drivers[driverID]
	if !ok {
		return models.DriverPresence{}, ErrUnknownDriver
	}
	return d, nil
}

// naive scan; the redis implementation serves real deployments
func (g *Index) Nearby(ctx context.Context, lat, lng, radiusM float64, limit int) ([]models.DriverPresence, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		d    models.DriverPresence
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if d.Status != models.DriverOnline {
			continue
		}
		dist := Haversine(lat, lng, d.Loc.Lat, d.Loc.Lng)
		if dist > radiusM {
			continue
		}
		arr = append(arr, pair{d, dist})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.DriverPresence, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.d)
	}
	return out, nil
}

// Rank orders nearby candidates for presentation: sooner and better-rated
// first, cost = eta + 30*(5 - rating).
func Rank(cands []models.NearbyDriver) {
	sort.Slice(cands, func(i, j int) bool {
		return cost(cands[i]) < cost(cands[j])
	})
}

func cost(d models.NearbyDriver) float64 {
	return d.ETASeconds + 30.0*(5.0-d.Rating)
}

// Haversine distance in meters
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

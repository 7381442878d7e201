package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/eta"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/geo"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/relay"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/storage"
)

type nullNotifier struct{}

func (nullNotifier) Notify(userID, event string, payload any) error { return nil }

func newTestServer(t *testing.T) (*Server, *geo.Index) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	idx := geo.NewIndex()
	store := storage.NewMemoryStore()
	rt := relay.NewRouter(log, idx, store, nullNotifier{})
	s := NewServer(Config{
		Logger:        log,
		Presence:      idx,
		Users:         store,
		Router:        rt,
		Hub:           relay.NewHub(log, rt),
		ETA:           &eta.Estimator{DefaultSpeedMps: 5.5},
		NearbyRadiusM: 2000,
		NearbyLimit:   8,
	})
	return s, idx
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestLoginIssuesStableID(t *testing.T) {
	s, _ := newTestServer(t)
	first := doJSON(t, s, http.MethodPost, "/auth/login", map[string]string{"phone": "9876543210", "role": "driver"})
	if first.Code != http.StatusOK {
		t.Fatalf("login status = %d", first.Code)
	}
	var a, b struct {
		ID string `json:"id"`
	}
	json.Unmarshal(first.Body.Bytes(), &a)

	second := doJSON(t, s, http.MethodPost, "/auth/login", map[string]string{"phone": "9876543210", "role": "driver"})
	json.Unmarshal(second.Body.Bytes(), &b)
	if a.ID == "" || a.ID != b.ID {
		t.Fatalf("expected stable id, got %q and %q", a.ID, b.ID)
	}
}

func TestLoginRejectsUnknownRole(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/auth/login", map[string]string{"phone": "9876543210", "role": "admin"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDriverOnlineThenOffline(t *testing.T) {
	s, idx := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/driver/online", map[string]any{"driver_id": "d1", "lat": 12.97, "lng": 77.59})
	if w.Code != http.StatusNoContent {
		t.Fatalf("online status = %d", w.Code)
	}
	if d, err := idx.Get(context.Background(), "d1"); err != nil || d.Status != models.DriverOnline {
		t.Fatalf("driver not online: %+v err=%v", d, err)
	}

	w = doJSON(t, s, http.MethodPost, "/driver/offline", map[string]string{"driver_id": "d1"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("offline status = %d", w.Code)
	}
	// repeat is a no-op, not an error
	w = doJSON(t, s, http.MethodPost, "/driver/offline", map[string]string{"driver_id": "d1"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("second offline status = %d", w.Code)
	}
}

func TestNearbyReturnsRankedFlatShape(t *testing.T) {
	s, idx := newTestServer(t)
	ctx := context.Background()
	idx.SetOnline(ctx, models.DriverPresence{DriverID: "far-but-loved", Loc: models.Coord{Lat: 12.980, Lng: 77.59}, Rating: 5.0})
	idx.SetOnline(ctx, models.DriverPresence{DriverID: "near-but-new", Loc: models.Coord{Lat: 12.9705, Lng: 77.59}, Rating: 3.0})

	w := doJSON(t, s, http.MethodGet, "/passenger/nearby?lat=12.970&lng=77.590", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out []struct {
		DriverID   string  `json:"driver_id"`
		Lat        float64 `json:"lat"`
		ETASeconds float64 `json:"eta_seconds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d candidates, want 2", len(out))
	}
	if out[0].Lat == 0 || out[0].ETASeconds == 0 {
		t.Fatalf("candidate not annotated: %+v", out[0])
	}
}

func TestNearbyRequiresCoords(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/passenger/nearby", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestPingReturnsRequestID(t *testing.T) {
	s, idx := newTestServer(t)
	idx.SetOnline(context.Background(), models.DriverPresence{DriverID: "d1", Rating: 4.5})

	w := doJSON(t, s, http.MethodPost, "/passenger/ping", map[string]any{"passenger_id": "p1", "driver_id": "d1", "eta_minutes": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		RequestID string `json:"request_id"`
	}
	json.Unmarshal(w.Body.Bytes(), &out)
	if out.RequestID == "" {
		t.Fatal("empty request_id")
	}
}

func TestPingToBusyDriverConflicts(t *testing.T) {
	s, idx := newTestServer(t)
	idx.SetOnline(context.Background(), models.DriverPresence{DriverID: "d1", Rating: 4.5})

	doJSON(t, s, http.MethodPost, "/passenger/ping", map[string]any{"passenger_id": "p1", "driver_id": "d1", "eta_minutes": 2})
	w := doJSON(t, s, http.MethodPost, "/passenger/ping", map[string]any{"passenger_id": "p2", "driver_id": "d1", "eta_minutes": 2})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	var e struct {
		Detail string `json:"detail"`
	}
	json.Unmarshal(w.Body.Bytes(), &e)
	if e.Detail == "" {
		t.Fatal("conflict response missing detail")
	}
}

func TestPingToUnknownDriver404s(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/passenger/ping", map[string]any{"passenger_id": "p1", "driver_id": "ghost", "eta_minutes": 2})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

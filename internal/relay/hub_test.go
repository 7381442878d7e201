package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []string
	gone   []string
}

func (f *frameRecorder) HandleFrame(userID string, role models.Role, event string, data json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, userID+"/"+event)
}

func (f *frameRecorder) HandleGone(userID string, role models.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gone = append(f.gone, userID)
}

func (f *frameRecorder) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...), append([]string(nil), f.gone...)
}

var testUpgrader = websocket.Upgrader{}

func newHubServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go h.Attach(conn, r.URL.Query().Get("id"), models.Role(r.URL.Query().Get("role")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, id, role string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?id=" + id + "&role=" + role
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSendEventReachesSession(t *testing.T) {
	rec := &frameRecorder{}
	h := NewHub(discardLogger(), rec)
	srv := newHubServer(t, h)
	conn := dial(t, srv, "d1", "driver")

	waitFor(t, func() bool { return h.Connected("d1") })
	if err := h.SendEvent("d1", models.EventNewPing, models.NewPing{PingID: "r1", PassengerID: "p1", ETAMinutes: 2}); err != nil {
		t.Fatalf("send: %v", err)
	}

	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Event != models.EventNewPing {
		t.Fatalf("event = %s, want new_ping", env.Event)
	}
	var np models.NewPing
	if err := json.Unmarshal(env.Data, &np); err != nil || np.PingID != "r1" {
		t.Fatalf("bad payload: %s err=%v", env.Data, err)
	}
}

func TestSendEventWithoutSessionErrors(t *testing.T) {
	h := NewHub(discardLogger(), &frameRecorder{})
	if err := h.SendEvent("nobody", models.EventNewPing, nil); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestInboundFramesDispatch(t *testing.T) {
	rec := &frameRecorder{}
	h := NewHub(discardLogger(), rec)
	srv := newHubServer(t, h)
	conn := dial(t, srv, "d1", "driver")

	waitFor(t, func() bool { return h.Connected("d1") })
	loc, _ := json.Marshal(models.DriverLocation{DriverID: "d1", Lat: 1, Lng: 2})
	if err := conn.WriteJSON(envelope{Event: models.EventDriverLocation, Data: loc}); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, func() bool {
		frames, _ := rec.snapshot()
		return len(frames) == 1 && frames[0] == "d1/driver_location"
	})
}

func TestMalformedFrameSkipped(t *testing.T) {
	rec := &frameRecorder{}
	h := NewHub(discardLogger(), rec)
	srv := newHubServer(t, h)
	conn := dial(t, srv, "d1", "driver")

	waitFor(t, func() bool { return h.Connected("d1") })
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	loc, _ := json.Marshal(models.DriverLocation{DriverID: "d1", Lat: 1, Lng: 2})
	if err := conn.WriteJSON(envelope{Event: models.EventDriverLocation, Data: loc}); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, func() bool {
		frames, _ := rec.snapshot()
		return len(frames) == 1
	})
}

func TestCloseFiresGone(t *testing.T) {
	rec := &frameRecorder{}
	h := NewHub(discardLogger(), rec)
	srv := newHubServer(t, h)
	conn := dial(t, srv, "d1", "driver")

	waitFor(t, func() bool { return h.Connected("d1") })
	conn.Close()

	waitFor(t, func() bool {
		_, gone := rec.snapshot()
		return len(gone) == 1 && gone[0] == "d1"
	})
	if h.Connected("d1") {
		t.Fatal("session still registered after close")
	}
}

func TestNewConnectionDisplacesOld(t *testing.T) {
	rec := &frameRecorder{}
	h := NewHub(discardLogger(), rec)
	srv := newHubServer(t, h)

	old := dial(t, srv, "d1", "driver")
	waitFor(t, func() bool { return h.Connected("d1") })
	_ = dial(t, srv, "d1", "driver")

	// the displaced connection's read fails once its conn is closed
	old.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := old.ReadMessage(); err == nil {
		t.Fatal("old connection still readable after displacement")
	}

	// the surviving session still routes
	waitFor(t, func() bool { return h.Connected("d1") })
	if err := h.SendEvent("d1", models.EventNewPing, models.NewPing{PingID: "r1"}); err != nil {
		t.Fatalf("send to surviving session: %v", err)
	}
}

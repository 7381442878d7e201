package presence

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newWSServer upgrades every request and hands the connection to fn.
func newWSServer(t *testing.T, fn func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectIsIdempotent(t *testing.T) {
	conns := make(chan *websocket.Conn, 4)
	srv := newWSServer(t, func(conn *websocket.Conn) { conns <- conn })

	ch := NewChannel(wsURL(srv), discardLogger())
	ctx := context.Background()
	if err := ch.Connect(ctx, "d1", models.RoleDriver); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ch.Connect(ctx, "d1", models.RoleDriver); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	select {
	case <-conns:
	case <-time.After(time.Second):
		t.Fatal("server never saw a connection")
	}
	select {
	case <-conns:
		t.Fatal("second Connect dialed again despite live connection")
	case <-time.After(100 * time.Millisecond):
	}
	ch.Disconnect()
}

func TestEmitAndInboundDispatchOrder(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		// echo everything back, then push two ordered events
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, raw)
		_ = conn.WriteJSON(Envelope{Event: models.EventPingIgnored, Data: json.RawMessage(`{"driver_id":"d1","passenger_id":"p1"}`)})
	})

	got := make(chan string, 4)
	ch := NewChannel(wsURL(srv), discardLogger())
	ch.On(models.EventDriverLocation, func(data json.RawMessage) { got <- models.EventDriverLocation })
	ch.On(models.EventPingIgnored, func(data json.RawMessage) { got <- models.EventPingIgnored })

	if err := ch.Connect(context.Background(), "d1", models.RoleDriver); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	ch.Emit(models.EventDriverLocation, models.DriverLocation{DriverID: "d1", Lat: 1, Lng: 2})

	want := []string{models.EventDriverLocation, models.EventPingIgnored}
	for _, ev := range want {
		select {
		case e := <-got:
			if e != ev {
				t.Fatalf("out of order: got %s want %s", e, ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", ev)
		}
	}
}

func TestEmitWithoutConnectionIsSilent(t *testing.T) {
	ch := NewChannel("ws://127.0.0.1:0", discardLogger())
	// must not panic or block
	ch.Emit(models.EventDriverLocation, models.DriverLocation{DriverID: "d1"})
}

func TestDoubleDisconnectIsSafe(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	ch := NewChannel(wsURL(srv), discardLogger())
	if err := ch.Connect(context.Background(), "p1", models.RolePassenger); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch.Disconnect()
	ch.Disconnect()
	if ch.Connected() {
		t.Fatal("still connected after disconnect")
	}
}

func TestServerCloseSurfacesDisconnectEvent(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.Close()
	})
	disc := make(chan struct{}, 1)
	ch := NewChannel(wsURL(srv), discardLogger())
	ch.On(models.EventDisconnect, func(json.RawMessage) { disc <- struct{}{} })
	if err := ch.Connect(context.Background(), "d1", models.RoleDriver); err != nil {
		t.Fatalf("connect: %v", err)
	}
	select {
	case <-disc:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect event never delivered")
	}
}

func TestDeliberateDisconnectDoesNotFireHandler(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	disc := make(chan struct{}, 1)
	ch := NewChannel(wsURL(srv), discardLogger())
	ch.On(models.EventDisconnect, func(json.RawMessage) { disc <- struct{}{} })
	if err := ch.Connect(context.Background(), "d1", models.RoleDriver); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch.Disconnect()
	select {
	case <-disc:
		t.Fatal("deliberate disconnect surfaced as channel event")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHandlerRegistrationAfterConnectIgnored(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(Envelope{Event: models.EventRideAccepted, Data: json.RawMessage(`{"driver_id":"d9"}`)})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	late := make(chan struct{}, 1)
	ch := NewChannel(wsURL(srv), discardLogger())
	if err := ch.Connect(context.Background(), "p1", models.RolePassenger); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()
	ch.On(models.EventRideAccepted, func(json.RawMessage) { late <- struct{}{} })
	select {
	case <-late:
		t.Fatal("late handler registration took effect")
	case <-time.After(200 * time.Millisecond):
	}
}

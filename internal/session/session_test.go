package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

func TestLoginReturnsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["phone"] != "9876543210" || body["role"] != "driver" {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"u-1","role":"driver"}`))
	}))
	defer srv.Close()

	sess, err := NewClient(srv.URL).Login(context.Background(), "9876543210", models.RoleDriver)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.UserID != "u-1" || sess.Role != models.RoleDriver || !sess.Valid() {
		t.Fatalf("session = %+v", sess)
	}
}

func TestLoginFailureYieldsNoSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"phone is required"}`))
	}))
	defer srv.Close()

	sess, err := NewClient(srv.URL).Login(context.Background(), "", models.RoleDriver)
	if err == nil {
		t.Fatal("expected error")
	}
	if sess.Valid() {
		t.Fatalf("session should be invalid: %+v", sess)
	}
}

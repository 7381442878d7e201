// Package httpapi exposes the relay's REST surface and the websocket
// attach point.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/eta"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/geo"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/observability"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/relay"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/storage"
)

type Server struct {
	logger   *slog.Logger
	presence geo.Presence
	users    storage.UserStore
	router   *relay.Router
	hub      *relay.Hub
	eta      *eta.Estimator

	nearbyRadiusM float64
	nearbyLimit   int

	mux      *mux.Router
	upgrader websocket.Upgrader
}

type Config struct {
	Logger        *slog.Logger
	Presence      geo.Presence
	Users         storage.UserStore
	Router        *relay.Router
	Hub           *relay.Hub
	ETA           *eta.Estimator
	NearbyRadiusM float64
	NearbyLimit   int
}

func NewServer(cfg Config) *Server {
	s := &Server{
		logger:        cfg.Logger,
		presence:      cfg.Presence,
		users:         cfg.Users,
		router:        cfg.Router,
		hub:           cfg.Hub,
		eta:           cfg.ETA,
		nearbyRadiusM: cfg.NearbyRadiusM,
		nearbyLimit:   cfg.NearbyLimit,
		mux:           mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
	s.mux.HandleFunc("/driver/online", s.handleDriverOnline).Methods("POST")
	s.mux.HandleFunc("/driver/offline", s.handleDriverOffline).Methods("POST")
	s.mux.HandleFunc("/passenger/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/passenger/ping", s.handlePing).Methods("POST")
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
		Role  string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		writeDetail(w, http.StatusBadRequest, "phone is required")
		return
	}
	role := models.Role(req.Role)
	if role != models.RoleDriver && role != models.RolePassenger {
		writeDetail(w, http.StatusBadRequest, "role must be driver or passenger")
		return
	}
	id, err := s.users.UpsertUser(r.Context(), req.Phone, role)
	if err != nil {
		s.logger.Error("login upsert failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "role": string(role)})
}

func (s *Server) handleDriverOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string  `json:"driver_id"`
		Lat      float64 `json:"lat"`
		Lng      float64 `json:"lng"`
		Rating   float64 `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeDetail(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	if req.Rating == 0 {
		req.Rating = 4.5
	}
	d := models.DriverPresence{
		DriverID: req.DriverID,
		Loc:      models.Coord{Lat: req.Lat, Lng: req.Lng},
		Rating:   req.Rating,
	}
	if err := s.presence.SetOnline(r.Context(), d); err != nil {
		s.logger.Error("set online failed", "driver_id", req.DriverID, "err", err)
		writeDetail(w, http.StatusInternalServerError, "presence update failed")
		return
	}
	observability.DriversOnline.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverOffline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeDetail(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	// going offline twice is not an error; only decrement when the driver
	// was actually present
	if _, err := s.presence.Get(r.Context(), req.DriverID); err == nil {
		if err := s.presence.SetOffline(r.Context(), req.DriverID); err != nil {
			s.logger.Error("set offline failed", "driver_id", req.DriverID, "err", err)
			writeDetail(w, http.StatusInternalServerError, "presence update failed")
			return
		}
		observability.DriversOnline.Dec()
	}
	w.WriteHeader(http.StatusNoContent)
}

type nearbyResponse struct {
	DriverID   string  `json:"driver_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DistanceM  float64 `json:"distance_m"`
	ETASeconds float64 `json:"eta_seconds"`
	Rating     float64 `json:"rating"`
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeDetail(w, http.StatusBadRequest, "lat and lng are required")
		return
	}

	drivers, err := s.presence.Nearby(r.Context(), lat, lng, s.nearbyRadiusM, s.nearbyLimit)
	if err != nil {
		s.logger.Error("nearby query failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "nearby query failed")
		return
	}

	from := models.Coord{Lat: lat, Lng: lng}
	cands := make([]models.NearbyDriver, 0, len(drivers))
	for _, d := range drivers {
		cands = append(cands, models.NearbyDriver{
			DriverID:   d.DriverID,
			Loc:        d.Loc,
			DistanceM:  geo.Haversine(lat, lng, d.Loc.Lat, d.Loc.Lng),
			ETASeconds: s.eta.Estimate(d.Loc, from),
			Rating:     d.Rating,
		})
	}
	geo.Rank(cands)

	out := make([]nearbyResponse, 0, len(cands))
	for _, c := range cands {
		out = append(out, nearbyResponse{
			DriverID:   c.DriverID,
			Lat:        c.Loc.Lat,
			Lng:        c.Loc.Lng,
			DistanceM:  c.DistanceM,
			ETASeconds: c.ETASeconds,
			Rating:     c.Rating,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PassengerID string `json:"passenger_id"`
		DriverID    string `json:"driver_id"`
		ETAMinutes  int    `json:"eta_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PassengerID == "" || req.DriverID == "" {
		writeDetail(w, http.StatusBadRequest, "passenger_id and driver_id are required")
		return
	}
	if req.ETAMinutes <= 0 {
		writeDetail(w, http.StatusBadRequest, "eta_minutes must be positive")
		return
	}

	rideID, err := s.router.SubmitPing(r.Context(), req.PassengerID, req.DriverID, req.ETAMinutes)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"request_id": rideID})
	case err == relay.ErrDriverUnavailable:
		writeDetail(w, http.StatusConflict, "driver already has a pending request")
	case err == relay.ErrDriverOffline:
		writeDetail(w, http.StatusNotFound, "driver is not online")
	default:
		s.logger.Error("ping submission failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "ping submission failed")
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	role := models.Role(r.URL.Query().Get("role"))
	if id == "" || (role != models.RoleDriver && role != models.RolePassenger) {
		writeDetail(w, http.StatusBadRequest, "id and role query params are required")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response
		return
	}
	go s.hub.Attach(conn, id, role)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

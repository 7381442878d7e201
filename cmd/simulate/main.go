// simulate runs one happy-path ride against a live relay: a driver comes
// online, a passenger finds them, pings, and the driver accepts.
package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/config"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/driver"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/location"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/logging"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/passenger"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/presence"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/rest"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/session"
)

func main() {
	var relayURL string
	flag.StringVar(&relayURL, "relay", "http://localhost:8080", "relay base URL")
	flag.Parse()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	cfg.APIBaseURL = relayURL
	cfg.WSBaseURL = "ws" + strings.TrimPrefix(relayURL, "http")

	log := logging.NewComponentLogger(cfg.LogLevel, "simulate")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	auth := session.NewClient(cfg.APIBaseURL)
	driverSess, err := auth.Login(ctx, "9000000001", models.RoleDriver)
	if err != nil {
		log.Error("driver login failed", "err", err)
		os.Exit(1)
	}
	passengerSess, err := auth.Login(ctx, "9000000002", models.RolePassenger)
	if err != nil {
		log.Error("passenger login failed", "err", err)
		os.Exit(1)
	}

	driverLoc := models.Coord{Lat: 12.9716, Lng: 77.5946}
	driverChan := presence.NewChannel(cfg.WSBaseURL, log)

	var dm *driver.Machine
	dm = driver.NewMachine(driver.Config{
		Session:         driverSess,
		Channel:         driverChan,
		Reporter:        location.NewReporter(driverChan, cfg.ReportInterval, log),
		Registry:        rest.NewDriverRegistry(cfg.APIBaseURL),
		Source:          func() models.Coord { return driverLoc },
		ReportWhileBusy: cfg.ReportWhileBusy,
		Logger:          log,
		OnPing: func(ping models.NewPing) {
			log.Info("driver received ping", "ping_id", ping.PingID, "passenger_id", ping.PassengerID)
			if err := dm.Accept(); err != nil {
				log.Error("accept failed", "err", err)
			}
		},
	})

	results := make(chan models.MatchResult, 1)
	passengerChan := presence.NewChannel(cfg.WSBaseURL, log)
	pc := passenger.NewController(passenger.Config{
		Session:     passengerSess,
		Channel:     passengerChan,
		API:         rest.NewPassengerAPI(cfg.APIBaseURL),
		ETAChoices:  cfg.ETAChoices,
		PingTimeout: cfg.PingTimeout,
		Logger:      log,
		OnResult:    func(r models.MatchResult) { results <- r },
	})

	if err := dm.GoOnline(ctx); err != nil {
		log.Error("driver online failed", "err", err)
		os.Exit(1)
	}
	defer dm.GoOffline(context.Background())
	log.Info("driver online", "driver_id", driverSess.UserID)

	if err := pc.Connect(ctx); err != nil {
		log.Error("passenger connect failed", "err", err)
		os.Exit(1)
	}
	defer passengerChan.Disconnect()

	nearby := pc.Refresh(ctx, 12.9712, 77.5940)
	if len(nearby) == 0 {
		log.Error("no drivers nearby")
		os.Exit(1)
	}
	log.Info("nearby drivers", "count", len(nearby), "top", nearby[0].DriverID)

	if err := pc.SendPing(ctx, nearby[0].DriverID, cfg.ETAChoices[0]); err != nil {
		log.Error("ping failed", "err", err)
		os.Exit(1)
	}
	log.Info("ping sent, waiting for driver")

	select {
	case r := <-results:
		log.Info("ride resolved", "driver_id", r.DriverID, "outcome", r.Outcome)
	case <-ctx.Done():
		log.Error("timed out waiting for match")
		os.Exit(1)
	}
}

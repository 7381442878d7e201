package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/config"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/eta"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/geo"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/httpapi"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/ingest"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/logging"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/notify"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/payments"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/relay"
	"github.com/Bharat-Ride-org/Bharat-Ride/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.NewComponentLogger(cfg.LogLevel, "relay")

	var presence geo.Presence
	if cfg.RedisAddr != "" {
		presence = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		log.Info("using redis presence", "addr", cfg.RedisAddr)
	} else {
		presence = geo.NewIndex()
		log.Info("using in-memory presence")
	}

	var rides storage.RideStore
	var users storage.UserStore
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(log, cfg.PGDSN)
		}
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Error("postgres unavailable", "err", err)
			os.Exit(1)
		}
		rides, users = pg, pg
		log.Info("using postgres storage")
	} else {
		mem := storage.NewMemoryStore()
		rides, users = mem, mem
		log.Info("using in-memory storage")
	}

	var publisher relay.LocationPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		log.Info("publishing locations to kafka", "topic", cfg.KafkaTopic)
	}

	var push notify.Pusher
	if cfg.FCMEndpoint != "" {
		push = notify.NewFCMClient(cfg.FCMEndpoint, cfg.FCMKey, nil)
	}

	notifier := &notify.Notifier{Push: push, Log: log}
	router := relay.NewRouter(log, presence, rides, notifier)
	router.Ingest = publisher
	router.PingExpiry = cfg.PingExpiry
	if cfg.StripeEnabled {
		router.Fares = payments.NewFareHolder()
		router.FareHoldPaise = cfg.FareHoldPaise
	}

	hub := relay.NewHub(log, router)
	notifier.Live = hub

	estimator := &eta.Estimator{
		Cache:           eta.NewCache(30 * time.Second),
		DefaultSpeedMps: cfg.DefaultSpeedMps,
	}
	if cfg.OSRMEndpoint != "" {
		estimator.Client = eta.NewOSRMClient(cfg.OSRMEndpoint)
		log.Info("eta via osrm", "endpoint", cfg.OSRMEndpoint)
	}

	api := httpapi.NewServer(httpapi.Config{
		Logger:        log,
		Presence:      presence,
		Users:         users,
		Router:        router,
		Hub:           hub,
		ETA:           estimator,
		NearbyRadiusM: cfg.NearbyRadiusM,
		NearbyLimit:   cfg.NearbyLimit,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(cfg.PingExpiry)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				router.ExpireStale(ctx)
			}
		}
	}()

	go func() {
		log.Info("relay listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("shutdown incomplete", "err", err)
	}
}

func runMigrations(log *slog.Logger, dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Info("migration skipped, db open failed", "err", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		log.Info("migration skipped, read failed", "err", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Info("migration exec failed", "err", err)
		return
	}
	log.Info("migration applied", "file", "001_create_rides.sql")
}

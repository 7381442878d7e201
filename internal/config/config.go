package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the relay process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OSRMEndpoint    string
	DefaultSpeedMps float64
	NearbyRadiusM   float64
	NearbyLimit     int

	// PingExpiry bounds how long a driver may sit PINGED before the relay
	// reverts them to ONLINE and marks the ride expired.
	PingExpiry time.Duration

	FCMEndpoint string
	FCMKey      string

	StripeEnabled bool
	FareHoldPaise int64

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "driver-locations",
		DefaultSpeedMps: 5.5, // rickshaw city speed
		NearbyRadiusM:   2000,
		NearbyLimit:     8,
		PingExpiry:      60 * time.Second,
		FareHoldPaise:   2000,
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setFloatFromEnv(&cfg.DefaultSpeedMps, "NEARBY_DEFAULT_SPEED_MPS", &errs)
	setFloatFromEnv(&cfg.NearbyRadiusM, "NEARBY_RADIUS_M", &errs)
	setIntFromEnv(&cfg.NearbyLimit, "NEARBY_LIMIT", &errs)
	setDurationFromEnv(&cfg.PingExpiry, "PING_EXPIRY", &errs)

	setStringFromEnv(&cfg.FCMEndpoint, "FCM_ENDPOINT")
	cfg.FCMKey = os.Getenv("FCM_KEY")

	cfg.StripeEnabled = os.Getenv("STRIPE_API_KEY") != ""
	setInt64FromEnv(&cfg.FareHoldPaise, "FARE_HOLD_PAISE", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.NearbyLimit <= 0 {
		errs = append(errs, fmt.Errorf("NEARBY_LIMIT must be > 0"))
	}
	if cfg.PingExpiry <= 0 {
		errs = append(errs, fmt.Errorf("PING_EXPIRY must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// ClientConfig holds the knobs for the driver/passenger client core.
type ClientConfig struct {
	APIBaseURL string
	WSBaseURL  string

	// ReportInterval is the driver location sample period.
	ReportInterval time.Duration
	// NearbyPollInterval is how often the passenger refreshes candidates.
	NearbyPollInterval time.Duration
	// PingTimeout bounds an AWAITING request before it expires locally.
	PingTimeout time.Duration
	// ETAChoices are the pickup times a passenger may offer, in minutes.
	ETAChoices []int
	// ReportWhileBusy keeps the location reporter running through
	// PINGED/MATCHED; reporting only stops on the OFFLINE transition.
	ReportWhileBusy bool

	LogLevel string
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		APIBaseURL:         "http://localhost:8080",
		WSBaseURL:          "ws://localhost:8080",
		ReportInterval:     8 * time.Second,
		NearbyPollInterval: 5 * time.Second,
		PingTimeout:        45 * time.Second,
		ETAChoices:         []int{2, 5},
		ReportWhileBusy:    true,
		LogLevel:           "info",
	}
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setStringFromEnv(&cfg.WSBaseURL, "WS_BASE_URL")
	setDurationFromEnv(&cfg.ReportInterval, "REPORT_INTERVAL", &errs)
	setDurationFromEnv(&cfg.NearbyPollInterval, "NEARBY_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.PingTimeout, "PING_TIMEOUT", &errs)

	if v := os.Getenv("ETA_CHOICES"); v != "" {
		choices := make([]int, 0, 2)
		for _, s := range splitAndTrim(v) {
			n, err := strconv.Atoi(s)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid ETA_CHOICES entry %q: %w", s, err))
				continue
			}
			choices = append(choices, n)
		}
		if len(choices) > 0 {
			cfg.ETAChoices = choices
		}
	}

	if v := os.Getenv("REPORT_WHILE_BUSY"); v != "" {
		cfg.ReportWhileBusy = strings.EqualFold(v, "true")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.ReportInterval <= 0 {
		errs = append(errs, fmt.Errorf("REPORT_INTERVAL must be > 0"))
	}
	if cfg.PingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PING_TIMEOUT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

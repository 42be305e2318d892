package config // package config loads application configuration from environment variables

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable; required ones are enforced by must().
type Config struct {
	Env          string // APP_ENV (dev, test, prod)
	Port         string // APP_PORT
	DBUser       string // DB_USER
	DBPass       string // DB_PASS (empty allowed)
	DBHost       string // DB_HOST
	DBPort       string // DB_PORT
	DBName       string // DB_NAME
	DBMaxConns   int    // DB_MAX_OPEN_CONNS
	JWTSecret    string // JWT_SECRET
	AccessTTLMin int    // ACCESS_TOKEN_TTL_MIN
	BcryptCost   int    // BCRYPT_COST

	Booking BookingConfig
	Gateway GatewayConfig
	Events  EventsConfig
}

// BookingConfig tunes the booking engine and its background sweeps.
type BookingConfig struct {
	HoldWindow         time.Duration // BOOKING_HOLD_WINDOW
	HoldSweepEvery     time.Duration // HOLD_SWEEP_INTERVAL
	CompleteSweepEvery time.Duration // COMPLETION_SWEEP_INTERVAL
	SweepBatchSize     int           // SWEEP_BATCH_SIZE
	SweepConcurrency   int           // SWEEP_CONCURRENCY
	Currency           string        // PAYMENT_CURRENCY
}

// GatewayConfig tunes the payment gateway simulator.
type GatewayConfig struct {
	FailureRate float64       // GATEWAY_FAILURE_RATE, 0..1
	Latency     time.Duration // GATEWAY_LATENCY
}

// EventsConfig controls RabbitMQ publishing and the booking log consumer.
type EventsConfig struct {
	Enabled     bool   // EVENTS_ENABLED
	URL         string // RABBITMQ_URL, then AMQP_URL
	LogConsumer bool   // BOOKING_LOG_CONSUMER
	LogDir      string // BOOKING_LOG_DIR
}

// Load reads a local .env file when present and then builds the Config
// from the environment. Missing required variables stop the process.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("config: .env not loaded")
	}
	return Config{
		Env:          must("APP_ENV"),
		Port:         must("APP_PORT"),
		DBUser:       must("DB_USER"),
		DBPass:       os.Getenv("DB_PASS"),
		DBHost:       must("DB_HOST"),
		DBPort:       must("DB_PORT"),
		DBName:       must("DB_NAME"),
		DBMaxConns:   envInt("DB_MAX_OPEN_CONNS", 25),
		JWTSecret:    must("JWT_SECRET"),
		AccessTTLMin: envInt("ACCESS_TOKEN_TTL_MIN", 60),
		BcryptCost:   envInt("BCRYPT_COST", 10),
		Booking:      LoadBookingConfig(),
		Gateway: GatewayConfig{
			FailureRate: envFloat("GATEWAY_FAILURE_RATE", 0),
			Latency:     envDur("GATEWAY_LATENCY", 0),
		},
		Events: EventsConfig{
			Enabled:     envBool("EVENTS_ENABLED", true),
			URL:         envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
			LogConsumer: envBool("BOOKING_LOG_CONSUMER", false),
			LogDir:      envStr("BOOKING_LOG_DIR", "logs"),
		},
	}
}

// LoadBookingConfig reads the engine settings, falling back to defaults for
// unset or invalid values.
func LoadBookingConfig() BookingConfig {
	c := BookingConfig{
		HoldWindow:         envDur("BOOKING_HOLD_WINDOW", 15*time.Minute),
		HoldSweepEvery:     envDur("HOLD_SWEEP_INTERVAL", time.Minute),
		CompleteSweepEvery: envDur("COMPLETION_SWEEP_INTERVAL", 5*time.Minute),
		SweepBatchSize:     envInt("SWEEP_BATCH_SIZE", 100),
		SweepConcurrency:   envInt("SWEEP_CONCURRENCY", 4),
		Currency:           envStr("PAYMENT_CURRENCY", "USD"),
	}
	if c.HoldWindow <= 0 {
		c.HoldWindow = 15 * time.Minute
	}
	if c.SweepBatchSize < 1 {
		c.SweepBatchSize = 100
	}
	if c.SweepConcurrency < 1 {
		c.SweepConcurrency = 1
	}
	return c
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logrus.WithField("key", key).Fatal("missing required env var")
	}
	return v
}

func envFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return d
}

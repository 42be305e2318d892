package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestLoadBookingConfigDefaults(t *testing.T) {
	c := LoadBookingConfig()
	assert.Equal(t, 15*time.Minute, c.HoldWindow)
	assert.Equal(t, time.Minute, c.HoldSweepEvery)
	assert.Equal(t, 5*time.Minute, c.CompleteSweepEvery)
	assert.Equal(t, 100, c.SweepBatchSize)
	assert.Equal(t, "USD", c.Currency)
}

func TestLoadBookingConfigOverrides(t *testing.T) {
	t.Setenv("BOOKING_HOLD_WINDOW", "5m")
	t.Setenv("SWEEP_BATCH_SIZE", "0")
	t.Setenv("SWEEP_CONCURRENCY", "-3")
	t.Setenv("PAYMENT_CURRENCY", "EUR")

	c := LoadBookingConfig()
	assert.Equal(t, 5*time.Minute, c.HoldWindow)
	assert.Equal(t, 100, c.SweepBatchSize)
	assert.Equal(t, 1, c.SweepConcurrency)
	assert.Equal(t, "EUR", c.Currency)
}

func TestLoadRateLimitConfigShorthands(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	c := LoadRateLimitConfig()
	assert.Equal(t, 5, c.Capacity)
	assert.Equal(t, 1, c.RefillTokens)
	assert.Equal(t, 2*time.Second, c.RefillInterval)
	assert.Equal(t, 10*time.Second, c.TTL)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_BOOL", "off")
	t.Setenv("X_INT", "abc")
	t.Setenv("X_FLOAT", "0.25")

	assert.False(t, envBool("X_BOOL", true))
	assert.Equal(t, 7, envInt("X_INT", 7))
	assert.InDelta(t, 0.25, envFloat("X_FLOAT", 0), 1e-9)
	assert.Equal(t, "d", envStr("X_MISSING", "d"))
}

func TestLoadCacheConfig(t *testing.T) {
	t.Setenv("TRIP_CACHE_TTL", "-1s")
	c := LoadCacheConfig()
	assert.True(t, c.Enabled)
	assert.Equal(t, 30*time.Second, c.TTL)
}

func TestLoadRedisConfig(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_TLS", "1")
	c := LoadRedisConfig()
	assert.Equal(t, "cache:6380", c.Addr)
	assert.Equal(t, 2, c.DB)
	assert.True(t, c.TLS)
	assert.Equal(t, 2*time.Second, c.DialTimeout)

	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	assert.Equal(t, "redis:6379", LoadRedisConfig().Addr)
}

func TestLoadLogConfig(t *testing.T) {
	assert.Equal(t, LogConfig{Level: "info", Format: "text"}, LoadLogConfig("dev"))
	assert.Equal(t, "json", LoadLogConfig("prod").Format)

	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "text")
	assert.Equal(t, LogConfig{Level: "debug", Format: "text"}, LoadLogConfig("prod"))
}

func TestNewLoggerWritesJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LogConfig{Level: "bogus", Format: "json"}, &buf)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())

	l.WithFields(logrus.Fields{"booking_id": 77, "queue": "booking_confirmed"}).Info("published")
	assert.Equal(t, int64(77), gjson.Get(buf.String(), "booking_id").Int())
	assert.Equal(t, "booking_confirmed", gjson.Get(buf.String(), "queue").String())
	assert.Equal(t, "published", gjson.Get(buf.String(), "msg").String())

	buf.Reset()
	l.Debug("hidden")
	assert.Empty(t, buf.String())
}

package config

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisConfig locates the Redis server backing the trip cache and the rate
// limiter.
type RedisConfig struct {
	Addr        string        // REDIS_ADDR, or REDIS_HOST:REDIS_PORT
	Password    string        // REDIS_PASSWORD
	DB          int           // REDIS_DB
	TLS         bool          // REDIS_TLS
	PoolSize    int           // REDIS_POOL_SIZE, 0 keeps the driver default
	DialTimeout time.Duration // REDIS_DIAL_TIMEOUT
}

// LoadRedisConfig reads REDIS_* variables. REDIS_HOST and REDIS_PORT win
// over REDIS_ADDR when both are set.
func LoadRedisConfig() RedisConfig {
	c := RedisConfig{
		Addr:        envStr("REDIS_ADDR", "localhost:6379"),
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          envInt("REDIS_DB", 0),
		TLS:         envBool("REDIS_TLS", false),
		PoolSize:    envInt("REDIS_POOL_SIZE", 0),
		DialTimeout: envDur("REDIS_DIAL_TIMEOUT", 2*time.Second),
	}
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		c.Addr = host + ":" + port
	}
	return c
}

// NewRedisClient connects to cfg.Addr. It returns nil when the server does
// not answer a ping; callers then run without the trip cache and without
// rate limiting.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logrus.WithFields(logrus.Fields{"addr": cfg.Addr, "error": err}).Warn("redis: ping failed, cache and rate limiting disabled")
		_ = client.Close()
		return nil
	}
	return client
}

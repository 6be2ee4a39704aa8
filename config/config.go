// Package config loads process settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"restro-sync/connection"
)

type Config struct {
	APIURL         string
	WSURL          string
	Role           connection.Role
	RestaurantSlug string
	BillID         int64
	Token          string
	JWTSecret      string
	ListenAddr     string

	LogLevel    string
	Development bool

	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
	Heartbeat         time.Duration
	RefreshInterval   time.Duration
	APITimeout        time.Duration
	RateLimitRPS      int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		APIURL:            "http://127.0.0.1:8000/api",
		WSURL:             "ws://localhost:8000/ws",
		Role:              connection.RoleChef,
		ListenAddr:        ":8090",
		LogLevel:          "info",
		ReconnectBase:     time.Second,
		ReconnectMax:      30 * time.Second,
		ReconnectAttempts: 5,
		Heartbeat:         20 * time.Second,
		RefreshInterval:   30 * time.Second,
		APITimeout:        10 * time.Second,
		RateLimitRPS:      10,
	}
}

// Load reads an optional .env file, overriding the process environment,
// and then every RESTRO_* variable. Values that do not parse keep their
// default and are reported in warnings.
func Load(files ...string) (*Config, []string) {
	var warnings []string
	if err := godotenv.Overload(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		warnings = append(warnings, fmt.Sprintf("loading .env: %v", err))
	}
	cfg, more := FromEnv(os.LookupEnv)
	return cfg, append(warnings, more...)
}

// FromEnv builds a Config from lookup, starting from Default.
func FromEnv(lookup func(string) (string, bool)) (*Config, []string) {
	cfg := Default()
	var warnings []string
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.Trim(strings.TrimSpace(v), `"'`)
	}
	warn := func(key, val string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, val, err))
	}
	str := func(key string, dst *string) {
		if v := get(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := get(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = d
		}
	}

	str("RESTRO_API_URL", &cfg.APIURL)
	str("RESTRO_WS_URL", &cfg.WSURL)
	str("RESTRO_RESTAURANT_SLUG", &cfg.RestaurantSlug)
	str("RESTRO_TOKEN", &cfg.Token)
	str("RESTRO_JWT_SECRET", &cfg.JWTSecret)
	str("RESTRO_LISTEN_ADDR", &cfg.ListenAddr)
	str("RESTRO_LOG_LEVEL", &cfg.LogLevel)
	str("RESTRO_REDIS_ADDR", &cfg.RedisAddr)
	str("RESTRO_REDIS_PASSWORD", &cfg.RedisPassword)

	if v := get("RESTRO_ROLE"); v != "" {
		role, err := connection.ParseRole(v)
		if err != nil {
			warn("RESTRO_ROLE", v, err)
		} else {
			cfg.Role = role
		}
	}
	if v := get("RESTRO_BILL_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			warn("RESTRO_BILL_ID", v, err)
		} else {
			cfg.BillID = id
		}
	}
	if v := get("RESTRO_DEV"); v != "" {
		cfg.Development = v == "true" || v == "1"
	}

	dur("RESTRO_RECONNECT_BASE", &cfg.ReconnectBase)
	dur("RESTRO_RECONNECT_MAX", &cfg.ReconnectMax)
	num("RESTRO_RECONNECT_ATTEMPTS", &cfg.ReconnectAttempts)
	dur("RESTRO_HEARTBEAT", &cfg.Heartbeat)
	dur("RESTRO_REFRESH_INTERVAL", &cfg.RefreshInterval)
	dur("RESTRO_API_TIMEOUT", &cfg.APITimeout)
	num("RESTRO_RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	num("RESTRO_REDIS_DB", &cfg.RedisDB)

	return cfg, warnings
}

// Identity is the channel identity the configured role listens on.
func (c *Config) Identity() connection.Identity {
	id := connection.Identity{Role: c.Role, RestaurantSlug: c.RestaurantSlug}
	if c.Role == connection.RoleCustomer {
		id.SubID = c.BillID
	}
	return id
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	if err := c.Identity().Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.ReconnectBase <= 0 || c.ReconnectMax < c.ReconnectBase {
		return fmt.Errorf("invalid configuration: reconnect delays %s..%s", c.ReconnectBase, c.ReconnectMax)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("invalid configuration: RESTRO_RATE_LIMIT_RPS must be positive")
	}
	return nil
}

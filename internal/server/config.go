// Package server provides configuration helpers that define runtime
// defaults, validation, and rate-limiting parameters for the WaveMeet
// gateway.
package server

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// RateLimitConfig defines the parameters for per-connection event rate
// limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the gateway configuration including security controls and
// the session core's tunable durations.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	JWTSecret    string
	DatabasePath string
	RedisAddr    string

	TypingTTL       time.Duration
	CallRingTimeout time.Duration
	CallEvictDelay  time.Duration
	ShutdownTimeout time.Duration
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:3000",
		},
		MaxMessageSize: 8192,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		DatabasePath:    "./wavemeet.db",
		TypingTTL:       3 * time.Second,
		CallRingTimeout: 30 * time.Second,
		CallEvictDelay:  5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = defaults.DatabasePath
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = defaults.TypingTTL
	}
	if cfg.CallRingTimeout <= 0 {
		cfg.CallRingTimeout = defaults.CallRingTimeout
	}
	if cfg.CallEvictDelay <= 0 {
		cfg.CallEvictDelay = defaults.CallEvictDelay
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to
// defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		defaultCfg := defaultConfig()
		sanitizeConfig(defaultCfg)
		return
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for
// all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables,
// falling back to defaults for anything unset.
func NewConfigFromEnv() *Config {
	v := viper.New()
	v.SetDefault("server_port", ":8080")
	v.SetDefault("allowed_origins", "http://localhost:3000")
	v.SetDefault("max_message_size", 8192)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("rate_limit_refill_interval", time.Second)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("database_path", "./wavemeet.db")
	v.SetDefault("redis_addr", "")
	v.SetDefault("typing_ttl", 3*time.Second)
	v.SetDefault("call_ring_timeout", 30*time.Second)
	v.SetDefault("call_evict_delay", 5*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.AutomaticEnv()

	return &Config{
		Port:           v.GetString("server_port"),
		AllowedOrigins: parseOrigins(v.GetString("allowed_origins")),
		MaxMessageSize: v.GetInt64("max_message_size"),
		RateLimit: RateLimitConfig{
			Burst:          v.GetInt("rate_limit_burst"),
			RefillInterval: v.GetDuration("rate_limit_refill_interval"),
		},
		JWTSecret:       v.GetString("jwt_secret"),
		DatabasePath:    v.GetString("database_path"),
		RedisAddr:       v.GetString("redis_addr"),
		TypingTTL:       v.GetDuration("typing_ttl"),
		CallRingTimeout: v.GetDuration("call_ring_timeout"),
		CallEvictDelay:  v.GetDuration("call_evict_delay"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}
}

// Validate reports configuration errors that must stop startup.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	return nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

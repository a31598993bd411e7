// Package config loads runtime configuration for the liveshare server,
// grounded on MarcoPoloResearchLab-gravity's internal/config/config.go
// viper defaults/env-binding pattern.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/ratelimit"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/session"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/snapshot"
)

const envPrefix = "LIVESHARE"

// AppConfig is the fully-resolved runtime configuration (spec.md §6
// "Configuration (enumerated)").
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabaseURL string
	RedisAddr   string

	JWTSigningSecret string
	JWTIssuer        string

	FullSyncInterval     time.Duration
	SnapshotInterval     time.Duration
	SnapshotsToKeep      int
	MaxSnapshotSize      int
	CursorThrottle       time.Duration
	SchemaThrottle       time.Duration
	AwarenessBatchWindow time.Duration

	Limits ratelimit.Limits

	MaxUsersPerRoom int
	AuthTimeout     time.Duration
	IdleThreshold   time.Duration
	AwayThreshold   time.Duration

	QueueCapacity int
}

// NewViper returns a viper instance with defaults and env bindings
// configured for this service.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults sets every spec.md §6 default onto the given viper
// instance and wires environment-variable overrides (LIVESHARE_*).
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.address", "0.0.0.0:8081")
	v.SetDefault("log.level", "info")

	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.redis_addr", "localhost:6379")

	v.SetDefault("auth.jwt_issuer", "archischema")

	v.SetDefault("broadcast.full_sync_interval", "20s")
	v.SetDefault("snapshot.interval", "25s")
	v.SetDefault("snapshot.keep", snapshot.SnapshotsToKeep)
	v.SetDefault("snapshot.max_size_bytes", snapshot.MaxSnapshotSize)
	v.SetDefault("throttle.cursor", "33ms")
	v.SetDefault("throttle.schema", "150ms")
	v.SetDefault("throttle.awareness_window", "100ms")

	v.SetDefault("ratelimit.volatile_capacity", ratelimit.DefaultVolatileCapacity)
	v.SetDefault("ratelimit.volatile_refill", ratelimit.DefaultVolatileRefill)
	v.SetDefault("ratelimit.low_capacity", ratelimit.DefaultLowCapacity)
	v.SetDefault("ratelimit.low_refill", ratelimit.DefaultLowRefill)
	v.SetDefault("ratelimit.normal_capacity", ratelimit.DefaultNormalCapacity)
	v.SetDefault("ratelimit.normal_refill", ratelimit.DefaultNormalRefill)
	v.SetDefault("ratelimit.critical_capacity", ratelimit.DefaultCriticalCapacity)
	v.SetDefault("ratelimit.critical_refill", ratelimit.DefaultCriticalRefill)

	v.SetDefault("room.max_users", 10)
	v.SetDefault("session.auth_timeout", "10s")
	v.SetDefault("session.idle_threshold", "30s")
	v.SetDefault("session.away_threshold", "600s")
	v.SetDefault("session.queue_capacity", session.DefaultQueueCapacity)
}

// Load resolves AppConfig from viper and validates required fields.
func Load(v *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      v.GetString("http.address"),
		LogLevel:         v.GetString("log.level"),
		DatabaseURL:      v.GetString("storage.database_url"),
		RedisAddr:        v.GetString("storage.redis_addr"),
		JWTSigningSecret: v.GetString("auth.jwt_signing_secret"),
		JWTIssuer:        v.GetString("auth.jwt_issuer"),

		FullSyncInterval:     v.GetDuration("broadcast.full_sync_interval"),
		SnapshotInterval:     v.GetDuration("snapshot.interval"),
		SnapshotsToKeep:      v.GetInt("snapshot.keep"),
		MaxSnapshotSize:      v.GetInt("snapshot.max_size_bytes"),
		CursorThrottle:       v.GetDuration("throttle.cursor"),
		SchemaThrottle:       v.GetDuration("throttle.schema"),
		AwarenessBatchWindow: v.GetDuration("throttle.awareness_window"),

		Limits: ratelimit.Limits{
			VolatileCapacity: v.GetFloat64("ratelimit.volatile_capacity"),
			VolatileRefill:   v.GetFloat64("ratelimit.volatile_refill"),
			LowCapacity:      v.GetFloat64("ratelimit.low_capacity"),
			LowRefill:        v.GetFloat64("ratelimit.low_refill"),
			NormalCapacity:   v.GetFloat64("ratelimit.normal_capacity"),
			NormalRefill:     v.GetFloat64("ratelimit.normal_refill"),
			CriticalCapacity: v.GetFloat64("ratelimit.critical_capacity"),
			CriticalRefill:   v.GetFloat64("ratelimit.critical_refill"),
		},

		MaxUsersPerRoom: v.GetInt("room.max_users"),
		AuthTimeout:     v.GetDuration("session.auth_timeout"),
		IdleThreshold:   v.GetDuration("session.idle_threshold"),
		AwayThreshold:   v.GetDuration("session.away_threshold"),
		QueueCapacity:   v.GetInt("session.queue_capacity"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.JWTSigningSecret) == "" {
		return fmt.Errorf("auth.jwt_signing_secret is required")
	}
	if c.MaxUsersPerRoom < 2 || c.MaxUsersPerRoom > 100 {
		return fmt.Errorf("room.max_users must be in [2, 100], got %d", c.MaxUsersPerRoom)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("storage.database_url is required")
	}
	return nil
}

// SessionConfig projects the subset of AppConfig the session package needs.
func (c AppConfig) SessionConfig() session.Config {
	return session.Config{
		Limits:          c.Limits,
		CursorInterval:  c.CursorThrottle,
		SchemaInterval:  c.SchemaThrottle,
		AwarenessWindow: c.AwarenessBatchWindow,
		AuthTimeout:     c.AuthTimeout,
		QueueCapacity:   c.QueueCapacity,
	}
}

// Package config manages rtrsec daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete rtrsec configuration.
type Config struct {
	Listen  ListenConfig  `koanf:"listen"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	RTR     RTRConfig     `koanf:"rtr"`
	Crypto  CryptoConfig  `koanf:"crypto"`
}

// ListenConfig holds the RTR cache session listener configuration.
type ListenConfig struct {
	// Addr is the RTR protocol listen address (e.g., ":323").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// RTRConfig holds the default RTR cache session parameters.
type RTRConfig struct {
	// Version is the RTR protocol version advertised by the cache (0 or 1).
	Version uint8 `koanf:"version"`

	// RefreshInterval tells clients how often to poll with a Serial Query
	// (RFC 8210 Section 6).
	RefreshInterval time.Duration `koanf:"refresh_interval"`

	// RetryInterval tells clients how long to wait after a failed query
	// before retrying.
	RetryInterval time.Duration `koanf:"retry_interval"`

	// ExpireInterval tells clients how long learned data may be used
	// without a successful refresh before it must be discarded.
	ExpireInterval time.Duration `koanf:"expire_interval"`

	// ServiceInterval is how often the server drains pending changes into
	// a broadcast Serial Notify. Does not affect operator-issued
	// immediate notify/reset/error commands.
	ServiceInterval time.Duration `koanf:"service_interval"`

	// AllowDowngrade permits the rtrclient side to adopt a lower protocol
	// version offered by the cache during handshake instead of sending
	// an UnsupportedProtocolVersion error.
	AllowDowngrade bool `koanf:"allow_downgrade"`
}

// CryptoConfig holds the BGPsec key vault location and naming, matching
// the key_volt/key_ext_private/key_ext_public/debug-type keys of the
// original rpkirtr key loader.
type CryptoConfig struct {
	// KeyVolt is the root directory of the SKI-sharded key vault consumed
	// by the keystore package.
	KeyVolt string `koanf:"key_volt"`

	// KeyExtPrivate is the file extension for private key material.
	KeyExtPrivate string `koanf:"key_ext_private"`

	// KeyExtPublic is the file extension for public key material.
	KeyExtPublic string `koanf:"key_ext_public"`

	// DebugType is the crypto subsystem's own log verbosity level,
	// independent of the daemon-wide log.level.
	DebugType int `koanf:"debug-type"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// RTR defaults follow RFC 8210 Section 6's suggested values: a one-hour
// refresh interval, a 10-minute retry interval, and a two-hour expire
// interval.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			Addr: ":323",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RTR: RTRConfig{
			Version:         1,
			RefreshInterval: 1 * time.Hour,
			RetryInterval:   10 * time.Minute,
			ExpireInterval:  2 * time.Hour,
			ServiceInterval: 60 * time.Second,
			AllowDowngrade:  true,
		},
		Crypto: CryptoConfig{
			KeyVolt:       "/etc/rtrsec/keys",
			KeyExtPrivate: "der",
			KeyExtPublic:  "cert",
			DebugType:     0,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for rtrsec configuration.
// Variables are named RTRD_<section>_<key>, e.g., RTRD_LISTEN_ADDR.
const envPrefix = "RTRD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (RTRD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	RTRD_LISTEN_ADDR        -> listen.addr
//	RTRD_METRICS_ADDR       -> metrics.addr
//	RTRD_METRICS_PATH       -> metrics.path
//	RTRD_LOG_LEVEL          -> log.level
//	RTRD_LOG_FORMAT         -> log.format
//	RTRD_RTR_VERSION        -> rtr.version
//	RTRD_CRYPTO_KEY_VOLT    -> crypto.key_volt
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms RTRD_LISTEN_ADDR -> listen.addr.
// Strips the RTRD_ prefix, lowercases, and replaces the first _ with .
// so underscores inside a key name (key_volt) are kept.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"listen.addr":          defaults.Listen.Addr,
		"metrics.addr":         defaults.Metrics.Addr,
		"metrics.path":         defaults.Metrics.Path,
		"log.level":            defaults.Log.Level,
		"log.format":           defaults.Log.Format,
		"rtr.version":            defaults.RTR.Version,
		"rtr.refresh_interval":   defaults.RTR.RefreshInterval.String(),
		"rtr.retry_interval":     defaults.RTR.RetryInterval.String(),
		"rtr.expire_interval":    defaults.RTR.ExpireInterval.String(),
		"rtr.service_interval":   defaults.RTR.ServiceInterval.String(),
		"rtr.allow_downgrade":    defaults.RTR.AllowDowngrade,
		"crypto.key_volt":        defaults.Crypto.KeyVolt,
		"crypto.key_ext_private": defaults.Crypto.KeyExtPrivate,
		"crypto.key_ext_public":  defaults.Crypto.KeyExtPublic,
		"crypto.debug-type":      defaults.Crypto.DebugType,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyListenAddr indicates the RTR listen address is empty.
	ErrEmptyListenAddr = errors.New("listen.addr must not be empty")

	// ErrInvalidRTRVersion indicates an unsupported RTR protocol version.
	ErrInvalidRTRVersion = errors.New("rtr.version must be 0 or 1")

	// ErrInvalidRefreshInterval indicates the refresh interval is invalid.
	ErrInvalidRefreshInterval = errors.New("rtr.refresh_interval must be > 0")

	// ErrInvalidRetryInterval indicates the retry interval is invalid.
	ErrInvalidRetryInterval = errors.New("rtr.retry_interval must be > 0")

	// ErrInvalidExpireInterval indicates the expire interval is invalid.
	ErrInvalidExpireInterval = errors.New("rtr.expire_interval must be > 0")

	// ErrEmptyKeyVolt indicates the BGPsec key vault directory is empty.
	ErrEmptyKeyVolt = errors.New("crypto.key_volt must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Listen.Addr == "" {
		return ErrEmptyListenAddr
	}

	if cfg.RTR.Version != 0 && cfg.RTR.Version != 1 {
		return ErrInvalidRTRVersion
	}

	if cfg.RTR.RefreshInterval <= 0 {
		return ErrInvalidRefreshInterval
	}

	if cfg.RTR.RetryInterval <= 0 {
		return ErrInvalidRetryInterval
	}

	if cfg.RTR.ExpireInterval <= 0 {
		return ErrInvalidExpireInterval
	}

	if cfg.Crypto.KeyVolt == "" {
		return ErrEmptyKeyVolt
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

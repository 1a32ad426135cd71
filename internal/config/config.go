// Package config loads settings for the diaryd server and the diarysync CLI
// from defaults, an optional config file and DIARYSYNC_* environment
// variables, in increasing order of precedence. Bound command-line flags win
// over all three.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "DIARYSYNC"

// Keys. Each maps to the environment variable DIARYSYNC_<KEY>.
const (
	KeyBaseURL          = "base_url"
	KeyToken            = "token"
	KeyCacheDSN         = "cache_dsn"
	KeyNamespace        = "namespace"
	KeyDebounce         = "debounce"
	KeyHTTPTimeout      = "http_timeout"
	KeyFetchConcurrency = "fetch_concurrency"
	KeyRefreshInterval  = "refresh_interval"
	KeyRefreshJitter    = "refresh_jitter"

	KeyAddr            = "addr"
	KeyStoreDSN        = "store_dsn"
	KeyJWTSecret       = "jwt_secret"
	KeyRateLimitMax    = "rate_limit_max"
	KeyRateLimitWindow = "rate_limit_window"
	KeyMaxBodyBytes    = "max_body_bytes"
	KeyShutdownTimeout = "shutdown_timeout"

	KeyLogLevel  = "log_level"
	KeyLogFormat = "log_format"
	KeyLogFile   = "log_file"
)

var durationDefaults = map[string]time.Duration{
	KeyDebounce:        500 * time.Millisecond,
	KeyHTTPTimeout:     15 * time.Second,
	KeyRefreshInterval: 30 * time.Second,
	KeyRateLimitWindow: time.Minute,
	KeyShutdownTimeout: 10 * time.Second,
}

type Client struct {
	BaseURL          string
	Token            string
	CacheDSN         string
	Namespace        string
	Debounce         time.Duration
	HTTPTimeout      time.Duration
	FetchConcurrency int
	RefreshInterval  time.Duration
	RefreshJitter    float64
}

type Server struct {
	Addr            string
	StoreDSN        string
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

type Log struct {
	Level  string
	Format string
	File   string
}

type Config struct {
	Client Client
	Server Server
	Log    Log
	// Warnings lists values that were ignored in favour of defaults. They are
	// reported once a logger exists.
	Warnings []string
}

// New returns a viper instance with defaults and environment binding set up.
// Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyBaseURL, "http://127.0.0.1:8080")
	v.SetDefault(KeyCacheDSN, "file://~/.diarysync/cache")
	v.SetDefault(KeyNamespace, "diaryCard")
	v.SetDefault(KeyFetchConcurrency, 8)
	v.SetDefault(KeyRefreshJitter, 0.2)
	v.SetDefault(KeyAddr, ":8080")
	v.SetDefault(KeyStoreDSN, "memory://")
	v.SetDefault(KeyJWTSecret, "dev-secret")
	v.SetDefault(KeyRateLimitMax, 0)
	v.SetDefault(KeyMaxBodyBytes, int64(1<<20))
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	for key, d := range durationDefaults {
		v.SetDefault(key, d.String())
	}
	return v
}

// Load reads configFile, when given, and resolves every setting.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path := strings.TrimSpace(configFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	duration := func(key string) time.Duration {
		fallback := durationDefaults[key]
		raw := strings.TrimSpace(v.GetString(key))
		value, err := time.ParseDuration(raw)
		if err != nil || value <= 0 {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid %s=%q, using fallback %s", key, raw, fallback))
			return fallback
		}
		return value
	}

	cfg.Client = Client{
		BaseURL:          strings.TrimSpace(v.GetString(KeyBaseURL)),
		Token:            strings.TrimSpace(v.GetString(KeyToken)),
		CacheDSN:         strings.TrimSpace(v.GetString(KeyCacheDSN)),
		Namespace:        strings.TrimSpace(v.GetString(KeyNamespace)),
		Debounce:         duration(KeyDebounce),
		HTTPTimeout:      duration(KeyHTTPTimeout),
		FetchConcurrency: v.GetInt(KeyFetchConcurrency),
		RefreshInterval:  duration(KeyRefreshInterval),
		RefreshJitter:    ClampJitterRatio(v.GetFloat64(KeyRefreshJitter)),
	}
	cfg.Server = Server{
		Addr:            strings.TrimSpace(v.GetString(KeyAddr)),
		StoreDSN:        strings.TrimSpace(v.GetString(KeyStoreDSN)),
		JWTSecret:       v.GetString(KeyJWTSecret),
		RateLimitMax:    v.GetInt(KeyRateLimitMax),
		RateLimitWindow: duration(KeyRateLimitWindow),
		MaxBodyBytes:    v.GetInt64(KeyMaxBodyBytes),
		ShutdownTimeout: duration(KeyShutdownTimeout),
	}
	cfg.Log = Log{
		Level:  strings.TrimSpace(v.GetString(KeyLogLevel)),
		Format: strings.TrimSpace(v.GetString(KeyLogFormat)),
		File:   strings.TrimSpace(v.GetString(KeyLogFile)),
	}
	return cfg, nil
}

// ClampJitterRatio limits a jitter ratio to [0, 1].
func ClampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

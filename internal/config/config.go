// Package config provides configuration management using Viper.
// It loads configuration from environment variables, .env files, and config files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerPort   = 8080
	defaultServerHost   = "0.0.0.0"
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 0 // SSE streams are long-lived
	defaultLogLevel     = "info"
	defaultLogPretty    = false

	defaultPlaylistServiceURL = "https://cdn.jwplayer.com/v2/playlists"
	defaultMediaServiceURL    = "https://cdn.jwplayer.com/v2/media"
	defaultPlaylistReload     = 5 * time.Second

	defaultFetchMaxRetries = 3
	defaultFetchBaseDelay  = 300 * time.Millisecond
	defaultFetchTimeout    = 10 * time.Second

	defaultActivateRatio      = 0.8
	defaultResetRatio         = 0.2
	defaultResetMinPosition   = 0.5
	defaultWindowRadius       = 1
	defaultMaxRetryAttempts   = 3
	defaultRetryDelay         = 2 * time.Second
	defaultStallTimeout       = 6 * time.Second
	defaultUnmuteDelay        = 500 * time.Millisecond
	defaultUnmuteHintDuration = 5 * time.Second

	defaultTitleDisplayTime = 4.0
	defaultCtaDisplayTime   = 5.0

	defaultBandwidthEstimate   = 3_000_000
	defaultHighQualityDownlink = 1.5

	defaultSessionIdleTimeout     = 10 * time.Minute
	defaultSessionCleanupInterval = 30 * time.Second
	defaultSessionPingInterval    = 15 * time.Second

	envPrefix = "STORIES"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Playlist   PlaylistConfig
	Fetch      FetchConfig
	Activation ActivationConfig
	Overlay    OverlayConfig
	Features   FeaturesConfig
	Network    NetworkConfig
	Session    SessionConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// PlaylistConfig points at the playlist and media-detail services
type PlaylistConfig struct {
	ServiceURL      string
	MediaServiceURL string
	DefaultID       string
	DefaultMediaID  string
	ReloadInterval  time.Duration
}

// FetchConfig configures the retrying fetcher
type FetchConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
	Cache      bool
}

// ActivationConfig tunes the player activation lifecycle
type ActivationConfig struct {
	ActivateRatio      float64
	ResetRatio         float64
	ResetMinPosition   float64
	WindowRadius       int
	Preload            bool
	MaxRetryAttempts   int
	RetryDelay         time.Duration
	StallTimeout       time.Duration
	UnmuteDelay        time.Duration
	UnmuteHintDuration time.Duration
}

// OverlayConfig holds the presentational settings a CMS editor would set
type OverlayConfig struct {
	TopText          string
	LogoURL          string
	LogoLink         string
	CtaText          string
	CtaLink          string
	CtaImageURL      string
	TitleDisplayTime float64
	CtaDisplayTime   float64
}

// FeaturesConfig toggles optional overlay features
type FeaturesConfig struct {
	Captions       bool
	Disclaimer     bool
	DisclaimerText string
}

// NetworkConfig tunes the network-quality advisor
type NetworkConfig struct {
	DefaultBandwidth    float64
	HighQualityDownlink float64
}

// SessionConfig controls widget session lifetime
type SessionConfig struct {
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	// PingInterval keeps idle event streams open through proxies
	PingInterval time.Duration
}

// Load reads configuration from .env file, config files, environment variables, and defaults
func Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadFrom reads configuration from an explicit config file path
func LoadFrom(path string) (*Config, error) {
	v, err := newViperFrom(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads the configuration and calls onChange with the re-validated
// configuration every time the config file changes. Invalid edits are
// reported through onError and otherwise ignored. An empty path searches
// the default locations.
func Watch(path string, onChange func(*Config), onError func(error)) (*Config, error) {
	var (
		v   *viper.Viper
		err error
	)
	if path != "" {
		v, err = newViperFrom(path)
	} else {
		v, err = newViper()
	}
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}

func newViper() (*viper.Viper, error) {
	// .env files are optional in production and CI where env vars are set directly
	_ = godotenv.Load() // nolint:errcheck // .env file is optional

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/stories")

	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}
	return v, nil
}

func newViperFrom(path string) (*viper.Viper, error) {
	_ = godotenv.Load() // nolint:errcheck // .env file is optional

	v := viper.New()
	setDefaults(v)
	bindEnv(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config %s: %w", path, err)
	}
	return v, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.host", defaultServerHost)
	v.SetDefault("server.readtimeout", defaultReadTimeout)
	v.SetDefault("server.writetimeout", defaultWriteTimeout)

	// Logging defaults
	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.pretty", defaultLogPretty)

	// Playlist defaults
	v.SetDefault("playlist.serviceurl", defaultPlaylistServiceURL)
	v.SetDefault("playlist.mediaserviceurl", defaultMediaServiceURL)
	v.SetDefault("playlist.defaultid", "")
	v.SetDefault("playlist.defaultmediaid", "")
	v.SetDefault("playlist.reloadinterval", defaultPlaylistReload)

	// Fetch defaults
	v.SetDefault("fetch.maxretries", defaultFetchMaxRetries)
	v.SetDefault("fetch.basedelay", defaultFetchBaseDelay)
	v.SetDefault("fetch.timeout", defaultFetchTimeout)
	v.SetDefault("fetch.cache", true)

	// Activation defaults
	v.SetDefault("activation.activateratio", defaultActivateRatio)
	v.SetDefault("activation.resetratio", defaultResetRatio)
	v.SetDefault("activation.resetminposition", defaultResetMinPosition)
	v.SetDefault("activation.windowradius", defaultWindowRadius)
	v.SetDefault("activation.preload", true)
	v.SetDefault("activation.maxretryattempts", defaultMaxRetryAttempts)
	v.SetDefault("activation.retrydelay", defaultRetryDelay)
	v.SetDefault("activation.stalltimeout", defaultStallTimeout)
	v.SetDefault("activation.unmutedelay", defaultUnmuteDelay)
	v.SetDefault("activation.unmutehintduration", defaultUnmuteHintDuration)

	// Overlay defaults
	v.SetDefault("overlay.toptext", "")
	v.SetDefault("overlay.logourl", "")
	v.SetDefault("overlay.logolink", "")
	v.SetDefault("overlay.ctatext", "")
	v.SetDefault("overlay.ctalink", "")
	v.SetDefault("overlay.ctaimageurl", "")
	v.SetDefault("overlay.titledisplaytime", defaultTitleDisplayTime)
	v.SetDefault("overlay.ctadisplaytime", defaultCtaDisplayTime)

	// Feature flags
	v.SetDefault("features.captions", true)
	v.SetDefault("features.disclaimer", false)
	v.SetDefault("features.disclaimertext", "")

	// Network defaults
	v.SetDefault("network.defaultbandwidth", defaultBandwidthEstimate)
	v.SetDefault("network.highqualitydownlink", defaultHighQualityDownlink)

	// Session defaults
	v.SetDefault("session.idletimeout", defaultSessionIdleTimeout)
	v.SetDefault("session.cleanupinterval", defaultSessionCleanupInterval)
	v.SetDefault("session.pinginterval", defaultSessionPingInterval)
}

// Validate checks that configuration values are valid
func (c *Config) Validate() error {
	// Validate server port
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	// Validate timeout durations
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("invalid read timeout: %v (must be > 0)", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("invalid write timeout: %v (must be >= 0)", c.Server.WriteTimeout)
	}

	// Validate log level
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.Logging.Level, strings.Join(validLevels, ", "))
	}

	if c.Playlist.ServiceURL == "" || c.Playlist.MediaServiceURL == "" {
		return fmt.Errorf("playlist and media service URLs are required")
	}
	if c.Playlist.ReloadInterval <= 0 {
		return fmt.Errorf("invalid playlist reload interval: %v (must be > 0)", c.Playlist.ReloadInterval)
	}

	if c.Fetch.MaxRetries < 1 {
		return fmt.Errorf("invalid fetch max retries: %d (must be >= 1)", c.Fetch.MaxRetries)
	}
	if c.Fetch.BaseDelay <= 0 {
		return fmt.Errorf("invalid fetch base delay: %v (must be > 0)", c.Fetch.BaseDelay)
	}

	a := c.Activation
	if a.ActivateRatio <= 0 || a.ActivateRatio > 1 {
		return fmt.Errorf("invalid activate ratio: %v (must be in (0, 1])", a.ActivateRatio)
	}
	if a.ResetRatio < 0 || a.ResetRatio >= a.ActivateRatio {
		return fmt.Errorf("invalid reset ratio: %v (must be in [0, activate ratio))", a.ResetRatio)
	}
	if a.WindowRadius < 0 || a.WindowRadius > 1 {
		// more than three concurrent players defeats the resource cap
		return fmt.Errorf("invalid window radius: %d (must be 0 or 1)", a.WindowRadius)
	}
	if a.MaxRetryAttempts < 0 {
		return fmt.Errorf("invalid max retry attempts: %d (must be >= 0)", a.MaxRetryAttempts)
	}
	if a.RetryDelay <= 0 || a.StallTimeout <= 0 || a.UnmuteDelay <= 0 {
		return fmt.Errorf("activation delays must be > 0")
	}

	if c.Overlay.TitleDisplayTime < 0 || c.Overlay.CtaDisplayTime < 0 {
		return fmt.Errorf("overlay display times must be >= 0")
	}

	if c.Network.DefaultBandwidth <= 0 {
		return fmt.Errorf("invalid default bandwidth: %v (must be > 0)", c.Network.DefaultBandwidth)
	}

	if c.Session.IdleTimeout <= 0 || c.Session.CleanupInterval <= 0 || c.Session.PingInterval <= 0 {
		return fmt.Errorf("session idle timeout, cleanup interval and ping interval must be > 0")
	}

	return nil
}

// contains checks if a string slice contains a specific value
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

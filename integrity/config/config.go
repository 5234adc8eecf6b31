package config

import (
	"fmt"
	"strings"
	"time"

	internal "github.com/integritydesk/integrity-assistant/integrity"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Keystroke KeystrokeConfig `mapstructure:"keystroke"`
	Auth      AuthConfig      `mapstructure:"auth"`
	API       APIConfig       `mapstructure:"api"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// LoggingConfig stores log output configurations.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"` // Human-readable console output
}

// CaptureConfig stores screen sampling configurations.
type CaptureConfig struct {
	Interval      time.Duration `mapstructure:"interval"`       // Pause between sampling cycles
	ErrorBackoff  time.Duration `mapstructure:"error_backoff"`  // Pause after a failed cycle
	BufferSize    int           `mapstructure:"buffer_size"`    // Screen text ring capacity
	TesseractPath string        `mapstructure:"tesseract_path"` // Explicit tesseract binary
	Languages     []string      `mapstructure:"languages"`      // OCR languages, combined with +
	PageSegMode   int           `mapstructure:"page_seg_mode"`  // Tesseract --psm value
	GrabberPath   string        `mapstructure:"grabber_path"`   // Explicit screenshot tool
}

// KeystrokeConfig stores keystroke aggregation configurations.
type KeystrokeConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`    // Keystroke ring capacity
	FlushInterval time.Duration `mapstructure:"flush_interval"` // Idle window before a flush
	MaxPending    int           `mapstructure:"max_pending"`    // Rune count that forces a flush
	Markers       []string      `mapstructure:"markers"`        // Sensitive context markers
}

// AuthConfig stores identity provider configurations.
type AuthConfig struct {
	SupabaseURL string        `mapstructure:"supabase_url"`
	SupabaseKey string        `mapstructure:"supabase_key"`
	Timeout     time.Duration `mapstructure:"timeout"`     // Per-request timeout
	SessionTTL  time.Duration `mapstructure:"session_ttl"` // Assumed access token lifetime
}

// APIConfig stores assistant backend configurations.
type APIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	QuotaTimeout time.Duration `mapstructure:"quota_timeout"`
}

// DatabaseConfig stores local state database connection details.
type DatabaseConfig struct {
	DSN  string `mapstructure:"dsn"`
	Type string `mapstructure:"type"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(internal.StateDir())
		viper.SetConfigName(internal.DefaultConfigName)
		viper.SetConfigType("yaml")
	}

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.pretty", false)

	// Capture defaults (2Hz sampling)
	viper.SetDefault("capture.interval", "500ms")
	viper.SetDefault("capture.error_backoff", "1s")
	viper.SetDefault("capture.buffer_size", internal.ScreenBufferCapacity)
	viper.SetDefault("capture.tesseract_path", "")
	viper.SetDefault("capture.languages", []string{"eng"})
	viper.SetDefault("capture.page_seg_mode", 3)
	viper.SetDefault("capture.grabber_path", "")

	// Keystroke defaults
	viper.SetDefault("keystroke.buffer_size", internal.KeystrokeBufferCapacity)
	viper.SetDefault("keystroke.flush_interval", "1s")
	viper.SetDefault("keystroke.max_pending", 20)
	viper.SetDefault("keystroke.markers", internal.DefaultRedactionMarkers)

	// Auth defaults
	viper.SetDefault("auth.supabase_url", "")
	viper.SetDefault("auth.supabase_key", "")
	viper.SetDefault("auth.timeout", "10s")
	viper.SetDefault("auth.session_ttl", "1h")

	// API defaults
	viper.SetDefault("api.base_url", internal.DefaultAPIBaseURL)
	viper.SetDefault("api.query_timeout", "30s")
	viper.SetDefault("api.quota_timeout", "10s")

	// Database defaults
	viper.SetDefault("database.dsn", internal.DefaultDatabaseDSN())
	viper.SetDefault("database.type", internal.DefaultDatabaseType)

	viper.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. capture.buffer_size becomes CAPTURE_BUFFER_SIZE
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Legacy environment names kept alongside the replacer-derived ones.
	viper.BindEnv("auth.supabase_url", "AUTH_SUPABASE_URL", "SUPABASE_URL")
	viper.BindEnv("auth.supabase_key", "AUTH_SUPABASE_KEY", "SUPABASE_KEY")
	viper.BindEnv("api.base_url", "API_BASE_URL", "RAILWAY_API_URL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults and environment are used.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	err := viper.Unmarshal(&AppConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}

// Watch re-reads the configuration whenever the loaded file changes and
// hands the fresh copy to onChange. Only settings the caller applies take
// effect at runtime; a copy that fails to decode is dropped.
func Watch(log zerolog.Logger, onChange func(*Config)) {
	viper.OnConfigChange(func(in fsnotify.Event) {
		log.Info().Str("file", in.Name).Msg("configuration file changed")
		var next Config
		if err := viper.Unmarshal(&next); err != nil {
			log.Warn().Err(err).Msg("configuration reload failed, keeping previous values")
			return
		}
		AppConfig = next
		onChange(&next)
	})
	viper.WatchConfig()
}

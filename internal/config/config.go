// Package config handles configuration loading for finfiles.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Edgar     EdgarConfig     `mapstructure:"edgar"     yaml:"edgar"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"   yaml:"fetcher"`
	Hub       HubConfig       `mapstructure:"hub"       yaml:"hub"`
	Analytics AnalyticsConfig `mapstructure:"analytics" yaml:"analytics"`
	Audit     AuditConfig     `mapstructure:"audit"     yaml:"audit"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
}

// EdgarConfig holds upstream SEC EDGAR client settings.
type EdgarConfig struct {
	DataURL      string `mapstructure:"data_url"       yaml:"data_url"`
	BrowseURL    string `mapstructure:"browse_url"     yaml:"browse_url"`
	TickerMapURL string `mapstructure:"ticker_map_url" yaml:"ticker_map_url"`
	UserAgent    string `mapstructure:"user_agent"     yaml:"user_agent"`
	TimeoutSec   int    `mapstructure:"timeout_sec"    yaml:"timeout_sec"`
	RatePerSec   int    `mapstructure:"rate_per_sec"   yaml:"rate_per_sec"`
}

// FetcherConfig holds polling and retry settings.
type FetcherConfig struct {
	Tickers     []string `mapstructure:"tickers"       yaml:"tickers"`
	IntervalSec int      `mapstructure:"interval_sec"  yaml:"interval_sec"`
	MaxInFlight int      `mapstructure:"max_in_flight" yaml:"max_in_flight"`
	RetryBaseMs int      `mapstructure:"retry_base_ms" yaml:"retry_base_ms"`
	RetryMaxMs  int      `mapstructure:"retry_max_ms"  yaml:"retry_max_ms"`
	MaxAttempts int      `mapstructure:"max_attempts"  yaml:"max_attempts"`
}

// HubConfig holds real-time distribution settings.
type HubConfig struct {
	BufferWatermark int `mapstructure:"buffer_watermark" yaml:"buffer_watermark"`
}

// AnalyticsConfig holds analytics dispatcher settings.
type AnalyticsConfig struct {
	DefaultBackend string `mapstructure:"default_backend" yaml:"default_backend"` // "local", "remote"
	TimeoutSec     int    `mapstructure:"timeout_sec"     yaml:"timeout_sec"`
	CacheTTLSec    int    `mapstructure:"cache_ttl_sec"   yaml:"cache_ttl_sec"`
	RemoteURL      string `mapstructure:"remote_url"      yaml:"remote_url"`
	RemoteModel    string `mapstructure:"remote_model"    yaml:"remote_model"`
	RemoteKey      string `mapstructure:"remote_key"      yaml:"remote_key"`
}

// AuditConfig holds audit trail persistence settings.
type AuditConfig struct {
	DBPath          string `mapstructure:"db_path"           yaml:"db_path"`
	FlushTimeoutSec int    `mapstructure:"flush_timeout_sec" yaml:"flush_timeout_sec"`
}

// FlushTimeout bounds audit draining during shutdown.
func (c AuditConfig) FlushTimeout() time.Duration {
	return time.Duration(c.FlushTimeoutSec) * time.Second
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // "debug", "info", "warn", "error"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.finfiles/config.yaml (home directory)
//  3. /etc/finfiles/config.yaml (system)
//
// Environment variables override config file values.
// Format: FINFILES_<SECTION>_<KEY>, e.g., FINFILES_API_PORT
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".finfiles"))
	v.AddConfigPath("/etc/finfiles")

	v.SetEnvPrefix("FINFILES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — that's fine, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)

	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("FINFILES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// EDGAR defaults. SEC asks for a descriptive User-Agent and caps
	// clients at 10 requests/second per user-agent.
	v.SetDefault("edgar.data_url", "https://data.sec.gov")
	v.SetDefault("edgar.browse_url", "https://www.sec.gov/cgi-bin/browse-edgar")
	v.SetDefault("edgar.ticker_map_url", "https://www.sec.gov/files/company_tickers.json")
	v.SetDefault("edgar.user_agent", "finfiles/1.0 (github.com/finfiles/finfiles)")
	v.SetDefault("edgar.timeout_sec", 20)
	v.SetDefault("edgar.rate_per_sec", 8)

	// Fetcher defaults
	v.SetDefault("fetcher.interval_sec", 300)
	v.SetDefault("fetcher.max_in_flight", 4)
	v.SetDefault("fetcher.retry_base_ms", 500)
	v.SetDefault("fetcher.retry_max_ms", 8000)
	v.SetDefault("fetcher.max_attempts", 4)

	// Hub defaults
	v.SetDefault("hub.buffer_watermark", 256)

	// Analytics defaults
	v.SetDefault("analytics.default_backend", "local")
	v.SetDefault("analytics.timeout_sec", 60)
	v.SetDefault("analytics.cache_ttl_sec", 600)
	v.SetDefault("analytics.remote_url", "http://localhost:11434")
	v.SetDefault("analytics.remote_model", "qwen2.5:7b")

	// Audit defaults
	v.SetDefault("audit.db_path", "~/.finfiles/audit.db")
	v.SetDefault("audit.flush_timeout_sec", 10)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("FINFILES_ANALYTICS_REMOTE_KEY"); key != "" {
		cfg.Analytics.RemoteKey = key
	}
	if ua := os.Getenv("FINFILES_EDGAR_USER_AGENT"); ua != "" {
		cfg.Edgar.UserAgent = ua
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// PollInterval returns the fetcher polling interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Fetcher.IntervalSec) * time.Second
}

// AnalyticsTimeout returns the per-invocation analytics deadline.
func (c *Config) AnalyticsTimeout() time.Duration {
	return time.Duration(c.Analytics.TimeoutSec) * time.Second
}

// AuditFlushTimeout bounds audit draining during shutdown.
func (c *Config) AuditFlushTimeout() time.Duration {
	return c.Audit.FlushTimeout()
}

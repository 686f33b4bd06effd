// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	DBURL    string `mapstructure:"DB_URL"`

	GithubToken  string `mapstructure:"GITHUB_TOKEN"`
	GithubUser   string `mapstructure:"GITHUB_USER"`
	GithubAPIURL string `mapstructure:"GITHUB_API_URL"`
	GithubWebURL string `mapstructure:"GITHUB_WEB_URL"`

	ScanRoots    []string      `mapstructure:"SCAN_ROOTS"`
	ScanExclude  []string      `mapstructure:"SCAN_EXCLUDE"`
	SyncInterval time.Duration `mapstructure:"SYNC_INTERVAL"`

	FetchConcurrency   int           `mapstructure:"FETCH_CONCURRENCY"`
	FetchMaxPages      int           `mapstructure:"FETCH_MAX_PAGES"`
	FetchAll           bool          `mapstructure:"FETCH_ALL"`
	FetchItemBudget    int           `mapstructure:"FETCH_ITEM_BUDGET"`
	FetchRate          float64       `mapstructure:"FETCH_RATE"`
	RateLimitThreshold int           `mapstructure:"RATE_LIMIT_THRESHOLD"`
	RateLimitBackoff   time.Duration `mapstructure:"RATE_LIMIT_BACKOFF"`
	ListMaxPages       int           `mapstructure:"LIST_MAX_PAGES"`

	ReconcileWorkers int           `mapstructure:"RECONCILE_WORKERS"`
	CommitEvery      int           `mapstructure:"COMMIT_EVERY"`
	CacheMaxAge      time.Duration `mapstructure:"CACHE_MAX_AGE"`
	EnrichLimit      int           `mapstructure:"ENRICH_LIMIT"`

	// HTTPAddr enables the read-only API when set.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DB_URL", "")
	viper.SetDefault("GITHUB_TOKEN", "")
	viper.SetDefault("GITHUB_USER", "")
	viper.SetDefault("GITHUB_API_URL", "")
	viper.SetDefault("GITHUB_WEB_URL", "https://github.com")
	viper.SetDefault("SCAN_ROOTS", "")
	viper.SetDefault("SCAN_EXCLUDE", "")
	viper.SetDefault("SYNC_INTERVAL", "0s")
	viper.SetDefault("FETCH_CONCURRENCY", 4)
	viper.SetDefault("FETCH_MAX_PAGES", 10)
	viper.SetDefault("FETCH_ALL", false)
	viper.SetDefault("FETCH_ITEM_BUDGET", 0)
	viper.SetDefault("FETCH_RATE", 0)
	viper.SetDefault("RATE_LIMIT_THRESHOLD", 10)
	viper.SetDefault("RATE_LIMIT_BACKOFF", "5s")
	viper.SetDefault("LIST_MAX_PAGES", 100)
	viper.SetDefault("RECONCILE_WORKERS", 4)
	viper.SetDefault("COMMIT_EVERY", 100)
	viper.SetDefault("CACHE_MAX_AGE", "24h")
	viper.SetDefault("ENRICH_LIMIT", 50)
	viper.SetDefault("HTTP_ADDR", "")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.ScanRoots = splitList(cfg.ScanRoots)
	cfg.ScanExclude = splitList(cfg.ScanExclude)

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.SyncInterval < 0 {
		return nil, errors.New("SYNC_INTERVAL must not be negative")
	}
	if cfg.RateLimitThreshold < 0 || cfg.RateLimitThreshold > 100 {
		return nil, errors.New("RATE_LIMIT_THRESHOLD must be a percentage between 0 and 100")
	}
	if cfg.FetchRate < 0 {
		return nil, errors.New("FETCH_RATE must not be negative")
	}

	return &cfg, nil
}

// splitList accepts both repeated values and a single comma separated string.
func splitList(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrMissingAPIKey is returned by Validate when no PatentsView key is configured.
var ErrMissingAPIKey = eris.New("config: patentsview api key is required")

// Config holds the full application configuration.
type Config struct {
	PatentsView PatentsViewConfig `yaml:"patentsview" mapstructure:"patentsview"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Run         RunConfig         `yaml:"run" mapstructure:"run"`
	Registry    RegistryConfig    `yaml:"registry" mapstructure:"registry"`
	Input       InputConfig       `yaml:"input" mapstructure:"input"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// PatentsViewConfig holds PatentSearch API settings and request limits.
type PatentsViewConfig struct {
	APIKey               string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL              string `yaml:"base_url" mapstructure:"base_url"`
	MinIntervalMs        int    `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	ThrottleCooldownSecs int    `yaml:"throttle_cooldown_secs" mapstructure:"throttle_cooldown_secs"`
	MaxThrottleRetries   int    `yaml:"max_throttle_retries" mapstructure:"max_throttle_retries"`
	TimeoutSecs          int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxCitations         int    `yaml:"max_citations" mapstructure:"max_citations"`
	BatchSize            int    `yaml:"batch_size" mapstructure:"batch_size"`
	RetryAttempts        int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs       int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// MinInterval returns the minimum spacing between two requests.
func (c PatentsViewConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}

// ThrottleCooldown returns the sleep applied after a 429 response.
func (c PatentsViewConfig) ThrottleCooldown() time.Duration {
	return time.Duration(c.ThrottleCooldownSecs) * time.Second
}

// Timeout returns the per-request HTTP timeout.
func (c PatentsViewConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite, badger, memory
	Path   string `yaml:"path" mapstructure:"path"`
}

// RunConfig controls output layout and batch behavior.
type RunConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	LedgerFile    string `yaml:"ledger_file" mapstructure:"ledger_file"`
	StatusFile    string `yaml:"status_file" mapstructure:"status_file"`
	ChunkSize     int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	ProgressEvery int    `yaml:"progress_every" mapstructure:"progress_every"`
	Workers       int    `yaml:"workers" mapstructure:"workers"`
}

// LedgerPath returns the ledger location, relative paths resolved against Dir.
func (c RunConfig) LedgerPath() string {
	return c.resolve(c.LedgerFile)
}

// StatusPath returns the status snapshot location.
func (c RunConfig) StatusPath() string {
	return c.resolve(c.StatusFile)
}

// SummaryPath returns where the end-of-run summary is written.
func (c RunConfig) SummaryPath() string {
	return filepath.Join(c.Dir, "summary.json")
}

// ChunkDir returns the directory output chunks are written to.
func (c RunConfig) ChunkDir() string {
	return filepath.Join(c.Dir, "chunks")
}

func (c RunConfig) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// RegistryConfig points at the competitor registry file.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// InputConfig describes where subjects come from.
type InputConfig struct {
	Source      string `yaml:"source" mapstructure:"source"` // csv, json, postgres
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Query       string `yaml:"query" mapstructure:"query"`
}

// MetricsConfig configures the optional metrics/status listener.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CITES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Explicit defaults for keys with no default value so AutomaticEnv can
	// populate them during Unmarshal.
	v.SetDefault("patentsview.api_key", "")
	v.SetDefault("patentsview.base_url", "https://search.patentsview.org/api/v1")
	v.SetDefault("patentsview.min_interval_ms", 1400) // 45 req/min ceiling
	v.SetDefault("patentsview.throttle_cooldown_secs", 60)
	v.SetDefault("patentsview.max_throttle_retries", 1)
	v.SetDefault("patentsview.timeout_secs", 30)
	v.SetDefault("patentsview.max_citations", 1000)
	v.SetDefault("patentsview.batch_size", 100)
	v.SetDefault("patentsview.retry_attempts", 3)
	v.SetDefault("patentsview.retry_backoff_ms", 2000)
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "cache/responses.db")
	v.SetDefault("run.dir", "output")
	v.SetDefault("run.ledger_file", "ledger.txt")
	v.SetDefault("run.status_file", "status.json")
	v.SetDefault("run.chunk_size", 100)
	v.SetDefault("run.progress_every", 10)
	v.SetDefault("run.workers", 1)
	v.SetDefault("registry.path", "competitors.yaml")
	v.SetDefault("input.source", "csv")
	v.SetDefault("input.path", "")
	v.SetDefault("input.database_url", "")
	v.SetDefault("input.query", "SELECT patent_id, title, grant_date::text, score::float8 FROM patents ORDER BY patent_id")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the settings an enrichment run cannot start without.
// It never touches the network.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.PatentsView.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.PatentsView.MinIntervalMs < 0 {
		return eris.New("config: patentsview.min_interval_ms must not be negative")
	}
	if c.PatentsView.MaxCitations <= 0 {
		return eris.New("config: patentsview.max_citations must be positive")
	}
	if c.PatentsView.BatchSize <= 0 {
		return eris.New("config: patentsview.batch_size must be positive")
	}
	if c.Run.ChunkSize <= 0 {
		return eris.New("config: run.chunk_size must be positive")
	}
	if c.Run.Workers < 1 || c.Run.Workers > 4 {
		return eris.Errorf("config: run.workers must be between 1 and 4, got %d", c.Run.Workers)
	}
	if c.Registry.Path == "" {
		return eris.New("config: registry.path is required")
	}
	if _, err := os.Stat(c.Registry.Path); err != nil {
		return eris.Wrapf(err, "config: registry file %s", c.Registry.Path)
	}
	switch c.Input.Source {
	case "csv", "json":
		if c.Input.Path == "" {
			return eris.Errorf("config: input.path is required for %s input", c.Input.Source)
		}
		if _, err := os.Stat(c.Input.Path); err != nil {
			return eris.Wrapf(err, "config: input file %s", c.Input.Path)
		}
	case "postgres":
		if c.Input.DatabaseURL == "" {
			return eris.New("config: input.database_url is required for postgres input")
		}
	default:
		return eris.Errorf("config: unknown input.source %q", c.Input.Source)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials"`
	Storage     StorageConfig     `yaml:"storage"`
	Collect     CollectConfig     `yaml:"collect"`
	Stream      StreamConfig      `yaml:"stream"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

type CredentialsConfig struct {
	// App-only bearer token for the REST endpoints.
	BearerToken string `yaml:"bearerToken" envconfig:"X_BEARER_TOKEN"`
	// OAuth1.0a credentials; the filter stream requires user context.
	ConsumerKey    string `yaml:"consumerKey" envconfig:"X_CONSUMER_KEY"`
	ConsumerSecret string `yaml:"consumerSecret" envconfig:"X_CONSUMER_SECRET"`
	AccessToken    string `yaml:"accessToken" envconfig:"X_ACCESS_TOKEN"`
	AccessSecret   string `yaml:"accessSecret" envconfig:"X_ACCESS_SECRET"`
}

type StorageConfig struct {
	// sqlite or postgres
	Driver string `yaml:"driver" envconfig:"DB_DRIVER"`
	// File path for sqlite, connection string for postgres.
	DSN string `yaml:"dsn" envconfig:"DB_DSN"`
	// Prepended to every table name.
	TablePrefix string `yaml:"tablePrefix" envconfig:"DB_TABLE_PREFIX"`
}

type CollectConfig struct {
	Concurrency int `yaml:"concurrency" envconfig:"CONCURRENCY"`
	// Return an error from batch runs only when every item failed.
	FailOnAllErrors bool `yaml:"failOnAllErrors"`
	// Identifiers that never name an account (reserved routes, placeholders).
	InvalidIDs []string `yaml:"invalidIDs"`
	APIRPS     float64  `yaml:"apiRPS" envconfig:"API_RPS"`
	APIBurst   int      `yaml:"apiBurst" envconfig:"API_BURST"`
}

type StreamConfig struct {
	Keywords  []string      `yaml:"keywords"`
	QueueSize int           `yaml:"queueSize"`
	Duration  time.Duration `yaml:"duration"`
	Count     int           `yaml:"count"`
	TweetSets []string      `yaml:"tweetSets"`
}

type ScheduleConfig struct {
	// Standard cron expression or descriptor such as "@hourly".
	Cron string `yaml:"cron"`
	// Profile set collected on every tick.
	Set string `yaml:"set"`
	// Hours of the day (0-23, UTC) in which ticks are skipped.
	QuietHours []int `yaml:"quietHours"`
}

type ScoringConfig struct {
	// Empty selects the local heuristic scorer.
	Endpoint string `yaml:"endpoint" envconfig:"SCORING_ENDPOINT"`
	APIKey   string `yaml:"apiKey" envconfig:"SCORING_API_KEY"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" envconfig:"METRICS_ADDR"`
}

type LogConfig struct {
	Level string `yaml:"level" envconfig:"LOG_LEVEL"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: "sqlite", DSN: "./birdseed.db"},
		Collect: CollectConfig{
			Concurrency:     4,
			FailOnAllErrors: true,
			InvalidIDs:      []string{"home", "search", "explore", "notifications", "messages", "settings", "i", "intent", "share", "hashtag"},
			APIRPS:          2,
			APIBurst:        10,
		},
		Stream:   StreamConfig{QueueSize: 100},
		Schedule: ScheduleConfig{Cron: "@hourly"},
		Log:      LogConfig{Level: "info"},
	}
}

// ResolveEnv overlays environment variables (and a local .env file, if
// present) onto the config. Credentials use the X_* names; everything else
// is prefixed with BIRDSEED_.
func (c *Config) ResolveEnv() error {
	_ = godotenv.Load()
	if err := envconfig.Process("", &c.Credentials); err != nil {
		return fmt.Errorf("credentials env: %w", err)
	}
	for _, section := range []any{&c.Storage, &c.Collect, &c.Scoring, &c.Metrics, &c.Log} {
		if err := envconfig.Process("BIRDSEED", section); err != nil {
			return fmt.Errorf("env: %w", err)
		}
	}
	return nil
}

// Validate rejects configurations the collectors cannot run with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return errors.New("storage dsn is empty")
	}
	if c.Collect.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Collect.Concurrency)
	}
	if c.Stream.QueueSize < 0 {
		return fmt.Errorf("stream queue size must be >= 0, got %d", c.Stream.QueueSize)
	}
	for _, h := range c.Schedule.QuietHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("quiet hour %d out of range", h)
		}
	}
	return nil
}

// Load reads YAML config from path, overlays the environment and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.ResolveEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

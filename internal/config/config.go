// ABOUTME: Configuration loading and defaults for hikmaai-lens
// ABOUTME: TOML file overlaid on defaults, with XDG paths and validation

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hikmaai-io/hikmaai-lens/internal/classifier"
	"github.com/hikmaai-io/hikmaai-lens/internal/dbupdater"
	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
	"github.com/hikmaai-io/hikmaai-lens/internal/feeds"
	"github.com/hikmaai-io/hikmaai-lens/internal/gcs"
	"github.com/hikmaai-io/hikmaai-lens/internal/observability"
	"github.com/hikmaai-io/hikmaai-lens/internal/queue"
	"github.com/hikmaai-io/hikmaai-lens/internal/redis"
	"github.com/hikmaai-io/hikmaai-lens/internal/scanner"
)

const appName = "hikmaai-lens"

// Config holds the complete configuration for hikmaai-lens.
type Config struct {
	// DataDir holds the Badger databases unless a section names its own path.
	DataDir string `toml:"data_dir"`

	Classifier   ClassifierConfig            `toml:"classifier"`
	Signatures   SignaturesConfig            `toml:"signatures"`
	Cache        CacheConfig                 `toml:"cache"`
	Redis        RedisConfig                 `toml:"redis"`
	NATS         NATSConfig                  `toml:"nats"`
	HTTP         HTTPConfig                  `toml:"http"`
	Jobs         JobsConfig                  `toml:"jobs"`
	StreamWorker StreamWorkerConfig          `toml:"stream_worker"`
	Health       HealthConfig                `toml:"health"`
	Logging      observability.LoggingConfig `toml:"logging"`
	Tracing      observability.TracingConfig `toml:"tracing"`
	Update       UpdateConfig                `toml:"update"`
	GCS          gcs.Config                  `toml:"gcs"`
}

// ClassifierConfig controls how content is examined.
type ClassifierConfig struct {
	// MaxScanSize caps the examined prefix in bytes.
	MaxScanSize int `toml:"max_scan_size"`

	// LogPolicy is none, name or pattern.
	LogPolicy string `toml:"log_policy"`
}

// Options converts the section to classifier options.
// Call after Validate.
func (c ClassifierConfig) Options() classifier.Options {
	policy, _ := classifier.ParseLogPolicy(c.LogPolicy)
	return classifier.Options{MaxScanSize: c.MaxScanSize, LogPolicy: policy}
}

// SignaturesConfig selects the startup signature set.
type SignaturesConfig struct {
	// Files are rule files appended in order after the builtin table.
	Files []string `toml:"files"`

	UseBuiltin bool `toml:"use_builtin"`

	// LoadPersisted prefers the set stored in the signature DB, if any.
	LoadPersisted bool `toml:"load_persisted"`

	// DBPath defaults to <data_dir>/signatures.
	DBPath string `toml:"db_path"`

	// Watch reloads the set when a local rule file changes.
	Watch bool `toml:"watch"`
}

// CacheConfig configures the local Badger verdict cache.
type CacheConfig struct {
	Enabled  bool          `toml:"enabled"`
	TTL      time.Duration `toml:"ttl"`
	InMemory bool          `toml:"in_memory"`

	// Path defaults to <data_dir>/cache.
	Path string `toml:"path"`

	BloomExpected uint    `toml:"bloom_expected"`
	BloomFPR      float64 `toml:"bloom_fpr"`

	// Circuit breaker around cache calls.
	BreakerMaxFailures  int           `toml:"breaker_max_failures"`
	BreakerResetTimeout time.Duration `toml:"breaker_reset_timeout"`
}

// Bloom returns the bloom filter sizing.
func (c CacheConfig) Bloom() engine.BloomConfig {
	return engine.BloomConfig{ExpectedItems: c.BloomExpected, FalsePositiveRate: c.BloomFPR}
}

// RedisConfig enables the shared verdict cache and detection stream.
// When enabled it replaces the local cache.
type RedisConfig struct {
	Enabled bool `toml:"enabled"`
	redis.Config

	CacheTTL    time.Duration `toml:"cache_ttl"`
	EventStream string        `toml:"event_stream"`
	EventMaxLen int64         `toml:"event_max_len"`

	// PublishEvents sends one stream entry per detection.
	PublishEvents bool `toml:"publish_events"`
}

// NATSConfig enables the NATS scan responder.
type NATSConfig struct {
	Enabled bool `toml:"enabled"`
	queue.NATSConfig
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	// Addr disables the API when empty.
	Addr string `toml:"addr"`

	MaxBodySize     int64         `toml:"max_body_size"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// JobsConfig configures async scan jobs.
type JobsConfig struct {
	Enabled     bool          `toml:"enabled"`
	Concurrency int           `toml:"concurrency"`
	QueueSize   int           `toml:"queue_size"`
	Retention   time.Duration `toml:"retention"`

	// Path defaults to <data_dir>/jobs.
	Path string `toml:"path"`
}

// StreamWorkerConfig enables the Redis Streams task consumer.
// It requires the redis section.
type StreamWorkerConfig struct {
	Enabled bool `toml:"enabled"`
	scanner.StreamWorkerConfig
}

// HealthConfig configures dependency probes.
type HealthConfig struct {
	CheckInterval      time.Duration `toml:"check_interval"`
	CheckTimeout       time.Duration `toml:"check_timeout"`
	UnhealthyThreshold int           `toml:"unhealthy_threshold"`
}

// Checker returns the health checker configuration.
func (c HealthConfig) Checker() scanner.HealthCheckerConfig {
	return scanner.HealthCheckerConfig{
		CheckInterval:      c.CheckInterval,
		CheckTimeout:       c.CheckTimeout,
		UnhealthyThreshold: c.UnhealthyThreshold,
	}
}

// UpdateConfig configures the periodic feed refresh.
type UpdateConfig struct {
	Enabled bool `toml:"enabled"`

	// Interval between refreshes. Zero refreshes only on demand.
	Interval time.Duration `toml:"interval"`

	Backoff    dbupdater.BackoffConfig `toml:"backoff"`
	Downloader feeds.DownloaderConfig  `toml:"downloader"`

	// Feeds in probe order. Empty means the builtin table alone.
	Feeds []feeds.Config `toml:"feeds"`
}

// FeedConfigs returns the configured feeds, or the builtin feed.
func (c UpdateConfig) FeedConfigs() []feeds.Config {
	if len(c.Feeds) == 0 {
		return []feeds.Config{{Name: "builtin", Format: feeds.FormatBuiltin}}
	}
	return c.Feeds
}

// DefaultConfig returns a Config with default values.
// External dependencies (Redis, NATS, tracing) are disabled by default
// for standalone single-binary operation.
func DefaultConfig() *Config {
	nats := queue.DefaultNATSConfig()

	return &Config{
		DataDir: DefaultDataDir(),
		Classifier: ClassifierConfig{
			MaxScanSize: classifier.DefaultMaxScanSize,
			LogPolicy:   string(classifier.LogName),
		},
		Signatures: SignaturesConfig{
			UseBuiltin:    true,
			LoadPersisted: true,
		},
		Cache: CacheConfig{
			Enabled:       true,
			TTL:           24 * time.Hour,
			BloomExpected: engine.DefaultBloomConfig().ExpectedItems,
			BloomFPR:      engine.DefaultBloomConfig().FalsePositiveRate,
		},
		Redis: RedisConfig{
			Config:      redis.Config{Addr: "localhost:6379", Prefix: "lens:"},
			CacheTTL:    24 * time.Hour,
			EventStream: redis.DefaultDetectionStream,
			EventMaxLen: redis.DefaultDetectionMaxLen,
		},
		NATS: NATSConfig{NATSConfig: nats},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			MaxBodySize:     16 << 20,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Jobs: JobsConfig{
			Enabled:     true,
			Concurrency: 2,
			QueueSize:   100,
			Retention:   24 * time.Hour,
		},
		StreamWorker: StreamWorkerConfig{
			StreamWorkerConfig: scanner.StreamWorkerConfig{
				TaskStream:    "scan_tasks",
				ConsumerGroup: "lens",
			},
		},
		Health: HealthConfig{
			CheckInterval:      scanner.DefaultCheckInterval,
			CheckTimeout:       scanner.DefaultCheckTimeout,
			UnhealthyThreshold: scanner.DefaultUnhealthyThreshold,
		},
		Logging: observability.LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: observability.TracingConfig{
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
		Update: UpdateConfig{
			Interval:   time.Hour,
			Backoff:    dbupdater.DefaultBackoffConfig(),
			Downloader: feeds.DefaultDownloaderConfig(),
		},
	}
}

// Load reads a TOML file over the defaults. An empty path returns the
// defaults; a missing file at the default path is not an error.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath() {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Classifier.MaxScanSize <= 0 {
		errs = append(errs, fmt.Errorf("classifier.max_scan_size must be positive, got %d", c.Classifier.MaxScanSize))
	}
	if _, err := classifier.ParseLogPolicy(c.Classifier.LogPolicy); err != nil {
		errs = append(errs, fmt.Errorf("classifier.log_policy: %w", err))
	}
	if !c.Signatures.UseBuiltin && len(c.Signatures.Files) == 0 && !c.Signatures.LoadPersisted {
		errs = append(errs, errors.New("signatures: no source (enable use_builtin, load_persisted or list files)"))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.NATS.Enabled && (c.NATS.URL == "" || c.NATS.Subject == "") {
		errs = append(errs, errors.New("nats.url and nats.subject are required when nats is enabled"))
	}
	if c.StreamWorker.Enabled {
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("stream_worker requires redis to be enabled"))
		}
		sw := c.StreamWorker.StreamWorkerConfig
		if sw.ConsumerName == "" {
			sw.ConsumerName = "validate"
		}
		if err := sw.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("stream_worker: %w", err))
		}
	}

	if err := c.Update.Backoff.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("update.backoff: %w", err))
	}
	for i, fc := range c.Update.Feeds {
		if _, err := feeds.New(fc); err != nil {
			errs = append(errs, fmt.Errorf("update.feeds[%d]: %w", i, err))
			continue
		}
		if fc.NeedsSource() && fc.URI == "" {
			errs = append(errs, fmt.Errorf("update.feeds[%d]: uri is required for format %q", i, fc.Format))
		}
	}

	return errors.Join(errs...)
}

// SignatureDBPath returns where the installed signature set is persisted.
func (c *Config) SignatureDBPath() string {
	return c.pathOr(c.Signatures.DBPath, "signatures")
}

// CachePath returns the local verdict cache directory.
func (c *Config) CachePath() string {
	return c.pathOr(c.Cache.Path, "cache")
}

// JobsPath returns the async job store directory.
func (c *Config) JobsPath() string {
	return c.pathOr(c.Jobs.Path, "jobs")
}

func (c *Config) pathOr(path, sub string) string {
	if path != "" {
		return path
	}
	return filepath.Join(c.DataDir, sub)
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/var/lib", appName)
	}
	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName, "config.toml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/etc", appName, "config.toml")
	}
	return filepath.Join(home, ".config", appName, "config.toml")
}

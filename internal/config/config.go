package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the bundler configuration
type Config struct {
	Build   BuildConfig                `mapstructure:"build"`
	Cache   CacheConfig                `mapstructure:"cache"`
	Publish PublishConfig              `mapstructure:"publish"`
	Metrics MetricsConfig              `mapstructure:"metrics"`
	Tracing observability.TracerConfig `mapstructure:"tracing"`
	Debug   bool                       `mapstructure:"debug"`
}

// EntryConfig is one configured entry point
type EntryConfig struct {
	URL    string `mapstructure:"url"`
	Shared bool   `mapstructure:"shared"`
}

// BuildConfig contains bundling settings
type BuildConfig struct {
	AppDir       string            `mapstructure:"app_dir"`
	BuildDir     string            `mapstructure:"build_dir"`
	OutputDir    string            `mapstructure:"output_dir"`
	Target       string            `mapstructure:"target"`
	Browserslist []string          `mapstructure:"browserslist"`
	BasePath     string            `mapstructure:"base_path"`
	Minify       bool              `mapstructure:"minify"`
	Concurrency  int               `mapstructure:"concurrency"`
	PolyfillURL  string            `mapstructure:"polyfill_url"`
	Bootstrap    string            `mapstructure:"bootstrap"`
	PagesDir     string            `mapstructure:"pages_dir"`
	ImportMap    map[string]string `mapstructure:"import_map"`
	External     []string          `mapstructure:"external"` // module URLs provided to the page by other means
	Entries      []EntryConfig     `mapstructure:"entries"`
}

// CacheConfig contains remote source cache settings
type CacheConfig struct {
	Backend      string        `mapstructure:"backend"` // "memory", "badger" or "redis"
	Dir          string        `mapstructure:"dir"`
	RedisURL     string        `mapstructure:"redis_url"`
	TTL          time.Duration `mapstructure:"ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	FetchRate    float64       `mapstructure:"fetch_rate"` // requests per second, 0 disables limiting
}

// PublishConfig contains settings for copying bundles to the distribution target
type PublishConfig struct {
	Provider    string `mapstructure:"provider"` // "local" or "s3"
	LocalPath   string `mapstructure:"local_path"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Region    string `mapstructure:"s3_region"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	Prune       bool   `mapstructure:"prune"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Load loads configuration from file and environment variables. An empty
// configFile searches the default locations for fluxpack.yaml.
func Load(configFile string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("fluxpack")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	// Enable environment variable support with underscore replacer
	v.AutomaticEnv()
	v.SetEnvPrefix("FLUXPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Debug().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Build defaults
	v.SetDefault("build.app_dir", ".")
	v.SetDefault("build.build_dir", ".fluxpack/build")
	v.SetDefault("build.output_dir", "dist")
	v.SetDefault("build.target", "es2015")
	v.SetDefault("build.browserslist", []string{})
	v.SetDefault("build.base_path", "/")
	v.SetDefault("build.minify", true)
	v.SetDefault("build.concurrency", 4)
	v.SetDefault("build.polyfill_url", "")
	v.SetDefault("build.bootstrap", "")
	v.SetDefault("build.pages_dir", "pages")
	v.SetDefault("build.external", []string{})

	// Cache defaults
	v.SetDefault("cache.backend", "badger")
	v.SetDefault("cache.dir", ".fluxpack/cache")
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.ttl", "0s")
	v.SetDefault("cache.fetch_timeout", "30s")
	v.SetDefault("cache.fetch_rate", 0)

	// Publish defaults
	v.SetDefault("publish.provider", "local")
	v.SetDefault("publish.local_path", "")
	v.SetDefault("publish.s3_region", "us-east-1")
	v.SetDefault("publish.prune", false)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.job", "fluxpack")

	// Tracing defaults
	tracing := observability.DefaultTracerConfig()
	v.SetDefault("tracing.enabled", tracing.Enabled)
	v.SetDefault("tracing.endpoint", tracing.Endpoint)
	v.SetDefault("tracing.service_name", tracing.ServiceName)
	v.SetDefault("tracing.environment", tracing.Environment)
	v.SetDefault("tracing.sample_rate", tracing.SampleRate)
	v.SetDefault("tracing.insecure", tracing.Insecure)

	v.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Build.Validate(); err != nil {
		return fmt.Errorf("build configuration error: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache configuration error: %w", err)
	}
	if err := c.Publish.Validate(); err != nil {
		return fmt.Errorf("publish configuration error: %w", err)
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing sample_rate must be between 0 and 1")
	}
	return nil
}

// Validate validates build configuration
func (bc *BuildConfig) Validate() error {
	if bc.AppDir == "" {
		return fmt.Errorf("app_dir cannot be empty")
	}
	if bc.BuildDir == "" {
		return fmt.Errorf("build_dir cannot be empty")
	}
	if bc.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}
	if bc.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if !validTarget(bc.Target) {
		return fmt.Errorf("unsupported build target %q", bc.Target)
	}
	for i, e := range bc.Entries {
		if e.URL == "" {
			return fmt.Errorf("entry %d has no url", i)
		}
	}
	return nil
}

// Validate validates cache configuration
func (cc *CacheConfig) Validate() error {
	switch cc.Backend {
	case "memory":
	case "badger":
		if cc.Dir == "" {
			return fmt.Errorf("dir is required for the badger backend")
		}
	case "redis":
		if cc.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache backend must be 'memory', 'badger' or 'redis'")
	}
	if cc.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive")
	}
	if cc.FetchRate < 0 {
		return fmt.Errorf("fetch_rate cannot be negative")
	}
	return nil
}

// Validate validates publish configuration
func (pc *PublishConfig) Validate() error {
	if pc.Provider != "local" && pc.Provider != "s3" {
		return fmt.Errorf("publish provider must be 'local' or 's3'")
	}
	if pc.Provider == "s3" {
		if pc.S3Endpoint == "" || pc.S3AccessKey == "" ||
			pc.S3SecretKey == "" || pc.S3Bucket == "" {
			return fmt.Errorf("S3 configuration is incomplete")
		}
	}
	return nil
}

var targets = []string{"es2015", "es2016", "es2017", "es2018", "es2019", "es2020", "es2021", "es2022", "esnext"}

func validTarget(t string) bool {
	for _, v := range targets {
		if strings.EqualFold(v, t) {
			return true
		}
	}
	return false
}

// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/bibharvest/internal/logging"
)

// AppName names the XDG cache subdirectory.
const AppName = "bibharvest"

// Cache backends.
const (
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// HTTP clients.
const (
	ClientColly = "colly"
	ClientResty = "resty"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Sources SourcesConfig  `mapstructure:"sources"`
	Output  OutputConfig   `mapstructure:"output"`
	Cache   CacheConfig    `mapstructure:"cache"`
	HTTP    HTTPConfig     `mapstructure:"http"`
	Logging logging.Config `mapstructure:"logging"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
}

// SourcesConfig points at the source description file.
type SourcesConfig struct {
	File string `mapstructure:"file"`
}

// OutputConfig points at the result file.
type OutputConfig struct {
	File string `mapstructure:"file"`
}

// CacheConfig selects where the response and DOI metadata caches live.
type CacheConfig struct {
	Backend          string `mapstructure:"backend"`
	ResponseFile     string `mapstructure:"response_file"`
	MetadataFile     string `mapstructure:"metadata_file"`
	SQLitePath       string `mapstructure:"sqlite_path"`
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	PostgresTable    string `mapstructure:"postgres_table"`
	PostgresMaxConns int32  `mapstructure:"postgres_max_conns"`
}

// HTTPConfig configures the transport.
type HTTPConfig struct {
	Client         string `mapstructure:"client"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	// RequestsPerSecond throttles uncached requests per host; zero disables it.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// Headers are sent with every uncached request.
	Headers map[string]string `mapstructure:"headers"`
}

// MetricsConfig controls the optional Prometheus textfile dump.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"source-file":   "sources.file",
	"output-file":   "output.file",
	"cache-file":    "cache.response_file",
	"doi-file":      "cache.metadata_file",
	"cache-backend": "cache.backend",
	"http-client":   "http.client",
}

// Load builds a Config from defaults, an optional file, the environment and flags, in
// increasing order of precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BIBHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	cacheDir := filepath.Join(xdg.CacheHome, AppName)
	v.SetDefault("sources.file", "sources.json")
	v.SetDefault("output.file", "results.csv")
	v.SetDefault("cache.backend", BackendJSON)
	v.SetDefault("cache.response_file", filepath.Join(cacheDir, "responses.json"))
	v.SetDefault("cache.metadata_file", filepath.Join(cacheDir, "dois.json"))
	v.SetDefault("cache.sqlite_path", filepath.Join(cacheDir, "cache.db"))
	v.SetDefault("cache.postgres_table", "cache_entries")
	v.SetDefault("cache.postgres_max_conns", 4)
	v.SetDefault("http.client", ClientColly)
	v.SetDefault("http.user_agent", "bibharvest/0.1")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_body_bytes", 64<<20)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.requests_per_second", 1.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Sources.File) == "" {
		return fmt.Errorf("sources.file is required")
	}
	if strings.TrimSpace(c.Output.File) == "" {
		return fmt.Errorf("output.file is required")
	}
	switch c.Cache.Backend {
	case BackendJSON:
		if c.Cache.ResponseFile == "" || c.Cache.MetadataFile == "" {
			return fmt.Errorf("cache.response_file and cache.metadata_file are required for the json backend")
		}
		if filepath.Clean(c.Cache.ResponseFile) == filepath.Clean(c.Cache.MetadataFile) {
			return fmt.Errorf("cache.response_file and cache.metadata_file must differ")
		}
	case BackendSQLite:
		if c.Cache.SQLitePath == "" {
			return fmt.Errorf("cache.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Cache.PostgresDSN == "" {
			return fmt.Errorf("cache.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of json, sqlite, postgres; got %q", c.Cache.Backend)
	}
	switch c.HTTP.Client {
	case ClientColly, ClientResty:
	default:
		return fmt.Errorf("http.client must be colly or resty; got %q", c.HTTP.Client)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("http.requests_per_second and http.burst must be >= 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	return nil
}

// RequestHeaders returns the configured extra headers in canonical form.
func (c Config) RequestHeaders() http.Header {
	if len(c.HTTP.Headers) == 0 {
		return nil
	}
	hdr := make(http.Header, len(c.HTTP.Headers))
	for key, value := range c.HTTP.Headers {
		hdr.Set(key, value)
	}
	return hdr
}

// Timeout converts the HTTP timeout into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
sources:
  file: acm.json5
output:
  file: out/results.csv
cache:
  backend: sqlite
  sqlite_path: /var/cache/bib.db
http:
  client: resty
  user_agent: test-agent
  timeout_seconds: 45
  max_body_bytes: 1024
  headers:
    Accept-Language: en
logging:
  development: false
  level: warn
metrics:
  textfile: /tmp/bibharvest.prom
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sources.File != "acm.json5" || cfg.Output.File != "out/results.csv" {
		t.Fatalf("expected file overrides, got %+v %+v", cfg.Sources, cfg.Output)
	}
	if cfg.Cache.Backend != BackendSQLite || cfg.Cache.SQLitePath != "/var/cache/bib.db" {
		t.Fatalf("expected sqlite cache, got %+v", cfg.Cache)
	}
	if cfg.HTTP.Client != ClientResty || cfg.HTTP.UserAgent != "test-agent" || cfg.HTTP.MaxBodyBytes != 1024 {
		t.Fatalf("expected http overrides, got %+v", cfg.HTTP)
	}
	if got := cfg.RequestHeaders().Get("Accept-Language"); got != "en" {
		t.Fatalf("expected Accept-Language header, got %q", got)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if cfg.Metrics.Textfile != "/tmp/bibharvest.prom" {
		t.Fatalf("expected metrics textfile, got %q", cfg.Metrics.Textfile)
	}
	if got := cfg.Timeout(); got != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.Backend != BackendJSON || cfg.HTTP.Client != ClientColly {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Cache, cfg.HTTP)
	}
	if !strings.HasSuffix(cfg.Cache.ResponseFile, filepath.Join(AppName, "responses.json")) {
		t.Fatalf("expected response cache under the cache home, got %q", cfg.Cache.ResponseFile)
	}
	if cfg.Cache.PostgresTable != "cache_entries" {
		t.Fatalf("expected default postgres table, got %q", cfg.Cache.PostgresTable)
	}
	if cfg.HTTP.RequestsPerSecond != 1 || cfg.HTTP.Burst != 1 {
		t.Fatalf("expected one request per second per host, got %+v", cfg.HTTP)
	}
	if cfg.RequestHeaders() != nil {
		t.Fatalf("expected no extra headers, got %v", cfg.RequestHeaders())
	}
}

func TestLoadFlagsTakePrecedence(t *testing.T) {
	t.Parallel()

	flags := pflag.NewFlagSet("harvest", pflag.ContinueOnError)
	flags.String("source-file", "", "")
	flags.String("doi-file", "", "")
	flags.String("cache-backend", "", "")
	if err := flags.Parse([]string{"--source-file", "ieee.yaml", "--doi-file", "/tmp/dois.json"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sources.File != "ieee.yaml" {
		t.Fatalf("expected flag source file, got %q", cfg.Sources.File)
	}
	if cfg.Cache.MetadataFile != "/tmp/dois.json" {
		t.Fatalf("expected flag doi file, got %q", cfg.Cache.MetadataFile)
	}
	if cfg.Cache.Backend != BackendJSON {
		t.Fatalf("unset flags must not override defaults, got %q", cfg.Cache.Backend)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BIBHARVEST_HTTP_CLIENT", "resty")
	t.Setenv("BIBHARVEST_OUTPUT_FILE", "env.csv")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Client != ClientResty || cfg.Output.File != "env.csv" {
		t.Fatalf("expected env overrides, got %+v %+v", cfg.HTTP, cfg.Output)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Sources: SourcesConfig{File: "sources.json"},
			Output:  OutputConfig{File: "results.csv"},
			Cache:   CacheConfig{Backend: BackendJSON, ResponseFile: "r.json", MetadataFile: "d.json"},
			HTTP:    HTTPConfig{Client: ClientColly, TimeoutSeconds: 10},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no sources", mutate: func(c *Config) { c.Sources.File = " " }, want: "sources.file"},
		{name: "same cache files", mutate: func(c *Config) { c.Cache.MetadataFile = "r.json" }, want: "must differ"},
		{name: "unknown backend", mutate: func(c *Config) { c.Cache.Backend = "redis" }, want: "cache.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Cache.Backend = BackendPostgres }, want: "postgres_dsn"},
		{name: "unknown client", mutate: func(c *Config) { c.HTTP.Client = "curl" }, want: "http.client"},
		{name: "zero timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "timeout_seconds"},
		{name: "negative rate", mutate: func(c *Config) { c.HTTP.RequestsPerSecond = -1 }, want: "requests_per_second"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, want: "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

// Package config loads the service configuration.
//
// Values are layered, later layers winning:
//
//  1. built-in defaults
//  2. an optional YAML file (--config flag or READS_CONFIG)
//  3. READS_* environment variables, e.g. READS_SERVER_ADDR -> server.addr
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/pbaille/reads/internal/validation"
)

const (
	// EnvPrefix prefixes every environment override
	EnvPrefix = "READS_"
	// ConfigPathEnvVar names the YAML file to load when no path is given
	ConfigPathEnvVar = "READS_CONFIG"
)

// Catalog sources
const (
	CatalogSQLite = "sqlite"
	CatalogJSON   = "json"
	CatalogNeo4j  = "neo4j"
)

// Analyzer backends
const (
	AnalyzerVoyage = "voyage"
	AnalyzerLLM    = "llm"
	AnalyzerNone   = "none"
)

// Config is the full service configuration
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Analyzer  AnalyzerConfig  `koanf:"analyzer"`
	Reference ReferenceConfig `koanf:"reference"`
	Recommend RecommendConfig `koanf:"recommend"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Addr              string        `koanf:"addr" validate:"required"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gte=0"`
	RequestTimeout    time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type CatalogConfig struct {
	Source        string `koanf:"source" validate:"oneof=sqlite json neo4j"`
	JSONPath      string `koanf:"json_path" validate:"required_if=Source json"`
	Neo4jURI      string `koanf:"neo4j_uri" validate:"required_if=Source neo4j"`
	Neo4jUser     string `koanf:"neo4j_user"`
	Neo4jPassword string `koanf:"neo4j_password"`
	Neo4jDatabase string `koanf:"neo4j_database"`
}

type AnalyzerConfig struct {
	Backend         string        `koanf:"backend" validate:"oneof=voyage llm none"`
	Model           string        `koanf:"model"` // empty selects the backend default
	VoyageAPIKey    string        `koanf:"voyage_api_key"`
	AnthropicAPIKey string        `koanf:"anthropic_api_key"`
	Normalization   string        `koanf:"normalization" validate:"oneof=fixed minmax"`
	RatePerSecond   float64       `koanf:"rate_per_second" validate:"gt=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gt=0"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

type ReferenceConfig struct {
	Path string `koanf:"path"`
}

type RecommendConfig struct {
	DefaultTopN  int `koanf:"default_top_n" validate:"gt=0,lte=100"`
	SnapshotTopN int `koanf:"snapshot_top_n" validate:"gt=0,lte=100"`
	MinTextLen   int `koanf:"min_text_len" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:8000",
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
			RequestTimeout:    60 * time.Second,
		},
		Database: DatabaseConfig{Path: "reads.db"},
		Catalog:  CatalogConfig{Source: CatalogSQLite, Neo4jDatabase: "neo4j"},
		Analyzer: AnalyzerConfig{
			Backend:         AnalyzerVoyage,
			Normalization:   "fixed",
			RatePerSecond:   5,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Recommend: RecommendConfig{DefaultTopN: 5, SnapshotTopN: 5, MinTextLen: 30},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the YAML file at path and the
// environment. An empty path falls back to READS_CONFIG; no file is fine.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitList(k, "server.cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// the provider keys the single-service tools already use
	if cfg.Analyzer.VoyageAPIKey == "" {
		cfg.Analyzer.VoyageAPIKey = os.Getenv("VOYAGE_API_KEY")
	}
	if cfg.Analyzer.AnthropicAPIKey == "" {
		cfg.Analyzer.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks enumerations and ranges
func (c *Config) Validate() error {
	return validation.Struct(c)
}

// envKey maps READS_SECTION_SOME_KEY to section.some_key
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		return ""
	}
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + rest
}

// splitList turns a comma-separated string value into a list
func splitList(k *koanf.Koanf, path string) error {
	raw, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

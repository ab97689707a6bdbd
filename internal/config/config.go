// Package config loads export run configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/clinical-trials-client/internal/input"
	"github.com/Sternrassler/clinical-trials-client/pkg/client"
	"github.com/Sternrassler/clinical-trials-client/pkg/fetch"
	"github.com/Sternrassler/clinical-trials-client/pkg/flatten"
	"github.com/Sternrassler/clinical-trials-client/pkg/logging"
	"gopkg.in/yaml.v3"
)

// DefaultUserAgent identifies the exporter to the registry.
const DefaultUserAgent = "ctgov-export/0.1.0"

// Config represents the export configuration
type Config struct {
	Registry RegistryConfig `yaml:"registry"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Flatten  FlattenConfig  `yaml:"flatten"`
	Input    InputConfig    `yaml:"input"`
	Output   OutputConfig   `yaml:"output"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RegistryConfig holds registry endpoint settings
type RegistryConfig struct {
	BaseURL               string `yaml:"base_url"`
	UserAgent             string `yaml:"user_agent"`
	MaxResults            int    `yaml:"max_results"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// FetchConfig holds batch fetch settings
type FetchConfig struct {
	BatchSize           int    `yaml:"batch_size"`
	Concurrency         int    `yaml:"concurrency"`
	ChunkTimeoutSeconds int    `yaml:"chunk_timeout_seconds"`
	Policy              string `yaml:"policy"`
}

// FlattenConfig holds flattening settings
type FlattenConfig struct {
	Separator string `yaml:"separator"`
	MaxDepth  int    `yaml:"max_depth"`
}

// InputConfig names the identifier file and its columns
type InputConfig struct {
	Path                string `yaml:"path"`
	IdentifierColumn    string `yaml:"identifier_column"`
	ApplicationIDColumn string `yaml:"application_id_column"`
	ProjectColumn       string `yaml:"project_column"`
}

// OutputConfig holds output paths. An empty CSV path writes to stdout.
type OutputConfig struct {
	CSVPath     string `yaml:"csv"`
	JSONPath    string `yaml:"json"`
	MetricsFile string `yaml:"metrics_file"`
}

// CacheConfig holds Redis cache settings. An empty address disables caching.
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the default configuration.
func Default() *Config {
	cols := input.DefaultColumns()
	return &Config{
		Registry: RegistryConfig{
			BaseURL:               client.DefaultBaseURL,
			UserAgent:             DefaultUserAgent,
			MaxResults:            client.DefaultMaxResults,
			RequestTimeoutSeconds: int(client.DefaultRequestTimeout / time.Second),
		},
		Fetch: FetchConfig{
			BatchSize:           10,
			Concurrency:         1,
			ChunkTimeoutSeconds: 60,
			Policy:              string(fetch.PolicySkip),
		},
		Flatten: FlattenConfig{
			Separator: flatten.DefaultSeparator,
			MaxDepth:  flatten.DefaultMaxDepth,
		},
		Input: InputConfig{
			IdentifierColumn:    cols.Identifier,
			ApplicationIDColumn: cols.ApplicationID,
			ProjectColumn:       cols.Project,
		},
		Cache: CacheConfig{
			TTLSeconds: 24 * 60 * 60,
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides settings from CTGOV_* environment variables.
func (c *Config) ApplyEnv() error {
	c.Registry.BaseURL = getEnv("CTGOV_BASE_URL", c.Registry.BaseURL)
	c.Registry.UserAgent = getEnv("CTGOV_USER_AGENT", c.Registry.UserAgent)
	c.Fetch.Policy = getEnv("CTGOV_POLICY", c.Fetch.Policy)
	c.Input.Path = getEnv("CTGOV_INPUT", c.Input.Path)
	c.Output.CSVPath = getEnv("CTGOV_OUTPUT", c.Output.CSVPath)
	c.Output.JSONPath = getEnv("CTGOV_JSON_OUTPUT", c.Output.JSONPath)
	c.Output.MetricsFile = getEnv("CTGOV_METRICS_FILE", c.Output.MetricsFile)
	c.Cache.RedisAddr = getEnv("CTGOV_REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getEnv("CTGOV_REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Logging.Level = getEnv("CTGOV_LOG_LEVEL", c.Logging.Level)

	ints := []struct {
		key string
		dst *int
	}{
		{"CTGOV_MAX_RESULTS", &c.Registry.MaxResults},
		{"CTGOV_REQUEST_TIMEOUT_SECONDS", &c.Registry.RequestTimeoutSeconds},
		{"CTGOV_BATCH_SIZE", &c.Fetch.BatchSize},
		{"CTGOV_CONCURRENCY", &c.Fetch.Concurrency},
		{"CTGOV_CHUNK_TIMEOUT_SECONDS", &c.Fetch.ChunkTimeoutSeconds},
		{"CTGOV_MAX_DEPTH", &c.Flatten.MaxDepth},
		{"CTGOV_REDIS_DB", &c.Cache.RedisDB},
		{"CTGOV_CACHE_TTL_SECONDS", &c.Cache.TTLSeconds},
	}
	for _, v := range ints {
		if err := getEnvInt(v.key, v.dst); err != nil {
			return err
		}
	}

	if value := os.Getenv("CTGOV_LOG_PRETTY"); value != "" {
		pretty, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("CTGOV_LOG_PRETTY: %w", err)
		}
		c.Logging.Pretty = pretty
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Registry.UserAgent == "" {
		return fmt.Errorf("user_agent is required")
	}

	if c.Registry.MaxResults < 1 || c.Registry.MaxResults > client.MaxResultsLimit {
		return fmt.Errorf("max_results must be between 1 and %d", client.MaxResultsLimit)
	}

	if c.Registry.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("request_timeout_seconds must be at least 1")
	}

	if c.Fetch.BatchSize < 1 || c.Fetch.BatchSize > c.Registry.MaxResults {
		return fmt.Errorf("batch_size must be between 1 and max_results (%d)", c.Registry.MaxResults)
	}

	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}

	if c.Fetch.ChunkTimeoutSeconds < 1 {
		return fmt.Errorf("chunk_timeout_seconds must be at least 1")
	}

	if _, err := fetch.ParsePolicy(c.Fetch.Policy); err != nil {
		return err
	}

	if c.Flatten.Separator == "" {
		return fmt.Errorf("separator must not be empty")
	}

	if c.Flatten.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be at least 1")
	}

	if c.Input.IdentifierColumn == "" {
		return fmt.Errorf("identifier_column is required")
	}

	if c.Cache.RedisAddr != "" && c.Cache.TTLSeconds < 1 {
		return fmt.Errorf("ttl_seconds must be at least 1 when caching is enabled")
	}

	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	return nil
}

// RequestTimeout returns the per-request timeout as a Duration
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Registry.RequestTimeoutSeconds) * time.Second
}

// ChunkTimeout returns the per-chunk timeout as a Duration
func (c *Config) ChunkTimeout() time.Duration {
	return time.Duration(c.Fetch.ChunkTimeoutSeconds) * time.Second
}

// CacheTTL returns the fallback cache TTL as a Duration
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// ClientConfig builds the registry client configuration. The cache manager
// is attached by the caller.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.Registry.UserAgent)
	cfg.BaseURL = c.Registry.BaseURL
	cfg.MaxResults = c.Registry.MaxResults
	cfg.RequestTimeout = c.RequestTimeout()
	cfg.CacheTTL = c.CacheTTL()
	return cfg
}

// FetchConfig builds the batch fetcher configuration.
func (c *Config) FetchConfig() fetch.Config {
	return fetch.Config{
		BatchSize:   c.Fetch.BatchSize,
		MaxResults:  c.Registry.MaxResults,
		Concurrency: c.Fetch.Concurrency,
		Timeout:     c.ChunkTimeout(),
		Policy:      fetch.Policy(c.Fetch.Policy),
	}
}

// FlattenOptions builds the flattener options.
func (c *Config) FlattenOptions() flatten.Options {
	return flatten.Options{
		Separator: c.Flatten.Separator,
		MaxDepth:  c.Flatten.MaxDepth,
	}
}

// Columns returns the identifier file column names.
func (c *Config) Columns() input.Columns {
	return input.Columns{
		Identifier:    c.Input.IdentifierColumn,
		ApplicationID: c.Input.ApplicationIDColumn,
		Project:       c.Input.ProjectColumn,
	}
}

// LoggingConfig returns the logger configuration. Output defaults to stderr.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if lvl, ok := logging.ParseLevel(c.Logging.Level); ok {
		cfg.Level = lvl
	}
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

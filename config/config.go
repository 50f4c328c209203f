// Package config provides configuration management for the application.
//
// Configuration is layered: built-in defaults, then an optional YAML file
// (with ${VAR} and ${VAR:-default} placeholders expanded from the
// environment), then environment variable overrides. A .env file in the
// working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultBodySizeLimit is the default maximum request body size (10MB)
const DefaultBodySizeLimit int64 = 10 * 1024 * 1024

// DefaultSystemPrompt is sent ahead of every user message.
const DefaultSystemPrompt = "You are ChatGPT in the style of GPT-5. Answer clearly, thoroughly and politely."

// Storage backends accepted by StorageConfig.Type.
const (
	StorageSQLite     = "sqlite"
	StoragePostgreSQL = "postgresql"
	StorageMongoDB    = "mongodb"
	StorageRedis      = "redis"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Upstream   UpstreamConfig            `yaml:"upstream"`
	HTTP       HTTPConfig                `yaml:"http"`
	Fallback   FallbackConfig            `yaml:"fallback"`
	Normalizer NormalizerConfig          `yaml:"normalizer"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Metrics    MetricsConfig             `yaml:"metrics"`
	Logging    LogConfig                 `yaml:"logging"`
	Storage    StorageConfig             `yaml:"storage"`
	Log        LogOutputConfig           `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string   `yaml:"port"`
	BodySizeLimit  int64    `yaml:"body_size_limit"`
	SwaggerEnabled bool     `yaml:"swagger_enabled"`
	StaticDir      string   `yaml:"static_dir"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

// UpstreamConfig describes the endpoint used when an attempt names no provider.
type UpstreamConfig struct {
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	Stream         bool                 `yaml:"stream"`
	Headers        map[string]string    `yaml:"headers"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds per-provider circuit breaker settings.
// A zero FailureThreshold disables the breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	// Timeout in seconds before an open circuit lets a probe through
	Timeout int `yaml:"timeout"`
}

// HTTPConfig holds upstream HTTP client timeouts, in seconds.
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// FallbackConfig drives the provider x model attempt matrix.
type FallbackConfig struct {
	// Candidates are provider names resolved against the provider namespace, in order
	Candidates []string `yaml:"candidates"`
	// Models are tried for every provider, in order
	Models         []string      `yaml:"models"`
	SystemPrompt   string        `yaml:"system_prompt"`
	Backoff        time.Duration `yaml:"backoff"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// NormalizerConfig overrides the key orders used during reply extraction.
type NormalizerConfig struct {
	ReplyKeys  []string `yaml:"reply_keys"`
	ChoiceKeys []string `yaml:"choice_keys"`
	ChunkKeys  []string `yaml:"chunk_keys"`
}

// ProviderConfig describes one named upstream provider.
type ProviderConfig struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	Headers map[string]string `yaml:"headers"`
	// Module places the provider in a named sub-module of the provider namespace
	Module string `yaml:"module"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig holds audit logging settings
type LogConfig struct {
	Enabled   bool `yaml:"enabled"`
	LogBodies bool `yaml:"log_bodies"`
	// BufferSize is the number of entries buffered before they are dropped
	BufferSize int `yaml:"buffer_size"`
	// FlushInterval in seconds
	FlushInterval int `yaml:"flush_interval"`
	// RetentionDays is how long to keep entries (0 = forever)
	RetentionDays int `yaml:"retention_days"`
}

// StorageConfig selects the audit log backend.
type StorageConfig struct {
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
	Redis      RedisConfig      `yaml:"redis"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
	// MaxEntries caps the audit list length
	MaxEntries int64 `yaml:"max_entries"`
}

// LogOutputConfig controls the process logger.
type LogOutputConfig struct {
	// Format is "json", "text" or empty for auto-detection
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// buildDefaultConfig returns the configuration used when nothing is set.
func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "10000",
			BodySizeLimit: DefaultBodySizeLimit,
			StaticDir:     "public",
			CORSOrigins:   []string{"*"},
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://api.openai.com/v1",
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 1,
				Timeout:          30,
			},
		},
		HTTP: HTTPConfig{
			Timeout:               600,
			ResponseHeaderTimeout: 600,
		},
		Fallback: FallbackConfig{
			Candidates: []string{
				"Yqcloud", "Acytoo", "FreeGpt", "GptFree", "Bing", "AcyToo", "AcytooProvider",
			},
			Models:         []string{"gpt-4o", "gpt-4", "gpt-3.5-turbo"},
			SystemPrompt:   DefaultSystemPrompt,
			Backoff:        300 * time.Millisecond,
			AttemptTimeout: 60 * time.Second,
		},
		Providers: map[string]ProviderConfig{},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		Logging: LogConfig{
			BufferSize:    1000,
			FlushInterval: 5,
			RetentionDays: 30,
		},
		Storage: StorageConfig{
			Type:       StorageSQLite,
			SQLite:     SQLiteConfig{Path: ".cache/chatgate.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "chatgate"},
			Redis:      RedisConfig{Key: "chatgate:audit_logs", MaxEntries: 10000},
		},
		Log: LogOutputConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from .env, the YAML file and the environment.
func Load() (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := buildDefaultConfig()

	if path := findConfigFile(); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.Providers = filterProviders(cfg.Providers)
	if strings.Contains(cfg.Upstream.APIKey, "${") {
		cfg.Upstream.APIKey = ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns $CONFIG_FILE, config.yaml or config/config.yaml,
// whichever exists first.
func findConfigFile() string {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return path
	}
	for _, path := range []string{"config.yaml", "config/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	expanded := expandString(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default} placeholders.
// A ${VAR} whose variable is unset or empty is left untouched.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if val := os.Getenv(name); val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// applyEnvOverrides lets well-known environment variables win over file values.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	envString("PORT", &cfg.Server.Port)
	collect(envInt64("BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit))
	collect(envBool("SWAGGER_ENABLED", &cfg.Server.SwaggerEnabled))
	envString("STATIC_DIR", &cfg.Server.StaticDir)
	envList("CORS_ORIGINS", &cfg.Server.CORSOrigins)

	envString("OPENAI_API_KEY", &cfg.Upstream.APIKey)
	envString("UPSTREAM_API_KEY", &cfg.Upstream.APIKey)
	envString("UPSTREAM_BASE_URL", &cfg.Upstream.BaseURL)
	collect(envBool("UPSTREAM_STREAM", &cfg.Upstream.Stream))

	collect(envInt("HTTP_TIMEOUT", &cfg.HTTP.Timeout))
	collect(envInt("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout))

	envList("FALLBACK_CANDIDATES", &cfg.Fallback.Candidates)
	envList("FALLBACK_MODELS", &cfg.Fallback.Models)
	envString("FALLBACK_SYSTEM_PROMPT", &cfg.Fallback.SystemPrompt)
	collect(envDuration("FALLBACK_BACKOFF", &cfg.Fallback.Backoff))
	collect(envDuration("FALLBACK_ATTEMPT_TIMEOUT", &cfg.Fallback.AttemptTimeout))

	collect(envBool("METRICS_ENABLED", &cfg.Metrics.Enabled))
	envString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	collect(envBool("LOGGING_ENABLED", &cfg.Logging.Enabled))
	collect(envBool("LOGGING_LOG_BODIES", &cfg.Logging.LogBodies))
	collect(envInt("LOGGING_BUFFER_SIZE", &cfg.Logging.BufferSize))
	collect(envInt("LOGGING_FLUSH_INTERVAL", &cfg.Logging.FlushInterval))
	collect(envInt("LOGGING_RETENTION_DAYS", &cfg.Logging.RetentionDays))

	envString("STORAGE_TYPE", &cfg.Storage.Type)
	envString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	envString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	collect(envInt("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns))
	envString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	envString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)
	envString("REDIS_URL", &cfg.Storage.Redis.URL)
	envString("REDIS_KEY", &cfg.Storage.Redis.Key)
	collect(envInt64("REDIS_MAX_ENTRIES", &cfg.Storage.Redis.MaxEntries))

	envString("LOG_FORMAT", &cfg.Log.Format)
	envString("LOG_LEVEL", &cfg.Log.Level)

	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envList(key string, dst *[]string) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	var items []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func envBool(key string, dst *bool) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

// envDuration accepts Go duration strings ("300ms", "1m") or plain integers
// interpreted as milliseconds.
func envDuration(key string, dst *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	if ms, err := strconv.Atoi(val); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// filterProviders drops providers without a usable base URL, including ones
// whose placeholders did not resolve.
func filterProviders(raw map[string]ProviderConfig) map[string]ProviderConfig {
	result := make(map[string]ProviderConfig, len(raw))
	for name, p := range raw {
		if p.BaseURL == "" || strings.Contains(p.BaseURL, "${") {
			slog.Warn("skipping provider without base_url", "provider", name)
			continue
		}
		if strings.Contains(p.APIKey, "${") {
			p.APIKey = ""
		}
		result[name] = p
	}
	return result
}

// Validate reports configuration errors that would make the gateway unusable.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Fallback.Models) == 0 {
		errs = append(errs, errors.New("fallback.models must not be empty"))
	}
	for i, m := range c.Fallback.Models {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, fmt.Errorf("fallback.models[%d] is empty", i))
		}
	}
	if c.Fallback.Backoff < 0 {
		errs = append(errs, errors.New("fallback.backoff must not be negative"))
	}
	if c.Fallback.AttemptTimeout < 0 {
		errs = append(errs, errors.New("fallback.attempt_timeout must not be negative"))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port must not be empty"))
	}
	if c.Logging.Enabled {
		switch c.Storage.Type {
		case StorageSQLite, StoragePostgreSQL, StorageMongoDB, StorageRedis:
		default:
			errs = append(errs, fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql, mongodb, redis)", c.Storage.Type))
		}
	}
	return errors.Join(errs...)
}

// Package config loads Ghillie configuration from the process environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Status model backends.
const (
	BackendMock   = "mock"
	BackendOpenAI = "openai"
)

// Ingestion activity sources.
const (
	SourceGitHub = "github"
	SourceLocal  = "local"
)

// Config is the full runtime configuration. It is immutable after Load;
// services receive it by value or as individual fields at construction.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`

	ReportingWindowDays   int    `env:"REPORTING_WINDOW_DAYS,default=7"`
	ReportSinkPath        string `env:"REPORT_SINK_PATH"`
	ValidationMaxAttempts int    `env:"VALIDATION_MAX_ATTEMPTS,default=2"`

	StatusModelBackend string        `env:"STATUS_MODEL_BACKEND,default=mock"`
	OpenAIAPIKey       string        `env:"OPENAI_API_KEY"`
	OpenAIEndpoint     string        `env:"OPENAI_ENDPOINT"`
	OpenAIModel        string        `env:"OPENAI_MODEL,default=gpt-4o-mini"`
	OpenAITemperature  float64       `env:"OPENAI_TEMPERATURE,default=0.3"`
	OpenAIMaxTokens    int           `env:"OPENAI_MAX_TOKENS,default=2048"`
	OpenAITimeout      time.Duration `env:"OPENAI_TIMEOUT,default=120s"`

	HTTPHost string `env:"HTTP_HOST,default=0.0.0.0"`
	HTTPPort int    `env:"HTTP_PORT,default=8080"`

	GitHubToken   string        `env:"GITHUB_TOKEN"`
	GitHubAPIURL  string        `env:"GITHUB_API_URL"`
	GitHubTimeout time.Duration `env:"GITHUB_TIMEOUT,default=30s"`

	IngestSource       string        `env:"INGEST_SOURCE,default=github"`
	LocalMirrorPath    string        `env:"LOCAL_MIRROR_PATH"`
	IngestInterval     time.Duration `env:"INGEST_INTERVAL,default=15m"`
	ReportInterval     time.Duration `env:"REPORT_INTERVAL,default=24h"`
	StalenessThreshold time.Duration `env:"STALENESS_THRESHOLD,default=24h"`
	ReportWorkers      int           `env:"REPORT_WORKERS,default=2"`

	CataloguePath  string `env:"CATALOGUE_PATH"`
	CatalogueWatch bool   `env:"CATALOGUE_WATCH,default=true"`

	MetricsEnabled bool `env:"METRICS_ENABLED,default=true"`
	MetricsPort    int  `env:"METRICS_PORT,default=9090"`

	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX,default=ghillie"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`
}

// Load reads configuration from the OS environment and validates it.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lu envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lu}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every configuration violation at once so operators can fix
// a broken deployment in one pass.
func (cfg *Config) Validate() error {
	var merr error

	if cfg.DatabaseURL == "" {
		merr = errors.Join(merr, fmt.Errorf("DATABASE_URL is required"))
	}

	if cfg.ReportingWindowDays < 1 {
		merr = errors.Join(merr, fmt.Errorf("REPORTING_WINDOW_DAYS must be at least 1, got %d", cfg.ReportingWindowDays))
	}

	if cfg.ValidationMaxAttempts < 1 {
		merr = errors.Join(merr, fmt.Errorf("VALIDATION_MAX_ATTEMPTS must be at least 1, got %d", cfg.ValidationMaxAttempts))
	}

	switch cfg.StatusModelBackend {
	case BackendMock:
	case BackendOpenAI:
		if cfg.OpenAIAPIKey == "" {
			merr = errors.Join(merr, fmt.Errorf("OPENAI_API_KEY is required when STATUS_MODEL_BACKEND is %q", BackendOpenAI))
		}
	default:
		merr = errors.Join(merr, fmt.Errorf("STATUS_MODEL_BACKEND must be %q or %q, got %q", BackendMock, BackendOpenAI, cfg.StatusModelBackend))
	}

	if cfg.OpenAITemperature < 0.0 || cfg.OpenAITemperature > 2.0 {
		merr = errors.Join(merr, fmt.Errorf("OPENAI_TEMPERATURE must be within [0.0, 2.0], got %g", cfg.OpenAITemperature))
	}

	if cfg.OpenAIMaxTokens < 1 {
		merr = errors.Join(merr, fmt.Errorf("OPENAI_MAX_TOKENS must be greater than 0, got %d", cfg.OpenAIMaxTokens))
	}

	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		merr = errors.Join(merr, fmt.Errorf("HTTP_PORT must be within [1, 65535], got %d", cfg.HTTPPort))
	}

	switch cfg.IngestSource {
	case SourceGitHub:
	case SourceLocal:
		if cfg.LocalMirrorPath == "" {
			merr = errors.Join(merr, fmt.Errorf("LOCAL_MIRROR_PATH is required when INGEST_SOURCE is %q", SourceLocal))
		}
	default:
		merr = errors.Join(merr, fmt.Errorf("INGEST_SOURCE must be %q or %q, got %q", SourceGitHub, SourceLocal, cfg.IngestSource))
	}

	if cfg.ReportWorkers < 1 {
		merr = errors.Join(merr, fmt.Errorf("REPORT_WORKERS must be at least 1, got %d", cfg.ReportWorkers))
	}

	if cfg.MetricsEnabled && (cfg.MetricsPort < 1 || cfg.MetricsPort > 65535) {
		merr = errors.Join(merr, fmt.Errorf("METRICS_PORT must be within [1, 65535], got %d", cfg.MetricsPort))
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		merr = errors.Join(merr, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", cfg.LogLevel))
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		merr = errors.Join(merr, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat))
	}

	return merr
}

// ListenAddr is the HTTP API bind address.
func (cfg *Config) ListenAddr() string {
	return net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.HTTPPort))
}

// MetricsAddr is the Prometheus exposition bind address.
func (cfg *Config) MetricsAddr() string {
	return net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.MetricsPort))
}

// SinkEnabled reports whether the filesystem report sink is configured.
func (cfg *Config) SinkEnabled() bool {
	return cfg.ReportSinkPath != ""
}

// Window returns the default reporting window as a duration.
func (cfg *Config) Window() time.Duration {
	return time.Duration(cfg.ReportingWindowDays) * 24 * time.Hour
}

// Package config loads the coach configuration from coach.yaml, .env and the environment.
//
// A missing file means defaults. Values are applied in order: defaults, file, .env,
// environment overrides. The loaded configuration is validated before use and kept
// as a process-wide value; GetConfig returns a copy.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"writingcoach/pkg/logx"
)

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "coach.yaml"

// DefaultModel is the model used when none is configured.
const DefaultModel = "claude-3-5-sonnet-20241022"

// Environment overrides.
const (
	EnvModel      = "COACH_MODEL"
	EnvListenAddr = "COACH_LISTEN_ADDR"
	EnvDBPath     = "COACH_DB_PATH"
	EnvLogFile    = "COACH_LOG_FILE"
	EnvSessionTTL = "COACH_SESSION_TTL"
	EnvTimeout    = "COACH_TIMEOUT"
)

//nolint:gochecknoglobals // process-wide configuration
var (
	current *Config
	mu      sync.RWMutex
	logger  = logx.NewLogger("config")
)

// Config is the full coach configuration.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ModelConfig selects the model and the reply budgets.
type ModelConfig struct {
	Name              string  `yaml:"name"`
	FeedbackMaxTokens int     `yaml:"feedback_max_tokens"`
	ReplyMaxTokens    int     `yaml:"reply_max_tokens"`
	Temperature       float32 `yaml:"temperature"`
}

// CircuitBreakerConfig defines configuration for circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"` // failures before opening
	SuccessThreshold int           `yaml:"success_threshold"` // successes to close from half-open
	Timeout          time.Duration `yaml:"timeout"`           // wait before trying half-open
}

// RetryConfig defines configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"` // including the first attempt
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	Jitter        bool          `yaml:"jitter"`
}

// ProviderLimits defines rate limiting for one API provider.
type ProviderLimits struct {
	TokensPerMinute int `yaml:"tokens_per_minute"`
	MaxConcurrency  int `yaml:"max_concurrency"`
}

// RateLimitConfig defines rate limiting configuration grouped by API provider.
type RateLimitConfig struct {
	Anthropic ProviderLimits `yaml:"anthropic"`
	OpenAI    ProviderLimits `yaml:"openai"`
	Google    ProviderLimits `yaml:"google"`
	Ollama    ProviderLimits `yaml:"ollama"`
}

// ForProvider returns the limits configured for provider.
func (r *RateLimitConfig) ForProvider(provider string) ProviderLimits {
	switch provider {
	case ProviderAnthropic:
		return r.Anthropic
	case ProviderOpenAI:
		return r.OpenAI
	case ProviderGoogle:
		return r.Google
	case ProviderOllama:
		return r.Ollama
	default:
		return ProviderLimits{}
	}
}

// ProviderDefaults defines default rate limits for each provider.
//
//nolint:gochecknoglobals // provider defaults
var ProviderDefaults = map[string]ProviderLimits{
	ProviderAnthropic: {TokensPerMinute: 300000, MaxConcurrency: 5},
	ProviderOpenAI:    {TokensPerMinute: 150000, MaxConcurrency: 5},
	ProviderGoogle:    {TokensPerMinute: 1200000, MaxConcurrency: 5},
	ProviderOllama:    {TokensPerMinute: 1000000, MaxConcurrency: 2},
}

// ResilienceConfig bundles all resilience middleware configuration.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Timeout        time.Duration        `yaml:"timeout"` // per model call
}

// ServerConfig configures the HTTP binding and the session registry.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// StorageConfig configures the transcript store.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// LoggingConfig is passed to logx.Configure.
type LoggingConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig defines configuration for metrics collection.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	PrometheusURL string `yaml:"prometheus_url"` // for the usage command
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Name:              DefaultModel,
			FeedbackMaxTokens: 300,
			ReplyMaxTokens:    200,
			Temperature:       0.7,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 1,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:   3,
				InitialDelay:  500 * time.Millisecond,
				MaxDelay:      5 * time.Second,
				BackoffFactor: 2.0,
				Jitter:        true,
			},
			RateLimit: RateLimitConfig{
				Anthropic: ProviderDefaults[ProviderAnthropic],
				OpenAI:    ProviderDefaults[ProviderOpenAI],
				Google:    ProviderDefaults[ProviderGoogle],
				Ollama:    ProviderDefaults[ProviderOllama],
			},
			Timeout: 60 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			SessionTTL:      time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Storage: StorageConfig{
			Enabled: true,
			DBPath:  "coach.db",
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{
			Enabled:       true,
			PrometheusURL: "http://localhost:9090",
		},
	}
}

// Load reads path (DefaultConfigFile when empty), then .env, then environment overrides.
// A missing default file is not an error; a missing explicit path is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		logger.Debug("no %s found, using defaults", path)
	default:
		return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env: %v", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	fillRateLimitDefaults(&cfg.Resilience.RateLimit)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv(EnvSessionTTL); v != "" {
		d, err := parseDuration(EnvSessionTTL, v)
		if err != nil {
			return err
		}
		cfg.Server.SessionTTL = d
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := parseDuration(EnvTimeout, v)
		if err != nil {
			return err
		}
		cfg.Resilience.Timeout = d
	}
	return nil
}

// parseDuration accepts Go durations ("90s") or whole seconds ("90").
func parseDuration(name, v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return d, nil
}

func fillRateLimitDefaults(r *RateLimitConfig) {
	for provider, limits := range map[string]*ProviderLimits{
		ProviderAnthropic: &r.Anthropic,
		ProviderOpenAI:    &r.OpenAI,
		ProviderGoogle:    &r.Google,
		ProviderOllama:    &r.Ollama,
	} {
		if limits.TokensPerMinute == 0 {
			*limits = ProviderDefaults[provider]
		}
	}
}

// Validate rejects configurations the coach cannot run with.
func (c *Config) Validate() error {
	if c.Model.Name == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if _, err := GetModelProvider(c.Model.Name); err != nil {
		return err
	}
	if c.Model.FeedbackMaxTokens <= 0 || c.Model.ReplyMaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if c.Model.Temperature < 0.0 || c.Model.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if c.Resilience.Timeout <= 0 {
		return fmt.Errorf("resilience timeout must be positive")
	}
	if c.Resilience.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Server.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	return nil
}

// Provider returns the provider of the configured model.
func (c *Config) Provider() string {
	provider, _ := GetModelProvider(c.Model.Name)
	return provider
}

// LoadConfig loads path and installs the result as the process-wide configuration.
func LoadConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	SetConfig(cfg)
	logger.Info("configuration loaded: model=%s provider=%s", cfg.Model.Name, cfg.Provider())
	return nil
}

// SetConfig installs cfg as the process-wide configuration.
func SetConfig(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	current = &cfg
}

// GetConfig returns a copy of the process-wide configuration.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Config{}, fmt.Errorf("config not loaded")
	}
	return *current, nil
}

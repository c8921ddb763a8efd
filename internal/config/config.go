package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the lexguard engine service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Provider  ProviderConfig
	Engine    EngineConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// ProviderConfig configures the async completion provider (OpenAI Responses
// API in background mode).
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// EngineConfig holds the tunables of one engine invocation. The defaults
// encode the production contract: claim up to 1000 items, submit 25 at a
// time, poll 50 at a time, give items 2h and jobs 48h, chain at most twice.
type EngineConfig struct {
	ClaimLimit        int
	SubmitConcurrency int
	PollConcurrency   int
	CancelConcurrency int
	PollItemsPerJob   int
	SubmitMaxRetries  int
	RetryBackoff      time.Duration
	ItemTimeout       time.Duration
	JobTimeout        time.Duration
	SubmittingGrace   time.Duration
	MaxChainDepth     int
	InvocationTimeout time.Duration
	SelfURL           string
	APIKey            string
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

type RateLimitConfig struct {
	PerMinute int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	port := envInt("LEXGUARD_PORT", 8080)

	cfg := &Config{
		Server: ServerConfig{
			Port: port,
			Env:  envString("LEXGUARD_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Provider: ProviderConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Timeout: envDurationSecs("PROVIDER_TIMEOUT_SECS", 60*time.Second),
		},
		Engine: EngineConfig{
			ClaimLimit:        envInt("ENGINE_CLAIM_LIMIT", 1000),
			SubmitConcurrency: envInt("ENGINE_SUBMIT_CONCURRENCY", 25),
			PollConcurrency:   envInt("ENGINE_POLL_CONCURRENCY", 50),
			CancelConcurrency: envInt("ENGINE_CANCEL_CONCURRENCY", 50),
			PollItemsPerJob:   envInt("ENGINE_POLL_ITEMS_PER_JOB", 500),
			SubmitMaxRetries:  envInt("ENGINE_SUBMIT_MAX_RETRIES", 3),
			RetryBackoff:      envDuration("ENGINE_RETRY_BACKOFF", time.Second),
			ItemTimeout:       envDuration("ENGINE_ITEM_TIMEOUT", 2*time.Hour),
			JobTimeout:        envDuration("ENGINE_JOB_TIMEOUT", 48*time.Hour),
			SubmittingGrace:   envDuration("ENGINE_SUBMITTING_GRACE", 5*time.Minute),
			MaxChainDepth:     envInt("ENGINE_MAX_CHAIN_DEPTH", 2),
			InvocationTimeout: envDuration("ENGINE_INVOCATION_TIMEOUT", 10*time.Minute),
			SelfURL:           envString("ENGINE_SELF_URL", fmt.Sprintf("http://localhost:%d", port)),
			APIKey:            os.Getenv("ENGINE_API_KEY"),
		},
		Scheduler: SchedulerConfig{
			Enabled:  envBool("SCHEDULE_ENABLED", true),
			Interval: envDuration("RUN_INTERVAL", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			PerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Provider.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
		return fmt.Errorf("OPENAI_BASE_URL must start with http:// or https://, got %q", c.Provider.BaseURL)
	}

	if c.Engine.ClaimLimit < 1 {
		return fmt.Errorf("ENGINE_CLAIM_LIMIT must be at least 1, got %d", c.Engine.ClaimLimit)
	}
	if c.Engine.SubmitConcurrency < 1 || c.Engine.PollConcurrency < 1 || c.Engine.CancelConcurrency < 1 {
		return fmt.Errorf("engine concurrency limits must be at least 1")
	}
	if c.Engine.MaxChainDepth < 0 {
		return fmt.Errorf("ENGINE_MAX_CHAIN_DEPTH must not be negative, got %d", c.Engine.MaxChainDepth)
	}
	if !strings.HasPrefix(c.Engine.SelfURL, "http://") && !strings.HasPrefix(c.Engine.SelfURL, "https://") {
		return fmt.Errorf("ENGINE_SELF_URL must start with http:// or https://, got %q", c.Engine.SelfURL)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

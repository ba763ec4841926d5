package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the routing engine.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := core.NewConfig(
//	    core.WithNamespace("patternroute"),
//	    core.WithRedisURL("redis://localhost:6379"),
//	    core.WithDefaultAgent("general-purpose"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Namespace prefixes every Redis key and metric name
	Namespace string `yaml:"namespace"`

	// Router configuration
	Router RouterConfig `yaml:"router"`

	// Consensus configuration
	Consensus ConsensusConfig `yaml:"consensus"`

	// Fallback configuration
	Fallback FallbackConfig `yaml:"fallback"`

	// Redis configuration (profile store, rotation pointer, shared cache)
	Redis RedisConfig `yaml:"redis"`

	// Embedding configuration (optional module)
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Telemetry configuration (optional module)
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RouterConfig contains the orchestrator's latency budgets and cache settings.
// The target budget is soft: breaching it is logged, never fatal.
type RouterConfig struct {
	TargetBudget    time.Duration `yaml:"target_budget"`     // env: PATTERNROUTE_TARGET_BUDGET
	MaxConcurrency  int           `yaml:"max_concurrency"`   // env: PATTERNROUTE_MAX_CONCURRENCY
	CandidateLimit  int           `yaml:"candidate_limit"`   // env: PATTERNROUTE_CANDIDATE_LIMIT
	CacheTTL        time.Duration `yaml:"cache_ttl"`         // env: PATTERNROUTE_CACHE_TTL
	CacheMaxSize    int           `yaml:"cache_max_size"`    // env: PATTERNROUTE_CACHE_MAX_SIZE
	IncludeExplain  bool          `yaml:"include_explain"`   // env: PATTERNROUTE_INCLUDE_EXPLAIN
	HistoryCapacity int           `yaml:"history_capacity"`  // env: PATTERNROUTE_HISTORY_CAPACITY
}

// ConsensusConfig contains the validator group settings.
// Deadline is the hard shared budget for all five validators.
type ConsensusConfig struct {
	Deadline time.Duration `yaml:"deadline"` // env: PATTERNROUTE_CONSENSUS_DEADLINE
	Quorum   int           `yaml:"quorum"`   // env: PATTERNROUTE_CONSENSUS_QUORUM
}

// FallbackConfig names the catch-all agent used by the last non-terminal strategy.
type FallbackConfig struct {
	DefaultAgent string `yaml:"default_agent"` // env: PATTERNROUTE_DEFAULT_AGENT
}

// RedisConfig contains Redis connection settings for the profile store
// and the persistent round-robin rotation pointer.
type RedisConfig struct {
	URL string `yaml:"url"` // env: PATTERNROUTE_REDIS_URL, REDIS_URL
}

// EmbeddingConfig contains embedding client configuration.
// This is an optional module - when APIKey is empty the router runs
// with metadata-only candidate generation.
type EmbeddingConfig struct {
	APIKey     string        `yaml:"api_key"` // env: PATTERNROUTE_OPENAI_API_KEY, OPENAI_API_KEY
	Model      string        `yaml:"model"`   // env: PATTERNROUTE_EMBEDDING_MODEL
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// TelemetryConfig contains observability configuration.
// This is an optional module - telemetry is only initialized when Enabled=true.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`      // env: PATTERNROUTE_TELEMETRY_ENABLED
	ServiceName string `yaml:"service_name"` // env: PATTERNROUTE_SERVICE_NAME
}

// Option is a functional option for configuring the engine
type Option func(*Config)

// NewConfig creates a configuration with defaults, environment overrides,
// and functional options applied in that order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnvironment()

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Namespace: "patternroute",
		Router: RouterConfig{
			TargetBudget:    100 * time.Millisecond,
			MaxConcurrency:  8,
			CandidateLimit:  10,
			CacheTTL:        30 * time.Second,
			CacheMaxSize:    1000,
			IncludeExplain:  false,
			HistoryCapacity: 50,
		},
		Consensus: ConsensusConfig{
			Deadline: 50 * time.Millisecond,
			Quorum:   3,
		},
		Fallback: FallbackConfig{},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "patternroute",
		},
	}
}

// LoadConfigFile reads a YAML configuration file and layers environment
// variables and functional options on top of it.
func LoadConfigFile(path string, opts ...Option) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, ErrInvalidConfiguration)
	}

	cfg.applyEnvironment()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvironment overlays environment variables onto the config
func (c *Config) applyEnvironment() {
	if v := os.Getenv("PATTERNROUTE_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := envDuration("PATTERNROUTE_TARGET_BUDGET"); v > 0 {
		c.Router.TargetBudget = v
	}
	if v := envInt("PATTERNROUTE_MAX_CONCURRENCY"); v > 0 {
		c.Router.MaxConcurrency = v
	}
	if v := envInt("PATTERNROUTE_CANDIDATE_LIMIT"); v > 0 {
		c.Router.CandidateLimit = v
	}
	if v := envDuration("PATTERNROUTE_CACHE_TTL"); v > 0 {
		c.Router.CacheTTL = v
	}
	if v := envInt("PATTERNROUTE_CACHE_MAX_SIZE"); v > 0 {
		c.Router.CacheMaxSize = v
	}
	if v := os.Getenv("PATTERNROUTE_INCLUDE_EXPLAIN"); v != "" {
		c.Router.IncludeExplain = v == "true" || v == "1"
	}
	if v := envDuration("PATTERNROUTE_CONSENSUS_DEADLINE"); v > 0 {
		c.Consensus.Deadline = v
	}
	if v := envInt("PATTERNROUTE_CONSENSUS_QUORUM"); v > 0 {
		c.Consensus.Quorum = v
	}
	if v := os.Getenv("PATTERNROUTE_DEFAULT_AGENT"); v != "" {
		c.Fallback.DefaultAgent = v
	}
	if v := firstEnv("PATTERNROUTE_REDIS_URL", "REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := firstEnv("PATTERNROUTE_OPENAI_API_KEY", "OPENAI_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("PATTERNROUTE_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("PATTERNROUTE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PATTERNROUTE_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
}

// Validate checks the configuration for invalid combinations
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace must not be empty: %w", ErrInvalidConfiguration)
	}
	if c.Router.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be >= 1: %w", ErrInvalidConfiguration)
	}
	if c.Router.CandidateLimit < 1 {
		return fmt.Errorf("candidate_limit must be >= 1: %w", ErrInvalidConfiguration)
	}
	if c.Consensus.Deadline <= 0 {
		return fmt.Errorf("consensus deadline must be positive: %w", ErrInvalidConfiguration)
	}
	if c.Consensus.Quorum < 1 || c.Consensus.Quorum > 5 {
		return fmt.Errorf("consensus quorum must be in [1,5]: %w", ErrInvalidConfiguration)
	}
	return nil
}

// WithNamespace sets the key and metric namespace
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithRedisURL sets the Redis connection URL
func WithRedisURL(url string) Option {
	return func(c *Config) { c.Redis.URL = url }
}

// WithDefaultAgent names the catch-all agent for the fallback chain
func WithDefaultAgent(agentID string) Option {
	return func(c *Config) { c.Fallback.DefaultAgent = agentID }
}

// WithTargetBudget sets the soft end-to-end latency budget
func WithTargetBudget(d time.Duration) Option {
	return func(c *Config) { c.Router.TargetBudget = d }
}

// WithConsensusDeadline sets the hard shared validator deadline
func WithConsensusDeadline(d time.Duration) Option {
	return func(c *Config) { c.Consensus.Deadline = d }
}

// WithMaxConcurrency bounds the per-agent scoring fan-out
func WithMaxConcurrency(n int) Option {
	return func(c *Config) { c.Router.MaxConcurrency = n }
}

// WithCandidateLimit caps the nearest-neighbor candidate set size
func WithCandidateLimit(k int) Option {
	return func(c *Config) { c.Router.CandidateLimit = k }
}

// WithCacheTTL sets the decision cache time-to-live
func WithCacheTTL(d time.Duration) Option {
	return func(c *Config) { c.Router.CacheTTL = d }
}

// WithExplanations enables per-expert scoring breakdowns in decisions
func WithExplanations(enabled bool) Option {
	return func(c *Config) { c.Router.IncludeExplain = enabled }
}

// WithEmbeddingAPIKey sets the embedding provider API key
func WithEmbeddingAPIKey(key string) Option {
	return func(c *Config) { c.Embedding.APIKey = key }
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envDuration(name string) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

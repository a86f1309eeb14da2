package model

import "time"

// Config is the complete proofloop configuration.
// Hierarchy: CLI flags > PROOFLOOP_* env vars > config file > defaults.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Judge     JudgeConfig     `yaml:"judge"`
	LLM       LLMConfig       `yaml:"llm"`
	JudgeLLM  LLMConfig       `yaml:"judge_llm"` // empty provider = reuse llm
	Prover    ProverConfig    `yaml:"prover"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	Output    OutputConfig    `yaml:"output"`
}

// SessionConfig bounds the refinement loop.
type SessionConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`  // >= 1
	MaxDuration  time.Duration `yaml:"max_duration"`  // > 0
	RetryCeiling int           `yaml:"retry_ceiling"` // transient retries per external call
	ExtractTries int           `yaml:"extract_tries"` // bounded tries inside the fact extractor

	// TemperatureStep is added to the draft temperature on each correction
	// attempt, nudging the model away from repeating a failed proof shape.
	TemperatureStep float64 `yaml:"temperature_step"`

	// TranscriptDir, when set, enables per-session JSONL attempt logs.
	TranscriptDir string `yaml:"transcript_dir"`
}

// JudgeConfig controls verdict aggregation.
type JudgeConfig struct {
	Count            int `yaml:"count"`             // odd, >= 1
	ConcurrencyLimit int `yaml:"concurrency_limit"` // >= 1, bounds parallel judge passes
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "openai", "anthropic", "ollama"
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Timeout     int     `yaml:"timeout"` // seconds, per call
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// ProverConfig points at the theorem-checking toolchain daemon.
type ProverConfig struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"` // seconds, per check
}

// RateLimitConfig bounds outbound request rate per backend, shared by
// all concurrent sessions and judge passes.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// CacheConfig controls caching of fact sets and prover results.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Dir     string        `yaml:"dir,omitempty"` // non-empty enables the disk layer
}

// StoreConfig enables persistent session records for resumability.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // sqlite file; empty disables persistence
}

// OutputConfig controls CLI rendering.
type OutputConfig struct {
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns sensible defaults. Retry, budget and judge-count
// values are design defaults, not mandated constants; all are overridable.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			MaxAttempts:     5,
			MaxDuration:     10 * time.Minute,
			RetryCeiling:    3,
			ExtractTries:    2,
			TemperatureStep: 0,
		},
		Judge: JudgeConfig{
			Count:            3,
			ConcurrencyLimit: 3,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Timeout:     60,
			MaxTokens:   4000,
			Temperature: 0.2,
		},
		JudgeLLM: LLMConfig{
			Timeout:     60,
			MaxTokens:   2000,
			Temperature: 0,
		},
		Prover: ProverConfig{
			URL:     "http://localhost:7117",
			Timeout: 120,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     24 * time.Hour,
		},
		Store:  StoreConfig{},
		Output: OutputConfig{},
	}
}

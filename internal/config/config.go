// Package config loads refinery settings.
//
// Sources are layered, later ones winning:
//
//  1. Default()
//  2. a .env file in the working directory (loaded into the process environment)
//  3. the YAML file (refinery.yaml unless a path is given)
//  4. REFINERY_* environment variables (and REFINERY_COST_* for the budget)
//
// The result is checked with Validate before it is returned.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/promptlab/refinery/internal/ai"
	"github.com/promptlab/refinery/internal/cost"
	"github.com/promptlab/refinery/internal/iterative"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "refinery.yaml"

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the full application configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	LLM        LLMConfig        `yaml:"llm"`
	Refinement RefinementConfig `yaml:"refinement"`
	ABTest     ABTestConfig     `yaml:"abtest"`
	Storage    StorageConfig    `yaml:"storage"`
	Artifacts  ArtifactConfig   `yaml:"artifacts"`
	Cost       cost.Config      `yaml:"cost"`
}

// LLMConfig selects model providers and the resilience settings around them.
type LLMConfig struct {
	// Provider used when a step names none: anthropic, gemini or fake
	Provider string `yaml:"provider"`
	// Model is the default model; empty uses the provider default
	Model string `yaml:"model"`
	// JudgeModel scores prompts; empty uses Model
	JudgeModel string `yaml:"judge_model"`
	// Temperature for rewrites (0 = provider default)
	Temperature float64 `yaml:"temperature"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`

	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	InitialBackoff     time.Duration `yaml:"initial_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	CircuitBreaker     bool          `yaml:"circuit_breaker"`
	FailureThreshold   int           `yaml:"failure_threshold"`
	OpenTimeout        time.Duration `yaml:"open_timeout"`
	MaxConcurrentCalls int           `yaml:"max_concurrent_calls"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	Burst              int           `yaml:"burst"`
}

// RefinementConfig controls the refinement loop.
type RefinementConfig struct {
	MaxIterations        int           `yaml:"max_iterations"`
	QualityThreshold     float64       `yaml:"quality_threshold"`
	ImprovementThreshold float64       `yaml:"improvement_threshold"`
	SuggestionRetries    int           `yaml:"suggestion_retries"`
	Timeout              time.Duration `yaml:"timeout"`
	// CacheSize is how many judged prompts are remembered (0 disables)
	CacheSize int `yaml:"cache_size"`
	// Validate runs an A/B test when a refinement clears the improvement threshold
	Validate bool `yaml:"validate"`
}

// ABTestConfig controls A/B tests and validation.
type ABTestConfig struct {
	Workers           int     `yaml:"workers"`
	SignificanceLevel float64 `yaml:"significance_level"`
	MinImprovement    float64 `yaml:"min_improvement"`
	TestCaseCount     int     `yaml:"test_case_count"`
	// Model runs the variants; empty uses llm.model
	Model string `yaml:"model"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres or memory
	Path   string `yaml:"path"`   // SQLite database file
	DSN    string `yaml:"dsn"`    // PostgreSQL connection string
}

// ArtifactConfig configures the S3-compatible transcript archive.
type ArtifactConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	retry := ai.DefaultRetryConfig()
	loop := iterative.DefaultConfig()
	return &Config{
		LogLevel: "info",
		LLM: LLMConfig{
			Provider:           ai.ProviderAnthropic,
			Timeout:            retry.Timeout,
			MaxRetries:         retry.MaxRetries,
			InitialBackoff:     retry.InitialBackoff,
			MaxBackoff:         retry.MaxBackoff,
			CircuitBreaker:     retry.CircuitBreakerEnabled,
			FailureThreshold:   retry.FailureThreshold,
			OpenTimeout:        retry.OpenTimeout,
			MaxConcurrentCalls: retry.MaxConcurrentCalls,
			RequestsPerSecond:  retry.RequestsPerSecond,
			Burst:              retry.Burst,
		},
		Refinement: RefinementConfig{
			MaxIterations:        loop.MaxIterations,
			QualityThreshold:     loop.QualityThreshold,
			ImprovementThreshold: loop.ImprovementThreshold,
			SuggestionRetries:    loop.SuggestionRetries,
			Timeout:              10 * time.Minute,
			CacheSize:            256,
			Validate:             true,
		},
		ABTest: ABTestConfig{
			Workers:           6,
			SignificanceLevel: 0.05,
			MinImprovement:    0.05,
			TestCaseCount:     10,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   ".refinery/refinery.db",
		},
		Artifacts: ArtifactConfig{
			Region: "us-east-1",
			Bucket: "refinery-transcripts",
			Prefix: "abtests/",
			UseSSL: true,
		},
		Cost: *cost.DefaultConfig(),
	}
}

// Load builds the configuration from every source. An empty path reads
// DefaultPath if it exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	// A missing .env is normal
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing YAML %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment. Malformed numbers are
// ignored so a typo cannot silently zero a limit.
func (c *Config) ApplyEnv() {
	setString(&c.LogLevel, "REFINERY_LOG_LEVEL")

	setString(&c.LLM.Provider, "REFINERY_LLM_PROVIDER")
	setString(&c.LLM.Model, "REFINERY_MODEL_DEFAULT")
	setString(&c.LLM.JudgeModel, "REFINERY_JUDGE_MODEL")
	if c.LLM.AnthropicAPIKey == "" {
		c.LLM.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.LLM.GeminiAPIKey == "" {
		c.LLM.GeminiAPIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
	}
	setDuration(&c.LLM.Timeout, "REFINERY_LLM_TIMEOUT")
	setInt(&c.LLM.MaxRetries, "REFINERY_LLM_MAX_RETRIES")
	setInt(&c.LLM.MaxConcurrentCalls, "REFINERY_LLM_MAX_CONCURRENT")
	setFloat(&c.LLM.RequestsPerSecond, "REFINERY_LLM_RPS")

	setInt(&c.Refinement.MaxIterations, "REFINERY_MAX_ITERATIONS")
	setFloat(&c.Refinement.QualityThreshold, "REFINERY_QUALITY_THRESHOLD")
	setFloat(&c.Refinement.ImprovementThreshold, "REFINERY_IMPROVEMENT_THRESHOLD")
	setInt(&c.Refinement.SuggestionRetries, "REFINERY_SUGGESTION_RETRIES")
	setBool(&c.Refinement.Validate, "REFINERY_VALIDATE")

	setInt(&c.ABTest.Workers, "REFINERY_AB_WORKERS")
	setFloat(&c.ABTest.SignificanceLevel, "REFINERY_SIGNIFICANCE_LEVEL")
	setFloat(&c.ABTest.MinImprovement, "REFINERY_MIN_IMPROVEMENT")
	setInt(&c.ABTest.TestCaseCount, "REFINERY_TEST_CASE_COUNT")

	setString(&c.Storage.Driver, "REFINERY_STORAGE_DRIVER")
	setString(&c.Storage.Path, "REFINERY_DB_PATH")
	setString(&c.Storage.DSN, "REFINERY_DATABASE_URL")

	setBool(&c.Artifacts.Enabled, "REFINERY_ARTIFACTS_ENABLED")
	setString(&c.Artifacts.Endpoint, "REFINERY_ARTIFACTS_ENDPOINT")
	setString(&c.Artifacts.Region, "REFINERY_ARTIFACTS_REGION")
	setString(&c.Artifacts.AccessKey, "REFINERY_ARTIFACTS_ACCESS_KEY")
	setString(&c.Artifacts.SecretKey, "REFINERY_ARTIFACTS_SECRET_KEY")
	setString(&c.Artifacts.Bucket, "REFINERY_ARTIFACTS_BUCKET")
	setBool(&c.Artifacts.UseSSL, "REFINERY_ARTIFACTS_USE_SSL")

	c.Cost.ApplyEnv()
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.LLM.Provider {
	case ai.ProviderAnthropic, ai.ProviderGemini, ai.ProviderFake:
	default:
		return fmt.Errorf("llm.provider must be %s, %s or %s (got %q)",
			ai.ProviderAnthropic, ai.ProviderGemini, ai.ProviderFake, c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative (got %d)", c.LLM.MaxRetries)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive (got %v)", c.LLM.Timeout)
	}

	if err := c.LoopConfig().Validate(); err != nil {
		return fmt.Errorf("refinement: %w", err)
	}
	if c.Refinement.CacheSize < 0 {
		return fmt.Errorf("refinement.cache_size cannot be negative (got %d)", c.Refinement.CacheSize)
	}

	if c.ABTest.Workers <= 0 {
		return fmt.Errorf("abtest.workers must be positive (got %d)", c.ABTest.Workers)
	}
	if c.ABTest.SignificanceLevel <= 0 || c.ABTest.SignificanceLevel >= 1 {
		return fmt.Errorf("abtest.significance_level must be between 0 and 1 (got %.3f)", c.ABTest.SignificanceLevel)
	}
	if c.ABTest.MinImprovement < 0 {
		return fmt.Errorf("abtest.min_improvement cannot be negative (got %.3f)", c.ABTest.MinImprovement)
	}
	if c.ABTest.TestCaseCount <= 0 {
		return fmt.Errorf("abtest.test_case_count must be positive (got %d)", c.ABTest.TestCaseCount)
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be %s, %s or %s (got %q)",
			DriverSQLite, DriverPostgres, DriverMemory, c.Storage.Driver)
	}

	if c.Artifacts.Enabled && (c.Artifacts.Endpoint == "" || c.Artifacts.Bucket == "") {
		return fmt.Errorf("artifacts.endpoint and artifacts.bucket are required when artifacts are enabled")
	}

	if err := c.Cost.Validate(); err != nil {
		return fmt.Errorf("cost: %w", err)
	}
	return nil
}

// LoopConfig returns the refinement loop settings.
func (c *Config) LoopConfig() iterative.Config {
	return iterative.Config{
		MaxIterations:        c.Refinement.MaxIterations,
		QualityThreshold:     c.Refinement.QualityThreshold,
		ImprovementThreshold: c.Refinement.ImprovementThreshold,
		SuggestionRetries:    c.Refinement.SuggestionRetries,
		Timeout:              c.Refinement.Timeout,
	}
}

// RetryConfig returns the router's resilience settings.
func (c *Config) RetryConfig() ai.RetryConfig {
	r := ai.DefaultRetryConfig()
	r.Timeout = c.LLM.Timeout
	r.MaxRetries = c.LLM.MaxRetries
	if c.LLM.InitialBackoff > 0 {
		r.InitialBackoff = c.LLM.InitialBackoff
	}
	if c.LLM.MaxBackoff > 0 {
		r.MaxBackoff = c.LLM.MaxBackoff
	}
	r.CircuitBreakerEnabled = c.LLM.CircuitBreaker
	if c.LLM.FailureThreshold > 0 {
		r.FailureThreshold = c.LLM.FailureThreshold
	}
	if c.LLM.OpenTimeout > 0 {
		r.OpenTimeout = c.LLM.OpenTimeout
	}
	r.MaxConcurrentCalls = c.LLM.MaxConcurrentCalls
	r.RequestsPerSecond = c.LLM.RequestsPerSecond
	r.Burst = c.LLM.Burst
	return r
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// Save writes the configuration as YAML, omitting API keys.
func (c *Config) Save(path string) error {
	out := *c
	out.LLM.AnthropicAPIKey = ""
	out.LLM.GeminiAPIKey = ""
	out.Artifacts.SecretKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn or error (got %q)", s)
}

func setString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

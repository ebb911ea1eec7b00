// Package config loads and validates all runtime configuration for the
// security proxy.
//
// Configuration is read from environment variables (preferred for
// containers) or from a config.yaml file in the working directory.
// Environment variables take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 3000.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// OpenAI and Anthropic hold the two upstream provider bindings, which
	// clients address through the "openai" and "anthropic" path segments.
	OpenAI    ProviderConfig
	Anthropic ProviderConfig

	// Feature flags — all default true.
	EnableDataSanitization  bool
	EnableTimeBasedBlocking bool
	EnableCaching           bool
	EnablePolicyEnforcement bool
	EnableRateLimiting      bool

	// FinancialDetectionStrict enables the borderline second classification pass.
	FinancialDetectionStrict bool

	// CacheTTL is the TTL applied to newly inserted cache entries. Default: 300s.
	CacheTTL time.Duration

	// RateLimit controls the per-identity token bucket.
	RateLimit RateLimitConfig

	// Redis optionally backs the response cache. Empty URL means the
	// in-process memory cache is used instead.
	Redis RedisConfig

	// SQLitePath is the file the audit store persists to. Empty means an
	// in-process memory store (non-durable — acceptable for tests and
	// short-lived deployments).
	SQLitePath string

	// SanitizerMode selects the sanitizer strategy: "reject" (default,
	// matches deployed behaviour) or "redact".
	SanitizerMode string

	// ClassifierProvider selects which configured provider's credentials
	// back the Sanitiser/PolicyClassifier LLM calls: "anthropic" or "openai".
	ClassifierProvider string

	// CORSOrigins lists the origins allowed to call the management and
	// event-channel endpoints. Default: ["*"].
	CORSOrigins []string
}

// ProviderConfig holds configuration for a single upstream provider binding.
type ProviderConfig struct {
	// APIKey is the provider credential. Leave empty to disable the provider.
	APIKey string
	// BaseURL overrides the provider's default API endpoint.
	BaseURL string
}

// RedisConfig holds Redis connection configuration for the shared cache.
type RedisConfig struct {
	URL string
}

// RateLimitConfig controls the token-bucket rate limiter.
type RateLimitConfig struct {
	// MaxTokens is the bucket capacity. Default: 100.
	MaxTokens float64
	// RefillRate is tokens added per RefillInterval. Default: 10.
	RefillRate float64
	// RefillInterval is the refill granularity. Default: 1s.
	RefillInterval time.Duration
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────
	v.SetDefault("PORT", 3000)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("ENABLE_DATA_SANITIZATION", true)
	v.SetDefault("ENABLE_TIME_BASED_BLOCKING", true)
	v.SetDefault("ENABLE_CACHING", true)
	v.SetDefault("ENABLE_POLICY_ENFORCEMENT", true)
	v.SetDefault("ENABLE_RATE_LIMITING", true)
	v.SetDefault("FINANCIAL_DETECTION_STRICT", false)

	v.SetDefault("CACHE_TTL", 300)

	v.SetDefault("RATE_LIMIT_MAX_TOKENS", 100)
	v.SetDefault("RATE_LIMIT_REFILL_RATE", 10)
	v.SetDefault("RATE_LIMIT_REFILL_INTERVAL", 1000)

	v.SetDefault("SANITIZER_MODE", "reject")
	v.SetDefault("CLASSIFIER_PROVIDER", "anthropic")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		OpenAI:    ProviderConfig{APIKey: v.GetString("OPENAI_API_KEY"), BaseURL: v.GetString("OPENAI_API_URL")},
		Anthropic: ProviderConfig{APIKey: v.GetString("ANTHROPIC_API_KEY"), BaseURL: v.GetString("ANTHROPIC_API_URL")},

		EnableDataSanitization:  v.GetBool("ENABLE_DATA_SANITIZATION"),
		EnableTimeBasedBlocking: v.GetBool("ENABLE_TIME_BASED_BLOCKING"),
		EnableCaching:           v.GetBool("ENABLE_CACHING"),
		EnablePolicyEnforcement: v.GetBool("ENABLE_POLICY_ENFORCEMENT"),
		EnableRateLimiting:      v.GetBool("ENABLE_RATE_LIMITING"),

		FinancialDetectionStrict: v.GetBool("FINANCIAL_DETECTION_STRICT"),

		CacheTTL: time.Duration(v.GetInt("CACHE_TTL")) * time.Second,

		RateLimit: RateLimitConfig{
			MaxTokens:      v.GetFloat64("RATE_LIMIT_MAX_TOKENS"),
			RefillRate:     v.GetFloat64("RATE_LIMIT_REFILL_RATE"),
			RefillInterval: time.Duration(v.GetInt("RATE_LIMIT_REFILL_INTERVAL")) * time.Millisecond,
		},

		Redis:      RedisConfig{URL: v.GetString("REDIS_URL")},
		SQLitePath: v.GetString("AUDIT_DB_PATH"),

		SanitizerMode:      strings.ToLower(v.GetString("SANITIZER_MODE")),
		ClassifierProvider: strings.ToLower(v.GetString("CLASSIFIER_PROVIDER")),

		CORSOrigins: splitCommaList(v.GetString("CORS_ALLOWED_ORIGINS")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.OpenAI.APIKey == "" && c.Anthropic.APIKey == "" {
		return fmt.Errorf(
			"config: at least one provider API key is required " +
				"(OPENAI_API_KEY or ANTHROPIC_API_KEY)",
		)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	switch c.SanitizerMode {
	case "reject", "redact":
	default:
		return fmt.Errorf("config: invalid SANITIZER_MODE %q; must be one of: reject, redact", c.SanitizerMode)
	}

	switch c.ClassifierProvider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config: invalid CLASSIFIER_PROVIDER %q; must be one of: anthropic, openai", c.ClassifierProvider)
	}

	if c.RateLimit.MaxTokens <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_MAX_TOKENS must be > 0")
	}
	if c.RateLimit.RefillInterval <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_REFILL_INTERVAL must be a positive duration")
	}

	return nil
}

// splitCommaList splits a comma-separated env value into a trimmed slice,
// dropping empty entries.
func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}

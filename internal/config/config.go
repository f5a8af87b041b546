package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/A1anMc/GrantSGE/internal/secrets"
	"github.com/A1anMc/GrantSGE/internal/utils"
)

// Environment names recognised by ENV.
const (
	EnvDevelopment = "development"
	EnvTesting     = "testing"
	EnvProduction  = "production"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Env        string
	ListenAddr string
	// Relational store
	DatabaseURL        string
	DBStatementTimeout time.Duration
	// Persistent key-value tier
	KVBackend     string // redis, bolt or memory
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	BoltPath      string
	// Tiered cache
	CacheVersion             string
	CacheMemoryTTL           time.Duration
	CacheDegradeOnInfraError bool
	EligibilityCacheTTL      time.Duration
	// Response LRU for listing endpoints
	ResponseCacheMaxMB      int64
	ResponseCacheMaxEntries int64
	ResponseCacheTTL        time.Duration
	// Fixed-window limits
	EnableRateLimit            bool
	RateLimitRequests          int
	RateLimitWindow            time.Duration
	EligibilityRateLimit       int
	EligibilityRateLimitWindow time.Duration
	RegisterRateLimit          int
	LoginRateLimit             int
	// In-process global throttle (token bucket)
	RateLimitGlobal      float64
	RateLimitGlobalBurst int
	// Auth
	SecretKey          string
	JWTSecretKey       string
	JWTAccessTokenTTL  time.Duration
	AdminAPIToken      string
	CORSAllowedOrigins []string
	// Text generation
	AnthropicAPIKey  string
	AnthropicBaseURL string
	LLMModel         string
	LLMModelVersion  string
	LLMTimeout       time.Duration
	HTTPMaxRetries   int
	HTTPRetryBase    time.Duration
	LogHTTPRetries   bool
	// Scrapers
	ScraperUserAgent   string
	ScraperDelay       time.Duration
	ScraperTimeout     time.Duration
	ScraperRPS         float64
	GrantConnectURL    string
	GrantsGovAUURL     string
	ScrapeSchedule     string
	ScrapeFetchDetails bool
	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string
	SentryEnvironment string
	SentryRelease     string
	SentrySampleRate  float64
	MetricsInterval   time.Duration
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	env := strings.ToLower(utils.GetEnvAsString("ENV", EnvDevelopment))
	cached = &Config{
		Env:                        env,
		ListenAddr:                 utils.GetEnvAsString("LISTEN_ADDR", ":5000"),
		DatabaseURL:                utils.GetEnvAsString("DATABASE_URL", ""),
		DBStatementTimeout:         time.Duration(utils.GetEnvAsInt("DB_STATEMENT_TIMEOUT_MS", 10000)) * time.Millisecond,
		KVBackend:                  strings.ToLower(utils.GetEnvAsString("KVSTORE_BACKEND", "redis")),
		RedisHost:                  utils.GetEnvAsString("REDIS_HOST", "localhost"),
		RedisPort:                  utils.GetEnvAsInt("REDIS_PORT", 6379),
		RedisDB:                    utils.GetEnvAsInt("REDIS_DB", 0),
		RedisPassword:              utils.GetEnvAsString("REDIS_PASSWORD", ""),
		BoltPath:                   utils.GetEnvAsString("KVSTORE_BOLT_PATH", "grants-cache.db"),
		CacheVersion:               utils.GetEnvAsString("CACHE_VERSION", "1.0"),
		CacheMemoryTTL:             utils.GetEnvAsSeconds("CACHE_MEMORY_TTL_SEC", 300),
		CacheDegradeOnInfraError:   utils.GetEnvAsBool("CACHE_DEGRADE_ON_INFRA_ERROR", true),
		EligibilityCacheTTL:        utils.GetEnvAsSeconds("ELIGIBILITY_CACHE_TTL_SEC", 3600),
		ResponseCacheMaxMB:         int64(utils.GetEnvAsInt("RESPONSE_CACHE_MAX_MB", 32)),
		ResponseCacheMaxEntries:    int64(utils.GetEnvAsInt("RESPONSE_CACHE_MAX_ENTRIES", 1000)),
		ResponseCacheTTL:           utils.GetEnvAsSeconds("RESPONSE_CACHE_TTL_SEC", 60),
		EnableRateLimit:            utils.GetEnvAsBool("ENABLE_RATE_LIMIT", true),
		RateLimitRequests:          utils.GetEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:            utils.GetEnvAsSeconds("RATE_LIMIT_WINDOW_SEC", 60),
		EligibilityRateLimit:       utils.GetEnvAsInt("ELIGIBILITY_RATE_LIMIT", 10),
		EligibilityRateLimitWindow: utils.GetEnvAsSeconds("ELIGIBILITY_RATE_WINDOW_SEC", 3600),
		RegisterRateLimit:          utils.GetEnvAsInt("REGISTER_RATE_LIMIT", 10),
		LoginRateLimit:             utils.GetEnvAsInt("LOGIN_RATE_LIMIT", 100),
		RateLimitGlobal:            utils.GetEnvAsFloat("RATE_LIMIT_GLOBAL", 100.0),
		RateLimitGlobalBurst:       utils.GetEnvAsInt("RATE_LIMIT_GLOBAL_BURST", 200),
		SecretKey:                  utils.GetEnvAsString("SECRET_KEY", ""),
		JWTSecretKey:               utils.GetEnvAsString("JWT_SECRET_KEY", ""),
		JWTAccessTokenTTL:          utils.GetEnvAsSeconds("JWT_ACCESS_TOKEN_EXPIRES", 3600),
		AdminAPIToken:              utils.GetEnvAsString("ADMIN_API_TOKEN", ""),
		CORSAllowedOrigins:         utils.GetEnvAsSlice("CORS_ORIGINS", []string{"*"}, ","),
		AnthropicAPIKey:            utils.GetEnvAsString("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:           strings.TrimRight(utils.GetEnvAsString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"), "/"),
		LLMModel:                   utils.GetEnvAsString("LLM_MODEL", "claude-3-opus-20240229"),
		LLMModelVersion:            utils.GetEnvAsString("LLM_MODEL_VERSION", "20240229"),
		LLMTimeout:                 time.Duration(utils.GetEnvAsInt("LLM_TIMEOUT_MS", 60000)) * time.Millisecond,
		HTTPMaxRetries:             utils.GetEnvAsInt("HTTP_MAX_RETRIES", 3),
		HTTPRetryBase:              time.Duration(utils.GetEnvAsInt("HTTP_RETRY_BASE_MS", 1000)) * time.Millisecond,
		LogHTTPRetries:             utils.GetEnvAsBool("LOG_HTTP_RETRIES", false),
		ScraperUserAgent:           utils.GetEnvAsString("SCRAPER_USER_AGENT", ""),
		ScraperDelay:               time.Duration(utils.GetEnvAsInt("SCRAPER_DELAY_MS", 1000)) * time.Millisecond,
		ScraperTimeout:             utils.GetEnvAsSeconds("SCRAPER_TIMEOUT_SEC", 30),
		ScraperRPS:                 utils.GetEnvAsFloat("SCRAPER_RPS", 1.0),
		GrantConnectURL:            utils.GetEnvAsString("GRANTCONNECT_URL", "https://www.grants.gov.au/go/list"),
		GrantsGovAUURL:             utils.GetEnvAsString("GRANTS_GOV_AU_URL", "https://www.grants.gov.au/grants/all-grants"),
		ScrapeSchedule:             utils.GetEnvAsString("SCRAPE_SCHEDULE", ""),
		ScrapeFetchDetails:         utils.GetEnvAsBool("SCRAPE_FETCH_DETAILS", true),
		LogLevel:                   strings.ToLower(utils.GetEnvAsString("LOG_LEVEL", "info")),
		OTELEnabled:                utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:               utils.GetEnvAsString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELSampleRate:             utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:                  utils.GetEnvAsString("SENTRY_DSN", ""),
		SentryEnvironment:          utils.GetEnvAsString("SENTRY_ENVIRONMENT", env),
		SentryRelease:              utils.GetEnvAsString("SENTRY_RELEASE", "dev"),
		SentrySampleRate:           utils.GetEnvAsFloat("SENTRY_SAMPLE_RATE", 1.0),
		MetricsInterval:            utils.GetEnvAsSeconds("METRICS_INTERVAL_SEC", 30),
	}

	switch cached.Env {
	case EnvTesting:
		// Tests never share the application's logical database.
		cached.RedisDB = 1
	case EnvDevelopment:
		if cached.SecretKey == "" {
			cached.SecretKey = "dev-secret-key"
		}
		if cached.JWTSecretKey == "" {
			cached.JWTSecretKey = "dev-jwt-secret"
		}
	}

	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }

// RedisAddr returns host:port for the persistent tier.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsProduction reports whether ENV=production.
func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

// Validate enforces the secrets production deployments cannot run without.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDevelopment, EnvTesting, EnvProduction:
	default:
		return fmt.Errorf("unknown ENV %q", c.Env)
	}
	switch c.KVBackend {
	case "redis", "bolt", "memory":
	default:
		return fmt.Errorf("unknown KVSTORE_BACKEND %q", c.KVBackend)
	}
	if c.RateLimitWindow <= 0 || c.EligibilityRateLimitWindow <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}
	if !c.IsProduction() {
		return nil
	}
	return secrets.ValidateRequired(map[string]string{
		"SECRET_KEY":        c.SecretKey,
		"JWT_SECRET_KEY":    c.JWTSecretKey,
		"ANTHROPIC_API_KEY": c.AnthropicAPIKey,
	})
}

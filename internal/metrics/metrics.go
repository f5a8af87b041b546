package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Eligibility scoring metrics
	EligibilityRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grant_eligibility_requests_total",
			Help: "Total eligibility scans",
		},
		[]string{"status"}, // status: success, error, invalid, rate_limited
	)

	EligibilityLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grant_eligibility_latency_seconds",
			Help:    "Eligibility scan latency by phase",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"phase"}, // phase: total, load, generate, validate, persist
	)

	EligibilityCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grant_eligibility_cache_hits_total",
			Help: "Eligibility scans served from cache",
		},
	)

	EligibilityCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grant_eligibility_cache_misses_total",
			Help: "Eligibility scans that required a model call",
		},
	)

	EligibilityRateLimits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grant_eligibility_rate_limits_total",
			Help: "Eligibility scans rejected by the per-grant limiter",
		},
	)

	DraftRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grant_draft_requests_total",
			Help: "Total draft generation requests",
		},
		[]string{"status"},
	)

	DraftDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grant_draft_duration_seconds",
			Help:    "Draft generation latency by phase",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"phase"},
	)

	AIModelInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grant_ai_model_info",
			Help: "Configured text generation model (value is always 1)",
		},
		[]string{"name", "version"},
	)

	// Outbound HTTP client metrics (httpx)
	OutboundHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_http_requests_total",
			Help: "Outbound HTTP attempts by client and outcome",
		},
		[]string{"client", "status"}, // status: success, retry, error
	)

	OutboundHTTPRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_http_retries_total",
			Help: "Retried outbound HTTP attempts",
		},
		[]string{"client"},
	)

	OutboundRetryAfterWaits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbound_retry_after_wait_seconds",
			Help:    "Time spent honouring Retry-After headers",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"client"},
	)

	// Scraper metrics
	ScrapeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grant_scrape_runs_total",
			Help: "Scrape runs per source",
		},
		[]string{"source", "status"},
	)

	ScrapeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grant_scrape_duration_seconds",
			Help:    "Duration of scrape runs per source",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	ScrapeGrantsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grant_scrape_upserts_total",
			Help: "Grants inserted or refreshed by scrapers",
		},
		[]string{"source"},
	)

	ScraperHTTPResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grant_scraper_http_responses_total",
			Help: "Scraper HTTP responses by status class",
		},
		[]string{"source", "class"},
	)

	// Database operation metrics
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Duration of database operations",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	DBOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"component"},
	)

	// Tiered cache metrics
	TieredCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiered_cache_hits_total",
			Help: "Tiered cache hits by tier",
		},
		[]string{"tier"}, // tier: memory, persistent
	)

	TieredCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiered_cache_misses_total",
			Help: "Tiered cache lookups that missed both tiers",
		},
	)

	TieredCacheInfraErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiered_cache_infra_errors_total",
			Help: "Persistent tier errors seen by the tiered cache",
		},
		[]string{"op"},
	)

	// Response cache metrics
	APICacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_cache_hits_total",
			Help: "Total number of API cache hits",
		},
		[]string{"endpoint"},
	)

	APICacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_cache_misses_total",
			Help: "Total number of API cache misses",
		},
		[]string{"endpoint"},
	)

	APICacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "api_cache_size_bytes",
			Help: "Current size of API cache in bytes",
		},
		[]string{"endpoint"},
	)

	APICacheItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "api_cache_items",
			Help: "Current number of items in API cache",
		},
		[]string{"endpoint"},
	)

	// Fixed-window limiter metrics
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Fixed-window limiter decisions",
		},
		[]string{"limiter", "result"}, // result: allowed, limited, fail_open
	)

	// Auth metrics
	AuthEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Authentication events",
		},
		[]string{"event", "result"},
	)

	// HTTP API metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"route", "method", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"route", "method", "status"},
	)

	// Process and catalogue gauges sampled by Collector
	SystemMemoryBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grant_system_memory_bytes",
			Help: "Heap memory in use by the process",
		},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grant_goroutines",
			Help: "Number of live goroutines",
		},
	)

	GrantsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grants_total",
			Help: "Grants in the catalogue by status",
		},
		[]string{"status"},
	)

	MetricsCollectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metrics_collection_errors_total",
			Help: "Total number of errors during metrics collection",
		},
		[]string{"source"},
	)
)

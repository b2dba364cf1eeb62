package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API and worker.
type Config struct {
	Port string

	AuthToken string

	DatabaseURL string

	ProviderAPIKey     string
	ProviderBaseURL    string
	ProviderTimeoutMS  int
	ProviderMaxRetries int
	ModelSmall         string
	ModelBig           string
	CostPerCallSmall   float64
	CostPerCallBig     float64

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	PerDocCapSmall  int
	PerDocCapBig    int
	DailyQuotaSmall int
	DailyQuotaBig   int

	DispatchWindowSmall    int
	DispatchWindowBig      int
	DispatchMaxInFlight    int
	DispatchQueueCapacity  int
	DispatchCallTimeoutMS  int
	BreakerErrorThreshold  float64
	BreakerCooldownSeconds int
	BreakerMinSamples      int

	RouterSparseEntityLimit int
	RouterDenseEntityLimit  int
	RouterLongSegmentTokens int

	GateProfile       string
	GateMargin        float64
	GateDomainContext string

	SupervisorTimeoutFloorSeconds   int
	SupervisorTimeoutCeilingSeconds int
	SupervisorPerSegmentTimeoutMS   int
	SupervisorMaxSteps              int

	SegmentMaxTokens int
	ExtractParallel  int

	CacheTTLSeconds int
	CacheMaxEntries int

	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string

	WorkerEnabled     bool
	QueueMaxAttempts  int
	LocalQueueBuffer  int
	WorkerConcurrency int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		ProviderAPIKey:     getEnv("PROVIDER_API_KEY", ""),
		ProviderBaseURL:    getEnv("PROVIDER_BASE_URL", "https://api.openai.com/v1"),
		ProviderTimeoutMS:  getEnvInt("PROVIDER_TIMEOUT_MS", 15000),
		ProviderMaxRetries: getEnvInt("PROVIDER_MAX_RETRIES", 2),
		ModelSmall:         getEnv("MODEL_SMALL", "gpt-4.1-mini"),
		ModelBig:           getEnv("MODEL_BIG", "gpt-4.1"),
		CostPerCallSmall:   getEnvFloat("COST_PER_CALL_SMALL", 0.002),
		CostPerCallBig:     getEnvFloat("COST_PER_CALL_BIG", 0.03),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "cm_documents"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "cm_documents_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "cm_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "worker-1"),

		PerDocCapSmall:  getEnvInt("BUDGET_PER_DOC_SMALL", 40),
		PerDocCapBig:    getEnvInt("BUDGET_PER_DOC_BIG", 10),
		DailyQuotaSmall: getEnvInt("BUDGET_DAILY_SMALL", 2000),
		DailyQuotaBig:   getEnvInt("BUDGET_DAILY_BIG", 300),

		DispatchWindowSmall:    getEnvInt("DISPATCH_WINDOW_SMALL", 120),
		DispatchWindowBig:      getEnvInt("DISPATCH_WINDOW_BIG", 30),
		DispatchMaxInFlight:    getEnvInt("DISPATCH_MAX_IN_FLIGHT", 8),
		DispatchQueueCapacity:  getEnvInt("DISPATCH_QUEUE_CAPACITY", 256),
		DispatchCallTimeoutMS:  getEnvInt("DISPATCH_CALL_TIMEOUT_MS", 30000),
		BreakerErrorThreshold:  getEnvFloat("BREAKER_ERROR_THRESHOLD", 0.30),
		BreakerCooldownSeconds: getEnvInt("BREAKER_COOLDOWN_SECONDS", 60),
		BreakerMinSamples:      getEnvInt("BREAKER_MIN_SAMPLES", 10),

		RouterSparseEntityLimit: getEnvInt("ROUTER_SPARSE_ENTITY_LIMIT", 3),
		RouterDenseEntityLimit:  getEnvInt("ROUTER_DENSE_ENTITY_LIMIT", 8),
		RouterLongSegmentTokens: getEnvInt("ROUTER_LONG_SEGMENT_TOKENS", 1200),

		GateProfile:       getEnv("GATE_PROFILE", "balanced"),
		GateMargin:        getEnvFloat("GATE_SIGNIFICANT_MARGIN", 0.2),
		GateDomainContext: getEnv("GATE_DOMAIN_CONTEXT", ""),

		SupervisorTimeoutFloorSeconds:   getEnvInt("SUPERVISOR_TIMEOUT_FLOOR_SECONDS", 30),
		SupervisorTimeoutCeilingSeconds: getEnvInt("SUPERVISOR_TIMEOUT_CEILING_SECONDS", 600),
		SupervisorPerSegmentTimeoutMS:   getEnvInt("SUPERVISOR_PER_SEGMENT_TIMEOUT_MS", 5000),
		SupervisorMaxSteps:              getEnvInt("SUPERVISOR_MAX_STEPS", 24),

		SegmentMaxTokens: getEnvInt("SEGMENT_MAX_TOKENS", 400),
		ExtractParallel:  getEnvInt("EXTRACT_MAX_PARALLEL", 4),

		CacheTTLSeconds: getEnvInt("RESULT_CACHE_TTL_SECONDS", 900),
		CacheMaxEntries: getEnvInt("RESULT_CACHE_MAX_ENTRIES", 2000),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),

		WorkerEnabled:     getEnvBool("WORKER_ENABLED", true),
		QueueMaxAttempts:  getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		LocalQueueBuffer:  getEnvInt("LOCAL_QUEUE_BUFFER", 256),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

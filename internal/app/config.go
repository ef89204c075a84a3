package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr              string
	RequestTimeout        time.Duration
	LogLevel              string
	LogFormat             string
	UserAgent             string
	JackettURL            string
	JackettAPIKey         string
	RedisURL              string
	SettingsRedisKey      string
	SessionIdleTTL        time.Duration
	MaxConcurrentSearches int
	CategoryCacheTTL      time.Duration
	RateLimitRPS          float64
	RateLimitBurst        int
	TrustedProxies        []string
	OTLPEndpoint          string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8090"),
		RequestTimeout:        time.Duration(getEnvInt("SEARCH_TIMEOUT_SECONDS", 30)) * time.Second,
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:             strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:             getEnv("SEARCH_USER_AGENT", "torrentwave/1.0"),
		JackettURL:            getEnv("JACKETT_URL", ""),
		JackettAPIKey:         strings.TrimSpace(os.Getenv("JACKETT_API_KEY")),
		RedisURL:              getEnv("REDIS_URL", ""),
		SettingsRedisKey:      getEnv("SETTINGS_REDIS_KEY", "torrentwave:settings:v1"),
		SessionIdleTTL:        time.Duration(getEnvInt("SESSION_IDLE_TTL_MINUTES", 30)) * time.Minute,
		MaxConcurrentSearches: getEnvInt("SEARCH_MAX_CONCURRENT", 8),
		CategoryCacheTTL:      time.Duration(getEnvInt("CATEGORY_CACHE_TTL_MINUTES", 360)) * time.Minute,
		RateLimitRPS:          getEnvFloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst:        getEnvInt("RATE_LIMIT_BURST", 100),
		TrustedProxies:        getEnvList("TRUSTED_PROXIES"),
		OTLPEndpoint:          getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma-separated variable, dropping blank entries.
func getEnvList(key string) []string {
	var values []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if value := strings.TrimSpace(part); value != "" {
			values = append(values, value)
		}
	}
	return values
}

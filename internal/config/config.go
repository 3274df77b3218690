package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port   int
	Env    string
	APIUrl string

	// Database
	DatabaseURL string

	// Redis - backs the asynq queue
	RedisURL      string
	RedisPassword string

	// JWT
	JWTSecret    string
	JWTExpiresIn string

	// Worker
	WorkerEnabled bool

	// Matcher tuning (§4.5, §9 design notes)
	MatchMinScore int
	FastFilters   bool
	TopKRecheck   int

	// MaxUploadBytes is read from MAX_UPLOAD_BYTES; the upload handler does
	// not check it, so uploads are not size-limited by it.
	MaxUploadBytes int64
}

var Cfg *Config

func Load() (*Config, error) {
	godotenv.Load("../../.env")

	port, _ := strconv.Atoi(getEnv("PORT", "3001"))
	workerEnabled, _ := strconv.ParseBool(getEnv("WORKER_ENABLED", "false"))
	matchMinScore, _ := strconv.Atoi(getEnv("MATCH_MIN_SCORE", "0"))
	fastFilters, _ := strconv.ParseBool(getEnv("FAST_FILTERS", "true"))
	topK, _ := strconv.Atoi(getEnv("TOPK_RECHECK", "1"))
	maxUploadBytes, _ := strconv.ParseInt(getEnv("MAX_UPLOAD_BYTES", "52428800"), 10, 64)

	Cfg = &Config{
		Port:   port,
		Env:    getEnv("NODE_ENV", "development"),
		APIUrl: getEnv("API_URL", "http://localhost:3001"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisURL:      normalizeRedisURL(getEnv("REDIS_URL", "redis://localhost:6379")),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTExpiresIn: getEnv("JWT_EXPIRES_IN", "7d"),

		WorkerEnabled: workerEnabled,

		MatchMinScore: matchMinScore,
		FastFilters:   fastFilters,
		TopKRecheck:   topK,

		MaxUploadBytes: maxUploadBytes,
	}

	return Cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// normalizeRedisURL ensures the URL has the redis:// prefix for redis.ParseURL.
// Supports formats: redis://host:port, redis://:pass@host:port, host:port.
func normalizeRedisURL(url string) string {
	if len(url) >= 8 && (url[:8] == "redis://" || (len(url) >= 9 && url[:9] == "rediss://")) {
		return url
	}
	return "redis://" + url
}

package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	BaseURL            string // Backend base URL
	FrontendURL        string // Frontend base URL (for QR codes and short URLs)
	RedisURL           string
	JWTSecret          string  // Secret key for JWT token signing
	JWTTTL             int     // JWT token expiration time in hours
	CacheTTL           int     // Cache TTL for links without an expiry, in seconds
	CreateRateLimit    int     // Max link creations per principal per window
	CreateRateWindow   int     // Fixed window length for link creation, in seconds
	CleanupInterval    int     // Expired-link sweep period in seconds
	RateLimitRPS       float64 // Rate limit for general API endpoints (requests per second)
	RateLimitBurst     int     // Burst size for rate limiting
	RateLimitAuthRPS   float64 // Rate limit for auth endpoints (stricter)
	RateLimitAuthBurst int     // Burst size for auth endpoints
}

func Load() *Config {
	// Try to load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or defaults")
	}

	return &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:3000"),
		RedisURL:           getEnv("REDIS_URL", ""),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTTTL:             getEnvInt("JWT_TTL_HOURS", 168), // 7 days
		CacheTTL:           getEnvInt("CACHE_TTL_SECONDS", 3600),
		CreateRateLimit:    getEnvInt("CREATE_RATE_LIMIT", 10),
		CreateRateWindow:   getEnvInt("CREATE_RATE_WINDOW_SECONDS", 60),
		CleanupInterval:    getEnvInt("CLEANUP_INTERVAL_SECONDS", 60),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 20),
		RateLimitAuthRPS:   getEnvFloat("RATE_LIMIT_AUTH_RPS", 5),
		RateLimitAuthBurst: getEnvInt("RATE_LIMIT_AUTH_BURST", 10),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

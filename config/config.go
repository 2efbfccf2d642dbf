package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	ServerAddr string
	JWTSecret  string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Listening history provider (audioscrobbler-style API).
	LastfmAPIURL     string
	LastfmAPIKey     string
	LastfmTimeout    time.Duration
	LastfmRateLimit  float64 // requests per second
	LastfmRateBurst  int
	LastfmBreakerMax uint32 // consecutive failures before the breaker opens

	// Chart generation pipeline tuning.
	GenerationLockTimeout time.Duration // stale lock recovery window
	InterWeekDelay        time.Duration // pause between week fetches
	DefaultWeeks          int           // planned weeks when nothing is specified
	MaxWeeks              int           // hard cap for elevated overrides
	RecordsRetryCoolDown  time.Duration // wait before a failed records run may be retried
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as a duration or returns a default value.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		JWTSecret:  getEnv("JWT_SECRET", "groupfm-dev-secret"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for the password
		DBName:     getEnv("DB_NAME", "groupfm"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LastfmAPIURL:     getEnv("LASTFM_API_URL", "https://ws.audioscrobbler.com/2.0"),
		LastfmAPIKey:     os.Getenv("LASTFM_API_KEY"),
		LastfmTimeout:    getEnvDuration("LASTFM_TIMEOUT", 10*time.Second),
		LastfmRateLimit:  getEnvFloat("LASTFM_RATE_LIMIT", 4),
		LastfmRateBurst:  getEnvInt("LASTFM_RATE_BURST", 1),
		LastfmBreakerMax: uint32(getEnvInt("LASTFM_BREAKER_FAILURES", 10)),

		GenerationLockTimeout: getEnvDuration("GENERATION_LOCK_TIMEOUT", 30*time.Minute),
		InterWeekDelay:        getEnvDuration("INTER_WEEK_DELAY", 2*time.Second),
		DefaultWeeks:          getEnvInt("DEFAULT_WEEKS", 10),
		MaxWeeks:              getEnvInt("MAX_WEEKS", 52),
		RecordsRetryCoolDown:  getEnvDuration("RECORDS_RETRY_COOLDOWN", time.Hour),
	}
}

// RedisAddr returns the host:port address of the Redis server.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

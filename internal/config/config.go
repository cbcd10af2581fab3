// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Server holds the server settings read from the environment.
type Server struct {
	Addr     string
	LogLevel logrus.Level

	// DatabaseURL selects the Postgres store; empty runs on the in-memory store.
	DatabaseURL string

	// RedisAddr enables the event log queue; empty disables it.
	RedisAddr  string
	RedisDB    int
	EventQueue string

	PingInterval time.Duration
	TickInterval time.Duration

	JWTPublicKeyPath  string
	JWTPrivateKeyPath string

	// SeedDemoQuiz writes the bundled demo quiz into the store at startup.
	SeedDemoQuiz bool
}

// Load reads the server configuration:
//   - PORT (default 8080)
//   - LOG_LEVEL (default info)
//   - DATABASE_URL
//   - REDIS_ADDR, REDIS_DB, EVENT_QUEUE_NAME (default "quiz_events")
//   - WS_PING_INTERVAL (default 30s), QUESTION_TICK (default 1s)
//   - JWT_PUBLIC_KEY_PATH, JWT_PRIVATE_KEY_PATH (empty => ephemeral keys)
//   - SEED_DEMO_QUIZ (default true without DATABASE_URL, false with it)
func Load() Server {
	databaseURL := os.Getenv("DATABASE_URL")
	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	return Server{
		Addr:              ":" + getEnv("PORT", "8080"),
		LogLevel:          level,
		DatabaseURL:       databaseURL,
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		EventQueue:        getEnv("EVENT_QUEUE_NAME", "quiz_events"),
		PingInterval:      getEnvDuration("WS_PING_INTERVAL", 30*time.Second),
		TickInterval:      getEnvDuration("QUESTION_TICK", time.Second),
		JWTPublicKeyPath:  os.Getenv("JWT_PUBLIC_KEY_PATH"),
		JWTPrivateKeyPath: os.Getenv("JWT_PRIVATE_KEY_PATH"),
		SeedDemoQuiz:      getEnvBool("SEED_DEMO_QUIZ", databaseURL == ""),
	}
}

// Historian holds the event log consumer settings.
type Historian struct {
	LogLevel      logrus.Level
	DatabaseURL   string
	RedisAddr     string
	RedisDB       int
	EventQueue    string
	BatchSize     int
	FlushInterval time.Duration
}

// LoadHistorian reads the historian configuration:
//   - DATABASE_URL (required by the caller)
//   - REDIS_ADDR (default "localhost:6379"), REDIS_DB, EVENT_QUEUE_NAME
//   - HISTORIAN_BATCH_SIZE (default 20), HISTORIAN_FLUSH_INTERVAL (default 500ms)
func LoadHistorian() Historian {
	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	batch := getEnvInt("HISTORIAN_BATCH_SIZE", 20)
	if batch <= 0 {
		batch = 20
	}
	return Historian{
		LogLevel:      level,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		EventQueue:    getEnv("EVENT_QUEUE_NAME", "quiz_events"),
		BatchSize:     batch,
		FlushInterval: getEnvDuration("HISTORIAN_FLUSH_INTERVAL", 500*time.Millisecond),
	}
}

// getEnv reads an environment variable or returns a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt parses an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// Config holds the process-level configuration loaded from the environment.
// Operational tunables that can change at runtime (offline thresholds,
// benchmark ages, cache TTLs) live in the system_settings table instead.
type Config struct {
	// HTTP
	ListenAddr string

	// TLS. When both paths are set the server listens over HTTPS with
	// the provided certificate; otherwise it serves plain HTTP.
	TLSCertFile string
	TLSKeyFile  string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis cache backend. Empty address selects the in-memory cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AMQP job runner. Empty URL selects the local goroutine runner.
	AMQPUrl   string
	AMQPQueue string

	// Background sweep cadence
	OfflineSweepInterval    time.Duration
	BenchmarkSweepInterval  time.Duration
	RetentionSweepInterval  time.Duration
	PreemptionSweepInterval time.Duration
	EtaWarmupInterval       time.Duration
}

// Load reads the configuration from environment variables, applying defaults
// for anything unset. godotenv is expected to have populated the environment
// before this is called.
func Load() *Config {
	cfg := &Config{
		ListenAddr: getEnv("HV_LISTEN_ADDR", ":8080"),

		TLSCertFile: getEnv("HV_TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("HV_TLS_KEY_FILE", ""),

		DBHost:     getEnv("HV_DB_HOST", "localhost"),
		DBPort:     getEnv("HV_DB_PORT", "5432"),
		DBUser:     getEnv("HV_DB_USER", "hashhive"),
		DBPassword: getEnv("HV_DB_PASSWORD", ""),
		DBName:     getEnv("HV_DB_NAME", "hashhive"),
		DBSSLMode:  getEnv("HV_DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("HV_REDIS_ADDR", ""),
		RedisPassword: getEnv("HV_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("HV_REDIS_DB", 0),

		AMQPUrl:   getEnv("HV_AMQP_URL", ""),
		AMQPQueue: getEnv("HV_AMQP_QUEUE", "hashhive_jobs"),

		OfflineSweepInterval:    getEnvDuration("HV_OFFLINE_SWEEP_INTERVAL", time.Minute),
		BenchmarkSweepInterval:  getEnvDuration("HV_BENCHMARK_SWEEP_INTERVAL", time.Hour),
		RetentionSweepInterval:  getEnvDuration("HV_RETENTION_SWEEP_INTERVAL", 24*time.Hour),
		PreemptionSweepInterval: getEnvDuration("HV_PREEMPTION_SWEEP_INTERVAL", 30*time.Second),
		EtaWarmupInterval:       getEnvDuration("HV_ETA_WARMUP_INTERVAL", 5*time.Minute),
	}

	debug.Info("Configuration loaded - listen: %s, db: %s@%s:%s/%s", cfg.ListenAddr, cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	return cfg
}

// DSN builds the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		debug.Warning("Invalid %s value: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvDuration gets a duration from an environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		debug.Warning("Invalid %s value: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return duration
}

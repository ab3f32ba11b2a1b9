package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Quality engine
	Engine    EngineConfig
	Rules     RulesConfig
	Storage   StorageConfig
	Events    EventsConfig
	Scheduler SchedulerConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool // /metrics on the HTTP port
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	URL      string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Enabled reports whether a database is configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// EngineConfig tunes the batch rule executor
type EngineConfig struct {
	Workers              int
	ChunkSize            int
	Timeout              time.Duration
	EvaluateStructural   bool   // 구조 오류 레코드도 안전한 룰은 평가
	Weights              string // "completeness=0.25,accuracy=0.25,..." (empty = defaults)
	MaxDetailedExposures int
}

// RulesConfig selects where business rules come from
type RulesConfig struct {
	Source       string // default, yaml, database
	File         string
	CacheEnabled bool
	CacheTTL     time.Duration
}

// StorageConfig configures cold storage of per-exposure details
type StorageConfig struct {
	Type     string // local
	BasePath string
}

// EventsConfig configures the outbound event transport
type EventsConfig struct {
	Transport      string // log, redis, kafka, webhook
	Stream         string
	KafkaBrokers   []string
	KafkaTopic     string
	WebhookURL     string
	WebhookTimeout time.Duration
	RatePerSec     float64
	Burst          int
}

// SchedulerConfig holds cron specs for background jobs
type SchedulerConfig struct {
	Enabled            bool
	CatalogRefreshSpec string
	StaleSweepSpec     string
	StaleAfter         time.Duration
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		// Database (optional: engine runs without persistence)
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			Name:            getEnv("DB_NAME", "regtech_dq"),
			User:            getEnv("DB_USER", "regtech_dq"),
			Password:        getEnv("DB_PASSWORD", ""),
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Engine: EngineConfig{
			Workers:              getEnvAsInt("ENGINE_WORKERS", 4),
			ChunkSize:            getEnvAsInt("ENGINE_CHUNK_SIZE", 512),
			Timeout:              getEnvAsDuration("ENGINE_TIMEOUT", "5m"),
			EvaluateStructural:   getEnvAsBool("ENGINE_EVALUATE_STRUCTURAL", false),
			Weights:              getEnv("ENGINE_WEIGHTS", ""),
			MaxDetailedExposures: getEnvAsInt("ENGINE_MAX_DETAILED_EXPOSURES", 10000),
		},

		Rules: RulesConfig{
			Source:       getEnv("RULES_SOURCE", "default"),
			File:         getEnv("RULES_FILE", "config/rules.yaml"),
			CacheEnabled: getEnvAsBool("RULES_CACHE_ENABLED", true),
			CacheTTL:     getEnvAsDuration("RULES_CACHE_TTL", "300s"),
		},

		Storage: StorageConfig{
			Type:     getEnv("STORAGE_TYPE", "local"),
			BasePath: getEnv("STORAGE_BASE_PATH", "./data/quality"),
		},

		Events: EventsConfig{
			Transport:      getEnv("EVENTS_TRANSPORT", "log"),
			Stream:         getEnv("EVENTS_STREAM", "dq:events"),
			KafkaBrokers:   getEnvAsList("KAFKA_BROKERS", "localhost:9092"),
			KafkaTopic:     getEnv("KAFKA_TOPIC", "data-quality.events"),
			WebhookURL:     getEnv("EVENTS_WEBHOOK_URL", ""),
			WebhookTimeout: getEnvAsDuration("EVENTS_WEBHOOK_TIMEOUT", "10s"),
			RatePerSec:     getEnvAsFloat("EVENTS_RATE_PER_SEC", 50),
			Burst:          getEnvAsInt("EVENTS_BURST", 10),
		},

		Scheduler: SchedulerConfig{
			Enabled:            getEnvAsBool("SCHEDULER_ENABLED", true),
			CatalogRefreshSpec: getEnv("SCHEDULER_CATALOG_REFRESH", "0 */5 * * * *"),
			StaleSweepSpec:     getEnv("SCHEDULER_STALE_SWEEP", "0 0 * * * *"),
			StaleAfter:         getEnvAsDuration("SCHEDULER_STALE_AFTER", "2h"),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if configuration values are usable
func (c *Config) validate() error {
	// Validate environment
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Engine.Workers < 1 {
		return fmt.Errorf("ENGINE_WORKERS must be >= 1")
	}
	if c.Engine.ChunkSize < 1 {
		return fmt.Errorf("ENGINE_CHUNK_SIZE must be >= 1")
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("ENGINE_TIMEOUT must be positive")
	}
	if c.Engine.MaxDetailedExposures < 0 {
		return fmt.Errorf("ENGINE_MAX_DETAILED_EXPOSURES must be >= 0")
	}

	switch c.Rules.Source {
	case "default", "yaml":
	case "database":
		if !c.Database.Enabled() {
			return fmt.Errorf("RULES_SOURCE=database requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("RULES_SOURCE must be one of: default, yaml, database")
	}
	if c.Rules.Source == "yaml" && c.Rules.File == "" {
		return fmt.Errorf("RULES_FILE is required when RULES_SOURCE=yaml")
	}

	if c.Storage.Type != "local" {
		return fmt.Errorf("STORAGE_TYPE must be: local")
	}

	switch c.Events.Transport {
	case "log":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("EVENTS_TRANSPORT=redis requires REDIS_ENABLED=true")
		}
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENTS_TRANSPORT=kafka")
		}
	case "webhook":
		if c.Events.WebhookURL == "" {
			return fmt.Errorf("EVENTS_WEBHOOK_URL is required when EVENTS_TRANSPORT=webhook")
		}
	default:
		return fmt.Errorf("EVENTS_TRANSPORT must be one of: log, redis, kafka, webhook")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	// Try paths in order of priority
	paths := []string{
		".env", // Current directory
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

func getEnvAsList(key string, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

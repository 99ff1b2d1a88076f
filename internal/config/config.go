package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName    string
	AppVersion string
	Port       string

	Environment   string
	LogLevel      string
	AdminAPIToken string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	KafkaBrokers           []string
	KafkaMainTopic         string
	KafkaDLQTopic          string
	KafkaDLQMonitorEnabled bool
	KafkaDLQMonitorGroup   string

	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	OutboxMaxRetries     int
	OutboxPublishTimeout time.Duration

	ReaperInterval  time.Duration
	ReaperBatchSize int
	ReservationTTL  time.Duration

	PublishRateLimit                  float64
	PublishRateBurst                  int
	PublishCircuitBreakerEnabled      bool
	PublishCircuitBreakerMaxRequests  uint32
	PublishCircuitBreakerInterval     time.Duration
	PublishCircuitBreakerTimeout      time.Duration
	PublishCircuitBreakerFailureRatio float64
	PublishCircuitBreakerMinRequests  uint32

	// LeaseRedisAddr enables the shared worker lease when set.
	LeaseRedisAddr     string
	LeaseRedisPassword string
	LeaseRedisDB       int
	LeaseTTL           time.Duration

	SnowflakeNodeID int64
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "stockflow"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Port:          getenv("PORT", "8080"),
		Environment:   getenv("ENVIRONMENT", "development"),
		LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		AdminAPIToken: strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),
		OTLPEndpoint:  strings.TrimSpace(getenv("OTLP_ENDPOINT", "")),

		DBType:            getenv("DB_TYPE", "postgres"),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "inventory"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 100),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 60),

		KafkaBrokers:           parseList(getenv("KAFKA_BROKERS", "localhost:9092")),
		KafkaMainTopic:         getenv("KAFKA_MAIN_TOPIC", "inventory-events"),
		KafkaDLQTopic:          getenv("KAFKA_DLQ_TOPIC", "inventory-events-dlq"),
		KafkaDLQMonitorEnabled: getenvBool("KAFKA_DLQ_MONITOR_ENABLED", false),
		KafkaDLQMonitorGroup:   getenv("KAFKA_DLQ_MONITOR_GROUP", "stockflow-dlq-monitor"),

		OutboxPollInterval:   getenvDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
		OutboxBatchSize:      getenvInt("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxRetries:     getenvInt("OUTBOX_MAX_RETRIES", 3),
		OutboxPublishTimeout: getenvDuration("OUTBOX_PUBLISH_TIMEOUT", 10*time.Second),

		ReaperInterval:  getenvDuration("REAPER_INTERVAL", 5*time.Minute),
		ReaperBatchSize: getenvInt("REAPER_BATCH_SIZE", 500),
		ReservationTTL:  getenvDuration("RESERVATION_TTL", 15*time.Minute),

		PublishRateLimit:                  getenvFloat("PUBLISH_RATE_LIMIT", 200),
		PublishRateBurst:                  getenvInt("PUBLISH_RATE_BURST", 50),
		PublishCircuitBreakerEnabled:      getenvBool("PUBLISH_CIRCUIT_BREAKER_ENABLED", true),
		PublishCircuitBreakerMaxRequests:  uint32(getenvInt("PUBLISH_CIRCUIT_BREAKER_MAX_REQUESTS", 3)),
		PublishCircuitBreakerInterval:     getenvDuration("PUBLISH_CIRCUIT_BREAKER_INTERVAL", 60*time.Second),
		PublishCircuitBreakerTimeout:      getenvDuration("PUBLISH_CIRCUIT_BREAKER_TIMEOUT", 30*time.Second),
		PublishCircuitBreakerFailureRatio: getenvFloat("PUBLISH_CIRCUIT_BREAKER_FAILURE_RATIO", 0.6),
		PublishCircuitBreakerMinRequests:  uint32(getenvInt("PUBLISH_CIRCUIT_BREAKER_MIN_REQUESTS", 5)),

		LeaseRedisAddr:     strings.TrimSpace(getenv("LEASE_REDIS_ADDR", "")),
		LeaseRedisPassword: strings.TrimSpace(getenv("LEASE_REDIS_PASSWORD", "")),
		LeaseRedisDB:       getenvInt("LEASE_REDIS_DB", 0),
		LeaseTTL:           getenvDuration("LEASE_TTL", 30*time.Second),

		SnowflakeNodeID: getenvInt64("SNOWFLAKE_NODE_ID", 1),
	}

	return &cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("5s") or plain milliseconds ("500000").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		if ms <= 0 {
			return def
		}
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

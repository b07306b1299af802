package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting the gateway consumes. Values come from
// the environment, optionally seeded from a .env file in development.
type Config struct {
	Environment string

	Server     ServerConfig
	CORS       CORSConfig
	Challenge  ChallengeConfig
	RateLimit  RateLimitConfig
	Session    SessionConfig
	Backend    BackendConfig
	Redis      RedisConfig
	Postgres   PostgresConfig
	Kafka      KafkaConfig
	ClickHouse ClickHouseConfig
	Feedback   FeedbackConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64

	EnableTLS   bool
	TLSPort     int
	AutoCert    bool
	Domain      string
	CertFile    string
	KeyFile     string
	AutoCertDir string
	Email       string
}

type CORSConfig struct {
	// AllowedOrigins is an explicit allow-list. The first entry doubles as the
	// fallback value echoed for origins that are not on the list.
	AllowedOrigins []string
}

type ChallengeConfig struct {
	// Secret enables challenge verification when non-empty. An empty secret
	// disables the gate entirely (fail-open by explicit configuration).
	Secret    string
	VerifyURL string
	Timeout   time.Duration
	// RequiredForFeedback gates the feedback route behind the challenge in
	// addition to the recommend route.
	RequiredForFeedback bool
}

type RateLimitConfig struct {
	// Enabled makes the fail-open choice explicit: when false, or when the
	// counter store is unreachable, all traffic is allowed.
	Enabled        bool
	Window         time.Duration
	RecommendLimit int
	FeedbackLimit  int
}

type SessionConfig struct {
	// Salt is mixed into the client-address digest. Rotating it resets
	// feedback deduplication for all clients.
	Salt string
}

type BackendConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type PostgresConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers       []string
	FeedbackTopic string
}

type ClickHouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type FeedbackConfig struct {
	// RetentionDays prunes feedback rows older than the cutoff. Zero keeps
	// rows forever.
	RetentionDays int
	StatsPageSize int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads the environment into a Config. A missing .env file is not
// an error; containers inject the environment directly.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			MaxBodyBytes: int64(getEnvInt("SERVER_MAX_BODY_BYTES", 1<<20)),
			EnableTLS:    getEnvBool("ENABLE_TLS", false),
			TLSPort:      getEnvInt("TLS_PORT", 8443),
			AutoCert:     getEnvBool("AUTO_CERT", false),
			Domain:       getEnv("DOMAIN", ""),
			CertFile:     getEnv("TLS_CERT_FILE", ""),
			KeyFile:      getEnv("TLS_KEY_FILE", ""),
			AutoCertDir:  getEnv("AUTO_CERT_DIR", "./certs"),
			Email:        getEnv("AUTO_CERT_EMAIL", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{
				"https://example.dev",
				"https://www.example.dev",
			}),
		},
		Challenge: ChallengeConfig{
			Secret:              getEnv("CHALLENGE_SECRET", ""),
			VerifyURL:           getEnv("CHALLENGE_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
			Timeout:             getEnvDuration("CHALLENGE_TIMEOUT", 5*time.Second),
			RequiredForFeedback: getEnvBool("CHALLENGE_REQUIRED_FOR_FEEDBACK", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			Window:         getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			RecommendLimit: getEnvInt("RATE_LIMIT_RECOMMEND", 10),
			FeedbackLimit:  getEnvInt("RATE_LIMIT_FEEDBACK", 30),
		},
		Session: SessionConfig{
			Salt: getEnv("SESSION_SALT", "grant-gateway-v1"),
		},
		Backend: BackendConfig{
			BaseURL: getEnv("BACKEND_BASE_URL", ""),
			APIKey:  getEnv("BACKEND_API_KEY", ""),
			Timeout: getEnvDuration("BACKEND_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Postgres: PostgresConfig{
			URL: getEnv("DATABASE_URL", "postgres://localhost:5432/grant_gateway"),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvList("KAFKA_BROKERS", nil),
			FeedbackTopic: getEnv("KAFKA_FEEDBACK_TOPIC", "gateway.feedback"),
		},
		ClickHouse: ClickHouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", ""),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "gateway"),
		},
		Feedback: FeedbackConfig{
			RetentionDays: getEnvInt("FEEDBACK_RETENTION_DAYS", 0),
			StatsPageSize: getEnvInt("FEEDBACK_STATS_PAGE_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if len(c.CORS.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin is required")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if c.IsProduction() && c.Backend.APIKey == "" {
		return fmt.Errorf("BACKEND_API_KEY is required in production")
	}
	if c.Server.EnableTLS && c.Server.AutoCert && c.Server.Domain == "" {
		return fmt.Errorf("DOMAIN is required when AUTO_CERT is enabled")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

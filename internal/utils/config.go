package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerPort string
	JWTSecret  string
	Store      StoreConfig
	Postgres   PostgresConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	LLM        LLMConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// StoreConfig selects where conversations live.
type StoreConfig struct {
	Driver     string
	SQLitePath string
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// MongoConfig points at the assessment archive. Archiving is skipped when disabled.
type MongoConfig struct {
	Enabled        bool
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// RedisConfig enables cross-instance conversation locks. An empty Addr keeps locks in process.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	LockTTL        time.Duration
	ConnectTimeout time.Duration
}

type LLMConfig struct {
	Provider         string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicModel   string
	Temperature      float32
	MaxTokens        int
	Timeout          time.Duration
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

func LoadConfig() (*Config, error) {
	port := envOrDefault("PORT", "8080")
	jwtSecret := envOrDefault("JWT_SECRET", "dev-secret")

	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5433"))
	maxConns := parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8)
	minConns := parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1)

	logging := LoggingConfig{
		Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
		Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
		EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
		ServiceName:  envOrDefault("SERVICE_NAME", "mortgage-advisor"),
	}

	driver := strings.ToLower(envOrDefault("STORE_DRIVER", StoreSQLite))
	switch driver {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", driver)
	}

	redisDB, _ := strconv.Atoi(envOrDefault("REDIS_DB", "0"))

	cfg := &Config{
		ServerPort: port,
		JWTSecret:  jwtSecret,
		Store: StoreConfig{
			Driver:     driver,
			SQLitePath: envOrDefault("SQLITE_PATH", "mortgage_advisor.db"),
		},
		Postgres: PostgresConfig{
			DSN:               os.Getenv("POSTGRES_DSN"),
			Host:              envOrDefault("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              envOrDefault("POSTGRES_USER", "postgres"),
			Password:          envOrDefault("POSTGRES_PASSWORD", "postgres"),
			Database:          envOrDefault("POSTGRES_DB", "postgres"),
			MaxConns:          maxConns,
			MinConns:          minConns,
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Mongo: MongoConfig{
			Enabled:        parseBool(envOrDefault("MONGO_ENABLED", "false"), false),
			URI:            envOrDefault("MONGO_URI", "mongodb://localhost:27017"),
			Database:       envOrDefault("MONGO_DATABASE", "mortgage_advisor"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:           os.Getenv("REDIS_ADDR"),
			Password:       os.Getenv("REDIS_PASSWORD"),
			DB:             redisDB,
			LockTTL:        parseDuration(envOrDefault("LOCK_TTL", "30s"), 30*time.Second),
			ConnectTimeout: parseDuration(envOrDefault("REDIS_CONNECT_TIMEOUT", "2s"), 2*time.Second),
		},
		LLM: LLMConfig{
			Provider:         strings.ToLower(envOrDefault("LLM_PROVIDER", "openai")),
			OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
			OpenAIModel:      envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
			AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			AnthropicBaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			AnthropicModel:   envOrDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
			Temperature:      parseFloat32(envOrDefault("OPENAI_TEMPERATURE", "0.1"), 0.1),
			MaxTokens:        int(parseInt32(envOrDefault("LLM_MAX_TOKENS", "256"), 256)),
			Timeout:          parseDuration(envOrDefault("LLM_TIMEOUT", "30s"), 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:           parseBool(envOrDefault("RATE_LIMIT_ENABLED", "true"), true),
			RequestsPerMinute: int(parseInt32(envOrDefault("RATE_LIMIT_PER_MINUTE", "60"), 60)),
		},
		Logging: logging,
	}

	return cfg, nil
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseFloat32(value string, fallback float32) float32 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Relay    RelayConfig
	Otel     OtelConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	ClientURL          string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JWTSecret          string
}

type DatabaseConfig struct {
	Connection string
}

type OtelConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

type RelayConfig struct {
	// Backoff tuning defaults; a persisted override wins at startup.
	RetryBaseDelayMS int
	RetryMaxDelayMS  int
	MaxRetries       int

	// Topic names on the in-process transport bus.
	RunEventTopic   string
	TokenDeltaTopic string
	FailureTopic    string

	// Agent backend that executes runs and answers via the callback surface.
	AgentBaseURL string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:3000"),
			ClientURL:          getEnv("CLIENT_URL", "http://localhost:5173"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			JWTSecret:          getEnv("JWT_SECRET", ""),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Relay: RelayConfig{
			RetryBaseDelayMS: getEnvAsInt("RELAY_RETRY_BASE_DELAY_MS", 1000),
			RetryMaxDelayMS:  getEnvAsInt("RELAY_RETRY_MAX_DELAY_MS", 30000),
			MaxRetries:       getEnvAsInt("RELAY_MAX_RETRIES", 3),
			RunEventTopic:    getEnv("RELAY_RUN_EVENT_TOPIC", "RELAY_RUN_EVENT"),
			TokenDeltaTopic:  getEnv("RELAY_TOKEN_DELTA_TOPIC", "RELAY_TOKEN_DELTA"),
			FailureTopic:     getEnv("RELAY_FAILURE_TOPIC", "RELAY_RUN_FAILURE"),
			AgentBaseURL:     getEnv("AGENT_BASE_URL", "http://localhost:8080"),
		},
		Otel: OtelConfig{
			Enabled:     getEnv("OTEL_ENABLED", "false") == "true",
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "agent-console-be"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

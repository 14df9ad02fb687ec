package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and its backends.
type Config struct {
	Environment       string
	MySQLDSN          string
	ListenAddr        string
	LogLevel          slog.Level
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
	MaxConcurrentJobs int

	AdminUsername string
	AdminPassword string

	JWTIssuer        string
	JWTSecret        string
	JWTPublicKeyPath string

	RunnerBaseURL       string
	RunnerEndpointID    string
	RunnerAPIKey        string
	RunnerWebhookSecret string
	RunnerCallbackURL   string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UsePathStyle bool
	ArtifactURLTTL time.Duration

	RedisURL       string
	IdempotencyTTL time.Duration

	TelegramBotToken string
	TelegramChatID   int64
}

// Load reads configuration from an optional .env file and environment
// variables, applying defaults. All missing required variables are reported
// in one error.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultRunnerBaseURL = "https://api.runpod.ai/v2"

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		MySQLDSN:          os.Getenv("MYSQL_DSN"),
		ListenAddr:        getEnv("HTTP_LISTEN_ADDR", ":8080"),
		LogLevel:          parseLevel(getEnv("LOG_LEVEL", "info")),
		RequestTimeout:    time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 30)),
		ShutdownTimeout:   time.Second * time.Duration(getInt("SHUTDOWN_TIMEOUT_SECONDS", 10)),
		MaxConcurrentJobs: getInt("MAX_CONCURRENT_JOBS", 5),

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "change-me"),

		JWTIssuer:        os.Getenv("JWT_ISSUER"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTPublicKeyPath: os.Getenv("JWT_PUBLIC_KEY_PATH"),

		RunnerBaseURL:       normalizeBaseURL(getEnv("RUNNER_BASE_URL", defaultRunnerBaseURL), defaultRunnerBaseURL),
		RunnerEndpointID:    os.Getenv("RUNNER_ENDPOINT_ID"),
		RunnerAPIKey:        os.Getenv("RUNNER_API_KEY"),
		RunnerWebhookSecret: os.Getenv("RUNNER_WEBHOOK_SECRET"),
		RunnerCallbackURL:   os.Getenv("RUNNER_CALLBACK_URL"),

		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3Region:       getEnv("S3_REGION", "auto"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3UsePathStyle: getBool("S3_USE_PATH_STYLE", false),
		ArtifactURLTTL: time.Hour * time.Duration(getInt("ARTIFACT_URL_TTL_HOURS", 24)),

		RedisURL:       os.Getenv("REDIS_URL"),
		IdempotencyTTL: time.Hour * time.Duration(getInt("IDEMPOTENCY_TTL_HOURS", 48)),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   getInt64("TELEGRAM_CHAT_ID", 0),
	}

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.RunnerEndpointID == "" {
		missing = append(missing, "RUNNER_ENDPOINT_ID")
	}
	if cfg.RunnerAPIKey == "" {
		missing = append(missing, "RUNNER_API_KEY")
	}
	if cfg.JWTSecret == "" && cfg.JWTPublicKeyPath == "" {
		missing = append(missing, "JWT_SECRET or JWT_PUBLIC_KEY_PATH")
	}
	if cfg.S3Bucket != "" {
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID == 0 {
		missing = append(missing, "TELEGRAM_CHAT_ID")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// normalizeBaseURL adds a scheme when missing and drops a trailing slash.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	if parsed.Scheme == "" {
		parsed, err = url.Parse("https://" + raw)
		if err != nil {
			return fallback
		}
	}
	if parsed.Host == "" {
		return fallback
	}
	return strings.TrimSuffix(parsed.String(), "/")
}

func parseLevel(v string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile applies the first env file found. Running without one is fine;
// the process environment is then the only source.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}

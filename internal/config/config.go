package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	AIProvider   string
	OpenAIAPIKey string
	OpenAIModel  string
	XAIAPIKey    string
	XAIModel     string
	GeminiAPIKey string
	GeminiModel  string
	LLMRetries   int

	ClaimTTL          time.Duration
	SummarizeInterval time.Duration
	SummarizeLimit    int

	AllowedChats     []string
	TelegramBotToken string
	TelegramAPIID    int
	TelegramAPIHash  string
	TelegramSession  string
	TelegramPhone    string
	Telegram2FA      string

	NatsURL      string
	NatsToken    string
	APIJWTSecret string
	CORSOrigins  []string

	ArchiveBucket   string
	ArchivePrefix   string
	ArchiveEndpoint string
	AWSRegion       string
	AWSAccessKey    string
	AWSSecretKey    string

	SlackBotToken string
	SlackChannel  string
}

// LoadDotEnv reads a .env file into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load() Config {
	return Config{
		Port:     envInt("TOKENPULSE_PORT", 8760),
		LogLevel: envStr("LOG_LEVEL", "info"),

		StoreDriver: strings.ToLower(envStr("STORE_DRIVER", "postgres")),
		DatabaseURL: envStr("DATABASE_URL", ""),
		SQLitePath:  envStr("SQLITE_PATH", "tokenpulse.db"),

		AIProvider:   strings.ToLower(envStr("AI_PROVIDER", "openai")),
		OpenAIAPIKey: envStr("OPENAI_API_KEY", ""),
		OpenAIModel:  envStr("OPENAI_MODEL", "gpt-4o-mini"),
		XAIAPIKey:    envStr("XAI_API_KEY", ""),
		XAIModel:     envStr("XAI_MODEL", "grok-2"),
		GeminiAPIKey: envStr("GEMINI_API_KEY", ""),
		GeminiModel:  envStr("GEMINI_MODEL", "gemini-1.5-flash"),
		LLMRetries:   envInt("LLM_MAX_RETRIES", 2),

		ClaimTTL:          envDuration("CLAIM_TTL", 10*time.Minute),
		SummarizeInterval: envDuration("SUMMARIZE_INTERVAL", 0),
		SummarizeLimit:    envInt("SUMMARIZE_LIMIT", 80),

		AllowedChats:     envList("ALLOWED_CHAT_IDS"),
		TelegramBotToken: envStr("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIID:    envInt("TELEGRAM_API_ID", 0),
		TelegramAPIHash:  envStr("TELEGRAM_API_HASH", ""),
		TelegramSession:  envStr("TELEGRAM_SESSION", "tokenpulse.session"),
		TelegramPhone:    envStr("TELEGRAM_PHONE", ""),
		Telegram2FA:      envStr("TELEGRAM_2FA_PASSWORD", ""),

		NatsURL:      envStr("NATS_URL", ""),
		NatsToken:    envStr("NATS_TOKEN", ""),
		APIJWTSecret: envStr("API_JWT_SECRET", ""),
		CORSOrigins:  envListDefault("CORS_ORIGINS", []string{"*"}),

		ArchiveBucket:   envStr("ARCHIVE_BUCKET", ""),
		ArchivePrefix:   envStr("ARCHIVE_PREFIX", ""),
		ArchiveEndpoint: envStr("ARCHIVE_ENDPOINT", ""),
		AWSRegion:       envStr("AWS_REGION", "us-east-1"),
		AWSAccessKey:    envStr("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:    envStr("AWS_SECRET_ACCESS_KEY", ""),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_CHANNEL", ""),
	}
}

// ValidateStore checks the settings every store-backed command needs.
func (c Config) ValidateStore() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when STORE_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}

// ValidateProvider checks that the selected provider has a key.
func (c Config) ValidateProvider() error {
	switch c.AIProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required when AI_PROVIDER=openai")
		}
	case "xai":
		if c.XAIAPIKey == "" {
			return errors.New("XAI_API_KEY is required when AI_PROVIDER=xai")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required when AI_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AIProvider)
	}
	return nil
}

func (c Config) ValidateBot() error {
	if c.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

func (c Config) ValidateSession() error {
	if c.TelegramAPIID == 0 || c.TelegramAPIHash == "" {
		return errors.New("TELEGRAM_API_ID and TELEGRAM_API_HASH are required")
	}
	if c.TelegramSession == "" {
		return errors.New("TELEGRAM_SESSION is required")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma separated value, dropping blanks.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envListDefault(key string, fallback []string) []string {
	if l := envList(key); len(l) > 0 {
		return l
	}
	return fallback
}

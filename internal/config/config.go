package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the optional YAML file applied before environment variables.
const FileEnv = "ASSISTANT_CONFIG"

type Config struct {
	Port          string   `yaml:"port"`
	CORSOrigins   []string `yaml:"cors_origins"`
	SecureCookies bool     `yaml:"secure_cookies"`
	SessionTTL    int      `yaml:"session_ttl_hours"`

	DatabaseDriver string `yaml:"database_driver"`
	DatabaseURL    string `yaml:"database_url"`
	AutoMigrate    bool   `yaml:"auto_migrate"`
	RedisURL       string `yaml:"redis_url"`
	JobTTLHours    int    `yaml:"job_ttl_hours"`

	TemporalAddress   string `yaml:"temporal_address"`
	TemporalTaskQueue string `yaml:"temporal_task_queue"`
	FollowUpInterval  int    `yaml:"followup_interval_seconds"`
	FollowUpMaxChecks int    `yaml:"followup_max_checks"`

	LLMMode          string `yaml:"llm_mode"`
	LLMProvider      string `yaml:"llm_provider"`
	LLMModel         string `yaml:"llm_model"`
	LLMBaseURL       string `yaml:"llm_base_url"`
	GoogleAPIKey     string `yaml:"google_api_key"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenRouterAPIKey string `yaml:"openrouter_api_key"`
	PromptFile       string `yaml:"prompt_file"`

	SerperAPIKey     string `yaml:"serper_api_key"`
	SerperBaseURL    string `yaml:"serper_base_url"`
	ExaAPIKey        string `yaml:"exa_api_key"`
	ExaBaseURL       string `yaml:"exa_base_url"`
	SkyvernAPIKey    string `yaml:"skyvern_api_key"`
	SkyvernBaseURL   string `yaml:"skyvern_base_url"`
	FirecrawlAPIKey  string `yaml:"firecrawl_api_key"`
	FirecrawlBaseURL string `yaml:"firecrawl_base_url"`
	WeatherBaseURL   string `yaml:"weather_base_url"`
	ImagenBaseURL    string `yaml:"imagen_base_url"`
	ImagenModel      string `yaml:"imagen_model"`
	VendorTimeout    int    `yaml:"vendor_timeout_seconds"`

	BlobEndpoint  string `yaml:"blob_endpoint"`
	BlobAccessKey string `yaml:"blob_access_key"`
	BlobSecretKey string `yaml:"blob_secret_key"`
	BlobBucket    string `yaml:"blob_bucket"`
	BlobRegion    string `yaml:"blob_region"`
	BlobUseSSL    bool   `yaml:"blob_use_ssl"`
	BlobPublicURL string `yaml:"blob_public_url"`

	ChatMaxSteps   int      `yaml:"chat_max_steps"`
	DisabledTools  []string `yaml:"disabled_tools"`
	UploadMaxBytes int64    `yaml:"upload_max_bytes"`
}

func Defaults() Config {
	return Config{
		Port:              "8080",
		CORSOrigins:       []string{"*"},
		SessionTTL:        720,
		DatabaseDriver:    "sqlite",
		AutoMigrate:       true,
		JobTTLHours:       24,
		TemporalTaskQueue: "assistant-jobs",
		FollowUpInterval:  30,
		FollowUpMaxChecks: 20,
		LLMMode:           "remote",
		LLMProvider:       "gemini",
		VendorTimeout:     60,
		BlobBucket:        "assistant",
		BlobRegion:        "us-east-1",
		ChatMaxSteps:      3,
		UploadMaxBytes:    5 << 20,
	}
}

// Load reads configuration from defaults, then the ASSISTANT_CONFIG file when
// set, then environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv(FileEnv); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if cfg.DatabaseURL == "" {
		switch cfg.DatabaseDriver {
		case "postgres":
			cfg.DatabaseURL = buildPostgresURL()
		case "sqlite":
			cfg.DatabaseURL = "assistant.db"
		}
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.SecureCookies = getEnvBool("SECURE_COOKIES", cfg.SecureCookies)
	cfg.SessionTTL = getEnvInt("SESSION_TTL_HOURS", cfg.SessionTTL)

	cfg.DatabaseDriver = getEnv("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.AutoMigrate = getEnvBool("AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.JobTTLHours = getEnvInt("JOB_TTL_HOURS", cfg.JobTTLHours)

	cfg.TemporalAddress = getEnv("TEMPORAL_ADDRESS", cfg.TemporalAddress)
	cfg.TemporalTaskQueue = getEnv("TEMPORAL_TASK_QUEUE", cfg.TemporalTaskQueue)
	cfg.FollowUpInterval = getEnvInt("JOB_FOLLOWUP_INTERVAL_SECONDS", cfg.FollowUpInterval)
	cfg.FollowUpMaxChecks = getEnvInt("JOB_FOLLOWUP_MAX_CHECKS", cfg.FollowUpMaxChecks)

	cfg.LLMMode = getEnv("LLM_MODE", cfg.LLMMode)
	cfg.LLMProvider = getEnv("LLM_PROVIDER", cfg.LLMProvider)
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	cfg.LLMBaseURL = getEnv("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.GoogleAPIKey = getEnv("GOOGLE_GENERATIVE_AI_API_KEY", getEnv("GOOGLE_API_KEY", cfg.GoogleAPIKey))
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenRouterAPIKey = getEnv("OPENROUTER_API_KEY", cfg.OpenRouterAPIKey)
	cfg.PromptFile = getEnv("ASSISTANT_PROMPT_FILE", cfg.PromptFile)

	cfg.SerperAPIKey = getEnv("SERPER_API_KEY", cfg.SerperAPIKey)
	cfg.SerperBaseURL = getEnv("SERPER_BASE_URL", cfg.SerperBaseURL)
	cfg.ExaAPIKey = getEnv("EXA_API_KEY", cfg.ExaAPIKey)
	cfg.ExaBaseURL = getEnv("EXA_BASE_URL", cfg.ExaBaseURL)
	cfg.SkyvernAPIKey = getEnv("SKYVERN_API_KEY", cfg.SkyvernAPIKey)
	cfg.SkyvernBaseURL = getEnv("SKYVERN_BASE_URL", cfg.SkyvernBaseURL)
	cfg.FirecrawlAPIKey = getEnv("FIRECRAWL_API_KEY", cfg.FirecrawlAPIKey)
	cfg.FirecrawlBaseURL = getEnv("FIRECRAWL_BASE_URL", cfg.FirecrawlBaseURL)
	cfg.WeatherBaseURL = getEnv("WEATHER_BASE_URL", cfg.WeatherBaseURL)
	cfg.ImagenBaseURL = getEnv("IMAGEN_BASE_URL", cfg.ImagenBaseURL)
	cfg.ImagenModel = getEnv("IMAGEN_MODEL", cfg.ImagenModel)
	cfg.VendorTimeout = getEnvInt("VENDOR_TIMEOUT_SECONDS", cfg.VendorTimeout)

	cfg.BlobEndpoint = getEnv("MINIO_ENDPOINT", cfg.BlobEndpoint)
	cfg.BlobAccessKey = getEnv("MINIO_ACCESS_KEY", cfg.BlobAccessKey)
	cfg.BlobSecretKey = getEnv("MINIO_SECRET_KEY", cfg.BlobSecretKey)
	cfg.BlobBucket = getEnv("MINIO_BUCKET", cfg.BlobBucket)
	cfg.BlobRegion = getEnv("MINIO_REGION", cfg.BlobRegion)
	cfg.BlobUseSSL = getEnvBool("MINIO_USE_SSL", cfg.BlobUseSSL)
	cfg.BlobPublicURL = getEnv("MINIO_PUBLIC_URL", cfg.BlobPublicURL)

	cfg.ChatMaxSteps = getEnvInt("CHAT_MAX_STEPS", cfg.ChatMaxSteps)
	cfg.DisabledTools = getEnvList("DISABLED_TOOLS", cfg.DisabledTools)
	cfg.UploadMaxBytes = int64(getEnvInt("UPLOAD_MAX_BYTES", int(cfg.UploadMaxBytes)))
}

func (c Config) VendorTimeoutDuration() time.Duration {
	return time.Duration(c.VendorTimeout) * time.Second
}

func (c Config) SessionTTLDuration() time.Duration {
	return time.Duration(c.SessionTTL) * time.Hour
}

func (c Config) JobTTLDuration() time.Duration {
	return time.Duration(c.JobTTLHours) * time.Hour
}

func (c Config) FollowUpIntervalDuration() time.Duration {
	return time.Duration(c.FollowUpInterval) * time.Second
}

// LLMAPIKey picks the key that matches the configured provider.
func (c Config) LLMAPIKey() string {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIAPIKey
	case "openrouter":
		return c.OpenRouterAPIKey
	default:
		return c.GoogleAPIKey
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "assistant")
	password := getEnv("POSTGRES_PASSWORD", "assistant")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "assistant")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"jobmail/internal/classifier"
	"jobmail/internal/policy"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Supported values for AIProvider.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
	ProviderFake      = "fake"
)

// Providers lists every supported backend name.
func Providers() []string {
	return []string{ProviderOpenAI, ProviderAzure, ProviderAnthropic, ProviderOllama, ProviderGemini, ProviderFake}
}

// Config holds all configuration for the application
type Config struct {
	Port        string
	APIToken    string // bearer token for /api; empty leaves the API open
	DatabaseURL string // sqlite file path, mysql:// or postgres:// URL
	Version     string
	LogLevel    string
	LogFormat   string // json or console

	AIProvider   string
	AITimeout    int // per-call timeout in seconds
	BodyMaxChars int

	OpenAIKey       string
	OpenAIModel     string
	OpenAIBaseURL   string
	OpenAIMaxTokens int

	AzureOpenAIKey        string
	AzureOpenAIEndpoint   string
	AzureOpenAIDeployment string

	AnthropicKey       string
	AnthropicModel     string
	AnthropicBaseURL   string
	AnthropicMaxTokens int

	OllamaBaseURL   string
	OllamaModel     string
	OllamaMaxTokens int

	GeminiKey       string
	GeminiModel     string
	GeminiBaseURL   string
	GeminiMaxTokens int

	GmailCredentialsFile string
	GmailTokenFile       string
	GmailQuery           string

	ConfidenceThreshold float64
	BatchSize           int
	DryRun              bool

	LabelAcknowledged string
	LabelRejected     string
	LabelFollowUp     string
	LabelJobBoard     string

	SendGridAPIKey string // run summaries are mailed only when set
	NotifyEmail    string
	NotifyFrom     string
}

// Load initializes and returns application configuration
func Load() *Config {
	// .env holds settings, secrets.env holds keys; both are optional
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	_ = godotenv.Load("secrets.env")

	labels := policy.DefaultLabels()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		APIToken:    os.Getenv("API_TOKEN"),
		DatabaseURL: getEnv("DATABASE_URL", "jobmail.db"),
		Version:     getEnv("VERSION", "1.0.0"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		AIProvider:   strings.ToLower(getEnv("AI_PROVIDER", ProviderOpenAI)),
		AITimeout:    getEnvInt("AI_TIMEOUT", 60),
		BodyMaxChars: getEnvInt("BODY_MAX_CHARS", classifier.DefaultBodyChars),

		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		OpenAIMaxTokens: getEnvInt("OPENAI_MAX_TOKENS", 500),

		AzureOpenAIKey:        os.Getenv("AZURE_OPENAI_KEY"),
		AzureOpenAIEndpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
		AzureOpenAIDeployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),

		AnthropicKey:       os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:     getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		AnthropicBaseURL:   getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		AnthropicMaxTokens: getEnvInt("ANTHROPIC_MAX_TOKENS", 500),

		OllamaBaseURL:   getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:     getEnv("OLLAMA_MODEL", "llama3.2"),
		OllamaMaxTokens: getEnvInt("OLLAMA_MAX_TOKENS", 120),

		GeminiKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL:   getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		GeminiMaxTokens: getEnvInt("GEMINI_MAX_TOKENS", 500),

		GmailCredentialsFile: getEnv("GMAIL_CREDENTIALS_FILE", "credentials.json"),
		GmailTokenFile:       getEnv("GMAIL_TOKEN_FILE", "token.json"),
		GmailQuery:           getEnv("GMAIL_QUERY", "in:inbox"),

		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", policy.DefaultThreshold),
		BatchSize:           getEnvInt("BATCH_SIZE", 20),
		DryRun:              getEnvBool("DRY_RUN", false),

		LabelAcknowledged: getEnv("LABEL_ACKNOWLEDGED", labels.Acknowledged),
		LabelRejected:     getEnv("LABEL_REJECTED", labels.Rejected),
		LabelFollowUp:     getEnv("LABEL_FOLLOWUP", labels.FollowUp),
		LabelJobBoard:     getEnv("LABEL_JOBBOARD", labels.JobBoard),

		SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		NotifyEmail:    os.Getenv("NOTIFY_EMAIL"),
		NotifyFrom:     getEnv("NOTIFY_FROM", "jobmail@localhost"),
	}
}

// Validate checks the settings every run depends on. Missing backend
// credentials are reported here, before any mailbox work starts.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return classifier.NewConfigError("CONFIDENCE_THRESHOLD must be between 0 and 1, got %v", c.ConfidenceThreshold)
	}
	if c.BatchSize < 1 {
		return classifier.NewConfigError("BATCH_SIZE must be at least 1, got %d", c.BatchSize)
	}
	if c.AITimeout < 1 {
		return classifier.NewConfigError("AI_TIMEOUT must be at least 1 second, got %d", c.AITimeout)
	}

	switch c.AIProvider {
	case ProviderOpenAI:
		if c.OpenAIKey == "" {
			return classifier.NewConfigError("OPENAI_API_KEY is required for provider %q", c.AIProvider)
		}
	case ProviderAzure:
		if c.AzureOpenAIKey == "" || c.AzureOpenAIEndpoint == "" || c.AzureOpenAIDeployment == "" {
			return classifier.NewConfigError("AZURE_OPENAI_KEY, AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_DEPLOYMENT are required for provider %q", c.AIProvider)
		}
	case ProviderAnthropic:
		if c.AnthropicKey == "" {
			return classifier.NewConfigError("ANTHROPIC_API_KEY is required for provider %q", c.AIProvider)
		}
	case ProviderGemini:
		if c.GeminiKey == "" {
			return classifier.NewConfigError("GEMINI_API_KEY is required for provider %q", c.AIProvider)
		}
	case ProviderOllama:
		if c.OllamaBaseURL == "" {
			return classifier.NewConfigError("OLLAMA_BASE_URL is required for provider %q", c.AIProvider)
		}
	case ProviderFake:
	default:
		return classifier.NewConfigError("unknown AI_PROVIDER %q, supported: %s", c.AIProvider, strings.Join(Providers(), ", "))
	}
	return nil
}

// Timeout returns the per-call backend timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.AITimeout) * time.Second
}

// Labels returns the configured label names.
func (c *Config) Labels() policy.Labels {
	return policy.Labels{
		Acknowledged: c.LabelAcknowledged,
		Rejected:     c.LabelRejected,
		FollowUp:     c.LabelFollowUp,
		JobBoard:     c.LabelJobBoard,
	}
}

// NotificationsEnabled reports whether run summaries should be mailed.
func (c *Config) NotificationsEnabled() bool {
	return c.SendGridAPIKey != "" && c.NotifyEmail != ""
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as integer with a default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as float with a default fallback
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as boolean with a default fallback
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// SetupLogger configures zerolog with single-line JSON output, or a
// human-readable console writer when LOG_FORMAT=console.
func (c *Config) SetupLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var logger zerolog.Logger
	if strings.EqualFold(c.LogFormat, "console") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	logger = logger.With().
		Timestamp().
		Str("service", "jobmail").
		Str("version", c.Version).
		Logger()

	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

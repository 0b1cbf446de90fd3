// Package config loads the platform's configuration once at startup from
// environment variables and exposes it as an immutable value, mirroring the
// teacher's internal/config package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vitalishealth/bookingai/internal/apperrors"
)

// Config holds every environment-provided option enumerated in the spec.
type Config struct {
	Env           string
	Port          string
	PublicBaseURL string
	LogLevel      string

	WebhookVerifyToken  string
	ChatPlatformBearer  string
	ChatPlatformBaseURL string
	CallbackURI         string

	LLMAPIKey      string
	LLMModel       string
	LLMTemperature float64

	StorageCredentialsPath string

	CRMClientID     string
	CRMClientSecret string
	CRMAPIBaseURL   string

	APIKeyHeader string
	APIKeys      []string

	CORSAllowedOrigins []string

	EnableRateLimiting bool
	RateLimitPerMinute int

	ConversationTTLHours    int
	MaxConversationMessages int

	Timezone          string
	DefaultCountryCode string

	PaymentsSecretKey         string
	PaymentsWebhookSecret     string
	SubscriptionWebhookSecret string
	SuccessURL                string
	CancelURL                 string

	SubscriptionEnforcementEnabled bool
	SubscriptionGracePeriodDays    int

	EnableMessageDeduplication    bool
	MessageDeduplicationTTLHours int

	DatabaseURL string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	DynamoDedupTable           string
	DynamoReminderSentTable    string
	DynamoActiveReminderTable  string
	DynamoOAuthStateTable      string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	GeminiAPIKey  string
	GeminiModelID string
	LLMProvider   string

	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	AdminJWTSecret string

	S3ArchiveBucket string
	S3ArchiveKMSKey string
}

// Load reads configuration from environment variables, applying the same
// defaults convention as the teacher's config.Load.
func Load() *Config {
	return &Config{
		Env:           getEnv("ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		WebhookVerifyToken:  getEnv("WEBHOOK_VERIFY_TOKEN", ""),
		ChatPlatformBearer:  getEnv("CHAT_PLATFORM_BEARER", ""),
		ChatPlatformBaseURL: getEnv("CHAT_PLATFORM_BASE_URL", "https://graph.facebook.com/v18.0"),
		CallbackURI:         getEnv("CALLBACK_URI", ""),

		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", ""),
		LLMTemperature: getEnvAsFloat("LLM_TEMPERATURE", 0.3),

		StorageCredentialsPath: getEnv("STORAGE_CREDENTIALS_PATH", ""),

		CRMClientID:     getEnv("CRM_CLIENT_ID", ""),
		CRMClientSecret: getEnv("CRM_CLIENT_SECRET", ""),
		CRMAPIBaseURL:   getEnv("CRM_API_BASE_URL", "https://services.leadconnectorhq.com"),

		APIKeyHeader: getEnv("API_KEY_HEADER", "X-Api-Key"),
		APIKeys:      splitCSV(getEnv("API_KEYS", "")),

		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),

		EnableRateLimiting: getEnvAsBool("ENABLE_RATE_LIMITING", false),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60),

		ConversationTTLHours:    getEnvAsInt("CONVERSATION_TTL_HOURS", 24),
		MaxConversationMessages: getEnvAsInt("MAX_CONVERSATION_MESSAGES", 40),

		Timezone:           getEnv("TIMEZONE", "America/Mexico_City"),
		DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "52"),

		PaymentsSecretKey:         getEnv("PAYMENTS_SECRET_KEY", ""),
		PaymentsWebhookSecret:     getEnv("PAYMENTS_WEBHOOK_SECRET", ""),
		SubscriptionWebhookSecret: getEnv("SUBSCRIPTION_WEBHOOK_SECRET", ""),
		SuccessURL:                getEnv("SUCCESS_URL", ""),
		CancelURL:                 getEnv("CANCEL_URL", ""),

		SubscriptionEnforcementEnabled: getEnvAsBool("SUBSCRIPTION_ENFORCEMENT_ENABLED", false),
		SubscriptionGracePeriodDays:    getEnvAsInt("SUBSCRIPTION_GRACE_PERIOD_DAYS", 0),

		EnableMessageDeduplication:  getEnvAsBool("ENABLE_MESSAGE_DEDUPLICATION", true),
		MessageDeduplicationTTLHours: getEnvAsInt("MESSAGE_DEDUPLICATION_TTL_HOURS", 24),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		DynamoDedupTable:          getEnv("DYNAMO_DEDUP_TABLE", "processed_messages"),
		DynamoReminderSentTable:   getEnv("DYNAMO_REMINDER_SENT_TABLE", "appointment_reminders"),
		DynamoActiveReminderTable: getEnv("DYNAMO_ACTIVE_REMINDER_TABLE", "active_reminder_contexts"),
		DynamoOAuthStateTable:     getEnv("DYNAMO_OAUTH_STATE_TABLE", "oauth_states"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModelID: getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		LLMProvider:   strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Appointments"),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		S3ArchiveBucket: getEnv("S3_ARCHIVE_BUCKET", ""),
		S3ArchiveKMSKey: getEnv("S3_ARCHIVE_KMS_KEY", ""),
	}
}

// MustValidate returns a *apperrors.Error when a required secret is absent.
// Absence of any other option is never a configuration error — it falls
// back to its documented default.
func (c *Config) MustValidate() *apperrors.Error {
	var missing []string
	if c.CRMClientSecret == "" {
		missing = append(missing, "CRM_CLIENT_SECRET")
	}
	if c.PaymentsSecretKey == "" {
		missing = append(missing, "PAYMENTS_SECRET_KEY")
	}
	if c.PaymentsWebhookSecret == "" {
		missing = append(missing, "PAYMENTS_WEBHOOK_SECRET")
	}
	if c.SubscriptionWebhookSecret == "" {
		missing = append(missing, "SUBSCRIPTION_WEBHOOK_SECRET")
	}
	if c.LLMAPIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}
	if c.WebhookVerifyToken == "" {
		missing = append(missing, "WEBHOOK_VERIFY_TOKEN")
	}
	if len(missing) == 0 {
		return nil
	}
	return apperrors.Configuration(
		fmt.Sprintf("missing required configuration: %s", strings.Join(missing, ", ")),
		map[string]any{"missing": missing},
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(raw); err == nil {
		return value
	}
	return defaultValue
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Coalescing engine
	QuietWindow        time.Duration
	WindowAbandonAfter time.Duration
	JanitorInterval    time.Duration

	// Remote control channel: the single phone number allowed to issue
	// prefixed commands targeting other conversations.
	ControlNumber string

	// Dispatcher
	ResetAckMessage string
	FollowUpPhrase  string
	FallbackReply   string

	// Storage
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	TranscriptTTL time.Duration

	// Dispatch token idempotency store: "postgres", "dynamodb" or "memory"
	TokenStore          string
	DispatchTokensTable string

	// Outbound queue
	UseMemoryQueue   bool
	OutboundQueueURL string
	SendWorkerCount  int

	// WhatsApp provider
	WhatsAppBaseURL  string
	WhatsAppAPIKey   string
	WhatsAppProvider string

	// AI responder
	AIProvider     string
	GeminiAPIKey   string
	GeminiModelID  string
	BedrockModelID string

	// AWS (SQS, DynamoDB, Bedrock, SES)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Operator notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	OperatorEmail     string

	// Admin API
	AdminJWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		QuietWindow:        getEnvAsDuration("QUIET_WINDOW", 4*time.Second),
		WindowAbandonAfter: getEnvAsDuration("WINDOW_ABANDON_AFTER", 10*time.Minute),
		JanitorInterval:    getEnvAsDuration("JANITOR_INTERVAL", 10*time.Minute),

		ControlNumber: strings.TrimSpace(getEnv("CONTROL_NUMBER", "")),

		ResetAckMessage: getEnv("RESET_ACK_MESSAGE", "Your conversation data has been reset."),
		FollowUpPhrase:  getEnv("FOLLOW_UP_PHRASE", "Hello, I wanted to follow up on our conversation."),
		FallbackReply:   getEnv("FALLBACK_REPLY", "Sorry - I'm having trouble responding right now. Please try again in a moment."),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		TranscriptTTL: getEnvAsDuration("TRANSCRIPT_TTL", 14*24*time.Hour),

		TokenStore:          strings.ToLower(strings.TrimSpace(getEnv("TOKEN_STORE", "postgres"))),
		DispatchTokensTable: getEnv("DISPATCH_TOKENS_TABLE", "dispatch_tokens"),

		UseMemoryQueue:   getEnvAsBool("USE_MEMORY_QUEUE", false),
		OutboundQueueURL: getEnv("OUTBOUND_QUEUE_URL", ""),
		SendWorkerCount:  getEnvAsInt("SEND_WORKER_COUNT", 2),

		WhatsAppBaseURL:  getEnv("WHATSAPP_BASE_URL", ""),
		WhatsAppAPIKey:   getEnv("WHATSAPP_API_KEY", ""),
		WhatsAppProvider: strings.ToLower(strings.TrimSpace(getEnv("WHATSAPP_PROVIDER", "whacenter"))),

		AIProvider:     strings.ToLower(strings.TrimSpace(getEnv("AI_PROVIDER", "gemini"))),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Automaton"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		OperatorEmail:     getEnv("OPERATOR_EMAIL", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

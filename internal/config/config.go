package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Voice webhook behaviour
	VoiceName               string
	VoiceLanguage           string
	TwilioValidateSignature bool
	WebhookRateLimit        float64
	WebhookRateBurst        int

	// Trailing jobs
	UseMemoryQueue  bool
	WorkerCount     int
	JobQueueURL     string
	JobsTable       string
	MemoryQueueSize int

	// Storage
	DatabaseURL       string
	AppointmentStore  string
	SessionBackend    string
	SessionTTL        time.Duration
	HistoryTTL        time.Duration
	LockTTL           time.Duration
	RedisAddr         string
	RedisPassword     string
	RedisTLS          bool
	ArchiveBucket     string
	RetrievalBackend  string
	RetrievalTopK     int
	TypesenseURL      string
	TypesenseAPIKey   string
	TypesenseCollName string
	HospitalCatalog   string

	// Model
	BedrockModelID          string
	BedrockEmbeddingModelID string
	GeminiAPIKey            string
	GeminiModelID           string
	ModelTimeout            time.Duration
	ModelMinWait            time.Duration
	ModelMaxTokens          int
	VerifyTimeout           time.Duration

	// Notifications
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	AdminJWTSecret string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		VoiceName:               getEnv("VOICE_NAME", "Polly.Joanna"),
		VoiceLanguage:           getEnv("VOICE_LANGUAGE", "en-us"),
		TwilioValidateSignature: getEnvAsBool("TWILIO_VALIDATE_SIGNATURE", false),
		WebhookRateLimit:        getEnvAsFloat("WEBHOOK_RATE_LIMIT", 10),
		WebhookRateBurst:        getEnvAsInt("WEBHOOK_RATE_BURST", 20),

		UseMemoryQueue:  getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 2),
		JobQueueURL:     getEnv("JOB_QUEUE_URL", ""),
		JobsTable:       getEnv("JOBS_TABLE", ""),
		MemoryQueueSize: getEnvAsInt("MEMORY_QUEUE_SIZE", 128),

		DatabaseURL:       getEnv("DATABASE_URL", ""),
		AppointmentStore:  lower(getEnv("APPOINTMENT_BACKEND", "postgres")),
		SessionBackend:    lower(getEnv("SESSION_BACKEND", "memory")),
		SessionTTL:        getEnvAsDuration("SESSION_TTL", 2*time.Hour),
		HistoryTTL:        getEnvAsDuration("HISTORY_TTL", 24*time.Hour),
		LockTTL:           getEnvAsDuration("APPOINTMENT_LOCK_TTL", 15*time.Second),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisTLS:          getEnvAsBool("REDIS_TLS", false),
		ArchiveBucket:     getEnv("ARCHIVE_BUCKET", ""),
		RetrievalBackend:  lower(getEnv("RETRIEVAL_BACKEND", "static")),
		RetrievalTopK:     getEnvAsInt("RETRIEVAL_TOP_K", 5),
		TypesenseURL:      getEnv("TYPESENSE_URL", "http://localhost:8108"),
		TypesenseAPIKey:   getEnv("TYPESENSE_API_KEY", ""),
		TypesenseCollName: getEnv("TYPESENSE_COLLECTION", "hospitals"),
		HospitalCatalog:   getEnv("HOSPITAL_CATALOG_PATH", ""),

		BedrockModelID:          getEnv("BEDROCK_MODEL_ID", ""),
		BedrockEmbeddingModelID: getEnv("BEDROCK_EMBEDDING_MODEL_ID", "amazon.titan-embed-text-v2:0"),
		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:           getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		ModelTimeout:            getEnvAsDuration("MODEL_TIMEOUT", 45*time.Second),
		ModelMinWait:            getEnvAsDuration("MODEL_MIN_WAIT", 0),
		ModelMaxTokens:          getEnvAsInt("MODEL_MAX_TOKENS", 512),
		VerifyTimeout:           getEnvAsDuration("VERIFY_TIMEOUT", 8*time.Second),

		TwilioAccountSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:  getEnv("TWILIO_FROM_NUMBER", ""),
		EmailProvider:     lower(getEnv("EMAIL_PROVIDER", "auto")),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Azentyk Appointments"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// IsProduction reports whether the service runs with production semantics.
func (c *Config) IsProduction() bool {
	return c != nil && strings.EqualFold(c.Env, "production")
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

func lower(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

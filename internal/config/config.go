// Package config provides environment configuration for the pipeline binaries.
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

// Session TTL profiles.
const (
	ProfileGeneral = "general"
	ProfileSaaS    = "saas"
)

// DevelopmentJWTSecret is the signing key used when JWT_SECRET is unset. It
// is only accepted in development.
const DevelopmentJWTSecret = "development-secret-change-in-production"

// Queue backends.
const (
	QueueNATS   = "nats"
	QueueMemory = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Env string

	// Server settings
	ServerPort         string
	MetricsPort        string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Storage
	RedisURL     string
	StoreTimeout time.Duration

	// Queue
	QueueBackend  string
	NATSURL       string
	NATSCAFile    string
	NATSCertFile  string
	NATSKeyFile   string
	NATSToken     string
	QueueCapacity int
	JobRetention  int

	// Workers
	WorkerEnabled     bool
	WorkerConcurrency int
	JobMaxAttempts    int
	JobBackoffBase    time.Duration
	JobBackoffMax     time.Duration
	JobTimeout        time.Duration

	// Conversation
	DefaultTenantID string
	SessionProfile  string
	SessionTTL      time.Duration
	DedupTTL        time.Duration
	LockTTL         time.Duration
	LockWait        time.Duration
	CatalogFile     string
	Currency        string

	// Messenger
	WebhookVerifyToken string
	AppSecret          string
	PageAccessToken    string
	GraphAPIVersion    string
	GraphBaseURL       string
	SendTimeout        time.Duration

	// Leads
	LeadsDatabaseURL string
	LeadsWebhookURL  string
	LeadTimeout      time.Duration

	// JWT settings for the admin API
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMModel        string
	AITimeout       time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Env: getEnv("ENV", "production"),

		// Server
		ServerPort:         getEnv("PORT", "8080"),
		MetricsPort:        getEnv("METRICS_PORT", "9090"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),

		// Storage
		RedisURL:     getEnv("REDIS_URL", ""),
		StoreTimeout: getDurationEnv("STORE_TIMEOUT", 2*time.Second),

		// Queue
		QueueBackend:  strings.ToLower(getEnv("QUEUE_BACKEND", QueueNATS)),
		NATSURL:       getEnv("NATS_URL", ""),
		NATSCAFile:    getEnv("NATS_CA_FILE", ""),
		NATSCertFile:  getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:   getEnv("NATS_KEY_FILE", ""),
		NATSToken:     getEnv("NATS_TOKEN", ""),
		QueueCapacity: getIntEnv("QUEUE_CAPACITY", 1024),
		JobRetention:  getIntEnv("JOB_RETENTION", 1000),

		// Workers
		WorkerEnabled:     getBoolEnv("WORKER_ENABLED", false),
		WorkerConcurrency: getIntEnv("WORKER_CONCURRENCY", 8),
		JobMaxAttempts:    getIntEnv("JOB_MAX_ATTEMPTS", 3),
		JobBackoffBase:    getDurationEnv("JOB_BACKOFF_BASE", 2*time.Second),
		JobBackoffMax:     getDurationEnv("JOB_BACKOFF_MAX", time.Minute),
		JobTimeout:        getDurationEnv("JOB_TIMEOUT", 45*time.Second),

		// Conversation
		DefaultTenantID: getEnv("DEFAULT_TENANT_ID", "default"),
		SessionProfile:  strings.ToLower(getEnv("SESSION_PROFILE", ProfileGeneral)),
		DedupTTL:        getDurationEnv("DEDUP_TTL", 10*time.Minute),
		LockTTL:         getDurationEnv("LOCK_TTL", 60*time.Second),
		LockWait:        getDurationEnv("LOCK_WAIT", 5*time.Second),
		CatalogFile:     getEnv("CATALOG_FILE", ""),
		Currency:        getEnv("CURRENCY", "جنيه"),

		// Messenger
		WebhookVerifyToken: getEnv("WEBHOOK_VERIFY_TOKEN", ""),
		AppSecret:          firstEnv("META_APP_SECRET", "WEBHOOK_APP_SECRET"),
		PageAccessToken:    getEnv("PAGE_ACCESS_TOKEN", ""),
		GraphAPIVersion:    getEnv("GRAPH_API_VERSION", "v20.0"),
		GraphBaseURL:       getEnv("GRAPH_BASE_URL", "https://graph.facebook.com"),
		SendTimeout:        getDurationEnv("SEND_TIMEOUT", 10*time.Second),

		// Leads
		LeadsDatabaseURL: getEnv("LEADS_DATABASE_URL", ""),
		LeadsWebhookURL:  getEnv("LEADS_WEBHOOK_URL", ""),
		LeadTimeout:      getDurationEnv("LEAD_TIMEOUT", 5*time.Second),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", DevelopmentJWTSecret),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "openai"),
		LLMModel:        getEnv("LLM_MODEL", ""),
		AITimeout:       getDurationEnv("AI_TIMEOUT", 20*time.Second),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 600),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}

	cfg.SessionTTL = getDurationEnv("SESSION_TTL", ProfileSessionTTL(cfg.SessionProfile))

	return cfg
}

// ProfileSessionTTL returns the session inactivity TTL for a deployment profile.
func ProfileSessionTTL(profile string) time.Duration {
	if profile == ProfileSaaS {
		return 30 * time.Minute
	}
	return 24 * time.Hour
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// InsecureJWTSecret reports whether the admin API would sign with the
// built-in development key.
func (c *Config) InsecureJWTSecret() bool {
	return c.JWTSecret == "" || c.JWTSecret == DevelopmentJWTSecret
}

// Validate rejects settings the pipeline cannot run safely with.
func (c *Config) Validate() error {
	var errs []error
	if c.JobTimeout <= 0 {
		errs = append(errs, errors.New("JOB_TIMEOUT must be positive"))
	}
	// a sender lock must outlive the turn it guards even if renewal stalls
	if c.LockTTL <= c.JobTimeout {
		errs = append(errs, fmt.Errorf("LOCK_TTL (%s) must be longer than JOB_TIMEOUT (%s)", c.LockTTL, c.JobTimeout))
	}
	return errors.Join(errs...)
}

// ValidateAPI is Validate plus the checks that only matter for the HTTP
// binary, which signs and verifies admin tokens.
func (c *Config) ValidateAPI() error {
	err := c.Validate()
	if !c.IsDevelopment() && c.InsecureJWTSecret() {
		err = errors.Join(err, fmt.Errorf("JWT_SECRET must be set outside development (ENV=%q)", c.Env))
	}
	return err
}

// QueueConfigured reports whether a queue backend can be built from this config.
func (c *Config) QueueConfigured() bool {
	switch c.QueueBackend {
	case QueueMemory:
		return true
	case QueueNATS:
		return c.NATSURL != ""
	default:
		return false
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

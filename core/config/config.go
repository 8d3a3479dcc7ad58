package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App       AppConfig
	Paths     PathsConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Email     EmailConfig
	SMS       SMSConfig
	Artifacts ArtifactsConfig
	Audit     AuditConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasicAuth          []string
	BasePath           string
	TrustedProxies     []string
	CorsAllowedOrigins []string
	ServerID           string
}

type PathsConfig struct {
	BaseDir  string
	Storages string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string // File path for SQLite, DB name for Postgres
}

// SchedulerConfig drives the delivery engine: poll cadence, claim batch
// size, retry policy and per-tick worker pool sizing.
type SchedulerConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	RetryBackoffBase  time.Duration // 0 means retry on the next tick
	VisibilityTimeout time.Duration // in_progress older than this is reclaimable
	SendTimeout       time.Duration // per channel-send call
	WorkerPoolSize    int
	WorkerQueueSize   int
	EmailPerSecond    float64
	SMSPerSecond      float64
}

type EmailConfig struct {
	Provider      string // sendgrid | mailgun
	FromName      string
	SendGridKey   string
	SendGridFrom  string
	MailgunKey    string
	MailgunDomain string
	MailgunFrom   string
}

type SMSConfig struct {
	GatewayURL string
	AccountID  string
	AuthToken  string
	From       string
}

type ArtifactsConfig struct {
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Bucket    string
	S3Endpoint  string
	LinkTTL     time.Duration
}

type AuditConfig struct {
	WebhookURLs   []string
	WebhookSecret string
}

// Global provides access to the loaded configuration globally.
var Global *Config

// LoadConfig loads configuration from environment variables or defaults.
func LoadConfig() (*Config, error) {
	baseDir := getEnv("APP_BASE_DIR", "storages")

	debug := getEnvBool("APP_DEBUG", false)

	var basicAuth []string
	if v := os.Getenv("APP_BASIC_AUTH"); v != "" {
		basicAuth = strings.Split(v, ",")
	}

	corsOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if v := os.Getenv("APP_CORS_ALLOWED_ORIGINS"); v != "" {
		corsOrigins = strings.Split(v, ",")
	}

	appCfg := AppConfig{
		Version:            "v1.4.0",
		Port:               getEnv("APP_PORT", "3000"),
		Debug:              debug,
		Environment:        getEnv("APP_ENV", "development"),
		BasicAuth:          basicAuth,
		BasePath:           getEnv("APP_BASE_PATH", ""),
		CorsAllowedOrigins: corsOrigins,
		ServerID:           getEnv("SERVER_ID", ""),
	}
	if v := os.Getenv("APP_TRUSTED_PROXIES"); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}

	pathsCfg := PathsConfig{
		BaseDir:  baseDir,
		Storages: baseDir,
	}

	dbCfg := DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", "sqlite"),
		Name:     getEnv("DB_NAME", filepath.Join(pathsCfg.Storages, "voxrelay.db")),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
	}

	schedCfg := SchedulerConfig{
		PollInterval:      getEnvDuration("SCHEDULER_POLL_INTERVAL", time.Minute),
		BatchSize:         getEnvInt("SCHEDULER_BATCH_SIZE", 50),
		MaxAttempts:       getEnvInt("SCHEDULER_MAX_ATTEMPTS", 3),
		RetryBackoffBase:  getEnvDuration("SCHEDULER_RETRY_BACKOFF_BASE", time.Minute),
		VisibilityTimeout: getEnvDuration("SCHEDULER_VISIBILITY_TIMEOUT", 10*time.Minute),
		SendTimeout:       getEnvDuration("SCHEDULER_SEND_TIMEOUT", 30*time.Second),
		WorkerPoolSize:    getEnvInt("SCHEDULER_WORKER_POOL_SIZE", 10),
		WorkerQueueSize:   getEnvInt("SCHEDULER_WORKER_QUEUE_SIZE", 200),
		EmailPerSecond:    getEnvFloat("SCHEDULER_EMAIL_PER_SECOND", 20),
		SMSPerSecond:      getEnvFloat("SCHEDULER_SMS_PER_SECOND", 10),
	}

	emailCfg := EmailConfig{
		Provider:      getEnv("EMAIL_PROVIDER", "sendgrid"),
		FromName:      getEnv("EMAIL_FROM_NAME", "Vox Relay"),
		SendGridKey:   getEnv("SENDGRID_API_KEY", ""),
		SendGridFrom:  getEnv("SENDGRID_FROM", ""),
		MailgunKey:    getEnv("MAILGUN_API_KEY", ""),
		MailgunDomain: getEnv("MAILGUN_DOMAIN", ""),
		MailgunFrom:   getEnv("MAILGUN_FROM", ""),
	}

	smsCfg := SMSConfig{
		GatewayURL: getEnv("SMS_GATEWAY_URL", "https://api.twilio.com"),
		AccountID:  getEnv("SMS_ACCOUNT_ID", ""),
		AuthToken:  getEnv("SMS_AUTH_TOKEN", ""),
		From:       getEnv("SMS_FROM", ""),
	}

	artifactsCfg := ArtifactsConfig{
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    getEnv("S3_BUCKET", "vox-relay-artifacts"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		LinkTTL:     getEnvDuration("ARTIFACT_LINK_TTL", 72*time.Hour),
	}

	auditCfg := AuditConfig{
		WebhookSecret: getEnv("AUDIT_WEBHOOK_SECRET", ""),
	}
	if v := os.Getenv("AUDIT_WEBHOOK_URLS"); v != "" {
		auditCfg.WebhookURLs = strings.Split(v, ",")
	}

	cfg := &Config{
		App:       appCfg,
		Paths:     pathsCfg,
		Database:  dbCfg,
		Scheduler: schedCfg,
		Email:     emailCfg,
		SMS:       smsCfg,
		Artifacts: artifactsCfg,
		Audit:     auditCfg,
	}

	Global = cfg
	return cfg, nil
}

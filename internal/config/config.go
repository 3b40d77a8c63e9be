// Package config defines the global configuration structure for the sweeper
// service. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast).
package config

import (
	"time"

	"sweeper/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"sweeper"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Twitter       TwitterConfig
	Billing       BillingConfig
	Engine        EngineConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// DashboardURL is embedded in notification DMs and tip reminders
	// (no trailing slash).
	DashboardURL string `envconfig:"DASHBOARD_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
// Each job lane gets its own SQS queue so slow DM work cannot starve the
// main pipeline.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	JobsQueueURL   string `envconfig:"SQS_JOBS" validate:"required,url"`
	DMHighQueueURL string `envconfig:"SQS_DM_JOBS_HIGH" validate:"required,url"`
	DMLowQueueURL  string `envconfig:"SQS_DM_JOBS_LOW" validate:"required,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// TwitterConfig holds the application-level Twitter API credentials and the
// identity of the service's own account. Per-user access tokens live in the
// users table.
type TwitterConfig struct {
	ConsumerKey    string       `envconfig:"TWITTER_CONSUMER_KEY" validate:"required"`
	ConsumerSecret SecretString `envconfig:"TWITTER_CONSUMER_SECRET" validate:"required"`

	// Separate application registered with DM scopes.
	DMConsumerKey    string       `envconfig:"TWITTER_DM_CONSUMER_KEY" validate:"required"`
	DMConsumerSecret SecretString `envconfig:"TWITTER_DM_CONSUMER_SECRET" validate:"required"`

	SystemTwitterID  string `envconfig:"TWITTER_SYSTEM_ID" validate:"required"`
	SystemScreenName string `envconfig:"TWITTER_SYSTEM_SCREEN_NAME" validate:"required"`

	// Access tokens for the service's own account, one pair per app.
	SystemAccessToken         SecretString `envconfig:"TWITTER_SYSTEM_ACCESS_TOKEN" validate:"required"`
	SystemAccessTokenSecret   SecretString `envconfig:"TWITTER_SYSTEM_ACCESS_TOKEN_SECRET" validate:"required"`
	SystemDMAccessToken       SecretString `envconfig:"TWITTER_SYSTEM_DM_ACCESS_TOKEN" validate:"required"`
	SystemDMAccessTokenSecret SecretString `envconfig:"TWITTER_SYSTEM_DM_ACCESS_TOKEN_SECRET" validate:"required"`

	// BaseURL overrides the API host, used by integration tests.
	BaseURL string `envconfig:"TWITTER_BASE_URL"`
}

// BillingConfig holds Stripe payment integration credentials.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}

// EngineConfig holds job pipeline tuning parameters.
type EngineConfig struct {
	// BulkDMDir is where uploaded direct-message exports are staged.
	BulkDMDir string `envconfig:"BULK_DM_DIR" default:"/var/lib/sweeper/dm-exports"`

	// WorkerID identifies this process in account locks. Defaults to the
	// hostname when empty.
	WorkerID string `envconfig:"WORKER_ID"`

	LockTTL          time.Duration `envconfig:"LOCK_TTL" default:"30m"`
	DispatchInterval time.Duration `envconfig:"DISPATCH_INTERVAL" default:"15s"`
	DispatchBatch    int           `envconfig:"DISPATCH_BATCH" default:"100"`
}

// SecurityConfig holds security-related configuration for the ops API.
type SecurityConfig struct {
	AdminAPIKey        SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Sweeper"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

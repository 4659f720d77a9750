// Package config defines the runtime configuration of the decodr API.
//
// Configuration is loaded once at process start and is immutable thereafter.
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or invalid format aborts startup.
package config

import (
	"time"

	"decodr/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types just to unmask a credential.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	Environment   string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`

	Server        ServerConfig
	Database      DatabaseConfig
	Identity      IdentityConfig
	LLM           LLMConfig
	Billing       BillingConfig
	Metering      MeteringConfig
	RateLimit     RateLimitConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
	AWS           AWSConfig

	// Injected via ldflags, not Env
	Build BuildInfo
}

// ServerConfig holds HTTP server settings and the public frontend origin used
// to build Stripe redirect URLs.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	AppOrigin      string        `envconfig:"APP_ORIGIN" validate:"required,url"` // e.g. https://decodr.app
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"45s"`
}

// DatabaseConfig holds the Entitlement Store connection and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// IdentityConfig configures how Supabase-issued bearer tokens are verified.
// With JWKSURL set, tokens are verified against the published key set; with
// JWTSecret set, against the shared HS256 secret; with neither, each token
// is resolved by calling the Supabase user endpoint.
type IdentityConfig struct {
	SupabaseURL    string       `envconfig:"SUPABASE_URL" validate:"required,url"`
	JWTSecret      SecretString `envconfig:"SUPABASE_JWT_SECRET"`
	JWKSURL        string       `envconfig:"SUPABASE_JWKS_URL" validate:"omitempty,url"`
	JWTAudience    string       `envconfig:"SUPABASE_JWT_AUDIENCE" default:"authenticated"`
	ServiceRoleKey SecretString `envconfig:"SUPABASE_SERVICE_ROLE_KEY" validate:"required"`
	AnonKey        SecretString `envconfig:"SUPABASE_ANON_KEY"`
}

// LLMConfig holds the Analysis Provider (OpenAI) settings.
type LLMConfig struct {
	APIKey  SecretString  `envconfig:"OPENAI_API_KEY" validate:"required"`
	Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-3.5-turbo"`
	BaseURL string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1" validate:"url"`
	Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"30s"`
}

// BillingConfig holds Stripe credentials and the premium price.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	StripePriceID       string       `envconfig:"STRIPE_PRICE_ID" validate:"required"`
	StripeBaseURL       string       `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com" validate:"url"`
}

// MeteringConfig holds the trial tier sizes. FreeTrialGrant is written into
// new profiles; AnonTrialCap is advertised to the client-local counter.
type MeteringConfig struct {
	FreeTrialGrant int `envconfig:"FREE_TRIAL_GRANT" default:"10" validate:"min=0"`
	AnonTrialCap   int `envconfig:"ANON_TRIAL_CAP" default:"3" validate:"min=0"`
}

// RateLimitConfig controls per-caller request limiting on the metered routes.
// An empty RedisURL selects the in-process limiter.
type RateLimitConfig struct {
	Enabled   bool         `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	PerMinute int          `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60" validate:"min=1"`
	RedisURL  SecretString `envconfig:"REDIS_URL"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig selects the metrics backend.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"none" validate:"oneof=none prometheus cloudwatch"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Decodr"`
}

// AWSConfig holds the region used by SSM and CloudWatch clients.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)

// IsLocal reports whether the service runs in local development mode.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

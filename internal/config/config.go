// Package config loads process configuration from a YAML file with
// environment-variable overrides via LoadFromEnv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the outbound sales command center.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Broker       BrokerConfig       `yaml:"broker"`
	Redis        RedisConfig        `yaml:"redis"`
	Idempotency  IdempotencyConfig  `yaml:"idempotency"`
	Connectors   ConnectorsConfig   `yaml:"connectors"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Security     SecurityConfig     `yaml:"security"`
	Auth         AuthConfig         `yaml:"auth"`
	Webhooks     WebhooksConfig     `yaml:"webhooks"`
	Social       SocialConfig       `yaml:"social"`
	Gates        GatesConfig        `yaml:"gates"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection string.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// BrokerConfig holds the async task broker connection. The broker is SQS-backed
// (internal/taskqueue).
type BrokerConfig struct {
	URL              string `yaml:"url"`
	ResultBackendURL string `yaml:"result_backend_url"`
	QueueName        string `yaml:"queue_name"`
	DLQName          string `yaml:"dlq_name"`
	DepthThreshold   int    `yaml:"depth_threshold"`
}

// RedisConfig holds the rate limiter / distributed lock backend.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// IdempotencyConfig holds the DynamoDB table backing the idempotency store.
type IdempotencyConfig struct {
	TableName string `yaml:"table_name"`
	AWSRegion string `yaml:"aws_region"`
}

// ConnectorsConfig selects and configures the concrete connector
// implementations behind each capability.
type ConnectorsConfig struct {
	SES      SESConnectorConfig      `yaml:"ses"`
	CRM      CRMConnectorConfig      `yaml:"crm"`
	Calendar CalendarConnectorConfig `yaml:"calendar"`
	Assets   AssetsConnectorConfig   `yaml:"assets"`
	LLM      LLMConnectorConfig      `yaml:"llm"`
}

// SESConnectorConfig configures the EmailConnector (internal/emailconnector).
type SESConnectorConfig struct {
	Region    string `yaml:"region"`
	FromEmail string `yaml:"from_email"`
}

// CRMConnectorConfig configures the CRMConnector (internal/crmconnector).
type CRMConnectorConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c CRMConnectorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CalendarConnectorConfig configures the CalendarConnector.
type CalendarConnectorConfig struct {
	Calendars []string `yaml:"calendars"`
	TZ        string   `yaml:"tz"`
}

// AssetsConnectorConfig configures the S3-backed AssetConnector.
type AssetsConnectorConfig struct {
	Bucket    string   `yaml:"bucket"`
	Prefix    string   `yaml:"prefix"`
	AWSRegion string   `yaml:"aws_region"`
	Allowlist []string `yaml:"allowlist"`
}

// LLMConnectorConfig configures the Bedrock-backed LLMConnector.
type LLMConnectorConfig struct {
	ModelID   string `yaml:"model_id"`
	AWSRegion string `yaml:"aws_region"`
}

// RateLimitConfig mirrors the RATE_LIMIT_* env vars.
type RateLimitConfig struct {
	PerRecipientPerWeek int `yaml:"per_recipient_per_week"`
	GlobalPerDay        int `yaml:"global_per_day"`
}

// SecurityConfig holds the process-wide secrets required at
// startup.
type SecurityConfig struct {
	SecretKey       string `yaml:"secret_key"`
	AdminToken      string `yaml:"admin_token"`
	CSRFSecret      string `yaml:"csrf_secret"`
	AllowRealSends  bool   `yaml:"allow_real_sends"`
	AutoApprove     bool   `yaml:"auto_approve_enabled"`
	DraftOnly       bool   `yaml:"mode_draft_only"`
	SentryDSN       string `yaml:"sentry_dsn"`
	Environment     string `yaml:"environment"`
}

// AuthConfig holds Google OAuth configuration for operator login (/auth/*);
// the admin endpoints are gated by Security.AdminToken, not by this login.
type AuthConfig struct {
	Enabled            bool   `yaml:"enabled"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	AllowedDomain      string `yaml:"allowed_domain"`
	SessionSecret      string `yaml:"session_secret"`
	CookieName         string `yaml:"cookie_name"`
	CookieMaxAge       int    `yaml:"cookie_max_age"`
}

// WebhooksConfig holds the per-source HMAC signing secrets loaded from
// WEBHOOK_SIGNING_SECRETS.
type WebhooksConfig struct {
	SigningSecrets map[string]string `yaml:"signing_secrets"`
}

// SocialConfig holds the RSS/Atom feed URLs the social-signal poller
// watches for target-account mentions.
type SocialConfig struct {
	FeedURLs []string `yaml:"feed_urls"`
}

// GatesConfig holds operator-toggleable global gates persisted at
// startup defaults; the live values live in store.AdminSettings once the
// process is running.
type GatesConfig struct {
	AutoApproveEnabled bool `yaml:"auto_approve_enabled"`
	AllowRealSends     bool `yaml:"allow_real_sends"`
}

const defaultSecretKeyPlaceholder = "changeme"

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Broker.QueueName == "" {
		cfg.Broker.QueueName = "casey-tasks"
	}
	if cfg.Broker.DLQName == "" {
		cfg.Broker.DLQName = "casey-tasks-dlq"
	}
	if cfg.Broker.DepthThreshold == 0 {
		cfg.Broker.DepthThreshold = 1000
	}
	if cfg.Idempotency.TableName == "" {
		cfg.Idempotency.TableName = "casey-idempotency"
	}
	if cfg.RateLimit.PerRecipientPerWeek == 0 {
		cfg.RateLimit.PerRecipientPerWeek = 2
	}
	if cfg.RateLimit.GlobalPerDay == 0 {
		cfg.RateLimit.GlobalPerDay = 20
	}
	if cfg.Security.SecretKey == "" {
		cfg.Security.SecretKey = defaultSecretKeyPlaceholder
	}
	if cfg.Connectors.CRM.TimeoutSeconds == 0 {
		cfg.Connectors.CRM.TimeoutSeconds = 30
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "casey_session"
	}
	if cfg.Auth.CookieMaxAge == 0 {
		cfg.Auth.CookieMaxAge = 86400
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment-variable overrides. It
// automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in
// production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("RESULT_BACKEND_URL"); v != "" {
		cfg.Broker.ResultBackendURL = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.Security.SecretKey = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Security.AdminToken = v
	}
	if v := os.Getenv("ALLOW_REAL_SENDS"); v != "" {
		cfg.Security.AllowRealSends = parseBool(v)
		cfg.Gates.AllowRealSends = cfg.Security.AllowRealSends
	}
	if v := os.Getenv("AUTO_APPROVE_ENABLED"); v != "" {
		cfg.Security.AutoApprove = parseBool(v)
		cfg.Gates.AutoApproveEnabled = cfg.Security.AutoApprove
	}
	if v := os.Getenv("MODE_DRAFT_ONLY"); v != "" {
		cfg.Security.DraftOnly = parseBool(v)
	} else {
		cfg.Security.DraftOnly = true
	}
	if v := os.Getenv("RATE_LIMIT_PER_RECIPIENT_WEEK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.PerRecipientPerWeek = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_GLOBAL_DAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.GlobalPerDay = n
		}
	}
	if v := os.Getenv("CSRF_SECRET"); v != "" {
		cfg.Security.CSRFSecret = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		cfg.Security.SentryDSN = v
	}
	if v := os.Getenv("WEBHOOK_SIGNING_SECRETS"); v != "" {
		cfg.Webhooks.SigningSecrets = parseSigningSecrets(v)
	}
	if v := os.Getenv("SOCIAL_FEED_URLS"); v != "" {
		cfg.Social.FeedURLs = strings.Split(v, ",")
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.GoogleClientSecret = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Auth.SessionSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}

	return cfg, nil
}

// parseSigningSecrets parses "form=secret1,crm=secret2" into a map, the
// flat encoding WEBHOOK_SIGNING_SECRETS uses for a per-source map in a
// single env var.
func parseSigningSecrets(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

// ValidateProduction enforces the startup fail-fast rule: production
// must reject startup if SECRET_KEY is the default placeholder, or if
// ALLOW_REAL_SENDS=true without both SECRET_KEY and ADMIN_TOKEN set.
func (c *Config) ValidateProduction() error {
	if c.Security.Environment != "production" {
		return nil
	}
	if c.Security.SecretKey == "" || c.Security.SecretKey == defaultSecretKeyPlaceholder {
		return fmt.Errorf("config: SECRET_KEY must be set to a non-default value in production")
	}
	if c.Security.AllowRealSends {
		if c.Security.SecretKey == defaultSecretKeyPlaceholder || c.Security.AdminToken == "" {
			return fmt.Errorf("config: ALLOW_REAL_SENDS=true requires SECRET_KEY and ADMIN_TOKEN to be set")
		}
	}
	return nil
}

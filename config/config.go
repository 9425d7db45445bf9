package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Onboarding    OnboardingConfig
	Store         StoreConfig
	Clients       ClientsConfig
	Ops           OpsConfig
	Observability ObservabilityConfig
	Environment   string
}

// OnboardingConfig holds orchestrator settings
type OnboardingConfig struct {
	DryRun          bool
	Watch           bool
	WatchInterval   time.Duration
	Lookback        time.Duration
	MaxStepAttempts int
	Workers         int
	StepTimeout     time.Duration
	CycleTimeout    time.Duration
	ResumeWindow    time.Duration
}

// StoreConfig selects and configures the state store backend
type StoreConfig struct {
	Driver     string
	SQLitePath string
	Database   DatabaseConfig
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ClientConfig holds the settings shared by every external system client
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Enabled reports whether the client has an endpoint configured
func (c ClientConfig) Enabled() bool {
	return c.BaseURL != ""
}

// ClientsConfig holds the external system client configurations.
// The source-of-hire feed is served by the HRIS.
type ClientsConfig struct {
	HRIS     ClientConfig
	Identity IdentityConfig
	KB       KnowledgeBaseConfig
	Calendar CalendarConfig
	Mail     MailConfig
	Chat     ChatConfig
}

// IdentityConfig holds workspace directory settings
type IdentityConfig struct {
	ClientConfig
	Domain string
}

// KnowledgeBaseConfig holds wiki settings
type KnowledgeBaseConfig struct {
	ClientConfig
	ParentID string
}

// CalendarConfig holds calendar settings
type CalendarConfig struct {
	ClientConfig
	MeetingPlanPath string // empty selects the built-in plan
}

// MailConfig holds mail settings
type MailConfig struct {
	ClientConfig
	From string
}

// ChatConfig holds chat settings
type ChatConfig struct {
	ClientConfig
	StakeholderChannels []string
}

// OpsConfig holds the operations HTTP API configuration
type OpsConfig struct {
	Addr            string // empty disables the API
	JWTSecret       string // empty disables authentication
	ShutdownTimeout time.Duration
}

// Enabled reports whether the ops API should be served
func (c OpsConfig) Enabled() bool {
	return c.Addr != ""
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Onboarding: OnboardingConfig{
			DryRun:          getEnvAsBool("ONBOARDING_DRY_RUN", false),
			WatchInterval:   time.Duration(getEnvAsInt("ONBOARDING_WATCH_INTERVAL_SECONDS", 300)) * time.Second,
			Lookback:        time.Duration(getEnvAsInt("ONBOARDING_LOOKBACK_HOURS", 24)) * time.Hour,
			MaxStepAttempts: getEnvAsInt("ONBOARDING_MAX_STEP_ATTEMPTS", 3),
			Workers:         getEnvAsInt("ONBOARDING_WORKERS", 4),
			StepTimeout:     getEnvAsDuration("ONBOARDING_STEP_TIMEOUT", 30*time.Second),
			CycleTimeout:    getEnvAsDuration("ONBOARDING_CYCLE_TIMEOUT", 10*time.Minute),
			ResumeWindow:    getEnvAsDuration("ONBOARDING_RESUME_WINDOW", 720*time.Hour),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STATE_STORE_DRIVER", StoreDriverSQLite)),
			SQLitePath: getEnv("SQLITE_PATH", "data/onboarding.db"),
			Database:   loadDatabaseConfig(),
		},
		Clients: ClientsConfig{
			HRIS: loadClientConfig("HRIS_"),
			Identity: IdentityConfig{
				ClientConfig: loadClientConfig("IDENTITY_"),
				Domain:       getEnv("IDENTITY_DOMAIN", "example.com"),
			},
			KB: KnowledgeBaseConfig{
				ClientConfig: loadClientConfig("KB_"),
				ParentID:     getEnv("KB_PARENT_ID", ""),
			},
			Calendar: CalendarConfig{
				ClientConfig:    loadClientConfig("CALENDAR_"),
				MeetingPlanPath: getEnv("CALENDAR_MEETING_PLAN", ""),
			},
			Mail: MailConfig{
				ClientConfig: loadClientConfig("MAIL_"),
				From:         getEnv("MAIL_FROM", "people-ops@example.com"),
			},
			Chat: ChatConfig{
				ClientConfig:        loadClientConfig("CHAT_"),
				StakeholderChannels: getEnvAsList("CHAT_STAKEHOLDER_CHANNELS", []string{"it-ops", "facilities"}),
			},
		},
		Ops: OpsConfig{
			Addr:            getEnv("OPS_ADDR", ""),
			JWTSecret:       getEnv("OPS_JWT_SECRET", ""),
			ShutdownTimeout: getEnvAsDuration("OPS_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	o := c.Onboarding
	if o.WatchInterval <= 0 {
		return fmt.Errorf("watch interval must be positive")
	}
	if o.Lookback <= 0 {
		return fmt.Errorf("lookback window must be positive")
	}
	if o.MaxStepAttempts < 1 {
		return fmt.Errorf("max step attempts must be at least 1")
	}
	if o.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if o.StepTimeout <= 0 || o.CycleTimeout <= 0 {
		return fmt.Errorf("step and cycle timeouts must be positive")
	}

	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite store")
		}
	case StoreDriverPostgres:
		// Database validation (DATABASE_URL or DB_* vars)
		db := c.Store.Database
		if db.ConnectionString == "" && db.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if db.ConnectionString == "" {
			if db.User == "" {
				return fmt.Errorf("database user is required")
			}
			if db.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	default:
		return fmt.Errorf("unknown state store driver: %q", c.Store.Driver)
	}

	// A live production run without a source of hire has nothing to do
	if c.IsProduction() && !o.DryRun && !c.Clients.HRIS.Enabled() {
		return fmt.Errorf("HRIS base URL is required in production")
	}

	// Observability validation
	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Observability.LogLevel)
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "onboarding"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "onboarding"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

func loadClientConfig(prefix string) ClientConfig {
	return ClientConfig{
		BaseURL:    strings.TrimRight(getEnv(prefix+"BASE_URL", ""), "/"),
		APIKey:     getEnv(prefix+"API_KEY", ""),
		Timeout:    getEnvAsDuration(prefix+"TIMEOUT", 30*time.Second),
		MaxRetries: getEnvAsInt(prefix+"MAX_RETRIES", 2),
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

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

const defaultJWTSecret = "change-this-to-a-secure-random-string-in-production"

// Config holds application configuration
type Config struct {
	// Server
	Port    string `yaml:"port"`
	Env     string `yaml:"env"`
	BaseURL string `yaml:"base_url"`

	// Database
	DBDriver       string        `yaml:"db_driver"`
	DBPath         string        `yaml:"db_path"`
	DBDSN          string        `yaml:"db_dsn"`
	MigrationsPath string        `yaml:"migrations_path"`
	DBQueryTimeout time.Duration `yaml:"-"`

	// Auth
	JWTSecret      string `yaml:"jwt_secret"`
	JWTExpiryHours int    `yaml:"jwt_expiry_hours"`
	CookieSecure   bool   `yaml:"cookie_secure"`

	// CORS
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// Rate limiting, requests per minute per client IP
	RateLimitRequests     int `yaml:"rate_limit_requests"`
	AuthRateLimitRequests int `yaml:"auth_rate_limit_requests"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// File storage
	UploadDir string `yaml:"upload_dir"`

	SMTP  SMTPConfig  `yaml:"smtp"`
	Redis RedisConfig `yaml:"redis"`

	// Realtime relay between API instances; empty disables it
	NATSURL string `yaml:"nats_url"`

	// OpenTelemetry collector; empty disables export
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Background jobs
	ReminderCron   string `yaml:"reminder_cron"`
	ReconcileCron  string `yaml:"reconcile_cron"`
	HolidayCountry string `yaml:"holiday_country"`
}

// SMTPConfig configures outgoing mail. Host empty disables mail.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	UseTLS   bool   `yaml:"use_tls"`
}

// Enabled reports whether mail can be sent.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// RedisConfig configures the optional asynq mail queue.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                  "8080",
		Env:                   "development",
		BaseURL:               "http://localhost:3000",
		DBDriver:              "sqlite",
		DBPath:                "./data/trackflow.db",
		MigrationsPath:        "./internal/db/migrations",
		DBQueryTimeout:        5 * time.Second,
		JWTSecret:             defaultJWTSecret,
		JWTExpiryHours:        24 * 7,
		CORSAllowedOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
		RateLimitRequests:     300,
		AuthRateLimitRequests: 20,
		LogLevel:              "info",
		UploadDir:             "./uploads",
		SMTP:                  SMTPConfig{Port: 587},
		ReminderCron:          "0 8 * * *",
		ReconcileCron:         "30 2 * * *",
		HolidayCountry:        "US",
	}
}

// Load reads configuration from .env, an optional YAML file named by
// CONFIG_FILE, and environment variables, in increasing precedence.
func Load() *Config {
	// A missing .env is the normal case outside local development
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			logger := MustInitLogger(cfg.Env, cfg.LogLevel)
			logger.Fatal(err.Error())
		}
	}
	cfg.applyEnv()

	if cfg.Env == "production" && cfg.JWTSecret == defaultJWTSecret {
		logger := MustInitLogger(cfg.Env, cfg.LogLevel)
		logger.Fatal("JWT_SECRET must be set in production environment")
	}

	return cfg
}

// mergeFile overlays the YAML file at path onto c.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Env = getEnv("ENV", getEnv("NODE_ENV", c.Env))
	c.BaseURL = getEnv("BASE_URL", getEnv("NEXT_PUBLIC_BASE_URL", c.BaseURL))

	c.DBDriver = getEnv("DB_DRIVER", c.DBDriver)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.DBDSN = getEnv("DB_DSN", getEnv("DATABASE_URL", c.DBDSN))
	c.MigrationsPath = getEnv("MIGRATIONS_PATH", c.MigrationsPath)
	c.DBQueryTimeout = time.Duration(getEnvAsInt("DB_QUERY_TIMEOUT_SECONDS", int(c.DBQueryTimeout/time.Second))) * time.Second

	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTExpiryHours = getEnvAsInt("JWT_EXPIRY_HOURS", c.JWTExpiryHours)
	c.CookieSecure = getEnvAsBool("COOKIE_SECURE", c.CookieSecure || c.Env == "production")

	c.CORSAllowedOrigins = getEnvAsSlice("CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)
	c.RateLimitRequests = getEnvAsInt("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.AuthRateLimitRequests = getEnvAsInt("AUTH_RATE_LIMIT_REQUESTS", c.AuthRateLimitRequests)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.UploadDir = getEnv("UPLOAD_DIR", c.UploadDir)

	c.SMTP.Host = getEnv("SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getEnvAsInt("SMTP_PORT", c.SMTP.Port)
	c.SMTP.Username = getEnv("SMTP_USER", c.SMTP.Username)
	c.SMTP.Password = getEnv("SMTP_PASSWORD", getEnv("SMTP_PASS", c.SMTP.Password))
	c.SMTP.From = getEnv("SMTP_FROM", c.SMTP.From)
	c.SMTP.UseTLS = getEnvAsBool("SMTP_TLS", c.SMTP.UseTLS || c.SMTP.Port == 465)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)

	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)

	c.ReminderCron = getEnv("REMINDER_CRON", c.ReminderCron)
	c.ReconcileCron = getEnv("RECONCILE_CRON", c.ReconcileCron)
	c.HolidayCountry = getEnv("HOLIDAY_COUNTRY", c.HolidayCountry)
}

// JWTExpiry returns the JWT expiry duration
func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.JWTExpiryHours) * time.Hour
}

// IsDevelopment reports whether error details may be exposed to clients.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Silently use default - logger not available yet during config load
		return defaultValue
	}
	return value
}

// getEnvAsBool reads an environment variable as bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice reads an environment variable as comma-separated values
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}
	return result
}

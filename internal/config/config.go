package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	minJWTSecretLen = 32
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	StoreDriver string `yaml:"store_driver"`
	Port        string `yaml:"port"`
	DevMode     bool   `yaml:"dev_mode"`

	JWTSecret       string        `yaml:"jwt_secret"`
	TokenHashSecret string        `yaml:"token_hash_secret"`
	CodeHashSecret  string        `yaml:"code_hash_secret"`
	AccessTokenTTL  time.Duration `yaml:"-"`
	RefreshTokenTTL time.Duration `yaml:"-"`

	EmailCodeTTL    time.Duration `yaml:"-"`
	LoginCodeTTL    time.Duration `yaml:"-"`
	CodeMaxAttempts int           `yaml:"code_max_attempts"`

	LoginMaxFailures int           `yaml:"login_max_failures"`
	LockoutDuration  time.Duration `yaml:"-"`

	SMTP SMTPConfig `yaml:"smtp"`

	RedisURL        string        `yaml:"redis_url"`
	RateLimitWindow time.Duration `yaml:"-"`
	RateLimitMax    int           `yaml:"rate_limit_max"`

	CookieSecure   bool   `yaml:"cookie_secure"`
	CookieSameSite string `yaml:"cookie_samesite"`
	AuthPathPrefix string `yaml:"auth_path_prefix"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// SMTPConfig configures outbound mail. An empty Host selects the log sender.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

// fileDurations carries durations in the units operators write them in
type fileDurations struct {
	AccessTokenMinutes int `yaml:"access_token_minutes"`
	RefreshTokenDays   int `yaml:"refresh_token_days"`
	EmailCodeMinutes   int `yaml:"email_code_minutes"`
	LoginCodeMinutes   int `yaml:"login_code_minutes"`
	LockoutMinutes     int `yaml:"lockout_minutes"`
	RateLimitWindowSec int `yaml:"rate_limit_window_seconds"`
}

// Defaults returns the configuration used when nothing overrides a key
func Defaults() *Config {
	return &Config{
		StoreDriver:      StoreDriverPostgres,
		Port:             "8080",
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  30 * 24 * time.Hour,
		EmailCodeTTL:     15 * time.Minute,
		LoginCodeTTL:     5 * time.Minute,
		CodeMaxAttempts:  3,
		LoginMaxFailures: 5,
		LockoutDuration:  30 * time.Minute,
		SMTP:             SMTPConfig{Port: 587, FromName: "ThatMoment"},
		RateLimitWindow:  10 * time.Minute,
		RateLimitMax:     10,
		CookieSecure:     true,
		CookieSameSite:   "Strict",
		AuthPathPrefix:   "/api/v1/auth",
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load reads configuration from the optional CONFIG_FILE (YAML) and then from
// environment variables. Environment always wins.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var raw struct {
		Config        `yaml:",inline"`
		fileDurations `yaml:",inline"`
	}
	raw.Config = *c
	if err := yaml.NewDecoder(f).Decode(&raw); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	*c = raw.Config

	d := raw.fileDurations
	setMinutes(&c.AccessTokenTTL, d.AccessTokenMinutes)
	setMinutes(&c.EmailCodeTTL, d.EmailCodeMinutes)
	setMinutes(&c.LoginCodeTTL, d.LoginCodeMinutes)
	setMinutes(&c.LockoutDuration, d.LockoutMinutes)
	if d.RefreshTokenDays > 0 {
		c.RefreshTokenTTL = time.Duration(d.RefreshTokenDays) * 24 * time.Hour
	}
	if d.RateLimitWindowSec > 0 {
		c.RateLimitWindow = time.Duration(d.RateLimitWindowSec) * time.Second
	}
	return nil
}

func setMinutes(dst *time.Duration, minutes int) {
	if minutes > 0 {
		*dst = time.Duration(minutes) * time.Minute
	}
}

func (c *Config) loadEnv() error {
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.StoreDriver, "STORE_DRIVER")
	setString(&c.Port, "PORT")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.TokenHashSecret, "TOKEN_HASH_SECRET")
	setString(&c.CodeHashSecret, "CODE_HASH_SECRET")
	setString(&c.SMTP.Host, "SMTP_HOST")
	setString(&c.SMTP.User, "SMTP_USER")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.SMTP.From, "MAIL_FROM")
	setString(&c.SMTP.FromName, "MAIL_FROM_NAME")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.CookieSameSite, "COOKIE_SAMESITE")
	setString(&c.AuthPathPrefix, "AUTH_PATH_PREFIX")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	ints := []struct {
		key string
		dst *int
	}{
		{"SMTP_PORT", &c.SMTP.Port},
		{"CODE_MAX_ATTEMPTS", &c.CodeMaxAttempts},
		{"LOGIN_MAX_FAILURES", &c.LoginMaxFailures},
		{"RATE_LIMIT_MAX", &c.RateLimitMax},
	}
	for _, i := range ints {
		if err := setInt(i.dst, i.key); err != nil {
			return err
		}
	}

	durations := []struct {
		key  string
		unit time.Duration
		dst  *time.Duration
	}{
		{"ACCESS_TOKEN_MINUTES", time.Minute, &c.AccessTokenTTL},
		{"REFRESH_TOKEN_DAYS", 24 * time.Hour, &c.RefreshTokenTTL},
		{"EMAIL_CODE_MINUTES", time.Minute, &c.EmailCodeTTL},
		{"LOGIN_CODE_MINUTES", time.Minute, &c.LoginCodeTTL},
		{"LOCKOUT_MINUTES", time.Minute, &c.LockoutDuration},
		{"RATE_LIMIT_WINDOW_SECONDS", time.Second, &c.RateLimitWindow},
	}
	for _, d := range durations {
		var n int
		if err := setInt(&n, d.key); err != nil {
			return err
		}
		if n > 0 {
			*d.dst = time.Duration(n) * d.unit
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"DEV_MODE", &c.DevMode},
		{"COOKIE_SECURE", &c.CookieSecure},
	}
	for _, b := range bools {
		if v := os.Getenv(b.key); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s must be a boolean: %w", b.key, err)
			}
			*b.dst = parsed
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}

// Validate checks required keys and value ranges
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required")
		}
		if _, err := url.Parse(c.DatabaseURL); err != nil {
			return fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLen)
	}
	// hash keys fall back to the signing secret so a minimal deployment needs one secret
	if c.TokenHashSecret == "" {
		c.TokenHashSecret = c.JWTSecret
	}
	if c.CodeHashSecret == "" {
		c.CodeHashSecret = c.JWTSecret
	}

	if c.CodeMaxAttempts < 1 {
		return fmt.Errorf("CODE_MAX_ATTEMPTS must be positive")
	}
	if c.LoginMaxFailures < 1 {
		return fmt.Errorf("LOGIN_MAX_FAILURES must be positive")
	}
	if c.RateLimitMax < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive")
	}
	switch c.CookieSameSite {
	case "Strict", "Lax", "None":
	default:
		return fmt.Errorf("COOKIE_SAMESITE must be Strict, Lax or None")
	}
	return nil
}

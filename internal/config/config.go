package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	envPrefix      = "QUICKPRINT"
	defaultEnvFile = ".env"
	devEnv         = "dev"
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	Env           string        `envconfig:"ENV" default:"dev"`
	Port          string        `envconfig:"PORT" default:"8080"`
	DBPath        string        `envconfig:"DB_PATH" default:"./dev.db"`
	SessionSecret string        `envconfig:"SESSION_SECRET"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"12h"`
	APIBaseURL    string        `envconfig:"API_BASE_URL" default:"http://localhost:8000"`
	APITimeout    time.Duration `envconfig:"API_TIMEOUT" default:"30s"`
	ShopID        int64         `envconfig:"SHOP_ID" default:"2"`
	UserID        int64         `envconfig:"USER_ID" default:"1"`
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL" default:"10s"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the optional dotenv file, then the QUICKPRINT_* environment, and validates the result.
func Load() (Config, error) {
	envFile := os.Getenv(envPrefix + "_ENV_FILE")
	if envFile == "" {
		envFile = defaultEnvFile
	}
	// Production injects real environment variables; the file is a dev convenience.
	if _, err := loadDotEnv(envFile); err != nil {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values envconfig cannot express as types.
func (c Config) Validate() error {
	var errs []error
	if c.ShopID <= 0 {
		errs = append(errs, fmt.Errorf("%s_SHOP_ID must be positive", envPrefix))
	}
	if c.UserID <= 0 {
		errs = append(errs, fmt.Errorf("%s_USER_ID must be positive", envPrefix))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s_POLL_INTERVAL must be positive", envPrefix))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("%s_SESSION_TTL must be positive", envPrefix))
	}
	if c.SessionSecret == "" && !c.IsDev() {
		errs = append(errs, fmt.Errorf("%s_SESSION_SECRET is required outside %s", envPrefix, devEnv))
	}
	if u, err := url.Parse(c.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("%s_API_BASE_URL must be an absolute URL", envPrefix))
	}
	return errors.Join(errs...)
}

// IsDev reports whether the service runs in the development environment.
func (c Config) IsDev() bool {
	return c.Env == devEnv
}

// Warnings lists settings that are allowed in development but unsafe elsewhere.
func (c Config) Warnings() []string {
	var warnings []string
	if c.SessionSecret == "" {
		warnings = append(warnings, envPrefix+"_SESSION_SECRET is not set; session cookies use an empty key")
	}
	return warnings
}

// Package config loads DengueCast configuration.
//
// The loading sequence is:
//  1. Load a .env file via godotenv (non-fatal if absent).
//  2. Populate Config from the environment with envconfig.
//  3. Let the caller apply command-line overrides.
//  4. Validate the final struct with go-playground/validator.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/DengueCast/internal/util"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// DefaultStateDir is the default directory for DengueCast state data
	DefaultStateDir = "/var/lib/denguecast"
	// DefaultDBFileName is the default SQLite audit database filename
	DefaultDBFileName = "denguecast.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// ErrNoModel is reported when neither a model file nor a model server is configured.
var ErrNoModel = errors.New("either MODEL_URL or MODEL_FILE must be set")

// Config is the process configuration.
type Config struct {
	StateDir    string `envconfig:"DENGUECAST_STATE_DIR" default:"/var/lib/denguecast" validate:"required"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	APIAddr     string `envconfig:"API_ADDR" default:":8080" validate:"required"`

	ReferenceDataCSV string `envconfig:"REFERENCE_DATA_CSV"`
	YearMin          int    `envconfig:"YEAR_MIN" default:"2000" validate:"gt=0"`
	YearMax          int    `envconfig:"YEAR_MAX" default:"2023" validate:"gtefield=YearMin"`

	ModelFile    string        `envconfig:"MODEL_FILE"`
	ModelURL     string        `envconfig:"MODEL_URL" validate:"omitempty,url"`
	ModelTimeout time.Duration `envconfig:"MODEL_TIMEOUT" default:"10s" validate:"gt=0"`

	SessionIdleTTL       time.Duration `envconfig:"SESSION_IDLE_TTL" default:"30m" validate:"gt=0"`
	SessionSweepSchedule string        `envconfig:"SESSION_SWEEP_SCHEDULE" default:"@every 5m" validate:"required"`

	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `envconfig:"TWILIO_FROM_NUMBER"`
	// TwilioWebhookURL is the public webhook URL; when set, inbound signatures are verified.
	TwilioWebhookURL string `envconfig:"TWILIO_WEBHOOK_URL" validate:"omitempty,url"`

	// WhatsAppEnabled is read with util.ParseBoolEnv so yes/on are accepted.
	WhatsAppEnabled bool   `ignored:"true"`
	WhatsAppDBDSN   string `envconfig:"WHATSAPP_DB_DSN"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"debug" validate:"oneof=debug info warn error"`
}

// Load reads .env and the environment. The result is not yet validated so that
// command-line flags can still override it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("Config Load: no .env file loaded", "error", err)
	} else {
		slog.Debug("Config Load: loaded .env file")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment configuration: %w", err)
	}
	cfg.WhatsAppEnabled = util.ParseBoolEnv("WHATSAPP_ENABLED", false)
	return &cfg, nil
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if strings.TrimSpace(c.ModelURL) == "" && strings.TrimSpace(c.ModelFile) == "" {
		return ErrNoModel
	}
	return nil
}

// StoreDSN returns the audit store DSN, defaulting to SQLite in the state directory.
func (c *Config) StoreDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// WhatsAppDSN returns the whatsmeow device store DSN, defaulting to SQLite in the state directory.
func (c *Config) WhatsAppDSN() string {
	if c.WhatsAppDBDSN != "" {
		return c.WhatsAppDBDSN
	}
	return "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// TwilioEnabled reports whether all Twilio credentials are present.
func (c *Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values map to debug.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

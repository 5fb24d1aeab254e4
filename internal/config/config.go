package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	SecretBackendKeyring  = "keyring"
	SecretBackendDatabase = "database"
)

type Config struct {
	Environment         string
	DBDriver            string
	DBPath              string
	DBURL               string
	SecretBackend       string
	EncryptionKeyBase64 string
	KeyringDir          string
	PreferencesPath     string
	APIToken            string
	IMAPTimeout         time.Duration
	IdleEnabled         bool
	Port                string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILSYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	timeout, err := time.ParseDuration(getEnvOrDefault("MAILSYNC_IMAP_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("MAILSYNC_IMAP_TIMEOUT is not a duration: %w", err)
	}

	idle, err := strconv.ParseBool(getEnvOrDefault("MAILSYNC_IDLE", "false"))
	if err != nil {
		return nil, fmt.Errorf("MAILSYNC_IDLE is not a boolean: %w", err)
	}

	config := &Config{
		Environment:         env,
		DBDriver:            getEnvOrDefault("MAILSYNC_DB_DRIVER", "sqlite"),
		DBPath:              getEnvOrDefault("MAILSYNC_DB_PATH", "mailsync.db"),
		DBURL:               os.Getenv("MAILSYNC_DB_URL"),
		SecretBackend:       getEnvOrDefault("MAILSYNC_SECRET_BACKEND", SecretBackendKeyring),
		EncryptionKeyBase64: os.Getenv("MAILSYNC_ENCRYPTION_KEY_BASE64"),
		KeyringDir:          getEnvOrDefault("MAILSYNC_KEYRING_DIR", "~/.mailsync/keyring"),
		PreferencesPath:     getEnvOrDefault("MAILSYNC_PREFERENCES_PATH", "preferences.json"),
		APIToken:            os.Getenv("MAILSYNC_API_TOKEN"),
		IMAPTimeout:         timeout,
		IdleEnabled:         idle,
		Port:                getEnvOrDefault("PORT", "8080"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("MAILSYNC_DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.DBURL == "" {
			return fmt.Errorf("MAILSYNC_DB_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("MAILSYNC_DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}

	switch c.SecretBackend {
	case SecretBackendKeyring:
	case SecretBackendDatabase:
		if c.EncryptionKeyBase64 == "" {
			return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is required for the database secret backend")
		}
		key, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
		if err != nil {
			return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d", len(key))
		}
	default:
		return fmt.Errorf("MAILSYNC_SECRET_BACKEND must be keyring or database, got %q", c.SecretBackend)
	}

	if c.IMAPTimeout <= 0 {
		return fmt.Errorf("MAILSYNC_IMAP_TIMEOUT must be positive")
	}

	return nil
}

// GetDatabaseURL returns the Postgres connection URL.
func (c *Config) GetDatabaseURL() string {
	return c.DBURL
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Package config provides application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds all client configuration.
type Config struct {
	BackendURL     string
	ProfilePath    string
	PollInterval   time.Duration
	DBPath         string
	ArchiveEnabled bool

	// Port is used by the stub backend only.
	Port string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		BackendURL:     getEnv("JOBPILOT_BACKEND_URL", "http://localhost:8000"),
		ProfilePath:    getEnv("JOBPILOT_PROFILE_PATH", ""),
		PollInterval:   getEnvDuration("JOBPILOT_POLL_INTERVAL", 30*time.Second),
		DBPath:         getEnv("JOBPILOT_DB_PATH", "./data/jobpilot.db"),
		ArchiveEnabled: getEnvBool("JOBPILOT_ARCHIVE_ENABLED", true),
		Port:           getEnv("PORT", "8000"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the fields the client reads. Port is a stub-backend
// setting and is checked by ValidateServer instead.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("JOBPILOT_BACKEND_URL cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("JOBPILOT_POLL_INTERVAL must be > 0")
	}
	if c.ArchiveEnabled && c.DBPath == "" {
		return fmt.Errorf("JOBPILOT_DB_PATH cannot be empty when archiving is enabled")
	}
	return nil
}

// ValidateServer checks the fields the stub backend reads.
func (c *Config) ValidateServer() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	return nil
}

// LoadProfile reads the user profile document from disk. The profile is
// opaque to the engine and forwarded verbatim on every turn. An empty path
// yields a nil profile, which is valid.
func LoadProfile(path string) (json.RawMessage, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("profile %s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}

// DeriveUserID extracts a stable user identifier from the profile document:
// the email when present, the document id otherwise, and a random id when
// neither exists. The thread id shares the same derivation.
func DeriveUserID(profile json.RawMessage) string {
	var doc struct {
		Email string `json:"email"`
		ID    string `json:"_id"`
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &doc); err == nil {
			if doc.Email != "" {
				return doc.Email
			}
			if doc.ID != "" {
				return doc.ID
			}
		}
	}
	return uuid.NewString()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	// Bare numbers are treated as seconds.
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

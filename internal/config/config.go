package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds infrastructure-level configuration. Origin authorizations,
// accounts and chain metadata live in the database, not here.
type Config struct {
	// Database
	PostgresDSN string

	// Server
	Port int

	// UIToken authenticates the trusted extension-UI channel. Connections
	// without it are classified as page connections regardless of content.
	UIToken string

	// Keystore wrapping
	WrapProvider     string // local, aws-kms or vault
	WrapLocalKeyHex  string
	WrapAWSKeyID     string
	WrapAWSRegion    string
	WrapVaultAddress string
	WrapVaultToken   string
	WrapVaultTransit string

	// PasswordCacheTTL is the window during which a "remembered" unlock
	// skips the password prompt.
	PasswordCacheTTL time.Duration

	// Phishing deny-list
	PhishingListURL string
	PhishingRefresh time.Duration

	// Per-origin rate limit for page frames. 0 disables limiting.
	TabRateRPM   int
	TabRateBurst int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN:      getEnv("POSTGRES_DSN", ""),
		Port:             getEnvInt("PORT", 8080),
		UIToken:          getEnv("UI_TOKEN", ""),
		WrapProvider:     getEnv("WRAP_PROVIDER", "local"),
		WrapLocalKeyHex:  getEnv("WRAP_LOCAL_KEY", ""),
		WrapAWSKeyID:     getEnv("WRAP_AWS_KMS_KEY_ID", ""),
		WrapAWSRegion:    getEnv("WRAP_AWS_KMS_REGION", ""),
		WrapVaultAddress: getEnv("WRAP_VAULT_ADDR", ""),
		WrapVaultToken:   getEnv("WRAP_VAULT_TOKEN", ""),
		WrapVaultTransit: getEnv("WRAP_VAULT_TRANSIT_KEY", ""),
		PasswordCacheTTL: getEnvDuration("PASSWORD_CACHE_TTL", 15*time.Minute),
		PhishingListURL:  getEnv("PHISHING_LIST_URL", ""),
		PhishingRefresh:  getEnvDuration("PHISHING_REFRESH", time.Hour),
		TabRateRPM:       getEnvInt("TAB_RATE_RPM", 300),
		TabRateBurst:     getEnvInt("TAB_RATE_BURST", 20),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	if c.UIToken == "" {
		return fmt.Errorf("UI_TOKEN is required")
	}

	switch c.WrapProvider {
	case "local":
		if c.WrapLocalKeyHex == "" {
			return fmt.Errorf("WRAP_LOCAL_KEY is required when WRAP_PROVIDER is 'local'")
		}
	case "aws-kms":
		if c.WrapAWSKeyID == "" || c.WrapAWSRegion == "" {
			return fmt.Errorf("WRAP_AWS_KMS_KEY_ID and WRAP_AWS_KMS_REGION are required when WRAP_PROVIDER is 'aws-kms'")
		}
	case "vault":
		if c.WrapVaultAddress == "" || c.WrapVaultToken == "" || c.WrapVaultTransit == "" {
			return fmt.Errorf("WRAP_VAULT_ADDR, WRAP_VAULT_TOKEN and WRAP_VAULT_TRANSIT_KEY are required when WRAP_PROVIDER is 'vault'")
		}
	default:
		return fmt.Errorf("WRAP_PROVIDER must be 'local', 'aws-kms' or 'vault', got: %s", c.WrapProvider)
	}

	if c.PasswordCacheTTL <= 0 {
		return fmt.Errorf("PASSWORD_CACHE_TTL must be positive")
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
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

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_DSN", "postgres://localhost/walletgate")
	t.Setenv("UI_TOKEN", "secret-token")
	t.Setenv("WRAP_LOCAL_KEY", "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "local", cfg.WrapProvider)
	assert.Equal(t, 15*time.Minute, cfg.PasswordCacheTTL)
	assert.Equal(t, time.Hour, cfg.PhishingRefresh)
	assert.Equal(t, 300, cfg.TabRateRPM)
	assert.Equal(t, 20, cfg.TabRateBurst)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("PASSWORD_CACHE_TTL", "5m")
	t.Setenv("TAB_RATE_RPM", "60")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.PasswordCacheTTL)
	assert.Equal(t, 60, cfg.TabRateRPM)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "not-a-number")
	t.Setenv("PASSWORD_CACHE_TTL", "forever")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.PasswordCacheTTL)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			PostgresDSN:      "postgres://localhost/walletgate",
			UIToken:          "secret",
			WrapProvider:     "local",
			WrapLocalKeyHex:  "aa",
			PasswordCacheTTL: time.Minute,
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing dsn", func(t *testing.T) {
		cfg := base()
		cfg.PostgresDSN = ""
		assert.ErrorContains(t, cfg.Validate(), "POSTGRES_DSN")
	})

	t.Run("missing ui token", func(t *testing.T) {
		cfg := base()
		cfg.UIToken = ""
		assert.ErrorContains(t, cfg.Validate(), "UI_TOKEN")
	})

	t.Run("local provider requires key", func(t *testing.T) {
		cfg := base()
		cfg.WrapLocalKeyHex = ""
		assert.ErrorContains(t, cfg.Validate(), "WRAP_LOCAL_KEY")
	})

	t.Run("aws provider requires key id and region", func(t *testing.T) {
		cfg := base()
		cfg.WrapProvider = "aws-kms"
		assert.ErrorContains(t, cfg.Validate(), "WRAP_AWS_KMS_KEY_ID")

		cfg.WrapAWSKeyID = "key"
		cfg.WrapAWSRegion = "eu-west-1"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("vault provider requires address token and transit key", func(t *testing.T) {
		cfg := base()
		cfg.WrapProvider = "vault"
		assert.ErrorContains(t, cfg.Validate(), "WRAP_VAULT_ADDR")

		cfg.WrapVaultAddress = "http://127.0.0.1:8200"
		cfg.WrapVaultToken = "root"
		cfg.WrapVaultTransit = "walletgate"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := base()
		cfg.WrapProvider = "hsm"
		assert.ErrorContains(t, cfg.Validate(), "WRAP_PROVIDER")
	})

	t.Run("non-positive ttl", func(t *testing.T) {
		cfg := base()
		cfg.PasswordCacheTTL = 0
		assert.ErrorContains(t, cfg.Validate(), "PASSWORD_CACHE_TTL")
	})
}

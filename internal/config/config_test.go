package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateForServeMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresVenueForSync(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "sync"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of apex or hyperliquid")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestValidateApexCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "sync"
	cfg.Apex.Enabled = true
	cfg.Apex.ApiKey = "key"
	cfg.Apex.EncryptedSecretPath = "/secrets/apex.enc"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret_password is required")

	cfg.Apex.SecretPassword = "pw"
	assert.NoError(t, cfg.Validate())
}

func TestValidateHyperliquidWalletAddress(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "sync"
	cfg.Hyperliquid.Enabled = true
	cfg.Hyperliquid.WalletAddress = "0xdeadbeef"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid hex address")

	cfg.Hyperliquid.WalletAddress = "0x5b38da6a701c568545dcfcb03fcb875f56beddc4"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Apex.ApiSecret = "super-secret"
	cfg.Postgres.Password = "pgpass"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Apex.ApiSecret)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	// Original stays intact.
	assert.Equal(t, "super-secret", cfg.Apex.ApiSecret)
}

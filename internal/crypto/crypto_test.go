package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersAtDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key", Secret: "secret", Passphrase: "pass"}

	h := auth.HeadersAt("GET", "/api/v3/fills?limit=100&page=0", "", 1709290000000)
	assert.Equal(t, "key", h["APEX-API-KEY"])
	assert.Equal(t, "pass", h["APEX-PASSPHRASE"])
	assert.Equal(t, "1709290000000", h["APEX-TIMESTAMP"])

	// The HMAC key is base64(secret), the message timestamp+method+path+data.
	mac := hmac.New(sha256.New, []byte(base64.StdEncoding.EncodeToString([]byte("secret"))))
	mac.Write([]byte("1709290000000GET/api/v3/fills?limit=100&page=0"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, h["APEX-SIGNATURE"])
}

func TestHeadersVaryWithPath(t *testing.T) {
	auth := &HMACAuth{Key: "k", Secret: "s", Passphrase: "p"}
	a := auth.HeadersAt("GET", "/api/v3/fills", "", 1)
	b := auth.HeadersAt("GET", "/api/v3/funding", "", 1)
	assert.NotEqual(t, a["APEX-SIGNATURE"], b["APEX-SIGNATURE"])
}

func TestStringRedactsSecret(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef", Secret: "supersecret"}
	s := auth.String()
	assert.NotContains(t, s, "supersecret")
	assert.Contains(t, s, "abcd****")
}

func TestEncryptDecryptSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "hunter2")
	require.NoError(t, err)

	out, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "my-api-secret", out)
}

func TestDecryptSecretWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "hunter2")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptSecretRejectsEmpty(t *testing.T) {
	_, err := EncryptSecret("", "pw")
	assert.Error(t, err)
	_, err = EncryptSecret("s", "")
	assert.Error(t, err)
}

func TestLoadSecretPrecedence(t *testing.T) {
	out, err := LoadSecret(SecretConfig{RawSecret: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "raw", out)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}

func TestLoadSecretFromFile(t *testing.T) {
	blob, err := EncryptSecret("filed-secret", "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "secret.enc")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	out, err := LoadSecret(SecretConfig{EncryptedSecretPath: path, SecretPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "filed-secret", out)
}

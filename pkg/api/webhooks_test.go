package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVendorSignatures(t *testing.T) {
	secret := "signing-secret"
	body := []byte(`{"id": 1, "subject": "payments down"}`)

	t.Run("zendesk base64 sha256", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		assert.True(t, verifySHA256Base64(secret, body, sig))
		assert.False(t, verifySHA256Base64(secret, body, "dGFtcGVyZWQ="))
		assert.False(t, verifySHA256Base64("other-secret", body, sig))
	})

	t.Run("freshdesk hex sha256", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))

		assert.True(t, verifySHA256Hex(secret, body, sig))
		assert.True(t, verifySHA256Hex(secret, body, strings.ToUpper(sig)), "hex comparison is case-insensitive")
		assert.False(t, verifySHA256Hex(secret, []byte(`{"tampered": true}`), sig))
	})

	t.Run("intercom sha1 with prefix", func(t *testing.T) {
		mac := hmac.New(sha1.New, []byte(secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))

		assert.True(t, verifySHA1Prefixed(secret, body, "sha1="+sig))
		assert.True(t, verifySHA1Prefixed(secret, body, sig), "prefix is optional")
		assert.False(t, verifySHA1Prefixed(secret, body, "sha1=deadbeef"))
	})
}

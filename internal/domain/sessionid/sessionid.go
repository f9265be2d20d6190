// Package sessionid generates and verifies the HMAC-bound session
// identifier described in the middleware's data model: a printable token
// of the form v{version}.{uuid-base64url}.{hmac-base64url}, where the HMAC
// is computed over "v{version}.{uuid}" with an ephemeral, process-local
// secret that is never persisted or logged.
package sessionid

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Version is the only session identifier format this package produces.
const Version = 1

// SecretSize is the size, in bytes, of the process-local HMAC secret.
// 32 bytes = 256 bits, matching the required minimum entropy.
const SecretSize = 32

// MinLength is the minimum printable length a valid SessionID must have.
const MinLength = 101

// SessionID is a printable, HMAC-authenticated session token.
type SessionID string

// NewSecret draws a cryptographically secure 256-bit secret. Callers must
// keep exactly one secret per process lifetime and never persist or log it.
func NewSecret() ([]byte, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("sessionid: generate secret: %w", err)
	}
	return secret, nil
}

// Generate draws 128 bits of UUID material, computes
// HMAC-SHA256(secret, "v{V}." + base64url(uuid)), and returns the
// concatenated token.
func Generate(secret []byte) (SessionID, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("sessionid: empty secret")
	}
	id := uuid.New()
	uuidB64 := base64.RawURLEncoding.EncodeToString(id[:])
	payload := fmt.Sprintf("v%d.%s", Version, uuidB64)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	token := SessionID(payload + "." + sig)
	return token, nil
}

// Verify parses the three dot-separated parts of token, recomputes the
// HMAC under secret, and compares in constant time. Any malformed input
// (wrong part count, bad version, bad base64) also returns false without
// distinguishing why, so a caller cannot use error content as an oracle.
func Verify(token string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return false
	}
	versionAndUUID := parts[0] + "." + parts[1]

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(versionAndUUID))
	expected := mac.Sum(nil)

	got, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	if !strings.HasPrefix(parts[0], fmt.Sprintf("v%d", Version)) {
		return false
	}
	return hmac.Equal(expected, got)
}

// Len reports the printable length of a token, used to check the
// length invariant independently of Verify.
func Len(token SessionID) int {
	return len(string(token))
}

// Prefix returns the first n characters of the token, used by the audit
// log which only ever prints a short prefix of a session id, never the
// HMAC portion.
func Prefix(token SessionID, n int) string {
	s := string(token)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

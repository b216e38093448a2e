package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// RefreshTokenByteLength is the entropy carried by opaque refresh and reset
// tokens: 32 bytes, 256 bits.
const RefreshTokenByteLength = 32

// GenerateSecureToken returns a base64 URL-safe random string using the
// specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateRefreshToken mints an opaque refresh-token value with the standard
// entropy for this service.
func GenerateRefreshToken() (string, error) {
	return GenerateSecureToken(RefreshTokenByteLength)
}

// HashToken calculates a SHA-256 hash of the provided value. Opaque tokens
// are persisted only in this form.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

package security

import (
	"encoding/base64"
	"testing"
)

func TestGenerateRefreshTokenUniqueness(t *testing.T) {
	first, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken returned error: %v", err)
	}
	second, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken returned error: %v", err)
	}

	if first == second {
		t.Fatal("expected distinct refresh tokens")
	}

	raw, err := base64.RawURLEncoding.DecodeString(first)
	if err != nil {
		t.Fatalf("refresh token is not URL-safe base64: %v", err)
	}
	if len(raw) != RefreshTokenByteLength {
		t.Fatalf("expected %d bytes of entropy, got %d", RefreshTokenByteLength, len(raw))
	}
}

func TestGenerateSecureTokenLength(t *testing.T) {
	token, err := GenerateSecureToken(16)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("token is not URL-safe base64: %v", err)
	}
	if len(raw) != 16 {
		t.Fatalf("expected 16 bytes, got %d", len(raw))
	}
}

func TestGenerateSecureTokenRejectsNonPositiveLength(t *testing.T) {
	if _, err := GenerateSecureToken(0); err == nil {
		t.Fatal("expected error for zero length")
	}
	if _, err := GenerateSecureToken(-8); err == nil {
		t.Fatal("expected error for negative length")
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	first := HashToken("opaque-refresh-value")
	second := HashToken("opaque-refresh-value")

	if first != second {
		t.Fatal("expected identical hashes for identical input")
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(first))
	}
	if HashToken("different-value") == first {
		t.Fatal("expected different inputs to hash differently")
	}
}

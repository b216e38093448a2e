package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// MinPBKDF2Iterations is the floor below which the hasher refuses to operate.
const MinPBKDF2Iterations = 10_000

var errInvalidConfig = errors.New("pbkdf2: invalid configuration")

// PBKDF2Config defines tunable parameters for PBKDF2-SHA256 password hashing.
type PBKDF2Config struct {
	Iterations int
	SaltLength int
	KeyLength  int
}

var (
	defaultPBKDF2Config = PBKDF2Config{
		Iterations: 210_000,
		SaltLength: 16,
		KeyLength:  32,
	}

	activePBKDF2Config = defaultPBKDF2Config
	pbkdf2ConfigMu     sync.RWMutex
)

// DefaultPBKDF2Config returns the library default PBKDF2 configuration.
func DefaultPBKDF2Config() PBKDF2Config {
	return defaultPBKDF2Config
}

// CurrentPBKDF2Config returns the currently active PBKDF2 configuration.
func CurrentPBKDF2Config() PBKDF2Config {
	pbkdf2ConfigMu.RLock()
	defer pbkdf2ConfigMu.RUnlock()
	return activePBKDF2Config
}

// ConfigurePBKDF2 sets the active PBKDF2 configuration after validation.
func ConfigurePBKDF2(cfg PBKDF2Config) error {
	if err := validatePBKDF2Config(cfg); err != nil {
		return err
	}

	pbkdf2ConfigMu.Lock()
	activePBKDF2Config = cfg
	pbkdf2ConfigMu.Unlock()
	return nil
}

func validatePBKDF2Config(cfg PBKDF2Config) error {
	if cfg.Iterations < MinPBKDF2Iterations {
		return fmt.Errorf("%w: iterations must be at least %d", errInvalidConfig, MinPBKDF2Iterations)
	}
	if cfg.SaltLength < 16 {
		return fmt.Errorf("%w: salt length must be at least 16 bytes", errInvalidConfig)
	}
	if cfg.KeyLength < 16 {
		return fmt.Errorf("%w: key length must be at least 16 bytes", errInvalidConfig)
	}
	return nil
}

// HashPassword derives a PBKDF2-SHA256 key from the password using a freshly
// generated random salt. The result is encoded as "iterations.salt.key" with
// the salt and key segments base64-encoded.
func HashPassword(password string) (string, error) {
	cfg := CurrentPBKDF2Config()

	salt := make([]byte, cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("pbkdf2: generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, cfg.Iterations, cfg.KeyLength, sha256.New)

	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(key)

	return fmt.Sprintf("%d.%s.%s", cfg.Iterations, encodedSalt, encodedKey), nil
}

// VerifyPassword compares the provided password against a stored hash by
// re-deriving the key with the embedded iteration count and salt. The
// comparison runs in constant time. Malformed hashes fail closed: the caller
// cannot distinguish a wrong password from a corrupt stored hash.
func VerifyPassword(password, encoded string) bool {
	if password == "" || encoded == "" {
		return false
	}

	iterations, salt, expected, ok := decodePasswordHash(encoded)
	if !ok {
		return false
	}

	computed := pbkdf2.Key([]byte(password), salt, iterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

func decodePasswordHash(encoded string) (int, []byte, []byte, bool) {
	parts := strings.Split(encoded, ".")
	if len(parts) != 3 {
		return 0, nil, nil, false
	}

	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 {
		return 0, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil || len(salt) == 0 {
		return 0, nil, nil, false
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(key) == 0 {
		return 0, nil, nil, false
	}

	return iterations, salt, key, true
}

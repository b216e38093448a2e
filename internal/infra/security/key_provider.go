package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrKeyNotFound indicates no key matches the requested kid.
var ErrKeyNotFound = errors.New("key not found")

// KeyProvider defines the interface for providing cryptographic keys.
// Signing always uses the single active private key; verification may match
// the active key or any recently retired public key by kid.
type KeyProvider interface {
	GetSigningKey() (*rsa.PrivateKey, error)
	GetVerificationKey(kid string) (*rsa.PublicKey, error)
}

// FileKeyProviderConfig locates key material on disk. The active private key
// is mandatory; the retired directory holds public (or private) PEMs of keys
// that no longer sign but still verify outstanding tokens.
type FileKeyProviderConfig struct {
	PrivateKeyPath string
	KID            string
	RetiredKeyDir  string
}

// FileKeyProvider loads an RSA signing key and retired verification keys from
// PEM files at process start, failing fast when the signing key is absent.
type FileKeyProvider struct {
	signingKey *rsa.PrivateKey
	signingKID string
	keys       map[string]*rsa.PublicKey
}

// NewFileKeyProvider reads and validates all configured key material.
func NewFileKeyProvider(cfg FileKeyProviderConfig) (*FileKeyProvider, error) {
	path := strings.TrimSpace(cfg.PrivateKeyPath)
	if path == "" {
		return nil, errors.New("signing key path is required")
	}

	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key %s: %w", path, err)
	}

	signingKey, err := parsePrivateKeyPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse signing key %s: %w", path, err)
	}

	kid := strings.TrimSpace(cfg.KID)
	if kid == "" {
		kid = kidFromFilename(path)
	}

	provider := &FileKeyProvider{
		signingKey: signingKey,
		signingKID: kid,
		keys: map[string]*rsa.PublicKey{
			kid: &signingKey.PublicKey,
		},
	}

	if dir := strings.TrimSpace(cfg.RetiredKeyDir); dir != "" {
		if err := provider.loadRetiredKeys(dir); err != nil {
			return nil, err
		}
	}

	return provider, nil
}

func (p *FileKeyProvider) loadRetiredKeys(dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read retired key directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		path := filepath.Join(dir, file.Name())
		keyData, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read retired key %s: %w", path, err)
		}

		publicKey, err := parsePublicKeyPEM(keyData)
		if err != nil {
			return fmt.Errorf("parse retired key %s: %w", path, err)
		}

		kid := kidFromFilename(path)
		if _, exists := p.keys[kid]; exists {
			continue
		}
		p.keys[kid] = publicKey
	}

	return nil
}

// GetSigningKey returns the active private key for signing tokens.
func (p *FileKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	if p.signingKey == nil {
		return nil, errors.New("no private key loaded for signing")
	}
	return p.signingKey, nil
}

// SigningKID returns the kid stamped into tokens signed with the active key.
func (p *FileKeyProvider) SigningKID() string {
	return p.signingKID
}

// GetVerificationKey returns the public key for verifying tokens signed under kid.
func (p *FileKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[strings.TrimSpace(kid)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// ListVerificationKeys enumerates every known public key for JWKS publication.
func (p *FileKeyProvider) ListVerificationKeys() map[string]*rsa.PublicKey {
	result := make(map[string]*rsa.PublicKey, len(p.keys))
	for kid, key := range p.keys {
		result[kid] = key
	}
	return result
}

func parsePrivateKeyPEM(keyData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	// PKCS#1 format (RSA PRIVATE KEY)
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	// PKCS#8 format (PRIVATE KEY)
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("PKCS#8 key is not RSA")
	}

	return nil, errors.New("unsupported private key format")
}

func parsePublicKeyPEM(keyData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	// Retired material may be stored as a private key; only the public half is used.
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &key.PublicKey, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return &rsaKey.PublicKey, nil
		}
	}

	// PKCS#1 public key (RSA PUBLIC KEY)
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	// PKIX/X.509 public key (PUBLIC KEY)
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
	}

	return nil, errors.New("unsupported public key format")
}

func kidFromFilename(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

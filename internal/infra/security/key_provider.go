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

var (
	ErrKeyNotFound  = errors.New("key not found")
	ErrNoSigningKey = errors.New("no private key available for signing")
)

// KeyProvider supplies the RSA keys used to sign and verify access tokens.
type KeyProvider interface {
	GetSigningKey() (*rsa.PrivateKey, error)
	GetVerificationKey(kid string) (*rsa.PublicKey, error)
}

// FileKeyProvider loads PEM-encoded keys from a directory. The file name
// (minus extension) becomes the kid. The first private key found is used
// for signing; all keys contribute their public half for verification.
type FileKeyProvider struct {
	keys       map[string]*rsa.PublicKey
	signingKey *rsa.PrivateKey
	signingKid string
}

// NewFileKeyProvider reads every PEM file in keyDir and builds a provider.
func NewFileKeyProvider(keyDir string) (*FileKeyProvider, error) {
	entries, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}

	provider := &FileKeyProvider{
		keys: make(map[string]*rsa.PublicKey),
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(keyDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file %s: %w", path, err)
		}

		kid := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if err := provider.addPEM(kid, data); err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", path, err)
		}
	}

	if provider.signingKey == nil {
		return nil, ErrNoSigningKey
	}

	return provider, nil
}

// NewStaticKeyProvider builds a provider from a single PEM-encoded private
// key supplied through configuration. Used when the key material is injected
// via the environment rather than mounted on disk.
func NewStaticKeyProvider(kid string, privatePEM []byte) (*FileKeyProvider, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, errors.New("key id is required")
	}

	provider := &FileKeyProvider{
		keys: make(map[string]*rsa.PublicKey),
	}
	if err := provider.addPEM(kid, privatePEM); err != nil {
		return nil, err
	}
	if provider.signingKey == nil {
		return nil, ErrNoSigningKey
	}

	return provider, nil
}

func (p *FileKeyProvider) addPEM(kid string, data []byte) error {
	block, _ := pem.Decode(data)
	if block == nil {
		return errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		p.registerPrivate(kid, key)
		return nil
	}

	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if key, ok := parsed.(*rsa.PrivateKey); ok {
			p.registerPrivate(kid, key)
			return nil
		}
		return errors.New("private key is not RSA")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		p.keys[kid] = key
		return nil
	}

	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if key, ok := parsed.(*rsa.PublicKey); ok {
			p.keys[kid] = key
			return nil
		}
		return errors.New("public key is not RSA")
	}

	return errors.New("unrecognized key format")
}

func (p *FileKeyProvider) registerPrivate(kid string, key *rsa.PrivateKey) {
	if p.signingKey == nil {
		p.signingKey = key
		p.signingKid = kid
	}
	p.keys[kid] = &key.PublicKey
}

// SigningKid returns the kid associated with the active signing key.
func (p *FileKeyProvider) SigningKid() string {
	return p.signingKid
}

// GetSigningKey returns the private key used to sign new tokens.
func (p *FileKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	if p.signingKey == nil {
		return nil, ErrNoSigningKey
	}
	return p.signingKey, nil
}

// GetVerificationKey returns the public key for a kid.
func (p *FileKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// ListVerificationKeys returns a copy of all registered public keys keyed by kid.
func (p *FileKeyProvider) ListVerificationKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(p.keys))
	for kid, key := range p.keys {
		out[kid] = key
	}
	return out
}

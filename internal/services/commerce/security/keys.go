// Package security holds the hub's signing identity and issues payment
// mandates signed with it.
package security

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Algorithm is the JOSE name of the signing scheme.
const Algorithm = "EdDSA"

const keyIDPrefix = "hub-key-"

// PublicMaterial describes the verification half of the signing identity.
type PublicMaterial struct {
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"public_key"`
}

// JWK is the JSON Web Key form of the public key.
type JWK struct {
	KeyType   string `json:"kty"`
	Curve     string `json:"crv"`
	X         string `json:"x"`
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
	Use       string `json:"use"`
}

// JWKSet is a JSON Web Key Set document.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// KeyManager owns an Ed25519 keypair for the lifetime of the process. It is
// immutable after construction and safe for concurrent use.
type KeyManager struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	keyID   string
}

// NewKeyManager generates a fresh keypair from crypto/rand.
func NewKeyManager() (*KeyManager, error) {
	return NewKeyManagerFromReader(rand.Reader)
}

// NewKeyManagerFromReader generates a keypair from reader.
func NewKeyManagerFromReader(reader io.Reader) (*KeyManager, error) {
	if reader == nil {
		return nil, fmt.Errorf("random source is required")
	}
	public, private, err := ed25519.GenerateKey(reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &KeyManager{
		private: private,
		public:  public,
		keyID:   KeyIDFor(public),
	}, nil
}

// KeyIDFor derives the key id from the raw public key bytes.
func KeyIDFor(public ed25519.PublicKey) string {
	prefix := public
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return keyIDPrefix + base64.RawURLEncoding.EncodeToString(prefix)
}

// KeyID returns the stable key identifier.
func (k *KeyManager) KeyID() string {
	return k.keyID
}

// PublicKey returns a copy of the public key.
func (k *KeyManager) PublicKey() ed25519.PublicKey {
	out := make(ed25519.PublicKey, len(k.public))
	copy(out, k.public)
	return out
}

// Sign signs payload with the private key.
func (k *KeyManager) Sign(payload []byte) []byte {
	return ed25519.Sign(k.private, payload)
}

// SignString signs payload and returns the unpadded base64url signature.
func (k *KeyManager) SignString(payload string) string {
	return base64.RawURLEncoding.EncodeToString(k.Sign([]byte(payload)))
}

// PublicMaterial returns the key id, algorithm and raw public key.
func (k *KeyManager) PublicMaterial() PublicMaterial {
	return PublicMaterial{
		KeyID:     k.keyID,
		Algorithm: Algorithm,
		PublicKey: base64.RawURLEncoding.EncodeToString(k.public),
	}
}

// JWK returns the public key as a JSON Web Key.
func (k *KeyManager) JWK() JWK {
	return JWK{
		KeyType:   "OKP",
		Curve:     "Ed25519",
		X:         base64.RawURLEncoding.EncodeToString(k.public),
		KeyID:     k.keyID,
		Algorithm: Algorithm,
		Use:       "sig",
	}
}

// JWKSet returns a key set containing the signing key.
func (k *KeyManager) JWKSet() JWKSet {
	return JWKSet{Keys: []JWK{k.JWK()}}
}

// signer adapts the key manager to crypto.Signer without exposing the
// private key.
type signer struct {
	keys *KeyManager
}

func (s signer) Public() crypto.PublicKey {
	return s.keys.public
}

func (s signer) Sign(_ io.Reader, message []byte, _ crypto.SignerOpts) ([]byte, error) {
	return s.keys.Sign(message), nil
}

// Package wallet provides the signing capability handed to the ledger client.
// The engine never looks at key material; it only asks a Signer for an owner
// address and a signature over an opaque payload.
package wallet

import (
	"errors"
	"fmt"
	"os"

	solana "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

// DefaultKeyEnv is the variable consulted by LoadFromEnv when none is given.
const DefaultKeyEnv = "UCM_PRIVATE_KEY_BASE58"

// Signer produces signatures for outbound commands.
type Signer interface {
	Address() string
	Sign(payload []byte) ([]byte, error)
}

// Ed25519Signer signs with an ed25519 key.
type Ed25519Signer struct {
	key solana.PrivateKey
}

// NewEd25519Signer wraps an existing key.
func NewEd25519Signer(key solana.PrivateKey) (*Ed25519Signer, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("ed25519 key must be 64 bytes, got %d", len(key))
	}
	return &Ed25519Signer{key: key}, nil
}

// Generate creates a signer with a fresh random key.
func Generate() *Ed25519Signer {
	return &Ed25519Signer{key: solana.NewWallet().PrivateKey}
}

// FromBase58 decodes a base58 private key.
func FromBase58(b58 string) (*Ed25519Signer, error) {
	key, err := solana.PrivateKeyFromBase58(b58)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return NewEd25519Signer(key)
}

// LoadFromEnv reads a base58 key from envKey (DefaultKeyEnv when empty),
// loading a .env file first if one exists.
func LoadFromEnv(envKey string) (*Ed25519Signer, error) {
	_ = godotenv.Load() // best-effort
	if envKey == "" {
		envKey = DefaultKeyEnv
	}
	b58 := os.Getenv(envKey)
	if b58 == "" {
		return nil, errors.New(envKey + " not set")
	}
	return FromBase58(b58)
}

// Address returns the base58 public key.
func (s *Ed25519Signer) Address() string {
	return s.key.PublicKey().String()
}

// Sign signs payload.
func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) {
	sig, err := s.key.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig[:], nil
}

// Verify checks a signature produced by Sign against address.
func Verify(address string, payload, signature []byte) bool {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil || len(signature) != 64 {
		return false
	}
	return solana.SignatureFromBytes(signature).Verify(pub, payload)
}

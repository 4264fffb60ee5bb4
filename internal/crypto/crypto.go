package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize     = 32     // Salt size in bytes
	KeySize      = 32     // AES-256 key size
	NonceSize    = 12     // GCM nonce size
	TagSize      = 16     // GCM authentication tag size
	MinIters     = 100000 // Minimum accepted PBKDF2 iterations
	DefaultIters = 210000 // Default PBKDF2 iterations (OWASP minimum)

	// Algorithm is the tag recorded in every envelope.
	Algorithm = "AES-256-GCM"
)

var (
	ErrKeyDerivation   = errors.New("key derivation failed")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// Envelope bundles ciphertext with everything needed to attempt
// decryption given the correct key. The salt is the key-derivation
// salt of the key the envelope was sealed under; it is carried so a
// record remains decryptable after a password change rotates the
// journal salt.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Salt       []byte `json:"salt,omitempty"`
	Algorithm  string `json:"algorithm"`
}

// DeriveKey derives an AES-256 key from a password using
// PBKDF2-HMAC-SHA256. Identical inputs produce identical keys.
func DeriveKey(password, salt []byte, iterations int) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: empty password", ErrKeyDerivation)
	}
	if iterations < MinIters {
		return nil, fmt.Errorf("%w: %d iterations below minimum %d", ErrKeyDerivation, iterations, MinIters)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrKeyDerivation)
	}
	return pbkdf2.Key(password, salt, iterations, KeySize, sha256.New), nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce.
// The caller owns stamping Envelope.Salt with the key-derivation salt.
func Encrypt(plaintext, key []byte) (*Envelope, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
		Algorithm:  Algorithm,
	}, nil
}

// Decrypt opens an envelope and verifies its integrity tag. Any
// integrity failure (wrong key, corrupted data, nonce mismatch)
// surfaces as the same ErrAuthFailed.
func Decrypt(env *Envelope, key []byte) ([]byte, error) {
	if env == nil || len(env.Nonce) != NonceSize || len(env.Ciphertext) < TagSize {
		return nil, ErrInvalidEnvelope
	}
	if env.Algorithm != "" && env.Algorithm != Algorithm {
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidEnvelope, env.Algorithm)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

// GenerateSalt generates a random key-derivation salt.
func GenerateSalt() ([]byte, error) {
	return GenerateRandom(SaltSize)
}

// GenerateNonce generates a random 96-bit GCM nonce.
func GenerateNonce() ([]byte, error) {
	return GenerateRandom(NonceSize)
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

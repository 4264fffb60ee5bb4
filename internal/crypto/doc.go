// Package crypto provides the symmetric encryption core for notelock.
//
// Encryption uses AES-256-GCM with:
//   - 32-byte key derived from password via PBKDF2
//   - 12-byte random nonce per encryption operation
//   - Authenticated encryption prevents tampering
//
// Key derivation uses PBKDF2-HMAC-SHA256 with:
//   - 32-byte random salt (stored unencrypted)
//   - 210,000 iterations by default, 100,000 minimum enforced
//
// Every Encrypt call generates a fresh nonce; a nonce is never reused
// under the same key. Decryption failures are uniform: wrong key,
// corrupted ciphertext and mismatched nonce all return ErrAuthFailed.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - The package performs no I/O and never logs plaintext or keys
package crypto

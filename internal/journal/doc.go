// Package journal is the facade over the encrypted record store and the
// key vault. Entries are encrypted before they reach storage and
// decrypted only inside a scoped key access, so everything below this
// package handles ciphertext envelopes exclusively.
package journal

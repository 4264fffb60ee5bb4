// Package vault owns the in-memory master key and its lifecycle.
//
// The state machine is Locked -> Unlocking -> Unlocked -> Locked.
// Unlock derives the key with the crypto package and verifies it
// against a stored key-check envelope; a wrong password and a
// corrupted salt both produce ErrInvalidPassword so callers cannot
// distinguish the two. The key is never serialized and is zeroed on
// lock, auto-lock expiry and failed unlock.
//
// WithKey provides scoped key access for a single operation. Any
// access resets the inactivity timer; expiry locks the vault and
// notifies subscribers.
package vault

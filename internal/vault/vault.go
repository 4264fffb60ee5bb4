package vault

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/notelock/notelock/internal/crypto"
)

const keyCheckString = "notelock-key-check"

var (
	// ErrInvalidPassword covers both a wrong password and a corrupted
	// salt or key check. The two are deliberately indistinguishable.
	ErrInvalidPassword  = errors.New("invalid password")
	ErrLocked           = errors.New("vault is locked")
	ErrAlreadyUnlocking = errors.New("unlock already in progress")
)

// State is the vault lifecycle state.
type State int

const (
	Locked State = iota
	Unlocking
	Unlocked
)

func (s State) String() string {
	switch s {
	case Unlocking:
		return "unlocking"
	case Unlocked:
		return "unlocked"
	default:
		return "locked"
	}
}

// DeriveFunc derives a key from a password. Injectable for tests;
// production use is crypto.DeriveKey.
type DeriveFunc func(password, salt []byte, iterations int) ([]byte, error)

// Config describes a vault. Salt, Iterations and KeyCheck come from the
// journal's config bucket; AutoLock of zero disables the inactivity timer.
type Config struct {
	Salt       []byte
	Iterations int
	KeyCheck   *crypto.Envelope
	AutoLock   time.Duration
	Derive     DeriveFunc
}

// Vault owns the in-memory master key. The key exists only while the
// vault is unlocked and is zeroed on every transition to Locked.
type Vault struct {
	mu    sync.Mutex
	cfg   Config
	state State
	key   []byte
	timer *time.Timer
	subs  []func()
}

// New creates a locked vault.
func New(cfg Config) *Vault {
	if cfg.Derive == nil {
		cfg.Derive = crypto.DeriveKey
	}
	return &Vault{cfg: cfg}
}

// Unlock derives the master key from the password and verifies it
// against the stored key check. A second Unlock while one is in flight
// fails with ErrAlreadyUnlocking instead of deriving twice.
func (v *Vault) Unlock(password []byte) error {
	v.mu.Lock()
	switch v.state {
	case Unlocking:
		v.mu.Unlock()
		return ErrAlreadyUnlocking
	case Unlocked:
		v.resetTimerLocked()
		v.mu.Unlock()
		return nil
	}
	if v.cfg.KeyCheck == nil {
		v.mu.Unlock()
		return fmt.Errorf("vault has no key check")
	}
	v.state = Unlocking
	v.mu.Unlock()

	// Derivation is CPU-bound; run it outside the lock so IsUnlocked
	// and Lock stay responsive.
	key, err := v.cfg.Derive(password, v.cfg.Salt, v.cfg.Iterations)
	if err != nil {
		v.failUnlock(nil)
		return ErrInvalidPassword
	}

	if !VerifyKey(key, v.cfg.KeyCheck) {
		v.failUnlock(key)
		return ErrInvalidPassword
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Unlocking {
		// Lock() won the race while we were deriving.
		crypto.ClearBytes(key)
		return ErrLocked
	}
	v.key = key
	v.state = Unlocked
	v.resetTimerLocked()
	return nil
}

func (v *Vault) failUnlock(key []byte) {
	if key != nil {
		crypto.ClearBytes(key)
	}
	v.mu.Lock()
	if v.state == Unlocking {
		v.state = Locked
	}
	v.mu.Unlock()
}

// Lock zeroes the master key and transitions to Locked. Idempotent.
// Subscribers are notified on every Unlocked -> Locked transition,
// including auto-lock expiry.
func (v *Vault) Lock() {
	v.mu.Lock()
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	was := v.state
	crypto.ClearBytes(v.key)
	v.key = nil
	v.state = Locked
	subs := v.subs
	v.mu.Unlock()

	if was == Unlocked {
		for _, fn := range subs {
			fn()
		}
	}
}

// IsUnlocked reports whether the master key is present in memory.
func (v *Vault) IsUnlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state == Unlocked
}

// State returns the current lifecycle state.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// WithKey grants fn scoped access to the master key for exactly one
// operation. The key reference must not be retained beyond the call;
// the vault holds its mutex for the duration, so Lock() can interrupt
// between operations but never mid-operation. Resets the inactivity
// timer.
func (v *Vault) WithKey(fn func(key []byte) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Unlocked {
		return ErrLocked
	}
	v.resetTimerLocked()
	return fn(v.key)
}

// Subscribe registers a callback invoked after the vault locks.
func (v *Vault) Subscribe(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.subs = append(v.subs, fn)
}

func (v *Vault) resetTimerLocked() {
	if v.cfg.AutoLock <= 0 {
		return
	}
	if v.timer != nil {
		v.timer.Stop()
	}
	v.timer = time.AfterFunc(v.cfg.AutoLock, v.Lock)
}

// VerifyKey reports whether key decrypts the stored key check. Used by
// password changes, which verify the old key without unlocking a vault.
func VerifyKey(key []byte, keyCheck *crypto.Envelope) bool {
	check, err := crypto.Decrypt(keyCheck, key)
	if err != nil {
		return false
	}
	return crypto.ConstantTimeCompare(check, []byte(keyCheckString))
}

// NewKeyCheck produces the envelope a fresh journal stores so later
// unlocks can verify a derived key without a plaintext oracle.
func NewKeyCheck(key, salt []byte) (*crypto.Envelope, error) {
	env, err := crypto.Encrypt([]byte(keyCheckString), key)
	if err != nil {
		return nil, fmt.Errorf("failed to create key check: %w", err)
	}
	env.Salt = salt
	return env, nil
}

package vault

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/notelock/notelock/internal/crypto"
)

func testConfig(t *testing.T, password string) Config {
	t.Helper()
	salt, err := crypto.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	key, err := crypto.DeriveKey([]byte(password), salt, crypto.MinIters)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	defer crypto.ClearBytes(key)

	check, err := NewKeyCheck(key, salt)
	if err != nil {
		t.Fatalf("NewKeyCheck failed: %v", err)
	}

	return Config{
		Salt:       salt,
		Iterations: crypto.MinIters,
		KeyCheck:   check,
	}
}

func TestUnlockAndLock(t *testing.T) {
	v := New(testConfig(t, "correct-horse"))

	if v.IsUnlocked() {
		t.Error("Fresh vault should be locked")
	}

	if err := v.Unlock([]byte("correct-horse")); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if !v.IsUnlocked() {
		t.Error("Vault should be unlocked")
	}

	// Unlock while unlocked is a no-op.
	if err := v.Unlock([]byte("correct-horse")); err != nil {
		t.Errorf("Second unlock should succeed, got %v", err)
	}

	v.Lock()
	if v.IsUnlocked() {
		t.Error("Vault should be locked after Lock")
	}

	// Lock is idempotent.
	v.Lock()
}

func TestUnlockWrongPassword(t *testing.T) {
	v := New(testConfig(t, "correct-horse"))

	if err := v.Unlock([]byte("wrong-horse")); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("Expected ErrInvalidPassword, got %v", err)
	}
	if v.IsUnlocked() {
		t.Error("Vault should stay locked after failed unlock")
	}

	// A failed unlock must not wedge the state machine.
	if err := v.Unlock([]byte("correct-horse")); err != nil {
		t.Fatalf("Unlock after failure: %v", err)
	}
}

func TestUnlockCorruptedSaltConflated(t *testing.T) {
	cfg := testConfig(t, "correct-horse")
	cfg.Salt[0] ^= 0xff

	v := New(cfg)
	if err := v.Unlock([]byte("correct-horse")); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("Corrupted salt should look like a wrong password, got %v", err)
	}
}

func TestWithKeyScopedAccess(t *testing.T) {
	v := New(testConfig(t, "correct-horse"))

	if err := v.WithKey(func([]byte) error { return nil }); !errors.Is(err, ErrLocked) {
		t.Errorf("WithKey on locked vault: expected ErrLocked, got %v", err)
	}

	if err := v.Unlock([]byte("correct-horse")); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	var seen int
	err := v.WithKey(func(key []byte) error {
		seen = len(key)
		return nil
	})
	if err != nil {
		t.Fatalf("WithKey failed: %v", err)
	}
	if seen != crypto.KeySize {
		t.Errorf("Expected %d-byte key, got %d", crypto.KeySize, seen)
	}

	v.Lock()
	if err := v.WithKey(func([]byte) error { return nil }); !errors.Is(err, ErrLocked) {
		t.Errorf("WithKey after Lock: expected ErrLocked, got %v", err)
	}
}

func TestConcurrentUnlockSerialized(t *testing.T) {
	cfg := testConfig(t, "correct-horse")

	started := make(chan struct{})
	release := make(chan struct{})
	cfg.Derive = func(password, salt []byte, iterations int) ([]byte, error) {
		close(started)
		<-release
		return crypto.DeriveKey(password, salt, iterations)
	}

	v := New(cfg)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := v.Unlock([]byte("correct-horse")); err != nil {
			t.Errorf("First unlock failed: %v", err)
		}
	}()

	<-started
	if err := v.Unlock([]byte("correct-horse")); !errors.Is(err, ErrAlreadyUnlocking) {
		t.Errorf("Expected ErrAlreadyUnlocking, got %v", err)
	}

	close(release)
	wg.Wait()
	if !v.IsUnlocked() {
		t.Error("First unlock should have completed")
	}
}

func TestAutoLockNotifiesSubscribers(t *testing.T) {
	cfg := testConfig(t, "correct-horse")
	cfg.AutoLock = 20 * time.Millisecond

	v := New(cfg)
	locked := make(chan struct{})
	v.Subscribe(func() { close(locked) })

	if err := v.Unlock([]byte("correct-horse")); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	select {
	case <-locked:
	case <-time.After(2 * time.Second):
		t.Fatal("Auto-lock did not fire")
	}

	if v.IsUnlocked() {
		t.Error("Vault should be locked after auto-lock")
	}
	if err := v.WithKey(func([]byte) error { return nil }); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked after auto-lock, got %v", err)
	}
}

func TestWithKeyResetsAutoLock(t *testing.T) {
	cfg := testConfig(t, "correct-horse")
	cfg.AutoLock = 150 * time.Millisecond

	v := New(cfg)
	if err := v.Unlock([]byte("correct-horse")); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	// Keep touching the vault for longer than the auto-lock window.
	for i := 0; i < 5; i++ {
		time.Sleep(50 * time.Millisecond)
		if err := v.WithKey(func([]byte) error { return nil }); err != nil {
			t.Fatalf("WithKey failed on touch %d: %v", i, err)
		}
	}

	if !v.IsUnlocked() {
		t.Error("Activity should keep the vault unlocked")
	}
	v.Lock()
}

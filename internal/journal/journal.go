package journal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/notelock/notelock/internal/crypto"
	"github.com/notelock/notelock/internal/storage"
	"github.com/notelock/notelock/internal/vault"
)

var (
	ErrNotInitialized = errors.New("journal not initialized")
	ErrAlreadyExists  = errors.New("journal already exists")
	ErrEntryDeleted   = errors.New("entry is deleted")
)

// Entry is a decrypted journal entry. It exists only transiently while
// the vault is unlocked; the store never holds this form.
type Entry struct {
	ID        string
	Title     string
	Content   string
	WordCount int
	Mood      int
	TagIDs    []string
	CreatedAt time.Time
	UpdatedAt time.Time
	Sync      storage.SyncStatus
}

// Summary is the plaintext metadata of an entry. Listing summaries
// requires no key, so a locked journal can still render its index.
type Summary struct {
	ID        string
	WordCount int
	Mood      int
	TagIDs    []string
	CreatedAt time.Time
	UpdatedAt time.Time
	Sync      storage.SyncStatus
}

// Options tune a journal. The zero value is usable.
type Options struct {
	Iterations int           // KDF iterations for new journals
	AutoLock   time.Duration // inactivity lock, 0 disables
	Now        func() time.Time
}

// Journal ties the record store and the key vault together behind one
// facade. All plaintext crosses the crypto boundary inside this package;
// callers above it see either ciphertext envelopes or decrypted entries.
type Journal struct {
	store *storage.Store
	vault *vault.Vault
	opts  Options
}

// Create initializes a new journal database at path, protected by
// password. Fails with ErrAlreadyExists if one is already there.
func Create(path string, password []byte, opts Options) (*Journal, error) {
	if opts.Iterations <= 0 {
		opts.Iterations = crypto.DefaultIters
	}

	store, err := storage.Open(path, storage.Options{Now: opts.Now})
	if err != nil {
		return nil, err
	}

	initialized, err := store.IsInitialized()
	if err != nil {
		store.Close()
		return nil, err
	}
	if initialized {
		store.Close()
		return nil, ErrAlreadyExists
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		store.Close()
		return nil, err
	}
	key, err := crypto.DeriveKey(password, salt, opts.Iterations)
	if err != nil {
		store.Close()
		return nil, err
	}
	defer crypto.ClearBytes(key)

	keyCheck, err := vault.NewKeyCheck(key, salt)
	if err != nil {
		store.Close()
		return nil, err
	}

	if err := store.Initialize(); err != nil {
		store.Close()
		return nil, err
	}
	if err := store.SetSalt(salt); err != nil {
		store.Close()
		return nil, err
	}
	if err := store.SetIterations(uint32(opts.Iterations)); err != nil {
		store.Close()
		return nil, err
	}
	if err := store.SetKeyCheck(keyCheck); err != nil {
		store.Close()
		return nil, err
	}
	if _, err := store.GetOrCreateJournalID(); err != nil {
		store.Close()
		return nil, err
	}

	return &Journal{
		store: store,
		vault: newVault(salt, opts.Iterations, keyCheck, opts.AutoLock),
		opts:  opts,
	}, nil
}

// Open opens an existing journal. The returned journal is locked.
func Open(path string, opts Options) (*Journal, error) {
	store, err := storage.Open(path, storage.Options{Now: opts.Now})
	if err != nil {
		return nil, err
	}

	initialized, err := store.IsInitialized()
	if err != nil {
		store.Close()
		return nil, err
	}
	if !initialized {
		store.Close()
		return nil, ErrNotInitialized
	}

	salt, err := store.GetSalt()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load salt: %w", err)
	}
	iterations, err := store.GetIterations()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load iterations: %w", err)
	}
	keyCheck, err := store.GetKeyCheck()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load key check: %w", err)
	}

	return &Journal{
		store: store,
		vault: newVault(salt, int(iterations), keyCheck, opts.AutoLock),
		opts:  opts,
	}, nil
}

func newVault(salt []byte, iterations int, keyCheck *crypto.Envelope, autoLock time.Duration) *vault.Vault {
	return vault.New(vault.Config{
		Salt:       salt,
		Iterations: iterations,
		KeyCheck:   keyCheck,
		AutoLock:   autoLock,
	})
}

// Close locks the journal and releases the database.
func (j *Journal) Close() error {
	j.vault.Lock()
	return j.store.Close()
}

// Unlock derives the master key from password. Wrong passwords and
// corrupted key material both surface as vault.ErrInvalidPassword.
func (j *Journal) Unlock(password []byte) error {
	return j.vault.Unlock(password)
}

// Lock zeroes the master key. Stored entries remain listable.
func (j *Journal) Lock() {
	j.vault.Lock()
}

// IsUnlocked reports whether entry content is currently readable.
func (j *Journal) IsUnlocked() bool {
	return j.vault.IsUnlocked()
}

// Store exposes the underlying record store for sync wiring.
func (j *Journal) Store() *storage.Store {
	return j.store
}

// Vault exposes the key vault, e.g. for auto-lock subscriptions.
func (j *Journal) Vault() *vault.Vault {
	return j.vault
}

// CreateEntry encrypts and stores a new entry and queues it for sync.
// The word count is computed from the plaintext before encryption, so
// a locked journal can still show it.
func (j *Journal) CreateEntry(title, content string, mood int, tagIDs []string) (*Summary, error) {
	id := uuid.NewString()
	var summary *Summary
	err := j.vault.WithKey(func(key []byte) error {
		rec, err := sealRecord(id, title, content, mood, tagIDs, key)
		if err != nil {
			return err
		}
		if _, err := j.store.PutAndEnqueue(rec, storage.OpCreate); err != nil {
			return err
		}
		summary = summarize(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// UpdateEntry re-encrypts an existing entry with new content and queues
// the update. CreatedAt is preserved.
func (j *Journal) UpdateEntry(id, title, content string, mood int, tagIDs []string) (*Summary, error) {
	existing, err := j.store.Get(id)
	if err != nil {
		return nil, err
	}
	if existing.Deleted {
		return nil, ErrEntryDeleted
	}

	var summary *Summary
	err = j.vault.WithKey(func(key []byte) error {
		rec, err := sealRecord(id, title, content, mood, tagIDs, key)
		if err != nil {
			return err
		}
		rec.CreatedAt = existing.CreatedAt
		if _, err := j.store.PutAndEnqueue(rec, storage.OpUpdate); err != nil {
			return err
		}
		summary = summarize(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// DeleteEntry tombstones an entry and queues the delete. The record is
// purged once the remote acknowledges; deleting needs no key.
func (j *Journal) DeleteEntry(id string) error {
	rec, err := j.store.Get(id)
	if err != nil {
		return err
	}
	if rec.Deleted {
		return ErrEntryDeleted
	}
	_, err = j.store.PutAndEnqueue(rec, storage.OpDelete)
	return err
}

// Entry decrypts one entry. Requires an unlocked vault.
func (j *Journal) Entry(id string) (*Entry, error) {
	rec, err := j.store.Get(id)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, storage.ErrNotFound
	}

	var entry *Entry
	err = j.vault.WithKey(func(key []byte) error {
		var err error
		entry, err = openRecord(rec, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListEntries returns plaintext metadata for all active entries, newest
// first. Works while locked.
func (j *Journal) ListEntries() ([]Summary, error) {
	records, err := j.store.ListActive()
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, len(records))
	for i := range records {
		summaries[i] = *summarize(&records[i])
	}
	return summaries, nil
}

// ChangePassword re-encrypts every envelope in the journal under a key
// derived from newPassword with a fresh salt. The current password must
// verify first. The vault ends up locked; callers re-unlock with the
// new password.
func (j *Journal) ChangePassword(current, newPassword []byte) error {
	salt, err := j.store.GetSalt()
	if err != nil {
		return err
	}
	iterations, err := j.store.GetIterations()
	if err != nil {
		return err
	}
	keyCheck, err := j.store.GetKeyCheck()
	if err != nil {
		return err
	}

	oldKey, err := crypto.DeriveKey(current, salt, int(iterations))
	if err != nil {
		return vault.ErrInvalidPassword
	}
	defer crypto.ClearBytes(oldKey)
	if !vault.VerifyKey(oldKey, keyCheck) {
		return vault.ErrInvalidPassword
	}

	newSalt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	newIterations := j.opts.Iterations
	if newIterations <= 0 {
		newIterations = crypto.DefaultIters
	}
	newKey, err := crypto.DeriveKey(newPassword, newSalt, newIterations)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(newKey)

	records, err := j.store.AllRecords()
	if err != nil {
		return err
	}
	for i := range records {
		if err := reseal(&records[i].Content, oldKey, newKey, newSalt); err != nil {
			return fmt.Errorf("failed to re-encrypt entry %s: %w", records[i].ID, err)
		}
		if records[i].Title != nil {
			if err := reseal(records[i].Title, oldKey, newKey, newSalt); err != nil {
				return fmt.Errorf("failed to re-encrypt entry %s: %w", records[i].ID, err)
			}
		}
	}

	newKeyCheck, err := vault.NewKeyCheck(newKey, newSalt)
	if err != nil {
		return err
	}

	if err := j.store.RewriteRecords(records); err != nil {
		return err
	}
	if err := j.store.SetSalt(newSalt); err != nil {
		return err
	}
	if err := j.store.SetIterations(uint32(newIterations)); err != nil {
		return err
	}
	if err := j.store.SetKeyCheck(newKeyCheck); err != nil {
		return err
	}
	if err := j.store.UpdateModified(); err != nil {
		return err
	}

	j.vault.Lock()
	j.vault = newVault(newSalt, newIterations, newKeyCheck, j.opts.AutoLock)
	return nil
}

// reseal decrypts env with oldKey and re-encrypts it under newKey,
// stamping the new salt.
func reseal(env *crypto.Envelope, oldKey, newKey, newSalt []byte) error {
	plaintext, err := crypto.Decrypt(env, oldKey)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(plaintext)

	sealed, err := crypto.Encrypt(plaintext, newKey)
	if err != nil {
		return err
	}
	sealed.Salt = newSalt
	*env = *sealed
	return nil
}

// sealRecord encrypts title and content into a fresh record. Word count
// and mood stay plaintext; that trade-off is what lets the index render
// without a key.
func sealRecord(id, title, content string, mood int, tagIDs []string, key []byte) (*storage.Record, error) {
	contentEnv, err := crypto.Encrypt([]byte(content), key)
	if err != nil {
		return nil, err
	}
	rec := &storage.Record{
		ID:        id,
		Content:   *contentEnv,
		WordCount: CountWords(content),
		Mood:      mood,
		TagIDs:    tagIDs,
	}
	if title != "" {
		titleEnv, err := crypto.Encrypt([]byte(title), key)
		if err != nil {
			return nil, err
		}
		rec.Title = titleEnv
	}
	return rec, nil
}

// openRecord decrypts a record into an Entry.
func openRecord(rec *storage.Record, key []byte) (*Entry, error) {
	content, err := crypto.Decrypt(&rec.Content, key)
	if err != nil {
		return nil, err
	}
	entry := &Entry{
		ID:        rec.ID,
		Content:   string(content),
		WordCount: rec.WordCount,
		Mood:      rec.Mood,
		TagIDs:    rec.TagIDs,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Sync:      rec.Sync,
	}
	if rec.Title != nil {
		title, err := crypto.Decrypt(rec.Title, key)
		if err != nil {
			return nil, err
		}
		entry.Title = string(title)
	}
	return entry, nil
}

func summarize(rec *storage.Record) *Summary {
	return &Summary{
		ID:        rec.ID,
		WordCount: rec.WordCount,
		Mood:      rec.Mood,
		TagIDs:    rec.TagIDs,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Sync:      rec.Sync,
	}
}

// CountWords counts whitespace-separated words, the same definition the
// index displays.
func CountWords(content string) int {
	return len(strings.Fields(content))
}

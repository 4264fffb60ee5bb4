package storage

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/notelock/notelock/internal/crypto"
)

// Bucket names
var (
	ConfigBucket  = []byte("config")  // KDF params (salt, iterations), key check, watermark - unencrypted
	RecordsBucket = []byte("records") // Encrypted journal records plus plaintext sync metadata
	QueueBucket   = []byte("queue")   // Pending sync operations, keyed by sequence number
)

// Config keys
var (
	ConfigVersion   = []byte("version")
	ConfigCreated   = []byte("created")
	ConfigModified  = []byte("modified")
	ConfigSalt      = []byte("salt")
	ConfigIters     = []byte("iterations")
	ConfigKeyCheck  = []byte("key_check")
	ConfigJournalID = []byte("journal_id")
	ConfigWatermark = []byte("watermark")
)

// Retry policy defaults for queued operations.
const (
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffCap  = 5 * time.Minute
	DefaultRetryLimit  = 5
)

// Options tune the store. The zero value gets sane defaults; the clock
// is injectable so backoff and sync timestamps are testable.
type Options struct {
	Now         func() time.Time
	BackoffBase time.Duration
	BackoffCap  time.Duration
	RetryLimit  int
}

// Store provides BBolt-based storage for notelock: the encrypted record
// store and the sync queue share one database file.
type Store struct {
	db   *bolt.DB
	opts Options
}

// Open opens or creates a notelock database
func Open(path string, opts Options) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffCap < opts.BackoffBase {
		opts.BackoffCap = DefaultBackoffCap
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = DefaultRetryLimit
	}

	return &Store{db: db, opts: opts}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Initialize creates the bucket structure for a new journal
func (s *Store) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, RecordsBucket, QueueBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if err := config.Put(ConfigVersion, []byte("1")); err != nil {
			return err
		}

		now := s.opts.Now()
		created, _ := now.MarshalBinary()
		if err := config.Put(ConfigCreated, created); err != nil {
			return err
		}
		return config.Put(ConfigModified, created)
	})
}

// IsInitialized checks if the database has been initialized
func (s *Store) IsInitialized() (bool, error) {
	var initialized bool
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config != nil && config.Get(ConfigVersion) != nil {
			initialized = true
		}
		return nil
	})
	return initialized, err
}

// SetSalt stores the KDF salt
func (s *Store) SetSalt(salt []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ConfigBucket).Put(ConfigSalt, salt)
	})
}

// GetSalt retrieves the KDF salt
func (s *Store) GetSalt() ([]byte, error) {
	var salt []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		salt = config.Get(ConfigSalt)
		if salt == nil {
			return fmt.Errorf("salt not found")
		}
		// Make a copy since the slice is only valid during the transaction
		salt = append([]byte(nil), salt...)
		return nil
	})
	return salt, err
}

// SetIterations stores the KDF iterations
func (s *Store) SetIterations(iterations uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		iters := make([]byte, 4)
		binary.BigEndian.PutUint32(iters, iterations)
		return tx.Bucket(ConfigBucket).Put(ConfigIters, iters)
	})
}

// GetIterations retrieves the KDF iterations
func (s *Store) GetIterations() (uint32, error) {
	var iterations uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		iters := config.Get(ConfigIters)
		if iters == nil || len(iters) != 4 {
			return fmt.Errorf("iterations not found")
		}
		iterations = binary.BigEndian.Uint32(iters)
		return nil
	})
	return iterations, err
}

// SetKeyCheck stores the key-check envelope used to verify unlocks
func (s *Store) SetKeyCheck(env *crypto.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal key check: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ConfigBucket).Put(ConfigKeyCheck, data)
	})
}

// GetKeyCheck retrieves the key-check envelope
func (s *Store) GetKeyCheck() (*crypto.Envelope, error) {
	var env crypto.Envelope
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		data := config.Get(ConfigKeyCheck)
		if data == nil {
			return fmt.Errorf("key check not found")
		}
		return json.Unmarshal(data, &env)
	})
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// UpdateModified updates the last modified timestamp
func (s *Store) UpdateModified() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		modified, _ := s.opts.Now().MarshalBinary()
		return tx.Bucket(ConfigBucket).Put(ConfigModified, modified)
	})
}

// GetModified retrieves the last modified timestamp
func (s *Store) GetModified() (time.Time, error) {
	var modified time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		data := config.Get(ConfigModified)
		if data == nil {
			return fmt.Errorf("modified time not found")
		}
		return modified.UnmarshalBinary(data)
	})
	return modified, err
}

// GetOrCreateJournalID retrieves the journal ID or generates a new one.
// The ID keys keyring entries and identifies this journal to the remote.
func (s *Store) GetOrCreateJournalID() (string, error) {
	var journalID string
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		if data := config.Get(ConfigJournalID); data != nil {
			journalID = string(data)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if journalID != "" {
		return journalID, nil
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate journal ID: %w", err)
	}
	journalID = hex.EncodeToString(b)

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ConfigBucket).Put(ConfigJournalID, []byte(journalID))
	})
	if err != nil {
		return "", err
	}
	return journalID, nil
}

// Watermark returns the last successfully synchronized point. A zero
// time means nothing has been pulled yet.
func (s *Store) Watermark() (time.Time, error) {
	var watermark time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		data := config.Get(ConfigWatermark)
		if data == nil {
			return nil
		}
		return watermark.UnmarshalBinary(data)
	})
	return watermark, err
}

// SetWatermark persists the sync watermark
func (s *Store) SetWatermark(t time.Time) error {
	data, err := t.MarshalBinary()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ConfigBucket).Put(ConfigWatermark, data)
	})
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after purging tombstones to reclaim disk space.
func (s *Store) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				dstBucket.SetSequence(srcBucket.Sequence())
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	s.db, err = bolt.Open(srcPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/notelock/notelock/internal/crypto"
)

var ErrNotFound = errors.New("record not found")

// SyncState tracks a record's relation to the remote store.
type SyncState string

const (
	SyncSynced  SyncState = "synced"
	SyncPending SyncState = "pending"
	SyncFailed  SyncState = "failed"
)

// SyncStatus is the plaintext sync metadata kept alongside a record.
// Mutated only by the sync coordinator.
type SyncStatus struct {
	State        SyncState  `json:"state"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	RetryCount   int        `json:"retryCount,omitempty"`
}

// Record is a journal entry at rest: content and title stay inside
// their envelopes, everything else is plaintext metadata the UI needs
// without a key. Records are tombstoned rather than removed until the
// remote confirms the delete.
type Record struct {
	ID        string           `json:"id"`
	Content   crypto.Envelope  `json:"content"`
	Title     *crypto.Envelope `json:"title,omitempty"`
	WordCount int              `json:"wordCount"`
	Mood      int              `json:"mood,omitempty"` // 1-5, 0 when absent
	TagIDs    []string         `json:"tagIds,omitempty"`
	Deleted   bool             `json:"deleted,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	DeletedAt *time.Time       `json:"deletedAt,omitempty"`
	Sync      SyncStatus       `json:"sync"`
}

func putRecord(b *bolt.Bucket, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return b.Put([]byte(rec.ID), data)
}

func getRecord(b *bolt.Bucket, id string) (*Record, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}
	return &rec, nil
}

// Put upserts a record by id and stamps UpdatedAt. The store never
// inspects plaintext; envelopes pass through opaque. The record is
// written atomically: a reader never observes a half-written envelope.
func (s *Store) Put(rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record has no id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		now := s.opts.Now()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		return putRecord(tx.Bucket(RecordsBucket), rec)
	})
}

// Get retrieves a record by id, including tombstoned ones.
func (s *Store) Get(id string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx.Bucket(RecordsBucket), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListActive returns all non-deleted records, newest first by CreatedAt.
// Callers needing another order re-sort.
func (s *Store) ListActive() ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(RecordsBucket).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", k, err)
			}
			if !rec.Deleted {
				records = append(records, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// SoftDelete sets the tombstone flag and DeletedAt. The record remains
// queryable by id until a remote-confirmed purge.
func (s *Store) SoftDelete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(RecordsBucket)
		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		now := s.opts.Now()
		rec.Deleted = true
		rec.DeletedAt = &now
		rec.UpdatedAt = now
		return putRecord(b, rec)
	})
}

// SetSyncState updates a record's sync metadata.
func (s *Store) SetSyncState(id string, state SyncState, syncedAt *time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(RecordsBucket)
		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		rec.Sync.State = state
		if syncedAt != nil {
			rec.Sync.LastSyncedAt = syncedAt
			rec.Sync.RetryCount = 0
		}
		return putRecord(b, rec)
	})
}

// ApplyRemote stores a remote record verbatim, marking it synced. The
// remote timestamps are authoritative so UpdatedAt is not restamped.
func (s *Store) ApplyRemote(rec *Record, syncedAt time.Time) error {
	if rec.ID == "" {
		return fmt.Errorf("record has no id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		rec.Sync = SyncStatus{State: SyncSynced, LastSyncedAt: &syncedAt}
		return putRecord(tx.Bucket(RecordsBucket), rec)
	})
}

// Purge physically removes a tombstoned record. Called only after the
// remote has confirmed the delete propagated.
func (s *Store) Purge(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(RecordsBucket)
		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		if !rec.Deleted {
			return fmt.Errorf("record %s is not tombstoned", id)
		}
		return b.Delete([]byte(id))
	})
}

// AllRecords returns every record including tombstones, in key order.
// Used for password changes, which re-encrypt the whole journal.
func (s *Store) AllRecords() ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(RecordsBucket).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", k, err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RewriteRecords replaces records verbatim in a single transaction.
// Timestamps and sync metadata pass through untouched; this is the
// write path for password changes, which swap envelopes without
// mutating anything else.
func (s *Store) RewriteRecords(records []Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(RecordsBucket)
		for i := range records {
			if records[i].ID == "" {
				return fmt.Errorf("record has no id")
			}
			if err := putRecord(b, &records[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutAndEnqueue persists a local mutation and records its sync intent
// in one transaction, so a crash can not separate the two. The queued
// payload is a snapshot of the record at mutation time.
func (s *Store) PutAndEnqueue(rec *Record, kind OpKind) (*Operation, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("record has no id")
	}
	var op *Operation
	err := s.db.Update(func(tx *bolt.Tx) error {
		now := s.opts.Now()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		if kind == OpDelete {
			rec.Deleted = true
			rec.DeletedAt = &now
		}
		rec.Sync.State = SyncPending

		if err := putRecord(tx.Bucket(RecordsBucket), rec); err != nil {
			return err
		}

		var err error
		op, err = enqueueOp(tx.Bucket(QueueBucket), &Operation{
			Kind:       kind,
			RecordID:   rec.ID,
			Payload:    *rec,
			EnqueuedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var ErrOpNotFound = errors.New("operation not found")

// OpKind is the kind of a queued mutation intent.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// OpStatus is the lifecycle status of a queued operation. An operation
// is removed outright on acknowledgment, so only the waiting states are
// persisted.
type OpStatus string

const (
	OpPending OpStatus = "pending"
	OpFailed  OpStatus = "failed"
)

// Operation is one entry in the append-only sync log. The sequence
// number is monotonic and defines replay order; operations for the same
// record are never reordered, even under retry.
type Operation struct {
	Seq           uint64    `json:"seq"`
	Kind          OpKind    `json:"kind"`
	RecordID      string    `json:"recordId"`
	Payload       Record    `json:"payload"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
	RetryCount    int       `json:"retryCount,omitempty"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
	Status        OpStatus  `json:"status"`
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func putOp(b *bolt.Bucket, op *Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}
	return b.Put(seqKey(op.Seq), data)
}

func getOp(b *bolt.Bucket, seq uint64) (*Operation, error) {
	data := b.Get(seqKey(seq))
	if data == nil {
		return nil, ErrOpNotFound
	}
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation %d: %w", seq, err)
	}
	return &op, nil
}

func enqueueOp(b *bolt.Bucket, op *Operation) (*Operation, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return nil, fmt.Errorf("failed to assign sequence: %w", err)
	}
	op.Seq = seq
	op.Status = OpPending
	if err := putOp(b, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Enqueue appends an operation to the log, assigning the next monotonic
// sequence number.
func (s *Store) Enqueue(op *Operation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if op.EnqueuedAt.IsZero() {
			op.EnqueuedAt = s.opts.Now()
		}
		_, err := enqueueOp(tx.Bucket(QueueBucket), op)
		return err
	})
}

// PeekBatch returns up to max pending operations, oldest first, without
// removing them. Failed operations are excluded; max <= 0 means all.
func (s *Store) PeekBatch(max int) ([]Operation, error) {
	var ops []Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(QueueBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var op Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal operation %x: %w", k, err)
			}
			if op.Status == OpFailed {
				continue
			}
			ops = append(ops, op)
			if max > 0 && len(ops) >= max {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// Acknowledge removes an operation after the remote confirms durable
// application.
func (s *Store) Acknowledge(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(QueueBucket)
		if b.Get(seqKey(seq)) == nil {
			return ErrOpNotFound
		}
		return b.Delete(seqKey(seq))
	})
}

// Discard removes an operation without remote confirmation. Used when
// conflict resolution decides the local version loses.
func (s *Store) Discard(seq uint64) error {
	return s.Acknowledge(seq)
}

// MarkRetry increments the retry counter and schedules the next attempt
// with capped exponential backoff. Past the retry limit the operation
// transitions to terminal Failed instead. Returns the updated operation.
func (s *Store) MarkRetry(seq uint64) (*Operation, error) {
	var op *Operation
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(QueueBucket)
		var err error
		op, err = getOp(b, seq)
		if err != nil {
			return err
		}
		op.RetryCount++
		if op.RetryCount > s.opts.RetryLimit {
			op.Status = OpFailed
		} else {
			op.NextAttemptAt = s.opts.Now().Add(backoffDelay(s.opts.BackoffBase, s.opts.BackoffCap, op.RetryCount))
		}
		return putOp(b, op)
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// MarkFailed transitions an operation to terminal Failed status. It
// stays visible through FailedOps for manual intervention but is
// excluded from PeekBatch.
func (s *Store) MarkFailed(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(QueueBucket)
		op, err := getOp(b, seq)
		if err != nil {
			return err
		}
		op.Status = OpFailed
		return putOp(b, op)
	})
}

// FailedOps returns terminally failed operations, oldest first.
func (s *Store) FailedOps() ([]Operation, error) {
	var ops []Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(QueueBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var op Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal operation %x: %w", k, err)
			}
			if op.Status == OpFailed {
				ops = append(ops, op)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// QueueLen returns the number of pending and failed operations.
func (s *Store) QueueLen() (pending, failed int, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(QueueBucket).ForEach(func(k, v []byte) error {
			var op Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal operation %x: %w", k, err)
			}
			if op.Status == OpFailed {
				failed++
			} else {
				pending++
			}
			return nil
		})
	})
	return pending, failed, err
}

// backoffDelay computes base * 2^(retry-1), capped.
func backoffDelay(base, ceil time.Duration, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := base
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= ceil {
			return ceil
		}
	}
	if delay > ceil {
		return ceil
	}
	return delay
}

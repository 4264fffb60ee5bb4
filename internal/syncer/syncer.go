package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notelock/notelock/internal/storage"
)

const (
	DefaultConcurrency = 4
	DefaultTimeout     = 30 * time.Second
)

// Winner identifies which side a conflict resolution kept.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// ConflictRecord pairs a local pending operation with a divergent
// remote version. Conflicts are expected, not exceptional: they are
// resolved automatically and logged for audit.
type ConflictRecord struct {
	RecordID        string    `json:"record_id"`
	LocalSeq        uint64    `json:"local_seq"`
	LocalUpdatedAt  time.Time `json:"local_updated_at"`
	RemoteUpdatedAt time.Time `json:"remote_updated_at"`
	Winner          Winner    `json:"winner"`
	ResolvedAt      time.Time `json:"resolved_at"`
}

// Status aggregates the outcome of one sync run.
type Status struct {
	Pulled    int
	Applied   int
	Pushed    int
	Retried   int
	Failed    int
	Conflicts []ConflictRecord
	Watermark time.Time
}

// Config wires a coordinator. Store and Transport are required; the
// clock is injectable for deterministic tests.
type Config struct {
	Store       *storage.Store
	Transport   Transport
	Concurrency int           // max records pushed in parallel
	Timeout     time.Duration // per transport call
	Now         func() time.Time
	OnStatus    func(Status)
	Audit       *AuditLog
}

// Coordinator drives the sync queue against the remote transport and
// reconciles pulled changes into the local record store.
type Coordinator struct {
	cfg Config

	mu      sync.Mutex
	running bool
}

// New creates a coordinator with defaults filled in.
func New(cfg Config) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{cfg: cfg}
}

// Sync runs one pull-reconcile-drain cycle. A second invocation while a
// run is still draining is coalesced: it returns (nil, nil) immediately
// and no sequence number is ever pushed twice. Cancellation takes
// effect between pushes, never mid-push, so the queue stays consistent.
func (c *Coordinator) Sync(ctx context.Context) (*Status, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, nil
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	status := &Status{}

	watermark, err := c.cfg.Store.Watermark()
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}
	status.Watermark = watermark

	if err := c.pullAndReconcile(ctx, status); err != nil {
		c.report(status)
		return status, err
	}

	if err := c.drain(ctx, status); err != nil {
		c.report(status)
		return status, err
	}

	if status.Watermark.After(watermark) {
		if err := c.cfg.Store.SetWatermark(status.Watermark); err != nil {
			return status, fmt.Errorf("failed to persist watermark: %w", err)
		}
	}

	c.report(status)
	return status, nil
}

func (c *Coordinator) report(status *Status) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(*status)
	}
}

// pullAndReconcile fetches remote changes since the watermark and
// applies them, resolving conflicts against pending local operations
// by last-write-wins on UpdatedAt. Ties favor the local version.
func (c *Coordinator) pullAndReconcile(ctx context.Context, status *Status) error {
	pullCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	remotes, err := c.cfg.Transport.Pull(pullCtx, status.Watermark)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}
	status.Pulled = len(remotes)

	pending, err := c.cfg.Store.PeekBatch(0)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	byRecord := make(map[string][]storage.Operation)
	for _, op := range pending {
		byRecord[op.RecordID] = append(byRecord[op.RecordID], op)
	}

	now := c.cfg.Now()
	for i := range remotes {
		remote := remotes[i]
		if remote.UpdatedAt.After(status.Watermark) {
			status.Watermark = remote.UpdatedAt
		}

		ops := byRecord[remote.ID]
		if len(ops) == 0 {
			// No local pending operation: the remote is authoritative.
			if err := c.cfg.Store.ApplyRemote(&remote, now); err != nil {
				return fmt.Errorf("failed to apply remote record %s: %w", remote.ID, err)
			}
			status.Applied++
			continue
		}

		// Conflict: the local side is represented by its most recent
		// queued snapshot.
		localUpdatedAt := ops[len(ops)-1].Payload.UpdatedAt
		conflict := ConflictRecord{
			RecordID:        remote.ID,
			LocalSeq:        ops[len(ops)-1].Seq,
			LocalUpdatedAt:  localUpdatedAt,
			RemoteUpdatedAt: remote.UpdatedAt,
			ResolvedAt:      now,
		}

		if remote.UpdatedAt.After(localUpdatedAt) {
			// Remote wins: discard the losing local operations and
			// take the remote version.
			for _, op := range ops {
				if err := c.cfg.Store.Discard(op.Seq); err != nil && !errors.Is(err, storage.ErrOpNotFound) {
					return fmt.Errorf("failed to discard operation %d: %w", op.Seq, err)
				}
			}
			if err := c.cfg.Store.ApplyRemote(&remote, now); err != nil {
				return fmt.Errorf("failed to apply remote record %s: %w", remote.ID, err)
			}
			status.Applied++
			conflict.Winner = WinnerRemote
		} else {
			// Local wins, including exact timestamp ties: the client
			// is the one actively resolving, so its write proceeds.
			conflict.Winner = WinnerLocal
		}

		status.Conflicts = append(status.Conflicts, conflict)
		if c.cfg.Audit != nil {
			c.cfg.Audit.Append(conflict)
		}
	}

	return nil
}

// drain pushes pending operations to the transport in enqueue order.
// Operations for the same record are chained so they are delivered
// strictly in sequence; independent records may be in flight
// concurrently, bounded by Concurrency. Dispatch order is global FIFO,
// so with a concurrency of one the transport sees exactly the enqueue
// order.
func (c *Coordinator) drain(ctx context.Context, status *Status) error {
	ops, err := c.cfg.Store.PeekBatch(0)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	var mu sync.Mutex
	// stopped holds record ids whose lane ended this run; laneTail holds
	// the completion signal of each record's last dispatched operation.
	stopped := make(map[string]bool)
	laneTail := make(map[string]chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for _, op := range ops {
		op := op
		prevDone := laneTail[op.RecordID]
		done := make(chan struct{})
		laneTail[op.RecordID] = done

		// g.Go blocks while the limit is reached, so dispatch follows
		// queue order.
		g.Go(func() error {
			defer close(done)

			// An earlier operation for this record must finish first.
			if prevDone != nil {
				<-prevDone
			}
			if gctx.Err() != nil {
				return nil
			}

			mu.Lock()
			skip := stopped[op.RecordID]
			mu.Unlock()
			if skip {
				return nil
			}

			if !op.NextAttemptAt.IsZero() && c.cfg.Now().Before(op.NextAttemptAt) {
				// Retry delay not elapsed; later operations for this
				// record wait behind it. Other records continue.
				mu.Lock()
				stopped[op.RecordID] = true
				mu.Unlock()
				return nil
			}

			err := c.push(gctx, op)

			mu.Lock()
			defer mu.Unlock()
			stop, herr := c.handlePushResult(op, err, status)
			if stop {
				stopped[op.RecordID] = true
			}
			return herr
		})
	}

	return g.Wait()
}

func (c *Coordinator) push(ctx context.Context, op storage.Operation) error {
	pushCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.cfg.Transport.Push(pushCtx, op)
}

// handlePushResult updates queue and record state for one push outcome.
// A true stop return ends the record's lane for this run; other lanes
// are unaffected.
func (c *Coordinator) handlePushResult(op storage.Operation, err error, status *Status) (stop bool, _ error) {
	now := c.cfg.Now()

	if err == nil {
		if ackErr := c.cfg.Store.Acknowledge(op.Seq); ackErr != nil {
			return true, fmt.Errorf("failed to acknowledge operation %d: %w", op.Seq, ackErr)
		}
		if op.Kind == storage.OpDelete {
			// The remote confirmed the delete; the tombstone has
			// served its purpose.
			if purgeErr := c.cfg.Store.Purge(op.RecordID); purgeErr != nil && !errors.Is(purgeErr, storage.ErrNotFound) {
				return true, fmt.Errorf("failed to purge record %s: %w", op.RecordID, purgeErr)
			}
		} else {
			if stateErr := c.cfg.Store.SetSyncState(op.RecordID, storage.SyncSynced, &now); stateErr != nil && !errors.Is(stateErr, storage.ErrNotFound) {
				return true, stateErr
			}
		}
		status.Pushed++
		if op.Payload.UpdatedAt.After(status.Watermark) {
			status.Watermark = op.Payload.UpdatedAt
		}
		return false, nil
	}

	var rej *RejectedError
	if errors.As(err, &rej) {
		// Permanent rejection: no retries, surfaced via status.
		if failErr := c.cfg.Store.MarkFailed(op.Seq); failErr != nil {
			return true, failErr
		}
		if stateErr := c.cfg.Store.SetSyncState(op.RecordID, storage.SyncFailed, nil); stateErr != nil && !errors.Is(stateErr, storage.ErrNotFound) {
			return true, stateErr
		}
		status.Failed++
		return true, nil
	}

	if errors.Is(err, context.Canceled) {
		// Cancellation between pushes: the operation stays queued
		// untouched, no partial acknowledgment.
		return true, nil
	}

	// Transient failure: schedule a retry and stop this record's lane.
	updated, retryErr := c.cfg.Store.MarkRetry(op.Seq)
	if retryErr != nil {
		return true, retryErr
	}
	if updated.Status == storage.OpFailed {
		if stateErr := c.cfg.Store.SetSyncState(op.RecordID, storage.SyncFailed, nil); stateErr != nil && !errors.Is(stateErr, storage.ErrNotFound) {
			return true, stateErr
		}
		status.Failed++
	} else {
		status.Retried++
	}
	return true, nil
}

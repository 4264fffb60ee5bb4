package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notelock/notelock/internal/crypto"
	"github.com/notelock/notelock/internal/storage"
)

// fakeClock is a mutex-guarded manual clock. The drain path reads the
// clock from multiple goroutines, so the guard is not optional.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeTransport records every push attempt in order. pushFn, when set,
// decides the outcome per operation.
type fakeTransport struct {
	mu       sync.Mutex
	attempts []storage.Operation
	pushFn   func(op storage.Operation) error
	remotes  []storage.Record
	pullErr  error
}

func (f *fakeTransport) Push(ctx context.Context, op storage.Operation) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, op)
	fn := f.pushFn
	f.mu.Unlock()
	if fn != nil {
		return fn(op)
	}
	return nil
}

func (f *fakeTransport) Pull(ctx context.Context, since time.Time) ([]storage.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return f.remotes, nil
}

func (f *fakeTransport) attemptIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.attempts))
	for i, op := range f.attempts {
		ids[i] = op.RecordID
	}
	return ids
}

func (f *fakeTransport) attemptSeqs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	seqs := make([]uint64, len(f.attempts))
	for i, op := range f.attempts {
		seqs[i] = op.Seq
	}
	return seqs
}

func openTestStore(t *testing.T, clock *fakeClock) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), storage.Options{
		Now:         clock.Now,
		BackoffBase: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	t.Cleanup(func() { store.Close() })
	return store
}

func testEnvelope(plaintextHint string) crypto.Envelope {
	return crypto.Envelope{
		Ciphertext: []byte(plaintextHint),
		Nonce:      make([]byte, crypto.NonceSize),
		Salt:       make([]byte, crypto.SaltSize),
		Algorithm:  crypto.Algorithm,
	}
}

func enqueue(t *testing.T, store *storage.Store, id string, kind storage.OpKind) *storage.Operation {
	t.Helper()
	op, err := store.PutAndEnqueue(&storage.Record{
		ID:      id,
		Content: testEnvelope("ciphertext-" + id),
	}, kind)
	require.NoError(t, err)
	return op
}

func TestSyncDrainsOfflineQueue(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)
	tr := &fakeTransport{}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	for _, id := range []string{"a", "b", "c"} {
		enqueue(t, store, id, storage.OpCreate)
	}

	status, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, status.Pushed)

	pending, failed, err := store.QueueLen()
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, failed)

	for _, id := range []string{"a", "b", "c"} {
		rec, err := store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, storage.SyncSynced, rec.Sync.State)
		require.NotNil(t, rec.Sync.LastSyncedAt)
	}
}

func TestSyncPushesInEnqueueOrder(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)
	tr := &fakeTransport{}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now, Concurrency: 1})

	enqueue(t, store, "a", storage.OpCreate)
	enqueue(t, store, "b", storage.OpCreate)
	enqueue(t, store, "a", storage.OpUpdate)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "a"}, tr.attemptIDs())
	assert.Equal(t, []uint64{1, 2, 3}, tr.attemptSeqs())
}

func TestSameRecordStaysOrderedUnderConcurrency(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)
	tr := &fakeTransport{}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now, Concurrency: 8})

	var wantSeqs []uint64
	for i := 0; i < 5; i++ {
		op := enqueue(t, store, "a", storage.OpUpdate)
		wantSeqs = append(wantSeqs, op.Seq)
		enqueue(t, store, "b", storage.OpUpdate)
	}

	status, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, status.Pushed)

	var gotSeqs []uint64
	for _, op := range tr.attempts {
		if op.RecordID == "a" {
			gotSeqs = append(gotSeqs, op.Seq)
		}
	}
	assert.Equal(t, wantSeqs, gotSeqs)
}

func TestConflictRemoteWins(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)

	enqueue(t, store, "x", storage.OpUpdate)
	localUpdatedAt := clock.Now()

	remote := storage.Record{
		ID:        "x",
		Content:   testEnvelope("remote-content"),
		CreatedAt: localUpdatedAt.Add(-time.Hour),
		UpdatedAt: localUpdatedAt.Add(time.Minute),
	}
	tr := &fakeTransport{remotes: []storage.Record{remote}}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	status, err := c.Sync(context.Background())
	require.NoError(t, err)

	// The losing local operation was discarded, not pushed.
	assert.Empty(t, tr.attempts)
	assert.Zero(t, status.Pushed)
	assert.Equal(t, 1, status.Applied)

	require.Len(t, status.Conflicts, 1)
	assert.Equal(t, WinnerRemote, status.Conflicts[0].Winner)
	assert.Equal(t, "x", status.Conflicts[0].RecordID)

	rec, err := store.Get("x")
	require.NoError(t, err)
	assert.Equal(t, []byte("remote-content"), rec.Content.Ciphertext)
	assert.Equal(t, storage.SyncSynced, rec.Sync.State)

	pending, _, err := store.QueueLen()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestConflictLocalWins(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)

	enqueue(t, store, "x", storage.OpUpdate)
	localUpdatedAt := clock.Now()

	remote := storage.Record{
		ID:        "x",
		Content:   testEnvelope("remote-content"),
		UpdatedAt: localUpdatedAt.Add(-time.Minute),
	}
	tr := &fakeTransport{remotes: []storage.Record{remote}}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	status, err := c.Sync(context.Background())
	require.NoError(t, err)

	// The local operation still goes out; the remote version is dropped.
	assert.Equal(t, 1, status.Pushed)
	assert.Zero(t, status.Applied)
	require.Len(t, status.Conflicts, 1)
	assert.Equal(t, WinnerLocal, status.Conflicts[0].Winner)

	rec, err := store.Get("x")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext-x"), rec.Content.Ciphertext)
}

func TestConflictTieFavorsLocal(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)

	enqueue(t, store, "x", storage.OpUpdate)
	localUpdatedAt := clock.Now()

	remote := storage.Record{
		ID:        "x",
		Content:   testEnvelope("remote-content"),
		UpdatedAt: localUpdatedAt,
	}
	tr := &fakeTransport{remotes: []storage.Record{remote}}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	status, err := c.Sync(context.Background())
	require.NoError(t, err)

	require.Len(t, status.Conflicts, 1)
	assert.Equal(t, WinnerLocal, status.Conflicts[0].Winner)

	rec, err := store.Get("x")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext-x"), rec.Content.Ciphertext)
}

func TestTransientFailureSchedulesRetry(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)
	tr := &fakeTransport{pushFn: func(storage.Operation) error {
		return &TransientError{Err: errors.New("connection refused")}
	}}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	enqueue(t, store, "a", storage.OpCreate)

	status, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Retried)
	assert.Zero(t, status.Pushed)

	// The operation stays queued with a future attempt time.
	ops, err := store.PeekBatch(0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 1, ops[0].RetryCount)
	assert.True(t, ops[0].NextAttemptAt.After(clock.Now()))

	// Before the delay elapses a sync run leaves it alone.
	status, err = c.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tr.attemptIDs()[1:])
	assert.Zero(t, status.Retried)

	// After the delay it is attempted again.
	clock.Advance(time.Hour)
	status, err = c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Retried)
	assert.Len(t, tr.attempts, 2)
}

func TestRetryCeilingMarksOperationFailed(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)
	tr := &fakeTransport{pushFn: func(storage.Operation) error {
		return &TransientError{Err: errors.New("unreachable")}
	}}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	enqueue(t, store, "a", storage.OpCreate)

	// Five attempts schedule retries; the sixth crosses the limit.
	for i := 0; i < 5; i++ {
		status, err := c.Sync(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, status.Retried)
		clock.Advance(time.Hour)
	}

	status, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Failed)
	assert.Zero(t, status.Retried)

	ops, err := store.PeekBatch(0)
	require.NoError(t, err)
	assert.Empty(t, ops, "failed operations must not be retried")

	failedOps, err := store.FailedOps()
	require.NoError(t, err)
	require.Len(t, failedOps, 1)
	assert.Equal(t, "a", failedOps[0].RecordID)

	rec, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, storage.SyncFailed, rec.Sync.State)
}

func TestFailureIsolatedToOneRecord(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)
	tr := &fakeTransport{pushFn: func(op storage.Operation) error {
		if op.RecordID == "flaky" {
			return &TransientError{Err: errors.New("timeout")}
		}
		return nil
	}}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	enqueue(t, store, "flaky", storage.OpCreate)
	enqueue(t, store, "flaky", storage.OpUpdate)
	enqueue(t, store, "steady", storage.OpCreate)

	status, err := c.Sync(context.Background())
	require.NoError(t, err)

	// The steady record synced; both flaky operations remain, only the
	// first of them was attempted.
	assert.Equal(t, 1, status.Pushed)
	assert.Equal(t, 1, status.Retried)

	rec, err := store.Get("steady")
	require.NoError(t, err)
	assert.Equal(t, storage.SyncSynced, rec.Sync.State)

	ops, err := store.PeekBatch(0)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "flaky", ops[0].RecordID)
	assert.Equal(t, 1, ops[0].RetryCount)
	assert.Zero(t, ops[1].RetryCount, "second flaky operation must wait behind the first")
}

func TestPermanentRejectionIsNotRetried(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)
	tr := &fakeTransport{pushFn: func(storage.Operation) error {
		return &RejectedError{Reason: "payload too large"}
	}}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	enqueue(t, store, "a", storage.OpCreate)

	status, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Failed)

	clock.Advance(24 * time.Hour)
	_, err = c.Sync(context.Background())
	require.NoError(t, err)
	assert.Len(t, tr.attempts, 1, "rejected operation must not be reattempted")

	rec, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, storage.SyncFailed, rec.Sync.State)
}

func TestDeleteAcknowledgmentPurgesTombstone(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)
	tr := &fakeTransport{}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	enqueue(t, store, "a", storage.OpCreate)
	_, err := c.Sync(context.Background())
	require.NoError(t, err)

	enqueue(t, store, "a", storage.OpDelete)

	rec, err := store.Get("a")
	require.NoError(t, err)
	assert.True(t, rec.Deleted)

	_, err = c.Sync(context.Background())
	require.NoError(t, err)

	_, err = store.Get("a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPullAppliesRemoteRecords(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)

	remoteTime := clock.Now().Add(-time.Hour)
	tr := &fakeTransport{remotes: []storage.Record{{
		ID:        "r1",
		Content:   testEnvelope("remote-content"),
		CreatedAt: remoteTime,
		UpdatedAt: remoteTime,
	}}}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	status, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Pulled)
	assert.Equal(t, 1, status.Applied)
	assert.Empty(t, status.Conflicts)

	rec, err := store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, storage.SyncSynced, rec.Sync.State)
	assert.True(t, rec.UpdatedAt.Equal(remoteTime), "remote timestamps are authoritative")
}

func TestWatermarkAdvances(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)

	remoteTime := clock.Now().Add(time.Minute)
	tr := &fakeTransport{remotes: []storage.Record{{
		ID:        "r1",
		Content:   testEnvelope("remote-content"),
		UpdatedAt: remoteTime,
	}}}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	status, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Watermark.Equal(remoteTime))

	persisted, err := store.Watermark()
	require.NoError(t, err)
	assert.True(t, persisted.Equal(remoteTime))
}

func TestPullFailureLeavesQueueIntact(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)
	tr := &fakeTransport{pullErr: &TransientError{Err: errors.New("gateway timeout")}}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	enqueue(t, store, "a", storage.OpCreate)

	_, err := c.Sync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Empty(t, tr.attempts)

	pending, _, err := store.QueueLen()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestConcurrentSyncCoalesces(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	tr := &fakeTransport{pushFn: func(storage.Operation) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}}
	c := New(Config{Store: store, Transport: tr, Now: clock.Now})

	enqueue(t, store, "a", storage.OpCreate)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Sync(context.Background())
		assert.NoError(t, err)
	}()

	<-started
	status, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status, "re-entrant sync must coalesce")

	close(release)
	<-done

	assert.Len(t, tr.attempts, 1, "the operation must not be pushed twice")
}

func TestConflictAuditLogWritesJSONL(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)

	enqueue(t, store, "x", storage.OpUpdate)
	remote := storage.Record{
		ID:        "x",
		Content:   testEnvelope("remote-content"),
		UpdatedAt: clock.Now().Add(time.Minute),
	}
	tr := &fakeTransport{remotes: []storage.Record{remote}}

	auditPath := filepath.Join(t.TempDir(), "conflicts.jsonl")
	c := New(Config{
		Store:     store,
		Transport: tr,
		Now:       clock.Now,
		Audit:     NewAuditLog(auditPath),
	})

	_, err := c.Sync(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"record_id":"x"`)
	assert.Contains(t, lines[0], `"winner":"remote"`)
	assert.NotContains(t, lines[0], "remote-content", "audit entries must not contain content")
}

func TestStatusCallback(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, clock)
	tr := &fakeTransport{}

	var reported []Status
	c := New(Config{
		Store:     store,
		Transport: tr,
		Now:       clock.Now,
		OnStatus:  func(s Status) { reported = append(reported, s) },
	})

	enqueue(t, store, "a", storage.OpCreate)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, reported, 1)
	assert.Equal(t, 1, reported[0].Pushed)
}

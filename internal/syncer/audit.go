package syncer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// defaultAuditMaxBytes caps the audit file before it is rotated aside.
const defaultAuditMaxBytes = 1 << 20

// AuditLog appends resolved conflicts to a JSONL file. Entries contain
// only ids and timestamps, never entry content. Append never fails the
// sync run: audit is best-effort by contract.
type AuditLog struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
}

// NewAuditLog creates an audit log writing to path. An empty path
// disables logging.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path, maxBytes: defaultAuditMaxBytes}
}

// Append writes one conflict record as a JSON line.
func (a *AuditLog) Append(rec ConflictRecord) {
	if a == nil || a.path == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o700); err != nil {
		return
	}
	a.rotateIfNeeded(int64(len(b) + 1))

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(b, '\n'))
}

// rotateIfNeeded moves the current file aside when the next write
// would exceed the size cap. A single .1 generation is kept.
func (a *AuditLog) rotateIfNeeded(nextWriteBytes int64) {
	if a.maxBytes <= 0 {
		return
	}
	info, err := os.Stat(a.path)
	if err != nil {
		return
	}
	if info.Size()+nextWriteBytes <= a.maxBytes {
		return
	}
	_ = os.Remove(a.path + ".1")
	_ = os.Rename(a.path, a.path+".1")
}

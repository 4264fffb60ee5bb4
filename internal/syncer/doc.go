// Package syncer drives the offline-first synchronization loop.
//
// A sync run pulls remote changes since the last watermark, reconciles
// them against pending local operations (last-write-wins on UpdatedAt,
// ties favor the local version), then drains the queue: operations for
// the same record stay strictly FIFO while independent records push
// concurrently under a configurable limit.
//
// Failures never abort unrelated work. Transient errors (network,
// timeout, 5xx) schedule a capped-exponential retry through the queue;
// permanent rejections (4xx) mark the operation terminally failed and
// surface through the status callback. Resolved conflicts are appended
// to a JSONL audit log.
//
// Re-entrant Sync calls coalesce: a run triggered while another is
// draining returns immediately, so a sequence number is never pushed
// twice.
package syncer

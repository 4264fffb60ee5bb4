// Package storage provides the BBolt database interface for notelock.
//
// Database structure uses three buckets:
//   - config: KDF parameters (salt, iterations), key check, journal id,
//     sync watermark (unencrypted)
//   - records: journal entries - encrypted envelopes plus plaintext
//     metadata (word count, mood, tags, tombstone, sync state)
//   - queue: pending sync operations keyed by big-endian sequence number
//
// The unencrypted record metadata lets ls and status work without a
// password; entry content and titles never leave their envelopes here.
// A local mutation and its sync intent commit in one transaction
// (PutAndEnqueue), so the queue can never disagree with the records.
//
// BBolt provides ACID transactions, file locking, and corruption detection.
package storage

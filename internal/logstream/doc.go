// Package logstream provides the durable, append-only record log of a
// partition, stored in SQLite.
//
// # Guarantees
//
//   - Positions are assigned on append, start at 1 and increase by one per
//     record. A batch is written in one transaction: either every record is
//     visible or none is.
//   - Follow-up records may reference an earlier record of the same batch as
//     their source; the reference is resolved to a position at append time.
//   - TryAppend may refuse with ErrBackpressure (rate limiter or SQLite lock
//     contention). Append retries until the batch is written, the context
//     ends or a fatal error occurs.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//
// Snapshots of partition state live in the same database, each with a
// SHA-256 checksum verified on load.
package logstream

package logstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Songmu/retry"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/incidentd/internal/metrics"
	"github.com/roach88/incidentd/internal/protocol"
)

// appendAttempts bounds the retry loop in Append. With the default interval
// this waits well over a minute before giving up on a saturated log.
const appendAttempts = 10000

// Entry is one record of an append batch.
//
// SourceIndex, when >= 0, makes the record's SourceRecordPosition point at
// an earlier entry of the same batch; the position is resolved at append
// time. Otherwise Record.SourceRecordPosition is written as is.
type Entry struct {
	Record      protocol.Record
	SourceIndex int
}

// NewEntry wraps a record whose source position is already known.
func NewEntry(r protocol.Record) Entry {
	return Entry{Record: r, SourceIndex: -1}
}

// TryAppend writes the batch in a single transaction and returns the records
// with their assigned positions. It returns ErrBackpressure when the log
// refuses the write for now; any other error is fatal for this batch,
// including ErrBatchTooLarge for a batch the limiter can never admit.
func (l *Log) TryAppend(batch []Entry) ([]protocol.Record, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if len(batch) > l.maxBatchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(batch), l.maxBatchSize)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if l.limiter != nil && len(batch) > l.limiter.Burst() {
		return nil, fmt.Errorf("%w: %d > burst %d", ErrBatchTooLarge, len(batch), l.limiter.Burst())
	}
	if l.limiter != nil && !l.limiter.AllowN(time.Now(), len(batch)) {
		metrics.BackpressureRefusals.WithLabelValues(metrics.PartitionLabel(l.partitionID)).Inc()
		return nil, ErrBackpressure
	}

	written, err := l.insertBatch(batch)
	if err != nil {
		if isBusy(err) {
			metrics.BackpressureRefusals.WithLabelValues(metrics.PartitionLabel(l.partitionID)).Inc()
			return nil, ErrBackpressure
		}
		return nil, err
	}

	l.last = written[len(written)-1].Position
	metrics.RecordsAppended.WithLabelValues(metrics.PartitionLabel(l.partitionID)).Add(float64(len(written)))
	l.notifyLocked()
	return written, nil
}

// Append writes the batch, retrying while the log applies back-pressure.
// It returns when the batch is written, the context ends, or a fatal error
// occurs.
func (l *Log) Append(ctx context.Context, batch []Entry) ([]protocol.Record, error) {
	var (
		written []protocol.Record
		fatal   error
	)

	err := retry.Retry(appendAttempts, l.retryInterval, func() error {
		if err := ctx.Err(); err != nil {
			fatal = err
			return nil
		}
		records, err := l.TryAppend(batch)
		if errors.Is(err, ErrBackpressure) {
			return err
		}
		written, fatal = records, err
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append: retries exhausted: %w", err)
	}
	if fatal != nil {
		return nil, fatal
	}
	return written, nil
}

// AppendCommand writes a single client command and returns it with its
// position.
func (l *Log) AppendCommand(ctx context.Context, cmd protocol.Record) (protocol.Record, error) {
	written, err := l.Append(ctx, []Entry{NewEntry(cmd)})
	if err != nil {
		return protocol.Record{}, err
	}
	return written[0], nil
}

// insertBatch assigns positions and writes the rows. Caller holds l.mu.
func (l *Log) insertBatch(batch []Entry) ([]protocol.Record, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO records (position, source_position, record_key, record_type, value_type, intent, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	written := make([]protocol.Record, len(batch))
	position := l.last
	for i, entry := range batch {
		position++
		rec := entry.Record
		rec.Position = position
		rec.PartitionID = l.partitionID
		if entry.SourceIndex >= 0 {
			if entry.SourceIndex >= i {
				return nil, fmt.Errorf("entry %d: source index %d is not an earlier entry", i, entry.SourceIndex)
			}
			rec.SourceRecordPosition = written[entry.SourceIndex].Position
		}

		payload, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode record %d: %w", position, err)
		}

		if _, err := stmt.Exec(
			rec.Position,
			rec.SourceRecordPosition,
			rec.Key,
			string(rec.RecordType),
			string(rec.ValueType),
			string(rec.Intent),
			string(payload),
		); err != nil {
			return nil, fmt.Errorf("write record %d: %w", position, err)
		}
		written[i] = rec
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return written, nil
}

// isBusy reports SQLite lock contention, which is transient.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

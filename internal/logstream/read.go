package logstream

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/incidentd/internal/protocol"
)

// ReadFrom returns up to limit records with position > after, in position
// order. A non-positive limit reads to the end of the log.
func (l *Log) ReadFrom(ctx context.Context, after int64, limit int) ([]protocol.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT payload FROM records
		WHERE position > ?
		ORDER BY position ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return scanRecords(rows)
}

// ReadByKey returns every record carrying key, in position order.
func (l *Log) ReadByKey(ctx context.Context, key int64) ([]protocol.Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT payload FROM records
		WHERE record_key = ?
		ORDER BY position ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("read records by key: %w", err)
	}
	return scanRecords(rows)
}

// ReadAt returns the record at position.
func (l *Log) ReadAt(ctx context.Context, position int64) (protocol.Record, bool, error) {
	var payload string
	err := l.db.QueryRowContext(ctx, `SELECT payload FROM records WHERE position = ?`, position).Scan(&payload)
	if err == sql.ErrNoRows {
		return protocol.Record{}, false, nil
	}
	if err != nil {
		return protocol.Record{}, false, fmt.Errorf("read record %d: %w", position, err)
	}
	var rec protocol.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return protocol.Record{}, false, fmt.Errorf("decode record %d: %w", position, err)
	}
	return rec, true, nil
}

// Reader iterates a log in position order, fetching records in pages.
type Reader struct {
	log      *Log
	next     int64
	pageSize int
	buf      []protocol.Record
}

// NewReader returns a reader positioned after the given position.
func (l *Log) NewReader(after int64) *Reader {
	return &Reader{log: l, next: after, pageSize: 256}
}

// Next returns the next record, or false when the reader has caught up with
// the log. A later call may return records appended in the meantime.
func (r *Reader) Next(ctx context.Context) (protocol.Record, bool, error) {
	if len(r.buf) == 0 {
		page, err := r.log.ReadFrom(ctx, r.next, r.pageSize)
		if err != nil {
			return protocol.Record{}, false, err
		}
		if len(page) == 0 {
			return protocol.Record{}, false, nil
		}
		r.buf = page
	}
	rec := r.buf[0]
	r.buf = r.buf[1:]
	r.next = rec.Position
	return rec, true, nil
}

// Position returns the position of the last record returned by Next.
func (r *Reader) Position() int64 {
	return r.next
}

func scanRecords(rows *sql.Rows) ([]protocol.Record, error) {
	defer rows.Close()

	records := []protocol.Record{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec protocol.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

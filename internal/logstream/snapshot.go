package logstream

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// snapshotsKept is the number of snapshots retained after a save.
const snapshotsKept = 2

// Snapshot is serialized partition state as of a processed position.
type Snapshot struct {
	Position int64
	Data     []byte
}

// SaveSnapshot stores data for position and prunes older snapshots.
func (l *Log) SaveSnapshot(ctx context.Context, position int64, data []byte) error {
	sum := sha256.Sum256(data)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (position, data, checksum) VALUES (?, ?, ?)
		ON CONFLICT(position) DO UPDATE SET data = excluded.data, checksum = excluded.checksum
	`, position, data, hex.EncodeToString(sum[:])); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM snapshots WHERE position NOT IN (
			SELECT position FROM snapshots ORDER BY position DESC LIMIT ?
		)
	`, snapshotsKept); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the newest snapshot whose checksum verifies.
// Corrupt snapshots are skipped so recovery can fall back to an older one
// or to a full replay.
func (l *Log) LatestSnapshot(ctx context.Context) (Snapshot, bool, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT position, data, checksum FROM snapshots ORDER BY position DESC
	`)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			snap     Snapshot
			checksum string
		)
		if err := rows.Scan(&snap.Position, &snap.Data, &checksum); err != nil {
			return Snapshot{}, false, fmt.Errorf("scan snapshot: %w", err)
		}
		sum := sha256.Sum256(snap.Data)
		if hex.EncodeToString(sum[:]) == checksum {
			return snap, true, nil
		}
	}
	if err := rows.Err(); err != nil && err != sql.ErrNoRows {
		return Snapshot{}, false, fmt.Errorf("iterate snapshots: %w", err)
	}
	return Snapshot{}, false, nil
}

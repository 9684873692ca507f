package logstream

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/time/rate"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on records.record_key
const currentSchemaVersion = 1

// Default append settings, overridable through Options.
const (
	DefaultMaxBatchSize  = 1024
	DefaultRetryInterval = 10 * time.Millisecond
)

var (
	// ErrBackpressure is returned by TryAppend when the log temporarily
	// refuses writes. Callers retry; it is never a handler-visible failure.
	ErrBackpressure = errors.New("log append refused: back-pressure")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("log is closed")

	// ErrBatchTooLarge is returned when a batch can never be appended.
	ErrBatchTooLarge = errors.New("batch too large to append")
)

// Log is an append-only, ordered record log for one partition, stored in
// SQLite. Positions start at 1 and increase by one per record.
//
// Appends are serialized by a mutex; reads may run concurrently thanks to
// WAL mode.
type Log struct {
	db          *sql.DB
	partitionID int

	mu          sync.Mutex
	last        int64
	closed      bool
	subscribers []chan struct{}

	limiter       *rate.Limiter
	maxBatchSize  int
	retryInterval time.Duration
}

// Option configures a Log.
type Option func(*Log)

// WithPartition sets the partition id stamped on appended records.
func WithPartition(id int) Option {
	return func(l *Log) {
		l.partitionID = id
	}
}

// WithRateLimit enables back-pressure: appends beyond recordsPerSecond
// (with the given burst) are refused with ErrBackpressure.
// A zero rate disables the limiter. A burst below 1 defaults to the max
// batch size. Batches larger than the burst can never pass the limiter and
// fail with ErrBatchTooLarge.
func WithRateLimit(recordsPerSecond float64, burst int) Option {
	return func(l *Log) {
		if recordsPerSecond <= 0 {
			l.limiter = nil
			return
		}
		l.limiter = rate.NewLimiter(rate.Limit(recordsPerSecond), burst)
	}
}

// WithMaxBatchSize bounds the number of records per append.
func WithMaxBatchSize(n int) Option {
	return func(l *Log) {
		l.maxBatchSize = n
	}
}

// WithRetryInterval sets the pause between back-pressured append attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(l *Log) {
		l.retryInterval = d
	}
}

// Open creates or opens the partition log at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Open is idempotent.
func Open(path string, opts ...Option) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	l := &Log{
		db:            db,
		partitionID:   1,
		maxBatchSize:  DefaultMaxBatchSize,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.limiter != nil && l.limiter.Burst() < 1 {
		l.limiter.SetBurst(l.maxBatchSize)
	}

	if err := db.QueryRow("SELECT COALESCE(MAX(position), 0) FROM records").Scan(&l.last); err != nil {
		db.Close()
		return nil, fmt.Errorf("read last position: %w", err)
	}

	return l, nil
}

// PartitionID returns the partition this log belongs to.
func (l *Log) PartitionID() int {
	return l.partitionID
}

// MaxBatchSize returns the largest batch TryAppend accepts.
func (l *Log) MaxBatchSize() int {
	return l.maxBatchSize
}

// LastPosition returns the position of the last appended record, or 0 if
// the log is empty.
func (l *Log) LastPosition() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Subscribe returns a channel that receives a signal after every append.
// Signals coalesce: a slow reader sees at most one pending signal.
func (l *Log) Subscribe() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan struct{}, 1)
	if l.closed {
		close(ch)
		return ch
	}
	l.subscribers = append(l.subscribers, ch)
	return ch
}

// Close closes the database and every subscriber channel.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	for _, ch := range l.subscribers {
		close(ch)
	}
	l.subscribers = nil
	return l.db.Close()
}

// notifyLocked signals subscribers. Caller holds l.mu.
func (l *Log) notifyLocked() {
	for _, ch := range l.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the record_key index for logs created before it was part
// of schema.sql.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_records_key ON records(record_key)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (l *Log) verifyPragma(ctx context.Context, name, expected string) error {
	var value string
	if err := l.db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

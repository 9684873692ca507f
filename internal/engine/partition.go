package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/incidentd/internal/bpmn"
	"github.com/roach88/incidentd/internal/deployment"
	"github.com/roach88/incidentd/internal/incident"
	"github.com/roach88/incidentd/internal/job"
	"github.com/roach88/incidentd/internal/logstream"
	"github.com/roach88/incidentd/internal/pkg/ctxlog"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// DefaultSnapshotInterval is the number of processed commands between
// snapshots.
const DefaultSnapshotInterval = 1000

// Partition owns one log, its state and the processor that drives it.
//
// Processing is single-writer: Run and ProcessUntilIdle serialize on the
// partition, so exactly one command is in flight at a time.
type Partition struct {
	id     int
	path   string
	logger *slog.Logger

	logOpts          []logstream.Option
	snapshotInterval int
	maxMessageSize   int

	log   *logstream.Log
	state *state.State
	proc  *processing.Processor

	mu            sync.Mutex
	applied       int64 // position of the last record reflected in state
	sinceSnapshot int
	failed        error
}

// Option configures a Partition.
type Option func(*Partition)

// WithLogger sets the base logger; the partition adds its id.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Partition) {
		p.logger = logger
	}
}

// WithLogOptions passes options to the partition log.
func WithLogOptions(opts ...logstream.Option) Option {
	return func(p *Partition) {
		p.logOpts = append(p.logOpts, opts...)
	}
}

// WithSnapshotInterval sets how many commands are processed between
// snapshots. Zero disables periodic snapshots; Close still takes one.
func WithSnapshotInterval(n int) Option {
	return func(p *Partition) {
		p.snapshotInterval = n
	}
}

// WithMaxMessageSize bounds the variables a job may carry on activation.
func WithMaxMessageSize(n int) Option {
	return func(p *Partition) {
		p.maxMessageSize = n
	}
}

// OpenPartition opens the log at path and recovers state: the latest
// verified snapshot is restored, then every later event is replayed.
func OpenPartition(ctx context.Context, id int, path string, opts ...Option) (*Partition, error) {
	p := &Partition{
		id:               id,
		path:             path,
		snapshotInterval: DefaultSnapshotInterval,
		maxMessageSize:   job.DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = ctxlog.ForPartition(p.logger, id)

	l, err := logstream.Open(path, append([]logstream.Option{logstream.WithPartition(id)}, p.logOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("open partition %d: %w", id, err)
	}
	p.log = l

	st, err := p.recover(ctx)
	if err != nil {
		l.Close()
		return nil, &PartitionError{Code: ErrCodeReplayFailed, Partition: id, Err: err}
	}
	p.state = st

	d, err := p.dispatcher()
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("open partition %d: %w", id, err)
	}
	p.proc = processing.NewProcessor(l, st, d, p.logger)
	p.proc.AddListener(p.track)
	return p, nil
}

func (p *Partition) recover(ctx context.Context) (*state.State, error) {
	st := state.New(p.id)

	var after int64
	snap, ok, err := p.log.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := st.Restore(snap.Data); err != nil {
			p.logger.Warn("snapshot unusable, replaying full log", "position", snap.Position, "error", err)
			st = state.New(p.id)
		} else {
			after = snap.Position
		}
	}

	n, err := processing.Replay(ctx, p.log, st, after)
	if err != nil {
		return nil, err
	}
	p.applied = p.log.LastPosition()
	p.logger.Info("partition recovered",
		"snapshot_position", after,
		"replayed", n,
		"last_processed", st.LastProcessedPosition(),
		"open_incidents", st.OpenIncidentCount(),
	)
	return st, nil
}

// dispatcher wires every command handler of the partition.
func (p *Partition) dispatcher() (*processing.Dispatcher, error) {
	d := processing.NewDispatcher()
	reporter := incident.NewReporter(p.state)
	processes := bpmn.New(p.state, reporter)
	lifecycle := job.NewLifecycle(p.state, p.maxMessageSize)

	err := errors.Join(
		processes.Register(d),
		job.NewProcessor(p.state, lifecycle, reporter, processes).Register(d),
		incident.NewProcessor(p.state, processes, lifecycle).Register(d),
		deployment.NewProcessor(p.state).Register(d),
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (p *Partition) track(written []protocol.Record) {
	p.applied = written[len(written)-1].Position
	p.sinceSnapshot++
}

// ID returns the partition id.
func (p *Partition) ID() int {
	return p.id
}

// Log returns the partition log.
func (p *Partition) Log() *logstream.Log {
	return p.log
}

// State returns the partition state. It must only be read while the
// partition is idle, for example between ProcessUntilIdle calls.
func (p *Partition) State() *state.State {
	return p.state
}

// AddListener registers l for every committed batch.
func (p *Partition) AddListener(l processing.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proc.AddListener(l)
}

// Write appends a client command and returns it with its position.
func (p *Partition) Write(ctx context.Context, cmd protocol.Record) (protocol.Record, error) {
	return p.log.AppendCommand(ctx, cmd)
}

// Run is the single-writer processing loop. It processes every available
// command, then waits for the next append or for ctx to end.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (p *Partition) Run(ctx context.Context) error {
	p.logger.Info("partition starting", "path", p.path)
	signal := p.log.Subscribe()

	for {
		if _, err := p.ProcessUntilIdle(ctx); err != nil {
			if processing.IsFatal(err) {
				return err
			}
			p.logger.Info("partition stopping: context cancelled")
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			p.logger.Info("partition stopping: context cancelled")
			return ctx.Err()

		case _, ok := <-signal:
			if !ok {
				p.logger.Info("partition stopping: log closed")
				return nil
			}
		}
	}
}

// ProcessUntilIdle processes commands until the log has no unread record
// and returns the number of records read. A fatal error is returned as a
// *PartitionError and stops the partition for good.
func (p *Partition) ProcessUntilIdle(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed != nil {
		return 0, p.failed
	}

	n, err := p.proc.ProcessAvailable(ctx)
	if err != nil {
		if !processing.IsFatal(err) {
			return n, err
		}
		p.failed = p.fatal(err)
		p.logger.Error("partition failed", "error", p.failed)
		return n, p.failed
	}

	if p.snapshotInterval > 0 && p.sinceSnapshot >= p.snapshotInterval {
		if err := p.snapshotLocked(ctx); err != nil {
			p.failed = err
			return n, err
		}
	}
	return n, nil
}

func (p *Partition) fatal(err error) *PartitionError {
	code := ErrCodeAppendFailed
	if errors.Is(err, processing.ErrNoHandler) {
		code = ErrCodeNoHandler
	}
	return &PartitionError{
		Code:      code,
		Partition: p.id,
		Position:  p.state.LastProcessedPosition() + 1,
		Err:       err,
	}
}

// Snapshot stores the current state at the last applied position.
func (p *Partition) Snapshot(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(ctx)
}

func (p *Partition) snapshotLocked(ctx context.Context) error {
	if p.applied == 0 {
		return nil
	}
	data, err := p.state.Snapshot()
	if err != nil {
		return &PartitionError{Code: ErrCodeSnapshotFailed, Partition: p.id, Position: p.applied, Err: err}
	}
	if err := p.log.SaveSnapshot(ctx, p.applied, data); err != nil {
		return &PartitionError{Code: ErrCodeSnapshotFailed, Partition: p.id, Position: p.applied, Err: err}
	}
	p.sinceSnapshot = 0
	p.logger.Debug("snapshot saved", "position", p.applied, "bytes", len(data))
	return nil
}

// Close takes a final snapshot and closes the log. Run returns once the
// log is closed.
func (p *Partition) Close() error {
	var snapErr error
	p.mu.Lock()
	if p.failed == nil {
		snapErr = p.snapshotLocked(context.Background())
	}
	p.mu.Unlock()
	return errors.Join(snapErr, p.log.Close())
}

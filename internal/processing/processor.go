package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/incidentd/internal/logstream"
	"github.com/roach88/incidentd/internal/metrics"
	"github.com/roach88/incidentd/internal/pkg/ctxlog"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// Listener observes records after their batch is committed.
type Listener func(written []protocol.Record)

// Processor drives command processing for one partition.
type Processor struct {
	log        *logstream.Log
	state      *state.State
	dispatcher *Dispatcher
	logger     *slog.Logger
	reader     *logstream.Reader
	listeners  []Listener
	label      string
}

// NewProcessor creates a processor that continues after the last processed
// command recorded in st.
func NewProcessor(log *logstream.Log, st *state.State, d *Dispatcher, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		log:        log,
		state:      st,
		dispatcher: d,
		logger:     logger,
		reader:     log.NewReader(st.LastProcessedPosition()),
		label:      metrics.PartitionLabel(st.PartitionID()),
	}
}

// AddListener registers a listener for committed records.
func (p *Processor) AddListener(l Listener) {
	p.listeners = append(p.listeners, l)
}

// ProcessNext processes the next record of the log. It returns false when
// the log has no unread record. A returned error is fatal.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	rec, ok, err := p.reader.Next(ctx)
	if err != nil {
		return false, fmt.Errorf("read log: %w", err)
	}
	if !ok {
		return false, nil
	}
	if !rec.IsCommand() || rec.Position <= p.state.LastProcessedPosition() {
		return true, nil
	}
	return true, p.process(ctx, rec)
}

// ProcessAvailable processes records until the log has no unread record
// and returns how many records were read.
func (p *Processor) ProcessAvailable(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		more, err := p.ProcessNext(ctx)
		if err != nil {
			return n, err
		}
		if !more {
			return n, nil
		}
		n++
	}
}

func (p *Processor) process(ctx context.Context, cmd protocol.Record) error {
	start := time.Now()
	logger := p.logger.With("position", cmd.Position, "command", fmt.Sprintf("%s.%s", cmd.ValueType, cmd.Intent), "key", cmd.Key)
	ctx = ctxlog.WithLogger(ctx, logger)

	handler, ok := p.dispatcher.Lookup(cmd.ValueType, cmd.Intent)
	if !ok {
		logger.Error("command has no handler")
		return fmt.Errorf("%w for %s.%s at position %d", ErrNoHandler, cmd.ValueType, cmd.Intent, cmd.Position)
	}

	logger.Debug("processing command")

	p.state.Begin()
	w := NewWriters(p.state, cmd)
	herr := handler.Handle(ctx, cmd, w)
	if herr == nil && !hasEvent(w.Entries()) {
		// replay finds processed commands through the sources of their events
		herr = errors.New("command produced no events")
	}

	batch := w.Entries()
	if herr != nil {
		p.state.Rollback()
		rej, ok := AsRejection(herr)
		if ok {
			logger.Warn("command rejected", "rejection_type", rej.Type, "reason", rej.Reason)
		} else {
			logger.Error("command processing failed", "error", herr)
			rej = &RejectionError{Type: protocol.RejectionProcessingError, Reason: herr.Error()}
		}
		p.state.Begin()
		batch = []logstream.Entry{logstream.NewEntry(rejection(cmd, rej))}
		metrics.Rejections.WithLabelValues(p.label, string(rej.Type)).Inc()
	}

	written, err := p.log.Append(ctx, batch)
	if err != nil {
		p.state.Rollback()
		logger.Error("append failed", "error", err)
		return fmt.Errorf("append batch for position %d: %w", cmd.Position, err)
	}
	p.state.SetLastProcessedPosition(cmd.Position)
	p.state.Commit()

	metrics.CommandsProcessed.WithLabelValues(p.label, string(cmd.ValueType), string(cmd.Intent)).Inc()
	metrics.ProcessingDuration.WithLabelValues(p.label).Observe(time.Since(start).Seconds())
	metrics.OpenIncidents.WithLabelValues(p.label).Set(float64(p.state.OpenIncidentCount()))

	for _, l := range p.listeners {
		l(written)
	}
	return nil
}

func hasEvent(batch []logstream.Entry) bool {
	for _, e := range batch {
		if e.Record.RecordType == protocol.RecordTypeEvent {
			return true
		}
	}
	return false
}

func rejection(cmd protocol.Record, rej *RejectionError) protocol.Record {
	return protocol.Record{
		SourceRecordPosition: cmd.Position,
		Key:                  cmd.Key,
		PartitionID:          cmd.PartitionID,
		RecordType:           protocol.RecordTypeRejection,
		ValueType:            cmd.ValueType,
		Intent:               cmd.Intent,
		RejectionType:        rej.Type,
		RejectionReason:      rej.Reason,
		RequestID:            cmd.RequestID,
		Value:                cmd.Value,
	}
}

// IsFatal reports whether err should stop the partition. Context
// cancellation is a normal shutdown, not a failure.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

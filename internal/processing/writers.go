package processing

import (
	"fmt"

	"github.com/roach88/incidentd/internal/logstream"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// Ref identifies a record written earlier in the same batch. CommandRef
// refers to the command being processed.
type Ref int

const CommandRef Ref = -1

// Writers buffers the follow-up records of one command.
//
// Events are applied to state as they are written. Commands are only
// appended to the log and processed later, in log order.
//
// The first event written answers the command: it carries the command's
// request id, so handlers write their response event before anything else.
type Writers struct {
	state     *state.State
	command   protocol.Record
	entries   []logstream.Entry
	responded bool
}

// NewWriters returns an empty buffer for cmd. Events are applied to st.
func NewWriters(st *state.State, cmd protocol.Record) *Writers {
	return &Writers{state: st, command: cmd}
}

// Command returns the command being processed.
func (w *Writers) Command() protocol.Record {
	return w.command
}

// AppendEvent writes an event sourced at the command and applies it.
func (w *Writers) AppendEvent(key int64, intent protocol.Intent, value protocol.Value) (Ref, error) {
	return w.AppendEventCausedBy(CommandRef, key, intent, value)
}

// AppendEventCausedBy writes an event sourced at an earlier event of the
// batch and applies it. Events cannot be sourced at batch-local commands:
// replay derives the last processed command from event sources.
func (w *Writers) AppendEventCausedBy(cause Ref, key int64, intent protocol.Intent, value protocol.Value) (Ref, error) {
	if cause != CommandRef {
		src, err := w.entry(cause)
		if err != nil {
			return 0, err
		}
		if src.Record.RecordType != protocol.RecordTypeEvent {
			return 0, fmt.Errorf("event %s.%s: source %d is not an event", value.ValueType(), intent, cause)
		}
	}

	rec := w.record(protocol.RecordTypeEvent, key, intent, value)
	if !w.responded {
		rec.RequestID = w.command.RequestID
		w.responded = true
	}
	if err := w.state.Apply(rec); err != nil {
		return 0, fmt.Errorf("apply %s.%s: %w", rec.ValueType, rec.Intent, err)
	}
	return w.add(rec, cause), nil
}

// AppendCommand writes a follow-up command sourced at the command.
func (w *Writers) AppendCommand(key int64, intent protocol.Intent, value protocol.Value) Ref {
	return w.add(w.record(protocol.RecordTypeCommand, key, intent, value), CommandRef)
}

// AppendCommandCausedBy writes a follow-up command sourced at an earlier
// record of the batch.
func (w *Writers) AppendCommandCausedBy(cause Ref, key int64, intent protocol.Intent, value protocol.Value) (Ref, error) {
	if cause != CommandRef {
		if _, err := w.entry(cause); err != nil {
			return 0, err
		}
	}
	return w.add(w.record(protocol.RecordTypeCommand, key, intent, value), cause), nil
}

// Record returns a buffered record. Its position is not assigned yet.
func (w *Writers) Record(ref Ref) (protocol.Record, bool) {
	if ref == CommandRef {
		return w.command, true
	}
	e, err := w.entry(ref)
	if err != nil {
		return protocol.Record{}, false
	}
	return e.Record, true
}

// Len returns the number of buffered records.
func (w *Writers) Len() int {
	return len(w.entries)
}

// Entries returns the batch to append.
func (w *Writers) Entries() []logstream.Entry {
	return w.entries
}

func (w *Writers) record(rt protocol.RecordType, key int64, intent protocol.Intent, value protocol.Value) protocol.Record {
	return protocol.Record{
		SourceRecordPosition: w.command.Position,
		Key:                  key,
		PartitionID:          w.state.PartitionID(),
		RecordType:           rt,
		ValueType:            value.ValueType(),
		Intent:               intent,
		Value:                value,
	}
}

func (w *Writers) add(rec protocol.Record, cause Ref) Ref {
	entry := logstream.NewEntry(rec)
	if cause != CommandRef {
		entry.SourceIndex = int(cause)
	}
	w.entries = append(w.entries, entry)
	return Ref(len(w.entries) - 1)
}

func (w *Writers) entry(ref Ref) (logstream.Entry, error) {
	if ref < 0 || int(ref) >= len(w.entries) {
		return logstream.Entry{}, fmt.Errorf("unknown batch reference %d", ref)
	}
	return w.entries[ref], nil
}

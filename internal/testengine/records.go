package testengine

import (
	"slices"

	"github.com/roach88/incidentd/internal/protocol"
)

// RecordStream is a filterable view of log records in position order.
// Filters return new streams and never modify the receiver.
//
//	created := e.Records().Incident().WithIntent(protocol.IncidentCreated).First()
type RecordStream []protocol.Record

// Filter returns the records for which keep is true.
func (s RecordStream) Filter(keep func(protocol.Record) bool) RecordStream {
	var out RecordStream
	for _, r := range s {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// OfType keeps records of one value type.
func (s RecordStream) OfType(vt protocol.ValueType) RecordStream {
	return s.Filter(func(r protocol.Record) bool { return r.ValueType == vt })
}

func (s RecordStream) Incident() RecordStream { return s.OfType(protocol.ValueTypeIncident) }
func (s RecordStream) Job() RecordStream      { return s.OfType(protocol.ValueTypeJob) }
func (s RecordStream) JobBatch() RecordStream { return s.OfType(protocol.ValueTypeJobBatch) }
func (s RecordStream) ProcessInstance() RecordStream {
	return s.OfType(protocol.ValueTypeProcessInstance)
}
func (s RecordStream) VariableDocument() RecordStream {
	return s.OfType(protocol.ValueTypeVariableDocument)
}
func (s RecordStream) MessageSubscription() RecordStream {
	return s.OfType(protocol.ValueTypeMessageSubscription)
}

// WithIntent keeps records carrying any of the intents.
func (s RecordStream) WithIntent(intents ...protocol.Intent) RecordStream {
	return s.Filter(func(r protocol.Record) bool { return slices.Contains(intents, r.Intent) })
}

// WithKey keeps records of one key.
func (s RecordStream) WithKey(key int64) RecordStream {
	return s.Filter(func(r protocol.Record) bool { return r.Key == key })
}

// WithElementID keeps records whose value names the element.
func (s RecordStream) WithElementID(id string) RecordStream {
	return s.Filter(func(r protocol.Record) bool { return ElementID(r) == id })
}

// WithErrorType keeps incident records of one error type.
func (s RecordStream) WithErrorType(t protocol.ErrorType) RecordStream {
	return s.Filter(func(r protocol.Record) bool {
		inc, ok := r.Value.(protocol.IncidentRecord)
		return ok && inc.ErrorType == t
	})
}

// SourcedAt keeps records written while processing the record at position.
func (s RecordStream) SourcedAt(position int64) RecordStream {
	return s.Filter(func(r protocol.Record) bool { return r.SourceRecordPosition == position })
}

func (s RecordStream) Events() RecordStream   { return s.ofRecordType(protocol.RecordTypeEvent) }
func (s RecordStream) Commands() RecordStream { return s.ofRecordType(protocol.RecordTypeCommand) }
func (s RecordStream) Rejections() RecordStream {
	return s.ofRecordType(protocol.RecordTypeRejection)
}

func (s RecordStream) ofRecordType(t protocol.RecordType) RecordStream {
	return s.Filter(func(r protocol.Record) bool { return r.RecordType == t })
}

// First returns the first record, or false when the stream is empty.
func (s RecordStream) First() (protocol.Record, bool) {
	if len(s) == 0 {
		return protocol.Record{}, false
	}
	return s[0], true
}

// Last returns the last record, or false when the stream is empty.
func (s RecordStream) Last() (protocol.Record, bool) {
	if len(s) == 0 {
		return protocol.Record{}, false
	}
	return s[len(s)-1], true
}

// Len returns the number of records.
func (s RecordStream) Len() int {
	return len(s)
}

// Intents returns the intent of every record, in order.
func (s RecordStream) Intents() []protocol.Intent {
	out := make([]protocol.Intent, len(s))
	for i, r := range s {
		out[i] = r.Intent
	}
	return out
}

// Keys returns the key of every record, in order.
func (s RecordStream) Keys() []int64 {
	out := make([]int64, len(s))
	for i, r := range s {
		out[i] = r.Key
	}
	return out
}

// ElementID returns the element id carried by a record value, or "" for
// values that do not name an element.
func ElementID(r protocol.Record) string {
	switch v := r.Value.(type) {
	case protocol.ProcessInstanceRecord:
		return v.ElementID
	case protocol.IncidentRecord:
		return v.ElementID
	case protocol.JobRecord:
		return v.ElementID
	case protocol.MessageSubscriptionRecord:
		return v.ElementID
	}
	return ""
}

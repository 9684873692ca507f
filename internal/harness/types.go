package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/protocol"
)

// TraceEvent is one record of the incident trace.
type TraceEvent struct {
	RecordType    string `json:"record_type"`
	ValueType     string `json:"value_type"`
	Intent        string `json:"intent"`
	Ref           string `json:"ref,omitempty"`
	ElementID     string `json:"element_id,omitempty"`
	ErrorType     string `json:"error_type,omitempty"`
	RejectionType string `json:"rejection_type,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace is the incident trace in log order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists every failed expectation.
	Errors []string `json:"errors,omitempty"`

	// OpenIncidents is the number of incidents open at the end of the run.
	OpenIncidents int `json:"open_incidents"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// traced reports whether a record belongs to the incident trace.
func traced(r protocol.Record) bool {
	switch {
	case r.RecordType == protocol.RecordTypeRejection:
		return true
	case r.RecordType != protocol.RecordTypeEvent:
		return false
	case r.ValueType == protocol.ValueTypeIncident:
		return true
	case r.ValueType == protocol.ValueTypeProcessInstance:
		pi, ok := r.Value.(protocol.ProcessInstanceRecord)
		return ok && pi.BPMNElementType == string(model.ElementProcess) &&
			(r.Intent == protocol.ElementCompleted || r.Intent == protocol.ElementTerminated)
	}
	return false
}

// aliases names keys by value type and order of first appearance.
type aliases struct {
	names  map[int64]string
	counts map[protocol.ValueType]int
}

func newAliases() *aliases {
	return &aliases{names: make(map[int64]string), counts: make(map[protocol.ValueType]int)}
}

func (a *aliases) name(key int64, vt protocol.ValueType) string {
	if key <= 0 {
		return ""
	}
	if n, ok := a.names[key]; ok {
		return n
	}
	a.counts[vt]++
	n := fmt.Sprintf("%s-%d", strings.ToLower(string(vt)), a.counts[vt])
	a.names[key] = n
	return n
}

// buildTrace projects the log onto the incident trace.
func buildTrace(records []protocol.Record) []TraceEvent {
	names := newAliases()
	trace := []TraceEvent{}
	for _, r := range records {
		if !traced(r) {
			continue
		}
		ev := TraceEvent{
			RecordType:    string(r.RecordType),
			ValueType:     string(r.ValueType),
			Intent:        string(r.Intent),
			Ref:           names.name(r.Key, r.ValueType),
			RejectionType: string(r.RejectionType),
		}
		switch v := r.Value.(type) {
		case protocol.IncidentRecord:
			ev.ElementID = v.ElementID
			if r.RecordType == protocol.RecordTypeEvent {
				ev.ErrorType = v.ErrorType.String()
			}
		case protocol.ProcessInstanceRecord:
			ev.ElementID = v.ElementID
		}
		trace = append(trace, ev)
	}
	return trace
}

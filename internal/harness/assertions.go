package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
	"github.com/roach88/incidentd/internal/testengine"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Incident trace for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nIncident trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s.%s %s %s\n", i+1, ev.RecordType, ev.ValueType, ev.Intent, ev.Ref, ev.ElementID)
		}
	}
	return buf.String()
}

// AssertionContext carries what assertions are evaluated against.
type AssertionContext struct {
	Records   testengine.RecordStream
	Incidents []state.IncidentEntry
}

// matching selects the records an assertion filters on. Commands are
// only matched when asked for explicitly.
func matching(records testengine.RecordStream, a Assertion) testengine.RecordStream {
	return records.Filter(func(r protocol.Record) bool {
		if a.RecordType == "" && r.IsCommand() {
			return false
		}
		if a.RecordType != "" && string(r.RecordType) != a.RecordType {
			return false
		}
		if a.ValueType != "" && string(r.ValueType) != a.ValueType {
			return false
		}
		if a.Intent != "" && string(r.Intent) != a.Intent {
			return false
		}
		if a.ElementID != "" && testengine.ElementID(r) != a.ElementID {
			return false
		}
		if a.ErrorType != "" || a.JobKey != nil {
			inc, ok := r.Value.(protocol.IncidentRecord)
			if !ok || !incidentMatches(inc, a) {
				return false
			}
		}
		return true
	})
}

func incidentMatches(inc protocol.IncidentRecord, a Assertion) bool {
	if a.ElementID != "" && inc.ElementID != a.ElementID {
		return false
	}
	if a.ErrorType != "" && inc.ErrorType.String() != a.ErrorType {
		return false
	}
	return a.JobKey == nil || inc.JobKey == *a.JobKey
}

func describe(a Assertion) string {
	parts := []string{a.ValueType + "." + a.Intent}
	if a.RecordType != "" {
		parts = append(parts, "record_type="+a.RecordType)
	}
	if a.ElementID != "" {
		parts = append(parts, "element_id="+a.ElementID)
	}
	if a.ErrorType != "" {
		parts = append(parts, "error_type="+a.ErrorType)
	}
	if a.JobKey != nil {
		parts = append(parts, fmt.Sprintf("job_key=%d", *a.JobKey))
	}
	return strings.Join(parts, " ")
}

// assertRecordContains checks that at least one record matches.
func assertRecordContains(trace []TraceEvent, records testengine.RecordStream, a Assertion) error {
	if matching(records, a).Len() > 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertRecordContains,
		Expected: describe(a),
		Actual:   "not found in log",
		Trace:    trace,
	}
}

// assertRecordOrder checks that the records occur in the given order: each
// name must match a record after the one matched for the previous name.
// Intervening records are allowed.
func assertRecordOrder(trace []TraceEvent, records testengine.RecordStream, a Assertion) error {
	after := int64(-1)
	for i, name := range a.Records {
		valueType, intent, ok := strings.Cut(name, ".")
		if !ok {
			return fmt.Errorf("record_order: %q is not VALUE_TYPE.INTENT", name)
		}
		candidates := matching(records, Assertion{ValueType: valueType, Intent: intent})
		last, found := candidates.Last()
		if !found {
			return &AssertionError{
				Type:     AssertRecordOrder,
				Expected: fmt.Sprintf("all records present: %v", a.Records),
				Actual:   fmt.Sprintf("missing record: %s", name),
				Trace:    trace,
			}
		}
		next, found := candidates.Filter(func(r protocol.Record) bool { return r.Position > after }).First()
		if !found {
			return &AssertionError{
				Type:     AssertRecordOrder,
				Expected: fmt.Sprintf("records in order: %v", a.Records),
				Actual: fmt.Sprintf("%s (position %d) should be before %s (position %d)",
					a.Records[i-1], after, name, last.Position),
				Trace: trace,
			}
		}
		after = next.Position
	}
	return nil
}

// assertRecordCount checks that exactly Count records match.
func assertRecordCount(trace []TraceEvent, records testengine.RecordStream, a Assertion) error {
	if n := matching(records, a).Len(); n != a.Count {
		return &AssertionError{
			Type:     AssertRecordCount,
			Expected: fmt.Sprintf("%d records %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d records", n),
			Trace:    trace,
		}
	}
	return nil
}

// assertOpenIncidents checks the number of open incidents matching the
// element and error type filters.
func assertOpenIncidents(incidents []state.IncidentEntry, a Assertion) error {
	n := 0
	for _, inc := range incidents {
		if incidentMatches(inc.Record, a) {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertOpenIncidents,
			Expected: fmt.Sprintf("%d open incidents", a.Count),
			Actual:   fmt.Sprintf("%d open incidents", n),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRecordContains:
			err = assertRecordContains(result.Trace, actx.Records, assertion)
		case AssertRecordOrder:
			err = assertRecordOrder(result.Trace, actx.Records, assertion)
		case AssertRecordCount:
			err = assertRecordCount(result.Trace, actx.Records, assertion)
		case AssertOpenIncidents:
			err = assertOpenIncidents(actx.Incidents, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
	"github.com/roach88/incidentd/internal/testengine"
)

func incidentRecords() testengine.RecordStream {
	inc := protocol.IncidentRecord{ErrorType: protocol.ErrorTypeCondition, ElementID: "xor", JobKey: -1}
	return testengine.RecordStream{
		{Position: 1, RecordType: protocol.RecordTypeCommand, ValueType: protocol.ValueTypeIncident, Intent: protocol.IncidentCreate, Key: -1, Value: inc},
		{Position: 2, RecordType: protocol.RecordTypeEvent, ValueType: protocol.ValueTypeIncident, Intent: protocol.IncidentCreated, Key: 10, Value: inc},
		{Position: 3, RecordType: protocol.RecordTypeCommand, ValueType: protocol.ValueTypeIncident, Intent: protocol.IncidentResolve, Key: 10, Value: protocol.IncidentRecord{}},
		{Position: 4, RecordType: protocol.RecordTypeEvent, ValueType: protocol.ValueTypeIncident, Intent: protocol.IncidentResolved, Key: 10, Value: inc},
		{Position: 5, RecordType: protocol.RecordTypeRejection, ValueType: protocol.ValueTypeIncident, Intent: protocol.IncidentResolve, Key: 10,
			RejectionType: protocol.RejectionNotFound, Value: protocol.IncidentRecord{}},
	}
}

func TestAssertRecordContains(t *testing.T) {
	recs := incidentRecords()

	assert.NoError(t, assertRecordContains(nil, recs, Assertion{ValueType: "INCIDENT", Intent: "CREATED", ElementID: "xor", ErrorType: "CONDITION_ERROR"}))
	assert.Error(t, assertRecordContains(nil, recs, Assertion{ValueType: "INCIDENT", Intent: "CREATED", ErrorType: "JOB_NO_RETRIES"}))
	assert.Error(t, assertRecordContains(nil, recs, Assertion{ValueType: "INCIDENT", Intent: "CREATE"}), "commands need an explicit record type")
	assert.NoError(t, assertRecordContains(nil, recs, Assertion{ValueType: "INCIDENT", Intent: "CREATE", RecordType: "COMMAND"}))
}

func TestAssertRecordOrder(t *testing.T) {
	recs := incidentRecords()

	assert.NoError(t, assertRecordOrder(nil, recs, Assertion{Records: []string{"INCIDENT.CREATED", "INCIDENT.RESOLVED"}}))

	err := assertRecordOrder(nil, recs, Assertion{Records: []string{"INCIDENT.RESOLVED", "INCIDENT.CREATED"}})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Actual, "should be before")

	err = assertRecordOrder(nil, recs, Assertion{Records: []string{"INCIDENT.CREATED", "INCIDENT.DELETED"}})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "missing record: INCIDENT.DELETED", ae.Actual)

	err = assertRecordOrder(nil, recs, Assertion{Records: []string{"CREATED", "RESOLVED"}})
	assert.ErrorContains(t, err, "is not VALUE_TYPE.INTENT")
}

func TestAssertRecordOrder_RepeatedRecordMatchesLaterOccurrence(t *testing.T) {
	completed := func(pos int64, id string) protocol.Record {
		return protocol.Record{Position: pos, RecordType: protocol.RecordTypeEvent, ValueType: protocol.ValueTypeProcessInstance,
			Intent: protocol.ElementCompleted, Key: pos, Value: protocol.ProcessInstanceRecord{ElementID: id}}
	}
	recs := append(testengine.RecordStream{completed(0, "start")}, incidentRecords()...)
	recs = append(recs, completed(6, "workflow"))

	assert.NoError(t, assertRecordOrder(nil, recs, Assertion{Records: []string{"INCIDENT.CREATED", "INCIDENT.RESOLVED", "PROCESS_INSTANCE.ELEMENT_COMPLETED"}}))

	err := assertRecordOrder(nil, recs[:len(recs)-1], Assertion{Records: []string{"INCIDENT.CREATED", "PROCESS_INSTANCE.ELEMENT_COMPLETED"}})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "INCIDENT.CREATED (position 2) should be before PROCESS_INSTANCE.ELEMENT_COMPLETED (position 0)", ae.Actual)
}

func TestAssertions_JobKeyFilter(t *testing.T) {
	recs := incidentRecords()
	noJob, job := int64(-1), int64(7)

	assert.NoError(t, assertRecordContains(nil, recs, Assertion{ValueType: "INCIDENT", Intent: "CREATED", JobKey: &noJob}))
	assert.Error(t, assertRecordContains(nil, recs, Assertion{ValueType: "INCIDENT", Intent: "CREATED", JobKey: &job}))

	open := []state.IncidentEntry{
		{Key: 10, Record: protocol.IncidentRecord{ErrorType: protocol.ErrorTypeExtractValue, JobKey: -1}},
		{Key: 11, Record: protocol.IncidentRecord{ErrorType: protocol.ErrorTypeJobNoRetries, JobKey: 7}},
	}
	assert.NoError(t, assertOpenIncidents(open, Assertion{Count: 1, JobKey: &job}))
	assert.NoError(t, assertOpenIncidents(open, Assertion{Count: 1, JobKey: &noJob, ErrorType: "EXTRACT_VALUE_ERROR"}))
}

func TestAssertRecordCount(t *testing.T) {
	recs := incidentRecords()

	assert.NoError(t, assertRecordCount(nil, recs, Assertion{ValueType: "INCIDENT", Intent: "RESOLVE", Count: 1}), "the rejection counts, the command does not")
	assert.NoError(t, assertRecordCount(nil, recs, Assertion{ValueType: "INCIDENT", Intent: "DELETED", Count: 0}))

	err := assertRecordCount(nil, recs, Assertion{ValueType: "INCIDENT", Intent: "CREATED", Count: 2})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "1 records", ae.Actual)
}

func TestAssertOpenIncidents(t *testing.T) {
	open := []state.IncidentEntry{
		{Key: 10, Record: protocol.IncidentRecord{ErrorType: protocol.ErrorTypeCondition, ElementID: "xor"}},
		{Key: 11, Record: protocol.IncidentRecord{ErrorType: protocol.ErrorTypeJobNoRetries, ElementID: "charge"}},
	}

	assert.NoError(t, assertOpenIncidents(open, Assertion{Count: 2}))
	assert.NoError(t, assertOpenIncidents(open, Assertion{Count: 1, ErrorType: "JOB_NO_RETRIES"}))
	assert.NoError(t, assertOpenIncidents(open, Assertion{Count: 1, ElementID: "xor"}))
	assert.Error(t, assertOpenIncidents(open, Assertion{Count: 0}))
}

func TestEvaluateAssertions_CollectsFailures(t *testing.T) {
	result := NewResult()
	actx := &AssertionContext{Records: incidentRecords()}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertRecordCount, ValueType: "INCIDENT", Intent: "CREATED", Count: 1},
		{Type: AssertOpenIncidents, Count: 1},
		{Type: "final_state"},
	}, actx)

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "open_incidents")
	assert.Contains(t, errs[1], `unknown assertion type "final_state"`)
}

func TestBuildTrace_AliasesKeys(t *testing.T) {
	trace := buildTrace(incidentRecords())

	require.Len(t, trace, 3)
	assert.Equal(t, TraceEvent{
		RecordType: "EVENT", ValueType: "INCIDENT", Intent: "CREATED",
		Ref: "incident-1", ElementID: "xor", ErrorType: "CONDITION_ERROR",
	}, trace[0])
	assert.Equal(t, "RESOLVED", trace[1].Intent)
	assert.Equal(t, TraceEvent{
		RecordType: "COMMAND_REJECTION", ValueType: "INCIDENT", Intent: "RESOLVE",
		Ref: "incident-1", RejectionType: "NOT_FOUND",
	}, trace[2])
}

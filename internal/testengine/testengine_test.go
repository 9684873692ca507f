package testengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/incidentd/internal/engine"
	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
)

func gatewayProcess() *model.Process {
	return model.NewProcess("workflow").
		StartEvent("start").
		ExclusiveGateway("xor").
		Condition("foo < 5").EndEvent("low").
		MoveTo("xor").Condition("foo >= 5 && foo < 10").EndEvent("high").
		Done()
}

func orderProcess() *model.Process {
	return model.NewProcess("order").StartEvent("start").ServiceTask("charge", "payment", model.Retries(1)).EndEvent("end").Done()
}

func TestGatewayIncident_ResolvedAfterVariableUpdate(t *testing.T) {
	e := New(t)
	_, err := e.Deploy(gatewayProcess())
	require.NoError(t, err)

	pi, err := e.CreateInstance("workflow", map[string]any{"foo": 12})
	require.NoError(t, err)

	created, ok := e.Records().Incident().Events().WithIntent(protocol.IncidentCreated).First()
	require.True(t, ok)
	inc := created.Value.(protocol.IncidentRecord)
	assert.Equal(t, protocol.ErrorTypeCondition, inc.ErrorType)
	assert.Equal(t, "xor", inc.ElementID)
	assert.Equal(t, pi, inc.ProcessInstanceKey)
	require.Len(t, e.OpenIncidents(), 1)

	require.NoError(t, e.UpdateVariables(pi, map[string]any{"foo": 11}, false))
	rec, err := e.ResolveIncident(created.Key)
	require.NoError(t, err)
	assert.Equal(t, protocol.IncidentResolveFailed, rec.Intent)
	assert.Len(t, e.OpenIncidents(), 1)

	require.NoError(t, e.UpdateVariables(pi, map[string]any{"foo": 7}, false))
	rec, err = e.ResolveIncident(created.Key)
	require.NoError(t, err)
	assert.Equal(t, protocol.IncidentResolved, rec.Intent)
	assert.Empty(t, e.OpenIncidents())

	assert.Equal(t, 1, e.Records().ProcessInstance().WithElementID("high").WithIntent(protocol.ElementCompleted).Len())
	assert.Equal(t, 1, e.Records().ProcessInstance().WithKey(pi).WithIntent(protocol.ElementCompleted).Len())
	assert.Equal(t, []protocol.Intent{
		protocol.IncidentCreate,
		protocol.IncidentCreated,
		protocol.IncidentResolve,
		protocol.IncidentResolveFailed,
		protocol.IncidentResolve,
		protocol.IncidentResolved,
	}, e.Records().Incident().Intents())
}

func TestJobIncident_ResolvedAfterRetriesUpdate(t *testing.T) {
	e := New(t)
	_, err := e.Deploy(orderProcess())
	require.NoError(t, err)
	pi, err := e.CreateInstance("order", nil)
	require.NoError(t, err)

	jobs, err := e.ActivateJobs("payment", 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, Worker, jobs[0].Worker)
	require.NoError(t, e.FailJob(jobs[0].Key, 0, "card service down"))

	incidents := e.OpenIncidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, protocol.ErrorTypeJobNoRetries, incidents[0].Record.ErrorType)
	assert.Equal(t, jobs[0].Key, incidents[0].Record.JobKey)
	assert.Equal(t, "charge", incidents[0].Record.ElementID)

	rec, err := e.ResolveIncident(incidents[0].Key)
	require.NoError(t, err)
	assert.Equal(t, protocol.IncidentResolveFailed, rec.Intent)

	require.NoError(t, e.UpdateJobRetries(jobs[0].Key, 1))
	rec, err = e.ResolveIncident(incidents[0].Key)
	require.NoError(t, err)
	assert.Equal(t, protocol.IncidentResolved, rec.Intent)

	jobs, err = e.ActivateJobs("payment", 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, e.CompleteJob(jobs[0].Key, nil))

	_, live := e.State().ElementInstance(pi)
	assert.False(t, live)
}

func TestRestart_RecoversOpenIncidents(t *testing.T) {
	e := New(t, engine.WithSnapshotInterval(0))
	_, err := e.Deploy(gatewayProcess())
	require.NoError(t, err)
	pi, err := e.CreateInstance("workflow", map[string]any{"foo": 12})
	require.NoError(t, err)
	require.Len(t, e.OpenIncidents(), 1)

	require.NoError(t, e.Restart())

	incidents := e.OpenIncidents()
	require.Len(t, incidents, 1)
	require.NoError(t, e.UpdateVariables(pi, map[string]any{"foo": 1}, false))
	rec, err := e.ResolveIncident(incidents[0].Key)
	require.NoError(t, err)
	assert.Equal(t, protocol.IncidentResolved, rec.Intent)
	assert.Equal(t, 1, e.Records().ProcessInstance().WithElementID("low").WithIntent(protocol.ElementCompleted).Len())
}

func TestExecute_ReturnsRejectionRecord(t *testing.T) {
	e := New(t)

	rec, err := e.Execute(protocol.EncodeKey(PartitionID, 999), protocol.IncidentDelete, protocol.IncidentRecord{})
	require.NoError(t, err)
	assert.Equal(t, protocol.RecordTypeRejection, rec.RecordType)
	assert.Equal(t, protocol.RejectionNotFound, rec.RejectionType)

	err = e.DeleteIncident(protocol.EncodeKey(PartitionID, 999))
	assert.True(t, processing.IsRejectionType(err, protocol.RejectionNotFound), "got %v", err)
	assert.Equal(t, 2, e.Records().Rejections().Len())
}

func TestStandaloneJob_ThrowErrorThenDelete(t *testing.T) {
	e := New(t)
	jobKey, err := e.CreateJob("email", 3)
	require.NoError(t, err)
	_, err = e.ActivateJobs("email", 1)
	require.NoError(t, err)
	require.NoError(t, e.ThrowError(jobKey, "BOUNCED", "mailbox full"))

	created, ok := e.Records().Incident().WithErrorType(protocol.ErrorTypeUnhandledErrorEvent).Events().First()
	require.True(t, ok)
	assert.Equal(t, jobKey, created.Value.(protocol.IncidentRecord).JobKey)

	require.NoError(t, e.DeleteIncident(created.Key))
	assert.Empty(t, e.OpenIncidents())
	deleted, ok := e.Records().Incident().WithIntent(protocol.IncidentDeleted).Last()
	require.True(t, ok)
	assert.Equal(t, created.Key, deleted.Key)
}

func TestRecordStream_Filters(t *testing.T) {
	s := RecordStream{
		{Position: 1, SourceRecordPosition: -1, Key: -1, RecordType: protocol.RecordTypeCommand, ValueType: protocol.ValueTypeIncident, Intent: protocol.IncidentCreate,
			Value: protocol.IncidentRecord{ElementID: "task", ErrorType: protocol.ErrorTypeIOMapping}},
		{Position: 2, SourceRecordPosition: 1, Key: 7, RecordType: protocol.RecordTypeEvent, ValueType: protocol.ValueTypeIncident, Intent: protocol.IncidentCreated,
			Value: protocol.IncidentRecord{ElementID: "task", ErrorType: protocol.ErrorTypeIOMapping}},
		{Position: 3, SourceRecordPosition: -1, Key: 9, RecordType: protocol.RecordTypeCommand, ValueType: protocol.ValueTypeJob, Intent: protocol.JobComplete,
			Value: protocol.JobRecord{ElementID: "other"}},
		{Position: 4, SourceRecordPosition: 3, Key: 9, RecordType: protocol.RecordTypeRejection, ValueType: protocol.ValueTypeJob, Intent: protocol.JobComplete,
			Value: protocol.JobRecord{ElementID: "other"}},
	}

	assert.Equal(t, 2, s.Incident().Len())
	assert.Equal(t, []int64{7}, s.Events().Keys())
	assert.Equal(t, 2, s.Commands().Len())
	assert.Equal(t, 1, s.Rejections().Len())
	assert.Equal(t, 2, s.WithElementID("task").Len())
	assert.Equal(t, 2, s.WithKey(9).Len())
	assert.Equal(t, 2, s.WithErrorType(protocol.ErrorTypeIOMapping).Len())
	assert.Equal(t, []protocol.Intent{protocol.IncidentCreated}, s.SourcedAt(1).Intents())

	first, ok := s.Job().First()
	require.True(t, ok)
	assert.Equal(t, int64(3), first.Position)
	_, ok = s.MessageSubscription().Last()
	assert.False(t, ok)
	assert.Equal(t, 4, s.Len(), "filters must not modify the receiver")
}

package incident

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/incidentd/internal/logstream"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

type fakeSteps struct {
	failure *Failure
	next    Continuation
	calls   []protocol.IncidentRecord
}

func (f *fakeSteps) Reattempt(_ context.Context, inc protocol.IncidentRecord) (Continuation, *Failure) {
	f.calls = append(f.calls, inc)
	if f.failure != nil {
		return nil, f.failure
	}
	return f.next, nil
}

type fakeJobs struct {
	state   *state.State
	failure *Failure
}

func (f *fakeJobs) Job(jobKey int64) (state.Job, bool) {
	return f.state.Job(jobKey)
}

func (f *fakeJobs) CheckResolvable(context.Context, protocol.IncidentRecord) *Failure {
	return f.failure
}

type fixture struct {
	t     *testing.T
	log   *logstream.Log
	state *state.State
	proc  *processing.Processor
	steps *fakeSteps
	jobs  *fakeJobs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l, err := logstream.Open(filepath.Join(t.TempDir(), "partition-1.db"), logstream.WithPartition(1))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	st := state.New(1)
	f := &fixture{t: t, log: l, state: st, steps: &fakeSteps{}, jobs: &fakeJobs{state: st}}

	d := processing.NewDispatcher()
	require.NoError(t, NewProcessor(st, f.steps, f.jobs).Register(d))
	f.proc = processing.NewProcessor(l, st, d, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

// given applies events directly, standing in for collaborators.
func (f *fixture) given(key int64, intent protocol.Intent, v protocol.Value) {
	f.t.Helper()
	require.NoError(f.t, f.state.Apply(protocol.Record{
		Key:        key,
		RecordType: protocol.RecordTypeEvent,
		ValueType:  v.ValueType(),
		Intent:     intent,
		Value:      v,
	}))
}

// execute writes a command, processes the log and returns the command
// together with every record written after it.
func (f *fixture) execute(key int64, intent protocol.Intent, v protocol.Value) (protocol.Record, []protocol.Record) {
	f.t.Helper()
	ctx := context.Background()
	cmd, err := f.log.AppendCommand(ctx, protocol.NewCommand(key, intent, v))
	require.NoError(f.t, err)
	_, err = f.proc.ProcessAvailable(ctx)
	require.NoError(f.t, err)
	after, err := f.log.ReadFrom(ctx, cmd.Position, 0)
	require.NoError(f.t, err)
	return cmd, after
}

func k(counter int64) int64 {
	return protocol.EncodeKey(1, counter)
}

func elementIncident(elementKey int64) protocol.IncidentRecord {
	return protocol.IncidentRecord{
		ErrorType:            protocol.ErrorTypeCondition,
		ErrorMessage:         "failed to evaluate expression 'foo < 5'",
		BPMNProcessID:        "process",
		ProcessDefinitionKey: k(100),
		ProcessInstanceKey:   k(101),
		ElementID:            "xor",
		ElementInstanceKey:   elementKey,
		VariableScopeKey:     elementKey,
		JobKey:               -1,
	}
}

func (f *fixture) activeElement(key int64) {
	f.given(key, protocol.ElementActivating, protocol.ProcessInstanceRecord{ElementID: "xor", FlowScopeKey: -1})
	f.given(key, protocol.GatewayActivated, protocol.ProcessInstanceRecord{ElementID: "xor", FlowScopeKey: -1})
}

func TestCreate_EmitsCreatedSourcedAtCommand(t *testing.T) {
	f := newFixture(t)
	f.activeElement(k(1))

	cmd, after := f.execute(-1, protocol.IncidentCreate, elementIncident(k(1)))

	require.Len(t, after, 1)
	created := after[0]
	assert.Equal(t, protocol.RecordTypeEvent, created.RecordType)
	assert.Equal(t, protocol.IncidentCreated, created.Intent)
	assert.Equal(t, cmd.Position, created.SourceRecordPosition)
	assert.Equal(t, elementIncident(k(1)), created.Value)

	key, ok := f.state.IncidentKeyForElement(k(1))
	require.True(t, ok)
	assert.Equal(t, created.Key, key)
}

func TestCreate_RejectsSecondIncidentForSameElement(t *testing.T) {
	f := newFixture(t)
	f.activeElement(k(1))

	_, first := f.execute(-1, protocol.IncidentCreate, elementIncident(k(1)))
	require.Equal(t, protocol.IncidentCreated, first[0].Intent)

	_, second := f.execute(-1, protocol.IncidentCreate, elementIncident(k(1)))
	require.Len(t, second, 1)
	assert.Equal(t, protocol.RecordTypeRejection, second[0].RecordType)
	assert.Equal(t, protocol.RejectionInvalidState, second[0].RejectionType)
	assert.Equal(t, 1, f.state.OpenIncidentCount())
}

func TestCreate_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		value protocol.IncidentRecord
		want  protocol.RejectionType
	}{
		{
			name:  "unknown element instance",
			value: elementIncident(k(9)),
			want:  protocol.RejectionNotFound,
		},
		{
			name: "terminating element instance",
			setup: func(f *fixture) {
				f.activeElement(k(1))
				f.given(k(1), protocol.ElementTerminating, protocol.ProcessInstanceRecord{})
			},
			value: elementIncident(k(1)),
			want:  protocol.RejectionNotFound,
		},
		{
			name: "untracked job",
			value: protocol.IncidentRecord{
				ErrorType: protocol.ErrorTypeJobNoRetries, ElementInstanceKey: -1, JobKey: k(5),
			},
			want: protocol.RejectionNotFound,
		},
		{
			name: "job not failed",
			setup: func(f *fixture) {
				f.given(k(5), protocol.JobCreated, protocol.JobRecord{Type: "t", Retries: 3, ElementInstanceKey: -1})
			},
			value: protocol.IncidentRecord{
				ErrorType: protocol.ErrorTypeJobNoRetries, ElementInstanceKey: -1, JobKey: k(5),
			},
			want: protocol.RejectionNotFound,
		},
		{
			name:  "neither job nor element",
			value: protocol.IncidentRecord{ErrorType: protocol.ErrorTypeUnknown, ElementInstanceKey: -1, JobKey: -1},
			want:  protocol.RejectionInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}

			cmd, after := f.execute(-1, protocol.IncidentCreate, tt.value)

			require.Len(t, after, 1)
			assert.Equal(t, protocol.RecordTypeRejection, after[0].RecordType)
			assert.Equal(t, tt.want, after[0].RejectionType)
			assert.Equal(t, cmd.Position, after[0].SourceRecordPosition)
			assert.Zero(t, f.state.OpenIncidentCount())
		})
	}
}

func TestCreate_StandaloneJobIncident(t *testing.T) {
	f := newFixture(t)
	f.given(k(5), protocol.JobCreated, protocol.JobRecord{Type: "t", Retries: 1, ElementInstanceKey: -1})
	f.given(k(5), protocol.JobFailed, protocol.JobRecord{Type: "t", Retries: 0, ErrorMessage: "boom"})

	inc := protocol.IncidentRecord{
		ErrorType:            protocol.ErrorTypeJobNoRetries,
		ErrorMessage:         "boom",
		ProcessDefinitionKey: -1,
		ProcessInstanceKey:   -1,
		ElementInstanceKey:   -1,
		VariableScopeKey:     -1,
		JobKey:               k(5),
	}
	_, after := f.execute(-1, protocol.IncidentCreate, inc)
	require.Equal(t, protocol.IncidentCreated, after[0].Intent)

	_, again := f.execute(-1, protocol.IncidentCreate, inc)
	assert.Equal(t, protocol.RejectionInvalidState, again[0].RejectionType)
}

func TestResolve_RetriesInPlaceUntilSuccess(t *testing.T) {
	f := newFixture(t)
	f.activeElement(k(1))
	_, created := f.execute(-1, protocol.IncidentCreate, elementIncident(k(1)))
	incidentKey := created[0].Key

	f.steps.failure = NewFailure(protocol.ErrorTypeCondition, "All conditions evaluated to false and no default flow is set.")
	for range 3 {
		cmd, after := f.execute(incidentKey, protocol.IncidentResolve, protocol.IncidentRecord{})
		require.Len(t, after, 1)
		assert.Equal(t, protocol.IncidentResolveFailed, after[0].Intent)
		assert.Equal(t, incidentKey, after[0].Key)
		assert.Equal(t, cmd.Position, after[0].SourceRecordPosition)

		inc, ok := f.state.Incident(incidentKey)
		require.True(t, ok)
		assert.Equal(t, "All conditions evaluated to false and no default flow is set.", inc.ErrorMessage)
	}

	f.steps.failure = nil
	continued := false
	f.steps.next = func(_ context.Context, w *processing.Writers) error {
		continued = true
		_, err := w.AppendEvent(0, protocol.VariableDocumentUpdated, protocol.VariableDocumentRecord{
			ScopeKey: k(1), Local: true, Variables: map[string]any{"resumed": true},
		})
		return err
	}

	cmd, after := f.execute(incidentKey, protocol.IncidentResolve, protocol.IncidentRecord{})
	require.Len(t, after, 2)
	assert.True(t, continued)
	assert.Equal(t, protocol.IncidentResolved, after[0].Intent)
	assert.Equal(t, incidentKey, after[0].Key)
	assert.Equal(t, cmd.Position, after[0].SourceRecordPosition)
	assert.Equal(t, cmd.Position, after[1].SourceRecordPosition)

	_, open := f.state.IncidentKeyForElement(k(1))
	assert.False(t, open)
	assert.Len(t, f.steps.calls, 4)
}

func TestResolve_Rejections(t *testing.T) {
	f := newFixture(t)

	_, after := f.execute(0, protocol.IncidentResolve, protocol.IncidentRecord{})
	assert.Equal(t, protocol.RejectionInvalidArgument, after[0].RejectionType)

	_, after = f.execute(k(77), protocol.IncidentResolve, protocol.IncidentRecord{})
	assert.Equal(t, protocol.RejectionNotFound, after[0].RejectionType)
	assert.Contains(t, after[0].RejectionReason, "no such incident was found")
	assert.Empty(t, f.steps.calls)
}

func TestResolve_JobIncidentChecksJobSide(t *testing.T) {
	f := newFixture(t)
	f.given(k(5), protocol.JobCreated, protocol.JobRecord{Type: "t", Retries: 1, ElementInstanceKey: -1})
	f.given(k(5), protocol.JobFailed, protocol.JobRecord{Type: "t", Retries: 0})
	_, created := f.execute(-1, protocol.IncidentCreate, protocol.IncidentRecord{
		ErrorType: protocol.ErrorTypeJobNoRetries, ElementInstanceKey: -1, JobKey: k(5),
	})
	incidentKey := created[0].Key

	f.jobs.failure = NewFailure(protocol.ErrorTypeJobNoRetries, "Expected job to have retries")
	_, after := f.execute(incidentKey, protocol.IncidentResolve, protocol.IncidentRecord{})
	assert.Equal(t, protocol.IncidentResolveFailed, after[0].Intent)

	f.jobs.failure = nil
	_, after = f.execute(incidentKey, protocol.IncidentResolve, protocol.IncidentRecord{})
	assert.Equal(t, protocol.IncidentResolved, after[0].Intent)
	assert.Empty(t, f.steps.calls, "job incidents do not re-enter a step")

	job, _ := f.state.Job(k(5))
	assert.Equal(t, state.JobActivatable, job.State)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.activeElement(k(1))
	_, created := f.execute(-1, protocol.IncidentCreate, elementIncident(k(1)))

	cmd, after := f.execute(created[0].Key, protocol.IncidentDelete, protocol.IncidentRecord{})
	require.Len(t, after, 1)
	assert.Equal(t, protocol.IncidentDeleted, after[0].Intent)
	assert.Equal(t, cmd.Position, after[0].SourceRecordPosition)
	assert.Zero(t, f.state.OpenIncidentCount())

	_, after = f.execute(created[0].Key, protocol.IncidentDelete, protocol.IncidentRecord{})
	assert.Equal(t, protocol.RejectionNotFound, after[0].RejectionType)
}

func TestDelete_JobIncidentLeavesJobFailed(t *testing.T) {
	f := newFixture(t)
	f.given(k(1), protocol.ElementActivating, protocol.ProcessInstanceRecord{ElementID: "task", FlowScopeKey: -1})
	f.given(k(1), protocol.ElementActivated, protocol.ProcessInstanceRecord{ElementID: "task", FlowScopeKey: -1})
	f.given(k(5), protocol.JobCreated, protocol.JobRecord{Type: "t", Retries: 1, ElementInstanceKey: k(1)})
	f.given(k(5), protocol.JobFailed, protocol.JobRecord{Type: "t", Retries: 0})
	_, created := f.execute(-1, protocol.IncidentCreate, protocol.IncidentRecord{
		ErrorType: protocol.ErrorTypeJobNoRetries, ElementID: "task", ElementInstanceKey: k(1), VariableScopeKey: k(1), JobKey: k(5),
	})

	_, after := f.execute(created[0].Key, protocol.IncidentDelete, protocol.IncidentRecord{})
	require.Len(t, after, 1, "delete writes no job or element follow-ups")
	assert.Equal(t, protocol.IncidentDeleted, after[0].Intent)

	_, ok := f.state.IncidentKeyForJob(k(5))
	assert.False(t, ok)
	job, _ := f.state.Job(k(5))
	assert.Equal(t, state.JobFailed, job.State)
	assert.Empty(t, f.state.ActivatableJobs("t"))
	el, ok := f.state.ElementInstance(k(1))
	require.True(t, ok)
	assert.Equal(t, protocol.ElementActivated, el.State)
	assert.Empty(t, f.steps.calls)
}

func TestReporter_OnScopeTerminated(t *testing.T) {
	st := state.New(1)
	r := NewReporter(st)

	apply := func(key int64, intent protocol.Intent, v protocol.Value) {
		require.NoError(t, st.Apply(protocol.Record{Key: key, RecordType: protocol.RecordTypeEvent, ValueType: v.ValueType(), Intent: intent, Value: v}))
	}
	apply(k(1), protocol.ElementActivating, protocol.ProcessInstanceRecord{ElementID: "task", FlowScopeKey: -1})
	apply(k(2), protocol.JobCreated, protocol.JobRecord{Type: "t", ElementInstanceKey: k(1)})
	apply(k(2), protocol.JobFailed, protocol.JobRecord{Type: "t", Retries: 0})
	apply(k(3), protocol.IncidentCreated, protocol.IncidentRecord{
		ErrorType: protocol.ErrorTypeJobNoRetries, ElementInstanceKey: k(1), VariableScopeKey: k(1), JobKey: k(2),
	})

	st.Begin()
	defer st.Rollback()
	cancel := protocol.NewCommand(k(9), protocol.ProcessInstanceCancel, protocol.ProcessInstanceRecord{})
	cancel.Position = 40
	w := processing.NewWriters(st, cancel)
	terminated, err := w.AppendEvent(k(1), protocol.ElementTerminated, protocol.ProcessInstanceRecord{ElementID: "task", FlowScopeKey: -1})
	require.NoError(t, err)

	closed, err := r.OnScopeTerminated(w, k(1), terminated)
	require.NoError(t, err)
	assert.True(t, closed)

	entries := w.Entries()
	require.Len(t, entries, 3)

	deleted := entries[1]
	assert.Equal(t, protocol.IncidentDeleted, deleted.Record.Intent)
	assert.Equal(t, k(3), deleted.Record.Key)
	assert.Equal(t, int(terminated), deleted.SourceIndex)

	jobCancel := entries[2]
	assert.Equal(t, protocol.RecordTypeCommand, jobCancel.Record.RecordType)
	assert.Equal(t, protocol.JobCancel, jobCancel.Record.Intent)
	assert.Equal(t, k(2), jobCancel.Record.Key)
	assert.Equal(t, int(terminated), jobCancel.SourceIndex)

	assert.Zero(t, st.OpenIncidentCount())

	closed, err = r.OnScopeTerminated(w, k(1), terminated)
	require.NoError(t, err)
	assert.False(t, closed, "a scope is closed at most once")
}

func TestReporter_OnJobFailure(t *testing.T) {
	st := state.New(1)
	r := NewReporter(st)

	st.Begin()
	defer st.Rollback()
	w := processing.NewWriters(st, protocol.NewCommand(k(5), protocol.JobFail, protocol.JobRecord{}))

	require.NoError(t, r.OnJobFailedWithNoRetries(w, k(5), protocol.JobRecord{Type: "t", ElementInstanceKey: -1}, "boom", processing.CommandRef))
	require.NoError(t, r.OnJobFailure(w, k(6), protocol.JobRecord{
		Type: "t", BPMNProcessID: "p", ProcessInstanceKey: k(1), ElementID: "task", ElementInstanceKey: k(2),
	}, protocol.ErrorTypeUnhandledErrorEvent, "unhandled", processing.CommandRef))

	entries := w.Entries()
	require.Len(t, entries, 2)

	standalone := entries[0].Record.Value.(protocol.IncidentRecord)
	assert.Equal(t, protocol.ErrorTypeJobNoRetries, standalone.ErrorType)
	assert.Equal(t, int64(-1), standalone.ElementInstanceKey)
	assert.Equal(t, int64(-1), standalone.ProcessInstanceKey)
	assert.Equal(t, int64(-1), standalone.VariableScopeKey)
	assert.Empty(t, standalone.BPMNProcessID)
	assert.Equal(t, k(5), standalone.JobKey)

	process := entries[1].Record.Value.(protocol.IncidentRecord)
	assert.Equal(t, protocol.ErrorTypeUnhandledErrorEvent, process.ErrorType)
	assert.Equal(t, k(2), process.ElementInstanceKey)
	assert.Equal(t, k(2), process.VariableScopeKey)
	assert.Equal(t, "task", process.ElementID)
}

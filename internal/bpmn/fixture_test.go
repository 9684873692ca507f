package bpmn

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/incidentd/internal/incident"
	"github.com/roach88/incidentd/internal/job"
	"github.com/roach88/incidentd/internal/logstream"
	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

type fixture struct {
	t       *testing.T
	log     *logstream.Log
	state   *state.State
	proc    *processing.Processor
	engine  *Engine
	deploys int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l, err := logstream.Open(filepath.Join(t.TempDir(), "partition-1.db"), logstream.WithPartition(1))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	st := state.New(1)
	reporter := incident.NewReporter(st)
	engine := New(st, reporter)
	lifecycle := job.NewLifecycle(st, 0)

	d := processing.NewDispatcher()
	require.NoError(t, engine.Register(d))
	require.NoError(t, job.NewProcessor(st, lifecycle, reporter, engine).Register(d))
	require.NoError(t, incident.NewProcessor(st, engine, lifecycle).Register(d))

	return &fixture{
		t:      t,
		log:    l,
		state:  st,
		engine: engine,
		proc:   processing.NewProcessor(l, st, d, slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

// deploy applies a DEPLOYMENT CREATED event for p.
func (f *fixture) deploy(p *model.Process) int64 {
	f.t.Helper()
	content, err := p.Marshal()
	require.NoError(f.t, err)

	version := 1
	if latest, ok := f.state.LatestProcess(p.ID); ok {
		version = latest.Version + 1
	}
	f.deploys++
	key := protocol.EncodeKey(1, 100000+f.deploys)
	require.NoError(f.t, f.state.Apply(protocol.Record{
		Key:        key,
		RecordType: protocol.RecordTypeEvent,
		ValueType:  protocol.ValueTypeDeployment,
		Intent:     protocol.DeploymentCreated,
		Value: protocol.DeploymentRecord{
			Resources: []protocol.DeploymentResource{{Name: p.ID + ".json", Content: content}},
			Processes: []protocol.ProcessMetadata{{
				BPMNProcessID: p.ID, Version: version, ProcessDefinitionKey: key, ResourceName: p.ID + ".json",
			}},
		},
	}))
	return key
}

// execute writes a command, processes the log and returns every record
// written after the command.
func (f *fixture) execute(key int64, intent protocol.Intent, v protocol.Value) []protocol.Record {
	f.t.Helper()
	ctx := context.Background()
	cmd, err := f.log.AppendCommand(ctx, protocol.NewCommand(key, intent, v))
	require.NoError(f.t, err)
	_, err = f.proc.ProcessAvailable(ctx)
	require.NoError(f.t, err)
	after, err := f.log.ReadFrom(ctx, cmd.Position, 0)
	require.NoError(f.t, err)
	return after
}

// createInstance starts processID and returns the instance key with the
// records written.
func (f *fixture) createInstance(processID string, vars map[string]any) (int64, []protocol.Record) {
	f.t.Helper()
	after := f.execute(-1, protocol.ProcessInstanceCreate, protocol.ProcessInstanceCreationRecord{
		BPMNProcessID: processID,
		Variables:     vars,
	})
	require.NotEmpty(f.t, after)
	require.Equal(f.t, protocol.ProcessInstanceCreated, after[0].Intent, "got %s", after[0])
	return after[0].Key, after
}

func (f *fixture) setVariables(scopeKey int64, vars map[string]any) {
	f.t.Helper()
	after := f.execute(scopeKey, protocol.VariableDocumentUpdate, protocol.VariableDocumentRecord{ScopeKey: scopeKey, Variables: vars})
	require.NotEmpty(f.t, after)
	require.Equal(f.t, protocol.RecordTypeEvent, after[0].RecordType, "got %s", after[0])
}

func (f *fixture) resolve(incidentKey int64) []protocol.Record {
	f.t.Helper()
	return f.execute(incidentKey, protocol.IncidentResolve, protocol.IncidentRecord{})
}

// only returns the records of a value type and intent, in log order.
func only(recs []protocol.Record, vt protocol.ValueType, intent protocol.Intent) []protocol.Record {
	var out []protocol.Record
	for _, r := range recs {
		if r.ValueType == vt && r.Intent == intent {
			out = append(out, r)
		}
	}
	return out
}

func incidentsCreated(recs []protocol.Record) []protocol.Record {
	var out []protocol.Record
	for _, r := range only(recs, protocol.ValueTypeIncident, protocol.IncidentCreated) {
		if r.RecordType == protocol.RecordTypeEvent {
			out = append(out, r)
		}
	}
	return out
}

// lifecycle lists "elementId INTENT" for element records, in log order.
func lifecycle(recs []protocol.Record) []string {
	var out []string
	for _, r := range recs {
		if r.ValueType != protocol.ValueTypeProcessInstance || r.RecordType != protocol.RecordTypeEvent {
			continue
		}
		out = append(out, r.Value.(protocol.ProcessInstanceRecord).ElementID+" "+string(r.Intent))
	}
	return out
}

func jobKeyOf(t *testing.T, recs []protocol.Record) int64 {
	t.Helper()
	created := only(recs, protocol.ValueTypeJob, protocol.JobCreated)
	require.Len(t, created, 1)
	return created[0].Key
}

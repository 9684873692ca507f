package deployment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/incidentd/internal/logstream"
	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

func setup(t *testing.T) (*logstream.Log, *state.State, *processing.Processor) {
	t.Helper()
	l, err := logstream.Open(filepath.Join(t.TempDir(), "partition-1.db"), logstream.WithPartition(1))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	st := state.New(1)
	d := processing.NewDispatcher()
	require.NoError(t, NewProcessor(st).Register(d))
	return l, st, processing.NewProcessor(l, st, d, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func deploy(t *testing.T, l *logstream.Log, p *processing.Processor, resources ...protocol.DeploymentResource) protocol.Record {
	t.Helper()
	ctx := context.Background()
	cmd, err := l.AppendCommand(ctx, protocol.NewCommand(-1, protocol.DeploymentCreate, protocol.DeploymentRecord{Resources: resources}))
	require.NoError(t, err)
	_, err = p.ProcessAvailable(ctx)
	require.NoError(t, err)
	after, err := l.ReadFrom(ctx, cmd.Position, 0)
	require.NoError(t, err)
	require.Len(t, after, 1)
	return after[0]
}

func resource(t *testing.T, name string, p *model.Process) protocol.DeploymentResource {
	t.Helper()
	content, err := p.Marshal()
	require.NoError(t, err)
	return protocol.DeploymentResource{Name: name, Content: content}
}

func TestCreate_AssignsVersions(t *testing.T) {
	l, st, p := setup(t)
	v1 := model.NewProcess("order").StartEvent("start").EndEvent("end").Done()
	v2 := model.NewProcess("order").StartEvent("start").ServiceTask("task", "work").EndEvent("end").Done()

	first := deploy(t, l, p, resource(t, "order.json", v1))
	require.Equal(t, protocol.DeploymentCreated, first.Intent)
	meta := first.Value.(protocol.DeploymentRecord).Processes
	require.Len(t, meta, 1)
	assert.Equal(t, "order", meta[0].BPMNProcessID)
	assert.Equal(t, 1, meta[0].Version)

	second := deploy(t, l, p, resource(t, "order.json", v2))
	meta2 := second.Value.(protocol.DeploymentRecord).Processes
	assert.Equal(t, 2, meta2[0].Version)
	assert.NotEqual(t, meta[0].ProcessDefinitionKey, meta2[0].ProcessDefinitionKey)

	latest, ok := st.LatestProcess("order")
	require.True(t, ok)
	assert.Equal(t, 2, latest.Version)
	_, ok = latest.Model.Element("task")
	assert.True(t, ok)
}

func TestCreate_IdenticalResourceKeepsVersion(t *testing.T) {
	l, _, p := setup(t)
	proc := model.NewProcess("order").StartEvent("start").EndEvent("end").Done()

	first := deploy(t, l, p, resource(t, "order.json", proc))
	again := deploy(t, l, p, resource(t, "order.json", proc))

	a := first.Value.(protocol.DeploymentRecord).Processes[0]
	b := again.Value.(protocol.DeploymentRecord).Processes[0]
	assert.Equal(t, a.Version, b.Version)
	assert.Equal(t, a.ProcessDefinitionKey, b.ProcessDefinitionKey)
}

func TestCreate_Rejections(t *testing.T) {
	l, _, p := setup(t)
	valid := resource(t, "a.json", model.NewProcess("a").StartEvent("start").EndEvent("end").Done())

	tests := []struct {
		name      string
		resources []protocol.DeploymentResource
		reason    string
	}{
		{"no resources", nil, "at least one resource"},
		{"unnamed", []protocol.DeploymentResource{{Content: valid.Content}}, "have a name"},
		{"duplicate name", []protocol.DeploymentResource{valid, valid}, "given twice"},
		{"invalid model", []protocol.DeploymentResource{{Name: "bad.json", Content: json.RawMessage(`{"id":"bad","elements":[]}`)}}, "valid process in resource 'bad.json'"},
		{"duplicate id", []protocol.DeploymentResource{valid, {Name: "b.json", Content: valid.Content}}, "unique within a deployment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rej := deploy(t, l, p, tt.resources...)
			assert.Equal(t, protocol.RecordTypeRejection, rej.RecordType)
			assert.Equal(t, protocol.RejectionInvalidArgument, rej.RejectionType)
			assert.Contains(t, rej.RejectionReason, tt.reason)
		})
	}
}

func TestResources_NamedAfterProcess(t *testing.T) {
	l, _, p := setup(t)
	resources, err := Resources([]*model.Process{
		model.NewProcess("order").StartEvent("start").EndEvent("end").Done(),
		model.NewProcess("refund").StartEvent("start").EndEvent("end").Done(),
	})
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "order.json", resources[0].Name)
	assert.Equal(t, "refund.json", resources[1].Name)

	created := deploy(t, l, p, resources...)
	assert.Equal(t, protocol.DeploymentCreated, created.Intent)
	assert.Len(t, created.Value.(protocol.DeploymentRecord).Processes, 2)
}

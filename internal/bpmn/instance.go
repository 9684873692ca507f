package bpmn

import (
	"context"
	"fmt"

	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/pkg/ctxlog"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// createInstance handles PROCESS_INSTANCE_CREATION CREATE. The CREATED
// event is written first so that it is the response, then the instance
// runs until every token waits or the instance completes.
func (e *Engine) createInstance(ctx context.Context, cmd protocol.Record, w *processing.Writers) error {
	req, ok := cmd.Value.(protocol.ProcessInstanceCreationRecord)
	if !ok {
		return processing.NewRejection(protocol.RejectionInvalidArgument,
			"Expected a process instance creation value, but got %s", cmd.ValueType)
	}

	dp, err := e.findProcess(req)
	if err != nil {
		return err
	}

	key := e.state.NextKey()
	created := protocol.ProcessInstanceCreationRecord{
		BPMNProcessID:        dp.BPMNProcessID,
		Version:              dp.Version,
		ProcessDefinitionKey: dp.Key,
		ProcessInstanceKey:   key,
		Variables:            req.Variables,
	}
	if _, err := w.AppendEvent(key, protocol.ProcessInstanceCreated, created); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("process instance created", "process_instance", key, "process", dp.BPMNProcessID, "version", dp.Version)

	_, err = e.startInstance(ctx, w, key, dp, req.Variables, token{})
	return err
}

func (e *Engine) findProcess(req protocol.ProcessInstanceCreationRecord) (state.DeployedProcess, error) {
	if req.ProcessDefinitionKey > 0 {
		dp, ok := e.state.Process(req.ProcessDefinitionKey)
		if !ok {
			return dp, processing.NewRejection(protocol.RejectionNotFound,
				"Expected to find process definition with key '%d', but none found", req.ProcessDefinitionKey)
		}
		return dp, nil
	}
	if req.BPMNProcessID == "" {
		return state.DeployedProcess{}, processing.NewRejection(protocol.RejectionInvalidArgument,
			"Expected either a bpmnProcessId or a processDefinitionKey, but none provided")
	}
	dp, ok := e.state.LatestProcess(req.BPMNProcessID)
	if !ok {
		return dp, processing.NewRejection(protocol.RejectionNotFound,
			"Expected to find process definition with process ID '%s', but none found", req.BPMNProcessID)
	}
	return dp, nil
}

// startInstance activates the process element under key and its start
// event. caller is the call activity token of a child instance, or the
// zero token for a root instance.
func (e *Engine) startInstance(ctx context.Context, w *processing.Writers, key int64, dp state.DeployedProcess, vars map[string]any, caller token) (int64, error) {
	if dp.Model == nil {
		return 0, fmt.Errorf("process definition %d has no model", dp.Key)
	}
	rec := protocol.ProcessInstanceRecord{
		BPMNProcessID:            dp.BPMNProcessID,
		Version:                  dp.Version,
		ProcessDefinitionKey:     dp.Key,
		ProcessInstanceKey:       key,
		ElementID:                dp.Model.ID,
		BPMNElementType:          string(model.ElementProcess),
		FlowScopeKey:             -1,
		ParentProcessInstanceKey: -1,
		ParentElementInstanceKey: -1,
	}
	if caller.key > 0 {
		rec.ParentProcessInstanceKey = caller.value.ProcessInstanceKey
		rec.ParentElementInstanceKey = caller.key
	}

	if _, err := w.AppendEvent(key, protocol.ElementActivating, rec); err != nil {
		return 0, err
	}
	if len(vars) > 0 {
		if err := e.vars.UpdateVariables(w, key, vars, true); err != nil {
			return 0, err
		}
	}
	if _, err := w.AppendEvent(key, protocol.ElementActivated, rec); err != nil {
		return 0, err
	}

	start := dp.Model.StartEvent()
	if start == nil {
		return 0, fmt.Errorf("process %q has no start event", dp.BPMNProcessID)
	}
	instance := token{key: key, value: rec, process: dp.Model}
	return key, e.activate(ctx, w, instance, start, key)
}

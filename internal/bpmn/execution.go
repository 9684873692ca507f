package bpmn

import (
	"context"
	"fmt"
	"maps"

	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/pkg/ctxlog"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
)

// DefaultJobRetries is used when a service task does not set retries.
const DefaultJobRetries = 3

// activate creates a token for def in flowScopeKey and runs it until it
// waits, fails or completes.
func (e *Engine) activate(ctx context.Context, w *processing.Writers, scope token, def *model.Element, flowScopeKey int64) error {
	key := e.state.NextKey()
	t := token{key: key, value: childRecord(scope.value, def, flowScopeKey), process: scope.process, def: def}
	ref, err := w.AppendEvent(key, protocol.ElementActivating, t.value)
	if err != nil {
		return err
	}

	if def.Type == model.ElementExclusiveGateway {
		ref, err := w.AppendEvent(key, protocol.GatewayActivated, t.value)
		if err != nil {
			return err
		}
		return e.evaluateGateway(ctx, w, t, ref)
	}

	a, failure := e.prepareActivation(t)
	if failure != nil {
		return e.incidents.OnElementExecutionFailure(w, key, t.value, failure, ref)
	}
	return e.activated(ctx, w, t, a)
}

// activated finishes activation and starts the element's behavior.
func (e *Engine) activated(ctx context.Context, w *processing.Writers, t token, a activation) error {
	if len(a.inputs) > 0 {
		if err := e.vars.UpdateVariables(w, t.key, a.inputs, true); err != nil {
			return err
		}
	}
	if _, err := w.AppendEvent(t.key, protocol.ElementActivated, t.value); err != nil {
		return err
	}

	switch t.def.Type {
	case model.ElementServiceTask:
		return e.createJob(w, t)
	case model.ElementMessageCatchEvent:
		return e.openSubscription(w, t, a.correlationKey)
	case model.ElementCallActivity:
		vars := e.vars.VisibleVariables(t.key)
		_, err := e.startInstance(ctx, w, e.state.NextKey(), a.called, vars, t)
		return err
	default:
		return e.complete(ctx, w, t, t.outgoing())
	}
}

func (e *Engine) createJob(w *processing.Writers, t token) error {
	retries := t.def.Retries
	if retries <= 0 {
		retries = DefaultJobRetries
	}
	_, err := w.AppendEvent(e.state.NextKey(), protocol.JobCreated, protocol.JobRecord{
		Type:                 t.def.JobType,
		Retries:              retries,
		BPMNProcessID:        t.value.BPMNProcessID,
		ProcessDefinitionKey: t.value.ProcessDefinitionKey,
		ProcessInstanceKey:   t.value.ProcessInstanceKey,
		ElementID:            t.value.ElementID,
		ElementInstanceKey:   t.key,
	})
	return err
}

func (e *Engine) openSubscription(w *processing.Writers, t token, correlationKey string) error {
	_, err := w.AppendEvent(e.state.NextKey(), protocol.MessageSubscriptionOpened, protocol.MessageSubscriptionRecord{
		ProcessInstanceKey: t.value.ProcessInstanceKey,
		ElementInstanceKey: t.key,
		BPMNProcessID:      t.value.BPMNProcessID,
		ElementID:          t.value.ElementID,
		MessageName:        t.def.MessageName,
		CorrelationKey:     correlationKey,
	})
	return err
}

func (e *Engine) evaluateGateway(ctx context.Context, w *processing.Writers, t token, cause processing.Ref) error {
	flow, failure := e.chooseFlow(t)
	if failure != nil {
		return e.incidents.OnElementExecutionFailure(w, t.key, t.value, failure, cause)
	}
	return e.complete(ctx, w, t, []model.SequenceFlow{flow})
}

// complete moves a token to COMPLETING and, unless output mappings fail,
// on through COMPLETED into flows.
func (e *Engine) complete(ctx context.Context, w *processing.Writers, t token, flows []model.SequenceFlow) error {
	ref, err := w.AppendEvent(t.key, protocol.ElementCompleting, t.value)
	if err != nil {
		return err
	}
	outputs, failure := e.prepareCompletion(t)
	if failure != nil {
		return e.incidents.OnElementExecutionFailure(w, t.key, t.value, failure, ref)
	}
	return e.completed(ctx, w, t, outputs, flows)
}

func (e *Engine) completed(ctx context.Context, w *processing.Writers, t token, outputs map[string]any, flows []model.SequenceFlow) error {
	if len(outputs) > 0 {
		if err := e.vars.UpdateVariables(w, t.value.FlowScopeKey, outputs, false); err != nil {
			return err
		}
	}

	if t.elementType() == model.ElementProcess {
		return e.completeInstance(ctx, w, t)
	}

	if _, err := w.AppendEvent(t.key, protocol.ElementCompleted, t.value); err != nil {
		return err
	}
	if len(flows) == 0 {
		return e.completeScopeIfDone(ctx, w, t.value.FlowScopeKey)
	}
	for _, flow := range flows {
		if err := e.takeFlow(ctx, w, t, flow); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) takeFlow(ctx context.Context, w *processing.Writers, from token, flow model.SequenceFlow) error {
	rec := from.value
	rec.ElementID = flow.ID
	rec.BPMNElementType = string(model.ElementSequenceFlow)
	if _, err := w.AppendEvent(e.state.NextKey(), protocol.SequenceFlowTaken, rec); err != nil {
		return err
	}
	target, ok := from.process.Element(flow.Target)
	if !ok {
		return fmt.Errorf("flow %q targets unknown element %q", flow.ID, flow.Target)
	}
	return e.activate(ctx, w, from, target, from.value.FlowScopeKey)
}

// completeScopeIfDone completes a flow scope whose last token finished.
func (e *Engine) completeScopeIfDone(ctx context.Context, w *processing.Writers, flowScopeKey int64) error {
	scope, ok := e.state.ElementInstance(flowScopeKey)
	if !ok || scope.ActiveChildren > 0 || scope.State != protocol.ElementActivated {
		return nil
	}
	t, err := e.tokenFor(scope.Key, scope.Value)
	if err != nil {
		return err
	}
	return e.complete(ctx, w, t, nil)
}

// completeInstance completes a process instance. A child instance hands its
// variables to the calling activity, which then completes as well.
func (e *Engine) completeInstance(ctx context.Context, w *processing.Writers, t token) error {
	result := e.state.LocalVariables(t.key)
	if _, err := w.AppendEvent(t.key, protocol.ElementCompleted, t.value); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("process instance completed", "process_instance", t.key, "process", t.value.BPMNProcessID)

	if t.value.ParentElementInstanceKey <= 0 {
		return nil
	}
	caller, err := e.resolve(t.value.ParentElementInstanceKey)
	if err != nil {
		return err
	}
	if err := e.handOver(w, caller, result); err != nil {
		return err
	}
	return e.complete(ctx, w, caller, caller.outgoing())
}

// handOver stores the result of a job, message or child instance for the
// waiting token. With output mappings the result stays local to the token
// until COMPLETING maps it; otherwise it is propagated to the flow scope.
func (e *Engine) handOver(w *processing.Writers, t token, result map[string]any) error {
	if len(result) == 0 {
		return nil
	}
	if t.def != nil && len(t.def.Outputs) > 0 {
		return e.vars.UpdateVariables(w, t.key, maps.Clone(result), true)
	}
	return e.vars.UpdateVariables(w, t.value.FlowScopeKey, maps.Clone(result), false)
}

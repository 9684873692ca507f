package bpmn

import (
	"fmt"

	"github.com/roach88/incidentd/internal/expression"
	"github.com/roach88/incidentd/internal/incident"
	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// The steps below only read state. They run once when a token first
// reaches them and again on every resolve attempt.

// activation is what the ACTIVATING step computed for a token.
type activation struct {
	inputs         map[string]any
	correlationKey string
	called         state.DeployedProcess
}

func (e *Engine) prepareActivation(t token) (activation, *incident.Failure) {
	var a activation
	if t.def == nil {
		return a, nil
	}

	switch t.def.Type {
	case model.ElementServiceTask, model.ElementCallActivity:
		inputs, failure := applyMappings(t.def.Inputs, e.vars.VisibleVariables(t.key))
		if failure != nil {
			return a, failure
		}
		a.inputs = inputs
	case model.ElementMessageCatchEvent:
		key, err := expression.LookupString(e.vars.VisibleVariables(t.key), t.def.CorrelationKey)
		if err != nil {
			return a, incident.NewFailure(protocol.ErrorTypeExtractValue,
				fmt.Sprintf("Failed to extract the correlation key for '%s': %s", t.def.CorrelationKey, err.Error()))
		}
		a.correlationKey = key
	}

	if t.def.Type == model.ElementCallActivity {
		called, ok := e.state.LatestProcess(t.def.CalledProcessID)
		if !ok {
			return a, incident.NewFailure(protocol.ErrorTypeCalledElement,
				fmt.Sprintf("Expected process with BPMN process id '%s' to be deployed, but not found.", t.def.CalledProcessID))
		}
		a.called = called
	}
	return a, nil
}

// chooseFlow picks the first flow leaving a gateway whose condition holds.
// Flows without a condition always hold; the default flow is only taken
// when nothing else does.
func (e *Engine) chooseFlow(t token) (model.SequenceFlow, *incident.Failure) {
	vars := e.vars.VisibleVariables(t.key)
	var fallback *model.SequenceFlow
	for _, flow := range t.outgoing() {
		if flow.ID == t.def.DefaultFlow {
			fallback = &flow
			continue
		}
		if flow.Condition == "" {
			return flow, nil
		}
		ok, err := e.eval.EvaluateBool(flow.Condition, vars)
		if err != nil {
			return model.SequenceFlow{}, incident.NewFailure(protocol.ErrorTypeCondition, err.Error())
		}
		if ok {
			return flow, nil
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return model.SequenceFlow{}, incident.NewFailure(protocol.ErrorTypeCondition,
		"All conditions evaluated to false and no default flow is set.")
}

// prepareCompletion evaluates output mappings against the token's scope.
// A nil result means there is nothing to write.
func (e *Engine) prepareCompletion(t token) (map[string]any, *incident.Failure) {
	if t.def == nil || len(t.def.Outputs) == 0 {
		return nil, nil
	}
	return applyMappings(t.def.Outputs, e.vars.VisibleVariables(t.key))
}

func applyMappings(mappings []model.Mapping, vars map[string]any) (map[string]any, *incident.Failure) {
	if len(mappings) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(mappings))
	for _, m := range mappings {
		v, err := expression.Lookup(vars, m.Source)
		if err != nil {
			return nil, incident.NewFailure(protocol.ErrorTypeIOMapping, err.Error())
		}
		out[m.Target] = v
	}
	return out, nil
}

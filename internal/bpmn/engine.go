package bpmn

import (
	"errors"
	"fmt"

	"github.com/roach88/incidentd/internal/expression"
	"github.com/roach88/incidentd/internal/incident"
	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// Engine executes process instances of one partition. Besides its own
// commands it serves as the step re-entry for element incidents and as the
// element side of the job lifecycle.
type Engine struct {
	state     *state.State
	incidents *incident.Reporter
	vars      incident.VariableStore
	eval      *expression.Evaluator
}

var (
	_ incident.StepReentry   = (*Engine)(nil)
	_ incident.VariableStore = (*Variables)(nil)
)

// Option configures an Engine.
type Option func(*Engine)

// WithVariableStore replaces the variable store used by execution steps.
func WithVariableStore(vs incident.VariableStore) Option {
	return func(e *Engine) { e.vars = vs }
}

// New creates the process execution engine for st.
func New(st *state.State, incidents *incident.Reporter, opts ...Option) *Engine {
	e := &Engine{
		state:     st,
		incidents: incidents,
		vars:      NewVariables(st),
		eval:      expression.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds the process instance, variable and message routes to d.
func (e *Engine) Register(d *processing.Dispatcher) error {
	return errors.Join(
		d.RegisterFunc(protocol.ValueTypeProcessInstanceCreation, protocol.ProcessInstanceCreate, e.createInstance),
		d.RegisterFunc(protocol.ValueTypeProcessInstance, protocol.ProcessInstanceCancel, e.cancelInstance),
		d.RegisterFunc(protocol.ValueTypeVariableDocument, protocol.VariableDocumentUpdate, e.updateVariables),
		d.RegisterFunc(protocol.ValueTypeMessage, protocol.MessagePublish, e.publishMessage),
	)
}

// token is a live element instance together with its definition.
type token struct {
	key     int64
	value   protocol.ProcessInstanceRecord
	process *model.Process
	// def is nil for the process element itself.
	def *model.Element
}

func (t token) elementType() model.ElementType {
	return model.ElementType(t.value.BPMNElementType)
}

func (t token) outgoing() []model.SequenceFlow {
	if t.def == nil {
		return nil
	}
	return t.process.Outgoing(t.def.ID)
}

// resolve looks up the definition of a live element instance.
func (e *Engine) resolve(key int64) (token, error) {
	el, ok := e.state.ElementInstance(key)
	if !ok {
		return token{}, fmt.Errorf("element instance %d not found", key)
	}
	return e.tokenFor(key, el.Value)
}

func (e *Engine) tokenFor(key int64, v protocol.ProcessInstanceRecord) (token, error) {
	dp, ok := e.state.Process(v.ProcessDefinitionKey)
	if !ok || dp.Model == nil {
		return token{}, fmt.Errorf("process definition %d of element instance %d not found", v.ProcessDefinitionKey, key)
	}
	t := token{key: key, value: v, process: dp.Model}
	if model.ElementType(v.BPMNElementType) == model.ElementProcess {
		return t, nil
	}
	def, ok := dp.Model.Element(v.ElementID)
	if !ok {
		return token{}, fmt.Errorf("element %q not found in process %q", v.ElementID, dp.BPMNProcessID)
	}
	t.def = def
	return t, nil
}

// childRecord builds the record of an element activated in flowScopeKey.
func childRecord(scope protocol.ProcessInstanceRecord, def *model.Element, flowScopeKey int64) protocol.ProcessInstanceRecord {
	return protocol.ProcessInstanceRecord{
		BPMNProcessID:            scope.BPMNProcessID,
		Version:                  scope.Version,
		ProcessDefinitionKey:     scope.ProcessDefinitionKey,
		ProcessInstanceKey:       scope.ProcessInstanceKey,
		ElementID:                def.ID,
		BPMNElementType:          string(def.Type),
		FlowScopeKey:             flowScopeKey,
		ParentProcessInstanceKey: -1,
		ParentElementInstanceKey: -1,
	}
}

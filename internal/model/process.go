package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ElementType is the kind of a process element. The value doubles as the
// bpmnElementType carried by element lifecycle records.
type ElementType string

const (
	ElementProcess           ElementType = "PROCESS"
	ElementStartEvent        ElementType = "START_EVENT"
	ElementEndEvent          ElementType = "END_EVENT"
	ElementServiceTask       ElementType = "SERVICE_TASK"
	ElementExclusiveGateway  ElementType = "EXCLUSIVE_GATEWAY"
	ElementMessageCatchEvent ElementType = "INTERMEDIATE_CATCH_EVENT"
	ElementCallActivity      ElementType = "CALL_ACTIVITY"
	ElementBoundaryError     ElementType = "BOUNDARY_EVENT"
	ElementSequenceFlow      ElementType = "SEQUENCE_FLOW"
)

// Process is an executable process definition.
type Process struct {
	ID       string         `json:"id" validate:"required"`
	Elements []Element      `json:"elements" validate:"required,min=1,dive"`
	Flows    []SequenceFlow `json:"flows" validate:"dive"`

	byID       map[string]*Element
	outgoing   map[string][]SequenceFlow
	boundaries map[string][]*Element
	start      *Element
}

// Element is one node of a process.
type Element struct {
	ID   string      `json:"id" validate:"required"`
	Type ElementType `json:"type" validate:"required,oneof=START_EVENT END_EVENT SERVICE_TASK EXCLUSIVE_GATEWAY INTERMEDIATE_CATCH_EVENT CALL_ACTIVITY BOUNDARY_EVENT"`

	// Service task
	JobType string `json:"jobType,omitempty" validate:"required_if=Type SERVICE_TASK"`
	Retries int    `json:"retries,omitempty" validate:"gte=0"`

	// Service task and call activity
	Inputs  []Mapping `json:"inputs,omitempty" validate:"dive"`
	Outputs []Mapping `json:"outputs,omitempty" validate:"dive"`

	// Message catch event
	MessageName    string `json:"messageName,omitempty" validate:"required_if=Type INTERMEDIATE_CATCH_EVENT"`
	CorrelationKey string `json:"correlationKey,omitempty" validate:"required_if=Type INTERMEDIATE_CATCH_EVENT"`

	// Call activity
	CalledProcessID string `json:"calledProcessId,omitempty" validate:"required_if=Type CALL_ACTIVITY"`

	// Exclusive gateway
	DefaultFlow string `json:"defaultFlow,omitempty"`

	// Boundary error event
	AttachedTo string `json:"attachedTo,omitempty" validate:"required_if=Type BOUNDARY_EVENT"`
	ErrorCode  string `json:"errorCode,omitempty"`
}

// Mapping copies the variable at Source (a dotted path) to Target.
type Mapping struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

// SequenceFlow connects two elements. Conditions only apply to flows leaving
// an exclusive gateway.
type SequenceFlow struct {
	ID        string `json:"id" validate:"required"`
	Source    string `json:"source" validate:"required"`
	Target    string `json:"target" validate:"required"`
	Condition string `json:"condition,omitempty"`
}

// Parse decodes and validates a JSON process definition.
func Parse(data []byte) (*Process, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var p Process
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode process: %w", err)
	}
	if err := p.init(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Marshal encodes the process as a deployment resource.
func (p *Process) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Element returns the element with the given id.
func (p *Process) Element(id string) (*Element, bool) {
	e, ok := p.byID[id]
	return e, ok
}

// StartEvent returns the none start event.
func (p *Process) StartEvent() *Element {
	return p.start
}

// Outgoing returns the flows leaving an element in declaration order.
func (p *Process) Outgoing(id string) []SequenceFlow {
	return p.outgoing[id]
}

// Boundaries returns the boundary events attached to an element.
func (p *Process) Boundaries(id string) []*Element {
	return p.boundaries[id]
}

// Flow returns the sequence flow with the given id.
func (p *Process) Flow(id string) (SequenceFlow, bool) {
	for _, f := range p.Flows {
		if f.ID == id {
			return f, true
		}
	}
	return SequenceFlow{}, false
}

// CatchingBoundary returns the boundary error event attached to elementID
// that catches errorCode. A boundary without an error code catches any code.
func (p *Process) CatchingBoundary(elementID, errorCode string) (*Element, bool) {
	var catchAll *Element
	for _, b := range p.boundaries[elementID] {
		if b.ErrorCode == errorCode {
			return b, true
		}
		if b.ErrorCode == "" && catchAll == nil {
			catchAll = b
		}
	}
	return catchAll, catchAll != nil
}

// init validates the definition and builds the lookup indexes.
func (p *Process) init() error {
	if err := Validate(p); err != nil {
		return err
	}

	p.byID = make(map[string]*Element, len(p.Elements))
	p.outgoing = make(map[string][]SequenceFlow)
	p.boundaries = make(map[string][]*Element)
	for i := range p.Elements {
		e := &p.Elements[i]
		p.byID[e.ID] = e
		switch e.Type {
		case ElementStartEvent:
			p.start = e
		case ElementBoundaryError:
			p.boundaries[e.AttachedTo] = append(p.boundaries[e.AttachedTo], e)
		}
	}
	for _, f := range p.Flows {
		p.outgoing[f.Source] = append(p.outgoing[f.Source], f)
	}
	return nil
}

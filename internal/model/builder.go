package model

import "fmt"

// Builder assembles a process fluently. Each added element is connected to
// the previously added one; MoveTo continues from another element, which is
// how gateway branches are expressed.
//
//	p := model.NewProcess("process").
//		StartEvent("start").
//		ExclusiveGateway("xor").
//		Condition("foo < 5").EndEvent("low").
//		MoveTo("xor").Condition("foo >= 5").EndEvent("high").
//		Done()
type Builder struct {
	p         Process
	last      string
	condition string
	isDefault bool
	flows     int
}

// ElementOption customizes an element added by the builder.
type ElementOption func(*Element)

// Retries sets the job retries of a service task.
func Retries(n int) ElementOption {
	return func(e *Element) { e.Retries = n }
}

// Input adds an input mapping.
func Input(source, target string) ElementOption {
	return func(e *Element) { e.Inputs = append(e.Inputs, Mapping{Source: source, Target: target}) }
}

// Output adds an output mapping.
func Output(source, target string) ElementOption {
	return func(e *Element) { e.Outputs = append(e.Outputs, Mapping{Source: source, Target: target}) }
}

// NewProcess starts a builder for a process with the given id.
func NewProcess(id string) *Builder {
	return &Builder{p: Process{ID: id}}
}

func (b *Builder) add(e Element, opts []ElementOption) *Builder {
	for _, opt := range opts {
		opt(&e)
	}
	b.p.Elements = append(b.p.Elements, e)
	if b.last != "" {
		b.flows++
		flow := SequenceFlow{
			ID:        fmt.Sprintf("flow_%d", b.flows),
			Source:    b.last,
			Target:    e.ID,
			Condition: b.condition,
		}
		b.p.Flows = append(b.p.Flows, flow)
		if b.isDefault {
			b.setDefault(b.last, flow.ID)
		}
	}
	b.last = e.ID
	b.condition = ""
	b.isDefault = false
	return b
}

func (b *Builder) setDefault(gatewayID, flowID string) {
	for i := range b.p.Elements {
		if b.p.Elements[i].ID == gatewayID {
			b.p.Elements[i].DefaultFlow = flowID
		}
	}
}

// StartEvent adds the start event. It is not connected to anything.
func (b *Builder) StartEvent(id string) *Builder {
	b.last = ""
	return b.add(Element{ID: id, Type: ElementStartEvent}, nil)
}

// EndEvent adds an end event.
func (b *Builder) EndEvent(id string) *Builder {
	return b.add(Element{ID: id, Type: ElementEndEvent}, nil)
}

// ServiceTask adds a service task that creates jobs of jobType.
func (b *Builder) ServiceTask(id, jobType string, opts ...ElementOption) *Builder {
	return b.add(Element{ID: id, Type: ElementServiceTask, JobType: jobType, Retries: 3}, opts)
}

// ExclusiveGateway adds an exclusive gateway.
func (b *Builder) ExclusiveGateway(id string) *Builder {
	return b.add(Element{ID: id, Type: ElementExclusiveGateway}, nil)
}

// MessageCatchEvent adds an intermediate message catch event.
func (b *Builder) MessageCatchEvent(id, messageName, correlationKey string) *Builder {
	return b.add(Element{
		ID:             id,
		Type:           ElementMessageCatchEvent,
		MessageName:    messageName,
		CorrelationKey: correlationKey,
	}, nil)
}

// CallActivity adds a call activity that instantiates calledProcessID.
func (b *Builder) CallActivity(id, calledProcessID string, opts ...ElementOption) *Builder {
	return b.add(Element{ID: id, Type: ElementCallActivity, CalledProcessID: calledProcessID}, opts)
}

// BoundaryError attaches an error boundary event to attachedTo and continues
// from it.
func (b *Builder) BoundaryError(id, attachedTo, errorCode string) *Builder {
	b.last = ""
	return b.add(Element{ID: id, Type: ElementBoundaryError, AttachedTo: attachedTo, ErrorCode: errorCode}, nil)
}

// Condition sets the condition of the next flow.
func (b *Builder) Condition(expr string) *Builder {
	b.condition = expr
	return b
}

// DefaultFlow marks the next flow as the gateway's default flow.
func (b *Builder) DefaultFlow() *Builder {
	b.isDefault = true
	return b
}

// MoveTo continues building from an existing element.
func (b *Builder) MoveTo(id string) *Builder {
	b.last = id
	return b
}

// ConnectTo adds a flow from the current element to an existing one.
func (b *Builder) ConnectTo(id string) *Builder {
	b.flows++
	flow := SequenceFlow{ID: fmt.Sprintf("flow_%d", b.flows), Source: b.last, Target: id, Condition: b.condition}
	b.p.Flows = append(b.p.Flows, flow)
	if b.isDefault {
		b.setDefault(b.last, flow.ID)
	}
	b.last = id
	b.condition = ""
	b.isDefault = false
	return b
}

// Build validates the process.
func (b *Builder) Build() (*Process, error) {
	p := b.p
	p.Elements = append([]Element(nil), b.p.Elements...)
	p.Flows = append([]SequenceFlow(nil), b.p.Flows...)
	if err := p.init(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Done validates the process and panics if it is invalid. Intended for tests.
func (b *Builder) Done() *Process {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidationError lists every problem found in a process definition.
type ValidationError struct {
	ProcessID string
	Problems  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid process %q: %s", e.ProcessID, strings.Join(e.Problems, "; "))
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks field constraints and the structure of the flow graph.
func Validate(p *Process) error {
	verr := &ValidationError{ProcessID: p.ID}

	if err := validate.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verr.Problems = append(verr.Problems,
					fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			verr.Problems = append(verr.Problems, err.Error())
		}
		return verr
	}

	elements := make(map[string]Element, len(p.Elements))
	starts := 0
	for _, e := range p.Elements {
		if _, dup := elements[e.ID]; dup {
			verr.Problems = append(verr.Problems, fmt.Sprintf("duplicate element id %q", e.ID))
		}
		elements[e.ID] = e
		if e.Type == ElementStartEvent {
			starts++
		}
	}
	if starts != 1 {
		verr.Problems = append(verr.Problems, fmt.Sprintf("expected exactly one start event, found %d", starts))
	}

	flows := make(map[string]SequenceFlow, len(p.Flows))
	outgoing := make(map[string]int)
	incoming := make(map[string]int)
	for _, f := range p.Flows {
		if _, dup := flows[f.ID]; dup {
			verr.Problems = append(verr.Problems, fmt.Sprintf("duplicate flow id %q", f.ID))
		}
		if _, dup := elements[f.ID]; dup {
			verr.Problems = append(verr.Problems, fmt.Sprintf("flow id %q collides with an element id", f.ID))
		}
		flows[f.ID] = f
		src, ok := elements[f.Source]
		if !ok {
			verr.Problems = append(verr.Problems, fmt.Sprintf("flow %q: unknown source %q", f.ID, f.Source))
		}
		if _, ok := elements[f.Target]; !ok {
			verr.Problems = append(verr.Problems, fmt.Sprintf("flow %q: unknown target %q", f.ID, f.Target))
		}
		if f.Condition != "" && ok && src.Type != ElementExclusiveGateway {
			verr.Problems = append(verr.Problems, fmt.Sprintf("flow %q: conditions are only allowed on gateway flows", f.ID))
		}
		outgoing[f.Source]++
		incoming[f.Target]++
	}

	for _, e := range p.Elements {
		switch e.Type {
		case ElementStartEvent:
			if incoming[e.ID] > 0 {
				verr.Problems = append(verr.Problems, fmt.Sprintf("start event %q has incoming flows", e.ID))
			}
		case ElementEndEvent:
			if outgoing[e.ID] > 0 {
				verr.Problems = append(verr.Problems, fmt.Sprintf("end event %q has outgoing flows", e.ID))
			}
		case ElementExclusiveGateway:
			if outgoing[e.ID] == 0 {
				verr.Problems = append(verr.Problems, fmt.Sprintf("gateway %q has no outgoing flows", e.ID))
			}
			if e.DefaultFlow != "" {
				if f, ok := flows[e.DefaultFlow]; !ok || f.Source != e.ID {
					verr.Problems = append(verr.Problems, fmt.Sprintf("gateway %q: default flow %q does not leave the gateway", e.ID, e.DefaultFlow))
				}
			}
		case ElementBoundaryError:
			host, ok := elements[e.AttachedTo]
			if !ok || (host.Type != ElementServiceTask && host.Type != ElementCallActivity) {
				verr.Problems = append(verr.Problems, fmt.Sprintf("boundary event %q must attach to a task or call activity", e.ID))
			}
			if incoming[e.ID] > 0 {
				verr.Problems = append(verr.Problems, fmt.Sprintf("boundary event %q has incoming flows", e.ID))
			}
		}
		if e.Type != ElementExclusiveGateway && e.Type != ElementEndEvent && outgoing[e.ID] > 1 {
			verr.Problems = append(verr.Problems, fmt.Sprintf("element %q: only gateways may have more than one outgoing flow", e.ID))
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

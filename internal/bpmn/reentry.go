package bpmn

import (
	"context"
	"fmt"

	"github.com/roach88/incidentd/internal/incident"
	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
)

// Reattempt re-runs the step an element incident was raised from, using the
// current variables. The token's lifecycle state tells which step that was.
func (e *Engine) Reattempt(_ context.Context, inc protocol.IncidentRecord) (incident.Continuation, *incident.Failure) {
	el, ok := e.state.ElementInstance(inc.ElementInstanceKey)
	if !ok {
		return nil, incident.NewFailure(inc.ErrorType,
			fmt.Sprintf("Expected element instance with key '%d' to exist, but it was not found", inc.ElementInstanceKey))
	}
	t, err := e.tokenFor(el.Key, el.Value)
	if err != nil {
		return nil, incident.NewFailure(inc.ErrorType, err.Error())
	}

	switch el.State {
	case protocol.ElementActivating:
		a, failure := e.prepareActivation(t)
		if failure != nil {
			return nil, failure
		}
		return func(ctx context.Context, w *processing.Writers) error {
			return e.activated(ctx, w, t, a)
		}, nil

	case protocol.GatewayActivated:
		flow, failure := e.chooseFlow(t)
		if failure != nil {
			return nil, failure
		}
		return func(ctx context.Context, w *processing.Writers) error {
			return e.complete(ctx, w, t, []model.SequenceFlow{flow})
		}, nil

	case protocol.ElementCompleting:
		outputs, failure := e.prepareCompletion(t)
		if failure != nil {
			return nil, failure
		}
		return func(ctx context.Context, w *processing.Writers) error {
			return e.completed(ctx, w, t, outputs, t.outgoing())
		}, nil
	}

	return nil, incident.NewFailure(inc.ErrorType,
		fmt.Sprintf("Expected element instance with key '%d' to wait in a step that can be re-attempted, but it is in state '%s'",
			inc.ElementInstanceKey, el.State))
}

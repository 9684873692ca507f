package bpmn

import (
	"context"

	"github.com/roach88/incidentd/internal/pkg/ctxlog"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

func (e *Engine) waitingTask(job state.Job) (token, error) {
	el, ok := e.state.ElementInstance(job.Value.ElementInstanceKey)
	if !ok || el.State != protocol.ElementActivated {
		return token{}, processing.NewRejection(protocol.RejectionInvalidState,
			"Expected element instance with key '%d' of job '%d' to be active, but it is not",
			job.Value.ElementInstanceKey, job.Key)
	}
	return e.tokenFor(el.Key, el.Value)
}

// OnJobCompleted continues the service task of a completed job.
func (e *Engine) OnJobCompleted(ctx context.Context, w *processing.Writers, job state.Job, variables map[string]any) error {
	t, err := e.waitingTask(job)
	if err != nil {
		return err
	}
	if err := e.handOver(w, t, variables); err != nil {
		return err
	}
	return e.complete(ctx, w, t, t.outgoing())
}

// OnJobErrorThrown terminates the service task and activates the boundary
// event that catches errorCode, if there is one.
func (e *Engine) OnJobErrorThrown(ctx context.Context, w *processing.Writers, job state.Job, errorCode string, _ processing.Ref) (bool, error) {
	t, err := e.waitingTask(job)
	if err != nil {
		return false, err
	}
	boundary, ok := t.process.CatchingBoundary(t.def.ID, errorCode)
	if !ok {
		return false, nil
	}

	if err := e.terminate(w, t.key); err != nil {
		return false, err
	}
	ctxlog.FromContext(ctx).Debug("error caught by boundary event", "element_instance", t.key, "boundary", boundary.ID, "code", errorCode)

	scope, err := e.resolve(t.value.FlowScopeKey)
	if err != nil {
		return false, err
	}
	return true, e.activate(ctx, w, scope, boundary, scope.key)
}

package bpmn

import (
	"context"

	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/pkg/ctxlog"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
)

// cancelInstance handles PROCESS_INSTANCE CANCEL for a root instance.
func (e *Engine) cancelInstance(ctx context.Context, cmd protocol.Record, w *processing.Writers) error {
	el, ok := e.state.ElementInstance(cmd.Key)
	if !ok || model.ElementType(el.Value.BPMNElementType) != model.ElementProcess {
		return processing.NewRejection(protocol.RejectionNotFound,
			"Expected to cancel a process instance with key '%d', but no such process was found", cmd.Key)
	}
	if el.Value.ParentProcessInstanceKey > 0 {
		return processing.NewRejection(protocol.RejectionInvalidState,
			"Expected to cancel a process instance with key '%d', but it is created by a parent process instance. Cancel the root process instance '%d' instead.",
			cmd.Key, el.Value.ParentProcessInstanceKey)
	}
	if !el.IsActive() {
		return processing.NewRejection(protocol.RejectionInvalidState,
			"Expected to cancel a process instance with key '%d', but it is already %s", cmd.Key, el.State)
	}

	if err := e.terminate(w, cmd.Key); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("process instance canceled", "process_instance", cmd.Key)
	return nil
}

// terminate ends a token and everything below it, children first. Each
// terminated token closes its open incident. An outstanding job without
// an incident of its own is canceled through a JOB CANCEL command.
func (e *Engine) terminate(w *processing.Writers, key int64) error {
	el, ok := e.state.ElementInstance(key)
	if !ok {
		return nil
	}
	if _, err := w.AppendEvent(key, protocol.ElementTerminating, el.Value); err != nil {
		return err
	}

	if el.ChildProcessInstanceKey > 0 {
		if err := e.terminate(w, el.ChildProcessInstanceKey); err != nil {
			return err
		}
	}
	for _, child := range e.state.Children(key) {
		if err := e.terminate(w, child.Key); err != nil {
			return err
		}
	}
	if sub, ok := e.state.SubscriptionForElement(key); ok {
		if _, err := w.AppendEvent(sub.Key, protocol.MessageSubscriptionClosed, sub.Value); err != nil {
			return err
		}
	}

	var cancelJob *protocol.JobRecord
	if el.JobKey > 0 {
		if job, tracked := e.state.Job(el.JobKey); tracked {
			if _, hasIncident := e.state.IncidentKeyForJob(el.JobKey); !hasIncident {
				cancelJob = &job.Value
			}
		}
	}

	ref, err := w.AppendEvent(key, protocol.ElementTerminated, el.Value)
	if err != nil {
		return err
	}
	if _, err := e.incidents.OnScopeTerminated(w, key, ref); err != nil {
		return err
	}
	if cancelJob != nil {
		if _, err := w.AppendCommandCausedBy(ref, el.JobKey, protocol.JobCancel, *cancelJob); err != nil {
			return err
		}
	}
	return nil
}

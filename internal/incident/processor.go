package incident

import (
	"context"
	"errors"

	"github.com/roach88/incidentd/internal/pkg/ctxlog"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// Processor handles INCIDENT commands.
type Processor struct {
	state *state.State
	steps StepReentry
	jobs  JobLifecycle
}

// NewProcessor creates the incident command handlers.
func NewProcessor(st *state.State, steps StepReentry, jobs JobLifecycle) *Processor {
	return &Processor{state: st, steps: steps, jobs: jobs}
}

// Register adds the INCIDENT routes to d.
func (p *Processor) Register(d *processing.Dispatcher) error {
	return errors.Join(
		d.RegisterFunc(protocol.ValueTypeIncident, protocol.IncidentCreate, p.create),
		d.RegisterFunc(protocol.ValueTypeIncident, protocol.IncidentResolve, p.resolve),
		d.RegisterFunc(protocol.ValueTypeIncident, protocol.IncidentDelete, p.delete),
	)
}

func (p *Processor) create(ctx context.Context, cmd protocol.Record, w *processing.Writers) error {
	inc, ok := cmd.Value.(protocol.IncidentRecord)
	if !ok {
		return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected an incident value, but got %s", cmd.ValueType)
	}

	if inc.HasJob() {
		job, tracked := p.jobs.Job(inc.JobKey)
		if !tracked || !failedJob(job, inc.ErrorType) {
			return processing.NewRejection(protocol.RejectionNotFound,
				"Expected to create incident for failed job with key '%d', but no such job was found", inc.JobKey)
		}
	}
	if inc.HasElementInstance() {
		el, ok := p.state.ElementInstance(inc.ElementInstanceKey)
		if !ok || !el.IsActive() {
			return processing.NewRejection(protocol.RejectionNotFound,
				"Expected to create incident for failed token with key '%d', but no such token was found", inc.ElementInstanceKey)
		}
		if existing, open := p.state.IncidentKeyForElement(inc.ElementInstanceKey); open {
			return processing.NewRejection(protocol.RejectionInvalidState,
				"Expected to create incident for element instance with key '%d', but incident with key '%d' is already open",
				inc.ElementInstanceKey, existing)
		}
	} else if inc.HasJob() {
		if existing, open := p.state.IncidentKeyForJob(inc.JobKey); open {
			return processing.NewRejection(protocol.RejectionInvalidState,
				"Expected to create incident for job with key '%d', but incident with key '%d' is already open",
				inc.JobKey, existing)
		}
	}
	if !inc.HasJob() && !inc.HasElementInstance() {
		return processing.NewRejection(protocol.RejectionInvalidArgument,
			"Expected incident to reference a job or an element instance, but it references neither")
	}

	key := p.state.NextKey()
	if _, err := w.AppendEvent(key, protocol.IncidentCreated, inc); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("incident created",
		"incident", key,
		"error_type", inc.ErrorType,
		"element_instance", inc.ElementInstanceKey,
		"job", inc.JobKey,
	)
	return nil
}

// failedJob reports whether the job is in a state that can carry an
// incident of the given type. Oversized jobs stay activatable; activation
// skips them while the incident is open.
func failedJob(job state.Job, errorType protocol.ErrorType) bool {
	switch job.State {
	case state.JobFailed, state.JobErrorThrown:
		return true
	case state.JobActivatable:
		return errorType == protocol.ErrorTypeMessageSizeExceeded
	}
	return false
}

func (p *Processor) resolve(ctx context.Context, cmd protocol.Record, w *processing.Writers) error {
	if cmd.Key <= 0 {
		return processing.NewRejection(protocol.RejectionInvalidArgument,
			"Expected to resolve incident with a valid key, but got '%d'", cmd.Key)
	}
	inc, ok := p.state.Incident(cmd.Key)
	if !ok {
		return processing.NewRejection(protocol.RejectionNotFound,
			"Expected to resolve incident with key '%d', but no such incident was found", cmd.Key)
	}

	var (
		next    Continuation
		failure *Failure
	)
	if inc.HasJob() {
		failure = p.jobs.CheckResolvable(ctx, inc)
	} else {
		next, failure = p.steps.Reattempt(ctx, inc)
	}

	logger := ctxlog.FromContext(ctx)
	if failure != nil {
		updated := inc
		updated.ErrorType = failure.ErrorType
		updated.ErrorMessage = failure.Message
		if _, err := w.AppendEvent(cmd.Key, protocol.IncidentResolveFailed, updated); err != nil {
			return err
		}
		logger.Info("incident resolution failed", "incident", cmd.Key, "error_type", failure.ErrorType, "reason", failure.Message)
		return nil
	}

	if _, err := w.AppendEvent(cmd.Key, protocol.IncidentResolved, inc); err != nil {
		return err
	}
	logger.Info("incident resolved", "incident", cmd.Key)

	if next != nil {
		return next(ctx, w)
	}
	return nil
}

// delete closes an incident by operator request. It only removes the incident:
// a job incident leaves its job FAILED and not activatable, and the element
// waiting on that job stays active. Raising the job's retries afterwards does
// not hand it out again because no RESOLVE runs; cancelling the process
// instance is the way to release the element.
func (p *Processor) delete(ctx context.Context, cmd protocol.Record, w *processing.Writers) error {
	if cmd.Key <= 0 {
		return processing.NewRejection(protocol.RejectionInvalidArgument,
			"Expected to delete incident with a valid key, but got '%d'", cmd.Key)
	}
	inc, ok := p.state.Incident(cmd.Key)
	if !ok {
		return processing.NewRejection(protocol.RejectionNotFound,
			"Expected to delete incident with key '%d', but no such incident was found", cmd.Key)
	}
	if _, err := w.AppendEvent(cmd.Key, protocol.IncidentDeleted, inc); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("incident deleted", "incident", cmd.Key)
	return nil
}

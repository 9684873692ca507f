package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/incidentd/internal/incident"
	"github.com/roach88/incidentd/internal/pkg/ctxlog"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// DefaultRetries is used for standalone jobs created without retries.
const DefaultRetries = 3

// ElementBehavior is the process side of a job's lifecycle: the element
// instance that owns a process job continues when the job completes or
// throws an error.
type ElementBehavior interface {
	OnJobCompleted(ctx context.Context, w *processing.Writers, job state.Job, variables map[string]any) error
	// OnJobErrorThrown reports whether a boundary event caught the error.
	OnJobErrorThrown(ctx context.Context, w *processing.Writers, job state.Job, errorCode string, cause processing.Ref) (bool, error)
}

// Processor handles JOB and JOB_BATCH commands.
type Processor struct {
	state     *state.State
	lifecycle *Lifecycle
	incidents *incident.Reporter
	elements  ElementBehavior
}

// NewProcessor creates the job command handlers.
func NewProcessor(st *state.State, lifecycle *Lifecycle, incidents *incident.Reporter, elements ElementBehavior) *Processor {
	return &Processor{state: st, lifecycle: lifecycle, incidents: incidents, elements: elements}
}

// Register adds the JOB and JOB_BATCH routes to d.
func (p *Processor) Register(d *processing.Dispatcher) error {
	return errors.Join(
		d.RegisterFunc(protocol.ValueTypeJob, protocol.JobCreate, p.create),
		d.RegisterFunc(protocol.ValueTypeJobBatch, protocol.JobBatchActivate, p.activate),
		d.RegisterFunc(protocol.ValueTypeJob, protocol.JobComplete, p.complete),
		d.RegisterFunc(protocol.ValueTypeJob, protocol.JobFail, p.fail),
		d.RegisterFunc(protocol.ValueTypeJob, protocol.JobUpdateRetries, p.updateRetries),
		d.RegisterFunc(protocol.ValueTypeJob, protocol.JobThrowError, p.throwError),
		d.RegisterFunc(protocol.ValueTypeJob, protocol.JobCancel, p.cancel),
	)
}

func jobValue(cmd protocol.Record) (protocol.JobRecord, error) {
	v, ok := cmd.Value.(protocol.JobRecord)
	if !ok {
		return v, processing.NewRejection(protocol.RejectionInvalidArgument, "Expected a job value, but got %s", cmd.ValueType)
	}
	return v, nil
}

func (p *Processor) lookup(cmd protocol.Record, action string) (state.Job, error) {
	job, ok := p.state.Job(cmd.Key)
	if !ok {
		return job, processing.NewRejection(protocol.RejectionNotFound,
			"Expected to %s job with key '%d', but no such job was found", action, cmd.Key)
	}
	return job, nil
}

// create handles standalone jobs. Process jobs are created by their
// service task.
func (p *Processor) create(_ context.Context, cmd protocol.Record, w *processing.Writers) error {
	v, err := jobValue(cmd)
	if err != nil {
		return err
	}
	if v.Type == "" {
		return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected job to have a type, but it was empty")
	}
	if v.Retries < 0 {
		return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected job retries to be positive, but got %d", v.Retries)
	}
	if v.Retries == 0 {
		v.Retries = DefaultRetries
	}
	v.Worker = ""
	v.BPMNProcessID = ""
	v.ElementID = ""
	v.ProcessDefinitionKey = -1
	v.ProcessInstanceKey = -1
	v.ElementInstanceKey = -1

	_, err = w.AppendEvent(p.state.NextKey(), protocol.JobCreated, v)
	return err
}

func (p *Processor) activate(ctx context.Context, cmd protocol.Record, w *processing.Writers) error {
	req, ok := cmd.Value.(protocol.JobBatchRecord)
	if !ok {
		return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected a job batch value, but got %s", cmd.ValueType)
	}
	if req.Type == "" {
		return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected to activate jobs of a type, but the type was empty")
	}
	if req.MaxJobsToActivate < 1 {
		return processing.NewRejection(protocol.RejectionInvalidArgument,
			"Expected to activate at least one job, but maxJobsToActivate was %d", req.MaxJobsToActivate)
	}

	type oversized struct {
		job  state.Job
		size int
	}
	var skipped []oversized

	batch := protocol.JobBatchRecord{
		Type:              req.Type,
		Worker:            req.Worker,
		MaxJobsToActivate: req.MaxJobsToActivate,
		JobKeys:           []int64{},
		Jobs:              []protocol.JobRecord{},
	}
	for _, job := range p.state.ActivatableJobs(req.Type) {
		if len(batch.JobKeys) == req.MaxJobsToActivate {
			break
		}
		payload, size, err := p.lifecycle.payload(job)
		if err != nil {
			return err
		}
		if size > p.lifecycle.maxMessageSize {
			skipped = append(skipped, oversized{job: job, size: size})
			continue
		}
		payload.Worker = req.Worker
		batch.JobKeys = append(batch.JobKeys, job.Key)
		batch.Jobs = append(batch.Jobs, payload)
	}

	if _, err := w.AppendEvent(p.state.NextKey(), protocol.JobBatchActivated, batch); err != nil {
		return err
	}
	for _, s := range skipped {
		ctxlog.FromContext(ctx).Warn("job exceeds max message size", "job", s.job.Key, "size", s.size)
		if err := p.incidents.OnJobFailure(w, s.job.Key, s.job.Value, protocol.ErrorTypeMessageSizeExceeded,
			p.lifecycle.sizeMessage(s.job.Key, s.size), processing.CommandRef); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) complete(ctx context.Context, cmd protocol.Record, w *processing.Writers) error {
	v, err := jobValue(cmd)
	if err != nil {
		return err
	}
	job, err := p.lookup(cmd, "complete")
	if err != nil {
		return err
	}
	if job.State == state.JobFailed || job.State == state.JobErrorThrown {
		return processing.NewRejection(protocol.RejectionInvalidState,
			"Expected to complete job with key '%d', but it is in state '%s'", cmd.Key, job.State)
	}

	completed := job.Value
	completed.Variables = v.Variables
	if _, err := w.AppendEvent(cmd.Key, protocol.JobCompleted, completed); err != nil {
		return err
	}
	if job.Value.IsStandalone() {
		return nil
	}
	return p.elements.OnJobCompleted(ctx, w, job, v.Variables)
}

func (p *Processor) fail(_ context.Context, cmd protocol.Record, w *processing.Writers) error {
	v, err := jobValue(cmd)
	if err != nil {
		return err
	}
	job, err := p.lookup(cmd, "fail")
	if err != nil {
		return err
	}
	if job.State != state.JobActivated {
		return processing.NewRejection(protocol.RejectionInvalidState,
			"Expected to fail activated job with key '%d', but it is in state '%s'", cmd.Key, job.State)
	}

	failed := job.Value
	failed.Retries = max(v.Retries, 0)
	failed.ErrorMessage = v.ErrorMessage
	ref, err := w.AppendEvent(cmd.Key, protocol.JobFailed, failed)
	if err != nil {
		return err
	}
	if failed.Retries > 0 {
		return nil
	}

	message := failed.ErrorMessage
	if message == "" {
		message = "No more retries left."
	}
	return p.incidents.OnJobFailedWithNoRetries(w, cmd.Key, failed, message, ref)
}

func (p *Processor) updateRetries(_ context.Context, cmd protocol.Record, w *processing.Writers) error {
	v, err := jobValue(cmd)
	if err != nil {
		return err
	}
	if v.Retries < 1 {
		return processing.NewRejection(protocol.RejectionInvalidArgument,
			"Expected to update retries of job with key '%d' to a positive number, but got %d", cmd.Key, v.Retries)
	}
	job, err := p.lookup(cmd, "update retries of")
	if err != nil {
		return err
	}

	updated := job.Value
	updated.Retries = v.Retries
	_, err = w.AppendEvent(cmd.Key, protocol.JobRetriesUpdated, updated)
	return err
}

func (p *Processor) throwError(ctx context.Context, cmd protocol.Record, w *processing.Writers) error {
	v, err := jobValue(cmd)
	if err != nil {
		return err
	}
	if v.ErrorCode == "" {
		return processing.NewRejection(protocol.RejectionInvalidArgument,
			"Expected to throw an error for job with key '%d', but the error code was empty", cmd.Key)
	}
	job, err := p.lookup(cmd, "throw an error for")
	if err != nil {
		return err
	}
	if job.State == state.JobFailed || job.State == state.JobErrorThrown {
		return processing.NewRejection(protocol.RejectionInvalidState,
			"Expected to throw an error for job with key '%d', but it is in state '%s'", cmd.Key, job.State)
	}

	thrown := job.Value
	thrown.ErrorCode = v.ErrorCode
	thrown.ErrorMessage = v.ErrorMessage
	ref, err := w.AppendEvent(cmd.Key, protocol.JobErrorThrown, thrown)
	if err != nil {
		return err
	}

	if !job.Value.IsStandalone() {
		caught, err := p.elements.OnJobErrorThrown(ctx, w, job, v.ErrorCode, ref)
		if err != nil || caught {
			return err
		}
	}

	message := fmt.Sprintf("An error was thrown with the code '%s' but not caught. No error events are available in the scope.", v.ErrorCode)
	if v.ErrorMessage != "" {
		message = fmt.Sprintf("%s Error message: %s", message, v.ErrorMessage)
	}
	return p.incidents.OnJobFailure(w, cmd.Key, thrown, protocol.ErrorTypeUnhandledErrorEvent, message, ref)
}

func (p *Processor) cancel(_ context.Context, cmd protocol.Record, w *processing.Writers) error {
	job, err := p.lookup(cmd, "cancel")
	if err != nil {
		return err
	}
	if !job.Value.IsStandalone() {
		if el, ok := p.state.ElementInstance(job.Value.ElementInstanceKey); ok && el.IsActive() {
			return processing.NewRejection(protocol.RejectionInvalidState,
				"Expected to cancel job with key '%d', but its element instance '%d' is still active; cancel the process instance instead",
				cmd.Key, job.Value.ElementInstanceKey)
		}
	}

	ref, err := w.AppendEvent(cmd.Key, protocol.JobCanceled, job.Value)
	if err != nil {
		return err
	}
	_, err = p.incidents.OnScopeTerminated(w, cmd.Key, ref)
	return err
}

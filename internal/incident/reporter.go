package incident

import (
	"fmt"

	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// Reporter is the entry point for collaborators that raise or close
// incidents. It only writes commands and closure events; the CREATE handler
// decides whether an incident is actually opened.
type Reporter struct {
	state *state.State
}

// NewReporter returns a Reporter reading from st.
func NewReporter(st *state.State) *Reporter {
	return &Reporter{state: st}
}

// OnJobFailedWithNoRetries raises a JOB_NO_RETRIES incident for a job,
// sourced at cause (normally the JOB FAILED event).
func (r *Reporter) OnJobFailedWithNoRetries(w *processing.Writers, jobKey int64, job protocol.JobRecord, errorMessage string, cause processing.Ref) error {
	return r.OnJobFailure(w, jobKey, job, protocol.ErrorTypeJobNoRetries, errorMessage, cause)
}

// OnJobFailure raises a job incident of the given type.
func (r *Reporter) OnJobFailure(w *processing.Writers, jobKey int64, job protocol.JobRecord, errorType protocol.ErrorType, errorMessage string, cause processing.Ref) error {
	inc := protocol.IncidentRecord{
		ErrorType:            errorType,
		ErrorMessage:         errorMessage,
		BPMNProcessID:        job.BPMNProcessID,
		ProcessDefinitionKey: job.ProcessDefinitionKey,
		ProcessInstanceKey:   job.ProcessInstanceKey,
		ElementID:            job.ElementID,
		ElementInstanceKey:   job.ElementInstanceKey,
		VariableScopeKey:     job.ElementInstanceKey,
		JobKey:               jobKey,
	}
	if job.IsStandalone() {
		inc.BPMNProcessID = ""
		inc.ElementID = ""
		inc.ProcessDefinitionKey = -1
		inc.ProcessInstanceKey = -1
		inc.ElementInstanceKey = -1
		inc.VariableScopeKey = -1
	}
	return r.create(w, inc, cause)
}

// OnElementExecutionFailure raises an incident on an element instance,
// sourced at cause (the lifecycle event of the failing step).
func (r *Reporter) OnElementExecutionFailure(w *processing.Writers, elementInstanceKey int64, el protocol.ProcessInstanceRecord, failure *Failure, cause processing.Ref) error {
	return r.create(w, protocol.IncidentRecord{
		ErrorType:            failure.ErrorType,
		ErrorMessage:         failure.Message,
		BPMNProcessID:        el.BPMNProcessID,
		ProcessDefinitionKey: el.ProcessDefinitionKey,
		ProcessInstanceKey:   el.ProcessInstanceKey,
		ElementID:            el.ElementID,
		ElementInstanceKey:   elementInstanceKey,
		VariableScopeKey:     elementInstanceKey,
		JobKey:               -1,
	}, cause)
}

func (r *Reporter) create(w *processing.Writers, inc protocol.IncidentRecord, cause processing.Ref) error {
	if _, err := w.AppendCommandCausedBy(cause, -1, protocol.IncidentCreate, inc); err != nil {
		return fmt.Errorf("raise incident: %w", err)
	}
	return nil
}

// OnScopeTerminated closes the open incident of a terminated element
// instance or canceled job. The DELETED event is sourced at cause, the
// termination record. When the incident belongs to a job that is still
// outstanding, a JOB CANCEL command is written from the same record.
//
// It reports whether an incident was closed.
func (r *Reporter) OnScopeTerminated(w *processing.Writers, scopeKey int64, cause processing.Ref) (bool, error) {
	key, ok := r.state.IncidentKeyForElement(scopeKey)
	if !ok {
		key, ok = r.state.IncidentKeyForJob(scopeKey)
	}
	if !ok {
		return false, nil
	}
	inc, _ := r.state.Incident(key)

	if _, err := w.AppendEventCausedBy(cause, key, protocol.IncidentDeleted, inc); err != nil {
		return false, err
	}

	if inc.HasJob() && inc.JobKey != scopeKey {
		if job, outstanding := r.state.Job(inc.JobKey); outstanding {
			if _, err := w.AppendCommandCausedBy(cause, inc.JobKey, protocol.JobCancel, job.Value); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

package incident

import (
	"context"

	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// Failure describes why a step could not proceed. It becomes the errorType
// and errorMessage of an incident.
type Failure struct {
	ErrorType protocol.ErrorType
	Message   string
}

func (f *Failure) Error() string {
	return f.ErrorType.String() + ": " + f.Message
}

// NewFailure builds a Failure.
func NewFailure(t protocol.ErrorType, message string) *Failure {
	return &Failure{ErrorType: t, Message: message}
}

// Continuation advances execution after a successful re-attempt. Records it
// writes chain from the RESOLVE command.
type Continuation func(ctx context.Context, w *processing.Writers) error

// StepReentry re-attempts the step that raised an element incident, using
// the current variables. It must not write records itself: on success it
// returns the continuation that advances the token, on failure the new
// failure description.
type StepReentry interface {
	Reattempt(ctx context.Context, inc protocol.IncidentRecord) (Continuation, *Failure)
}

// JobLifecycle is the job side of incident handling.
type JobLifecycle interface {
	// Job returns the tracked job.
	Job(jobKey int64) (state.Job, bool)
	// CheckResolvable reports why a job incident cannot be resolved yet,
	// or nil once the job may be handed out again.
	CheckResolvable(ctx context.Context, inc protocol.IncidentRecord) *Failure
}

// VariableStore gives step re-entry scoped access to variables.
type VariableStore interface {
	VisibleVariables(scopeKey int64) map[string]any
	UpdateVariables(w *processing.Writers, scopeKey int64, variables map[string]any, local bool) error
}

package job

import (
	"context"
	"fmt"

	"github.com/roach88/incidentd/internal/incident"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// DefaultMaxMessageSize bounds the canonical JSON size of an activated job.
const DefaultMaxMessageSize = 4 * 1024 * 1024

// Lifecycle answers the job-side questions of incident handling.
type Lifecycle struct {
	state          *state.State
	maxMessageSize int
}

// NewLifecycle returns a Lifecycle for st. A non-positive maxMessageSize
// uses DefaultMaxMessageSize.
func NewLifecycle(st *state.State, maxMessageSize int) *Lifecycle {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Lifecycle{state: st, maxMessageSize: maxMessageSize}
}

// Job returns the tracked job.
func (l *Lifecycle) Job(jobKey int64) (state.Job, bool) {
	return l.state.Job(jobKey)
}

// CheckResolvable re-checks the precondition a job incident waits for:
// retries left for exhausted jobs, and a payload within the limit for
// oversized ones.
func (l *Lifecycle) CheckResolvable(_ context.Context, inc protocol.IncidentRecord) *incident.Failure {
	job, ok := l.state.Job(inc.JobKey)
	if !ok {
		return incident.NewFailure(inc.ErrorType,
			fmt.Sprintf("Expected to resolve incident of job with key '%d', but no such job was found", inc.JobKey))
	}

	switch inc.ErrorType {
	case protocol.ErrorTypeJobNoRetries:
		if job.Value.Retries <= 0 {
			return incident.NewFailure(inc.ErrorType,
				fmt.Sprintf("Expected job with key '%d' to have retries left, but it has %d; update the retries first", inc.JobKey, job.Value.Retries))
		}
	case protocol.ErrorTypeMessageSizeExceeded:
		_, size, err := l.payload(job)
		if err != nil {
			return incident.NewFailure(inc.ErrorType, err.Error())
		}
		if size > l.maxMessageSize {
			return incident.NewFailure(inc.ErrorType, l.sizeMessage(job.Key, size))
		}
	}
	return nil
}

// payload builds the record handed to a worker and measures its size.
// Process jobs carry every variable visible from their element instance.
func (l *Lifecycle) payload(job state.Job) (protocol.JobRecord, int, error) {
	rec := job.Value
	if !rec.IsStandalone() {
		rec.Variables = l.state.VisibleVariables(rec.ElementInstanceKey)
	}
	size, err := protocol.CanonicalSize(rec)
	if err != nil {
		return rec, 0, fmt.Errorf("measure job %d: %w", job.Key, err)
	}
	return rec, size, nil
}

func (l *Lifecycle) sizeMessage(jobKey int64, size int) string {
	return fmt.Sprintf("The job with key '%d' can not be activated, because it is %d bytes, larger than the configured maximum message size of %d bytes",
		jobKey, size, l.maxMessageSize)
}

package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestTimeout is returned when no response record arrives before
	// the client's request timeout.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrUnknownPartition is returned when a key belongs to a partition the
	// broker does not run.
	ErrUnknownPartition = errors.New("unknown partition")

	// ErrResolveFailed is returned by ResolveIncident when the incident's
	// cause is still present.
	ErrResolveFailed = errors.New("incident not resolved")
)

// PartitionError is a fatal condition that stops a partition.
//
// A partition that returned a PartitionError keeps returning it; the
// operator restarts the partition, which recovers from its log.
type PartitionError struct {
	// Code identifies the error category.
	Code PartitionErrorCode

	// Partition is the failing partition id.
	Partition int

	// Position is the log position being processed, if any.
	Position int64

	// Err is the underlying error.
	Err error
}

// PartitionErrorCode categorizes partition failures.
type PartitionErrorCode string

const (
	// ErrCodeNoHandler indicates a command nothing is registered for.
	ErrCodeNoHandler PartitionErrorCode = "NO_HANDLER"

	// ErrCodeAppendFailed indicates the log refused or lost a batch.
	ErrCodeAppendFailed PartitionErrorCode = "APPEND_FAILED"

	// ErrCodeReplayFailed indicates recovery could not rebuild state.
	ErrCodeReplayFailed PartitionErrorCode = "REPLAY_FAILED"

	// ErrCodeSnapshotFailed indicates a snapshot could not be written.
	ErrCodeSnapshotFailed PartitionErrorCode = "SNAPSHOT_FAILED"
)

// Error implements the error interface.
func (e *PartitionError) Error() string {
	if e.Position > 0 {
		return fmt.Sprintf("%s: partition %d at position %d: %v", e.Code, e.Partition, e.Position, e.Err)
	}
	return fmt.Sprintf("%s: partition %d: %v", e.Code, e.Partition, e.Err)
}

// Unwrap returns the underlying error.
func (e *PartitionError) Unwrap() error {
	return e.Err
}

// IsReplayError reports whether err stopped a partition during recovery.
// Uses errors.As to handle wrapped errors.
func IsReplayError(err error) bool {
	return hasCode(err, ErrCodeReplayFailed)
}

// IsNoHandlerError reports whether err is an unroutable command.
func IsNoHandlerError(err error) bool {
	return hasCode(err, ErrCodeNoHandler)
}

func hasCode(err error, code PartitionErrorCode) bool {
	var pe *PartitionError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

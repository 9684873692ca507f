package processing

import (
	"errors"
	"fmt"

	"github.com/roach88/incidentd/internal/protocol"
)

// ErrNoHandler is returned when a command has no registered route. It is
// fatal for the partition.
var ErrNoHandler = errors.New("no handler registered")

// RejectionError makes the processor write a COMMAND_REJECTION instead of
// the handler's buffered records.
type RejectionError struct {
	Type   protocol.RejectionType
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

// NewRejection builds a RejectionError with a formatted reason.
func NewRejection(t protocol.RejectionType, format string, args ...any) *RejectionError {
	return &RejectionError{Type: t, Reason: fmt.Sprintf(format, args...)}
}

// AsRejection extracts a RejectionError from err.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// IsRejectionType reports whether err is a rejection of the given type.
func IsRejectionType(err error, t protocol.RejectionType) bool {
	rej, ok := AsRejection(err)
	return ok && rej.Type == t
}

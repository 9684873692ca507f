package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionError_Codes(t *testing.T) {
	cause := errors.New("checksum mismatch")
	err := fmt.Errorf("open: %w", &PartitionError{Code: ErrCodeReplayFailed, Partition: 2, Err: cause})

	assert.True(t, IsReplayError(err))
	assert.False(t, IsNoHandlerError(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "open: REPLAY_FAILED: partition 2: checksum mismatch", err.Error())
}

func TestPartitionError_WithPosition(t *testing.T) {
	err := &PartitionError{Code: ErrCodeAppendFailed, Partition: 1, Position: 42, Err: errors.New("disk full")}
	assert.Equal(t, "APPEND_FAILED: partition 1 at position 42: disk full", err.Error())
	assert.False(t, IsReplayError(nil))
}

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/incidentd/internal/protocol"
)

func TestOpenBroker_RequiresPartitions(t *testing.T) {
	_, err := OpenBroker(context.Background(), t.TempDir(), 0, quietLogger())
	assert.Error(t, err)
}

func TestBroker_Routing(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenBroker(context.Background(), dir, 3, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	require.Len(t, b.Partitions(), 3)
	assert.FileExists(t, PartitionPath(dir, 3))

	p, err := b.PartitionForKey(protocol.EncodeKey(2, 41))
	require.NoError(t, err)
	assert.Equal(t, 2, p.ID())

	_, err = b.PartitionForKey(protocol.EncodeKey(4, 1))
	assert.ErrorIs(t, err, ErrUnknownPartition)
	_, err = b.Partition(0)
	assert.ErrorIs(t, err, ErrUnknownPartition)

	var order []int
	for range 4 {
		order = append(order, b.NextPartition().ID())
	}
	assert.Equal(t, []int{1, 2, 3, 1}, order)
}

func TestBroker_ProcessUntilIdle(t *testing.T) {
	b, err := OpenBroker(context.Background(), t.TempDir(), 2, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	for _, p := range b.Partitions() {
		_, err := p.Write(context.Background(), protocol.NewCommand(-1, protocol.JobCreate, protocol.JobRecord{Type: "email"}))
		require.NoError(t, err)
	}
	n, err := b.ProcessUntilIdle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, p := range b.Partitions() {
		assert.Len(t, p.State().ActivatableJobs("email"), 1)
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/incidentd/internal/protocol"
)

// Broker runs a fixed set of partitions numbered from 1.
type Broker struct {
	partitions []*Partition
	next       atomic.Uint64
	logger     *slog.Logger
}

// PartitionPath returns the log file of partition id under dataDir.
func PartitionPath(dataDir string, id int) string {
	return filepath.Join(dataDir, fmt.Sprintf("partition-%d.db", id))
}

// OpenBroker opens count partitions under dataDir. Options apply to every
// partition.
func OpenBroker(ctx context.Context, dataDir string, count int, logger *slog.Logger, opts ...Option) (*Broker, error) {
	if count < 1 {
		return nil, fmt.Errorf("open broker: partition count must be at least 1, got %d", count)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("open broker: %w", err)
	}

	b := &Broker{logger: logger}
	opts = append([]Option{WithLogger(logger)}, opts...)
	for id := 1; id <= count; id++ {
		p, err := OpenPartition(ctx, id, PartitionPath(dataDir, id), opts...)
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
		b.partitions = append(b.partitions, p)
	}
	logger.Info("broker opened", "partitions", count, "data_dir", dataDir)
	return b, nil
}

// Partitions returns the partitions in id order.
func (b *Broker) Partitions() []*Partition {
	return b.partitions
}

// Partition returns partition id.
func (b *Broker) Partition(id int) (*Partition, error) {
	if id < 1 || id > len(b.partitions) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPartition, id)
	}
	return b.partitions[id-1], nil
}

// PartitionForKey returns the partition that allocated key.
func (b *Broker) PartitionForKey(key int64) (*Partition, error) {
	return b.Partition(protocol.DecodePartitionID(key))
}

// NextPartition picks partitions round-robin for commands without a key.
func (b *Broker) NextPartition() *Partition {
	n := b.next.Add(1) - 1
	return b.partitions[n%uint64(len(b.partitions))]
}

// Run runs every partition until ctx ends or one partition fails.
// Cancellation is a normal shutdown and returns nil.
func (b *Broker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range b.partitions {
		g.Go(func() error {
			err := p.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// ProcessUntilIdle drives every partition once, in id order.
func (b *Broker) ProcessUntilIdle(ctx context.Context) (int, error) {
	total := 0
	for _, p := range b.partitions {
		n, err := p.ProcessUntilIdle(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close closes every partition.
func (b *Broker) Close() error {
	var errs []error
	for _, p := range b.partitions {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close partition %d: %w", p.ID(), err))
		}
	}
	return errors.Join(errs...)
}

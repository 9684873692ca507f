package processing

import (
	"context"
	"fmt"

	"github.com/roach88/incidentd/internal/logstream"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// Replay applies every event after position `after` to st and restores the
// last processed command position from the sources of events and
// rejections. It returns the number of records read.
//
// An event may be sourced at an earlier event of its own batch. Such sources
// are not commands, so they are skipped when restoring the position. Batches
// never exceed the log's max batch size, which bounds how far back a
// batch-local source can be.
func Replay(ctx context.Context, log *logstream.Log, st *state.State, after int64) (int, error) {
	window := int64(log.MaxBatchSize())
	events := make(map[int64]struct{})
	reader := log.NewReader(after)

	n := 0
	for {
		rec, ok, err := reader.Next(ctx)
		if err != nil {
			return n, fmt.Errorf("replay read: %w", err)
		}
		if !ok {
			return n, nil
		}
		n++

		switch rec.RecordType {
		case protocol.RecordTypeEvent:
			if err := st.Apply(rec); err != nil {
				return n, fmt.Errorf("replay position %d: %w", rec.Position, err)
			}
			if _, local := events[rec.SourceRecordPosition]; !local {
				st.SetLastProcessedPosition(rec.SourceRecordPosition)
			}
			events[rec.Position] = struct{}{}
		case protocol.RecordTypeRejection:
			st.SetLastProcessedPosition(rec.SourceRecordPosition)
		}
		delete(events, rec.Position-window)
	}
}

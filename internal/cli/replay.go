package cli

import (
	"context"
	"fmt"
	"io"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/incidentd/internal/logstream"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/state"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	logPathFlags
	FailOnOpen bool
}

// OpenIncident is one unresolved incident in a replay summary.
type OpenIncident struct {
	Key                int64  `json:"key"`
	ErrorType          string `json:"error_type"`
	ErrorMessage       string `json:"error_message"`
	BPMNProcessID      string `json:"bpmn_process_id,omitempty"`
	ElementID          string `json:"element_id,omitempty"`
	ProcessInstanceKey int64  `json:"process_instance_key,omitempty"`
	ElementInstanceKey int64  `json:"element_instance_key,omitempty"`
	JobKey             int64  `json:"job_key,omitempty"`
}

// ReplayResult summarizes the state rebuilt from a partition log.
type ReplayResult struct {
	Path                  string         `json:"path"`
	PartitionID           int            `json:"partition_id"`
	RecordsReplayed       int            `json:"records_replayed"`
	LastPosition          int64          `json:"last_position"`
	LastProcessedPosition int64          `json:"last_processed_position"`
	SnapshotPosition      int64          `json:"snapshot_position,omitempty"`
	SnapshotConsistent    *bool          `json:"snapshot_consistent,omitempty"`
	OpenIncidents         []OpenIncident `json:"open_incidents"`
}

// RenderText implements textRenderer.
func (r *ReplayResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Partition %d: replayed %d records (last position %d, last processed %d)\n",
		r.PartitionID, r.RecordsReplayed, r.LastPosition, r.LastProcessedPosition)
	if r.SnapshotConsistent != nil {
		status := "✓ matches"
		if !*r.SnapshotConsistent {
			status = "✗ differs from"
		}
		fmt.Fprintf(w, "Snapshot at position %d: %s full replay\n", r.SnapshotPosition, status)
	}
	if len(r.OpenIncidents) == 0 {
		fmt.Fprintln(w, "No open incidents.")
		return
	}
	fmt.Fprintf(w, "Open incidents (%d):\n", len(r.OpenIncidents))
	for _, inc := range r.OpenIncidents {
		where := inc.ElementID
		if where == "" {
			where = fmt.Sprintf("job %d", inc.JobKey)
		}
		fmt.Fprintf(w, "  %d  %-22s %-16s %s\n", inc.Key, inc.ErrorType, where, inc.ErrorMessage)
	}
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild partition state from its log",
		Long: `Rebuild the state of a partition by replaying every event in its log
into empty state, then report the open incidents.

If the log holds a snapshot, the state recovered from the snapshot plus the
events after it is compared with the full replay.

Exit codes:
  0 - Replay succeeded
  1 - Snapshot and full replay differ, or --fail-on-open and incidents are open
  2 - Command error (log not found, unreadable records, etc.)

Examples:
  incidentd replay --db ./data/partition-1.db
  incidentd replay --partition 2 --config incidentd.yaml
  incidentd replay --db ./data/partition-1.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to a partition log")
	cmd.Flags().IntVar(&opts.Partition, "partition", 0, "partition id inside the configured data directory")
	cmd.Flags().BoolVar(&opts.FailOnOpen, "fail-on-open", false, "exit 1 when incidents are open")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path, err := opts.resolve(opts.RootOptions)
	if err != nil {
		return err
	}
	l, err := openExistingLog(path)
	if err != nil {
		return err
	}
	defer l.Close()

	result, err := replayLog(ctx, l)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}
	result.Path = path

	if err := opts.formatter(cmd).Success(result); err != nil {
		return err
	}
	if result.SnapshotConsistent != nil && !*result.SnapshotConsistent {
		return NewExitError(ExitFailure, "snapshot state differs from full replay")
	}
	if opts.FailOnOpen && len(result.OpenIncidents) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d open incident(s)", len(result.OpenIncidents)))
	}
	return nil
}

// replayLog rebuilds state from position zero and, when a snapshot exists,
// checks that snapshot recovery reaches the same open incidents.
func replayLog(ctx context.Context, l *logstream.Log) (*ReplayResult, error) {
	partitionID, err := logPartition(ctx, l)
	if err != nil {
		return nil, err
	}

	st := state.New(partitionID)
	n, err := processing.Replay(ctx, l, st, 0)
	if err != nil {
		return nil, err
	}

	result := &ReplayResult{
		PartitionID:           partitionID,
		RecordsReplayed:       n,
		LastPosition:          l.LastPosition(),
		LastProcessedPosition: st.LastProcessedPosition(),
		OpenIncidents:         openIncidents(st),
	}

	snap, ok, err := l.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		recovered := state.New(partitionID)
		if err := recovered.Restore(snap.Data); err != nil {
			return nil, fmt.Errorf("restore snapshot at %d: %w", snap.Position, err)
		}
		if _, err := processing.Replay(ctx, l, recovered, snap.Position); err != nil {
			return nil, err
		}
		consistent := reflect.DeepEqual(st.Incidents(), recovered.Incidents())
		result.SnapshotPosition = snap.Position
		result.SnapshotConsistent = &consistent
	}
	return result, nil
}

// logPartition reads the partition id stamped on the first record.
func logPartition(ctx context.Context, l *logstream.Log) (int, error) {
	first, err := l.ReadFrom(ctx, 0, 1)
	if err != nil {
		return 0, err
	}
	if len(first) == 0 {
		return l.PartitionID(), nil
	}
	return first[0].PartitionID, nil
}

func openIncidents(st *state.State) []OpenIncident {
	entries := st.Incidents()
	out := make([]OpenIncident, 0, len(entries))
	for _, e := range entries {
		out = append(out, OpenIncident{
			Key:                e.Key,
			ErrorType:          e.Record.ErrorType.String(),
			ErrorMessage:       e.Record.ErrorMessage,
			BPMNProcessID:      e.Record.BPMNProcessID,
			ElementID:          e.Record.ElementID,
			ProcessInstanceKey: e.Record.ProcessInstanceKey,
			ElementInstanceKey: e.Record.ElementInstanceKey,
			JobKey:             e.Record.JobKey,
		})
	}
	return out
}

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/incidentd/internal/logstream"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/testengine"
)

// maxChainDepth bounds the walk back through source positions.
const maxChainDepth = 1024

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	logPathFlags
	Key       int64
	ValueType string
	After     int64
	Limit     int
}

// TraceRecord is one log record in the trace timeline.
type TraceRecord struct {
	Position      int64  `json:"position"`
	Source        int64  `json:"source"`
	RecordType    string `json:"record_type"`
	ValueType     string `json:"value_type"`
	Intent        string `json:"intent"`
	Key           int64  `json:"key"`
	ElementID     string `json:"element_id,omitempty"`
	ErrorType     string `json:"error_type,omitempty"`
	RejectionType string `json:"rejection_type,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ProvenanceEdge says that the record at From caused the record at To.
type ProvenanceEdge struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Records    int `json:"records"`
	Commands   int `json:"commands"`
	Events     int `json:"events"`
	Rejections int `json:"rejections"`
	Incidents  int `json:"incidents_created"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Key        int64            `json:"key,omitempty"`
	Timeline   []TraceRecord    `json:"timeline"`
	Causes     []TraceRecord    `json:"causes,omitempty"`
	Provenance []ProvenanceEdge `json:"provenance"`
	Stats      TraceStats       `json:"stats"`
}

// RenderText implements textRenderer.
func (r *TraceResult) RenderText(w io.Writer) {
	if len(r.Timeline) == 0 {
		fmt.Fprintln(w, "No records found.")
		return
	}
	if len(r.Causes) > 0 {
		fmt.Fprintf(w, "Caused by:\n")
		for _, rec := range r.Causes {
			fmt.Fprintf(w, "  %s\n", rec.line())
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Timeline:\n")
	for _, rec := range r.Timeline {
		fmt.Fprintf(w, "  %s\n", rec.line())
	}
	fmt.Fprintf(w, "\n%d records: %d commands, %d events, %d rejections, %d incidents created\n",
		r.Stats.Records, r.Stats.Commands, r.Stats.Events, r.Stats.Rejections, r.Stats.Incidents)
}

func (r TraceRecord) line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d]", r.Position)
	if r.Source > 0 {
		fmt.Fprintf(&b, " <- [%d]", r.Source)
	}
	fmt.Fprintf(&b, " %s %s.%s key=%d", r.RecordType, r.ValueType, r.Intent, r.Key)
	if r.ElementID != "" {
		fmt.Fprintf(&b, " element=%s", r.ElementID)
	}
	if r.ErrorType != "" {
		fmt.Fprintf(&b, " error_type=%s", r.ErrorType)
	}
	if r.RejectionType != "" {
		fmt.Fprintf(&b, " rejection=%s: %s", r.RejectionType, r.Reason)
	}
	return b.String()
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print partition log records and their causes",
		Long: `Print the records of a partition log in position order.

With --key only the records of one entity are shown, together with the
chain of records that caused the first of them, following each record's
source position back to the command that started it.

Examples:
  incidentd trace --db ./data/partition-1.db
  incidentd trace --db ./data/partition-1.db --key 4503599627370497
  incidentd trace --partition 1 --value-type INCIDENT --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to a partition log")
	cmd.Flags().IntVar(&opts.Partition, "partition", 0, "partition id inside the configured data directory")
	cmd.Flags().Int64Var(&opts.Key, "key", 0, "only records of this key")
	cmd.Flags().StringVar(&opts.ValueType, "value-type", "", "only records of this value type")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "start after this position")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records to read (0 reads all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
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

	result, err := traceLog(ctx, l, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "trace failed", err)
	}
	return opts.formatter(cmd).Success(result)
}

func traceLog(ctx context.Context, l *logstream.Log, opts *TraceOptions) (*TraceResult, error) {
	var (
		records []protocol.Record
		err     error
	)
	if opts.Key != 0 {
		records, err = l.ReadByKey(ctx, opts.Key)
	} else {
		records, err = l.ReadFrom(ctx, opts.After, opts.Limit)
	}
	if err != nil {
		return nil, err
	}

	stream := testengine.RecordStream(records)
	if opts.ValueType != "" {
		stream = stream.OfType(protocol.ValueType(strings.ToUpper(opts.ValueType)))
	}

	result := &TraceResult{
		Key:        opts.Key,
		Timeline:   make([]TraceRecord, 0, stream.Len()),
		Provenance: []ProvenanceEdge{},
	}
	for _, rec := range stream {
		result.Timeline = append(result.Timeline, toTraceRecord(rec))
		if rec.SourceRecordPosition > 0 {
			result.Provenance = append(result.Provenance, ProvenanceEdge{From: rec.SourceRecordPosition, To: rec.Position})
		}
		countRecord(&result.Stats, rec)
	}

	if opts.Key != 0 && stream.Len() > 0 {
		causes, err := causalChain(ctx, l, stream[0])
		if err != nil {
			return nil, err
		}
		for _, rec := range causes {
			result.Causes = append(result.Causes, toTraceRecord(rec))
		}
	}
	return result, nil
}

// causalChain returns the records that led to rec, oldest first.
func causalChain(ctx context.Context, l *logstream.Log, rec protocol.Record) ([]protocol.Record, error) {
	var chain []protocol.Record
	source := rec.SourceRecordPosition
	for depth := 0; source > 0 && depth < maxChainDepth; depth++ {
		cause, ok, err := l.ReadAt(ctx, source)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		chain = append(chain, cause)
		source = cause.SourceRecordPosition
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func toTraceRecord(rec protocol.Record) TraceRecord {
	tr := TraceRecord{
		Position:      rec.Position,
		Source:        rec.SourceRecordPosition,
		RecordType:    string(rec.RecordType),
		ValueType:     string(rec.ValueType),
		Intent:        string(rec.Intent),
		Key:           rec.Key,
		ElementID:     testengine.ElementID(rec),
		RejectionType: string(rec.RejectionType),
		Reason:        rec.RejectionReason,
	}
	if inc, ok := rec.Value.(protocol.IncidentRecord); ok && rec.RecordType == protocol.RecordTypeEvent {
		tr.ErrorType = inc.ErrorType.String()
	}
	return tr
}

func countRecord(stats *TraceStats, rec protocol.Record) {
	stats.Records++
	switch rec.RecordType {
	case protocol.RecordTypeCommand:
		stats.Commands++
	case protocol.RecordTypeEvent:
		stats.Events++
		if rec.ValueType == protocol.ValueTypeIncident && rec.Intent == protocol.IncidentCreated {
			stats.Incidents++
		}
	case protocol.RecordTypeRejection:
		stats.Rejections++
	}
}

// Package metrics provides Prometheus metrics definitions.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentd"

var (
	// RecordsAppended counts records written to a partition log.
	RecordsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "records_appended_total",
			Help:      "Records appended to the partition log",
		},
		[]string{"partition"},
	)

	// BackpressureRefusals counts appends refused because the log is saturated.
	BackpressureRefusals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "backpressure_refusals_total",
			Help:      "Append attempts refused by back-pressure",
		},
		[]string{"partition"},
	)

	// CommandsProcessed counts commands handled by the stream processor.
	CommandsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processing",
			Name:      "commands_total",
			Help:      "Commands processed by value type and intent",
		},
		[]string{"partition", "value_type", "intent"},
	)

	// Rejections counts COMMAND_REJECTION records by rejection type.
	Rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processing",
			Name:      "rejections_total",
			Help:      "Commands rejected by rejection type",
		},
		[]string{"partition", "rejection_type"},
	)

	// ProcessingDuration tracks how long one command takes end to end,
	// including the log append.
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processing",
			Name:      "command_duration_seconds",
			Help:      "Command processing duration in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"partition"},
	)

	// OpenIncidents tracks the number of unresolved incidents.
	OpenIncidents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "open",
			Help:      "Open incidents per partition",
		},
		[]string{"partition"},
	)
)

// PartitionLabel formats a partition id as a label value.
func PartitionLabel(partitionID int) string {
	return strconv.Itoa(partitionID)
}

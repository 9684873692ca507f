package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrace_Timeline(t *testing.T) {
	seeded := seedIncidentLog(t)

	out, err := execute(t, "--format", "json", "trace", "--db", seeded.Path)
	require.NoError(t, err)

	var result TraceResult
	decodeData(t, out, &result)
	require.NotEmpty(t, result.Timeline)
	assert.Equal(t, len(result.Timeline), result.Stats.Records)
	assert.Equal(t, 1, result.Stats.Incidents)
	assert.Equal(t, result.Stats.Records, result.Stats.Commands+result.Stats.Events+result.Stats.Rejections)

	for i := 1; i < len(result.Timeline); i++ {
		assert.Less(t, result.Timeline[i-1].Position, result.Timeline[i].Position)
	}
	for _, edge := range result.Provenance {
		assert.Less(t, edge.From, edge.To, "causes precede their effects")
	}
}

func TestTrace_KeyShowsCausalChain(t *testing.T) {
	seeded := seedIncidentLog(t)

	out, err := execute(t, "--format", "json", "trace", "--db", seeded.Path, "--key", formatKey(seeded.IncidentKey))
	require.NoError(t, err)

	var result TraceResult
	decodeData(t, out, &result)
	require.NotEmpty(t, result.Timeline)
	for _, rec := range result.Timeline {
		assert.Equal(t, seeded.IncidentKey, rec.Key)
	}

	created := result.Timeline[0]
	assert.Equal(t, "INCIDENT", created.ValueType)
	assert.Equal(t, "CREATED", created.Intent)
	assert.Equal(t, "CONDITION_ERROR", created.ErrorType)
	assert.Equal(t, "xor", created.ElementID)

	// The chain starts at a command and ends right before the incident.
	require.NotEmpty(t, result.Causes)
	assert.Equal(t, "COMMAND", result.Causes[0].RecordType)
	assert.Equal(t, created.Source, result.Causes[len(result.Causes)-1].Position)
}

func TestTrace_ValueTypeFilterText(t *testing.T) {
	seeded := seedIncidentLog(t)

	out, err := execute(t, "trace", "--db", seeded.Path, "--value-type", "incident")
	require.NoError(t, err)
	assert.Contains(t, out, "INCIDENT.CREATED")
	assert.Contains(t, out, "error_type=CONDITION_ERROR")
	assert.NotContains(t, out, "PROCESS_INSTANCE.")
}

func TestTrace_UnknownKey(t *testing.T) {
	seeded := seedIncidentLog(t)

	out, err := execute(t, "trace", "--db", seeded.Path, "--key", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "No records found.")
}

package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplay_RequiresLog(t *testing.T) {
	_, err := execute(t, "replay")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "pass --db or --partition")
}

func TestReplay_MissingLogIsNotCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partition-1.db")

	_, err := execute(t, "replay", "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.NoFileExists(t, path)
}

func TestReplay_ReportsOpenIncidents(t *testing.T) {
	seeded := seedIncidentLog(t)

	out, err := execute(t, "replay", "--db", seeded.Path)
	require.NoError(t, err)

	assert.Contains(t, out, "Partition 1: replayed")
	assert.Contains(t, out, "✓ matches full replay")
	assert.Contains(t, out, "Open incidents (1)")
	assert.Contains(t, out, "CONDITION_ERROR")
	assert.Contains(t, out, "xor")
}

func TestReplay_JSON(t *testing.T) {
	seeded := seedIncidentLog(t)

	out, err := execute(t, "--format", "json", "replay", "--db", seeded.Path)
	require.NoError(t, err)

	var result ReplayResult
	decodeData(t, out, &result)
	assert.Equal(t, 1, result.PartitionID)
	assert.Equal(t, result.LastPosition, int64(result.RecordsReplayed))
	require.NotNil(t, result.SnapshotConsistent)
	assert.True(t, *result.SnapshotConsistent)

	require.Len(t, result.OpenIncidents, 1)
	inc := result.OpenIncidents[0]
	assert.Equal(t, seeded.IncidentKey, inc.Key)
	assert.Equal(t, "CONDITION_ERROR", inc.ErrorType)
	assert.Equal(t, "workflow", inc.BPMNProcessID)
	assert.Equal(t, seeded.InstanceKey, inc.ProcessInstanceKey)
}

func TestReplay_FailOnOpen(t *testing.T) {
	seeded := seedIncidentLog(t)

	_, err := execute(t, "replay", "--db", seeded.Path, "--fail-on-open")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 open incident(s)")
}

func TestReplay_PartitionFromConfig(t *testing.T) {
	seeded := seedIncidentLog(t)
	cfg := writeConfig(t, seeded.DataDir)

	out, err := execute(t, "--config", cfg, "replay", "--partition", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Open incidents (1)")
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCommand_MissingArgs(t *testing.T) {
	_, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommand_NonExistentScenariosDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_EmptyScenariosDir(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommand_GoldenScenariosPass(t *testing.T) {
	out, err := execute(t, "--format", "json", "test", scenariosDir)
	require.NoError(t, err)

	var result TestResult
	decodeData(t, out, &result)
	assert.Equal(t, 6, result.Total)
	assert.Equal(t, 6, result.Passed)
	for _, s := range result.Scenarios {
		assert.True(t, s.Pass, "%s: %v", s.Name, s.Errors)
		assert.Equal(t, "match", s.Golden, s.Name)
	}
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := execute(t, "test", scenariosDir, "--filter", "gateway*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ gateway_condition_incident")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommand_UpdateThenMatch(t *testing.T) {
	golden := t.TempDir()

	out, err := execute(t, "test", scenariosDir, "--filter", "job_*", "--golden", golden, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	written, err := os.ReadFile(filepath.Join(golden, "job_no_retries.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile("../harness/testdata/golden/job_no_retries.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	_, err = execute(t, "test", scenariosDir, "--filter", "job_*", "--golden", golden)
	require.NoError(t, err)
}

func TestTestCommand_FailingScenario(t *testing.T) {
	models, err := filepath.Abs(modelsDir)
	require.NoError(t, err)

	dir := t.TempDir()
	scenario := fmt.Sprintf(`name: stays_open
description: "the incident is never resolved"
models: [%q]
setup:
  - action: create_instance
    args: { process: workflow, variables: { foo: 12 } }
flow:
  - invoke: update_variables
    args: { scope: $instance, variables: { foo: 1 } }
assertions:
  - type: open_incidents
    count: 0
`, models)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stays_open.yaml"), []byte(scenario), 0o644))

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ stays_open")
	assert.Contains(t, out, "Assertion failed: open_incidents")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "gateway_condition_incident.golden"), []byte(`{}`), 0o644))

	out, err := execute(t, "--format", "json", "test", scenariosDir, "--filter", "gateway*", "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result TestResult
	decodeData(t, out, &result)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "mismatch", result.Scenarios[0].Golden)
	assert.False(t, result.Scenarios[0].Pass)
}

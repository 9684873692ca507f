package cli

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoke_UnknownOperation(t *testing.T) {
	out, err := execute(t, "invoke", "explode")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `unknown operation "explode"`)
	assert.Contains(t, out, "resolve-incident")
}

func TestInvoke_InvalidArgs(t *testing.T) {
	_, err := execute(t, "invoke", "resolve-incident", "--args", "{key}")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid --args JSON")
}

func TestInvoke_ResolveAfterFixingVariables(t *testing.T) {
	seeded := seedIncidentLog(t)
	cfg := writeConfig(t, seeded.DataDir)
	incident := fmt.Sprintf(`{"key":%d}`, seeded.IncidentKey)

	// The condition still fails, so the incident stays open.
	out, err := execute(t, "--format", "json", "--config", cfg, "invoke", "resolve-incident", "--args", incident)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRejected, resp.Error.Code)

	_, err = execute(t, "--config", cfg, "invoke", "update-variables",
		"--args", fmt.Sprintf(`{"key":%d,"variables":{"foo":7}}`, seeded.InstanceKey))
	require.NoError(t, err)

	out, err = execute(t, "--config", cfg, "invoke", "resolve-incident", "--args", incident)
	require.NoError(t, err)
	assert.Contains(t, out, "resolve-incident: ok")

	out, err = execute(t, "replay", "--db", seeded.Path, "--fail-on-open")
	require.NoError(t, err)
	assert.Contains(t, out, "No open incidents.")
}

func TestInvoke_JobOperations(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	out, err := execute(t, "--format", "json", "--config", cfg, "invoke", "create-job",
		"--args", `{"type":"email","retries":1}`)
	require.NoError(t, err)
	var created InvokeResult
	decodeData(t, out, &created)
	require.Positive(t, created.Key)

	out, err = execute(t, "--format", "json", "--config", cfg, "invoke", "activate-jobs",
		"--args", `{"type":"email","max":5}`)
	require.NoError(t, err)
	var activated struct {
		Jobs []struct {
			Key  int64  `json:"Key"`
			Type string `json:"type"`
		} `json:"jobs"`
	}
	decodeData(t, out, &activated)
	require.Len(t, activated.Jobs, 1)
	assert.Equal(t, created.Key, activated.Jobs[0].Key)
	assert.Equal(t, "email", activated.Jobs[0].Type)

	_, err = execute(t, "--config", cfg, "invoke", "fail-job",
		"--args", fmt.Sprintf(`{"key":%d,"retries":0,"message":"smtp down"}`, created.Key))
	require.NoError(t, err)

	out, err = execute(t, "--format", "json", "replay", "--partition", "1", "--config", cfg)
	require.NoError(t, err)
	var replayed ReplayResult
	decodeData(t, out, &replayed)
	require.Len(t, replayed.OpenIncidents, 1)
	assert.Equal(t, "JOB_NO_RETRIES", replayed.OpenIncidents[0].ErrorType)
	assert.Equal(t, created.Key, replayed.OpenIncidents[0].JobKey)
	assert.Equal(t, "smtp down", replayed.OpenIncidents[0].ErrorMessage)
}

func TestOperationNames_Sorted(t *testing.T) {
	names := OperationNames()
	assert.Len(t, names, len(operations))
	assert.IsIncreasing(t, names)
}

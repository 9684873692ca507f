package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/incidentd/internal/engine"
	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/testengine"
)

const (
	modelsDir    = "../harness/testdata/models"
	scenariosDir = "../harness/testdata/scenarios"
)

// seededLog holds a partition log with one open gateway incident.
type seededLog struct {
	DataDir     string
	Path        string
	InstanceKey int64
	IncidentKey int64
}

func seedIncidentLog(t *testing.T) seededLog {
	t.Helper()
	dir := t.TempDir()

	e, err := testengine.Open(dir)
	require.NoError(t, err)

	processes, err := model.LoadDir(modelsDir)
	require.NoError(t, err)
	_, err = e.Deploy(processes...)
	require.NoError(t, err)

	instanceKey, err := e.CreateInstance("workflow", map[string]any{"foo": 12})
	require.NoError(t, err)

	open := e.OpenIncidents()
	require.Len(t, open, 1)
	require.NoError(t, e.Close())

	return seededLog{
		DataDir:     dir,
		Path:        engine.PartitionPath(dir, testengine.PartitionID),
		InstanceKey: instanceKey,
		IncidentKey: open[0].Key,
	}
}

// writeConfig writes a single-partition config for dataDir with the
// metrics listener disabled.
func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "incidentd.yaml")
	content := "partitions: 1\ndata_dir: " + dataDir + "\nmetrics:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// subcommand looks up a subcommand of the root command by name.
func subcommand(t *testing.T, name string) *cobra.Command {
	t.Helper()
	sub, _, err := NewRootCommand().Find([]string{name})
	require.NoError(t, err)
	return sub
}

func formatKey(key int64) string {
	return strconv.FormatInt(key, 10)
}

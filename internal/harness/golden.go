package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/incidentd/internal/protocol"
)

// TraceSnapshot is what golden files hold for a scenario.
type TraceSnapshot struct {
	ScenarioName  string       `json:"scenario_name"`
	Trace         []TraceEvent `json:"trace"`
	OpenIncidents int          `json:"open_incidents"`
}

// MarshalTrace renders the result of a scenario as canonical JSON.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	return protocol.MarshalCanonical(TraceSnapshot{
		ScenarioName:  scenarioName,
		Trace:         result.Trace,
		OpenIncidents: result.OpenIncidents,
	})
}

// RunWithGolden executes a scenario, fails the test on unmet expectations
// and compares the trace with testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is an incident scenario: models to deploy, commands to run and
// assertions over the resulting records.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Models lists directories of CUE process models deployed before the
	// setup runs. Paths are relative to the scenario file.
	Models []string `yaml:"models,omitempty"`

	// Setup establishes the starting point. Every setup step must succeed.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Flow contains the commands under test with their expected responses.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the records and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// ActionStep is a setup command.
type ActionStep struct {
	// Action is the command name (e.g. "create_instance").
	Action string `yaml:"action"`

	// Args contains the command arguments.
	Args map[string]any `yaml:"args"`

	// As binds the key of the response to a name usable as $name.
	As string `yaml:"as,omitempty"`
}

// FlowStep is a command under test.
type FlowStep struct {
	// Invoke is the command name.
	Invoke string `yaml:"invoke"`

	// Args contains the command arguments.
	Args map[string]any `yaml:"args"`

	// As binds the key of the response to a name usable as $name.
	As string `yaml:"as,omitempty"`

	// Expect specifies the expected response. Without it the command must
	// not be rejected.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected response of a command.
type ExpectClause struct {
	// Intent is the expected intent of the response event (e.g. "RESOLVE_FAILED").
	Intent string `yaml:"intent,omitempty"`

	// Rejection is the expected rejection type (e.g. "NOT_FOUND").
	Rejection string `yaml:"rejection,omitempty"`
}

// Assertion validates records or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "record_contains": a record matching the filters exists
	// - "record_order": records appear in the given order
	// - "record_count": exactly Count records match the filters
	// - "open_incidents": exactly Count open incidents match the filters
	Type string `yaml:"type"`

	// ValueType and Intent select records (record_contains, record_count).
	ValueType string `yaml:"value_type,omitempty"`
	Intent    string `yaml:"intent,omitempty"`

	// RecordType narrows the match; commands are never matched unless it
	// is COMMAND.
	RecordType string `yaml:"record_type,omitempty"`

	// ElementID and ErrorType filter incidents and element records.
	ElementID string `yaml:"element_id,omitempty"`
	ErrorType string `yaml:"error_type,omitempty"`

	// JobKey filters incidents by job key; -1 selects incidents without a job.
	JobKey *int64 `yaml:"job_key,omitempty"`

	// Count is the expected number of matches (record_count, open_incidents).
	Count int `yaml:"count,omitempty"`

	// Records is the expected order as VALUE_TYPE.INTENT (record_order).
	Records []string `yaml:"records,omitempty"`
}

// Assertion type constants.
const (
	AssertRecordContains = "record_contains"
	AssertRecordOrder    = "record_order"
	AssertRecordCount    = "record_count"
	AssertOpenIncidents  = "open_incidents"
)

// LoadScenario reads and parses a scenario YAML file. Model paths are
// resolved relative to the file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, dir := range scenario.Models {
		if !filepath.IsAbs(dir) {
			scenario.Models[i] = filepath.Join(base, dir)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios found in %s", dir)
	}
	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, dir := range s.Models {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("model directory not found: %s", dir)
		}
	}

	for i, step := range s.Setup {
		if !knownAction(step.Action) {
			return fmt.Errorf("setup[%d]: unknown action %q", i, step.Action)
		}
	}

	for i, step := range s.Flow {
		if !knownAction(step.Invoke) {
			return fmt.Errorf("flow[%d]: unknown action %q", i, step.Invoke)
		}
		if step.Expect != nil && step.Expect.Intent == "" && step.Expect.Rejection == "" {
			return fmt.Errorf("flow[%d].expect: intent or rejection is required", i)
		}
		if step.Expect != nil && step.Expect.Intent != "" && step.Expect.Rejection != "" {
			return fmt.Errorf("flow[%d].expect: intent and rejection are exclusive", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertRecordContains:
		if a.ValueType == "" || a.Intent == "" {
			return fmt.Errorf("assertions[%d]: value_type and intent are required for record_contains", index)
		}
	case AssertRecordOrder:
		if len(a.Records) < 2 {
			return fmt.Errorf("assertions[%d]: at least two records are required for record_order", index)
		}
	case AssertRecordCount:
		if a.ValueType == "" || a.Intent == "" {
			return fmt.Errorf("assertions[%d]: value_type and intent are required for record_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for record_count", index)
		}
	case AssertOpenIncidents:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for open_incidents", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// Package harness runs incident scenarios against a TestEngine and checks
// the records they produce.
//
// # Scenario Format
//
// Scenarios are YAML files. Unknown fields are rejected so typos fail
// loudly instead of being ignored.
//
//	name: gateway_condition_incident
//	description: "A gateway incident resolves once the variables are fixed"
//	models:
//	  - ../models            # CUE model directories, relative to the file
//	setup:
//	  - action: create_instance
//	    args: { process: workflow, variables: { foo: 12 } }
//	    as: pi
//	flow:
//	  - invoke: resolve_incident
//	    args: { key: $incident }
//	    expect:
//	      intent: RESOLVE_FAILED
//	assertions:
//	  - type: record_order
//	    records: [INCIDENT.CREATED, INCIDENT.RESOLVED]
//	  - type: open_incidents
//	    count: 0
//
// # Keys
//
// Arguments that take a key accept a literal number or a reference:
// $name for a key bound with `as`, $instance and $job for the most recent
// process instance and job a step produced, and $incident for the most
// recently created incident.
//
// # Golden Traces
//
// A run produces a trace of the incident lifecycle: incident events,
// rejections and process completions. Keys are replaced by stable aliases
// (incident-1, process_instance-1, ...) so traces compare across runs.
// RunWithGolden compares the canonical JSON trace with
// testdata/golden/{name}.golden; regenerate with:
//
//	go test ./internal/harness -update
package harness

package harness

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/testengine"
)

// Scenario actions.
const (
	ActionCreateInstance  = "create_instance"
	ActionCancelInstance  = "cancel_instance"
	ActionUpdateVariables = "update_variables"
	ActionPublishMessage  = "publish_message"
	ActionCreateJob       = "create_job"
	ActionActivateJobs    = "activate_jobs"
	ActionCompleteJob     = "complete_job"
	ActionFailJob         = "fail_job"
	ActionUpdateRetries   = "update_retries"
	ActionThrowError      = "throw_error"
	ActionCancelJob       = "cancel_job"
	ActionResolveIncident = "resolve_incident"
	ActionDeleteIncident  = "delete_incident"
)

var actions = map[string]bool{
	ActionCreateInstance:  true,
	ActionCancelInstance:  true,
	ActionUpdateVariables: true,
	ActionPublishMessage:  true,
	ActionCreateJob:       true,
	ActionActivateJobs:    true,
	ActionCompleteJob:     true,
	ActionFailJob:         true,
	ActionUpdateRetries:   true,
	ActionThrowError:      true,
	ActionCancelJob:       true,
	ActionResolveIncident: true,
	ActionDeleteIncident:  true,
}

func knownAction(name string) bool {
	return actions[name]
}

// Harness runs one scenario against one TestEngine.
type Harness struct {
	engine *testengine.TestEngine
	refs   map[string]int64
}

// Run executes a scenario in a fresh engine and returns the result.
//
// Execution flow:
// 1. Open a TestEngine in a temporary directory
// 2. Deploy the scenario models
// 3. Execute setup steps, failing on any rejection
// 4. Execute flow steps, recording unmet expectations
// 5. Build the trace and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "incidentd-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	eng, err := testengine.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	defer eng.Close()

	h := &Harness{engine: eng, refs: make(map[string]int64)}

	if err := h.deploy(scenario.Models); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Setup {
		rec, err := h.execute(step.Action, step.Args, step.As)
		if err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, step.Action, err)
		}
		if rec.RecordType == protocol.RecordTypeRejection {
			return nil, fmt.Errorf("setup[%d] %s: rejected with %s: %s", i, step.Action, rec.RejectionType, rec.RejectionReason)
		}
	}

	for i, step := range scenario.Flow {
		rec, err := h.execute(step.Invoke, step.Args, step.As)
		if err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Invoke, err)
		}
		if msg := checkExpect(rec, step.Expect); msg != "" {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Invoke, msg))
		}
	}

	records, err := eng.ReadRecords()
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	result.Trace = buildTrace(records)
	result.OpenIncidents = len(eng.OpenIncidents())

	actx := &AssertionContext{Records: records, Incidents: eng.OpenIncidents()}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) deploy(dirs []string) error {
	var processes []*model.Process
	for _, dir := range dirs {
		loaded, err := model.LoadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to load models: %w", err)
		}
		processes = append(processes, loaded...)
	}
	if len(processes) == 0 {
		return nil
	}
	if _, err := h.engine.Deploy(processes...); err != nil {
		return fmt.Errorf("failed to deploy models: %w", err)
	}
	return nil
}

// checkExpect compares a response with the expect clause and describes
// the mismatch, or returns "".
func checkExpect(rec protocol.Record, expect *ExpectClause) string {
	rejected := rec.RecordType == protocol.RecordTypeRejection
	switch {
	case expect == nil:
		if rejected {
			return fmt.Sprintf("unexpected rejection %s: %s", rec.RejectionType, rec.RejectionReason)
		}
	case expect.Rejection != "":
		if !rejected {
			return fmt.Sprintf("expected rejection %s, got %s", expect.Rejection, rec.Intent)
		}
		if string(rec.RejectionType) != expect.Rejection {
			return fmt.Sprintf("expected rejection %s, got %s: %s", expect.Rejection, rec.RejectionType, rec.RejectionReason)
		}
	default:
		if rejected {
			return fmt.Sprintf("expected %s, got rejection %s: %s", expect.Intent, rec.RejectionType, rec.RejectionReason)
		}
		if string(rec.Intent) != expect.Intent {
			return fmt.Sprintf("expected %s, got %s", expect.Intent, rec.Intent)
		}
	}
	return ""
}

// execute runs one action and returns its response record. Errors are
// infrastructure failures or malformed arguments, never rejections.
func (h *Harness) execute(action string, args map[string]any, as string) (protocol.Record, error) {
	a := arguments(args)
	key, intent, value, err := h.command(action, a)
	if err != nil {
		return protocol.Record{}, err
	}

	rec, err := h.engine.Execute(key, intent, value)
	if err != nil {
		return rec, err
	}
	if rec.RecordType == protocol.RecordTypeRejection {
		return rec, nil
	}

	switch action {
	case ActionCreateInstance:
		h.refs["instance"] = rec.Key
	case ActionCreateJob:
		h.refs["job"] = rec.Key
	case ActionActivateJobs:
		if batch := rec.Value.(protocol.JobBatchRecord); len(batch.JobKeys) > 0 {
			h.refs["job"] = batch.JobKeys[0]
		}
	}
	if as != "" {
		h.refs[as] = rec.Key
	}
	return rec, nil
}

// command builds the command record of an action.
func (h *Harness) command(action string, a arguments) (int64, protocol.Intent, protocol.Value, error) {
	switch action {
	case ActionCreateInstance:
		process, err := a.str("process")
		return -1, protocol.ProcessInstanceCreate, protocol.ProcessInstanceCreationRecord{
			BPMNProcessID: process,
			Variables:     a.vars("variables"),
		}, err

	case ActionCancelInstance:
		key, err := h.key(a, "key")
		return key, protocol.ProcessInstanceCancel, protocol.ProcessInstanceRecord{}, err

	case ActionUpdateVariables:
		scope, err := h.key(a, "scope")
		return scope, protocol.VariableDocumentUpdate, protocol.VariableDocumentRecord{
			ScopeKey:  scope,
			Local:     a.boolean("local"),
			Variables: a.vars("variables"),
		}, err

	case ActionPublishMessage:
		name, err := a.str("name")
		return -1, protocol.MessagePublish, protocol.MessageRecord{
			Name:           name,
			CorrelationKey: a.optStr("correlation_key"),
			Variables:      a.vars("variables"),
		}, err

	case ActionCreateJob:
		jobType, err := a.str("type")
		return -1, protocol.JobCreate, protocol.JobRecord{Type: jobType, Retries: a.integer("retries")}, err

	case ActionActivateJobs:
		jobType, err := a.str("type")
		maxJobs := a.integer("max")
		if _, ok := a["max"]; !ok {
			maxJobs = 1
		}
		return -1, protocol.JobBatchActivate, protocol.JobBatchRecord{
			Type:              jobType,
			Worker:            testengine.Worker,
			MaxJobsToActivate: maxJobs,
		}, err

	case ActionCompleteJob:
		key, err := h.key(a, "key")
		return key, protocol.JobComplete, protocol.JobRecord{Variables: a.vars("variables")}, err

	case ActionFailJob:
		key, err := h.key(a, "key")
		return key, protocol.JobFail, protocol.JobRecord{
			Retries:      a.integer("retries"),
			ErrorMessage: a.optStr("message"),
		}, err

	case ActionUpdateRetries:
		key, err := h.key(a, "key")
		return key, protocol.JobUpdateRetries, protocol.JobRecord{Retries: a.integer("retries")}, err

	case ActionThrowError:
		key, err := h.key(a, "key")
		return key, protocol.JobThrowError, protocol.JobRecord{
			ErrorCode:    a.optStr("code"),
			ErrorMessage: a.optStr("message"),
		}, err

	case ActionCancelJob:
		key, err := h.key(a, "key")
		return key, protocol.JobCancel, protocol.JobRecord{}, err

	case ActionResolveIncident:
		key, err := h.key(a, "key")
		return key, protocol.IncidentResolve, protocol.IncidentRecord{}, err

	case ActionDeleteIncident:
		key, err := h.key(a, "key")
		return key, protocol.IncidentDelete, protocol.IncidentRecord{}, err
	}
	return 0, "", nil, fmt.Errorf("unknown action %q", action)
}

// key resolves a key argument: a number or a $reference.
func (h *Harness) key(a arguments, name string) (int64, error) {
	raw, ok := a[name]
	if !ok {
		return 0, fmt.Errorf("argument %q is required", name)
	}
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case string:
		ref, isRef := strings.CutPrefix(v, "$")
		if !isRef {
			return strconv.ParseInt(v, 10, 64)
		}
		if ref == "incident" {
			return h.latestIncident()
		}
		key, bound := h.refs[ref]
		if !bound {
			return 0, fmt.Errorf("argument %q: reference $%s is not bound", name, ref)
		}
		return key, nil
	}
	return 0, fmt.Errorf("argument %q: expected a key, got %T", name, raw)
}

func (h *Harness) latestIncident() (int64, error) {
	records, err := h.engine.ReadRecords()
	if err != nil {
		return 0, err
	}
	created, ok := records.Incident().Events().WithIntent(protocol.IncidentCreated).Last()
	if !ok {
		return 0, fmt.Errorf("reference $incident: no incident was created")
	}
	return created.Key, nil
}

// arguments are the decoded YAML args of a step.
type arguments map[string]any

func (a arguments) str(name string) (string, error) {
	s, ok := a[name].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q is required", name)
	}
	return s, nil
}

func (a arguments) optStr(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a arguments) integer(name string) int {
	n, _ := a[name].(int)
	return n
}

func (a arguments) boolean(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func (a arguments) vars(name string) map[string]any {
	v, _ := a[name].(map[string]any)
	return v
}

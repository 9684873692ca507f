package protocol

import "encoding/json"

// IncidentRecord is the payload of every INCIDENT record.
//
// Incidents that are not tied to a process (standalone jobs) carry an empty
// BPMNProcessID and -1 for every process and element key. Incidents that are
// not job related carry JobKey -1.
type IncidentRecord struct {
	ErrorType            ErrorType `json:"errorType"`
	ErrorMessage         string    `json:"errorMessage"`
	BPMNProcessID        string    `json:"bpmnProcessId"`
	ProcessDefinitionKey int64     `json:"processDefinitionKey"`
	ProcessInstanceKey   int64     `json:"processInstanceKey"`
	ElementID            string    `json:"elementId"`
	ElementInstanceKey   int64     `json:"elementInstanceKey"`
	VariableScopeKey     int64     `json:"variableScopeKey"`
	JobKey               int64     `json:"jobKey"`
}

func (IncidentRecord) ValueType() ValueType { return ValueTypeIncident }

// HasElementInstance reports whether the incident is bound to an element instance.
func (r IncidentRecord) HasElementInstance() bool { return r.ElementInstanceKey > 0 }

// HasJob reports whether the incident is bound to a job.
func (r IncidentRecord) HasJob() bool { return r.JobKey > 0 }

// JobRecord is the payload of JOB records.
type JobRecord struct {
	Type                 string         `json:"type"`
	Worker               string         `json:"worker,omitempty"`
	Retries              int            `json:"retries"`
	ErrorMessage         string         `json:"errorMessage,omitempty"`
	ErrorCode            string         `json:"errorCode,omitempty"`
	Variables            map[string]any `json:"variables,omitempty"`
	BPMNProcessID        string         `json:"bpmnProcessId"`
	ProcessDefinitionKey int64          `json:"processDefinitionKey"`
	ProcessInstanceKey   int64          `json:"processInstanceKey"`
	ElementID            string         `json:"elementId"`
	ElementInstanceKey   int64          `json:"elementInstanceKey"`
}

func (JobRecord) ValueType() ValueType { return ValueTypeJob }

// IsStandalone reports whether the job was created outside of a process.
func (r JobRecord) IsStandalone() bool { return r.ElementInstanceKey <= 0 }

// JobBatchRecord is the payload of JOB_BATCH records.
type JobBatchRecord struct {
	Type              string      `json:"type"`
	Worker            string      `json:"worker"`
	MaxJobsToActivate int         `json:"maxJobsToActivate"`
	JobKeys           []int64     `json:"jobKeys"`
	Jobs              []JobRecord `json:"jobs"`
}

func (JobBatchRecord) ValueType() ValueType { return ValueTypeJobBatch }

// ProcessInstanceRecord is the payload of element lifecycle records.
type ProcessInstanceRecord struct {
	BPMNProcessID            string `json:"bpmnProcessId"`
	Version                  int    `json:"version"`
	ProcessDefinitionKey     int64  `json:"processDefinitionKey"`
	ProcessInstanceKey       int64  `json:"processInstanceKey"`
	ElementID                string `json:"elementId"`
	BPMNElementType          string `json:"bpmnElementType"`
	FlowScopeKey             int64  `json:"flowScopeKey"`
	ParentProcessInstanceKey int64  `json:"parentProcessInstanceKey"`
	ParentElementInstanceKey int64  `json:"parentElementInstanceKey"`
}

func (ProcessInstanceRecord) ValueType() ValueType { return ValueTypeProcessInstance }

// ProcessInstanceCreationRecord is the payload of PROCESS_INSTANCE_CREATION records.
type ProcessInstanceCreationRecord struct {
	BPMNProcessID        string         `json:"bpmnProcessId"`
	Version              int            `json:"version"`
	ProcessDefinitionKey int64          `json:"processDefinitionKey"`
	ProcessInstanceKey   int64          `json:"processInstanceKey"`
	Variables            map[string]any `json:"variables,omitempty"`
}

func (ProcessInstanceCreationRecord) ValueType() ValueType {
	return ValueTypeProcessInstanceCreation
}

// VariableDocumentRecord is the payload of VARIABLE_DOCUMENT records.
// Local updates write every variable on the scope itself; otherwise each
// variable goes to the nearest scope that already defines it.
type VariableDocumentRecord struct {
	ScopeKey  int64          `json:"scopeKey"`
	Local     bool           `json:"local"`
	Variables map[string]any `json:"variables"`
}

func (VariableDocumentRecord) ValueType() ValueType { return ValueTypeVariableDocument }

// MessageRecord is the payload of MESSAGE records.
type MessageRecord struct {
	Name           string         `json:"name"`
	CorrelationKey string         `json:"correlationKey"`
	MessageID      string         `json:"messageId,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
}

func (MessageRecord) ValueType() ValueType { return ValueTypeMessage }

// MessageSubscriptionRecord is the payload of MESSAGE_SUBSCRIPTION records.
type MessageSubscriptionRecord struct {
	ProcessInstanceKey int64          `json:"processInstanceKey"`
	ElementInstanceKey int64          `json:"elementInstanceKey"`
	BPMNProcessID      string         `json:"bpmnProcessId"`
	ElementID          string         `json:"elementId"`
	MessageName        string         `json:"messageName"`
	CorrelationKey     string         `json:"correlationKey"`
	MessageKey         int64          `json:"messageKey"`
	Variables          map[string]any `json:"variables,omitempty"`
}

func (MessageSubscriptionRecord) ValueType() ValueType { return ValueTypeMessageSubscription }

// DeploymentResource is one process model, serialized as JSON.
type DeploymentResource struct {
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
}

// ProcessMetadata describes one deployed process definition.
type ProcessMetadata struct {
	BPMNProcessID        string `json:"bpmnProcessId"`
	Version              int    `json:"version"`
	ProcessDefinitionKey int64  `json:"processDefinitionKey"`
	ResourceName         string `json:"resourceName"`
}

// DeploymentRecord is the payload of DEPLOYMENT records.
type DeploymentRecord struct {
	Resources []DeploymentResource `json:"resources"`
	Processes []ProcessMetadata    `json:"processes,omitempty"`
}

func (DeploymentRecord) ValueType() ValueType { return ValueTypeDeployment }

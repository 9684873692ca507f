package protocol

// ValueType identifies the payload kind of a record.
type ValueType string

const (
	ValueTypeIncident                ValueType = "INCIDENT"
	ValueTypeJob                     ValueType = "JOB"
	ValueTypeJobBatch                ValueType = "JOB_BATCH"
	ValueTypeProcessInstance         ValueType = "PROCESS_INSTANCE"
	ValueTypeProcessInstanceCreation ValueType = "PROCESS_INSTANCE_CREATION"
	ValueTypeVariableDocument        ValueType = "VARIABLE_DOCUMENT"
	ValueTypeMessage                 ValueType = "MESSAGE"
	ValueTypeMessageSubscription     ValueType = "MESSAGE_SUBSCRIPTION"
	ValueTypeDeployment              ValueType = "DEPLOYMENT"
)

// Intent is the command or event name within a value type. Some names are
// shared across value types (CREATE, CANCEL), so an intent is only
// meaningful together with its value type.
type Intent string

// Incident intents.
const (
	IncidentCreate        Intent = "CREATE"
	IncidentCreated       Intent = "CREATED"
	IncidentResolve       Intent = "RESOLVE"
	IncidentResolved      Intent = "RESOLVED"
	IncidentResolveFailed Intent = "RESOLVE_FAILED"
	IncidentDelete        Intent = "DELETE"
	IncidentDeleted       Intent = "DELETED"
)

// Job intents.
const (
	JobCreate         Intent = "CREATE"
	JobCreated        Intent = "CREATED"
	JobActivated      Intent = "ACTIVATED"
	JobComplete       Intent = "COMPLETE"
	JobCompleted      Intent = "COMPLETED"
	JobFail           Intent = "FAIL"
	JobFailed         Intent = "FAILED"
	JobUpdateRetries  Intent = "UPDATE_RETRIES"
	JobRetriesUpdated Intent = "RETRIES_UPDATED"
	JobThrowError     Intent = "THROW_ERROR"
	JobErrorThrown    Intent = "ERROR_THROWN"
	JobCancel         Intent = "CANCEL"
	JobCanceled       Intent = "CANCELED"
)

// Job batch intents.
const (
	JobBatchActivate  Intent = "ACTIVATE"
	JobBatchActivated Intent = "ACTIVATED"
)

// Process instance intents. Element lifecycle events share this value type
// with the CANCEL command.
const (
	ProcessInstanceCancel   Intent = "CANCEL"
	ElementActivating       Intent = "ELEMENT_ACTIVATING"
	ElementActivated        Intent = "ELEMENT_ACTIVATED"
	GatewayActivated        Intent = "GATEWAY_ACTIVATED"
	SequenceFlowTaken       Intent = "SEQUENCE_FLOW_TAKEN"
	ElementCompleting       Intent = "ELEMENT_COMPLETING"
	ElementCompleted        Intent = "ELEMENT_COMPLETED"
	ElementTerminating      Intent = "ELEMENT_TERMINATING"
	ElementTerminated       Intent = "ELEMENT_TERMINATED"
	ProcessInstanceCreate   Intent = "CREATE"
	ProcessInstanceCreated  Intent = "CREATED"
	VariableDocumentUpdate  Intent = "UPDATE"
	VariableDocumentUpdated Intent = "UPDATED"
)

// Message intents.
const (
	MessagePublish                Intent = "PUBLISH"
	MessagePublished              Intent = "PUBLISHED"
	MessageSubscriptionOpened     Intent = "OPENED"
	MessageSubscriptionCorrelated Intent = "CORRELATED"
	MessageSubscriptionClosed     Intent = "CLOSED"
)

// Deployment intents.
const (
	DeploymentCreate  Intent = "CREATE"
	DeploymentCreated Intent = "CREATED"
)

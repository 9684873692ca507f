// Package testengine drives a single partition synchronously.
//
// A TestEngine owns a fresh log, state and dispatcher. Every command helper
// writes one command, processes the log until it is idle and returns the
// command's response, so tests observe a settled partition after each call.
// The same engine backs scenario runs in the harness, which is why Open
// does not need a testing.TB.
package testengine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/roach88/incidentd/internal/deployment"
	"github.com/roach88/incidentd/internal/engine"
	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
	"github.com/roach88/incidentd/internal/state"
)

// PartitionID is the partition every TestEngine runs as.
const PartitionID = 1

// Worker is the worker name used for job activation.
const Worker = "test-worker"

// TestEngine is a synchronously driven partition.
type TestEngine struct {
	dir       string
	opts      []engine.Option
	partition *engine.Partition
	ctx       context.Context
}

// Open creates a TestEngine whose log lives in dir. Logging is discarded
// unless opts carries engine.WithLogger.
func Open(dir string, opts ...engine.Option) (*TestEngine, error) {
	e := &TestEngine{
		dir:  dir,
		opts: append([]engine.Option{engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...),
		ctx:  context.Background(),
	}
	if err := e.open(); err != nil {
		return nil, err
	}
	return e, nil
}

// New creates a TestEngine in a temporary directory that is closed when
// the test ends.
func New(t testing.TB, opts ...engine.Option) *TestEngine {
	t.Helper()
	e, err := Open(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("open test engine: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("close test engine: %v", err)
		}
	})
	return e
}

func (e *TestEngine) open() error {
	p, err := engine.OpenPartition(e.ctx, PartitionID, engine.PartitionPath(e.dir, PartitionID), e.opts...)
	if err != nil {
		return err
	}
	e.partition = p
	return nil
}

// Restart closes the partition and recovers it from its log, as after a
// broker restart.
func (e *TestEngine) Restart() error {
	if err := e.partition.Close(); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	return e.open()
}

// Close closes the partition.
func (e *TestEngine) Close() error {
	return e.partition.Close()
}

// Partition returns the underlying partition.
func (e *TestEngine) Partition() *engine.Partition {
	return e.partition
}

// State returns the partition state.
func (e *TestEngine) State() *state.State {
	return e.partition.State()
}

// OpenIncidents returns every open incident ordered by key.
func (e *TestEngine) OpenIncidents() []state.IncidentEntry {
	return e.partition.State().Incidents()
}

// Execute writes a command, processes until idle and returns the response:
// the first event or the rejection sourced at the command. Rejections are
// returned as records, not errors.
func (e *TestEngine) Execute(key int64, intent protocol.Intent, value protocol.Value) (protocol.Record, error) {
	cmd, err := e.partition.Write(e.ctx, protocol.NewCommand(key, intent, value))
	if err != nil {
		return protocol.Record{}, err
	}
	if _, err := e.partition.ProcessUntilIdle(e.ctx); err != nil {
		return protocol.Record{}, err
	}

	after, err := e.partition.Log().ReadFrom(e.ctx, cmd.Position, 0)
	if err != nil {
		return protocol.Record{}, err
	}
	for _, rec := range after {
		if rec.SourceRecordPosition == cmd.Position && !rec.IsCommand() {
			return rec, nil
		}
	}
	return protocol.Record{}, fmt.Errorf("no response to %s.%s at position %d", cmd.ValueType, intent, cmd.Position)
}

// send is Execute with rejections turned into *processing.RejectionError.
func (e *TestEngine) send(key int64, intent protocol.Intent, value protocol.Value) (protocol.Record, error) {
	rec, err := e.Execute(key, intent, value)
	if err != nil {
		return rec, err
	}
	if rec.RecordType == protocol.RecordTypeRejection {
		return rec, &processing.RejectionError{Type: rec.RejectionType, Reason: rec.RejectionReason}
	}
	return rec, nil
}

// ProcessUntilIdle processes any command already in the log.
func (e *TestEngine) ProcessUntilIdle() (int, error) {
	return e.partition.ProcessUntilIdle(e.ctx)
}

// Deploy deploys processes and returns their metadata.
func (e *TestEngine) Deploy(processes ...*model.Process) ([]protocol.ProcessMetadata, error) {
	resources, err := deployment.Resources(processes)
	if err != nil {
		return nil, err
	}
	rec, err := e.send(-1, protocol.DeploymentCreate, protocol.DeploymentRecord{Resources: resources})
	if err != nil {
		return nil, err
	}
	return rec.Value.(protocol.DeploymentRecord).Processes, nil
}

// CreateInstance starts the latest version of a process and returns the
// process instance key.
func (e *TestEngine) CreateInstance(bpmnProcessID string, vars map[string]any) (int64, error) {
	rec, err := e.send(-1, protocol.ProcessInstanceCreate, protocol.ProcessInstanceCreationRecord{
		BPMNProcessID: bpmnProcessID,
		Variables:     vars,
	})
	if err != nil {
		return 0, err
	}
	return rec.Key, nil
}

// CancelInstance cancels a root process instance.
func (e *TestEngine) CancelInstance(processInstanceKey int64) error {
	_, err := e.send(processInstanceKey, protocol.ProcessInstanceCancel, protocol.ProcessInstanceRecord{})
	return err
}

// UpdateVariables updates variables on a scope.
func (e *TestEngine) UpdateVariables(scopeKey int64, vars map[string]any, local bool) error {
	_, err := e.send(scopeKey, protocol.VariableDocumentUpdate, protocol.VariableDocumentRecord{
		ScopeKey:  scopeKey,
		Local:     local,
		Variables: vars,
	})
	return err
}

// PublishMessage publishes a message.
func (e *TestEngine) PublishMessage(name, correlationKey string, vars map[string]any) error {
	_, err := e.send(-1, protocol.MessagePublish, protocol.MessageRecord{
		Name:           name,
		CorrelationKey: correlationKey,
		Variables:      vars,
	})
	return err
}

// CreateJob creates a standalone job.
func (e *TestEngine) CreateJob(jobType string, retries int) (int64, error) {
	rec, err := e.send(-1, protocol.JobCreate, protocol.JobRecord{Type: jobType, Retries: retries})
	if err != nil {
		return 0, err
	}
	return rec.Key, nil
}

// ActivateJobs activates up to maxJobs jobs of jobType for Worker.
func (e *TestEngine) ActivateJobs(jobType string, maxJobs int) ([]engine.ActivatedJob, error) {
	rec, err := e.send(-1, protocol.JobBatchActivate, protocol.JobBatchRecord{
		Type:              jobType,
		Worker:            Worker,
		MaxJobsToActivate: maxJobs,
	})
	if err != nil {
		return nil, err
	}
	batch := rec.Value.(protocol.JobBatchRecord)
	jobs := make([]engine.ActivatedJob, len(batch.JobKeys))
	for i, key := range batch.JobKeys {
		jobs[i] = engine.ActivatedJob{Key: key, JobRecord: batch.Jobs[i]}
	}
	return jobs, nil
}

// CompleteJob completes a job with result variables.
func (e *TestEngine) CompleteJob(jobKey int64, vars map[string]any) error {
	_, err := e.send(jobKey, protocol.JobComplete, protocol.JobRecord{Variables: vars})
	return err
}

// FailJob fails a job, leaving it with retries.
func (e *TestEngine) FailJob(jobKey int64, retries int, errorMessage string) error {
	_, err := e.send(jobKey, protocol.JobFail, protocol.JobRecord{Retries: retries, ErrorMessage: errorMessage})
	return err
}

// UpdateJobRetries sets the retries of a job.
func (e *TestEngine) UpdateJobRetries(jobKey int64, retries int) error {
	_, err := e.send(jobKey, protocol.JobUpdateRetries, protocol.JobRecord{Retries: retries})
	return err
}

// ThrowError throws a business error from a job.
func (e *TestEngine) ThrowError(jobKey int64, errorCode, errorMessage string) error {
	_, err := e.send(jobKey, protocol.JobThrowError, protocol.JobRecord{ErrorCode: errorCode, ErrorMessage: errorMessage})
	return err
}

// CancelJob cancels a standalone job.
func (e *TestEngine) CancelJob(jobKey int64) error {
	_, err := e.send(jobKey, protocol.JobCancel, protocol.JobRecord{})
	return err
}

// ResolveIncident resolves an incident and returns the RESOLVED or
// RESOLVE_FAILED event.
func (e *TestEngine) ResolveIncident(incidentKey int64) (protocol.Record, error) {
	return e.send(incidentKey, protocol.IncidentResolve, protocol.IncidentRecord{})
}

// DeleteIncident deletes an incident.
func (e *TestEngine) DeleteIncident(incidentKey int64) error {
	_, err := e.send(incidentKey, protocol.IncidentDelete, protocol.IncidentRecord{})
	return err
}

// ReadRecords returns every record of the log in position order.
func (e *TestEngine) ReadRecords() (RecordStream, error) {
	recs, err := e.partition.Log().ReadFrom(e.ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	return RecordStream(recs), nil
}

// Records is ReadRecords for tests. It panics if the log cannot be read.
func (e *TestEngine) Records() RecordStream {
	recs, err := e.ReadRecords()
	if err != nil {
		panic(fmt.Sprintf("testengine: read records: %v", err))
	}
	return recs
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
)

// DefaultRequestTimeout bounds how long a client waits for a response.
const DefaultRequestTimeout = 15 * time.Second

type response struct {
	record protocol.Record
	err    error
}

// Client writes commands to a broker and waits for their responses.
//
// Every command carries a fresh request id. The first event or the
// rejection written for the command carries the same id and completes the
// request. Pending requests expire after the request timeout.
type Client struct {
	broker  *Broker
	ids     RequestIDGenerator
	timeout time.Duration
	pending *ttlcache.Cache[string, chan response]
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestTimeout sets how long a request waits for its response.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRequestIDs replaces the request id generator.
func WithRequestIDs(g RequestIDGenerator) ClientOption {
	return func(c *Client) {
		c.ids = g
	}
}

// NewClient creates a client for b and subscribes it to every partition.
// Close releases it.
func NewClient(b *Broker, opts ...ClientOption) *Client {
	c := &Client{
		broker:  b,
		ids:     UUIDv7Generator{},
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.pending = ttlcache.New(
		ttlcache.WithTTL[string, chan response](c.timeout),
		ttlcache.WithDisableTouchOnHit[string, chan response](),
	)
	c.pending.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, chan response]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		select {
		case item.Value() <- response{err: fmt.Errorf("%w after %s (request %s)", ErrRequestTimeout, c.timeout, item.Key())}:
		default:
		}
	})
	go c.pending.Start()

	for _, p := range b.Partitions() {
		p.AddListener(c.deliver)
	}
	return c
}

// Close stops the pending-request registry.
func (c *Client) Close() {
	c.pending.Stop()
}

func (c *Client) deliver(written []protocol.Record) {
	for _, rec := range written {
		if rec.RequestID == "" || rec.IsCommand() {
			continue
		}
		item := c.pending.Get(rec.RequestID)
		if item == nil {
			continue
		}
		select {
		case item.Value() <- response{record: rec}:
		default:
		}
		c.pending.Delete(rec.RequestID)
	}
}

// send writes a command to p and waits for its response. Rejections are
// returned as *processing.RejectionError.
func (c *Client) send(ctx context.Context, p *Partition, key int64, intent protocol.Intent, value protocol.Value) (protocol.Record, error) {
	cmd := protocol.NewCommand(key, intent, value)
	cmd.RequestID = c.ids.Generate()

	ch := make(chan response, 1)
	c.pending.Set(cmd.RequestID, ch, ttlcache.DefaultTTL)
	defer c.pending.Delete(cmd.RequestID)

	if _, err := p.Write(ctx, cmd); err != nil {
		return protocol.Record{}, fmt.Errorf("write %s.%s: %w", cmd.ValueType, intent, err)
	}

	select {
	case <-ctx.Done():
		return protocol.Record{}, ctx.Err()
	case resp := <-ch:
		if resp.err != nil {
			return protocol.Record{}, resp.err
		}
		if resp.record.RecordType == protocol.RecordTypeRejection {
			return resp.record, &processing.RejectionError{
				Type:   resp.record.RejectionType,
				Reason: resp.record.RejectionReason,
			}
		}
		return resp.record, nil
	}
}

func (c *Client) sendToKey(ctx context.Context, key int64, intent protocol.Intent, value protocol.Value) (protocol.Record, error) {
	p, err := c.broker.PartitionForKey(key)
	if err != nil {
		return protocol.Record{}, err
	}
	return c.send(ctx, p, key, intent, value)
}

// Deploy deploys resources to every partition and returns the process
// metadata assigned by the first one.
func (c *Client) Deploy(ctx context.Context, resources ...protocol.DeploymentResource) ([]protocol.ProcessMetadata, error) {
	var deployed []protocol.ProcessMetadata
	for i, p := range c.broker.Partitions() {
		rec, err := c.send(ctx, p, -1, protocol.DeploymentCreate, protocol.DeploymentRecord{Resources: resources})
		if err != nil {
			return nil, fmt.Errorf("deploy to partition %d: %w", p.ID(), err)
		}
		if i == 0 {
			deployed = rec.Value.(protocol.DeploymentRecord).Processes
		}
	}
	return deployed, nil
}

// CreateProcessInstance starts an instance and returns its key. Requests
// by definition key go to the partition that owns the definition; others
// are spread round-robin.
func (c *Client) CreateProcessInstance(ctx context.Context, req protocol.ProcessInstanceCreationRecord) (int64, error) {
	p := c.broker.NextPartition()
	if req.ProcessDefinitionKey > 0 {
		var err error
		if p, err = c.broker.PartitionForKey(req.ProcessDefinitionKey); err != nil {
			return 0, err
		}
	}
	rec, err := c.send(ctx, p, -1, protocol.ProcessInstanceCreate, req)
	if err != nil {
		return 0, err
	}
	return rec.Key, nil
}

// CancelProcessInstance terminates a root process instance.
func (c *Client) CancelProcessInstance(ctx context.Context, processInstanceKey int64) error {
	_, err := c.sendToKey(ctx, processInstanceKey, protocol.ProcessInstanceCancel, protocol.ProcessInstanceRecord{})
	return err
}

// UpdateVariables sets variables on scopeKey, or on the scopes that define
// them when local is false.
func (c *Client) UpdateVariables(ctx context.Context, scopeKey int64, vars map[string]any, local bool) error {
	_, err := c.sendToKey(ctx, scopeKey, protocol.VariableDocumentUpdate, protocol.VariableDocumentRecord{
		ScopeKey:  scopeKey,
		Local:     local,
		Variables: vars,
	})
	return err
}

// PublishMessage publishes msg on every partition, since subscriptions
// live with their process instances.
func (c *Client) PublishMessage(ctx context.Context, msg protocol.MessageRecord) error {
	var errs []error
	for _, p := range c.broker.Partitions() {
		if _, err := c.send(ctx, p, -1, protocol.MessagePublish, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish to partition %d: %w", p.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// CreateJob creates a standalone job and returns its key.
func (c *Client) CreateJob(ctx context.Context, job protocol.JobRecord) (int64, error) {
	rec, err := c.send(ctx, c.broker.NextPartition(), -1, protocol.JobCreate, job)
	if err != nil {
		return 0, err
	}
	return rec.Key, nil
}

// ActivatedJob is a job handed to a worker.
type ActivatedJob struct {
	Key int64
	protocol.JobRecord
}

// ActivateJobs activates up to maxJobs jobs of jobType, visiting partitions
// round-robin until enough jobs are found.
func (c *Client) ActivateJobs(ctx context.Context, jobType, worker string, maxJobs int) ([]ActivatedJob, error) {
	partitions := c.broker.Partitions()
	start := c.broker.NextPartition().ID() - 1

	var jobs []ActivatedJob
	for i := range partitions {
		if i > 0 && len(jobs) >= maxJobs {
			break
		}
		p := partitions[(start+i)%len(partitions)]
		rec, err := c.send(ctx, p, -1, protocol.JobBatchActivate, protocol.JobBatchRecord{
			Type:              jobType,
			Worker:            worker,
			MaxJobsToActivate: maxJobs - len(jobs),
		})
		if err != nil {
			return jobs, err
		}
		batch := rec.Value.(protocol.JobBatchRecord)
		for j, key := range batch.JobKeys {
			jobs = append(jobs, ActivatedJob{Key: key, JobRecord: batch.Jobs[j]})
		}
	}
	return jobs, nil
}

// CompleteJob completes an activated job with result variables.
func (c *Client) CompleteJob(ctx context.Context, jobKey int64, vars map[string]any) error {
	_, err := c.sendToKey(ctx, jobKey, protocol.JobComplete, protocol.JobRecord{Variables: vars})
	return err
}

// FailJob reports a failed attempt. With zero retries left the job raises
// an incident.
func (c *Client) FailJob(ctx context.Context, jobKey int64, retries int, errorMessage string) error {
	_, err := c.sendToKey(ctx, jobKey, protocol.JobFail, protocol.JobRecord{Retries: retries, ErrorMessage: errorMessage})
	return err
}

// UpdateJobRetries sets the retries of a job. It does not resolve an
// incident raised for the job.
func (c *Client) UpdateJobRetries(ctx context.Context, jobKey int64, retries int) error {
	_, err := c.sendToKey(ctx, jobKey, protocol.JobUpdateRetries, protocol.JobRecord{Retries: retries})
	return err
}

// ThrowError throws a business error from an activated job.
func (c *Client) ThrowError(ctx context.Context, jobKey int64, errorCode, errorMessage string) error {
	_, err := c.sendToKey(ctx, jobKey, protocol.JobThrowError, protocol.JobRecord{ErrorCode: errorCode, ErrorMessage: errorMessage})
	return err
}

// CancelJob cancels a standalone job.
func (c *Client) CancelJob(ctx context.Context, jobKey int64) error {
	_, err := c.sendToKey(ctx, jobKey, protocol.JobCancel, protocol.JobRecord{})
	return err
}

// ResolveIncident resolves an incident. If the cause is still present the
// incident stays open and the error wraps ErrResolveFailed.
func (c *Client) ResolveIncident(ctx context.Context, incidentKey int64) error {
	rec, err := c.sendToKey(ctx, incidentKey, protocol.IncidentResolve, protocol.IncidentRecord{})
	if err != nil {
		return err
	}
	if rec.Intent == protocol.IncidentResolveFailed {
		inc := rec.Value.(protocol.IncidentRecord)
		return fmt.Errorf("%w: %s: %s", ErrResolveFailed, inc.ErrorType, inc.ErrorMessage)
	}
	return nil
}

// DeleteIncident removes an incident without resolving its cause.
func (c *Client) DeleteIncident(ctx context.Context, incidentKey int64) error {
	_, err := c.sendToKey(ctx, incidentKey, protocol.IncidentDelete, protocol.IncidentRecord{})
	return err
}

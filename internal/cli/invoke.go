package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/incidentd/internal/engine"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Args string
}

// InvokeArgs are the arguments of every operation. Each operation reads
// the fields it needs.
type InvokeArgs struct {
	Key            int64          `json:"key"`
	Process        string         `json:"process"`
	Variables      map[string]any `json:"variables"`
	Local          bool           `json:"local"`
	Name           string         `json:"name"`
	CorrelationKey string         `json:"correlation_key"`
	Type           string         `json:"type"`
	Worker         string         `json:"worker"`
	Max            int            `json:"max"`
	Retries        int            `json:"retries"`
	Message        string         `json:"message"`
	Code           string         `json:"code"`
}

// InvokeResult reports the outcome of an operation.
type InvokeResult struct {
	Operation string                `json:"operation"`
	Key       int64                 `json:"key,omitempty"`
	Jobs      []engine.ActivatedJob `json:"jobs,omitempty"`
}

func (r *InvokeResult) String() string {
	switch {
	case r.Jobs != nil:
		return fmt.Sprintf("%s: %d job(s) activated", r.Operation, len(r.Jobs))
	case r.Key != 0:
		return fmt.Sprintf("%s: ok (key %d)", r.Operation, r.Key)
	default:
		return fmt.Sprintf("%s: ok", r.Operation)
	}
}

type operation func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error)

var operations = map[string]operation{
	"create-instance": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		key, err := c.CreateProcessInstance(ctx, protocol.ProcessInstanceCreationRecord{
			BPMNProcessID: a.Process,
			Variables:     a.Variables,
		})
		return &InvokeResult{Key: key}, err
	},
	"cancel-instance": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		return &InvokeResult{Key: a.Key}, c.CancelProcessInstance(ctx, a.Key)
	},
	"update-variables": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		return &InvokeResult{Key: a.Key}, c.UpdateVariables(ctx, a.Key, a.Variables, a.Local)
	},
	"publish-message": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		return &InvokeResult{}, c.PublishMessage(ctx, protocol.MessageRecord{
			Name:           a.Name,
			CorrelationKey: a.CorrelationKey,
			Variables:      a.Variables,
		})
	},
	"create-job": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		key, err := c.CreateJob(ctx, protocol.JobRecord{Type: a.Type, Retries: a.Retries, Variables: a.Variables})
		return &InvokeResult{Key: key}, err
	},
	"activate-jobs": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		worker, maxJobs := a.Worker, a.Max
		if worker == "" {
			worker = "incidentd-cli"
		}
		if maxJobs <= 0 {
			maxJobs = 1
		}
		jobs, err := c.ActivateJobs(ctx, a.Type, worker, maxJobs)
		if jobs == nil {
			jobs = []engine.ActivatedJob{}
		}
		return &InvokeResult{Jobs: jobs}, err
	},
	"complete-job": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		return &InvokeResult{Key: a.Key}, c.CompleteJob(ctx, a.Key, a.Variables)
	},
	"fail-job": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		return &InvokeResult{Key: a.Key}, c.FailJob(ctx, a.Key, a.Retries, a.Message)
	},
	"update-retries": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		return &InvokeResult{Key: a.Key}, c.UpdateJobRetries(ctx, a.Key, a.Retries)
	},
	"throw-error": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		return &InvokeResult{Key: a.Key}, c.ThrowError(ctx, a.Key, a.Code, a.Message)
	},
	"cancel-job": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		return &InvokeResult{Key: a.Key}, c.CancelJob(ctx, a.Key)
	},
	"resolve-incident": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		return &InvokeResult{Key: a.Key}, c.ResolveIncident(ctx, a.Key)
	},
	"delete-incident": func(ctx context.Context, c *engine.Client, a InvokeArgs) (*InvokeResult, error) {
		return &InvokeResult{Key: a.Key}, c.DeleteIncident(ctx, a.Key)
	},
}

// OperationNames lists the operations invoke accepts, sorted.
func OperationNames() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <operation>",
		Short: "Send one client operation to the partitions",
		Long: fmt.Sprintf(`Open the configured partitions, send one client operation and wait
for its response. The broker must not be running.

Operations: %s

Example:
  incidentd invoke resolve-incident --args '{"key":4503599627370499}'
  incidentd invoke update-retries --args '{"key":4503599627370497,"retries":3}'
  incidentd invoke create-instance --args '{"process":"order","variables":{"total":12}}'`,
			strings.Join(OperationNames(), ", ")),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeOperation(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "{}", "operation arguments as JSON")

	return cmd
}

func invokeOperation(opts *InvokeOptions, name string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	op, ok := operations[name]
	if !ok {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric,
			fmt.Sprintf("unknown operation %q (known: %s)", name, strings.Join(OperationNames(), ", ")), nil)
	}

	var args InvokeArgs
	if err := json.Unmarshal([]byte(opts.Args), &args); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid --args JSON", err)
	}

	cfg, err := opts.LoadConfig()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfigInvalid, "failed to load config", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, cfg, opts.Logger(cmd.ErrOrStderr()))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLogOpen, "failed to open partitions", err)
	}

	result, opErr := op(ctx, s.Client, args)
	if err := s.Close(); err != nil && opErr == nil {
		opErr = err
	}
	if opErr != nil {
		return formatter.Fail(ExitFailure, invokeErrorCode(opErr), name+" failed", opErr)
	}

	result.Operation = name
	return formatter.Success(result)
}

func invokeErrorCode(err error) string {
	if _, ok := processing.AsRejection(err); ok || errors.Is(err, engine.ErrResolveFailed) {
		return ErrCodeRejected
	}
	return ErrCodeGeneric
}

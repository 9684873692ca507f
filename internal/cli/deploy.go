package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/incidentd/internal/protocol"
)

// DeployOptions holds flags for the deploy command.
type DeployOptions struct {
	*RootOptions
	Output string // write the deployment resources here
	Apply  bool   // deploy into the configured data directory
}

// ProcessSummary describes one compiled process.
type ProcessSummary struct {
	ID       string `json:"id"`
	Elements int    `json:"elements"`
	Flows    int    `json:"flows"`
	Resource string `json:"resource"`
}

// DeployResult is the output of the deploy command.
type DeployResult struct {
	Dir       string                     `json:"dir"`
	Processes []ProcessSummary           `json:"processes"`
	Deployed  []protocol.ProcessMetadata `json:"deployed,omitempty"`
	Output    string                     `json:"output,omitempty"`
}

// RenderText implements textRenderer.
func (r *DeployResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Compiled %d process(es) from %s\n", len(r.Processes), r.Dir)
	for _, p := range r.Processes {
		fmt.Fprintf(w, "  %-24s %3d elements %3d flows  %s\n", p.ID, p.Elements, p.Flows, p.Resource)
	}
	for _, d := range r.Deployed {
		fmt.Fprintf(w, "Deployed %s version %d (key %d)\n", d.BPMNProcessID, d.Version, d.ProcessDefinitionKey)
	}
	if r.Output != "" {
		fmt.Fprintf(w, "Resources written to %s\n", r.Output)
	}
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeployOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deploy <models-dir>",
		Short: "Compile CUE process models into deployment resources",
		Long: `Compile the CUE process models in a directory into deployment resources.

Every process is checked against the model schema and validated before it
is printed. With --apply the resources are deployed to every partition of
the configured data directory; the broker must not be running.

Examples:
  incidentd deploy ./models
  incidentd deploy ./models -o resources.json
  incidentd deploy ./models --apply --config incidentd.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write deployment resources to this file")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "deploy to the configured partitions")

	return cmd
}

func runDeploy(opts *DeployOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	set, err := LoadModels(dir)
	if err != nil {
		return formatter.Fail(ExitCommandError, failureCode(err), "failed to load models", err)
	}

	result := &DeployResult{Dir: dir, Processes: make([]ProcessSummary, 0, len(set.Processes))}
	for i, p := range set.Processes {
		formatter.VerboseLog("Compiled process: %s", p.ID)
		result.Processes = append(result.Processes, ProcessSummary{
			ID:       p.ID,
			Elements: len(p.Elements),
			Flows:    len(p.Flows),
			Resource: set.Resources[i].Name,
		})
	}

	if opts.Output != "" {
		data, err := protocol.MarshalCanonical(set.Resources)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to encode resources", err)
		}
		if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write resources", err)
		}
		result.Output = opts.Output
	}

	if opts.Apply {
		cfg, err := opts.LoadConfig()
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfigInvalid, "failed to load config", err)
		}
		s, err := openSession(cmd.Context(), cfg, opts.Logger(cmd.ErrOrStderr()))
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeLogOpen, "failed to open partitions", err)
		}
		deployed, deployErr := s.Client.Deploy(cmd.Context(), set.Resources...)
		if err := s.Close(); err != nil && deployErr == nil {
			deployErr = err
		}
		if deployErr != nil {
			return formatter.Fail(ExitFailure, ErrCodeRejected, "deployment failed", deployErr)
		}
		result.Deployed = deployed
	}

	return formatter.Success(result)
}

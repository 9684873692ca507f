package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ValidationIssue is one problem found by the validate command.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Config    string            `json:"config,omitempty"`
	ModelsDir string            `json:"models_dir,omitempty"`
	Processes []string          `json:"processes,omitempty"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// RenderText implements textRenderer.
func (r *ValidationResult) RenderText(w io.Writer) {
	if r.Valid {
		fmt.Fprintln(w, "✓ Configuration valid")
		if r.ModelsDir != "" {
			fmt.Fprintf(w, "✓ %d process(es) valid in %s\n", len(r.Processes), r.ModelsDir)
		}
		return
	}
	fmt.Fprintf(w, "✗ Validation failed with %d error(s):\n", len(r.Errors))
	for _, issue := range r.Errors {
		fmt.Fprintf(w, "  [%s] %s\n", issue.Code, issue.Message)
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [models-dir]",
		Short: "Validate configuration and process models",
		Long: `Validate the configuration and the process models without starting
the broker.

The models directory defaults to models.dir from the configuration.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	result := &ValidationResult{Valid: true, Config: opts.ConfigPath}

	cfg, err := opts.LoadConfig()
	if err != nil {
		result.Errors = append(result.Errors, ValidationIssue{Code: ErrCodeConfigInvalid, Message: err.Error()})
	} else if dir == "" {
		dir = cfg.Models.Dir
	}

	if dir != "" {
		result.ModelsDir = dir
		formatter.VerboseLog("Validating models in %s", dir)
		set, err := LoadModels(dir)
		if err != nil {
			result.Errors = append(result.Errors, ValidationIssue{Code: failureCode(err), Message: err.Error()})
		} else {
			for _, p := range set.Processes {
				result.Processes = append(result.Processes, p.ID)
			}
		}
	}

	result.Valid = len(result.Errors) == 0
	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

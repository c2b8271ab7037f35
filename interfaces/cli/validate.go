package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// validateOptions holds options for the validate command.
type validateOptions struct {
	strict bool
}

// newValidateCmd creates the validate command.
func (a *App) newValidateCmd() *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate [file.apl...]",
		Short: "Validate programs and configuration",
		Long: `Validate the configuration and any number of program files.

This command checks:
  - Configuration format and field constraints
  - Program syntax and name resolution
  - Declared capabilities against binding requirements
  - Binding resolution against the configured registry
  - IR graph well-formedness

Fallback model calls are reported as warnings, or rejected with --strict.

Examples:
  # Validate a configuration file
  apl validate -c apl.yaml

  # Validate programs against a configuration
  apl validate -c apl.yaml support.apl billing.apl

  # Reject loose lines
  apl validate --strict support.apl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validate(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Reject lines that would become fallback model calls")

	return cmd
}

func (a *App) validate(cmd *cobra.Command, opts *validateOptions, files []string) error {
	ctx := cmd.Context()

	rt, err := a.openRuntime(ctx, runtimeFlags{strict: opts.strict})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(ctx) }()

	if a.configPath != "" {
		_, _ = fmt.Fprintf(a.stdout, "%s: configuration valid\n", a.configPath)
	}

	var errs []error
	for _, file := range files {
		c, err := compileFile(ctx, rt.engine, file)
		if err != nil {
			_, _ = fmt.Fprintf(a.stdout, "%s: invalid\n  %v\n", file, err)
			errs = append(errs, fmt.Errorf("%s: %w", file, err))
			continue
		}
		_, _ = fmt.Fprintf(a.stdout, "%s: valid (%d routines, %d warnings)\n", file, len(c.Artifact.Routines()), len(c.Diagnostics))
		for _, d := range c.Diagnostics {
			_, _ = fmt.Fprintf(a.stdout, "  %s\n", d)
		}
	}
	return errors.Join(errs...)
}

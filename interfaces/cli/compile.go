package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/apl/domain/ir"
)

type compileOptions struct {
	output string
	strict bool
}

func (a *App) newCompileCmd() *cobra.Command {
	opts := &compileOptions{}

	cmd := &cobra.Command{
		Use:   "compile <file.apl>",
		Short: "Compile a program to an IR artifact",
		Long: `Compile a program into its hashed IR artifact.

Bindings are resolved against the configured registry, MCP servers and
endpoint overrides. Warnings go to stderr; any error blocks the artifact.

Examples:
  apl compile support.apl -o support.ir.json
  apl compile -c apl.yaml --strict support.apl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := a.openRuntime(ctx, runtimeFlags{strict: opts.strict})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(ctx) }()

			c, err := compileFile(ctx, rt.engine, args[0])
			if err != nil {
				return err
			}
			for _, d := range c.Diagnostics {
				_, _ = fmt.Fprintf(a.stderr, "%s: %s\n", args[0], d)
			}

			if err := a.writeOutput(opts.output, func(w io.Writer) error {
				return ir.Encode(w, c.Artifact)
			}); err != nil {
				return err
			}
			if opts.output != "" && opts.output != "-" {
				_, _ = fmt.Fprintf(a.stderr, "wrote %s (%s)\n", opts.output, c.Artifact.Hash)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Artifact path (default stdout)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Reject lines that would become fallback model calls")

	return cmd
}

func (a *App) newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <artifact.json>",
		Short: "Verify the hash and graph of an IR artifact",
		Long: `Decode an IR artifact, recompute its hash and validate its graph.

A modified artifact fails with a hash mismatch; a malformed graph fails
IR validation.

Example:
  apl verify support.ir.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0]) // #nosec G304 -- path is an operator-supplied CLI argument
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			art, err := ir.Decode(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			_, _ = fmt.Fprintf(a.stdout, "%s: verified\n", args[0])
			_, _ = fmt.Fprintf(a.stdout, "  Program: %s\n", art.Program)
			_, _ = fmt.Fprintf(a.stdout, "  Hash: %s\n", art.Hash)
			_, _ = fmt.Fprintf(a.stdout, "  Nodes: %d\n", len(art.Nodes))
			for _, r := range art.Routines() {
				_, _ = fmt.Fprintf(a.stdout, "  Routine: %s\n", r)
			}
			for _, name := range art.CapabilityManifest.Names() {
				_, _ = fmt.Fprintf(a.stdout, "  Capability: %s\n", name)
			}
			return nil
		},
	}
}

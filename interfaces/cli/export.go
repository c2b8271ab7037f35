package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/apl/infrastructure/export/n8n"
	"github.com/felixgeelhaar/apl/infrastructure/parser"
)

type exportOptions struct {
	output     string
	runtimeURL string
}

func (a *App) newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export programs to other systems",
	}
	cmd.AddCommand(a.newExportN8NCmd())
	return cmd
}

func (a *App) newExportN8NCmd() *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "n8n <file.apl>",
		Short: "Export n8n-triggered routines as an n8n workflow",
		Long: `Export every routine annotated with "# n8n: trigger webhook ..." as an
n8n workflow: one webhook node per routine, wired to an HTTP request node
that forwards the payload to the APL runtime.

The runtime URL comes from --runtime-url, then n8n.runtime_url in the
configuration.

Example:
  apl export n8n support.apl -o support.n8n.json --runtime-url https://apl.internal/run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			src, err := os.ReadFile(args[0]) // #nosec G304 -- path is an operator-supplied CLI argument
			if err != nil {
				return err
			}
			prog, err := parser.New().Parse(string(src))
			if err != nil {
				return err
			}

			runtimeURL := opts.runtimeURL
			if runtimeURL == "" {
				runtimeURL = cfg.N8N.RuntimeURL
			}
			wf, err := n8n.Export(prog, n8n.Options{RuntimeURL: runtimeURL})
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			data, err := n8n.Marshal(wf)
			if err != nil {
				return err
			}

			return a.writeOutput(opts.output, func(w io.Writer) error {
				_, err := w.Write(append(data, '\n'))
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Workflow path (default stdout)")
	cmd.Flags().StringVar(&opts.runtimeURL, "runtime-url", "", "URL the workflow posts trigger payloads to")

	return cmd
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/apl/application"
	domainconfig "github.com/felixgeelhaar/apl/domain/config"
	"github.com/felixgeelhaar/apl/domain/ir"
	"github.com/felixgeelhaar/apl/infrastructure/authoring"
	"github.com/felixgeelhaar/apl/infrastructure/export/n8n"
	"github.com/felixgeelhaar/apl/infrastructure/proxy"
)

// draftOptions are the flags shared by author and pipeline.
type draftOptions struct {
	briefFile string
	model     string
	mock      bool
	seed      string
	attempts  int
	strict    bool
}

func (o *draftOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.briefFile, "brief-file", "", "Read the brief from a file (- for stdin)")
	cmd.Flags().StringVar(&o.model, "model", "", "Model used for drafting (default authoring.model, then runtime.model.model)")
	cmd.Flags().BoolVar(&o.mock, "mock", false, "Draft from built-in templates without calling a model")
	cmd.Flags().StringVar(&o.seed, "seed", "", "Program file returned as the draft; implies --mock")
	cmd.Flags().IntVar(&o.attempts, "attempts", 0, "Drafts to try before giving up (default authoring.attempts)")
	cmd.Flags().BoolVar(&o.strict, "strict", false, "Reject lines that would become fallback model calls")
}

// brief joins args, or reads --brief-file.
func (a *App) brief(o *draftOptions, args []string) (string, error) {
	if o.briefFile == "" {
		return strings.Join(args, " "), nil
	}
	if len(args) > 0 {
		return "", errors.New("give the brief as arguments or with --brief-file, not both")
	}
	var data []byte
	var err error
	if o.briefFile == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(o.briefFile) // #nosec G304 -- operator supplied path
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// newDrafter builds the drafter from the configuration, the APL_LLM_*
// environment and the flags, in increasing precedence.
func newDrafter(cfg *domainconfig.Config, o *draftOptions) (authoring.Drafter, error) {
	ac := authoring.FromEnv(authoring.Config{
		Model:       cfg.Authoring.Model,
		Temperature: cfg.Authoring.Temperature,
		Mock:        cfg.Authoring.Mock,
		Seed:        cfg.Authoring.Seed,
	}, os.LookupEnv)
	if o.model != "" {
		ac.Model = o.model
	}
	if o.mock {
		ac.Mock = true
	}
	if o.seed != "" {
		ac.Mock = true
		ac.Seed = o.seed
	}

	var client *proxy.LLMClient
	if cfg.Runtime.Model.BaseURL != "" {
		httpCfg := proxy.DefaultHTTPConfig()
		if d := cfg.Runtime.HTTP.Timeout.Duration(); d > 0 {
			httpCfg.Timeout = d
		}
		client = proxy.NewLLMClient(proxy.LLMConfig{
			BaseURL: cfg.Runtime.Model.BaseURL,
			APIKey:  cfg.Runtime.Model.APIKey,
			Model:   cfg.Runtime.Model.Model,
		}, proxy.NewHTTPClient(httpCfg, nil))
	}
	d, err := authoring.New(ac, client)
	if errors.Is(err, proxy.ErrModelNotConfigured) {
		return nil, fmt.Errorf("%w: set runtime.model.base_url or use --mock", err)
	}
	return d, err
}

func attemptsFor(cfg *domainconfig.Config, o *draftOptions) int {
	if o.attempts > 0 {
		return o.attempts
	}
	return cfg.Authoring.Attempts
}

type authorOptions struct {
	draftOptions
	output string
	irOut  string
}

func (a *App) newAuthorCmd() *cobra.Command {
	opts := &authorOptions{}

	cmd := &cobra.Command{
		Use:   "author <brief...>",
		Short: "Draft a program from a natural-language brief",
		Long: `Ask a model to write a program for a brief and compile the draft.

A draft that does not compile is sent back with the compiler error until
it compiles or --attempts drafts were tried. Only a compiling program is
written.

The model endpoint is runtime.model in the configuration. APL_LLM_MODEL,
APL_LLM_TEMPERATURE and APL_LLM_MOCK override the authoring section.

Examples:
  apl author -c apl.yaml "triage customer support tickets" -o support.apl
  apl author --mock "say hello" --ir-out hello.ir.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			brief, err := a.brief(&opts.draftOptions, args)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			drafter, err := newDrafter(cfg, &opts.draftOptions)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(ctx, cfg, runtimeFlags{strict: opts.strict})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(ctx) }()

			authored, err := rt.engine.Author(ctx, drafter, brief, attemptsFor(cfg, &opts.draftOptions))
			if err != nil {
				return err
			}
			for _, d := range authored.Compilation.Diagnostics {
				_, _ = fmt.Fprintf(a.stderr, "draft: %s\n", d)
			}

			if err := a.writeOutput(opts.output, func(w io.Writer) error {
				_, err := io.WriteString(w, authored.Source)
				return err
			}); err != nil {
				return err
			}
			if opts.irOut != "" {
				if err := a.writeOutput(opts.irOut, func(w io.Writer) error {
					return ir.Encode(w, authored.Compilation.Artifact)
				}); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintf(a.stderr, "authored %s in %d attempt(s) (%s)\n",
				authored.Compilation.Program.Name, authored.Attempts, authored.Compilation.Artifact.Hash)
			return nil
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Program path (default stdout)")
	cmd.Flags().StringVar(&opts.irOut, "ir-out", "", "Also write the compiled artifact")

	return cmd
}

type pipelineOptions struct {
	draftOptions
	source     string
	outDir     string
	name       string
	routine    string
	allow      []string
	args       []string
	live       bool
	runtimeURL string
}

func (a *App) newPipelineCmd() *cobra.Command {
	opts := &pipelineOptions{}

	cmd := &cobra.Command{
		Use:   "pipeline [brief...]",
		Short: "Author, compile, export and run a program in one pass",
		Long: `Run the whole authoring pipeline and keep every artifact:

  <name>_prompt.txt  the brief
  <name>.apl         the program
  <name>.ir.json     the compiled artifact
  <name>_n8n.json    the n8n workflow, or a warning when nothing is triggered
  <name>_run.json    one run record per routine

With --source the authoring step is skipped. Routines run with --arg
values; parameters without one are bound to none. Run failures are
recorded in <name>_run.json and make the command fail after every
artifact is written.

Examples:
  apl pipeline --mock "customer support triage" --out-dir out --allow storage
  apl pipeline --source support.apl --out-dir out --routine support.triage --arg ticket=late`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPipeline(cmd.Context(), opts, args)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&opts.source, "source", "", "Program file to use instead of authoring one")
	cmd.Flags().StringVar(&opts.outDir, "out-dir", ".", "Directory for the artifacts")
	cmd.Flags().StringVar(&opts.name, "name", "", "Artifact base name (default the program name)")
	cmd.Flags().StringVar(&opts.routine, "routine", "", "Run only this agent.routine")
	cmd.Flags().StringArrayVar(&opts.allow, "allow", nil, "Grant a capability: name, name=false or name:limit=10 (repeatable)")
	cmd.Flags().StringArrayVar(&opts.args, "arg", nil, "Routine argument key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.live, "live", false, "Call real integrations instead of simulated fixtures")
	cmd.Flags().StringVar(&opts.runtimeURL, "runtime-url", "", "URL the exported workflow posts trigger payloads to")

	return cmd
}

func (a *App) runPipeline(ctx context.Context, opts *pipelineOptions, args []string) error {
	req := application.PipelineRequest{Routine: opts.routine}

	var err error
	if req.Args, err = parseArgs(opts.args); err != nil {
		return err
	}
	if opts.source != "" {
		if len(args) > 0 || opts.briefFile != "" {
			return errors.New("give either a brief or --source, not both")
		}
		src, err := os.ReadFile(opts.source) // #nosec G304 -- operator supplied path
		if err != nil {
			return err
		}
		req.Source = string(src)
	} else if req.Brief, err = a.brief(&opts.draftOptions, args); err != nil {
		return err
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	req.Attempts = attemptsFor(cfg, &opts.draftOptions)
	req.N8N = n8n.Options{RuntimeURL: opts.runtimeURL}
	if req.N8N.RuntimeURL == "" {
		req.N8N.RuntimeURL = cfg.N8N.RuntimeURL
	}

	var drafter application.Drafter
	if req.Source == "" {
		if drafter, err = newDrafter(cfg, &opts.draftOptions); err != nil {
			return err
		}
	}

	rt, err := buildRuntime(ctx, cfg, runtimeFlags{allow: opts.allow, live: opts.live, strict: opts.strict})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(ctx) }()

	res, err := rt.engine.Pipeline(ctx, drafter, req)
	if res == nil {
		return err
	}
	if writeErr := a.writePipeline(opts, res); writeErr != nil {
		return errors.Join(err, writeErr)
	}
	if err != nil {
		return err
	}
	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d runs failed; first: %s: %s", len(failed), len(res.Runs), failed[0].Routine, failed[0].Error)
	}
	return nil
}

type artifactFile struct {
	path  string
	write func(io.Writer) error
}

func (a *App) writePipeline(opts *pipelineOptions, res *application.PipelineResult) error {
	if err := os.MkdirAll(opts.outDir, 0o750); err != nil {
		return err
	}
	name := opts.name
	if name == "" {
		name = res.Compilation.Program.Name
	}
	if name == "" {
		name = "program"
	}
	path := func(suffix string) string { return filepath.Join(opts.outDir, name+suffix) }

	var workflow any = res.Workflow
	if res.Workflow == nil {
		workflow = map[string]any{
			"name":        name,
			"warning":     res.WorkflowWarning,
			"nodes":       []any{},
			"connections": map[string]any{},
		}
	}

	var files []artifactFile
	if res.Authored != nil {
		files = append(files, artifactFile{path("_prompt.txt"), func(w io.Writer) error {
			_, err := io.WriteString(w, res.Authored.Brief)
			return err
		}})
	}
	files = append(files,
		artifactFile{path(".apl"), func(w io.Writer) error {
			_, err := io.WriteString(w, res.Source)
			return err
		}},
		artifactFile{path(".ir.json"), func(w io.Writer) error { return ir.Encode(w, res.Compilation.Artifact) }},
		artifactFile{path("_n8n.json"), func(w io.Writer) error { return encodeJSON(w, workflow) }},
		artifactFile{path("_run.json"), func(w io.Writer) error { return encodeJSON(w, res.Runs) }},
	)

	for _, f := range files {
		if err := a.writeOutput(f.path, f.write); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(a.stdout, "wrote %s\n", f.path)
	}
	for _, r := range res.Runs {
		_, _ = fmt.Fprintf(a.stdout, "%s: %s\n", r.Routine, r.State)
	}
	if res.WorkflowWarning != "" {
		_, _ = fmt.Fprintf(a.stderr, "n8n export skipped: %s\n", res.WorkflowWarning)
	}
	return nil
}

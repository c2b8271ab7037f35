// Package cli provides the apl command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/apl"
	"github.com/felixgeelhaar/apl/application"
	domainconfig "github.com/felixgeelhaar/apl/domain/config"
	"github.com/felixgeelhaar/apl/domain/ir"
	infraconfig "github.com/felixgeelhaar/apl/infrastructure/config"
)

// Version information set at build time.
var (
	Version   = apl.Version
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// App represents the CLI application.
type App struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer

	configPath string
}

// New creates a new CLI application.
func New() *App {
	app := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	app.root = &cobra.Command{
		Use:   "apl",
		Short: "Compiler and runtime for agent programs",
		Long: `apl compiles agent programs into a hashed, portable IR and runs their
routines under an explicit capability allow-list.

Every side effect goes through a declared capability. Nothing is granted
unless the operator allows it with --allow or the config's grants.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	app.root.PersistentFlags().StringVarP(&app.configPath, "config", "c", "", "Path to configuration file (YAML or JSON)")

	app.root.AddCommand(
		app.newVersionCmd(),
		app.newValidateCmd(),
		app.newCompileCmd(),
		app.newVerifyCmd(),
		app.newRunCmd(),
		app.newReplayCmd(),
		app.newAuditCmd(),
		app.newRunsCmd(),
		app.newExportCmd(),
		app.newAuthorCmd(),
		app.newPipelineCmd(),
		app.newServeCmd(),
		app.newWatchCmd(),
	)

	return app
}

// WithOutput sets custom output writers.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the CLI application.
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the CLI with specific arguments (useful for testing).
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(a.stdout, "apl version %s\n", Version)
			_, _ = fmt.Fprintf(a.stdout, "  IR version: %s\n", ir.Version)
			_, _ = fmt.Fprintf(a.stdout, "  Git commit: %s\n", GitCommit)
			_, _ = fmt.Fprintf(a.stdout, "  Build date: %s\n", BuildDate)
		},
	}
}

// loadConfig reads the --config file, or the defaults when none is given,
// and initializes logging from it.
func (a *App) loadConfig() (*domainconfig.Config, error) {
	cfg := domainconfig.Default()
	if a.configPath != "" {
		loaded, err := infraconfig.NewLoader().LoadFile(a.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}
	initLogging(cfg.Logging, a.stderr)
	return cfg, nil
}

// openRuntime loads the configuration and assembles an engine from it.
func (a *App) openRuntime(ctx context.Context, flags runtimeFlags) (*runtime, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return buildRuntime(ctx, cfg, flags)
}

// isArtifact reports whether path names a compiled artifact rather than
// program source.
func isArtifact(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// loadExecutable compiles a source file, or decodes and verifies an
// artifact file, and builds an executable from it.
func loadExecutable(ctx context.Context, e *application.Engine, path string) (*application.Executable, error) {
	if isArtifact(path) {
		f, err := os.Open(path) // #nosec G304 -- path is an operator-supplied CLI argument
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()

		art, err := ir.Decode(f)
		if err != nil {
			return nil, err
		}
		return e.Prepare(ctx, art)
	}

	c, err := compileFile(ctx, e, path)
	if err != nil {
		return nil, err
	}
	return e.Load(c)
}

func compileFile(ctx context.Context, e *application.Engine, path string) (*application.Compilation, error) {
	src, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied CLI argument
	if err != nil {
		return nil, err
	}
	return e.Compile(ctx, string(src))
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func (a *App) writeOutput(path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(a.stdout)
	}
	f, err := os.Create(path) // #nosec G304 -- path is an operator-supplied CLI argument
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

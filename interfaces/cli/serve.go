package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/apl"
	"github.com/felixgeelhaar/apl/application"
	"github.com/felixgeelhaar/apl/domain/syntax"
	"github.com/felixgeelhaar/apl/infrastructure/logging"
	"github.com/felixgeelhaar/apl/infrastructure/mcp"
)

type serveOptions struct {
	httpAddr string
	allow    []string
	live     bool
	strict   bool
}

func (a *App) newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve <file.apl>",
		Short: "Serve a program's routines as MCP tools",
		Long: `Compile a program and expose each routine as an MCP tool named
"agent_routine". Tool arguments are the routine's parameters as a JSON
object; the result is the routine's return value as JSON.

Every call is a separate run under the same capability grants.

Examples:
  # Serve over stdio for a local MCP client
  apl serve support.apl --allow network

  # Serve over HTTP
  apl serve -c apl.yaml support.apl --http :8080 --live`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.httpAddr, "http", "", "Serve over HTTP on this address instead of stdio")
	cmd.Flags().StringArrayVar(&opts.allow, "allow", nil, "Grant a capability (repeatable)")
	cmd.Flags().BoolVar(&opts.live, "live", false, "Call real integrations instead of simulated fixtures")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Reject lines that would become fallback model calls")

	return cmd
}

func (a *App) serve(ctx context.Context, opts *serveOptions, file string) error {
	rt, err := a.openRuntime(ctx, runtimeFlags{allow: opts.allow, live: opts.live, strict: opts.strict})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	c, err := compileFile(ctx, rt.engine, file)
	if err != nil {
		return err
	}
	exe, err := rt.engine.Load(c)
	if err != nil {
		return err
	}

	srv := newRoutineServer(rt.engine, exe, c.Program)

	logging.Info().
		Add(logging.Component("serve")).
		Add(logging.Hash(c.Artifact.Hash)).
		Add(logging.Count("tools", len(srv.Tools()))).
		Msg("serving routines")

	if opts.httpAddr != "" {
		return srv.ServeHTTP(ctx, opts.httpAddr)
	}
	return srv.ServeStdio(ctx)
}

// newRoutineServer exposes every routine of prog as an MCP tool backed by
// a fresh run of exe.
func newRoutineServer(e *application.Engine, exe *application.Executable, prog *syntax.Program) *mcp.Server {
	name := prog.Name
	if name == "" {
		name = "apl"
	}

	var routines []mcp.Routine
	for _, agent := range prog.Agents {
		for _, r := range agent.Routines {
			routines = append(routines, mcp.Routine{
				Agent:  agent.Name,
				Name:   r.Name,
				Params: r.Params,
			})
		}
	}

	return mcp.NewServer(mcp.ServerConfig{
		Name:         name,
		Version:      apl.Version,
		Description:  fmt.Sprintf("APL program %s (IR %s)", name, exe.Artifact().Hash),
		Instructions: "Each tool runs one routine. Pass the routine parameters as a JSON object.",
		Routines:     routines,
		Run: func(ctx context.Context, agent, routine string, args map[string]any) (any, error) {
			r, err := e.Run(ctx, exe, agent+"."+routine, args)
			if err != nil {
				return nil, err
			}
			return r.Result, nil
		},
	})
}

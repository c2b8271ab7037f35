package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	infraconfig "github.com/felixgeelhaar/apl/infrastructure/config"
	"github.com/felixgeelhaar/apl/infrastructure/logging"
)

type watchOptions struct {
	debounce time.Duration
	strict   bool
}

func (a *App) newWatchCmd() *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <file.apl...>",
		Short: "Recompile programs whenever they or the configuration change",
		Long: `Compile the given programs, then recompile each one when it is saved.
A change to the --config file reloads the configuration and recompiles
every program. Compile errors are reported and watching continues.

Example:
  apl watch -c apl.yaml support.apl billing.apl`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd.Context(), opts, args)
		},
	}

	cmd.Flags().DurationVar(&opts.debounce, "debounce", infraconfig.DefaultDebounce, "Quiet period before a change is handled")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Reject lines that would become fallback model calls")

	return cmd
}

func (a *App) watch(ctx context.Context, opts *watchOptions, files []string) error {
	flags := runtimeFlags{strict: opts.strict}
	rt, err := a.openRuntime(ctx, flags)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	paths := append([]string{}, files...)
	configAbs := ""
	if a.configPath != "" {
		paths = append(paths, a.configPath)
		if configAbs, err = filepath.Abs(a.configPath); err != nil {
			return err
		}
	}

	w, err := infraconfig.NewWatcher(paths, opts.debounce)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	for _, f := range files {
		a.recompile(ctx, rt, f)
	}

	err = w.Run(ctx, func(path string) {
		if path != configAbs {
			a.recompile(ctx, rt, path)
			return
		}

		next, err := a.openRuntime(ctx, flags)
		if err != nil {
			// Keep the previous runtime until the configuration is fixed.
			_, _ = fmt.Fprintf(a.stdout, "%s: %v\n", a.configPath, err)
			return
		}
		_ = rt.Close(context.Background())
		rt = next
		logging.Info().Add(logging.Component("watch")).Msg("configuration reloaded")
		for _, f := range files {
			a.recompile(ctx, rt, f)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) recompile(ctx context.Context, rt *runtime, file string) {
	c, err := compileFile(ctx, rt.engine, file)
	if err != nil {
		_, _ = fmt.Fprintf(a.stdout, "%s: %v\n", file, err)
		return
	}
	_, _ = fmt.Fprintf(a.stdout, "%s: compiled %s (%d warnings)\n", file, c.Artifact.Hash, len(c.Diagnostics))
	for _, d := range c.Diagnostics {
		_, _ = fmt.Fprintf(a.stdout, "  %s\n", d)
	}
}

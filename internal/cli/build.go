package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/devloop/internal/artifact"
	"github.com/hupe1980/devloop/internal/build"
	"github.com/hupe1980/devloop/internal/config"
	"github.com/hupe1980/devloop/internal/logging"
)

func newBuildCommand() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "build [project-dir]",
		Short: "Build the plugin and publish the artifact once",
		Long: `Build runs the project's build tool a single time and copies the
resulting artifact into the server's plugin directory. No server is
launched and no sources are watched; use "devloop dev" for the full
loop.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, projectDirArg(args), full)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "run a clean/full build instead of an incremental one")

	return cmd
}

func runBuild(cmd *cobra.Command, dir string, full bool) error {
	ctx := cmd.Context()
	logger := logging.FromContext(ctx)

	proj, err := config.LoadProject(dir)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	invoker := &build.Invoker{
		Command:  proj.BuildCommandPath(),
		Args:     proj.Build.Args,
		FullArgs: proj.Build.FullArgs,
		Stdout:   cmd.OutOrStdout(),
		Stderr:   cmd.ErrOrStderr(),
	}

	outcome, err := invoker.Invoke(ctx, proj.Dir, full)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	if !outcome.Success {
		return &ExitError{Code: 1, Err: fmt.Errorf("build failed after %s", outcome.Duration.Round(time.Millisecond))}
	}

	publisher := &artifact.Publisher{Logger: logger}

	published, err := publisher.Publish(proj.BuildOutputDir, proj.PublishDir)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "built and published %s (%s)\n", published, outcome.Duration.Round(time.Millisecond))

	return nil
}

package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/devloop/internal/artifact"
	"github.com/hupe1980/devloop/internal/build"
	"github.com/hupe1980/devloop/internal/config"
	"github.com/hupe1980/devloop/internal/logging"
	"github.com/hupe1980/devloop/internal/proc"
	"github.com/hupe1980/devloop/internal/session"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [project-dir]",
		Short: "Launch the server without rebuilding",
		Long: `Run launches the supervised server process without building first.
When a previously built artifact exists it is republished; otherwise
the server starts with whatever is already in its plugin directory.
Sources are not watched. This is the "resume" counterpart to
"devloop dev".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd, projectDirArg(args))
		},
	}

	return cmd
}

func runResume(cmd *cobra.Command, dir string) error {
	ctx := cmd.Context()
	logger := logging.FromContext(ctx)

	proj, err := config.LoadProject(dir)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	supervisor := proc.New(proc.Options{
		GracePeriod: proj.GracePeriod,
		Stdin:       os.Stdin,
		Logger:      logger,
	})

	ctrl := session.New(session.Options{
		ProjectDir:       proj.Dir,
		SourceDir:        proj.SourceDir,
		BuildOutputDir:   proj.BuildOutputDir,
		PublishDir:       proj.PublishDir,
		ServerDir:        proj.ServerDir,
		ServerExecutable: proj.Server.Executable,
		ServerArgs:       proj.Server.Args,
		Watch:            false,
		SkipInitialBuild: true,
		Debounce:         proj.Debounce,
		Builder: &build.Invoker{
			Command:  proj.BuildCommandPath(),
			Args:     proj.Build.Args,
			FullArgs: proj.Build.FullArgs,
		},
		Publisher:  &artifact.Publisher{Logger: logger},
		Supervisor: session.NewSupervisor(supervisor),
		Logger:     logger,
		Out:        cmd.ErrOrStderr(),
	})

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Run(sigCtx); err != nil {
		return sessionExitError(err)
	}

	return nil
}

package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/devloop/internal/artifact"
	"github.com/hupe1980/devloop/internal/build"
	"github.com/hupe1980/devloop/internal/config"
	"github.com/hupe1980/devloop/internal/logging"
	"github.com/hupe1980/devloop/internal/proc"
	"github.com/hupe1980/devloop/internal/session"
)

type devOptions struct {
	noWatch      bool
	requireWatch bool
	skipBuild    bool
	debounce     time.Duration
}

func newDevCommand() *cobra.Command {
	opts := &devOptions{}

	cmd := &cobra.Command{
		Use:   "dev [project-dir]",
		Short: "Start a development session",
		Long: `Dev runs one development session: a full build, publication of the
built artifact into the server's plugin directory, and launch of the
server process. While the session runs, source changes are debounced
and trigger an incremental rebuild plus republication.

The server is not restarted automatically; stop the session with
Ctrl-C and start a new one to pick up a republished plugin when the
server does not hot-reload.

Rebuild failures mid-session are reported and the session keeps
watching; only failures during the initial build are fatal.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(cmd, projectDirArg(args), opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.noWatch, "no-watch", false, "build, publish, and launch once without watching sources")
	f.BoolVar(&opts.requireWatch, "require-watch", false, "treat a watcher start failure as fatal")
	f.BoolVar(&opts.skipBuild, "skip-build", false, "launch without rebuilding (republishes a prior artifact if present)")
	f.DurationVar(&opts.debounce, "debounce", 0, "debounce window for source changes (default: project config)")

	return cmd
}

// projectDirArg resolves the optional positional project directory.
func projectDirArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}

	return "."
}

func runDev(cmd *cobra.Command, dir string, opts *devOptions) error {
	ctx := cmd.Context()
	logger := logging.FromContext(ctx)

	proj, err := config.LoadProject(dir)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	debounce := proj.Debounce
	if opts.debounce > 0 {
		debounce = opts.debounce
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
		Watch:            !opts.noWatch,
		RequireWatch:     opts.requireWatch,
		SkipInitialBuild: opts.skipBuild,
		Debounce:         debounce,
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

	// An interrupt or termination signal is the session's only external
	// cancellation channel.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Run(sigCtx); err != nil {
		return sessionExitError(err)
	}

	return nil
}

// sessionExitError maps a fatal session error to the process exit code.
func sessionExitError(err error) error {
	var (
		buildErr   *session.BuildError
		publishErr *session.PublishError
		procErr    *session.ProcessError
		watchErr   *session.WatchError
	)

	switch {
	case errors.As(err, &buildErr), errors.As(err, &publishErr),
		errors.As(err, &procErr), errors.As(err, &watchErr):
		return &ExitError{Code: 1, Err: err}
	default:
		return err
	}
}

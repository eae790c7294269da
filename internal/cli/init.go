package cli

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/devloop/internal/logging"
	"github.com/hupe1980/devloop/internal/scaffold"
)

type initOptions struct {
	dir   string
	force bool
	git   bool
}

func newInitCommand() *cobra.Command {
	opts := &initOptions{}

	cmd := &cobra.Command{
		Use:   "init NAME",
		Short: "Scaffold a new plugin project",
		Long: `Init creates the directory layout for a new plugin project: a
devloop.yaml project configuration, a plugin manifest, a source tree,
and a .gitignore. Existing files are never overwritten unless --force
is given; a differing file is shown as a unified diff instead.`,
		Example: `  # Scaffold "my-plugin" in the current directory
  devloop init my-plugin

  # Scaffold into a specific directory without git init
  devloop init my-plugin --dir ./plugins/my-plugin --git=false`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.dir
			if dir == "" {
				dir = args[0]
			}

			err := scaffold.Run(scaffold.Options{
				Dir:    dir,
				Name:   args[0],
				Force:  opts.force,
				Git:    opts.git,
				Out:    cmd.OutOrStdout(),
				Logger: logging.FromContext(cmd.Context()),
			})
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", "", "target directory (defaults to NAME)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite existing files that differ")
	cmd.Flags().BoolVar(&opts.git, "git", true, "initialise a git repository")

	return cmd
}

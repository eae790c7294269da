package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/devloop/internal/config"
	"github.com/hupe1980/devloop/internal/dist"
	"github.com/hupe1980/devloop/internal/logging"
)

type setupOptions struct {
	url     string
	version string
	sha256  string
}

func newSetupCommand() *cobra.Command {
	opts := &setupOptions{}

	cmd := &cobra.Command{
		Use:   "setup [project-dir]",
		Short: "Download and unpack the server distribution",
		Long: `Setup fetches the server distribution archive configured under the
"dist" key of devloop.yaml and unpacks it into the server directory.
The declared version is checked against the configured minimum server
version, and the download is verified against its SHA-256 digest when
one is configured.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := config.LoadProject(projectDirArg(args))
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			url := proj.Dist.URL
			if opts.url != "" {
				url = opts.url
			}

			version := proj.Dist.Version
			if opts.version != "" {
				version = opts.version
			}

			sha := proj.Dist.SHA256
			if opts.sha256 != "" {
				sha = opts.sha256
			}

			if url == "" {
				return &ExitError{Code: 2, Err: fmt.Errorf("no distribution URL configured; set dist.url in %s or pass --url", config.ProjectFileName)}
			}

			err = dist.Fetch(cmd.Context(), dist.Options{
				URL:        url,
				Version:    version,
				MinVersion: proj.Server.MinVersion,
				SHA256:     sha,
				DestDir:    proj.ServerDir,
				Logger:     logging.FromContext(cmd.Context()),
			})
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Server distribution unpacked into %s\n", proj.ServerDir)

			return nil
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "distribution archive URL (overrides dist.url)")
	cmd.Flags().StringVar(&opts.version, "version", "", "declared distribution version (overrides dist.version)")
	cmd.Flags().StringVar(&opts.sha256, "sha256", "", "expected SHA-256 digest (overrides dist.sha256)")

	return cmd
}

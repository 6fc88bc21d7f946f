package cli

import (
	"fmt"

	"github.com/pscheid92/pulselink/internal/domain"
	"github.com/spf13/cobra"
)

func newLoginURLCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "login-url PROVIDER",
		Short:     "Print the URL that starts a third-party login",
		Long:      "Open the printed URL in a browser; the backend redirects back once the provider login completes.",
		GroupID:   "session",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(domain.LoginGoogle), string(domain.LoginGitHub)},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts.cfg)
			if err != nil {
				return err
			}

			u, err := c.provider.LoginURL(domain.LoginProvider(args[0]))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), u)
			return err
		},
	}
}

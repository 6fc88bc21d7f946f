package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newGuestCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "guest NAME",
		Short:   "Log in as a guest and print the issued session",
		GroupID: "session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts.cfg)
			if err != nil {
				return err
			}

			s, err := c.provider.LoginGuest(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode session: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}

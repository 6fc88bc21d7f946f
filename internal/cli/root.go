package cli

import (
	"fmt"

	"github.com/pscheid92/pulselink/internal/platform/config"
	"github.com/pscheid92/pulselink/internal/platform/logging"
	"github.com/spf13/cobra"
)

// options holds what the root command resolves before any subcommand runs.
type options struct {
	logLevel  string
	logFormat string

	cfg *config.Config
}

func Execute() error {
	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "pulselink",
		Short: "pulselink: resilient game session client",
		Long: `pulselink keeps one authenticated WebSocket connection to a game server
alive over an unreliable network. It logs in through the backend's auth
endpoints and reconnects with capped exponential backoff.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			if opts.logFormat != "" {
				cfg.LogFormat = opts.logFormat
			}
			logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
			opts.cfg = cfg
			return nil
		},
	}

	root.AddGroup(&cobra.Group{ID: "session", Title: "Session"})

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Logging level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format (text, json, pretty); overrides LOG_FORMAT")

	root.AddCommand(
		newConnectCommand(opts),
		newGuestCommand(opts),
		newLoginURLCommand(opts),
		newVersionCommand(),
	)
	return root
}

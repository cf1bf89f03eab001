package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/prn-tf/blobvault/internal/app"
	"github.com/prn-tf/blobvault/internal/config"
	"github.com/prn-tf/blobvault/internal/logging"
)

// options holds the persistent flags.
type options struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "blobvault-admin",
		Short: "Administer a blobvault deployment",
		Long: `blobvault-admin works directly against the configured metadata database
and storage backend. It reads the same configuration file and BLOBVAULT_*
environment variables as the server.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for diagnostics on stderr")

	root.AddCommand(
		newPutCmd(opts),
		newGetCmd(opts),
		newStatCmd(opts),
		newSweepCmd(opts),
		newHashSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// loadConfig reads the configuration file and environment.
func (o *options) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath)
}

// openApp wires the application. Logs go to stderr so stdout stays clean for payloads.
func (o *options) openApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	logger, err := logging.New(config.LoggingConfig{
		Level:  o.logLevel,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		return nil, err
	}

	return app.New(ctx, cfg, logger)
}

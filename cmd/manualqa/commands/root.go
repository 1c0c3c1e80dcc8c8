// Package commands defines all Cobra CLI commands for the manualqa binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/manualqa-go/internal/audit"
	"github.com/54b3r/manualqa-go/internal/config"
	"github.com/54b3r/manualqa-go/internal/logging"
)

// dotEnvPath is the .env file loaded before the YAML config.
const dotEnvPath = ".env"

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "manualqa",
		Short: "Question answering over the Banglalink Retailer App manual",
		Long: `manualqa answers retailer questions about the Banglalink Retailer App
using passages retrieved from the uploaded user manual.

Questions in Bangla are answered in Bangla, everything else in English.
Questions unrelated to the app are politely refused.

Configuration comes from the environment, an optional .env file and an
optional YAML file (~/.manualqa/config.yaml). Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := logging.New()

			loaded, err := config.LoadDotEnv(dotEnvPath)
			if err != nil {
				return err
			}
			if loaded {
				bootLog.Debug("config: loaded .env", slog.String("path", dotEnvPath))
			}

			path, err := config.Load(configPath, bootLog)
			if err != nil {
				return err
			}

			// LOG_LEVEL and LOG_FORMAT may come from either file.
			log := logging.New()
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.manualqa/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewIngestCmd(),
		NewStatusCmd(),
		NewVersionCmd(),
	)

	return root
}

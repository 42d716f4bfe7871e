package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petrijr/taskgraph/internal/config"
)

type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "taskgraph",
		Short:         "Run task graphs with retries, approvals and cost tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.NewLogger(cmd.ErrOrStderr())
			slog.SetDefault(a.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./taskgraph.yaml or ./config/taskgraph.yaml)")

	root.AddCommand(newValidateCmd(a), newRunCmd(a), newServeCmd(a))
	return root
}

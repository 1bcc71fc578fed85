package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	orchestratedsaga "github.com/akriventsev/orchestrated-saga"
	"github.com/akriventsev/orchestrated-saga/framework/config"
	"github.com/akriventsev/orchestrated-saga/framework/observability"
	"github.com/akriventsev/orchestrated-saga/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		role     string
		envFiles []string
	)

	cmd := &cobra.Command{
		Use:           "saga-node",
		Short:         "Runs orchestrator, order service or saga participants",
		Version:       orchestratedsaga.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadEnv(envFiles...); err != nil {
				return fmt.Errorf("failed to load env files: %w", err)
			}
			if role != "" {
				if err := os.Setenv("SAGA_ROLE", role); err != nil {
					return err
				}
			}

			cfg, err := config.Parse()
			if err != nil {
				return err
			}

			logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			logger = logger.With(zap.String("service", cfg.ServiceName), zap.String("role", cfg.Role))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			node, err := app.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to build saga node", zap.Error(err))
				return err
			}
			if err := node.Run(ctx); err != nil {
				logger.Error("saga node stopped with error", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "node role: "+fmt.Sprint(config.Roles()))
	cmd.Flags().StringSliceVar(&envFiles, "env", []string{".env"}, "env files to load before parsing the environment")
	return cmd
}

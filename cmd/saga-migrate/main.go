package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akriventsev/orchestrated-saga/framework/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	databaseURL   string
	migrationsDir string
	verbose       bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "saga-migrate",
		Short:         "Saga schema migration tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("STORE_POSTGRES_DSN"), "PostgreSQL connection string")
	cmd.PersistentFlags().StringVar(&opts.migrationsDir, "migrations-dir", "", "migrations directory (embedded migrations when empty)")
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "verbose output")

	cmd.AddCommand(
		newUpCmd(opts),
		newDownCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(opts),
		newCreateCmd(opts),
	)
	return cmd
}

func steps(args []string, fallback int) (int, error) {
	if len(args) == 0 {
		return fallback, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid steps: %s", args[0])
	}
	return n, nil
}

func newUpCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up [N]",
		Short: "Apply all pending migrations (or N migrations)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := steps(args, 0)
			if err != nil {
				return err
			}
			return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *migrations.Migrator) error {
				if err := m.UpBy(ctx, n); err != nil {
					return err
				}
				fmt.Println("Migrations applied successfully")
				return nil
			})
		},
	}
}

func newDownCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "down [N]",
		Short: "Rollback N migrations (default: 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := steps(args, 1)
			if err != nil {
				return err
			}
			return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *migrations.Migrator) error {
				if err := m.Down(ctx, n); err != nil {
					return err
				}
				fmt.Printf("Rolled back %d migration(s)\n", n)
				return nil
			})
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show status of all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *migrations.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}

				fmt.Println("Migration Status:")
				fmt.Println("================")
				for _, status := range statuses {
					fmt.Printf("[%-7s] %05d - %s", status.Status, status.Version, status.Name)
					if status.AppliedAt != nil {
						fmt.Printf(" (applied at %s)", status.AppliedAt.Format("2006-01-02 15:04:05"))
					}
					fmt.Println()
				}
				return nil
			})
		},
	}
}

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *migrations.Migrator) error {
				version, err := m.Version(ctx)
				if err != nil {
					return err
				}
				if version == 0 {
					fmt.Println("No migrations applied")
					return nil
				}
				fmt.Println(version)
				return nil
			})
		},
	}
}

func newCreateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.migrationsDir
			if dir == "" {
				dir = "./migrations"
			}
			path, err := migrations.CreateMigration(dir, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Created migration: %s\n", path)
			return nil
		},
	}
}

func withMigrator(ctx context.Context, opts *options, fn func(context.Context, *migrations.Migrator) error) error {
	if opts.databaseURL == "" {
		return fmt.Errorf("--database-url is required")
	}

	db, err := sql.Open("pgx", opts.databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	fsys := migrations.Source()
	if opts.migrationsDir != "" {
		fsys = os.DirFS(opts.migrationsDir)
	}

	migrator, err := migrations.NewMigrator(db, fsys)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer migrator.Close()

	logger := zap.NewNop()
	if opts.verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	return fn(ctx, migrator.WithLogger(logger))
}

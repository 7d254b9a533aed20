package cli

import (
	"context"

	"github.com/spf13/cobra"

	"practest-backend/internal/config"
	"practest-backend/internal/database"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath)
		},
	}
}

func runMigrations(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := config.NewLogger(cfg)

	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Error("✗ PostgreSQL connection failed")
		return err
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, database.Migrations(), log); err != nil {
		log.WithError(err).Error("✗ Database migration failed")
		return err
	}
	log.Info("✓ Database migrations applied")
	return nil
}

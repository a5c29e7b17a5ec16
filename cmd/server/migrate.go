package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"patientsync/internal/patient/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the patients schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Create the patients schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMigration(cmd.Context(), "up", store.MigrateUp)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Drop the patients schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMigration(cmd.Context(), "down", store.MigrateDown)
	},
}

func init() {
	migrateCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string (defaults to DATABASE_URL)")
	if err := viper.BindPFlag("DATABASE_URL", migrateCmd.PersistentFlags().Lookup("database-url")); err != nil {
		panic(err)
	}
	_ = viper.BindEnv("DATABASE_URL")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func runMigration(ctx context.Context, direction string, migrate func(context.Context, *pgx.Conn) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	databaseURL := viper.GetString("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL or --database-url is required")
	}

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(ctx); closeErr != nil {
			slog.Error("closing database connection", "error", closeErr)
		}
	}()

	if err := migrate(ctx, conn); err != nil {
		return err
	}
	slog.Info("migration applied", "direction", direction)
	return nil
}

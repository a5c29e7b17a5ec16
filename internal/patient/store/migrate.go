package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/000001_patients.up.sql
var patientsUp string

//go:embed migrations/000001_patients.down.sql
var patientsDown string

// MigrateUp creates the patients schema. It is idempotent.
func MigrateUp(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Exec(ctx, patientsUp); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrateDown drops the patients schema.
func MigrateDown(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Exec(ctx, patientsDown); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Migrate connects to databaseURL and applies MigrateUp.
func Migrate(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect for migration: %w", err)
	}
	defer conn.Close(ctx)
	return MigrateUp(ctx, conn)
}

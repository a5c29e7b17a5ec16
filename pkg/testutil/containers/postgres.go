//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type nopLogger struct{}

func (*nopLogger) Printf(_ string, _ ...any) {}

var _ tclog.Logger = (*nopLogger)(nil)

// PostgresContainer wraps a testcontainers Postgres instance with a lib/pq
// pool opened against it.
type PostgresContainer struct {
	Container testcontainers.Container
	URL       string
	DB        *sql.DB
}

// Migrator applies a schema over a pgx connection.
type Migrator func(ctx context.Context, conn *pgx.Conn) error

// NewPostgresContainer starts Postgres, applies migrate and opens a pool.
func NewPostgresContainer(t *testing.T, migrate Migrator) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("patientsync"),
		postgres.WithUsername("patientsync"),
		postgres.WithPassword("patientsync"),
		postgres.BasicWaitStrategies(),
		testcontainers.WithLogger(&nopLogger{}),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	if migrate != nil {
		conn, err := pgx.Connect(ctx, url)
		if err != nil {
			_ = container.Terminate(ctx)
			t.Fatalf("failed to connect for migration: %v", err)
		}
		err = migrate(ctx, conn)
		_ = conn.Close(ctx)
		if err != nil {
			_ = container.Terminate(ctx)
			t.Fatalf("failed to migrate: %v", err)
		}
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres pool: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}

	return &PostgresContainer{Container: container, URL: url, DB: db}
}

// TruncateTables empties the named tables.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(tables, ", ")))
	return err
}

//go:build integration

package containers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"lagerkoll/internal/platform/config"
	"lagerkoll/internal/platform/postgres"
)

// Postgres is a migrated database running in a container.
type Postgres struct {
	URL string
	DB  *sql.DB
}

// StartPostgres runs postgres:16-alpine and applies the schema migrations.
func StartPostgres(t *testing.T) *Postgres {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("lagerkoll"),
		tcpostgres.WithUsername("lagerkoll"),
		tcpostgres.WithPassword("lagerkoll"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	cfg := config.DatabaseConfig{URL: url, Driver: "postgres"}
	if err := postgres.Migrate(cfg); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return &Postgres{URL: url, DB: db}
}

// Truncate empties every table between tests.
func (p *Postgres) Truncate(t *testing.T) {
	t.Helper()
	_, err := p.DB.ExecContext(context.Background(),
		`TRUNCATE inventory_counts, order_lines, articles, users RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

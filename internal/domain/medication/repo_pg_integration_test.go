//go:build integration

package medication

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pillara/pillara/internal/platform/db"
	"github.com/pillara/pillara/migrations"
)

// TestRepoPG needs a reachable Postgres in TEST_DATABASE_URL.
func TestRepoPG(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url, 10, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx, "public"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repoContract(t, func(t *testing.T) Repository {
		truncate(t, pool)
		return NewRepoPG(pool)
	})
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), "TRUNCATE dose_log, medication"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

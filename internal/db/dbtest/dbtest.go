// Package dbtest hands tests a migrated Postgres, either from FIELDOPS_TEST_DB
// or from a throwaway container.
package dbtest

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"fieldops/internal/db"
)

var (
	mu     sync.Mutex
	shared string
)

// Open skips the test when neither a database URL nor Docker is available.
// The container is shared by every test in the package binary.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url, err := databaseURL(t)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.NewPool(ctx, url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func databaseURL(t *testing.T) (string, error) {
	mu.Lock()
	defer mu.Unlock()
	if shared != "" {
		return shared, nil
	}
	url := os.Getenv("FIELDOPS_TEST_DB")
	if url == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		ctx := context.Background()
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("fieldops_test"),
			tcpostgres.WithUsername("postgres"),
			tcpostgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			return "", err
		}
		url, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			return "", err
		}
	}
	if err := db.Migrate(url, nil); err != nil {
		return "", err
	}
	shared = url
	return url, nil
}

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// setupTestDB starts a disposable PostgreSQL container, applies the embedded
// migrations and returns a connected Client. The cleanup function must be
// called after tests complete.
func setupTestDB(t *testing.T) (*Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("copil_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	client, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err, "failed to connect")

	require.NoError(t, client.RunMigrations(ctx), "failed to run migrations")

	cleanup := func() {
		client.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return client, cleanup
}

// seedUser inserts a user for foreign-key dependent tests.
func seedUser(t *testing.T, client *Client, identity string) domain.User {
	t.Helper()

	u, err := NewUserStore(client.Pool()).Create(context.Background(), domain.User{
		ExternalIdentityID: identity,
		Email:              identity + "@example.com",
	})
	require.NoError(t, err)
	return u
}

func ptr[T any](v T) *T {
	return &v
}

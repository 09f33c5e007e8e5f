package redisq

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestBroker starts a disposable Redis container and returns a Broker
// configured with cfg. The cleanup function must be called after tests
// complete.
func setupTestBroker(t *testing.T, cfg Config) (*Broker, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "failed to start redis container")

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err, "failed to get redis endpoint")

	rdb := goredis.NewClient(&goredis.Options{Addr: endpoint})
	require.NoError(t, rdb.Ping(ctx).Err(), "failed to connect")

	cleanup := func() {
		_ = rdb.Close()
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return NewBroker(rdb, cfg), cleanup
}

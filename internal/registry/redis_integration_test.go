//go:build integration

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	testRegistry(t, func(t *testing.T) Registry {
		r, err := OpenRedis(ctx, url)
		require.NoError(t, err)
		require.NoError(t, r.client.FlushAll(ctx).Err())
		t.Cleanup(func() { _ = r.Close() })
		return r
	})
}

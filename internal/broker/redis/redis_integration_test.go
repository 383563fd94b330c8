//go:build integration

package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"linkpipe/internal/broker"
	"linkpipe/internal/broker/brokertest"
)

func TestRedisBrokerConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	url += "?claim_idle=1s"

	suite.Run(t, &brokertest.Suite{
		Dial: func(ctx context.Context) (broker.Conn, error) { return Dial(ctx, url) },
	})
}

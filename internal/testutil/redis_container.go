package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisShared = &sharedContainer{name: "Redis", start: startRedis}

// GetRedisAddress returns host:port of a shared Redis container.
// The test is skipped when the container cannot be started.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	return redisShared.get(t)
}

func startRedis(ctx context.Context) (string, error) {
	c, err := testcontainers.Run(
		ctx, "redis:7",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start Redis testcontainer: %w", err)
	}
	return endpointOf(ctx, c, "Redis")
}

package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var mongoShared = &sharedContainer{name: "MongoDB", start: startMongo}

// GetMongoURI returns the MongoDB URI for a shared Testcontainers Mongo instance.
// If the container cannot be started (e.g. Docker not available), tests are skipped.
func GetMongoURI(t *testing.T) string {
	t.Helper()
	return mongoShared.get(t)
}

func startMongo(ctx context.Context) (string, error) {
	c, err := testcontainers.Run(
		ctx, "mongo:7",
		testcontainers.WithExposedPorts("27017/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp").
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start MongoDB testcontainer: %w", err)
	}

	endpoint, err := endpointOf(ctx, c, "MongoDB")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("mongodb://%s", endpoint), nil
}

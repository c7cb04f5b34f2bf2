package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

// startupTimeout is generous for CI environments.
const startupTimeout = 3 * time.Minute

// sharedContainer starts one container per test binary and hands its
// endpoint to every test that asks. Containers are not tied to a single
// test's cleanup; the testcontainers reaper removes them at process exit.
type sharedContainer struct {
	name     string
	once     sync.Once
	endpoint string
	err      error
	start    func(ctx context.Context) (string, error)
}

func (c *sharedContainer) get(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skipf("skipping %s tests in short mode", c.name)
	}

	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()

		// Testcontainers panics when no Docker daemon is reachable.
		defer func() {
			if r := recover(); r != nil {
				c.err = fmt.Errorf("starting %s testcontainer panicked: %v", c.name, r)
			}
		}()

		c.endpoint, c.err = c.start(ctx)
	})

	if c.err != nil {
		t.Skipf("skipping %s tests: %v", c.name, c.err)
	}
	return c.endpoint
}

// endpointOf resolves the host:port of a running container, terminating it
// when that fails.
func endpointOf(ctx context.Context, c testcontainers.Container, name string) (string, error) {
	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		_ = c.Terminate(context.Background())
		return "", fmt.Errorf("failed to get %s container endpoint: %w", name, err)
	}
	return endpoint, nil
}

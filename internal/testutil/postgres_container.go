package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var pgShared = &sharedContainer{name: "PostgreSQL", start: startPostgres}

// GetPostgresDSN returns a pgx DSN for a shared PostgreSQL container.
// The test is skipped when the container cannot be started.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	return pgShared.get(t)
}

func startPostgres(ctx context.Context) (string, error) {
	postgresC, err := testcontainers.Run(
		ctx, "postgres:16",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("ready to accept connections"),
				// Actively verify SQL connectivity using the mapped host:port.
				wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
					return fmt.Sprintf("postgres://jobledger:jobledger@%s:%s/jobledger_test?sslmode=disable", host, port.Port())
				}).WithQuery("SELECT 1"),
			).WithDeadline(2*time.Minute),
		),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "jobledger",
			"POSTGRES_PASSWORD": "jobledger",
			"POSTGRES_DB":       "jobledger_test",
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start PostgreSQL testcontainer: %w", err)
	}

	endpoint, err := endpointOf(ctx, postgresC, "PostgreSQL")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgres://jobledger:jobledger@%s/jobledger_test?sslmode=disable", endpoint), nil
}

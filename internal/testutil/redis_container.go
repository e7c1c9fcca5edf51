package testutil

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisC shared

// GetRedisAddress returns host:port of a shared Redis container.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	return redisC.get(t,
		func(ctx context.Context) (testcontainers.Container, error) {
			return testcontainers.Run(
				ctx, "redis:7",
				testcontainers.WithExposedPorts("6379/tcp"),
				testcontainers.WithWaitStrategy(
					wait.ForListeningPort("6379/tcp"),
					wait.ForLog("Ready to accept connections"),
				),
			)
		},
		func(endpoint string) string { return endpoint },
	)
}

package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var mongoC shared

// GetMongoURI returns a connection URI for a shared MongoDB 7 container.
func GetMongoURI(t *testing.T) string {
	t.Helper()
	return mongoC.get(t,
		func(ctx context.Context) (testcontainers.Container, error) {
			return testcontainers.Run(
				ctx, "mongo:7",
				testcontainers.WithExposedPorts("27017/tcp"),
				testcontainers.WithWaitStrategy(
					wait.ForListeningPort("27017/tcp"),
					wait.ForLog("Waiting for connections"),
				),
			)
		},
		func(endpoint string) string { return fmt.Sprintf("mongodb://%s", endpoint) },
	)
}

// Package testutil starts shared backend containers for integration tests.
// Every helper skips the calling test when no container runtime is available.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

// startTimeout is generous for CI environments pulling images.
const startTimeout = 3 * time.Minute

// shared starts a container at most once per test binary and returns its
// endpoint. Containers are reaped by testcontainers' ryuk sidecar when the
// process exits.
type shared struct {
	once     sync.Once
	endpoint string
	err      error
}

func (s *shared) get(t *testing.T, start func(ctx context.Context) (testcontainers.Container, error), format func(endpoint string) string) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()

		c, err := start(ctx)
		if err != nil {
			s.err = err
			return
		}

		endpoint, err := c.Endpoint(ctx, "")
		if err != nil {
			_ = c.Terminate(context.Background()) // best-effort cleanup
			s.err = err
			return
		}
		s.endpoint = format(endpoint)
	})

	if s.err != nil {
		t.Skipf("container unavailable: %v", s.err)
	}
	return s.endpoint
}

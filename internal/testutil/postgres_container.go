package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresUser     = "pedidoflow"
	postgresPassword = "pedidoflow"
	postgresDB       = "pedidoflow_test"
)

func postgresDSN(hostPort string) string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", postgresUser, postgresPassword, hostPort, postgresDB)
}

var postgres shared

// GetPostgresDSN returns a DSN for a shared PostgreSQL 16 container.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	return postgres.get(t,
		func(ctx context.Context) (testcontainers.Container, error) {
			return testcontainers.Run(
				ctx, "postgres:16",
				testcontainers.WithExposedPorts("5432/tcp"),
				testcontainers.WithWaitStrategy(
					wait.ForAll(
						wait.ForListeningPort("5432/tcp"),
						// Postgres restarts once after init; wait for the second message.
						wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
						wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
							return postgresDSN(host + ":" + port.Port())
						}).WithQuery("SELECT 1"),
					).WithDeadline(2*time.Minute),
				),
				testcontainers.WithEnv(map[string]string{
					"POSTGRES_USER":     postgresUser,
					"POSTGRES_PASSWORD": postgresPassword,
					"POSTGRES_DB":       postgresDB,
				}),
			)
		},
		postgresDSN,
	)
}

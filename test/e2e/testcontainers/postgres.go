// Package testcontainers starts the disposable PostgreSQL instance
// the end-to-end import suites run against.
package testcontainers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresConfig holds the credentials and naming for the test
// database. Zero values fall back to telemetry defaults.
type PostgresConfig struct {
	User          string
	Password      string
	Database      string
	ContainerName string
}

// PostgresInstance is a running container plus its resolved
// connection coordinates, ready to feed into store.DBConfig.
type PostgresInstance struct {
	Container testcontainers.Container
	Host      string
	Port      int
	User      string
	Password  string
	Database  string
}

// StartPostgres starts a PostgreSQL container and resolves its mapped
// host and port. The container is torn down via Terminate.
func StartPostgres(ctx context.Context, cfg *PostgresConfig) (*PostgresInstance, error) {
	if cfg == nil {
		cfg = &PostgresConfig{}
	}
	if cfg.User == "" {
		cfg.User = "telemetry"
	}
	if cfg.Password == "" {
		cfg.Password = "telemetry"
	}
	if cfg.Database == "" {
		cfg.Database = "telemetry_test"
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections"),
			),
			Env: map[string]string{
				"POSTGRES_USER":     cfg.User,
				"POSTGRES_PASSWORD": cfg.Password,
				"POSTGRES_DB":       cfg.Database,
			},
			Name: cfg.ContainerName,
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, terminateAfter(ctx, container, fmt.Errorf("failed to get container host: %w", err))
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, terminateAfter(ctx, container, fmt.Errorf("failed to get container port: %w", err))
	}

	return &PostgresInstance{
		Container: container,
		Host:      host,
		Port:      port.Int(),
		User:      cfg.User,
		Password:  cfg.Password,
		Database:  cfg.Database,
	}, nil
}

// DSN renders the connection string for clients that want one.
func (p *PostgresInstance) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.Database)
}

// Terminate stops and removes the container.
func (p *PostgresInstance) Terminate(ctx context.Context) error {
	return p.Container.Terminate(ctx)
}

// terminateAfter cleans up a half-started container, folding any
// cleanup failure into the original error.
func terminateAfter(ctx context.Context, c testcontainers.Container, err error) error {
	if termErr := c.Terminate(ctx); termErr != nil {
		return fmt.Errorf("%w (cleanup error: %w)", err, termErr)
	}
	return err
}

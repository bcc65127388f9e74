//go:build integration

// Integration tests for the connection pool and migrator. They require
// Docker and are gated behind the "integration" build tag.
package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/defectwise/defectwise/internal/config"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/pkg/errors"
)

// startDatabase launches a PostgreSQL 16 container and returns the matching
// database configuration.
func startDatabase(t *testing.T) config.DatabaseConfig {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "defectwise_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "test",
		Password: "test",
		DBName:   "defectwise_test",
		SSLMode:  "disable",
		MaxConns: 5,
	}
}

func TestNewConnection_RoundTrip(t *testing.T) {
	cfg := startDatabase(t)
	ctx := context.Background()

	conn, err := NewConnection(ctx, cfg, logging.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, conn.Pool())

	assert.NoError(t, conn.HealthCheck(ctx))

	conn.Close()
	conn.Close() // second close is a no-op
}

func TestNewConnection_Unreachable(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "127.0.0.1",
		Port:     1,
		User:     "test",
		Password: "test",
		DBName:   "nope",
	}

	_, err := NewConnection(context.Background(), cfg, logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStoreConnectionFailed))
}

func TestMigrate_Lifecycle(t *testing.T) {
	cfg := startDatabase(t)
	ctx := context.Background()
	log := logging.NewNopLogger()

	require.NoError(t, Migrate(cfg, log))

	version, dirty, err := MigrationStatus(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Re-running against an up-to-date schema is not an error.
	require.NoError(t, Migrate(cfg, log))

	conn, err := NewConnection(ctx, cfg, log)
	require.NoError(t, err)
	defer conn.Close()

	for _, table := range []string{"analyses", "defects"} {
		var exists bool
		err := conn.Pool().QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
			table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s missing after migration", table)
	}

	require.NoError(t, Rollback(cfg, 1))

	version, dirty, err = MigrationStatus(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	err = Rollback(cfg, 1)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStoreMigrationFailed))

	require.NoError(t, ForceVersion(cfg, 1))

	version, dirty, err = MigrationStatus(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

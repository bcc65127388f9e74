//go:build integration

// Package integration exercises the analysis pipeline against a real
// PostgreSQL instance. The tests require Docker and are gated behind the
// "integration" build tag.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	appAnalysis "github.com/defectwise/defectwise/internal/application/analysis"
	appReporting "github.com/defectwise/defectwise/internal/application/reporting"
	"github.com/defectwise/defectwise/internal/config"
	"github.com/defectwise/defectwise/internal/infrastructure/database/postgres"
	"github.com/defectwise/defectwise/internal/infrastructure/database/postgres/repositories"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/internal/intelligence/detector"
	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
)

// startDatabase launches a PostgreSQL 16 container, runs migrations and
// returns the matching database configuration.
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

	cfg := config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "test",
		Password: "test",
		DBName:   "defectwise_test",
		SSLMode:  "disable",
		MaxConns: 5,
	}
	require.NoError(t, postgres.Migrate(cfg, logging.NewNopLogger()))
	return cfg
}

// pipeline bundles the services under test.
type pipeline struct {
	analysis  appAnalysis.Service
	reporting appReporting.Service
}

// newPipeline wires analysis and reporting services over a fresh database.
// Cache, archive, messaging and search stay nil so the tests cover the
// repository-backed paths.
func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()
	logger := logging.NewNopLogger()

	cfg := startDatabase(t)
	conn, err := postgres.NewConnection(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	repo := repositories.NewAnalysisRepository(conn.Pool(), logger)

	engine, err := detector.New(taxonomy.Default(), detector.WithLogger(logger))
	require.NoError(t, err)

	analysisSvc, err := appAnalysis.NewService(appAnalysis.Deps{
		Repo:   repo,
		Engine: engine,
		Logger: logger,
	})
	require.NoError(t, err)

	reportingSvc, err := appReporting.NewService(appReporting.Deps{
		Repo:   repo,
		Logger: logger,
	})
	require.NoError(t, err)

	return &pipeline{analysis: analysisSvc, reporting: reportingSvc}
}

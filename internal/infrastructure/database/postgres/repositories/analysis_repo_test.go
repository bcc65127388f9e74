//go:build integration

// Integration tests for the analysis repository. They require Docker and
// are gated behind the "integration" build tag.
package repositories_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/defectwise/defectwise/internal/domain/analysis"
	"github.com/defectwise/defectwise/internal/infrastructure/database/postgres/repositories"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/internal/intelligence/detector"
	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
	"github.com/defectwise/defectwise/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test helpers
// ─────────────────────────────────────────────────────────────────────────────

// startPostgres launches a PostgreSQL 16 container and returns a connected
// pool with the analysis schema applied.
func startPostgres(t *testing.T) *pgxpool.Pool {
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

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/defectwise_test?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applyAnalysisSchema(t, pool)
	return pool
}

func applyAnalysisSchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	ddl := `
	CREATE TABLE IF NOT EXISTS analyses (
		id             UUID PRIMARY KEY,
		filename       TEXT NOT NULL,
		content_hash   CHAR(64) NOT NULL,
		status         TEXT NOT NULL,
		summary        JSONB NOT NULL DEFAULT '{}'::jsonb,
		total_defects  INTEGER NOT NULL DEFAULT 0,
		result_at      TIMESTAMPTZ,
		source_key     TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL,
		completed_at   TIMESTAMPTZ
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_analyses_content_hash ON analyses (content_hash);

	CREATE TABLE IF NOT EXISTS defects (
		id          BIGSERIAL PRIMARY KEY,
		analysis_id UUID NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
		position    INTEGER NOT NULL,
		type        TEXT NOT NULL,
		keyword     TEXT NOT NULL,
		sentence    TEXT NOT NULL,
		severity    TEXT NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL,
		area        TEXT NOT NULL
	);
	`
	_, err := pool.Exec(ctx, ddl)
	require.NoError(t, err)
}

func sampleDefects() []detector.DefectMatch {
	return []detector.DefectMatch{
		{
			Type:       taxonomy.CategoryStructural,
			Keyword:    "crack",
			Sentence:   "A severe crack runs across the basement wall.",
			Severity:   taxonomy.SeverityHigh,
			Confidence: 0.92,
			Area:       "Basement",
		},
		{
			Type:       taxonomy.CategoryMoistureDamp,
			Keyword:    "damp",
			Sentence:   "Rising damp was noted in the kitchen.",
			Severity:   taxonomy.SeverityMedium,
			Confidence: 0.61,
			Area:       "Kitchen",
		},
	}
}

func buildResult(filename string, defects []detector.DefectMatch) *detector.AnalysisResult {
	summary := map[string]int{}
	for _, d := range defects {
		summary[d.Type.String()]++
	}
	return &detector.AnalysisResult{
		Filename:     filename,
		Defects:      defects,
		Summary:      summary,
		TotalDefects: len(defects),
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

// newCompletedAnalysis builds an aggregate that already ran to completion.
func newCompletedAnalysis(t *testing.T, filename, text string, defects []detector.DefectMatch) *analysis.Analysis {
	t.Helper()
	a, err := analysis.NewFromText(filename, text)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	require.NoError(t, a.Complete(buildResult(filename, defects)))
	a.Events() // drain, persistence does not care about events
	return a
}

// ─────────────────────────────────────────────────────────────────────────────
// Contract tests
// ─────────────────────────────────────────────────────────────────────────────

func TestAnalysisRepository_SaveAndFindByID(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewAnalysisRepository(pool, logging.NewNopLogger())
	ctx := context.Background()

	a := newCompletedAnalysis(t, "survey.txt", "A severe crack runs across the basement wall.", sampleDefects())
	require.NoError(t, repo.Save(ctx, a))

	found, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)
	assert.Equal(t, "survey.txt", found.Filename)
	assert.Equal(t, a.ContentHash, found.ContentHash)
	assert.Equal(t, analysis.StatusCompleted, found.Status)
	require.NotNil(t, found.Result)
	require.Len(t, found.Result.Defects, 2)
	assert.Equal(t, "crack", found.Result.Defects[0].Keyword)
	assert.Equal(t, "damp", found.Result.Defects[1].Keyword)
	assert.Equal(t, taxonomy.SeverityHigh, found.Result.Defects[0].Severity)
	assert.Equal(t, map[string]int{"Structural": 1, "Moisture & Damp": 1}, found.Result.Summary)
	assert.Equal(t, 2, found.Result.TotalDefects)
	assert.NotNil(t, found.CompletedAt)
}

func TestAnalysisRepository_PendingRoundTrip(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewAnalysisRepository(pool, logging.NewNopLogger())
	ctx := context.Background()

	a, err := analysis.NewFromText("pending.txt", "Nothing analyzed yet.")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, a))

	found, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusPending, found.Status)
	assert.Nil(t, found.Result)
	assert.Nil(t, found.CompletedAt)
}

func TestAnalysisRepository_FindByContentHash(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewAnalysisRepository(pool, logging.NewNopLogger())
	ctx := context.Background()

	a := newCompletedAnalysis(t, "report.txt", "Rising damp was noted in the kitchen.", sampleDefects())
	require.NoError(t, repo.Save(ctx, a))

	found, err := repo.FindByContentHash(ctx, a.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)
	require.NotNil(t, found.Result)
	assert.Len(t, found.Result.Defects, 2)

	_, err = repo.FindByContentHash(ctx, "0000000000000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeAnalysisNotFound))
}

func TestAnalysisRepository_SaveReplacesDefects(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewAnalysisRepository(pool, logging.NewNopLogger())
	ctx := context.Background()

	a := newCompletedAnalysis(t, "survey.txt", "First pass content.", sampleDefects())
	require.NoError(t, repo.Save(ctx, a))

	// Reanalysis replaces the previous defect rows wholesale.
	require.NoError(t, a.Start())
	require.NoError(t, a.Complete(buildResult("survey.txt", sampleDefects()[:1])))
	a.Events()
	require.NoError(t, repo.Save(ctx, a))

	found, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Result)
	assert.Len(t, found.Result.Defects, 1)
	assert.Equal(t, 1, found.Result.TotalDefects)

	var rows int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM defects WHERE analysis_id = $1`, a.ID).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestAnalysisRepository_ContentHashConflict(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewAnalysisRepository(pool, logging.NewNopLogger())
	ctx := context.Background()

	first, err := analysis.NewFromText("a.txt", "Identical survey content.")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, first))

	second, err := analysis.NewFromText("b.txt", "Identical survey content.")
	require.NoError(t, err)
	err = repo.Save(ctx, second)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeConflict))
}

func TestAnalysisRepository_FindByIDMissing(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewAnalysisRepository(pool, logging.NewNopLogger())

	_, err := repo.FindByID(context.Background(), common.NewID())
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeAnalysisNotFound))
}

func TestAnalysisRepository_List(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewAnalysisRepository(pool, logging.NewNopLogger())
	ctx := context.Background()

	oldest := newCompletedAnalysis(t, "one.txt", "Survey number one.", sampleDefects())
	middle := newCompletedAnalysis(t, "two.txt", "Survey number two.", sampleDefects()[:1])
	newest, err := analysis.NewFromText("three.txt", "Survey number three.")
	require.NoError(t, err)
	require.NoError(t, newest.Start())
	require.NoError(t, newest.Fail("extraction failed"))
	newest.Events()

	// Stagger created_at so the newest-first ordering is deterministic.
	base := time.Now().UTC().Truncate(time.Microsecond)
	oldest.CreatedAt = base.Add(-2 * time.Hour)
	middle.CreatedAt = base.Add(-1 * time.Hour)
	newest.CreatedAt = base

	for _, a := range []*analysis.Analysis{oldest, middle, newest} {
		require.NoError(t, repo.Save(ctx, a))
	}

	page, total, err := repo.List(ctx, analysis.ListFilter{}, common.Pagination{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, "three.txt", page[0].Filename)
	assert.Equal(t, "two.txt", page[1].Filename)
	require.NotNil(t, page[1].Result)
	assert.Len(t, page[1].Result.Defects, 1)

	page, total, err = repo.List(ctx, analysis.ListFilter{}, common.Pagination{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 1)
	assert.Equal(t, "one.txt", page[0].Filename)

	page, total, err = repo.List(ctx, analysis.ListFilter{Status: analysis.StatusFailed}, common.Pagination{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, page, 1)
	assert.Equal(t, "three.txt", page[0].Filename)
	assert.Equal(t, "extraction failed", page[0].FailureReason)
}

func TestAnalysisRepository_CountByStatus(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewAnalysisRepository(pool, logging.NewNopLogger())
	ctx := context.Background()

	completed := newCompletedAnalysis(t, "done.txt", "Completed survey.", sampleDefects())
	pending, err := analysis.NewFromText("queued.txt", "Queued survey.")
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, completed))
	require.NoError(t, repo.Save(ctx, pending))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[analysis.Status]int64{
		analysis.StatusCompleted: 1,
		analysis.StatusPending:   1,
	}, counts)
}

func TestAnalysisRepository_Delete(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewAnalysisRepository(pool, logging.NewNopLogger())
	ctx := context.Background()

	a := newCompletedAnalysis(t, "gone.txt", "Survey to delete.", sampleDefects())
	require.NoError(t, repo.Save(ctx, a))

	require.NoError(t, repo.Delete(ctx, a.ID))

	_, err := repo.FindByID(ctx, a.ID)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeAnalysisNotFound))

	err = repo.Delete(ctx, a.ID)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeAnalysisNotFound))

	var rows int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM defects WHERE analysis_id = $1`, a.ID).Scan(&rows))
	assert.Equal(t, 0, rows, "defect rows must cascade on delete")
}

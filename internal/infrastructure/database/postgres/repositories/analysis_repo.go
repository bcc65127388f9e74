package repositories

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/defectwise/defectwise/internal/domain/analysis"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/internal/intelligence/detector"
	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
	"github.com/defectwise/defectwise/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// AnalysisRepository
// ─────────────────────────────────────────────────────────────────────────────

// AnalysisRepository is the PostgreSQL implementation of the analysis
// domain repository. The aggregate spans two tables: analyses carries the
// lifecycle row with the summary as jsonb, defects carries one row per
// detected defect. Save rewrites both inside a single transaction.
type AnalysisRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

var _ analysis.Repository = (*AnalysisRepository)(nil)

// NewAnalysisRepository constructs a ready-to-use AnalysisRepository.
func NewAnalysisRepository(pool *pgxpool.Pool, logger logging.Logger) *AnalysisRepository {
	return &AnalysisRepository{pool: pool, logger: logger}
}

const analysisColumns = `id, filename, content_hash, status, summary, total_defects,
       result_at, source_key, failure_reason, created_at, updated_at, completed_at`

// ─────────────────────────────────────────────────────────────────────────────
// Save
// ─────────────────────────────────────────────────────────────────────────────

// Save upserts the aggregate. Defect rows are replaced wholesale so a
// reanalysis cannot leave stale defects behind.
func (r *AnalysisRepository) Save(ctx context.Context, a *analysis.Analysis) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeStoreTxFailed, "analysis repo: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	summaryJSON := []byte("{}")
	var resultAt *time.Time
	if a.Result != nil {
		if summaryJSON, err = json.Marshal(a.Result.Summary); err != nil {
			return appErrors.Wrap(err, appErrors.ErrCodeSerialization, "analysis repo: encode summary")
		}
		ts := a.Result.Timestamp
		resultAt = &ts
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO analyses (
			id, filename, content_hash, status, summary, total_defects,
			result_at, source_key, failure_reason, created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			filename       = EXCLUDED.filename,
			content_hash   = EXCLUDED.content_hash,
			status         = EXCLUDED.status,
			summary        = EXCLUDED.summary,
			total_defects  = EXCLUDED.total_defects,
			result_at      = EXCLUDED.result_at,
			source_key     = EXCLUDED.source_key,
			failure_reason = EXCLUDED.failure_reason,
			updated_at     = EXCLUDED.updated_at,
			completed_at   = EXCLUDED.completed_at`,
		a.ID, a.Filename, a.ContentHash, a.Status, summaryJSON, a.DefectCount(),
		resultAt, a.SourceKey, a.FailureReason, a.CreatedAt, a.UpdatedAt, a.CompletedAt,
	)
	if err != nil {
		if uniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrCodeConflict,
				"analysis repo: another analysis already stores this content hash")
		}
		return appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: upsert analysis")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM defects WHERE analysis_id = $1`, a.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: clear defects")
	}
	if a.Result != nil {
		for i, d := range a.Result.Defects {
			_, err := tx.Exec(ctx, `
				INSERT INTO defects (analysis_id, position, type, keyword, sentence, severity, confidence, area)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				a.ID, i, d.Type, d.Keyword, d.Sentence, d.Severity, d.Confidence, d.Area,
			)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: insert defect")
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeStoreTxFailed, "analysis repo: commit")
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lookups
// ─────────────────────────────────────────────────────────────────────────────

// FindByID loads the full aggregate, including its defect rows.
func (r *AnalysisRepository) FindByID(ctx context.Context, id common.ID) (*analysis.Analysis, error) {
	a, err := r.scanAnalysis(r.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadDefects(ctx, r.pool, a); err != nil {
		return nil, err
	}
	return a, nil
}

// FindByContentHash loads the aggregate storing the given document hash.
func (r *AnalysisRepository) FindByContentHash(ctx context.Context, hash string) (*analysis.Analysis, error) {
	a, err := r.scanAnalysis(r.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE content_hash = $1`, hash))
	if err != nil {
		return nil, err
	}
	if err := r.loadDefects(ctx, r.pool, a); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns a page of analyses, newest first, with their defect rows
// loaded in one batch.
func (r *AnalysisRepository) List(ctx context.Context, filter analysis.ListFilter, page common.Pagination) ([]*analysis.Analysis, int64, error) {
	where := ``
	args := []any{}
	if filter.Status != "" {
		where = ` WHERE status = $1`
		args = append(args, filter.Status)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM analyses`+where, args...).Scan(&total); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: count analyses")
	}

	limitPos := len(args) + 1
	query := fmt.Sprintf(`SELECT `+analysisColumns+` FROM analyses`+where+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, limitPos, limitPos+1)
	args = append(args, page.PageSize, page.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: list analyses")
	}
	defer rows.Close()

	var result []*analysis.Analysis
	for rows.Next() {
		a, err := r.scanAnalysis(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: iterate analyses")
	}

	if err := r.loadDefectsBatch(ctx, result); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// CountByStatus returns row counts per lifecycle state.
func (r *AnalysisRepository) CountByStatus(ctx context.Context) (map[analysis.Status]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM analyses GROUP BY status`)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: count by status")
	}
	defer rows.Close()

	counts := make(map[analysis.Status]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: scan status count")
		}
		counts[analysis.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: iterate status counts")
	}
	return counts, nil
}

// Delete removes the aggregate; defect rows follow through the cascade.
func (r *AnalysisRepository) Delete(ctx context.Context, id common.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: delete analysis")
	}
	if tag.RowsAffected() == 0 {
		return appErrors.Newf(appErrors.ErrCodeAnalysisNotFound, "analysis %s not found", id)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Row mapping
// ─────────────────────────────────────────────────────────────────────────────

func (r *AnalysisRepository) scanAnalysis(row pgx.Row) (*analysis.Analysis, error) {
	var (
		a           analysis.Analysis
		status      string
		summaryJSON []byte
		total       int
		resultAt    *time.Time
	)
	err := row.Scan(
		&a.ID, &a.Filename, &a.ContentHash, &status, &summaryJSON, &total,
		&resultAt, &a.SourceKey, &a.FailureReason, &a.CreatedAt, &a.UpdatedAt, &a.CompletedAt,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.New(appErrors.ErrCodeAnalysisNotFound, "analysis not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: scan analysis")
	}
	a.Status = analysis.Status(status)

	if resultAt != nil {
		summary := make(map[string]int)
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "analysis repo: decode summary")
		}
		a.Result = &detector.AnalysisResult{
			Filename:     a.Filename,
			Defects:      []detector.DefectMatch{},
			Summary:      summary,
			TotalDefects: total,
			Timestamp:    *resultAt,
		}
	}
	return &a, nil
}

// loadDefects fills a.Result.Defects for a single aggregate.
func (r *AnalysisRepository) loadDefects(ctx context.Context, q querier, a *analysis.Analysis) error {
	if a.Result == nil {
		return nil
	}
	rows, err := q.Query(ctx, `
		SELECT type, keyword, sentence, severity, confidence, area
		FROM defects WHERE analysis_id = $1 ORDER BY position`, a.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: load defects")
	}
	defer rows.Close()

	defects, err := scanDefects(rows)
	if err != nil {
		return err
	}
	a.Result.Defects = defects
	return nil
}

// loadDefectsBatch fills defect rows for a page of aggregates with one
// query instead of one per row.
func (r *AnalysisRepository) loadDefectsBatch(ctx context.Context, list []*analysis.Analysis) error {
	byID := make(map[common.ID]*analysis.Analysis, len(list))
	ids := make([]string, 0, len(list))
	for _, a := range list {
		if a.Result == nil {
			continue
		}
		byID[a.ID] = a
		ids = append(ids, string(a.ID))
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT analysis_id, type, keyword, sentence, severity, confidence, area
		FROM defects WHERE analysis_id = ANY($1::uuid[]) ORDER BY analysis_id, position`, ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: batch load defects")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id common.ID
			d  detector.DefectMatch
		)
		var category, severity string
		if err := rows.Scan(&id, &category, &d.Keyword, &d.Sentence, &severity, &d.Confidence, &d.Area); err != nil {
			return appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: scan defect")
		}
		d.Type = taxonomy.Category(category)
		d.Severity = taxonomy.Severity(severity)
		if a, ok := byID[id]; ok {
			a.Result.Defects = append(a.Result.Defects, d)
		}
	}
	if err := rows.Err(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: iterate defects")
	}
	return nil
}

func scanDefects(rows pgx.Rows) ([]detector.DefectMatch, error) {
	defects := []detector.DefectMatch{}
	for rows.Next() {
		var (
			d                  detector.DefectMatch
			category, severity string
		)
		if err := rows.Scan(&category, &d.Keyword, &d.Sentence, &severity, &d.Confidence, &d.Area); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: scan defect")
		}
		d.Type = taxonomy.Category(category)
		d.Severity = taxonomy.Severity(severity)
		defects = append(defects, d)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeStoreQueryFailed, "analysis repo: iterate defects")
	}
	return defects, nil
}

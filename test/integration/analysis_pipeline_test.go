//go:build integration

package integration

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appAnalysis "github.com/defectwise/defectwise/internal/application/analysis"
	domain "github.com/defectwise/defectwise/internal/domain/analysis"
	"github.com/defectwise/defectwise/pkg/errors"
)

const surveyText = `The basement wall shows severe damp and visible mold growth near the corner.
The roof structure has a large crack close to the chimney stack.
Exposed wiring was found in the kitchen, and the fuse box cover is missing.
The remaining rooms are in good decorative order.`

func TestPipeline_AnalyzeAndFetch(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	out, err := p.analysis.AnalyzeText(ctx, appAnalysis.AnalyzeTextInput{
		Filename: "survey.txt",
		Text:     surveyText,
	})
	require.NoError(t, err)
	require.False(t, out.Duplicate)
	require.Equal(t, domain.StatusCompleted, out.Analysis.Status)
	require.NotNil(t, out.Analysis.Result)
	assert.Greater(t, out.Analysis.Result.TotalDefects, 0)
	assert.Contains(t, out.Analysis.Result.Summary, "Moisture & Damp")

	got, err := p.analysis.Get(ctx, string(out.Analysis.ID))
	require.NoError(t, err)
	assert.Equal(t, out.Analysis.ContentHash, got.ContentHash)
	assert.Equal(t, out.Analysis.Result.TotalDefects, got.Result.TotalDefects)
}

func TestPipeline_DuplicateSubmissionReturnsPriorAnalysis(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	first, err := p.analysis.AnalyzeText(ctx, appAnalysis.AnalyzeTextInput{Filename: "a.txt", Text: surveyText})
	require.NoError(t, err)

	second, err := p.analysis.AnalyzeText(ctx, appAnalysis.AnalyzeTextInput{Filename: "b.txt", Text: surveyText})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Analysis.ID, second.Analysis.ID)
}

func TestPipeline_ListFiltersByStatus(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.analysis.AnalyzeText(ctx, appAnalysis.AnalyzeTextInput{Filename: "a.txt", Text: surveyText})
	require.NoError(t, err)
	_, err = p.analysis.AnalyzeText(ctx, appAnalysis.AnalyzeTextInput{Filename: "b.txt", Text: "The garden fence leans but the house is sound."})
	require.NoError(t, err)

	page, err := p.analysis.List(ctx, appAnalysis.ListInput{Status: string(domain.StatusCompleted), Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	empty, err := p.analysis.List(ctx, appAnalysis.ListInput{Status: string(domain.StatusFailed), Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
}

func TestPipeline_ReanalyzeKeepsIdentity(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	out, err := p.analysis.AnalyzeText(ctx, appAnalysis.AnalyzeTextInput{Filename: "survey.txt", Text: surveyText})
	require.NoError(t, err)

	again, err := p.analysis.Reanalyze(ctx, string(out.Analysis.ID))
	require.NoError(t, err)
	assert.Equal(t, out.Analysis.ID, again.ID)
	assert.Equal(t, domain.StatusCompleted, again.Status)
	assert.Equal(t, out.Analysis.Result.TotalDefects, again.Result.TotalDefects)
}

func TestPipeline_DeleteRemovesRecord(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	out, err := p.analysis.AnalyzeText(ctx, appAnalysis.AnalyzeTextInput{Filename: "survey.txt", Text: surveyText})
	require.NoError(t, err)

	require.NoError(t, p.analysis.Delete(ctx, string(out.Analysis.ID)))

	_, err = p.analysis.Get(ctx, string(out.Analysis.ID))
	assert.True(t, errors.IsCode(err, errors.ErrCodeAnalysisNotFound))
}

func TestPipeline_DashboardAndExport(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	out, err := p.analysis.AnalyzeText(ctx, appAnalysis.AnalyzeTextInput{Filename: "survey.txt", Text: surveyText})
	require.NoError(t, err)

	dash, err := p.reporting.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dash.TotalAnalyses)
	assert.Greater(t, dash.TotalDefects, int64(0))
	assert.NotEmpty(t, dash.ByCategory)
	require.Len(t, dash.Recent, 1)
	assert.Equal(t, "survey.txt", dash.Recent[0].Filename)

	var buf bytes.Buffer
	require.NoError(t, p.reporting.ExportCSV(ctx, string(out.Analysis.ID), &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Greater(t, len(lines), 1)
	assert.Contains(t, lines[0], "category")
}

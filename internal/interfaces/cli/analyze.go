package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/defectwise/defectwise/internal/intelligence/detector"
	"github.com/defectwise/defectwise/internal/intelligence/extract"
	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
	"github.com/defectwise/defectwise/pkg/errors"
)

// newAnalyzeCommand builds `defectwise analyze <file>...`.
func newAnalyzeCommand() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "analyze <file>...",
		Short: "Analyze survey reports for building defects",
		Long:  "Extracts the text of one or more survey reports (txt, md, pdf, docx,\nhtml), runs the defect detection engine and prints the findings. By\ndefault the engine runs locally; --remote submits the text to the API\nserver instead.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cliCtx.Timeout)
			defer cancel()

			if remote {
				if len(args) > 1 {
					return errors.New(errors.CodeInvalidParam, "analyze: remote mode takes one file at a time")
				}
				filename, text, err := extractFile(args[0])
				if err != nil {
					return err
				}
				return analyzeRemote(cmd, cliCtx, ctx, filename, text)
			}

			engine, err := buildEngine(cliCtx)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				filename, text, err := extractFile(args[0])
				if err != nil {
					return err
				}
				result := engine.Analyze(ctx, filename, text)
				return printResult(cmd, &analysisReport{result: result})
			}
			return analyzeBatch(cmd, ctx, engine, args)
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "submit to the API server instead of analyzing locally")
	return cmd
}

// analyzeBatch runs several reports through the engine concurrently,
// keeping results in argument order.
func analyzeBatch(cmd *cobra.Command, ctx context.Context, engine *detector.Engine, paths []string) error {
	results := make([]*detector.AnalysisResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			filename, text, err := extractFile(path)
			if err != nil {
				return err
			}
			results[i] = engine.Analyze(gctx, filename, text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return printResult(cmd, &batchReport{results: results})
}

func analyzeRemote(cmd *cobra.Command, cliCtx *CLIContext, ctx context.Context, filename, text string) error {
	api, err := cliCtx.NewClient()
	if err != nil {
		return err
	}
	out, err := api.AnalyzeText(ctx, filename, text)
	if err != nil {
		return err
	}
	if out.Duplicate {
		fmt.Fprintln(cmd.ErrOrStderr(), "note: identical content was analyzed before; returning the existing analysis")
	}
	return printResult(cmd, out)
}

// extractFile reads a report from disk and extracts its plain text.
func extractFile(path string) (filename, text string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", errors.Wrapf(err, errors.CodeInvalidParam, "read %s", path)
	}
	filename = filepath.Base(path)
	text, err = extract.Extract(filename, data)
	if err != nil {
		return "", "", err
	}
	return filename, text, nil
}

// buildEngine constructs a local detection engine from the CLI config.
// The CLI stays rule-only; classifier blending is a server concern.
func buildEngine(cliCtx *CLIContext) (*detector.Engine, error) {
	tax := taxonomy.Default()
	if path := cliCtx.Config.Engine.TaxonomyPath; path != "" {
		var err error
		tax, err = taxonomy.LoadFile(path)
		if err != nil {
			return nil, err
		}
	}

	opts := []detector.Option{detector.WithLogger(cliCtx.Logger)}
	if mode, ok := detector.ParseMatchMode(cliCtx.Config.Engine.Matching); ok {
		opts = append(opts, detector.WithMatchMode(mode))
	}
	if n := cliCtx.Config.Engine.MaxSentences; n > 0 {
		opts = append(opts, detector.WithMaxSentences(n))
	}
	return detector.New(tax, opts...)
}

// analysisReport adapts an engine result to the CLI output formats.
type analysisReport struct {
	result *detector.AnalysisResult
}

func (r *analysisReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.result)
}

func (r *analysisReport) String() string {
	res := r.result
	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\n", res.Filename)
	fmt.Fprintf(&sb, "Defects found: %d\n", res.TotalDefects)

	if res.TotalDefects > 0 {
		sb.WriteString("\nBy category:\n")
		categories := make([]string, 0, len(res.Summary))
		for c := range res.Summary {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		shares := res.CategoryPercentages()
		for _, c := range categories {
			fmt.Fprintf(&sb, "  %-20s %3d (%.1f%%)\n", c, res.Summary[c], shares[c])
		}

		sb.WriteString("\nFindings:\n")
		for _, d := range res.Defects {
			fmt.Fprintf(&sb, "  [%s] %s (%s, %.2f, %s)\n      %s\n",
				d.Severity, d.Type, d.Keyword, d.Confidence, d.Area, d.Sentence)
		}
	}
	return sb.String()
}

func (r *analysisReport) TableHeaders() []string {
	return []string{"CATEGORY", "SEVERITY", "CONFIDENCE", "AREA", "KEYWORD", "SENTENCE"}
}

func (r *analysisReport) TableRows() [][]string {
	rows := make([][]string, 0, len(r.result.Defects))
	for _, d := range r.result.Defects {
		rows = append(rows, []string{
			string(d.Type),
			string(d.Severity),
			strconv.FormatFloat(d.Confidence, 'f', 2, 64),
			d.Area,
			d.Keyword,
			truncate(d.Sentence, 60),
		})
	}
	return rows
}

// batchReport adapts a multi-file run to the CLI output formats.
type batchReport struct {
	results []*detector.AnalysisResult
}

func (r *batchReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.results)
}

func (r *batchReport) String() string {
	parts := make([]string, 0, len(r.results))
	for _, res := range r.results {
		parts = append(parts, (&analysisReport{result: res}).String())
	}
	return strings.Join(parts, "\n")
}

func (r *batchReport) TableHeaders() []string {
	return []string{"FILE", "DEFECTS", "HIGH", "MEDIUM", "LOW"}
}

func (r *batchReport) TableRows() [][]string {
	rows := make([][]string, 0, len(r.results))
	for _, res := range r.results {
		bySeverity := res.CountBySeverity()
		rows = append(rows, []string{
			res.Filename,
			strconv.Itoa(res.TotalDefects),
			strconv.Itoa(bySeverity[string(taxonomy.SeverityHigh)]),
			strconv.Itoa(bySeverity[string(taxonomy.SeverityMedium)]),
			strconv.Itoa(bySeverity[string(taxonomy.SeverityLow)]),
		})
	}
	return rows
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

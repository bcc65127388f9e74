package cli

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/defectwise/defectwise/pkg/errors"
)

// newExportCommand builds `defectwise export <file> --out report.csv`.
func newExportCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Analyze a survey report and write the findings as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			filename, text, err := extractFile(args[0])
			if err != nil {
				return err
			}

			engine, err := buildEngine(cliCtx)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cliCtx.Timeout)
			defer cancel()
			result := engine.Analyze(ctx, filename, text)

			out, err := os.Create(outPath)
			if err != nil {
				return errors.Wrapf(err, errors.CodeInvalidParam, "create %s", outPath)
			}
			defer func() { _ = out.Close() }()

			w := csv.NewWriter(out)
			if err := w.Write([]string{"category", "severity", "confidence", "area", "keyword", "sentence"}); err != nil {
				return errors.Wrap(err, errors.CodeInternal, "write csv header")
			}
			for _, d := range result.Defects {
				row := []string{
					string(d.Type),
					string(d.Severity),
					strconv.FormatFloat(d.Confidence, 'f', 2, 64),
					d.Area,
					d.Keyword,
					d.Sentence,
				}
				if err := w.Write(row); err != nil {
					return errors.Wrap(err, errors.CodeInternal, "write csv row")
				}
			}
			w.Flush()
			if err := w.Error(); err != nil {
				return errors.Wrap(err, errors.CodeInternal, "flush csv")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d defects to %s\n", result.TotalDefects, outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "report.csv", "output CSV path")
	return cmd
}

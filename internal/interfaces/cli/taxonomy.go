package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
)

// newTaxonomyCommand builds `defectwise taxonomy` with its show and
// validate subcommands.
func newTaxonomyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Inspect and validate the defect classification taxonomy",
	}
	cmd.AddCommand(newTaxonomyShowCommand(), newTaxonomyValidateCommand())
	return cmd
}

func newTaxonomyShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active taxonomy: categories and their rule counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			tax, source, err := resolveTaxonomy(cliCtx)
			if err != nil {
				return err
			}
			return printResult(cmd, &taxonomyView{tax: tax, source: source})
		},
	}
}

func newTaxonomyValidateCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a taxonomy file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := file
			if path == "" {
				cliCtx, err := GetCLIContext(cmd)
				if err != nil {
					return err
				}
				path = cliCtx.Config.Engine.TaxonomyPath
			}
			if path == "" {
				tax := taxonomy.Default()
				fmt.Fprintf(cmd.OutOrStdout(), "built-in taxonomy is valid (%d rules)\n", tax.Len())
				return nil
			}

			tax, err := taxonomy.LoadFile(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (%d rules)\n", path, tax.Len())
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "taxonomy YAML file (default: configured engine.taxonomy_path)")
	return cmd
}

// resolveTaxonomy loads the configured taxonomy file when set, otherwise
// the built-in rule set.
func resolveTaxonomy(cliCtx *CLIContext) (*taxonomy.Taxonomy, string, error) {
	if path := cliCtx.Config.Engine.TaxonomyPath; path != "" {
		tax, err := taxonomy.LoadFile(path)
		return tax, path, err
	}
	return taxonomy.Default(), "built-in", nil
}

// taxonomyView adapts a taxonomy to the CLI output formats.
type taxonomyView struct {
	tax    *taxonomy.Taxonomy
	source string
}

func (v *taxonomyView) MarshalJSON() ([]byte, error) {
	counts := v.tax.CountByCategory()
	byCategory := make(map[string]int, len(counts))
	for c, n := range counts {
		byCategory[string(c)] = n
	}
	return json.Marshal(map[string]any{
		"source":     v.source,
		"rule_count": v.tax.Len(),
		"categories": byCategory,
	})
}

func (v *taxonomyView) String() string {
	counts := v.tax.CountByCategory()
	out := fmt.Sprintf("Taxonomy: %s (%d rules)\n", v.source, v.tax.Len())
	for _, c := range taxonomy.Categories() {
		out += fmt.Sprintf("  %-20s %d rules\n", c, counts[c])
	}
	return out
}

func (v *taxonomyView) TableHeaders() []string {
	return []string{"CATEGORY", "RULES"}
}

func (v *taxonomyView) TableRows() [][]string {
	counts := v.tax.CountByCategory()
	rows := make([][]string, 0, len(taxonomy.Categories()))
	for _, c := range taxonomy.Categories() {
		rows = append(rows, []string{string(c), strconv.Itoa(counts[c])})
	}
	return rows
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/defectwise/defectwise/pkg/client"
)

// newStatsCommand builds `defectwise stats`, the remote dashboard view.
func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the server's analysis dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			api, err := cliCtx.NewClient()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cliCtx.Timeout)
			defer cancel()

			dash, err := api.Dashboard(ctx)
			if err != nil {
				return err
			}
			return printResult(cmd, &dashboardView{dash: dash})
		},
	}
}

// dashboardView adapts the dashboard to the CLI output formats.
type dashboardView struct {
	dash *client.Dashboard
}

func (v *dashboardView) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.dash)
}

func (v *dashboardView) String() string {
	d := v.dash
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyses: %d  Defects: %d  Priority: %s\n", d.TotalAnalyses, d.TotalDefects, d.Priority)

	if len(d.ByStatus) > 0 {
		sb.WriteString("\nBy status:\n")
		for _, k := range sortedKeys(d.ByStatus) {
			fmt.Fprintf(&sb, "  %-12s %d\n", k, d.ByStatus[k])
		}
	}
	if len(d.ByCategory) > 0 {
		sb.WriteString("\nBy category:\n")
		for _, k := range sortedKeys(d.ByCategory) {
			fmt.Fprintf(&sb, "  %-20s %3d (%.1f%%)\n", k, d.ByCategory[k], d.CategoryShares[k])
		}
	}
	if len(d.BySeverity) > 0 {
		sb.WriteString("\nBy severity:\n")
		for _, k := range sortedKeys(d.BySeverity) {
			fmt.Fprintf(&sb, "  %-12s %d\n", k, d.BySeverity[k])
		}
	}
	if len(d.Recent) > 0 {
		sb.WriteString("\nRecent:\n")
		for _, r := range d.Recent {
			fmt.Fprintf(&sb, "  %s  %-30s %-10s %d defects\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Filename, r.Status, r.Defects)
		}
	}
	return sb.String()
}

func (v *dashboardView) TableHeaders() []string {
	return []string{"ID", "FILE", "STATUS", "DEFECTS", "CREATED"}
}

func (v *dashboardView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.dash.Recent))
	for _, r := range v.dash.Recent {
		rows = append(rows, []string{
			r.ID,
			r.Filename,
			r.Status,
			strconv.Itoa(r.Defects),
			r.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	return rows
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package stats prints collection statistics or the export link.
package stats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanrelay/scanrelay/internal/app"
	stat "github.com/scanrelay/scanrelay/internal/stats"
)

// Command creates the stats command.
func Command(ctx *app.Context) *cobra.Command {
	var (
		days   int
		export bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show daily collection statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.NewApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Stats == nil {
				return fmt.Errorf("endpoint.url is not configured")
			}

			if days <= 0 {
				days = ctx.Settings.Stats.Days
			}

			if export {
				q := a.Stats.RangeForDays(days)
				link, err := a.Stats.ExportURL(q.Start, q.End)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), link)
				return nil
			}

			res, err := a.Stats.FetchStats(cmd.Context(), days)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResult(cmd, res)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Number of days to include (default from stats.days)")
	cmd.Flags().BoolVar(&export, "export", false, "Print the CSV export link instead")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

func printResult(cmd *cobra.Command, res stat.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "total %d, unique %d\n", res.Total, res.Unique)
	for _, p := range res.Series {
		day, err := time.Parse(stat.DateLayout, p.Date)
		label := p.Date
		if err == nil {
			label = day.Format("Mon 2006-01-02")
		}
		fmt.Fprintf(out, "%s  %d\n", label, p.Count)
	}
}

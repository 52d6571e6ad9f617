package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/spf13/cobra"
)

func newReportCmd(opts *rootOptions) *cobra.Command {
	var (
		period   string
		from     string
		to       string
		provider string
		modelID  string
		scope    string
		detailed bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate usage and cost reports",
		Long: `Generate aggregated usage reports by provider, model, scope, and time period.
--from and --to (RFC 3339) take precedence over --period.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			start, end, err := reportRange(period, from, to, a.tracker.Now())
			if err != nil {
				return err
			}

			filter := model.ReportFilter{
				Provider:  provider,
				Model:     modelID,
				ScopeID:   scope,
				StartTime: start,
				EndTime:   end,
			}

			summary, err := a.tracker.Report(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("generate report: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}

			printSummary(out, period, summary)

			if detailed {
				records, err := a.tracker.Query(cmd.Context(), filter)
				if err != nil {
					return fmt.Errorf("query records: %w", err)
				}
				printRecords(out, records)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&period, "period", "P", "daily", "Report period (hourly, daily, weekly, monthly, total)")
	cmd.Flags().StringVar(&from, "from", "", "Start time (RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "End time (RFC 3339)")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Filter by provider")
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Filter by model")
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Filter by scope id")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "Show individual records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

// reportRange resolves the reporting window from explicit bounds or a period.
func reportRange(period, from, to string, now time.Time) (time.Time, time.Time, error) {
	if from == "" && to == "" {
		p := model.BudgetPeriod(period)
		if !p.Valid() {
			return time.Time{}, time.Time{}, fmt.Errorf("unknown period %q", period)
		}
		start, end := model.PeriodWindow(p, now)
		return start, end, nil
	}

	var start, end time.Time
	var err error
	if from != "" {
		if start, err = time.Parse(time.RFC3339, from); err != nil {
			return start, end, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to != "" {
		if end, err = time.Parse(time.RFC3339, to); err != nil {
			return start, end, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return start, end, nil
}

func printSummary(out io.Writer, period string, summary *model.UsageSummary) {
	fmt.Fprintf(out, "=== LLM Cost Report (%s) ===\n", period)
	if !summary.From.IsZero() || !summary.To.IsZero() {
		fmt.Fprintf(out, "Period: %s to %s\n", formatDate(summary.From), formatDate(summary.To))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Total Cost:          $%.4f\n", summary.TotalCostUSD)
	fmt.Fprintf(out, "Total Input Units:   %d\n", summary.TotalInputUnits)
	fmt.Fprintf(out, "Total Output Units:  %d\n", summary.TotalOutputUnits)
	fmt.Fprintf(out, "Total Requests:      %d\n", summary.RecordCount)
	if summary.RecordCount > 0 {
		fmt.Fprintf(out, "Average Cost:        $%.6f\n", summary.AverageCostUSD)
	}

	printBreakdown(out, "By Provider", "PROVIDER", summary.ByProvider)
	printBreakdown(out, "By Model", "MODEL", summary.ByModel)
	printBreakdown(out, "By Scope", "SCOPE", summary.ByScope)
}

func printBreakdown(out io.Writer, title, column string, costs map[string]float64) {
	if len(costs) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", title)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  %s\tCOST\n", column)
	for _, name := range slices.Sorted(maps.Keys(costs)) {
		label := name
		if label == "" {
			label = "(none)"
		}
		fmt.Fprintf(w, "  %s\t$%.4f\n", label, costs[name])
	}
	w.Flush()
}

func printRecords(out io.Writer, records []model.UsageRecord) {
	if len(records) == 0 {
		return
	}
	fmt.Fprintf(out, "\nDetailed Records:\n")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  TIMESTAMP\tPROVIDER\tMODEL\tIN\tOUT\tCOST\tSCOPE\n")
	for _, r := range records {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%d\t$%.6f\t%s\n",
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Provider, r.Model,
			r.Usage.InputUnits, r.Usage.OutputUnits,
			r.TotalCost, r.ScopeID,
		)
	}
	w.Flush()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

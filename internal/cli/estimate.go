package cli

import (
	"fmt"
	"io"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/spf13/cobra"
)

func newEstimateCmd(opts *rootOptions) *cobra.Command {
	var (
		usage     usageFlags
		provider  string
		modelID   string
		prompt    string
		maxOutput int64
		check     bool
		scope     string
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the cost of an LLM call before making it",
		Long: `Estimate a call from unit counts, or from prompt text counted with the model's
tokenizer. With --check the estimate is also run against the configured budgets.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var estimate model.CostEstimate
			if prompt != "" {
				estimate, err = a.tracker.Calculator().EstimateText(modelID, provider, prompt, maxOutput)
				if err != nil {
					return err
				}
			} else {
				estimate = a.tracker.EstimateCost(modelID, usage.quantity(), provider)
			}

			out := cmd.OutOrStdout()
			printEstimate(out, estimate)

			if !check {
				return nil
			}
			if scope == "" {
				scope = a.cfg.Defaults.Scope
			}
			result, err := a.tracker.CheckBudget(cmd.Context(), scope, estimate.TotalCost)
			if err != nil {
				return fmt.Errorf("check budget: %w", err)
			}
			printEnforcement(out, result)
			return nil
		},
	}

	usage.register(cmd)
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "LLM provider (resolved from the catalog when empty)")
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model name")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt text to count input tokens from")
	cmd.Flags().Int64Var(&maxOutput, "max-output", 0, "Expected output tokens when estimating from --prompt")
	cmd.Flags().BoolVar(&check, "check", false, "Also check the estimate against budgets")
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Scope id for --check (default from config)")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func printEstimate(out io.Writer, e model.CostEstimate) {
	fmt.Fprintf(out, "Estimate for %s", e.Model)
	if e.Provider != "" {
		fmt.Fprintf(out, " (%s)", e.Provider)
	}
	fmt.Fprintln(out, ":")
	if !e.Priced {
		fmt.Fprintln(out, "  No price found for this model; cost is zero.")
	}
	fmt.Fprintf(out, "  Input:   %d units  $%.6f\n", e.Usage.InputUnits, e.Breakdown.Input)
	fmt.Fprintf(out, "  Output:  %d units  $%.6f\n", e.Usage.OutputUnits, e.Breakdown.Output)
	if e.Usage.Images > 0 {
		fmt.Fprintf(out, "  Images:  %d  $%.6f\n", e.Usage.Images, e.Breakdown.Image)
	}
	if e.Usage.AudioSeconds > 0 {
		fmt.Fprintf(out, "  Audio:   %.1fs  $%.6f\n", e.Usage.AudioSeconds, e.Breakdown.Audio)
	}
	fmt.Fprintf(out, "  Total:   $%.6f\n", e.TotalCost)
}

func printEnforcement(out io.Writer, r *model.EnforcementResult) {
	if r.Allowed {
		fmt.Fprintln(out, "Budget check: ALLOWED")
	} else {
		fmt.Fprintf(out, "Budget check: BLOCKED by %q\n", r.BlockedBy.Name)
	}
	for _, id := range r.Throttled {
		fmt.Fprintf(out, "  throttled by budget %s\n", id)
	}
	for _, alert := range r.Alerts {
		fmt.Fprintf(out, "  would alert [%s]: %s\n", alert.Severity, alert.Message)
	}
}

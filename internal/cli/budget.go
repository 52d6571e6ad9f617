package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/spf13/cobra"
)

func newBudgetCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage spending budgets",
	}
	cmd.AddCommand(
		newBudgetCreateCmd(opts),
		newBudgetListCmd(opts),
		newBudgetStatusCmd(opts),
		newBudgetUpdateCmd(opts),
		newBudgetDeleteCmd(opts),
	)
	return cmd
}

// budgetFlags are the budget fields settable from the command line.
type budgetFlags struct {
	name       string
	limit      float64
	period     string
	thresholds []float64
	action     string
	scope      string
	disabled   bool
}

func (f *budgetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "Budget name")
	cmd.Flags().Float64VarP(&f.limit, "limit", "l", 0, "Spending limit in USD")
	cmd.Flags().StringVarP(&f.period, "period", "P", "monthly", "Budget period (hourly, daily, weekly, monthly, total)")
	cmd.Flags().Float64SliceVarP(&f.thresholds, "thresholds", "t", []float64{50, 75, 90, 100}, "Alert thresholds as percentages of the limit")
	cmd.Flags().StringVarP(&f.action, "action", "a", "alert", "Action when the limit would be exceeded (alert, block, throttle)")
	cmd.Flags().StringVarP(&f.scope, "scope", "s", "", "Restrict the budget to one scope id")
	cmd.Flags().BoolVar(&f.disabled, "disabled", false, "Create or set the budget disabled")
}

func newBudgetCreateCmd(opts *rootOptions) *cobra.Command {
	var flags budgetFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a budget",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			b := model.Budget{
				Name:       flags.name,
				LimitUSD:   flags.limit,
				Period:     model.BudgetPeriod(flags.period),
				Thresholds: flags.thresholds,
				Action:     model.EnforcementAction(flags.action),
				Enabled:    !flags.disabled,
			}
			if flags.scope != "" {
				b.Scope = &model.BudgetScope{Type: model.ScopeAgent, ID: flags.scope}
			}

			created, err := a.tracker.Budgets().CreateBudget(cmd.Context(), b)
			if err != nil {
				return fmt.Errorf("create budget: %w", err)
			}
			printBudget(cmd.OutOrStdout(), "Budget created", created)
			return nil
		},
	}

	flags.register(cmd)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("limit")
	return cmd
}

func newBudgetUpdateCmd(opts *rootOptions) *cobra.Command {
	var (
		flags      budgetFlags
		clearScope bool
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update fields of a budget",
		Long:  `Update a budget. Only flags given on the command line are changed.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var patch model.BudgetPatch
			changed := cmd.Flags().Changed
			if changed("name") {
				patch.Name = &flags.name
			}
			if changed("limit") {
				patch.LimitUSD = &flags.limit
			}
			if changed("period") {
				period := model.BudgetPeriod(flags.period)
				patch.Period = &period
			}
			if changed("thresholds") {
				patch.Thresholds = flags.thresholds
			}
			if changed("action") {
				action := model.EnforcementAction(flags.action)
				patch.Action = &action
			}
			if changed("scope") {
				patch.Scope = &model.BudgetScope{Type: model.ScopeAgent, ID: flags.scope}
			}
			patch.ClearScope = clearScope
			if changed("disabled") {
				enabled := !flags.disabled
				patch.Enabled = &enabled
			}

			updated, err := a.tracker.Budgets().UpdateBudget(cmd.Context(), args[0], patch)
			if err != nil {
				return fmt.Errorf("update budget: %w", err)
			}
			printBudget(cmd.OutOrStdout(), "Budget updated", updated)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&clearScope, "clear-scope", false, "Make the budget apply to all usage")
	return cmd
}

func newBudgetDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a budget and its alert history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.tracker.Budgets().DeleteBudget(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete budget: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Budget %s deleted\n", args[0])
			return nil
		},
	}
}

func newBudgetListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List budgets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			budgets, err := a.tracker.Budgets().GetAllBudgets(cmd.Context())
			if err != nil {
				return fmt.Errorf("list budgets: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(budgets) == 0 {
				fmt.Fprintln(out, "No budgets configured. Use 'lcm budget create' to create one.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tNAME\tPERIOD\tLIMIT\tACTION\tSCOPE\tTHRESHOLDS\tENABLED\n")
			for _, b := range budgets {
				fmt.Fprintf(w, "%s\t%s\t%s\t$%.2f\t%s\t%s\t%s\t%t\n",
					b.ID, b.Name, b.Period, b.LimitUSD, b.Action,
					scopeLabel(b.Scope), formatThresholds(b.Thresholds), b.Enabled,
				)
			}
			return w.Flush()
		},
	}
}

func newBudgetStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show current budget spend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var statuses []model.BudgetStatus
			if len(args) == 1 {
				status, err := a.tracker.Budgets().GetBudgetStatus(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("budget status: %w", err)
				}
				statuses = append(statuses, *status)
			} else {
				if statuses, err = a.tracker.Budgets().GetAllStatuses(cmd.Context()); err != nil {
					return fmt.Errorf("budget status: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No budgets configured. Use 'lcm budget create' to create one.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "NAME\tPERIOD\tLIMIT\tSPENT\tREMAINING\tUSAGE\tWINDOW START\n")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t$%.2f\t$%.4f\t$%.4f\t%.1f%%%s\t%s\n",
					s.Budget.Name, s.Budget.Period, s.Budget.LimitUSD, s.CurrentSpend,
					s.Remaining, s.Percentage, statusLabel(s), s.WindowStart.Format("2006-01-02 15:04"),
				)
			}
			return w.Flush()
		},
	}
}

func printBudget(out io.Writer, title string, b *model.Budget) {
	fmt.Fprintf(out, "%s:\n", title)
	fmt.Fprintf(out, "  ID:          %s\n", b.ID)
	fmt.Fprintf(out, "  Name:        %s\n", b.Name)
	fmt.Fprintf(out, "  Limit:       $%.2f\n", b.LimitUSD)
	fmt.Fprintf(out, "  Period:      %s\n", b.Period)
	fmt.Fprintf(out, "  Action:      %s\n", b.Action)
	fmt.Fprintf(out, "  Thresholds:  %s\n", formatThresholds(b.Thresholds))
	fmt.Fprintf(out, "  Scope:       %s\n", scopeLabel(b.Scope))
	fmt.Fprintf(out, "  Enabled:     %t\n", b.Enabled)
}

func statusLabel(s model.BudgetStatus) string {
	switch {
	case !s.Budget.Enabled:
		return " [DISABLED]"
	case s.Exceeded:
		return " [EXCEEDED]"
	case len(s.ActiveThresholds) > 0:
		return fmt.Sprintf(" [%s]", strings.ToUpper(string(model.SeverityFor(s.ActiveThresholds[len(s.ActiveThresholds)-1]))))
	}
	return ""
}

func scopeLabel(scope *model.BudgetScope) string {
	if scope == nil {
		return "all"
	}
	return scope.Type + ":" + scope.ID
}

func formatThresholds(thresholds []float64) string {
	parts := make([]string, len(thresholds))
	for i, t := range thresholds {
		parts[i] = fmt.Sprintf("%g%%", t)
	}
	return strings.Join(parts, ",")
}

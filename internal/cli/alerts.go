package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/spf13/cobra"
)

func newAlertsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and acknowledge budget alerts",
	}
	cmd.AddCommand(newAlertsListCmd(opts), newAlertsAckCmd(opts))
	return cmd
}

func newAlertsListCmd(opts *rootOptions) *cobra.Command {
	var (
		budgetID string
		unacked  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			budgets := a.tracker.Budgets()
			var alerts []model.Alert
			switch {
			case budgetID != "":
				alerts, err = budgets.GetAlerts(cmd.Context(), budgetID)
			case unacked:
				alerts, err = budgets.GetUnacknowledgedAlerts(cmd.Context())
			default:
				alerts, err = budgets.GetAllAlerts(cmd.Context())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(alerts) == 0 {
				fmt.Fprintln(out, "No alerts.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tBUDGET ID\tBUDGET\tSEVERITY\tTHRESHOLD\tSPEND\tCREATED\tACK\n")
			for _, alert := range alerts {
				if budgetID != "" && unacked && alert.Acknowledged {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%g%%\t$%.4f\t%s\t%t\n",
					alert.ID, alert.BudgetID, alert.BudgetName, alert.Severity, alert.Threshold,
					alert.Spend, alert.CreatedAt.Format("2006-01-02 15:04"), alert.Acknowledged,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&budgetID, "budget", "b", "", "Only alerts of this budget id")
	cmd.Flags().BoolVar(&unacked, "unacked", false, "Only alerts not yet acknowledged")
	return cmd
}

func newAlertsAckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <budget-id> <alert-id>",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.tracker.Budgets().AcknowledgeAlert(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("acknowledge alert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %s acknowledged\n", args[1])
			return nil
		},
	}
}

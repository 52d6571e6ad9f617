package cli

import (
	"fmt"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/spf13/cobra"
)

// usageFlags are the unit counts shared by estimate and track.
type usageFlags struct {
	input        int64
	output       int64
	images       int64
	audioSeconds float64
}

func (f *usageFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.input, "input", 0, "Input units (tokens)")
	cmd.Flags().Int64Var(&f.output, "output", 0, "Output units (tokens)")
	cmd.Flags().Int64Var(&f.images, "images", 0, "Generated images")
	cmd.Flags().Float64Var(&f.audioSeconds, "audio-seconds", 0, "Seconds of audio processed")
}

func (f *usageFlags) quantity() model.UsageQuantity {
	return model.UsageQuantity{
		InputUnits:   f.input,
		OutputUnits:  f.output,
		Images:       f.images,
		AudioSeconds: f.audioSeconds,
	}
}

func newTrackCmd(opts *rootOptions) *cobra.Command {
	var (
		usage         usageFlags
		provider      string
		modelID       string
		scope         string
		correlationID string
		metadata      map[string]string
	)

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Record LLM API usage manually",
		Long:  `Record a single completed LLM call, price it, and evaluate the budgets it counts toward.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if scope == "" {
				scope = a.cfg.Defaults.Scope
			}

			record, alerts, err := a.tracker.Track(cmd.Context(), correlationID, scope, modelID, usage.quantity(), provider, metadata)
			if err != nil {
				return fmt.Errorf("track usage: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recorded usage:\n")
			fmt.Fprintf(out, "  ID:            %s\n", record.ID)
			fmt.Fprintf(out, "  Provider:      %s\n", record.Provider)
			fmt.Fprintf(out, "  Model:         %s\n", record.Model)
			fmt.Fprintf(out, "  Input units:   %d\n", record.Usage.InputUnits)
			fmt.Fprintf(out, "  Output units:  %d\n", record.Usage.OutputUnits)
			fmt.Fprintf(out, "  Cost:          $%.6f\n", record.TotalCost)
			fmt.Fprintf(out, "  Scope:         %s\n", record.ScopeID)
			for _, alert := range alerts {
				fmt.Fprintf(out, "  ALERT [%s]:   %s\n", alert.Severity, alert.Message)
			}
			return nil
		},
	}

	usage.register(cmd)
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "LLM provider (resolved from the catalog when empty)")
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model name (e.g., gpt-4o, claude-3-5-sonnet)")
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Scope id the usage belongs to (default from config)")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Id linking this record to the original request")
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "Metadata key=value pairs")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

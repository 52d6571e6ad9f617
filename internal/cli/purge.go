package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPurgeCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete usage records older than a given age",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("older-than") {
				olderThan = a.cfg.Retention.MaxAge
			}
			if olderThan <= 0 {
				return fmt.Errorf("purge: --older-than or retention.max_age must be positive")
			}

			removed, err := a.tracker.Purge(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d records older than %s\n", removed, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Maximum record age to keep (default retention.max_age)")
	return cmd
}

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sukirti1329/s3-system/internal/deadletter"
)

func newDeadLettersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dl"},
		Short:   "Inspect and requeue quarantined events",
		Long: `Quarantined events sit in the dead-letter table until an operator
requeues them. The deadletter-relay then republishes each requeued record to
its original topic with its original key and bytes.`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			store, closer, err := a.deadLetters(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			recs, err := store.List(cmd.Context(), deadletter.Filter{Status: deadletter.Status(status), Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(cmd, recs)
		},
	}
	list.Flags().String("status", string(deadletter.StatusQuarantined), "quarantined, requeued, replaying, replayed or empty for all")
	list.Flags().Int("limit", 50, "maximum rows")

	requeue := &cobra.Command{
		Use:   "requeue ID...",
		Short: "Mark quarantined records for replay",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closer, err := a.deadLetters(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			for _, id := range args {
				if err := store.Requeue(cmd.Context(), id); err != nil {
					return fmt.Errorf("requeue %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", id)
			}
			return nil
		},
	}

	cmd.AddCommand(list, requeue)
	return cmd
}

func (a *app) deadLetters(cmd *cobra.Command) (deadletter.Store, io.Closer, error) {
	u := a.v.GetString("database-url")
	if u == "" {
		return nil, nil, fmt.Errorf("--database-url or S3_DATABASE_URL is required")
	}
	return a.openStore(cmd.Context(), u)
}

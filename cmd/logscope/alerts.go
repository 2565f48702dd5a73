package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-logscope/internal/storage"
)

func newAlertsCmd(flags *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List the most recent alert decisions from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()
			if !a.cfg.Database.Enabled {
				return errors.New("database is disabled; set database.enabled to keep alert history")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			store, err := storage.OpenSQLite(ctx, a.cfg.Database.Path, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.RecentAlerts(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "DECIDED\tOUTCOME\tSEVERITY\tEVENTS\tKEY\tREASON\n")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.DecidedAt.Format(time.RFC3339), r.Outcome, r.Severity, humanize.Comma(int64(r.Events)), r.Key, r.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of decisions to show")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/entelliextract/intelliextract/internal/store"
)

func newRunsCmd() *cobra.Command {
	var (
		limit  int
		totals bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past runs",
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := buildApp(context.Background())
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := context.Background()

			if totals {
				stats, err := app.store.GetCumulativeStats(ctx, store.StatsFilter{})
				if err != nil {
					return fmt.Errorf("reading cumulative stats: %w", err)
				}

				if flagJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")

					return enc.Encode(stats)
				}

				fmt.Fprintf(os.Stdout, "Success %d, failed %d, total %d\n",
					stats.Success, stats.Failed, stats.Total)

				return nil
			}

			runs, err := app.store.GetAllRunsOrdered(ctx, limit, 0)
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(runs)
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.RunID,
					r.CaseID,
					r.Status,
					formatMillis(r.StartedAt),
					formatMillis(r.FinishedAt),
				})
			}

			printTable(os.Stdout, []string{"RUN", "CASE", "STATUS", "STARTED", "FINISHED"}, rows)

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list (0 = all)")
	cmd.Flags().BoolVar(&totals, "totals", false, "print cumulative extraction totals instead of the run list")

	return cmd
}

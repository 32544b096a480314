package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqi-predict-service/internal/domain"
)

func newResultsCommand(ctx *commandContext) *cobra.Command {
	var site string
	var limit int

	cmd := &cobra.Command{
		Use:   "results",
		Short: "List the latest prediction results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			st, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			results, err := st.LatestResults(cmd.Context(), site, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No results")
				return nil
			}
			fmt.Fprintln(out, renderResults(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&site, "site", "", "Only show results for this site")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")
	return cmd
}

func renderResults(results []domain.PredictionResult) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			strconv.FormatInt(r.ObservationID, 10),
			r.Site,
			r.Date.Format(time.DateOnly),
			strconv.FormatFloat(r.AQI, 'f', 1, 64),
			r.Level.Label(),
		})
	}
	return renderTable(
		[]string{"Observation", "Site", "Date", "AQI", "Category"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

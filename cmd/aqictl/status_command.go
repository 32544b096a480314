package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqi-predict-service/internal/adapter/store"
	"github.com/couchcryptid/aqi-predict-service/internal/domain"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending, handled and dead-lettered counts and results per tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStats(stats))
			return nil
		},
	}
}

func renderStats(s store.Stats) string {
	counts := renderTable(
		[]string{"Observations", "Count"},
		[][]string{
			{"Pending", strconv.Itoa(s.Pending)},
			{"Handled", strconv.Itoa(s.Handled)},
			{"Dead-lettered", strconv.Itoa(s.DeadLettered)},
		},
		[]columnAlignment{alignLeft, alignRight},
	)

	rows := make([][]string, 0, len(domain.Tiers)+1)
	for _, tier := range domain.Tiers {
		rows = append(rows, []string{strconv.Itoa(int(tier)), tier.Label(), strconv.Itoa(s.ByTier[tier])})
	}
	rows = append(rows, []string{"", "Total", strconv.Itoa(s.Results)})
	tiers := renderTable([]string{"Level", "Category", "Results"}, rows, []columnAlignment{alignRight, alignLeft, alignRight})

	return counts + "\n" + tiers
}

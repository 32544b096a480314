package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqi-predict-service/internal/app"
	"github.com/couchcryptid/aqi-predict-service/internal/domain"
	"github.com/couchcryptid/aqi-predict-service/internal/observability"
	"github.com/couchcryptid/aqi-predict-service/internal/pipeline"
)

func newRunOnceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run a single prediction cycle and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(runCtx, cfg, observability.NewMetrics(), ctx.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Runner.RunCycle(runCtx)
			out := cmd.OutOrStdout()
			switch {
			case errors.Is(err, domain.ErrNoWork):
				fmt.Fprintln(out, "No unprocessed observations")
				return nil
			case errors.Is(err, domain.ErrCycleBusy):
				fmt.Fprintln(out, "Another cycle is in progress")
				return nil
			}

			fmt.Fprintln(out, renderReport(report))
			return err
		},
	}
}

func renderReport(r pipeline.Report) string {
	rows := [][]string{
		{"Cycle", r.CycleID},
		{"Pending", strconv.Itoa(r.Pending)},
		{"Fetched", strconv.Itoa(r.Fetched)},
		{"Processed", strconv.Itoa(r.Processed)},
		{"Failed", strconv.Itoa(len(r.Failures))},
		{"Commits", strconv.Itoa(r.Commits)},
		{"Duration", r.Duration.Round(time.Millisecond).String()},
	}
	summary := renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
	if len(r.Failures) == 0 {
		return summary
	}

	failures := make([][]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		failures = append(failures, []string{strconv.FormatInt(f.ObservationID, 10), f.Stage, f.Cause.Error()})
	}
	return summary + "\n" + renderTable([]string{"Observation", "Stage", "Error"}, failures, []columnAlignment{alignRight})
}

package commands

import (
	"fmt"
	"internship-reporter/internal/components/chrono"
	"internship-reporter/internal/components/telemetry"
	"internship-reporter/internal/portal"
	"internship-reporter/internal/reporter"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var perfStatsInterval time.Duration

func init() {
	daemonCmd.Flags().DurationVar(&perfStatsInterval, "perf-stats", 0, "Record process statistics at this interval, 0 disables it.")
	rootCmd.AddCommand(daemonCmd)
}

type job struct {
	name string
	kind portal.Kind
	id   cron.EntryID
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Submits the weekly and monthly reports on their schedule until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := current.config

		orch, store, err := current.orchestrator()
		if err != nil {
			return err
		}
		defer store.Close()

		cronner := chrono.NewStandardCron(current.tel, current.clock.Location())
		run := func(kind portal.Kind) func() {
			return func() {
				out := orch.Run(ctx, kind)
				logOutcome(out)
			}
		}

		weekly, err := cronner.Cron(cfg.Schedule.Weekly, run(portal.KindWeekly))
		if err != nil {
			return fmt.Errorf("invalid schedule.weekly %q: %w", cfg.Schedule.Weekly, err)
		}
		monthlyKind := monthlyKind(cfg)
		monthly := cronner.Schedule(chrono.LastDayOfMonth{Hour: cfg.Schedule.MonthlyHour}, run(monthlyKind))

		jobs := []job{
			{name: "weekly", kind: portal.KindWeekly, id: weekly},
			{name: "monthly", kind: monthlyKind, id: monthly},
		}

		if perfStatsInterval > 0 {
			telemetry.InstrumentPerfStats(ctx, current.tel, perfStatsInterval)
		}

		cronner.Start()
		for _, j := range jobs {
			slog.Info(
				"scheduled job",
				"job", j.name,
				"kind", string(j.kind),
				"next", cronner.Next(j.id).Format(time.DateTime),
			)
		}

		<-ctx.Done()
		slog.Info("waiting for running cycles to finish...")
		cronner.Stop()
		return nil
	},
}

func logOutcome(out reporter.Outcome) {
	if out.Failed() {
		slog.Error(
			"cycle failed",
			"cycle", out.CycleID,
			"kind", string(out.Kind),
			"reached", string(out.Reached),
			"err", out.Err.Error(),
		)
		return
	}
	slog.Info(
		"cycle submitted",
		"cycle", out.CycleID,
		"kind", string(out.Kind),
		"title", out.Title,
		"took", out.FinishedAt.Sub(out.StartedAt).String(),
	)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/fatflowers/donations/internal/app"
	"github.com/fatflowers/donations/internal/app/scheduler"
	"github.com/fatflowers/donations/internal/app/service/reconciliation"
	"github.com/fatflowers/donations/internal/app/service/timeline"
	"github.com/fatflowers/donations/internal/models"
	"github.com/fatflowers/donations/pkg/config"
)

var errRunSkipped = errors.New("run skipped: lock held by another instance")

type deps struct {
	cfg   *config.Config
	coord *scheduler.Coordinator
	rec   *reconciliation.Reconciler
	mgr   *timeline.Manager
}

func rangeCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "range",
		Short: "Reconcile bank transactions booked between two dates (inclusive)",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, t, err := parseRange(from, to)
			if err != nil {
				return err
			}
			return execute(cmd, func(d deps) scheduler.Job {
				return scheduler.ReconcileRangeJob(d.cfg, d.rec, f, t)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "Last date, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func lastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Reconcile bank transactions since the statement cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(d deps) scheduler.Job {
				return scheduler.ReconcileLastJob(d.cfg, d.rec)
			})
		},
	}
}

func timelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeline",
		Short: "Run one pending-subscription timeline tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(d deps) scheduler.Job {
				return scheduler.TimelineJob(d.cfg, d.mgr)
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	f, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: %w", from, err)
	}
	t, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", to, err)
	}
	if t.Before(f) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return f, t, nil
}

// execute boots the non-serving part of the app, runs one job through the
// coordinator and prints its report as JSON.
func execute(cmd *cobra.Command, build func(deps) scheduler.Job) error {
	var d deps
	a := fx.New(
		app.Core,
		fx.NopLogger,
		fx.Populate(&d.cfg, &d.coord, &d.rec, &d.mgr),
	)
	startCtx, cancel := context.WithTimeout(cmd.Context(), app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx)
	}()

	report := d.coord.Execute(cmd.Context(), build(d), scheduler.TriggerCLI)
	return printReport(cmd.OutOrStdout(), report)
}

func printReport(w io.Writer, report *scheduler.RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	switch report.Outcome {
	case models.JobRunOutcomeCompleted:
		return nil
	case models.JobRunOutcomeSkipped:
		return errRunSkipped
	default:
		return fmt.Errorf("run %s %s: %s", report.RunID, report.Outcome, report.Error)
	}
}

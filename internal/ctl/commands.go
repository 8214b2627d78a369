package ctl

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"aggronation/pkg/version"
)

func newTriggerCmd(opts *options) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Run one fetch cycle over all enabled sources, or one source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.token == "" {
				return errors.New("no trigger secret: pass --token or set INGEST_TRIGGER_SECRET")
			}
			ctx, cancel := opts.context()
			defer cancel()

			resp, err := opts.client().Trigger(ctx, opts.token, source)
			if err != nil {
				return err
			}
			if opts.json() {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tSTATUS\tITEMS\tERROR")
			for _, r := range resp.Results {
				name := r.SourceName
				if name == "" {
					name = r.SourceID
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, r.Status, r.Items, r.Error)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			s := resp.Summary
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d sources: %d ok, %d failed, %d skipped, %d items in %dms\n",
				s.TotalSources, s.Succeeded, s.Failed, s.Skipped, s.TotalItems, s.DurationMs)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "only trigger this source id")
	return cmd
}

func newEventsCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent ingestion events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()

			list, err := opts.client().RecentEvents(ctx, limit)
			if err != nil {
				return err
			}
			if opts.json() {
				return printJSON(cmd.OutOrStdout(), list)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Events (%d)\n", len(list))
			for _, evt := range list {
				fmt.Fprintf(cmd.OutOrStdout(), " - %s %s/%s source=%s\n",
					evt.Timestamp.Format(time.RFC3339), evt.Type, evt.Action, evt.SourceID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events")
	return cmd
}

func newSourcesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List sources with their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()

			list, err := opts.client().Sources(ctx)
			if err != nil {
				return err
			}
			if opts.json() {
				return printJSON(cmd.OutOrStdout(), list)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tENABLED\tINTERVAL\tFETCHED\tERRORS\tLAST ERROR")
			for _, src := range list {
				lastErr := ""
				if src.Health.LastError != nil {
					lastErr = *src.Health.LastError
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%dm\t%d\t%d\t%s\n",
					src.ID, src.Name, src.Type, src.Enabled, src.FetchIntervalMinutes,
					src.Health.TotalFetched, src.Health.ConsecutiveErrors, lastErr)
			}
			return w.Flush()
		},
	}
}

func newSchedulerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Show armed timers (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()

			state, err := opts.client().SchedulerState(ctx, opts.adminToken)
			if err != nil {
				return err
			}
			return printSchedulerState(cmd, opts, state)
		},
	}
}

func newRescheduleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reschedule",
		Short: "Re-derive every timer from current source configuration (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.adminToken == "" {
				return errors.New("no admin token: pass --admin-token or set ADMIN_TOKEN")
			}
			ctx, cancel := opts.context()
			defer cancel()

			state, err := opts.client().Reschedule(ctx, opts.adminToken)
			if err != nil {
				return err
			}
			return printSchedulerState(cmd, opts, state)
		},
	}
}

func printSchedulerState(cmd *cobra.Command, opts *options, state SchedulerState) error {
	if opts.json() {
		return printJSON(cmd.OutOrStdout(), state)
	}
	if state.Started {
		fmt.Fprintln(cmd.OutOrStdout(), "Scheduler was stopped and has been started")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Scheduler running: %t, %d timers\n", state.Running, len(state.Sources))
	if len(state.SourceTypes) > 0 {
		types := make([]string, len(state.SourceTypes))
		for i, t := range state.SourceTypes {
			types[i] = string(t)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Adapters: %s\n", strings.Join(types, ", "))
	}
	for _, s := range state.Sources {
		fmt.Fprintf(cmd.OutOrStdout(), " - %s (%s) every %s, next %s\n",
			s.SourceName, s.SourceID, s.Interval, s.NextRun.Format(time.RFC3339))
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "aggroctl %s\n", version.String())
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"adjudicator/internal/domain"
	"adjudicator/internal/engine"
	"adjudicator/internal/repo"
	adjudicatorsdk "adjudicator/sdk/go"
)

func persistCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "persist <task-dir>",
		Short: "Normalize and store the verdict.json of a task",
		Long:  "Persist accepts verdicts from any evaluator. Units, metrics and the session row are written in one transaction.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.PersistTask(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				summary := map[string]any{
					"task_id":  out.TaskID,
					"strategy": out.Strategy,
					"units":    len(out.Units),
					"metrics":  len(out.Metrics),
					"status":   out.Session.Status,
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), summary)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "persisted %s: %d units, %d metrics via %s (status %s)\n",
					out.TaskID, len(out.Units), len(out.Metrics), out.Strategy, out.Session.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor-id", "", "actor recorded on events (default claim actor)")
	return cmd
}

// remoteClient returns a dashboard client when --server is set.
func remoteClient() *adjudicatorsdk.Client {
	base := viper.GetString("server")
	if base == "" {
		return nil
	}
	c := adjudicatorsdk.New(base)
	c.BearerToken = viper.GetString("token")
	c.APIKey = viper.GetString("api-key")
	return c
}

func unitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "units <task-id>",
		Short: "List stored unit records for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				res, err := c.Units(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				units := make([]domain.UnitRecord, 0, len(res.Items))
				for _, u := range res.Items {
					units = append(units, domain.UnitRecord(u))
				}
				return printUnits(cmd.OutOrStdout(), units)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				units, err := e.Repo.ListUnits(ctx, args[0])
				if err != nil {
					return err
				}
				return printUnits(cmd.OutOrStdout(), units)
			})
		},
	}
}

func printUnits(w io.Writer, units []domain.UnitRecord) error {
	if viper.GetBool("json") {
		return printJSON(w, units)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Unit", "Type", "Claimed", "Verified", "Reason"})
	verified := 0
	for _, u := range units {
		if u.Verified {
			verified++
		}
		tw.AppendRow(table.Row{u.UnitID, u.UnitType, yesNo(u.Claimed), yesNo(u.Verified), u.Reason})
	}
	tw.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d/%d", verified, len(units)), ""})
	tw.Render()
	return nil
}

func metricsCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "metrics <task-id>",
		Short: "Show the latest metrics for a task, or one key's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				res, err := c.Metrics(cmd.Context(), args[0], key)
				if err != nil {
					return err
				}
				metrics := make([]domain.MetricRecord, 0, len(res))
				for _, m := range res {
					metrics = append(metrics, domain.MetricRecord(m))
				}
				return printMetrics(cmd.OutOrStdout(), metrics)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					metrics []domain.MetricRecord
					err     error
				)
				if key != "" {
					metrics, err = e.Repo.MetricHistory(ctx, args[0], key)
				} else {
					metrics, err = e.Repo.LatestMetrics(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printMetrics(cmd.OutOrStdout(), metrics)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "show every recorded value of this key")
	return cmd
}

func printMetrics(w io.Writer, metrics []domain.MetricRecord) error {
	if viper.GetBool("json") {
		return printJSON(w, metrics)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Key", "Value", "Recorded"})
	for _, m := range metrics {
		tw.AppendRow(table.Row{m.Key, strconv.FormatFloat(m.Value, 'f', -1, 64), m.CreatedAt})
	}
	tw.Render()
	return nil
}

func sessionsCmd() *cobra.Command {
	var status, taskType, cursor string
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List evaluated tasks, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				page, err := c.Sessions(cmd.Context(), adjudicatorsdk.SessionQuery{Status: status, Type: taskType, Limit: limit, Cursor: cursor})
				if err != nil {
					return err
				}
				sessions := make([]domain.Session, 0, len(page.Items))
				for _, s := range page.Items {
					sessions = append(sessions, domain.Session(s))
				}
				return printSessions(cmd.OutOrStdout(), sessions, page.NextCursor)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.SessionFilters{Status: status, Type: taskType, Limit: limit}
				sessions, err := e.Repo.ListSessions(ctx, f)
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), sessions, "")
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pass, fail or inconclusive")
	cmd.Flags().StringVar(&taskType, "type", "", "task type filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().StringVar(&cursor, "cursor", "", "page cursor (with --server)")
	return cmd
}

func printSessions(w io.Writer, sessions []domain.Session, next string) error {
	if viper.GetBool("json") {
		return printJSON(w, map[string]any{"items": sessions, "next_cursor": next})
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Task", "Status", "Type", "Profile", "Gate", "Units", "Checks failed", "Updated"})
	for _, s := range sessions {
		tw.AppendRow(table.Row{
			s.TaskID, s.Status, s.Type, s.Profile, s.GateType,
			fmt.Sprintf("%d/%d", s.UnitsVerified, s.UnitsClaimed),
			fmt.Sprintf("%d/%d", s.ChecksFailed, s.ChecksTotal),
			s.UpdatedAt,
		})
	}
	tw.Render()
	if next != "" {
		fmt.Fprintf(w, "next cursor: %s\n", next)
	}
	return nil
}

func eventsCmd() *cobra.Command {
	var evtType string
	var n int
	cmd := &cobra.Command{
		Use:   "events <task-id>",
		Short: "Tail the audit events of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := remoteClient(); c != nil {
				page, err := c.EventsPage(cmd.Context(), args[0], evtType, n, "")
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(page.Items))
				for _, evt := range page.Items {
					rows = append(rows, table.Row{evt.ID, evt.TS, evt.Type, evt.ActorID, compactJSON(evt.Payload)})
				}
				return printEvents(cmd.OutOrStdout(), page.Items, rows)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.Repo.LatestEvents(ctx, repo.EventFilters{TaskID: args[0], Type: evtType, Limit: n})
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(evts))
				for _, evt := range evts {
					rows = append(rows, table.Row{evt.ID, evt.TS, evt.Type, evt.ActorID, evt.Payload})
				}
				return printEvents(cmd.OutOrStdout(), evts, rows)
			})
		},
	}
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func printEvents(w io.Writer, raw any, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(w, raw)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "TS", "Type", "Actor", "Payload"})
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

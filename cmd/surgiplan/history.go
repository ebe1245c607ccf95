package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"surgiplan/internal/app"
	"surgiplan/internal/engine"
	"surgiplan/internal/report"
)

func historyCmd() *cobra.Command {
	h := &cobra.Command{
		Use:   "history",
		Short: "Browse stored analysis runs",
	}
	h.AddCommand(historyListCmd())
	h.AddCommand(historyShowCmd())
	h.AddCommand(historyExportCmd())
	h.AddCommand(historyEventsCmd())
	h.AddCommand(historyDeleteCmd())
	return h
}

func historyListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				items, err := a.Engine.ListAnalyses(cmd.Context(), limit, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Source", "Records", "Findings", "Critical", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Source, s.RecordCount, s.FindingCount, s.CriticalCount, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}

func historyShowCmd() *cobra.Command {
	var timeline, markdown bool
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show the findings of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				run, err := a.Engine.GetAnalysis(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if viper.GetBool("json") {
					return printJSON(out, run)
				}
				if markdown {
					fmt.Fprint(out, report.Markdown(run))
					return nil
				}
				fmt.Fprintf(out, "%s  %s  %d cases\n", run.CreatedAt, run.Source, run.RecordCount)
				fmt.Fprintf(out, "policy: overload %s %d, urgent days %v\n\n",
					run.Policy.OverloadComparison, run.Policy.OverloadThreshold, run.Policy.UrgentDays)
				printResult(out, fileResult{File: run.Source, Analysis: &run}, false, timeline)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&timeline, "timeline", false, "print each room's cases in start order")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "print the markdown report")
	return cmd
}

func historyExportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export ID",
		Short: "Export a run as xlsx, pdf, txt or md",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				data, err := a.Engine.Export(cmd.Context(), args[0], engine.ExportFormat(format))
				if err != nil {
					return err
				}
				if out == "" {
					out = fmt.Sprintf("analysis-%s.%s", args[0], format)
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "wrote", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "xlsx", "xlsx, pdf, txt or md")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default analysis-<id>.<format>)")
	return cmd
}

func historyEventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events [ID]",
		Short: "Audit events, for one run or all runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return withApp(func(a *app.App) error {
				evts, err := a.Engine.History(cmd.Context(), n, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"TS", "Type", "Run", "Actor", "Payload"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func historyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				if err := a.Engine.DeleteAnalysis(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
				return nil
			})
		},
	}
}

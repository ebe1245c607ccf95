package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"surgiplan/internal/app"
	"surgiplan/internal/loader"
)

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Profile a schedule file before analysing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := loader.Inspect(filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if viper.GetBool("json") {
				return printJSON(out, p)
			}
			fmt.Fprintf(out, "%d rows, %d columns, %d duplicate rows\n", p.Rows, p.Columns, p.DuplicateRows)
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"Column", "Empty cells", "Recognised"})
			unknown := map[string]bool{}
			for _, name := range p.Unrecognized {
				unknown[name] = true
			}
			for _, c := range p.EmptyCells {
				tw.AppendRow(table.Row{c.Name, c.EmptyCells, !unknown[c.Name]})
			}
			tw.Render()
			return nil
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary FILE",
		Short: "Print the schedule summary the assistant receives as context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withApp(func(a *app.App) error {
				s, err := a.Engine.SummarizeFile(filepath.Base(args[0]), data)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), map[string]string{"summary": s})
				}
				fmt.Fprint(cmd.OutOrStdout(), s)
				return nil
			}, noStorage)
		},
	}
}

func rankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rank FILE",
		Short: "List cases by ethical priority score",
		Long:  "Scores every case from its urgency, specialty, socioeconomic stratum and waiting time, highest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withApp(func(a *app.App) error {
				records, err := a.Engine.Load(filepath.Base(args[0]), data)
				if err != nil {
					return err
				}
				ranked := a.Engine.Rank(records)
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), ranked)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"#", "ID", "Procedure", "Specialty", "Priority", "Stratum", "Wait days", "Score"})
				for i, r := range ranked {
					tw.AppendRow(table.Row{i + 1, r.ID, r.Procedure, r.Specialty, r.Priority, r.Stratum, r.WaitDays, r.Score})
				}
				tw.Render()
				return nil
			}, noStorage)
		},
	}
}

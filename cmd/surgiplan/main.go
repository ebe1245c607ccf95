package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"surgiplan/internal/app"
	"surgiplan/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error:"), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "surgiplan",
		Short: "Surgical schedule conflict and ethics checker",
		Long: `SurgiPlan checks a surgical schedule (CSV or XLSX) for
- staff double-bookings: a surgeon or instrument nurse in two overlapping cases (critical),
- urgent cases placed outside the dedicated urgent slots (warning),
- operating rooms carrying more cases than the configured threshold (warning).

Runs are stored in the workspace database (.surgiplan/surgiplan.db) so they can be
listed, exported and discussed with the assistant later.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if viper.GetBool("no-color") || viper.GetBool("json") {
				color.NoColor = true
			}
		},
	}
	addPersistentFlags(root)
	root.AddCommand(analyzeCmd())
	root.AddCommand(inspectCmd())
	root.AddCommand(summaryCmd())
	root.AddCommand(rankCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(askCmd())
	root.AddCommand(configCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(serveCmd())
	return root
}

func initConfig() {
	viper.SetEnvPrefix("SURGIPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	root.PersistentFlags().StringP("config", "c", "", "config file (default: <workspace>/surgiplan.yml, then surgiplan.toml)")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().Bool("no-color", false, "disable colored output")
	root.PersistentFlags().String("actor-id", "local", "actor recorded in the audit log")
	root.PersistentFlags().String("log-level", "", "override logging.level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "config", "json", "no-color", "actor-id", "log-level"} {
		_ = viper.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}
}

// --- helpers ---

// withApp opens the workspace. mutate may adjust the resolved config first.
func withApp(fn func(*app.App) error, mutate ...func(*config.Config)) error {
	cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return err
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	for _, m := range mutate {
		m(cfg)
	}
	a, err := app.Open(app.Options{
		Workspace: viper.GetString("workspace"),
		ActorID:   viper.GetString("actor-id"),
		Config:    cfg,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// noStorage is for commands that never read or write runs.
func noStorage(c *config.Config) { c.Storage.Enabled = false }

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"surgiplan/internal/app"
	"surgiplan/internal/assistant"
	"surgiplan/internal/engine"
)

func askCmd() *cobra.Command {
	var (
		question, file, analysisID, sessionID string
		end, suggestions                      bool
	)
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask the assistant about a schedule",
		Long: `Sends a question to the configured assistant. The schedule summary of --file,
or of the stored run --analysis, is sent along as context. Pass --session to
continue an earlier conversation; its id is printed after every answer.`,
		Example: `  surgiplan ask --file programacion.xlsx -q "¿Qué cirujanos tienen más conflictos?"
  surgiplan ask --session 3f2c... -q "¿Y en el quirófano 2?"
  surgiplan ask --session 3f2c... --end`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if suggestions {
				for _, q := range assistant.SuggestedQuestions() {
					fmt.Fprintln(out, "-", q)
				}
				return nil
			}
			if strings.TrimSpace(question) == "" && !end {
				return fmt.Errorf("--question is required")
			}
			return withApp(func(a *app.App) error {
				svc := a.Engine.NewAssistant()
				ctx := cmd.Context()
				if end {
					if sessionID == "" {
						return fmt.Errorf("--end needs --session")
					}
					if err := svc.EndSession(ctx, sessionID); err != nil {
						return err
					}
					fmt.Fprintln(out, "ended", sessionID)
					return nil
				}
				q := engine.Question{SessionID: sessionID, Text: question, AnalysisID: analysisID}
				if file != "" {
					data, err := os.ReadFile(file)
					if err != nil {
						return err
					}
					if q.Summary, err = a.Engine.SummarizeFile(filepath.Base(file), data); err != nil {
						return err
					}
				}
				if q.SessionID == "" {
					sess, err := svc.StartSession(ctx)
					if err != nil {
						return err
					}
					q.SessionID = sess.ID
				}
				ans, err := a.Engine.Ask(ctx, svc, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out, ans)
				}
				fmt.Fprintln(out, ans.Reply)
				fmt.Fprintf(out, "\nsession: %s\n", ans.SessionID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&question, "question", "q", "", "question text")
	cmd.Flags().StringVar(&file, "file", "", "schedule file whose summary is sent as context")
	cmd.Flags().StringVar(&analysisID, "analysis", "", "stored run whose summary is sent as context")
	cmd.Flags().StringVar(&sessionID, "session", "", "continue this session")
	cmd.Flags().BoolVar(&end, "end", false, "end the session given by --session")
	cmd.Flags().BoolVar(&suggestions, "suggestions", false, "print suggested questions and exit")
	cmd.MarkFlagsMutuallyExclusive("file", "analysis")
	return cmd
}

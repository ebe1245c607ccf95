package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"surgiplan/internal/app"
	"surgiplan/internal/config"
	"surgiplan/internal/detect"
	"surgiplan/internal/domain"
	"surgiplan/internal/engine"
	"surgiplan/internal/report"
)

type fileResult struct {
	File     string           `json:"file"`
	Analysis *domain.Analysis `json:"analysis,omitempty"`
	Error    string           `json:"error,omitempty"`
	err      error
}

func analyzeCmd() *cobra.Command {
	var (
		timeline, noStore, strict  bool
		xlsxOut, pdfOut, reportOut string
	)
	cmd := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Detect conflicts and ethical violations in schedule files",
		Long: `Loads each CSV or XLSX schedule, runs detection and prints one line per finding.
Several files are analysed concurrently and independently; a broken file does not stop the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 && (xlsxOut != "" || pdfOut != "" || reportOut != "") {
				return fmt.Errorf("--xlsx, --pdf and --report take a single input file")
			}
			disableStore := func(c *config.Config) {
				if noStore {
					c.Storage.Enabled = false
				}
			}
			return withApp(func(a *app.App) error {
				results := analyzeFiles(cmd, a.Engine, args)
				out := cmd.OutOrStdout()
				if viper.GetBool("json") {
					if err := printJSON(out, results); err != nil {
						return err
					}
				} else {
					for _, r := range results {
						printResult(out, r, len(args) > 1, timeline)
					}
				}
				if len(args) == 1 && results[0].err == nil {
					if err := writeExports(a.Engine, *results[0].Analysis, xlsxOut, pdfOut, reportOut); err != nil {
						return err
					}
				}
				return verdict(results, strict)
			}, disableStore)
		},
	}
	cmd.Flags().BoolVar(&timeline, "timeline", false, "print each room's cases in start order")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not record the run in the workspace database")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any critical finding is reported")
	cmd.Flags().StringVar(&xlsxOut, "xlsx", "", "write findings and the ranked schedule to this XLSX file")
	cmd.Flags().StringVar(&pdfOut, "pdf", "", "write a PDF report to this file")
	cmd.Flags().StringVar(&reportOut, "report", "", "write a markdown (.md) or text report to this file")
	return cmd
}

// analyzeFiles runs every file on its own goroutine and keeps input order.
func analyzeFiles(cmd *cobra.Command, e engine.Engine, files []string) []fileResult {
	results := make([]fileResult, len(files))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(runtime.NumCPU())
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			res := fileResult{File: path}
			data, err := os.ReadFile(path)
			if err == nil {
				var a domain.Analysis
				if a, err = e.AnalyzeFile(ctx, filepath.Base(path), data); err == nil {
					res.Analysis = &a
				}
			}
			if err != nil {
				res.err, res.Error = err, err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func printResult(w io.Writer, r fileResult, withHeader, timeline bool) {
	if withHeader {
		fmt.Fprintf(w, "== %s ==\n", r.File)
	}
	if r.err != nil {
		printError(w, r.err)
		return
	}
	a := r.Analysis
	if len(a.Findings) == 0 {
		fmt.Fprintln(w, color.New(color.FgGreen).Sprint(report.NoFindings))
	}
	for _, f := range a.Findings {
		fmt.Fprintln(w, severityColor(f.Severity).Sprint(report.Line(f)))
	}
	if timeline {
		fmt.Fprintln(w)
		_ = report.Timeline(w, a.Records)
	}
	if withHeader {
		fmt.Fprintln(w)
	}
}

func printError(w io.Writer, err error) {
	label := color.New(color.FgRed, color.Bold).Sprint("error:")
	var invalid *detect.InvalidScheduleError
	if !errors.As(err, &invalid) {
		fmt.Fprintln(w, label, err)
		return
	}
	fmt.Fprintf(w, "%s invalid schedule, %d problems:\n", label, len(invalid.Problems))
	for _, p := range invalid.Problems {
		fmt.Fprintf(w, "  - %s\n", p)
	}
}

func severityColor(s domain.Severity) *color.Color {
	if s == domain.SeverityCritical {
		return color.New(color.FgRed, color.Bold)
	}
	return color.New(color.FgYellow)
}

func writeExports(e engine.Engine, a domain.Analysis, xlsxOut, pdfOut, reportOut string) error {
	targets := []struct {
		path   string
		format engine.ExportFormat
	}{
		{xlsxOut, engine.ExportXLSX},
		{pdfOut, engine.ExportPDF},
		{reportOut, reportFormat(reportOut)},
	}
	for _, t := range targets {
		if t.path == "" {
			continue
		}
		data, err := e.Render(a, t.format)
		if err != nil {
			return err
		}
		if err := os.WriteFile(t.path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", t.path, err)
		}
	}
	return nil
}

func reportFormat(path string) engine.ExportFormat {
	if strings.EqualFold(filepath.Ext(path), ".md") {
		return engine.ExportMarkdown
	}
	return engine.ExportText
}

// verdict turns per-file failures, and critical findings under --strict, into
// the command's exit status.
func verdict(results []fileResult, strict bool) error {
	failed, critical := 0, 0
	for _, r := range results {
		if r.err != nil {
			failed++
			continue
		}
		critical += r.Analysis.CriticalCount()
	}
	switch {
	case failed == 1 && len(results) == 1:
		return fmt.Errorf("%s could not be analysed", results[0].File)
	case failed > 0:
		return fmt.Errorf("%d of %d files could not be analysed", failed, len(results))
	case strict && critical > 0:
		return fmt.Errorf("%d critical findings", critical)
	}
	return nil
}

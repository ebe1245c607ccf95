// Package report renders detection results for people: plain text, markdown,
// a per-room timeline, a plain-text summary for the assistant, and XLSX and
// PDF exports.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"surgiplan/internal/domain"
)

// NoFindings is printed when a pass finds nothing.
const NoFindings = "No conflicts or ethical violations detected."

const clock = "2006-01-02 15:04"

// Line renders one finding as a single report line.
func Line(f domain.Finding) string {
	return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(f.Severity)), f.Kind, f.Message)
}

// Text writes one line per finding in detection order, or the success line.
func Text(w io.Writer, findings []domain.Finding) error {
	if len(findings) == 0 {
		_, err := fmt.Fprintln(w, NoFindings)
		return err
	}
	for _, f := range findings {
		if _, err := fmt.Fprintln(w, Line(f)); err != nil {
			return err
		}
	}
	return nil
}

// Table renders findings as a go-pretty table. Style and output format are
// left to the caller.
func Table(findings []domain.Finding) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"#", "Severity", "Kind", "Records", "Message"})
	for i, f := range findings {
		tw.AppendRow(table.Row{i + 1, f.Severity, f.Kind, InvolvedIDs(f), f.Message})
	}
	return tw
}

// Markdown is the report format stored next to a run and served by the API.
func Markdown(a domain.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Schedule analysis %s\n\n", a.ID)
	fmt.Fprintf(&b, "- Source: %s\n- Records: %d\n- Findings: %d\n- Created: %s\n\n", a.Source, a.RecordCount, len(a.Findings), a.CreatedAt)
	if len(a.Findings) == 0 {
		b.WriteString(NoFindings + "\n")
		return b.String()
	}
	b.WriteString(Table(a.Findings).RenderMarkdown())
	b.WriteString("\n")
	return b.String()
}

// InvolvedIDs lists the record ids of a finding, or the room for overloads.
func InvolvedIDs(f domain.Finding) string {
	if len(f.RecordIDs) == 0 && f.Room != "" {
		return "room " + f.Room
	}
	return strings.Join(f.RecordIDs, ", ")
}

// Timeline prints each room's cases in start order, a text stand-in for a
// Gantt chart.
func Timeline(w io.Writer, records []domain.Record) error {
	byRoom := map[string][]domain.Record{}
	var rooms []string
	for _, r := range records {
		if _, ok := byRoom[r.Room]; !ok {
			rooms = append(rooms, r.Room)
		}
		byRoom[r.Room] = append(byRoom[r.Room], r)
	}
	sort.Strings(rooms)
	for _, room := range rooms {
		cases := byRoom[room]
		sort.SliceStable(cases, func(i, j int) bool {
			if !cases[i].Start.Equal(cases[j].Start) {
				return cases[i].Start.Before(cases[j].Start)
			}
			return domain.CompareIDs(cases[i].ID, cases[j].ID) < 0
		})
		if _, err := fmt.Fprintf(w, "%s\n", room); err != nil {
			return err
		}
		for _, c := range cases {
			_, err := fmt.Fprintf(w, "  %s - %s  #%s %s (%s / %s) [%s]\n",
				c.Start.Format(clock), c.End().Format("15:04"), c.ID, c.Procedure, c.Surgeon, c.InstrumentNurse, c.Priority)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

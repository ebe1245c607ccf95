package report

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"surgiplan/internal/domain"
)

// PDF writes the textual report of a run as an A4 document.
func PDF(w io.Writer, a domain.Analysis) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Schedule analysis "+a.ID, true)
	pdf.SetAutoPageBreak(true, 15)
	// core fonts are cp1252; translate so accented names print correctly
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 15)
	pdf.CellFormat(0, 10, tr("Surgical schedule analysis"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, line := range []string{
		"Run: " + a.ID,
		"Source: " + a.Source,
		fmt.Sprintf("Records: %d", a.RecordCount),
		fmt.Sprintf("Findings: %d", len(a.Findings)),
		"Created: " + a.CreatedAt,
	} {
		pdf.CellFormat(0, 6, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	if len(a.Findings) == 0 {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.SetTextColor(0, 110, 0)
		pdf.CellFormat(0, 8, NoFindings, "", 1, "L", false, 0, "")
		return pdf.Output(w)
	}

	for i, f := range a.Findings {
		pdf.SetFont("Helvetica", "B", 10)
		if f.Severity == domain.SeverityCritical {
			pdf.SetTextColor(170, 0, 0)
		} else {
			pdf.SetTextColor(170, 100, 0)
		}
		pdf.CellFormat(0, 6, fmt.Sprintf("%d. %s (%s)", i+1, f.Kind, f.Severity), "", 1, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, tr(f.Message), "", "L", false)
		pdf.Ln(2)
	}
	return pdf.Output(w)
}

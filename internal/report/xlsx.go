package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"surgiplan/internal/detect"
	"surgiplan/internal/domain"
)

const (
	FindingsSheet = "Hallazgos"
	ScheduleSheet = "Cronograma"
)

var findingsHeader = []string{"Kind", "Severity", "Message", "Involved IDs"}

var scheduleHeader = []string{
	"ID", "Paciente", "Procedimiento", "Especialidad", "Duración_horas", "Fecha", "Hora_inicio",
	"Quirófano", "Prioridad", "Paciente_Estrato", "Demora_Días", "Cirujano", "Instrumentador", "Puntaje_Ético",
}

// XLSX builds a workbook with the findings and, when ranked is not empty, the
// schedule in ethical-score order.
func XLSX(findings []domain.Finding, ranked []detect.Ranked) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(FindingsSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	rows := make([][]any, 0, len(findings))
	for _, fd := range findings {
		rows = append(rows, []any{string(fd.Kind), string(fd.Severity), fd.Message, InvolvedIDs(fd)})
	}
	if err := writeSheet(f, FindingsSheet, findingsHeader, rows, []float64{20, 12, 100, 20}, headerStyle); err != nil {
		return nil, err
	}

	if len(ranked) > 0 {
		if _, err := f.NewSheet(ScheduleSheet); err != nil {
			return nil, fmt.Errorf("create sheet: %w", err)
		}
		rows = rows[:0]
		for _, r := range ranked {
			rows = append(rows, []any{
				r.ID, r.Patient, r.Procedure, r.Specialty, r.DurationHours,
				r.Start.Format("2006-01-02"), r.Start.Format("15:04"), r.Room, string(r.Priority),
				r.Stratum, r.WaitDays, r.Surgeon, r.InstrumentNurse, r.Score,
			})
		}
		if err := writeSheet(f, ScheduleSheet, scheduleHeader, rows, nil, headerStyle); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any, widths []float64, headerStyle int) error {
	for col, h := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("set header style: %w", err)
		}
		width := 16.0
		if col < len(widths) {
			width = widths[col]
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, name, name, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

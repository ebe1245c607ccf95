package loader

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrUnreadable wraps every failure to parse the file itself.
	ErrUnreadable = errors.New("unreadable schedule file")
)

// Table is a spreadsheet as read from disk: one header row and the data rows
// below it, every row padded to the header width.
type Table struct {
	Header []string
	Rows   [][]string
	// Lines holds the 1-based source row (xlsx) or line (csv) of each row.
	Lines []int
}

// DetectFormat picks the reader from the file extension, falling back to
// sniffing the zip signature that every xlsx file starts with.
func DetectFormat(name string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".xls", ".ods", ".numbers":
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
	}
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return FormatXLSX, nil
	}
	return FormatCSV, nil
}

// ReadTable reads a CSV or the first sheet of an XLSX workbook.
func ReadTable(name string, data []byte) (Table, error) {
	format, err := DetectFormat(name, data)
	if err != nil {
		return Table{}, err
	}
	var (
		rows  [][]string
		lines []int
	)
	switch format {
	case FormatXLSX:
		rows, err = readXLSX(data)
		lines = make([]int, len(rows))
		for i := range lines {
			lines[i] = i + 1
		}
	default:
		rows, lines, err = readCSV(data)
	}
	if err != nil {
		return Table{}, err
	}
	return newTable(rows, lines)
}

func newTable(rows [][]string, lines []int) (Table, error) {
	// leading blank lines are common in exported sheets
	for len(rows) > 0 && blank(rows[0]) {
		rows, lines = rows[1:], lines[1:]
	}
	if len(rows) == 0 {
		return Table{}, fmt.Errorf("%w: file has no header row", ErrUnreadable)
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	for len(header) > 0 && header[len(header)-1] == "" {
		header = header[:len(header)-1]
	}
	t := Table{Header: header, Rows: make([][]string, 0, len(rows)-1), Lines: lines[1:]}
	for _, row := range rows[1:] {
		padded := make([]string, len(header))
		for i := range padded {
			if i < len(row) {
				padded[i] = strings.TrimSpace(row[i])
			}
		}
		t.Rows = append(t.Rows, padded)
	}
	return t, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readCSV(data []byte) ([][]string, []int, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	var (
		rows  [][]string
		lines []int
	)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: read csv: %w", ErrUnreadable, err)
		}
		line, _ := r.FieldPos(0)
		rows = append(rows, rec)
		lines = append(lines, line)
	}
	return rows, lines, nil
}

// sniffDelimiter handles the semicolon separated files that spreadsheet
// programs write in locales using a decimal comma.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %w", ErrUnreadable, err)
	}
	defer f.Close()
	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrUnreadable)
	}
	// raw values keep dates as serial numbers instead of locale formatted text
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %w", ErrUnreadable, sheet, err)
	}
	return rows, nil
}

func (t Table) line(i int) int {
	if i < len(t.Lines) {
		return t.Lines[i]
	}
	return i + 2
}

package loader

import (
	"strings"

	"surgiplan/internal/textnorm"
)

type ColumnProfile struct {
	Name       string `json:"name"`
	EmptyCells int    `json:"empty_cells"`
}

// Profile is a quick look at an uploaded file before it is analysed.
type Profile struct {
	Rows          int             `json:"rows"`
	Columns       int             `json:"columns"`
	ColumnNames   []string        `json:"column_names"`
	DuplicateRows int             `json:"duplicate_rows"`
	EmptyCells    []ColumnProfile `json:"empty_cells"`
	// Unrecognized lists header labels that do not map to any record field.
	Unrecognized []string `json:"unrecognized,omitempty"`
}

// ProfileTable counts rows, duplicate rows and empty cells per column. A
// duplicate is a row identical to an earlier one in every cell.
func ProfileTable(t Table) Profile {
	p := Profile{
		Rows:        len(t.Rows),
		Columns:     len(t.Header),
		ColumnNames: append([]string(nil), t.Header...),
		EmptyCells:  make([]ColumnProfile, len(t.Header)),
	}
	for i, h := range t.Header {
		p.EmptyCells[i].Name = h
		if _, ok := aliases[textnorm.Fold(h)]; !ok {
			p.Unrecognized = append(p.Unrecognized, h)
		}
	}
	seen := make(map[string]struct{}, len(t.Rows))
	for _, row := range t.Rows {
		key := strings.Join(row, "\x1f")
		if _, dup := seen[key]; dup {
			p.DuplicateRows++
		} else {
			seen[key] = struct{}{}
		}
		for i, cell := range row {
			if cell == "" {
				p.EmptyCells[i].EmptyCells++
			}
		}
	}
	return p
}

// Inspect reads a file and profiles it without converting any record.
func Inspect(name string, data []byte) (Profile, error) {
	t, err := ReadTable(name, data)
	if err != nil {
		return Profile{}, err
	}
	return ProfileTable(t), nil
}

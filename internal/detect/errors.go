package detect

import (
	"fmt"
	"strings"
)

// Problem describes one bad input value. Row is 1-based and only set when the
// record came from a spreadsheet row.
type Problem struct {
	RecordID string `json:"record_id,omitempty"`
	Row      int    `json:"row,omitempty"`
	Field    string `json:"field"`
	Reason   string `json:"reason"`
}

func (p Problem) String() string {
	var where []string
	if p.Row > 0 {
		where = append(where, fmt.Sprintf("row %d", p.Row))
	}
	if p.RecordID != "" {
		where = append(where, fmt.Sprintf("record %s", p.RecordID))
	}
	if len(where) == 0 {
		return fmt.Sprintf("%s: %s", p.Field, p.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", strings.Join(where, " "), p.Field, p.Reason)
}

// InvalidScheduleError aborts a detection pass. It lists every problem found
// so the caller can fix the file in one go.
type InvalidScheduleError struct {
	Problems []Problem
}

func (e *InvalidScheduleError) Error() string {
	switch len(e.Problems) {
	case 0:
		return "invalid schedule"
	case 1:
		return "invalid schedule: " + e.Problems[0].String()
	}
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("invalid schedule (%d problems): %s", len(e.Problems), strings.Join(parts, "; "))
}

// ConfigurationError reports an unusable detection policy.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Package loader turns CSV and XLSX surgical schedules into domain records.
//
// Header labels are matched without regard to case, accents or separators,
// so "Duración_horas", "duracion horas" and "Duration hours" all name the
// same column. Every unreadable value is collected and reported together as
// a *detect.InvalidScheduleError; no partial record list is ever returned.
package loader

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"surgiplan/internal/detect"
	"surgiplan/internal/domain"
	"surgiplan/internal/textnorm"
)

type field string

const (
	fieldID              field = "id"
	fieldPatient         field = "patient"
	fieldProcedure       field = "procedure"
	fieldSpecialty       field = "specialty"
	fieldDuration        field = "duration_hours"
	fieldDate            field = "date"
	fieldStart           field = "start_time"
	fieldRoom            field = "room"
	fieldPriority        field = "priority"
	fieldSurgeon         field = "surgeon"
	fieldInstrumentNurse field = "instrument_nurse"
	fieldAssistantNurse  field = "assistant_nurse"
	fieldStratum         field = "stratum"
	fieldWaitDays        field = "wait_days"
)

var requiredFields = []field{
	fieldID, fieldProcedure, fieldDuration, fieldDate, fieldStart,
	fieldRoom, fieldPriority, fieldSurgeon, fieldInstrumentNurse,
}

// aliases are stored folded.
var aliases = map[string]field{
	"id": fieldID, "codigo": fieldID, "case id": fieldID, "caso": fieldID,
	"paciente": fieldPatient, "patient": fieldPatient,
	"procedimiento": fieldProcedure, "procedure": fieldProcedure, "cirugia": fieldProcedure,
	"especialidad": fieldSpecialty, "specialty": fieldSpecialty, "speciality": fieldSpecialty,
	"duracion horas": fieldDuration, "duracion": fieldDuration, "duration hours": fieldDuration,
	"duration": fieldDuration, "horas": fieldDuration,
	"fecha": fieldDate, "date": fieldDate,
	"hora inicio": fieldStart, "hora": fieldStart, "inicio": fieldStart, "start time": fieldStart,
	"start":     fieldStart,
	"quirofano": fieldRoom, "sala": fieldRoom, "room": fieldRoom, "operating room": fieldRoom, "or": fieldRoom,
	"prioridad": fieldPriority, "priority": fieldPriority,
	"cirujano": fieldSurgeon, "surgeon": fieldSurgeon,
	"instrumentador": fieldInstrumentNurse, "instrumentadora": fieldInstrumentNurse,
	"instrumentista": fieldInstrumentNurse, "instrument nurse": fieldInstrumentNurse,
	"scrub nurse": fieldInstrumentNurse,
	"ayudante":    fieldAssistantNurse, "asistente": fieldAssistantNurse, "assistant": fieldAssistantNurse,
	"assistant nurse":  fieldAssistantNurse,
	"paciente estrato": fieldStratum, "estrato": fieldStratum, "stratum": fieldStratum,
	"demora dias": fieldWaitDays, "demora": fieldWaitDays, "wait days": fieldWaitDays,
	"waiting days": fieldWaitDays,
}

// Options control how cell values are interpreted.
type Options struct {
	// Location is the timezone dates and start times are read in. Nil means UTC.
	Location *time.Location
}

// Load reads a schedule file and converts every data row into a record.
func Load(name string, data []byte, opts Options) ([]domain.Record, error) {
	t, err := ReadTable(name, data)
	if err != nil {
		return nil, err
	}
	return Records(t, opts)
}

type columns struct {
	index map[field]int
	label map[field]string
}

func (c columns) labelOf(f field) string {
	if l, ok := c.label[f]; ok {
		return l
	}
	return string(f)
}

func mapColumns(header []string) (columns, []detect.Problem) {
	c := columns{index: map[field]int{}, label: map[field]string{}}
	var problems []detect.Problem
	for i, h := range header {
		f, ok := aliases[textnorm.Fold(h)]
		if !ok {
			continue
		}
		if _, dup := c.index[f]; dup {
			problems = append(problems, detect.Problem{Row: 1, Field: h, Reason: fmt.Sprintf("column %q appears twice", f)})
			continue
		}
		c.index[f] = i
		c.label[f] = h
	}
	for _, f := range requiredFields {
		if _, ok := c.index[f]; !ok {
			problems = append(problems, detect.Problem{Row: 1, Field: string(f), Reason: "required column is missing"})
		}
	}
	return c, problems
}

// Records converts a table. Problems carry the row number shown by a
// spreadsheet program; blank rows are skipped.
func Records(t Table, opts Options) ([]domain.Record, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	cols, problems := mapColumns(t.Header)
	if len(problems) > 0 {
		return nil, &detect.InvalidScheduleError{Problems: problems}
	}

	records := make([]domain.Record, 0, len(t.Rows))
	for i, row := range t.Rows {
		if blank(row) {
			continue
		}
		rp := rowParser{row: row, num: t.line(i), cols: cols}
		rec := domain.Record{
			ID:              rp.text(fieldID),
			Patient:         rp.text(fieldPatient),
			Procedure:       rp.text(fieldProcedure),
			Specialty:       rp.text(fieldSpecialty),
			Room:            rp.text(fieldRoom),
			Surgeon:         rp.text(fieldSurgeon),
			InstrumentNurse: rp.text(fieldInstrumentNurse),
			AssistantNurse:  rp.text(fieldAssistantNurse),
		}
		rp.id = rec.ID
		rec.DurationHours = rp.number(fieldDuration)
		rec.Priority = rp.priority()
		rec.Start = rp.start(loc)
		rec.Stratum = rp.optionalInt(fieldStratum)
		rec.WaitDays = rp.optionalInt(fieldWaitDays)
		problems = append(problems, rp.problems...)
		records = append(records, rec)
	}
	if len(problems) > 0 {
		return nil, &detect.InvalidScheduleError{Problems: problems}
	}
	return records, nil
}

var floatID = regexp.MustCompile(`^(\d+)\.0+$`)

type rowParser struct {
	row      []string
	num      int
	id       string
	cols     columns
	problems []detect.Problem
}

func (p *rowParser) text(f field) string {
	i, ok := p.cols.index[f]
	if !ok {
		return ""
	}
	v := p.row[i]
	// integer ids come back from xlsx as "12" but from some csv exports as "12.0"
	if f == fieldID {
		if m := floatID.FindStringSubmatch(v); m != nil {
			return m[1]
		}
	}
	return v
}

func (p *rowParser) fail(f field, format string, args ...any) {
	p.problems = append(p.problems, detect.Problem{
		RecordID: p.id,
		Row:      p.num,
		Field:    p.cols.labelOf(f),
		Reason:   fmt.Sprintf(format, args...),
	})
}

func (p *rowParser) number(f field) float64 {
	raw := p.text(f)
	if raw == "" {
		p.fail(f, "value is empty")
		return 0
	}
	v, err := parseDecimal(raw)
	if err != nil {
		p.fail(f, "%q is not a number", raw)
		return 0
	}
	return v
}

func (p *rowParser) optionalInt(f field) int {
	raw := p.text(f)
	if raw == "" {
		return 0
	}
	v, err := parseDecimal(raw)
	if err != nil || v != math.Trunc(v) {
		p.fail(f, "%q is not a whole number", raw)
		return 0
	}
	return int(v)
}

func (p *rowParser) priority() domain.Priority {
	raw := p.text(fieldPriority)
	pr, err := domain.ParsePriority(raw)
	if err != nil {
		p.fail(fieldPriority, "unknown priority %q", raw)
		return ""
	}
	return pr
}

func (p *rowParser) start(loc *time.Location) time.Time {
	rawDate, rawTime := p.text(fieldDate), p.text(fieldStart)
	y, m, d, ok := parseDate(rawDate)
	if !ok {
		p.fail(fieldDate, "%q is not a date (want YYYY-MM-DD or DD/MM/YYYY)", rawDate)
	}
	sec, tok := parseClock(rawTime)
	if !tok {
		p.fail(fieldStart, "%q is not a time of day (want HH:MM)", rawTime)
	}
	if !ok || !tok {
		return time.Time{}
	}
	return time.Date(y, m, d, 0, 0, sec, 0, loc)
}

func parseDecimal(s string) (float64, error) {
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006",
	"2/1/2006",
	"2006/01/02",
}

func parseDate(s string) (int, time.Month, int, bool) {
	if s == "" {
		return 0, 0, 0, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Year(), t.Month(), t.Day(), true
		}
	}
	// xlsx date cells arrive as serial day numbers
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial >= 1 {
		serial = math.Round(serial*86400) / 86400
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return t.Year(), t.Month(), t.Day(), true
		}
	}
	return 0, 0, 0, false
}

var clockLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM"}

// parseClock returns seconds since midnight.
func parseClock(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*3600 + t.Minute()*60 + t.Second(), true
		}
	}
	// xlsx time cells arrive as a fraction of a day
	if frac, err := strconv.ParseFloat(s, 64); err == nil && frac >= 0 && frac < 1 {
		return int(math.Round(frac * 86400)), true
	}
	return 0, false
}

package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"surgiplan/internal/detect"
	"surgiplan/internal/domain"
)

func sampleRecords() []domain.Record {
	day := time.Date(2025, 6, 24, 0, 0, 0, 0, time.UTC)
	return []domain.Record{
		{ID: "1", Patient: "Ana", Procedure: "Apendicectomía", Specialty: "Cirugía General", DurationHours: 2, Start: day.Add(8 * time.Hour), Room: "Q1", Priority: domain.PriorityHigh, Surgeon: "Dr. Pérez", InstrumentNurse: "Inst. Gómez", Stratum: 2, WaitDays: 12},
		{ID: "2", Patient: "Luis", Procedure: "Bypass", Specialty: "Cardiología", DurationHours: 3, Start: day.Add(9 * time.Hour), Room: "Q2", Priority: domain.PriorityUrgent, Surgeon: "Dr. Pérez", InstrumentNurse: "Inst. Ruiz", Stratum: 1},
		{ID: "3", Patient: "Marta", Procedure: "Mastectomía", Specialty: "Oncología", DurationHours: 1.5, Start: day.Add(31 * time.Hour), Room: "Q1", Priority: domain.PriorityMedium, Surgeon: "Dr. López", InstrumentNurse: "Inst. Gómez"},
	}
}

func sampleFindings(t *testing.T, records []domain.Record) []domain.Finding {
	t.Helper()
	d, err := detect.New(detect.DefaultPolicy())
	require.NoError(t, err)
	findings, err := d.Detect(records)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	return findings
}

func TestTextOneLinePerFinding(t *testing.T) {
	findings := sampleFindings(t, sampleRecords())
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, findings))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "[CRITICAL] staff_overlap: "))
	assert.True(t, strings.HasPrefix(lines[1], "[WARNING] misrouted_urgency: "))
}

func TestTextSuccessLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, nil))
	assert.Equal(t, NoFindings+"\n", buf.String())
}

func TestMarkdown(t *testing.T) {
	records := sampleRecords()
	a := domain.Analysis{ID: "run-1", Source: "p.csv", RecordCount: len(records), Findings: sampleFindings(t, records)}
	md := Markdown(a)
	assert.Contains(t, md, "# Schedule analysis run-1")
	assert.Contains(t, md, "| # | Severity | Kind | Records | Message |")
	assert.Contains(t, md, "| 1, 2 |")

	empty := Markdown(domain.Analysis{ID: "run-2"})
	assert.Contains(t, empty, NoFindings)
}

func TestInvolvedIDsForRoomOverload(t *testing.T) {
	f := domain.Finding{Kind: domain.KindRoomOverload, RecordIDs: []string{}, Room: "Q3", Count: 4}
	assert.Equal(t, "room Q3", InvolvedIDs(f))
}

func TestTimelineGroupsByRoom(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Timeline(&buf, sampleRecords()))
	out := buf.String()
	assert.Equal(t, "Q1\n"+
		"  2025-06-24 08:00 - 10:00  #1 Apendicectomía (Dr. Pérez / Inst. Gómez) [high]\n"+
		"  2025-06-25 07:00 - 08:30  #3 Mastectomía (Dr. López / Inst. Gómez) [medium]\n"+
		"Q2\n"+
		"  2025-06-24 09:00 - 12:00  #2 Bypass (Dr. Pérez / Inst. Ruiz) [urgent]\n", out)
}

func TestSummaryAggregates(t *testing.T) {
	records := sampleRecords()
	s := Summary(records, sampleFindings(t, records))
	assert.Contains(t, s, "Surgical schedule: 3 cases, 6.5 scheduled hours.")
	assert.Contains(t, s, "Cases per room: Q1=2, Q2=1.")
	assert.Contains(t, s, "Cases per surgeon: Dr. López=1, Dr. Pérez=2.")
	assert.Contains(t, s, "Cases per priority: high=1, medium=1, urgent=1.")
	assert.Contains(t, s, "Findings per kind: misrouted_urgency=1, staff_overlap=1.")
	assert.NotContains(t, s, "Marta")
}

func TestXLSXExport(t *testing.T) {
	records := sampleRecords()
	findings := sampleFindings(t, records)
	data, err := XLSX(findings, detect.DefaultScoring().Rank(records))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{FindingsSheet, ScheduleSheet}, f.GetSheetList())

	rows, err := f.GetRows(FindingsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Kind", "Severity", "Message", "Involved IDs"}, rows[0])
	assert.Equal(t, "staff_overlap", rows[1][0])
	assert.Equal(t, "1, 2", rows[1][3])

	schedule, err := f.GetRows(ScheduleSheet)
	require.NoError(t, err)
	require.Len(t, schedule, 4)
	// Bypass: urgent +3, cardiology +2, stratum 1 +1
	assert.Equal(t, "2", schedule[1][0])
	assert.Equal(t, "6", schedule[1][len(scheduleHeader)-1])
}

func TestXLSXWithoutSchedule(t *testing.T) {
	data, err := XLSX(nil, nil)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{FindingsSheet}, f.GetSheetList())
}

func TestPDF(t *testing.T) {
	records := sampleRecords()
	var buf bytes.Buffer
	a := domain.Analysis{ID: "run-1", Source: "programación.xlsx", RecordCount: 3, Findings: sampleFindings(t, records)}
	require.NoError(t, PDF(&buf, a))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))

	buf.Reset()
	require.NoError(t, PDF(&buf, domain.Analysis{ID: "run-2"}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority accepts the English enum values and the Spanish labels used by
// hospital spreadsheets, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "baja":
		return PriorityLow, nil
	case "medium", "media":
		return PriorityMedium, nil
	case "high", "alta":
		return PriorityHigh, nil
	case "urgent", "urgente":
		return PriorityUrgent, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// Record is one surgical case.
type Record struct {
	ID              string    `json:"id"`
	Patient         string    `json:"patient"`
	Procedure       string    `json:"procedure"`
	Specialty       string    `json:"specialty"`
	DurationHours   float64   `json:"duration_hours"`
	Start           time.Time `json:"start" format:"date-time"`
	Room            string    `json:"room"`
	Priority        Priority  `json:"priority" enum:"low,medium,high,urgent"`
	Surgeon         string    `json:"surgeon"`
	InstrumentNurse string    `json:"instrument_nurse"`
	AssistantNurse  string    `json:"assistant_nurse,omitempty"`
	Stratum         int       `json:"stratum,omitempty"`
	WaitDays        int       `json:"wait_days,omitempty"`
}

// End is Start plus the case duration.
func (r Record) End() time.Time {
	return r.Start.Add(time.Duration(r.DurationHours * float64(time.Hour)))
}

type FindingKind string

const (
	KindStaffOverlap     FindingKind = "staff_overlap"
	KindMisroutedUrgency FindingKind = "misrouted_urgency"
	KindRoomOverload     FindingKind = "room_overload"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Severity is implied by kind.
func (k FindingKind) Severity() Severity {
	if k == KindStaffOverlap {
		return SeverityCritical
	}
	return SeverityWarning
}

// Resources that can collide in a staff_overlap finding.
const (
	ResourceSurgeon         = "surgeon"
	ResourceInstrumentNurse = "instrument_nurse"
)

type Finding struct {
	Kind      FindingKind `json:"kind" enum:"staff_overlap,misrouted_urgency,room_overload"`
	Severity  Severity    `json:"severity" enum:"critical,warning"`
	RecordIDs []string    `json:"record_ids"`
	Resources []string    `json:"resources,omitempty"`
	Room      string      `json:"room,omitempty"`
	Count     int         `json:"count,omitempty"`
	Message   string      `json:"message"`
}

// PolicySnapshot records the rules a run was evaluated with.
type PolicySnapshot struct {
	OverloadThreshold  int      `json:"overload_threshold"`
	OverloadComparison string   `json:"overload_comparison"`
	UrgentDays         []string `json:"urgent_days"`
}

// Analysis is one stored detection pass.
type Analysis struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	RecordCount int            `json:"record_count"`
	Findings    []Finding      `json:"findings"`
	Records     []Record       `json:"records,omitempty"`
	Policy      PolicySnapshot `json:"policy"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

// CriticalCount counts staff_overlap findings.
func (a Analysis) CriticalCount() int {
	n := 0
	for _, f := range a.Findings {
		if f.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// AnalysisSummary is the list view of a stored run.
type AnalysisSummary struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	RecordCount   int    `json:"record_count"`
	FindingCount  int    `json:"finding_count"`
	CriticalCount int    `json:"critical_count"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type AssistantSession struct {
	ID           string `json:"id"`
	ThreadID     string `json:"thread_id,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	LastActiveAt string `json:"last_active_at" format:"date-time"`
	EndedAt      string `json:"ended_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// CompareIDs orders record ids naturally: numeric ids come first in numeric
// order, every other id follows in lexical order.
func CompareIDs(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
